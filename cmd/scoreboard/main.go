package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"scoreboard/internal/export"
	"scoreboard/internal/ingest"
	"scoreboard/internal/scoring"
	"scoreboard/internal/sources"
	"scoreboard/internal/store"
)

func main() {
	logDir := flag.String("logdir", "./logs", "Directory holding per-source logfiles")
	database := flag.String("database", "sqlite", "Database backend: sqlite or postgres")
	databasePath := flag.String("database-path", "./scoreboard.db", "SQLite database file")
	manifest := flag.String("sources", "./sources.yml", "Server manifest file")
	websiteDir := flag.String("website-dir", "./website", "Output directory for website data")
	servers := flag.String("servers", "", "Comma-separated source whitelist for downloads")
	skipDownload := flag.Bool("skip-download", false, "Skip downloading logfiles")
	skipScoring := flag.Bool("skip-scoring", false, "Skip the scoring stage")
	skipWebsite := flag.Bool("skip-website", false, "Skip writing website data")
	rebuild := flag.Bool("rebuild", false, "Wipe derived state and rescore every game")
	rescorePlayer := flag.String("rescore-player", "", "Wipe and rescore a single player")
	flag.Parse()

	// Load .env - try a few locations so the tool works from subdirs.
	for _, path := range []string{".env", "../.env"} {
		if err := godotenv.Load(path); err == nil {
			fmt.Printf("Loaded .env from: %s\n", path)
			break
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(*database, *databasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	startTime := time.Now()

	if !*skipDownload {
		fmt.Println("\n========================================")
		fmt.Println("STEP 1: DOWNLOADING LOGFILES")
		fmt.Println("========================================")

		srcs, err := sources.Load(*manifest)
		if err != nil {
			log.Fatalf("Failed to load source manifest: %v", err)
		}
		var only []string
		if *servers != "" {
			only = strings.Split(*servers, ",")
		}
		if err := sources.NewDownloader().FetchAll(ctx, srcs, *logDir, only); err != nil {
			log.Fatalf("Download failed: %v", err)
		}
	}

	fmt.Println("\n========================================")
	fmt.Println("STEP 2: INGESTING LOGFILES")
	fmt.Println("========================================")

	if _, err := ingest.New(st).Run(ctx, *logDir); err != nil {
		log.Fatalf("Ingestion failed: %v", err)
	}

	if !*skipScoring {
		fmt.Println("\n========================================")
		fmt.Println("STEP 3: SCORING GAMES")
		fmt.Println("========================================")

		mode := scoring.Incremental()
		switch {
		case *rebuild:
			mode = scoring.Full()
		case *rescorePlayer != "":
			mode = scoring.SinglePlayer(*rescorePlayer)
		}
		if _, err := scoring.New(st).ScoreAll(ctx, mode); err != nil {
			log.Fatalf("Scoring failed: %v", err)
		}
	}

	if !*skipWebsite {
		fmt.Println("\n========================================")
		fmt.Println("STEP 4: WRITING WEBSITE DATA")
		fmt.Println("========================================")

		if err := export.Write(ctx, st, *websiteDir); err != nil {
			log.Fatalf("Export failed: %v", err)
		}
	}

	fmt.Println("\n========================================")
	fmt.Println("PIPELINE COMPLETE")
	fmt.Println("========================================")
	fmt.Printf("Total time: %s\n", time.Since(startTime).Round(time.Second))
}

// openStore maps the CLI database selection onto a store backend. The
// postgres DSN comes from DATABASE_URL so credentials stay out of argv.
func openStore(backend, sqlitePath string) (*store.Store, error) {
	switch backend {
	case "sqlite":
		return store.Open(store.BackendSQLite, sqlitePath)
	case "postgres":
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			return nil, fmt.Errorf("DATABASE_URL must be set for --database=postgres")
		}
		return store.Open(store.BackendPostgres, dsn)
	default:
		return nil, fmt.Errorf("unknown database backend %q", backend)
	}
}
