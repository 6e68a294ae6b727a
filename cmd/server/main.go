package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	websiteDir := flag.String("website-dir", "./website", "Directory with website data to serve")
	flag.Parse()

	for _, path := range []string{".env", "../.env"} {
		if err := godotenv.Load(path); err == nil {
			fmt.Printf("Loaded .env from: %s\n", path)
			break
		}
	}

	if _, err := os.Stat(*websiteDir); err != nil {
		log.Fatalf("Website directory %s not found: %v", *websiteDir, err)
	}

	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.Handle("/", http.FileServer(http.Dir(*websiteDir)))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	fmt.Printf("Server starting on http://localhost:%s (serving %s)\n", port, *websiteDir)
	log.Fatal(http.ListenAndServe(":"+port, nil))
}
