// Package ingest reads server logfiles into the record store. Ingestion
// is resumable: a byte cursor per source file means already-consumed
// bytes are never re-read, and the cursor only advances in the same
// transaction as the batch it covers, so a crash can at worst re-parse
// a batch that gid dedup then swallows.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"golang.org/x/sync/errgroup"

	"scoreboard/internal/logparse"
	"scoreboard/internal/store"
)

const (
	// DefaultBatchSize is how many games are stored per transaction /
	// cursor advance.
	DefaultBatchSize = 500
	// SourceWorkers bounds parallelism across sources. Work within one
	// source stays serial so its cursors advance in order.
	SourceWorkers = 4

	// Bloom filter sizing for the per-run seen-gid pre-filter.
	expectedGames     = 5_000_000
	falsePositiveRate = 0.001
)

var (
	logfileRegex   = regexp.MustCompile(`logfile|allgames`)
	milestoneRegex = regexp.MustCompile(`milestone`)
)

// Stats counts what one ingestion run did. Fields are updated
// atomically by source workers.
type Stats struct {
	Files       int64
	Lines       int64
	NewGames    int64
	Duplicates  int64
	ParseErrors int64
	Rejected    int64
}

// Ingestor streams logfiles from a directory tree into the store.
type Ingestor struct {
	store     *store.Store
	batchSize int

	// seen pre-filters gids already inserted this run, saving duplicate
	// round trips when sources ship overlapping or concatenated files.
	// A bloom positive is confirmed against the store before a line is
	// dropped, so false positives cannot lose games.
	seenMu sync.Mutex
	seen   *bloom.BloomFilter
}

// New creates an ingestor over the given store.
func New(st *store.Store) *Ingestor {
	return &Ingestor{
		store:     st,
		batchSize: DefaultBatchSize,
		seen:      bloom.NewWithEstimates(expectedGames, falsePositiveRate),
	}
}

// Run ingests every source under logDir, which is laid out as
// logDir/{source}/{logfile}. Sources run in parallel; per-record
// problems are counted, only store-level failures abort the run.
func (in *Ingestor) Run(ctx context.Context, logDir string) (*Stats, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return nil, fmt.Errorf("ingest: read %s: %w", logDir, err)
	}

	stats := &Stats{}
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(SourceWorkers)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		src := e.Name()
		dir := filepath.Join(logDir, src)
		g.Go(func() error {
			return in.ingestSource(ctx, src, dir, stats)
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	log.Printf("[Ingest] Done: %d files, %d lines, %d new games, %d dups, %d parse errors, %d rejected in %s",
		atomic.LoadInt64(&stats.Files), atomic.LoadInt64(&stats.Lines),
		atomic.LoadInt64(&stats.NewGames), atomic.LoadInt64(&stats.Duplicates),
		atomic.LoadInt64(&stats.ParseErrors), atomic.LoadInt64(&stats.Rejected),
		time.Since(start).Round(time.Millisecond))
	return stats, nil
}

func (in *Ingestor) ingestSource(ctx context.Context, src, dir string, stats *Stats) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("ingest: read source %s: %w", src, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		info, err := e.Info()
		if err != nil {
			return fmt.Errorf("ingest: stat %s/%s: %w", src, name, err)
		}
		// Zero-byte files are download poison markers; skip without
		// creating a cursor entry.
		if info.Size() == 0 {
			continue
		}
		if milestoneRegex.MatchString(name) {
			continue // milestones aren't scored
		}
		if !logfileRegex.MatchString(name) {
			log.Printf("[Ingest] Skipping unknown file %s/%s", src, name)
			continue
		}
		if err := in.ingestFile(ctx, src, filepath.Join(dir, name), name, stats); err != nil {
			return err
		}
	}
	return nil
}

func (in *Ingestor) ingestFile(ctx context.Context, src, path, name string, stats *Stats) error {
	offset, err := in.store.Cursor(ctx, src, name)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return fmt.Errorf("ingest: seek %s to %d: %w", path, offset, err)
		}
		log.Printf("[Ingest] Reading %s/%s from byte %d", src, name, offset)
	} else {
		log.Printf("[Ingest] Reading %s/%s", src, name)
	}

	atomic.AddInt64(&stats.Files, 1)
	consumed := offset
	var batch []*store.Game

	flush := func() error {
		inserted, err := in.store.InsertBatch(ctx, src, name, batch, consumed)
		if err != nil {
			return err
		}
		atomic.AddInt64(&stats.NewGames, inserted)
		atomic.AddInt64(&stats.Duplicates, int64(len(batch))-inserted)
		batch = batch[:0]
		return nil
	}

	r := bufio.NewReaderSize(f, 1<<20)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("ingest: read %s: %w", path, err)
		}
		atEOF := err == io.EOF
		if atEOF && len(line) > 0 && line[len(line)-1] != '\n' {
			// A trailing partial line is a server mid-write; leave the
			// cursor in front of it so the next run picks it up whole.
			break
		}
		if len(line) > 0 {
			consumed += int64(len(line))
			in.handleLine(ctx, line, src, &batch, stats)
			if len(batch) >= in.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if atEOF {
			break
		}
	}
	return flush()
}

func (in *Ingestor) handleLine(ctx context.Context, line, src string, batch *[]*store.Game, stats *Stats) {
	atomic.AddInt64(&stats.Lines, 1)

	fields, err := logparse.ParseLine(line)
	if err != nil {
		atomic.AddInt64(&stats.ParseErrors, 1)
		log.Printf("[Ingest] Dropping line from %s: %v", src, err)
		return
	}
	if fields == nil {
		return // blank line
	}

	game, err := logparse.Normalize(fields, src)
	if err != nil {
		atomic.AddInt64(&stats.ParseErrors, 1)
		log.Printf("[Ingest] Dropping line from %s: %v", src, err)
		return
	}
	if game == nil {
		atomic.AddInt64(&stats.Rejected, 1)
		return
	}

	in.seenMu.Lock()
	seenBefore := in.seen.TestAndAddString(game.GID)
	in.seenMu.Unlock()
	if seenBefore {
		// Probably a duplicate from earlier this run; confirm before
		// dropping since the filter can report false positives.
		exists, err := in.store.GameExists(ctx, game.GID)
		if err == nil && exists {
			atomic.AddInt64(&stats.Duplicates, 1)
			return
		}
	}
	*batch = append(*batch, game)
}
