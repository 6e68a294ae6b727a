// Package store is the durable layer for the scoreboard: game records,
// ingestion cursors, player aggregates, global highscores and streaks.
// It runs on SQLite by default and PostgreSQL when configured, through a
// single database/sql implementation.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Backend selects the database driver.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// ErrNotFound is returned by point lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// Store wraps the database handle. All methods are safe for concurrent
// use; writers that must be atomic run inside WithTx.
type Store struct {
	db      *sql.DB
	backend Backend
}

// Open connects to the database, applies pragmas and creates the schema.
// For sqlite, dsn is a file path (or ":memory:" for tests); for postgres
// it is a DSN/URL.
func Open(backend Backend, dsn string) (*Store, error) {
	var driver string
	switch backend {
	case BackendSQLite:
		driver = "sqlite"
	case BackendPostgres:
		driver = "pgx"
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", backend, err)
	}

	s := &Store{db: db, backend: backend}

	if backend == BackendSQLite {
		// A single connection serialises writers and keeps an in-memory
		// database from vanishing between pool connections.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("store: %s: %w", pragma, err)
			}
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS games (
		gid          TEXT PRIMARY KEY,
		player       TEXT NOT NULL,
		player_key   TEXT NOT NULL,
		source       TEXT NOT NULL,
		version      TEXT NOT NULL,
		species      TEXT NOT NULL,
		species_name TEXT NOT NULL DEFAULT '',
		background   TEXT NOT NULL,
		god          TEXT NOT NULL,
		branch       TEXT NOT NULL DEFAULT '',
		xl           INTEGER NOT NULL DEFAULT 0,
		ac           INTEGER NOT NULL DEFAULT 0,
		ev           INTEGER NOT NULL DEFAULT 0,
		sh           INTEGER NOT NULL DEFAULT 0,
		turns        INTEGER NOT NULL DEFAULT 0,
		duration     INTEGER NOT NULL DEFAULT 0,
		runes        INTEGER NOT NULL DEFAULT 0,
		score        BIGINT NOT NULL DEFAULT 0,
		start_time   BIGINT NOT NULL,
		end_time     BIGINT NOT NULL,
		potions_used INTEGER NOT NULL DEFAULT -1,
		scrolls_used INTEGER NOT NULL DEFAULT -1,
		zig_deepest  INTEGER NOT NULL DEFAULT 0,
		tmsg         TEXT NOT NULL DEFAULT '',
		ktyp         TEXT NOT NULL,
		scored       BOOLEAN NOT NULL DEFAULT FALSE,
		streak_id    TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_games_scored ON games (scored)`,
	`CREATE INDEX IF NOT EXISTS idx_games_player ON games (player_key)`,
	`CREATE INDEX IF NOT EXISTS idx_games_end ON games (end_time)`,
	`CREATE TABLE IF NOT EXISTS source_cursors (
		source       TEXT NOT NULL,
		file         TEXT NOT NULL,
		bytes_parsed BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (source, file)
	)`,
	`CREATE TABLE IF NOT EXISTS players (
		name_key TEXT PRIMARY KEY,
		name     TEXT NOT NULL,
		data     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS global_highscores (
		category TEXT NOT NULL,
		key      TEXT NOT NULL,
		gid      TEXT NOT NULL,
		score    BIGINT NOT NULL,
		end_time BIGINT NOT NULL,
		PRIMARY KEY (category, key)
	)`,
	`CREATE TABLE IF NOT EXISTS streaks (
		id         TEXT PRIMARY KEY,
		player     TEXT NOT NULL,
		player_key TEXT NOT NULL,
		active     BOOLEAN NOT NULL,
		wins       INTEGER NOT NULL DEFAULT 0,
		start_time BIGINT NOT NULL DEFAULT 0,
		end_time   BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_streaks_player ON streaks (player_key)`,
	`CREATE TABLE IF NOT EXISTS blacklist (
		account_key TEXT PRIMARY KEY,
		reason      TEXT NOT NULL DEFAULT ''
	)`,
}

func (s *Store) createSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}
	return nil
}

// q rewrites ?-style placeholders to $n for postgres. Queries in this
// package are written once with ? and rebound per backend.
func (s *Store) q(query string) string {
	if s.backend != BackendPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// WithTx runs fn inside a transaction, rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// PlayerKey is the canonical (case-insensitive) key for a player name.
func PlayerKey(name string) string {
	return strings.ToLower(name)
}

// AccountKey identifies a player's account on one source server.
func AccountKey(name, source string) string {
	return strings.ToLower(name) + "@" + strings.ToLower(source)
}
