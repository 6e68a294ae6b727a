package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Cursor returns how many bytes of a source file have been ingested.
// Unknown files start at 0.
func (s *Store) Cursor(ctx context.Context, source, file string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT bytes_parsed FROM source_cursors WHERE source = ? AND file = ?`),
		source, file).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: cursor %s/%s: %w", source, file, err)
	}
	return n, nil
}

// AdvanceCursor records ingestion progress for a source file. The cursor
// only ever moves forward; a smaller offset is a no-op.
func (s *Store) AdvanceCursor(ctx context.Context, source, file string, bytesParsed int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.advanceCursorTx(ctx, tx, source, file, bytesParsed)
	})
}

func (s *Store) advanceCursorTx(ctx context.Context, tx *sql.Tx, source, file string, bytesParsed int64) error {
	_, err := tx.ExecContext(ctx, s.q(
		`INSERT INTO source_cursors (source, file, bytes_parsed) VALUES (?, ?, ?)
		 ON CONFLICT (source, file) DO UPDATE SET bytes_parsed = excluded.bytes_parsed
		 WHERE excluded.bytes_parsed > source_cursors.bytes_parsed`),
		source, file, bytesParsed)
	if err != nil {
		return fmt.Errorf("store: advance cursor %s/%s: %w", source, file, err)
	}
	return nil
}
