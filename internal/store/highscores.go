package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Highscore categories. Each key within a category maps to the single
// best-scoring game for that key.
const (
	CategorySpecies    = "species"
	CategoryBackground = "background"
	CategoryGod        = "god"
	CategoryCombo      = "combo"
)

// HighscoreEntry is the current record holder for one category key.
type HighscoreEntry struct {
	Category string
	Key      string
	GID      string
	Score    int64
	End      time.Time
}

// MergeHighscoreTx offers a candidate record. The stored entry is only
// replaced by a strictly higher score; equal scores keep whichever game
// ended first. The rule is applied in SQL so concurrent partition
// merges stay consistent.
func (s *Store) MergeHighscoreTx(ctx context.Context, tx *sql.Tx, e HighscoreEntry) error {
	_, err := tx.ExecContext(ctx, s.q(
		`INSERT INTO global_highscores (category, key, gid, score, end_time)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (category, key) DO UPDATE
		 SET gid = excluded.gid, score = excluded.score, end_time = excluded.end_time
		 WHERE excluded.score > global_highscores.score
		    OR (excluded.score = global_highscores.score
		        AND excluded.end_time < global_highscores.end_time)`),
		e.Category, e.Key, e.GID, e.Score, e.End.Unix())
	if err != nil {
		return fmt.Errorf("store: merge highscore %s/%s: %w", e.Category, e.Key, err)
	}
	return nil
}

// Highscores lists the record table for one category, best first.
func (s *Store) Highscores(ctx context.Context, category string, limit int) ([]HighscoreEntry, error) {
	query := `SELECT category, key, gid, score, end_time FROM global_highscores
		WHERE category = ? ORDER BY score DESC, end_time ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), category)
	if err != nil {
		return nil, fmt.Errorf("store: highscores %s: %w", category, err)
	}
	defer rows.Close()

	var entries []HighscoreEntry
	for rows.Next() {
		var e HighscoreEntry
		var end int64
		if err := rows.Scan(&e.Category, &e.Key, &e.GID, &e.Score, &end); err != nil {
			return nil, fmt.Errorf("store: scan highscore: %w", err)
		}
		e.End = time.Unix(end, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
