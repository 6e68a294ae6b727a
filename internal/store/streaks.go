package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Streak is a run of consecutive wins by one player. The id is the gid
// of the streak's first win, which makes streak creation idempotent
// across replays. At most one streak per player is active.
type Streak struct {
	ID     string
	Player string
	Active bool
	Wins   int
	Start  time.Time
	End    time.Time
}

// ActiveStreak returns the player's active streak, or ErrNotFound.
func (s *Store) ActiveStreak(ctx context.Context, player string) (*Streak, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, player, active, wins, start_time, end_time
		 FROM streaks WHERE player_key = ? AND active = TRUE`), PlayerKey(player))
	st, err := scanStreak(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: active streak for %s: %w", player, err)
	}
	return st, nil
}

// SaveStreakTx upserts a streak inside the caller's transaction.
func (s *Store) SaveStreakTx(ctx context.Context, tx *sql.Tx, st *Streak) error {
	_, err := tx.ExecContext(ctx, s.q(
		`INSERT INTO streaks (id, player, player_key, active, wins, start_time, end_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE
		 SET active = excluded.active, wins = excluded.wins,
		     start_time = excluded.start_time, end_time = excluded.end_time`),
		st.ID, st.Player, PlayerKey(st.Player), st.Active, st.Wins,
		st.Start.Unix(), st.End.Unix())
	if err != nil {
		return fmt.Errorf("store: save streak %s: %w", st.ID, err)
	}
	return nil
}

// StreakFilter narrows Streaks.
type StreakFilter struct {
	ActiveOnly bool
	MinLength  int
}

// Streaks lists streaks, longest first, then earliest end. Streak games
// are fetched separately with StreakGames.
func (s *Store) Streaks(ctx context.Context, f StreakFilter) ([]*Streak, error) {
	query := `SELECT id, player, active, wins, start_time, end_time FROM streaks`
	var where []string
	if f.ActiveOnly {
		where = append(where, "active = TRUE")
	}
	if f.MinLength > 0 {
		where = append(where, fmt.Sprintf("wins >= %d", f.MinLength))
	}
	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}
	query += " ORDER BY wins DESC, end_time ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list streaks: %w", err)
	}
	defer rows.Close()

	var streaks []*Streak
	for rows.Next() {
		st, err := scanStreak(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan streak: %w", err)
		}
		streaks = append(streaks, st)
	}
	return streaks, rows.Err()
}

// StreakGames returns a streak's wins in play order.
func (s *Store) StreakGames(ctx context.Context, streakID string) ([]*Game, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+gameColumns+` FROM games WHERE streak_id = ? ORDER BY end_time ASC`),
		streakID)
	if err != nil {
		return nil, fmt.Errorf("store: streak games %s: %w", streakID, err)
	}
	defer rows.Close()

	var games []*Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan streak game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

func scanStreak(row interface{ Scan(...any) error }) (*Streak, error) {
	var st Streak
	var start, end int64
	if err := row.Scan(&st.ID, &st.Player, &st.Active, &st.Wins, &start, &end); err != nil {
		return nil, err
	}
	st.Start = time.Unix(start, 0).UTC()
	st.End = time.Unix(end, 0).UTC()
	return &st, nil
}
