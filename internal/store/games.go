package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// End reasons with special meaning for scoring.
const (
	KtypWinning  = "winning"
	KtypQuitting = "quitting"
	KtypLeaving  = "leaving"
)

// SentinelMissing marks integer fields that predate their logfile
// instrumentation (e.g. potions_used before 0.13 servers logged it).
const SentinelMissing = -1

// Game is one normalized game record. Immutable once stored, except for
// the scored flag and the late-bound streak id.
type Game struct {
	GID         string
	Player      string
	Source      string
	Version     string
	Species     string // two-letter short code
	SpeciesName string
	Background  string // two-letter short code
	God         string
	Branch      string
	XL          int
	AC          int // armour class at game end
	EV          int
	SH          int
	Turns       int
	Duration    int // wall-clock seconds
	Runes       int
	Score       int64
	Start       time.Time
	End         time.Time
	PotionsUsed int
	ScrollsUsed int
	ZigDeepest  int
	TMsg        string
	Ktyp        string
	Scored      bool
	StreakID    string
}

// Won reports whether the game ended in a win.
func (g *Game) Won() bool { return g.Ktyp == KtypWinning }

// Boring reports whether the game ended by voluntary quit or leave.
func (g *Game) Boring() bool {
	return g.Ktyp == KtypQuitting || g.Ktyp == KtypLeaving
}

// Char is the four-letter combo code, e.g. "MiFi".
func (g *Game) Char() string { return g.Species + g.Background }

// PlayerKey is the canonical key for the game's player.
func (g *Game) PlayerKey() string { return PlayerKey(g.Player) }

// AccountKey identifies the account (player on one server) that played
// the game.
func (g *Game) AccountKey() string { return AccountKey(g.Player, g.Source) }

const gameColumns = `gid, player, player_key, source, version, species, species_name,
	background, god, branch, xl, ac, ev, sh, turns, duration, runes, score, start_time,
	end_time, potions_used, scrolls_used, zig_deepest, tmsg, ktyp, scored, streak_id`

const insertGameSQL = `INSERT INTO games (` + gameColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (gid) DO NOTHING`

func insertGameArgs(g *Game) []any {
	var streakID any
	if g.StreakID != "" {
		streakID = g.StreakID
	}
	return []any{
		g.GID, g.Player, g.PlayerKey(), g.Source, g.Version, g.Species,
		g.SpeciesName, g.Background, g.God, g.Branch, g.XL, g.AC, g.EV,
		g.SH, g.Turns, g.Duration, g.Runes, g.Score, g.Start.Unix(),
		g.End.Unix(), g.PotionsUsed, g.ScrollsUsed, g.ZigDeepest, g.TMsg,
		g.Ktyp, g.Scored, streakID,
	}
}

func scanGame(row interface{ Scan(...any) error }) (*Game, error) {
	var g Game
	var start, end int64
	var streakID sql.NullString
	err := row.Scan(&g.GID, &g.Player, new(string), &g.Source, &g.Version,
		&g.Species, &g.SpeciesName, &g.Background, &g.God, &g.Branch,
		&g.XL, &g.AC, &g.EV, &g.SH, &g.Turns, &g.Duration, &g.Runes,
		&g.Score, &start, &end, &g.PotionsUsed, &g.ScrollsUsed,
		&g.ZigDeepest, &g.TMsg, &g.Ktyp, &g.Scored, &streakID)
	if err != nil {
		return nil, err
	}
	g.Start = time.Unix(start, 0).UTC()
	g.End = time.Unix(end, 0).UTC()
	g.StreakID = streakID.String
	return &g, nil
}

// InsertGame stores a game, ignoring duplicate gids. Returns true when
// the game was new.
func (s *Store) InsertGame(ctx context.Context, g *Game) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(insertGameSQL), insertGameArgs(g)...)
	if err != nil {
		return false, fmt.Errorf("store: insert game %s: %w", g.GID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// InsertBatch stores a batch of games and advances the source cursor in
// the same transaction, so the cursor can never get ahead of the data.
// Returns the number of games that were actually new.
func (s *Store) InsertBatch(ctx context.Context, source, file string, games []*Game, newOffset int64) (int64, error) {
	var inserted int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q(insertGameSQL))
		if err != nil {
			return fmt.Errorf("store: prepare insert: %w", err)
		}
		defer stmt.Close()
		for _, g := range games {
			res, err := stmt.ExecContext(ctx, insertGameArgs(g)...)
			if err != nil {
				return fmt.Errorf("store: insert game %s: %w", g.GID, err)
			}
			n, _ := res.RowsAffected()
			inserted += n
		}
		return s.advanceCursorTx(ctx, tx, source, file, newOffset)
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// GameExists reports whether a gid is already stored.
func (s *Store) GameExists(ctx context.Context, gid string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM games WHERE gid = ?`), gid).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: game exists %s: %w", gid, err)
	}
	return true, nil
}

// GetGame fetches one game by gid.
func (s *Store) GetGame(ctx context.Context, gid string) (*Game, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT `+gameColumns+` FROM games WHERE gid = ?`), gid)
	g, err := scanGame(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get game %s: %w", gid, err)
	}
	return g, nil
}

// GameFilter narrows ListGames. Zero values mean "no constraint".
type GameFilter struct {
	Player       string // canonicalised with PlayerKey
	Account      string // player on one source, see AccountKey
	WonOnly      bool
	UnscoredOnly bool
	ScoredOnly   bool
	OldestFirst  bool // by end time; default newest first
	Limit        int
}

// ListGames returns games matching the filter, ordered by end time.
func (s *Store) ListGames(ctx context.Context, f GameFilter) ([]*Game, error) {
	var where []string
	var args []any
	if f.Player != "" {
		where = append(where, "player_key = ?")
		args = append(args, PlayerKey(f.Player))
	}
	if f.Account != "" {
		name, source, ok := strings.Cut(f.Account, "@")
		if !ok {
			return nil, fmt.Errorf("store: bad account key %q", f.Account)
		}
		where = append(where, "player_key = ? AND LOWER(source) = ?")
		args = append(args, PlayerKey(name), source)
	}
	if f.WonOnly {
		where = append(where, "ktyp = ?")
		args = append(args, KtypWinning)
	}
	if f.UnscoredOnly {
		where = append(where, "scored = FALSE")
	}
	if f.ScoredOnly {
		where = append(where, "scored = TRUE")
	}

	query := `SELECT ` + gameColumns + ` FROM games`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.OldestFirst {
		query += " ORDER BY end_time ASC, gid ASC"
	} else {
		query += " ORDER BY end_time DESC, gid DESC"
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: list games: %w", err)
	}
	defer rows.Close()

	var games []*Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// FirstGameGID returns the gid of the earliest game (by end time) an
// account has on record, used by the grief heuristic.
func (s *Store) FirstGameGID(ctx context.Context, account string) (string, error) {
	name, source, ok := strings.Cut(account, "@")
	if !ok {
		return "", fmt.Errorf("store: bad account key %q", account)
	}
	var gid string
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT gid FROM games WHERE player_key = ? AND LOWER(source) = ?
		 ORDER BY end_time ASC, gid ASC LIMIT 1`),
		PlayerKey(name), source).Scan(&gid)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: first game for %s: %w", account, err)
	}
	return gid, nil
}

// MarkScoredTx flags a game as scored and binds its streak, inside the
// caller's transaction so scoring effects and the flag commit together.
func (s *Store) MarkScoredTx(ctx context.Context, tx *sql.Tx, gid, streakID string) error {
	var sid any
	if streakID != "" {
		sid = streakID
	}
	_, err := tx.ExecContext(ctx,
		s.q(`UPDATE games SET scored = TRUE, streak_id = ? WHERE gid = ?`), sid, gid)
	if err != nil {
		return fmt.Errorf("store: mark scored %s: %w", gid, err)
	}
	return nil
}

// ResetPlayerScoring clears one player's derived state so their games
// can be replayed from scratch.
func (s *Store) ResetPlayerScoring(ctx context.Context, name string) error {
	key := PlayerKey(name)
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []struct {
			sql  string
			args []any
		}{
			{`UPDATE games SET scored = FALSE, streak_id = NULL WHERE player_key = ?`, []any{key}},
			{`DELETE FROM players WHERE name_key = ?`, []any{key}},
			{`DELETE FROM streaks WHERE player_key = ?`, []any{key}},
		} {
			if _, err := tx.ExecContext(ctx, s.q(stmt.sql), stmt.args...); err != nil {
				return fmt.Errorf("store: reset player %s: %w", name, err)
			}
		}
		return nil
	})
}

// ResetAllScoring clears every derived table and scored flag for a full
// rebuild. Game records themselves are kept.
func (s *Store) ResetAllScoring(ctx context.Context) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`UPDATE games SET scored = FALSE, streak_id = NULL`,
			`DELETE FROM players`,
			`DELETE FROM streaks`,
			`DELETE FROM global_highscores`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("store: reset scoring: %w", err)
			}
		}
		return nil
	})
}
