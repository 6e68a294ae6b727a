package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
)

// GameRef points an aggregate at one of the player's games, with the
// value (duration, turns, score) it was selected by.
type GameRef struct {
	GID   string `json:"gid"`
	Value int64  `json:"value"`
}

// Player is the per-player aggregate maintained by the scoring engine.
// Ratios are always recomputed from their running numerator/denominator
// so they can never drift.
type Player struct {
	Name string `json:"name"`

	Games       int     `json:"games"`
	Wins        int     `json:"wins"`
	WinRate     float64 `json:"winrate"`
	TotalScore  int64   `json:"total_score"`
	AvgScore    float64 `json:"avg_score"`
	BoringGames int     `json:"boring_games"`
	BoringRate  float64 `json:"boring_rate"`

	GodWins        map[string]int `json:"god_wins"`
	SpeciesWins    map[string]int `json:"species_wins"`
	BackgroundWins map[string]int `json:"background_wins"`

	// Win-only incremental means (armour class, evasion, shields).
	AvgWinAC float64 `json:"avg_win_ac"`
	AvgWinEV float64 `json:"avg_win_ev"`
	AvgWinSH float64 `json:"avg_win_sh"`

	FastestRealtime  *GameRef `json:"fastest_realtime,omitempty"`
	FastestTurncount *GameRef `json:"fastest_turncount,omitempty"`
	Highscore        *GameRef `json:"highscore,omitempty"`

	// Achievements holds 1 for boolean awards and the running count for
	// counter awards. Membership is monotonic outside a rescore.
	Achievements map[string]int `json:"achievements"`
}

// NewPlayer initialises an empty aggregate for a player first seen now.
func NewPlayer(name string) *Player {
	return &Player{
		Name:           name,
		GodWins:        make(map[string]int),
		SpeciesWins:    make(map[string]int),
		BackgroundWins: make(map[string]int),
		Achievements:   make(map[string]int),
	}
}

// Clone returns a deep copy of the aggregate, used by the scoring
// engine to roll a partially folded record back out.
func (p *Player) Clone() *Player {
	q := *p
	q.GodWins = maps.Clone(p.GodWins)
	q.SpeciesWins = maps.Clone(p.SpeciesWins)
	q.BackgroundWins = maps.Clone(p.BackgroundWins)
	q.Achievements = maps.Clone(p.Achievements)
	if p.FastestRealtime != nil {
		ref := *p.FastestRealtime
		q.FastestRealtime = &ref
	}
	if p.FastestTurncount != nil {
		ref := *p.FastestTurncount
		q.FastestTurncount = &ref
	}
	if p.Highscore != nil {
		ref := *p.Highscore
		q.Highscore = &ref
	}
	return &q
}

// GetPlayer loads a player's aggregate, or ErrNotFound.
func (s *Store) GetPlayer(ctx context.Context, name string) (*Player, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT data FROM players WHERE name_key = ?`), PlayerKey(name)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get player %s: %w", name, err)
	}
	var p Player
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("store: decode player %s: %w", name, err)
	}
	return &p, nil
}

// ListPlayers returns every player aggregate.
func (s *Store) ListPlayers(ctx context.Context) ([]*Player, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM players ORDER BY name_key`)
	if err != nil {
		return nil, fmt.Errorf("store: list players: %w", err)
	}
	defer rows.Close()

	var players []*Player
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scan player: %w", err)
		}
		var p Player
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("store: decode player: %w", err)
		}
		players = append(players, &p)
	}
	return players, rows.Err()
}

// SavePlayerTx upserts a player aggregate inside the caller's
// transaction.
func (s *Store) SavePlayerTx(ctx context.Context, tx *sql.Tx, p *Player) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: encode player %s: %w", p.Name, err)
	}
	_, err = tx.ExecContext(ctx, s.q(
		`INSERT INTO players (name_key, name, data) VALUES (?, ?, ?)
		 ON CONFLICT (name_key) DO UPDATE SET name = excluded.name, data = excluded.data`),
		PlayerKey(p.Name), p.Name, data)
	if err != nil {
		return fmt.Errorf("store: save player %s: %w", p.Name, err)
	}
	return nil
}

// SavePlayer upserts a player aggregate in its own transaction.
func (s *Store) SavePlayer(ctx context.Context, p *Player) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.SavePlayerTx(ctx, tx, p)
	})
}

// BlacklistAccount flags an account so scoring skips its games.
func (s *Store) BlacklistAccount(ctx context.Context, account, reason string) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO blacklist (account_key, reason) VALUES (?, ?)
		 ON CONFLICT (account_key) DO NOTHING`), account, reason)
	if err != nil {
		return fmt.Errorf("store: blacklist %s: %w", account, err)
	}
	return nil
}

// BlacklistedAccounts returns the set of flagged account keys.
func (s *Store) BlacklistedAccounts(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT account_key FROM blacklist`)
	if err != nil {
		return nil, fmt.Errorf("store: list blacklist: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("store: scan blacklist: %w", err)
		}
		out[key] = true
	}
	return out, rows.Err()
}
