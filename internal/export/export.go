// Package export renders the scoring database into the static JSON
// document the website is built from.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"scoreboard/internal/crawl"
	"scoreboard/internal/store"
)

// Reported streaks need at least this many wins.
const minStreakLength = 2

// Data is the document written to scoring_data.json.
type Data struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Players     []*store.Player `json:"players"`

	// Per-category global record tables, best first.
	Highscores map[string][]Highscore `json:"highscores"`

	Streaks       []StreakOut `json:"streaks"`
	ActiveStreaks []StreakOut `json:"active_streaks"`
}

// Highscore is one record table row.
type Highscore struct {
	Key    string `json:"key"`
	Player string `json:"player"`
	Char   string `json:"char"`
	God    string `json:"god"`
	Score  int64  `json:"score"`
	GID    string `json:"gid"`
	Morgue string `json:"morgue,omitempty"`
}

// StreakOut is one streak row with its wins in play order.
type StreakOut struct {
	Player string      `json:"player"`
	Wins   int         `json:"wins"`
	Start  time.Time   `json:"start"`
	End    time.Time   `json:"end"`
	Active bool        `json:"active"`
	Games  []StreakWin `json:"games"`
}

// StreakWin is one win inside a streak.
type StreakWin struct {
	GID    string `json:"gid"`
	Char   string `json:"char"`
	Morgue string `json:"morgue,omitempty"`
}

// Build assembles the export document from the store.
func Build(ctx context.Context, st *store.Store) (*Data, error) {
	players, err := st.ListPlayers(ctx)
	if err != nil {
		return nil, err
	}

	d := &Data{
		GeneratedAt: time.Now().UTC(),
		Players:     players,
		Highscores:  make(map[string][]Highscore),
	}

	for _, category := range []string{
		store.CategorySpecies, store.CategoryBackground,
		store.CategoryGod, store.CategoryCombo,
	} {
		entries, err := st.Highscores(ctx, category, 0)
		if err != nil {
			return nil, err
		}
		rows := make([]Highscore, 0, len(entries))
		for _, e := range entries {
			g, err := st.GetGame(ctx, e.GID)
			if err != nil {
				return nil, fmt.Errorf("export: highscore game %s: %w", e.GID, err)
			}
			rows = append(rows, Highscore{
				Key:    e.Key,
				Player: g.Player,
				Char:   g.Char(),
				God:    g.God,
				Score:  e.Score,
				GID:    e.GID,
				Morgue: MorgueURL(g),
			})
		}
		d.Highscores[category] = rows
	}

	streaks, err := st.Streaks(ctx, store.StreakFilter{MinLength: minStreakLength})
	if err != nil {
		return nil, err
	}
	for _, s := range streaks {
		games, err := st.StreakGames(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		out := StreakOut{
			Player: s.Player,
			Wins:   s.Wins,
			Start:  s.Start,
			End:    s.End,
			Active: s.Active,
		}
		for _, g := range games {
			out.Games = append(out.Games, StreakWin{
				GID:    g.GID,
				Char:   g.Char(),
				Morgue: MorgueURL(g),
			})
		}
		d.Streaks = append(d.Streaks, out)
		if s.Active {
			d.ActiveStreaks = append(d.ActiveStreaks, out)
		}
	}

	return d, nil
}

// Write renders the document into dir/scoring_data.json. The file is
// written to a temp name and renamed so the website never serves a
// half-written document.
func Write(ctx context.Context, st *store.Store, dir string) error {
	d, err := Build(ctx, st)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("export: mkdir %s: %w", dir, err)
	}

	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("export: encode: %w", err)
	}

	path := filepath.Join(dir, "scoring_data.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("export: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("export: rename %s: %w", tmp, err)
	}

	log.Printf("[Export] Wrote %s (%d players, %d streaks)", path, len(d.Players), len(d.Streaks))
	return nil
}

// MorgueURL derives the public morgue file URL for a game, or "" when
// the source has no public morgues.
func MorgueURL(g *store.Game) string {
	prefix, ok := crawl.MorguePrefixes[g.Source]
	if !ok {
		return ""
	}
	if crawl.VersionedMorgueSources[g.Source] {
		prefix += "/" + g.Version
	}
	return fmt.Sprintf("%s/%s/morgue-%s-%s.txt",
		prefix, g.Player, g.Player, g.End.Format("20060102-150405"))
}
