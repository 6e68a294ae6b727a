package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scoreboard/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.BackendSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMorgueURL(t *testing.T) {
	end := time.Date(2016, time.March, 5, 13, 14, 15, 0, time.UTC)
	g := &store.Game{Player: "Foo", Source: "cao", Version: "0.17", End: end}
	want := "http://crawl.akrasiac.org/rawdata/Foo/morgue-Foo-20160305-131415.txt"
	if got := MorgueURL(g); got != want {
		t.Errorf("MorgueURL = %q, want %q", got, want)
	}

	// Versioned sources interpose the series directory.
	g.Source = "cdo"
	want = "http://crawl.develz.org/morgues/0.17/Foo/morgue-Foo-20160305-131415.txt"
	if got := MorgueURL(g); got != want {
		t.Errorf("MorgueURL = %q, want %q", got, want)
	}

	// Sources without public morgues yield nothing.
	g.Source = "rhf"
	if got := MorgueURL(g); got != "" {
		t.Errorf("MorgueURL = %q, want empty", got)
	}
}

func TestWrite(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

	games := []*store.Game{
		{GID: "w1", Player: "Foo", Source: "cao", Version: "0.17", Species: "Mi",
			Background: "Be", God: "Trog", Ktyp: "winning", Score: 500,
			Start: base, End: base.Add(time.Hour)},
		{GID: "w2", Player: "Foo", Source: "cao", Version: "0.17", Species: "Ce",
			Background: "Hu", God: "Okawaru", Ktyp: "winning", Score: 800,
			Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour)},
	}
	for _, g := range games {
		if _, err := s.InsertGame(ctx, g); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		p := store.NewPlayer("Foo")
		p.Games = 2
		p.Wins = 2
		if err := s.SavePlayerTx(ctx, tx, p); err != nil {
			return err
		}
		for _, g := range games {
			if err := s.MarkScoredTx(ctx, tx, g.GID, "w1"); err != nil {
				return err
			}
			if err := s.MergeHighscoreTx(ctx, tx, store.HighscoreEntry{
				Category: store.CategorySpecies, Key: g.Species,
				GID: g.GID, Score: g.Score, End: g.End,
			}); err != nil {
				return err
			}
		}
		return s.SaveStreakTx(ctx, tx, &store.Streak{
			ID: "w1", Player: "Foo", Active: true, Wins: 2,
			Start: base, End: base.Add(3 * time.Hour),
		})
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	dir := t.TempDir()
	if err := Write(ctx, s, dir); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "scoring_data.json"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("decode output: %v", err)
	}

	if len(d.Players) != 1 || d.Players[0].Name != "Foo" {
		t.Errorf("players = %+v", d.Players)
	}
	if len(d.Highscores[store.CategorySpecies]) != 2 {
		t.Errorf("species records = %+v", d.Highscores[store.CategorySpecies])
	}
	if len(d.Streaks) != 1 || d.Streaks[0].Wins != 2 || !d.Streaks[0].Active {
		t.Fatalf("streaks = %+v", d.Streaks)
	}
	if len(d.Streaks[0].Games) != 2 {
		t.Errorf("streak games = %+v", d.Streaks[0].Games)
	}
	if len(d.ActiveStreaks) != 1 {
		t.Errorf("active streaks = %+v", d.ActiveStreaks)
	}
	if d.Streaks[0].Games[0].Morgue == "" {
		t.Error("morgue url missing from streak game")
	}
}
