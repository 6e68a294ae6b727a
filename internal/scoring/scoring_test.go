package scoring

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"testing"
	"time"

	"scoreboard/internal/crawl"
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

// gameSpec describes a game for test fixtures; insertGames turns a
// sequence of them into stored records with consecutive end times.
type gameSpec struct {
	player  string
	source  string
	char    string
	god     string
	ktyp    string
	score   int64
	turns   int
	dur     int
	potions int
	scrolls int
	zig     int
	ac      int
}

func insertGames(t *testing.T, s *store.Store, specs []gameSpec) []*store.Game {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

	games := make([]*store.Game, len(specs))
	for i, spec := range specs {
		if spec.source == "" {
			spec.source = "cao"
		}
		if spec.char == "" {
			spec.char = "MiBe"
		}
		if spec.god == "" {
			spec.god = "Trog"
		}
		if spec.turns == 0 {
			spec.turns = 20000
		}
		if spec.dur == 0 {
			spec.dur = 3000
		}
		start := base.Add(time.Duration(2*i) * time.Hour)
		g := &store.Game{
			GID:         fmt.Sprintf("%s:%s:g%d", spec.player, spec.source, i),
			Player:      spec.player,
			Source:      spec.source,
			Version:     "0.17",
			Species:     spec.char[:2],
			Background:  spec.char[2:],
			God:         spec.god,
			Ktyp:        spec.ktyp,
			Score:       spec.score,
			Turns:       spec.turns,
			Duration:    spec.dur,
			AC:          spec.ac,
			PotionsUsed: spec.potions,
			ScrollsUsed: spec.scrolls,
			ZigDeepest:  spec.zig,
			Start:       start,
			End:         start.Add(time.Hour),
		}
		if _, err := s.InsertGame(ctx, g); err != nil {
			t.Fatalf("insert game %d: %v", i, err)
		}
		games[i] = g
	}
	return games
}

func score(t *testing.T, s *store.Store, mode Mode) *Result {
	t.Helper()
	res, err := New(s).ScoreAll(context.Background(), mode)
	if err != nil {
		t.Fatalf("ScoreAll failed: %v", err)
	}
	return res
}

func TestScoreAll_PlayerAggregates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// The loss outscores both wins: it must hold the personal highscore
	// even though it can never hold a global record.
	insertGames(t, s, []gameSpec{
		{player: "Foo", char: "CeBe", ktyp: "pois", score: 900000},
		{player: "Foo", char: "CeBe", ktyp: "winning", score: 500000, ac: 30},
		{player: "Foo", char: "CeCK", ktyp: "winning", score: 700000, ac: 40},
	})

	res := score(t, s, Incremental())
	if res.GamesScored != 3 {
		t.Errorf("games scored = %d, want 3", res.GamesScored)
	}

	p, err := s.GetPlayer(ctx, "Foo")
	if err != nil {
		t.Fatalf("GetPlayer failed: %v", err)
	}
	if p.Games != 3 || p.Wins != 2 {
		t.Errorf("games/wins = %d/%d, want 3/2", p.Games, p.Wins)
	}
	if math.Abs(p.WinRate-2.0/3.0) > 1e-9 {
		t.Errorf("winrate = %f, want 0.667", p.WinRate)
	}
	if p.SpeciesWins["Ce"] != 2 {
		t.Errorf("species wins Ce = %d, want 2", p.SpeciesWins["Ce"])
	}
	if p.BackgroundWins["Be"] != 1 || p.BackgroundWins["CK"] != 1 {
		t.Errorf("background wins = %v", p.BackgroundWins)
	}
	if p.Achievements["greatplayer"] != 0 {
		t.Error("greatplayer awarded after two species wins")
	}
	if math.Abs(p.AvgWinAC-35) > 1e-9 {
		t.Errorf("avg win ac = %f, want 35", p.AvgWinAC)
	}
	if p.Highscore == nil || p.Highscore.GID != "Foo:cao:g0" || p.Highscore.Value != 900000 {
		t.Errorf("highscore ref = %+v, want the 900000 loss", p.Highscore)
	}
	if p.TotalScore != 2100000 {
		t.Errorf("total score = %d", p.TotalScore)
	}

	// Two consecutive wins form one streak, still active.
	st, err := s.ActiveStreak(ctx, "Foo")
	if err != nil {
		t.Fatalf("ActiveStreak failed: %v", err)
	}
	if st.Wins != 2 {
		t.Errorf("streak wins = %d, want 2", st.Wins)
	}
}

func TestScoreAll_Incremental(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	insertGames(t, s, []gameSpec{
		{player: "Foo", ktyp: "winning", score: 100},
	})
	score(t, s, Incremental())

	// Re-running with nothing new must change nothing.
	res := score(t, s, Incremental())
	if res.GamesScored != 0 {
		t.Errorf("second run scored %d games, want 0", res.GamesScored)
	}
	p, err := s.GetPlayer(ctx, "Foo")
	if err != nil {
		t.Fatalf("GetPlayer failed: %v", err)
	}
	if p.Games != 1 || p.Wins != 1 {
		t.Errorf("re-run changed aggregates: games=%d wins=%d", p.Games, p.Wins)
	}
}

func TestScoreAll_IncrementalExtendsStreak(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

	insertGames(t, s, []gameSpec{
		{player: "Foo", ktyp: "winning", score: 100},
		{player: "Foo", ktyp: "winning", score: 200},
	})
	score(t, s, Incremental())

	// A later run sees a third win; it must extend the same streak.
	g := &store.Game{
		GID: "Foo:cao:late", Player: "Foo", Source: "cao", Version: "0.17",
		Species: "Mi", Background: "Be", God: "Trog", Ktyp: "winning",
		Score: 300, Turns: 20000, Duration: 3000,
		Start: base.Add(10 * time.Hour), End: base.Add(11 * time.Hour),
	}
	if _, err := s.InsertGame(ctx, g); err != nil {
		t.Fatalf("insert: %v", err)
	}
	score(t, s, Incremental())

	st, err := s.ActiveStreak(ctx, "Foo")
	if err != nil {
		t.Fatalf("ActiveStreak failed: %v", err)
	}
	if st.Wins != 3 {
		t.Errorf("streak wins = %d, want 3", st.Wins)
	}
	if st.ID != "Foo:cao:g0" {
		t.Errorf("streak id = %q, not the first win's gid", st.ID)
	}
}

func TestScoreAll_LossEndsStreak(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	insertGames(t, s, []gameSpec{
		{player: "Foo", ktyp: "winning", score: 100},
		{player: "Foo", ktyp: "winning", score: 200},
		{player: "Foo", ktyp: "pois", score: 10},
	})
	score(t, s, Incremental())

	if _, err := s.ActiveStreak(ctx, "Foo"); err != store.ErrNotFound {
		t.Errorf("streak still active after loss: %v", err)
	}
	streaks, err := s.Streaks(ctx, store.StreakFilter{MinLength: 2})
	if err != nil {
		t.Fatalf("Streaks failed: %v", err)
	}
	if len(streaks) != 1 || streaks[0].Wins != 2 || streaks[0].Active {
		t.Errorf("closed streak = %+v", streaks)
	}
}

func TestScoreAll_OverlappingWinDoesNotExtend(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

	insertGames(t, s, []gameSpec{
		{player: "Foo", ktyp: "winning", score: 100},
	})
	// Second win on another server, started before the first ended.
	g := &store.Game{
		GID: "Foo:cbro:overlap", Player: "Foo", Source: "cbro", Version: "0.17",
		Species: "Mi", Background: "Be", God: "Trog", Ktyp: "winning",
		Score: 200, Turns: 20000, Duration: 3000,
		Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute),
	}
	if _, err := s.InsertGame(ctx, g); err != nil {
		t.Fatalf("insert: %v", err)
	}
	score(t, s, Incremental())

	st, err := s.ActiveStreak(ctx, "Foo")
	if err != nil {
		t.Fatalf("ActiveStreak failed: %v", err)
	}
	if st.Wins != 1 {
		t.Errorf("overlapping win extended the streak to %d", st.Wins)
	}
	got, err := s.GetGame(ctx, "Foo:cbro:overlap")
	if err != nil {
		t.Fatalf("GetGame failed: %v", err)
	}
	if !got.Scored {
		t.Error("overlapping win left unscored")
	}
	if got.StreakID != "" {
		t.Errorf("overlapping win bound to streak %q", got.StreakID)
	}
}

func TestScoreAll_GriefKeepsStreak(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

	insertGames(t, s, []gameSpec{
		{player: "Foo", source: "cao", ktyp: "winning", score: 100},
		{player: "Foo", source: "cao", ktyp: "winning", score: 200},
	})
	// An account's very first game, lost in two minutes: a streak grief.
	grief := &store.Game{
		GID: "Foo:cbro:grief", Player: "Foo", Source: "cbro", Version: "0.17",
		Species: "Mi", Background: "Be", God: "Trog", Ktyp: "pois",
		Score: 5, Turns: 500, Duration: 120, PotionsUsed: 1, ScrollsUsed: 0,
		Start: base.Add(10 * time.Hour), End: base.Add(10*time.Hour + 2*time.Minute),
	}
	if _, err := s.InsertGame(ctx, grief); err != nil {
		t.Fatalf("insert: %v", err)
	}
	score(t, s, Incremental())

	st, err := s.ActiveStreak(ctx, "Foo")
	if err != nil {
		t.Fatalf("streak was broken by a grief game: %v", err)
	}
	if st.Wins != 2 {
		t.Errorf("streak wins = %d, want 2", st.Wins)
	}

	blacklist, err := s.BlacklistedAccounts(ctx)
	if err != nil {
		t.Fatalf("BlacklistedAccounts failed: %v", err)
	}
	if !blacklist["foo@cbro"] {
		t.Errorf("griefing account not blacklisted: %v", blacklist)
	}
}

func TestScoreAll_SlowFirstGameIsNotGrief(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

	insertGames(t, s, []gameSpec{
		{player: "Foo", source: "cao", ktyp: "winning", score: 100},
		{player: "Foo", source: "cao", ktyp: "winning", score: 200},
	})
	// First game of a new account, but a real multi-hour attempt.
	loss := &store.Game{
		GID: "Foo:cbro:real", Player: "Foo", Source: "cbro", Version: "0.17",
		Species: "Mi", Background: "Be", God: "Trog", Ktyp: "pois",
		Score: 40000, Turns: 60000, Duration: 14400, PotionsUsed: 30, ScrollsUsed: 12,
		Start: base.Add(10 * time.Hour), End: base.Add(14 * time.Hour),
	}
	if _, err := s.InsertGame(ctx, loss); err != nil {
		t.Fatalf("insert: %v", err)
	}
	score(t, s, Incremental())

	if _, err := s.ActiveStreak(ctx, "Foo"); err != store.ErrNotFound {
		t.Errorf("genuine loss did not end the streak: %v", err)
	}
}

func TestScoreAll_BlacklistedGamesSkipped(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.BlacklistAccount(ctx, "foo@cao", "test"); err != nil {
		t.Fatalf("BlacklistAccount failed: %v", err)
	}
	insertGames(t, s, []gameSpec{
		{player: "Foo", source: "cao", ktyp: "winning", score: 100},
	})

	res := score(t, s, Incremental())
	if res.GamesScored != 0 || res.Skipped != 1 {
		t.Errorf("scored=%d skipped=%d, want 0/1", res.GamesScored, res.Skipped)
	}
	if _, err := s.GetPlayer(ctx, "Foo"); err != store.ErrNotFound {
		t.Errorf("blacklisted game created an aggregate: %v", err)
	}
	// The game must still be flagged so it is not retried forever.
	g, err := s.GetGame(ctx, "Foo:cao:g0")
	if err != nil {
		t.Fatalf("GetGame failed: %v", err)
	}
	if !g.Scored {
		t.Error("blacklisted game left unscored")
	}
}

func TestScoreAll_WinCountAchievements(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	specs := make([]gameSpec, 0, 10)
	for i := 0; i < 10; i++ {
		specs = append(specs, gameSpec{player: "Foo", ktyp: "winning", score: 1000,
			potions: 1, scrolls: 1})
	}
	insertGames(t, s, specs)

	score(t, s, Incremental())

	p, err := s.GetPlayer(ctx, "Foo")
	if err != nil {
		t.Fatalf("GetPlayer failed: %v", err)
	}
	if p.Achievements["goodplayer"] != 1 {
		t.Errorf("goodplayer not awarded at 10 wins: %v", p.Achievements)
	}
	if p.Achievements["centuryplayer"] != 0 {
		t.Error("centuryplayer awarded at 10 wins")
	}
}

func TestScoreAll_PerWinCounters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	insertGames(t, s, []gameSpec{
		{player: "Foo", ktyp: "winning", score: 100, potions: 0, scrolls: 0, zig: 27},
		{player: "Foo", ktyp: "winning", score: 200, potions: 5, scrolls: 2, zig: 3},
		{player: "Foo", ktyp: "winning", score: 300, potions: 0, scrolls: 0},
	})
	score(t, s, Incremental())

	p, err := s.GetPlayer(ctx, "Foo")
	if err != nil {
		t.Fatalf("GetPlayer failed: %v", err)
	}
	if p.Achievements["no_potion_or_scroll_win"] != 2 {
		t.Errorf("consumable-free wins = %d, want 2", p.Achievements["no_potion_or_scroll_win"])
	}
	if p.Achievements["cleared_zig"] != 1 {
		t.Errorf("zig clears = %d, want 1", p.Achievements["cleared_zig"])
	}
}

func TestScoreAll_UninstrumentedConsumablesDoNotCount(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Old logs without potionsused carry the missing sentinel; they can
	// never qualify for the consumable-free award.
	insertGames(t, s, []gameSpec{
		{player: "Foo", ktyp: "winning", score: 100,
			potions: store.SentinelMissing, scrolls: store.SentinelMissing},
	})
	score(t, s, Incremental())

	p, err := s.GetPlayer(ctx, "Foo")
	if err != nil {
		t.Fatalf("GetPlayer failed: %v", err)
	}
	if p.Achievements["no_potion_or_scroll_win"] != 0 {
		t.Error("sentinel consumable counts earned the award")
	}
}

func TestScoreAll_GlobalHighscores(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	insertGames(t, s, []gameSpec{
		{player: "Foo", char: "MiBe", ktyp: "winning", score: 100},
		{player: "Bar", char: "MiFi", ktyp: "winning", score: 300},
		{player: "Foo", char: "MiBe", ktyp: "winning", score: 200},
		{player: "Baz", char: "CeBe", ktyp: "pois", score: 900}, // losses never hold records
	})
	score(t, s, Incremental())

	entries, err := s.Highscores(ctx, store.CategorySpecies, 0)
	if err != nil {
		t.Fatalf("Highscores failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != "Mi" || entries[0].Score != 300 {
		t.Errorf("species records = %+v", entries)
	}

	entries, err = s.Highscores(ctx, store.CategoryCombo, 0)
	if err != nil {
		t.Fatalf("Highscores failed: %v", err)
	}
	byKey := map[string]int64{}
	for _, e := range entries {
		byKey[e.Key] = e.Score
	}
	if byKey["MiBe"] != 200 || byKey["MiFi"] != 300 {
		t.Errorf("combo records = %v", byKey)
	}
	if _, ok := byKey["CeBe"]; ok {
		t.Error("a lost game holds a combo record")
	}
}

func TestScoreAll_FullRebuild(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	insertGames(t, s, []gameSpec{
		{player: "Foo", ktyp: "winning", score: 100},
		{player: "Foo", ktyp: "pois", score: 10},
	})
	score(t, s, Incremental())
	// A rebuild replays everything and lands in the same state.
	res := score(t, s, Full())
	if res.GamesScored != 2 {
		t.Errorf("rebuild scored %d games, want 2", res.GamesScored)
	}

	p, err := s.GetPlayer(ctx, "Foo")
	if err != nil {
		t.Fatalf("GetPlayer failed: %v", err)
	}
	if p.Games != 2 || p.Wins != 1 {
		t.Errorf("rebuild aggregates: games=%d wins=%d, want 2/1", p.Games, p.Wins)
	}
}

func TestScoreAll_SinglePlayerRescore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	insertGames(t, s, []gameSpec{
		{player: "Foo", ktyp: "winning", score: 100},
		{player: "Bar", ktyp: "winning", score: 900},
	})
	score(t, s, Incremental())

	res := score(t, s, SinglePlayer("Foo"))
	if res.GamesScored != 1 {
		t.Errorf("rescore scored %d games, want 1", res.GamesScored)
	}
	if res.PlayersTouched["Bar"] {
		t.Error("single-player rescore touched another player")
	}

	bar, err := s.GetPlayer(ctx, "Bar")
	if err != nil {
		t.Fatalf("GetPlayer(Bar) failed: %v", err)
	}
	if bar.Wins != 1 {
		t.Errorf("other player's aggregate disturbed: %+v", bar)
	}
}

func TestScoreGame_StoreErrorLeavesAggregateUntouched(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

	// A streak of two means a loss triggers the grief lookup, which
	// needs the store. Closing the store makes that lookup fail.
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.SaveStreakTx(ctx, tx, &store.Streak{
			ID: "Foo:cao:first", Player: "Foo", Active: true, Wins: 2,
			Start: base, End: base.Add(time.Hour),
		})
	})
	if err != nil {
		t.Fatalf("SaveStreakTx failed: %v", err)
	}
	tracker, err := newStreakTracker(ctx, s, "Foo")
	if err != nil {
		t.Fatalf("newStreakTracker failed: %v", err)
	}
	s.Close()

	loss := &store.Game{
		GID: "Foo:cbro:loss", Player: "Foo", Source: "cbro", Version: "0.17",
		Species: "Mi", Background: "Be", God: "Trog", Ktyp: "pois",
		Score: 12345, Turns: 500, Duration: 120,
		Start: base.Add(10 * time.Hour), End: base.Add(10*time.Hour + 2*time.Minute),
	}
	p := store.NewPlayer("Foo")
	hs := make(map[highscoreKey]*store.Game)
	if _, err := New(s).scoreGame(ctx, p, loss, tracker, hs); err == nil {
		t.Fatal("scoreGame succeeded against a closed store")
	}

	// The failed record must leave no trace, so a later retry cannot
	// count it twice.
	if p.Games != 0 || p.TotalScore != 0 {
		t.Errorf("failed record folded in: games=%d total=%d", p.Games, p.TotalScore)
	}
	if p.Highscore != nil {
		t.Errorf("failed record set highscore ref %+v", p.Highscore)
	}
	if tracker.cur == nil || !tracker.cur.Active || tracker.cur.Wins != 2 {
		t.Errorf("failed record disturbed streak state: %+v", tracker.cur)
	}
}

func TestScoreAll_FailedGameIsRetriedOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// A hand-edited aggregate row with null maps makes Foo's fold
	// panic. The record must be counted as a failure, left unscored,
	// and the rest of the run must carry on.
	if err := s.SavePlayer(ctx, &store.Player{Name: "Foo"}); err != nil {
		t.Fatalf("SavePlayer failed: %v", err)
	}
	insertGames(t, s, []gameSpec{
		{player: "Foo", ktyp: "winning", score: 100},
		{player: "Bar", ktyp: "winning", score: 900},
	})

	res := score(t, s, Incremental())
	if res.Failures != 1 || res.GamesScored != 1 {
		t.Fatalf("failures=%d scored=%d, want 1/1", res.Failures, res.GamesScored)
	}
	g, err := s.GetGame(ctx, "Foo:cao:g0")
	if err != nil {
		t.Fatalf("GetGame failed: %v", err)
	}
	if g.Scored {
		t.Error("failed game flagged scored")
	}
	foo, err := s.GetPlayer(ctx, "Foo")
	if err != nil {
		t.Fatalf("GetPlayer failed: %v", err)
	}
	if foo.Games != 0 {
		t.Errorf("failed game reached the stored aggregate: %+v", foo)
	}
	bar, err := s.GetPlayer(ctx, "Bar")
	if err != nil {
		t.Fatalf("GetPlayer(Bar) failed: %v", err)
	}
	if bar.Wins != 1 {
		t.Errorf("other partition disturbed by the failure: %+v", bar)
	}

	// After repairing the aggregate the record scores exactly once.
	if err := s.SavePlayer(ctx, store.NewPlayer("Foo")); err != nil {
		t.Fatalf("SavePlayer failed: %v", err)
	}
	res = score(t, s, Incremental())
	if res.Failures != 0 || res.GamesScored != 1 {
		t.Fatalf("retry failures=%d scored=%d, want 0/1", res.Failures, res.GamesScored)
	}
	foo, err = s.GetPlayer(ctx, "Foo")
	if err != nil {
		t.Fatalf("GetPlayer failed: %v", err)
	}
	if foo.Games != 1 || foo.Wins != 1 || foo.TotalScore != 100 {
		t.Errorf("retried game double counted: games=%d wins=%d total=%d",
			foo.Games, foo.Wins, foo.TotalScore)
	}
}

func TestFoldGame_BoringRate(t *testing.T) {
	p := store.NewPlayer("Foo")
	base := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, ktyp := range []string{"quitting", "leaving", "pois", "winning"} {
		foldGame(p, &store.Game{
			GID: fmt.Sprintf("g%d", i), Player: "Foo", Ktyp: ktyp,
			Start: base, End: base.Add(time.Hour),
		})
	}
	if p.BoringGames != 2 {
		t.Errorf("boring games = %d, want 2", p.BoringGames)
	}
	if math.Abs(p.BoringRate-0.5) > 1e-9 {
		t.Errorf("boring rate = %f, want 0.5", p.BoringRate)
	}
}

func TestUpdateAchievements_RequiresGating(t *testing.T) {
	p := store.NewPlayer("Foo")
	// Give the player wins with every species and background, but
	// withhold greatplayer: greaterplayer must stay locked until the
	// prerequisite lands on an earlier win.
	for sp := range crawl.PlayableSpecies {
		p.SpeciesWins[sp] = 1
	}
	for bg := range crawl.PlayableBackgrounds {
		p.BackgroundWins[bg] = 1
	}
	p.Wins = 1

	g := &store.Game{GID: "g", Player: "Foo", Species: "Mi", Background: "Be",
		God: "Trog", Ktyp: "winning"}
	updateAchievements(p, g)

	if p.Achievements["greatplayer"] != 1 {
		t.Fatal("greatplayer not awarded with full species coverage")
	}
	if p.Achievements["greaterplayer"] != 1 {
		t.Error("greaterplayer not awarded on the same win that granted greatplayer")
	}
}
