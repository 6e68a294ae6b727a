package scoring

import (
	"scoreboard/internal/crawl"
	"scoreboard/internal/store"
)

// foldGame merges one game into the player aggregate. Ratios and
// averages are recomputed from their running counters each time so
// they cannot drift across incremental runs.
func foldGame(p *store.Player, g *store.Game) {
	p.Games++
	p.TotalScore += g.Score
	p.AvgScore = float64(p.TotalScore) / float64(p.Games)
	// The best-scoring game can be a loss; only the global record
	// tables are win-only.
	p.Highscore = betterRef(p.Highscore, g.GID, g.Score, true)
	if g.Boring() {
		p.BoringGames++
	}
	p.BoringRate = float64(p.BoringGames) / float64(p.Games)

	if g.Won() {
		foldWin(p, g)
	}
	p.WinRate = float64(p.Wins) / float64(p.Games)

	updateAchievements(p, g)
}

func foldWin(p *store.Player, g *store.Game) {
	p.Wins++

	p.GodWins[g.God]++
	p.SpeciesWins[g.Species]++
	p.BackgroundWins[g.Background]++

	// Incremental means over wins only. n is the win count after this
	// one, so each mean moves by (x - mean)/n.
	n := float64(p.Wins)
	p.AvgWinAC += (float64(g.AC) - p.AvgWinAC) / n
	p.AvgWinEV += (float64(g.EV) - p.AvgWinEV) / n
	p.AvgWinSH += (float64(g.SH) - p.AvgWinSH) / n

	if g.Duration > 0 {
		p.FastestRealtime = betterRef(p.FastestRealtime, g.GID, int64(g.Duration), false)
	}
	if g.Turns > 0 {
		p.FastestTurncount = betterRef(p.FastestTurncount, g.GID, int64(g.Turns), false)
	}
}

// betterRef replaces ref only on a strict improvement, so the earlier
// game keeps a tied record.
func betterRef(ref *store.GameRef, gid string, value int64, higher bool) *store.GameRef {
	if ref == nil || (higher && value > ref.Value) || (!higher && value < ref.Value) {
		return &store.GameRef{GID: gid, Value: value}
	}
	return ref
}

// updateAchievements applies the catalog after the game's counts are
// folded in. Awards are monotonic: a key once present is never removed
// here (only a rescore clears them).
func updateAchievements(p *store.Player, g *store.Game) {
	if !g.Won() {
		return
	}
	for _, a := range crawl.Catalog {
		if a.Requires != "" && p.Achievements[a.Requires] == 0 {
			continue
		}
		switch a.Kind {
		case crawl.KindCoverGods:
			if p.Achievements[a.Key] == 0 && covers(p.GodWins, crawl.PlayableGods) {
				p.Achievements[a.Key] = 1
			}
		case crawl.KindCoverSpecies:
			if p.Achievements[a.Key] == 0 && covers(p.SpeciesWins, crawl.PlayableSpecies) {
				p.Achievements[a.Key] = 1
			}
		case crawl.KindCoverBackgrounds:
			if p.Achievements[a.Key] == 0 && covers(p.BackgroundWins, crawl.PlayableBackgrounds) {
				p.Achievements[a.Key] = 1
			}
		case crawl.KindWinCount:
			if p.Achievements[a.Key] == 0 && p.Wins >= a.Threshold {
				p.Achievements[a.Key] = 1
			}
		case crawl.KindPerWinCounter:
			if winPredicate(a.Predicate, g) {
				p.Achievements[a.Key]++
			}
		}
	}
}

// covers reports whether wins has at least one entry for every key the
// playable set requires.
func covers(wins map[string]int, playable map[string]bool) bool {
	for key := range playable {
		if wins[key] == 0 {
			return false
		}
	}
	return true
}

func winPredicate(id string, g *store.Game) bool {
	switch id {
	case "no_consumables":
		// Both counters must be instrumented; old logs without them
		// never qualify.
		return g.PotionsUsed == 0 && g.ScrollsUsed == 0
	case "cleared_zig":
		return g.ZigDeepest == 27
	}
	return false
}

// highscoreKey addresses one global record slot.
type highscoreKey struct {
	category string
	key      string
}

// offerHighscores reduces a win into the partition's candidate map so
// each record slot is merged into the store at most once per partition.
// The in-memory rule mirrors MergeHighscoreTx: strictly higher score
// wins, ties keep the earlier end time.
func offerHighscores(hs map[highscoreKey]*store.Game, g *store.Game) {
	for _, k := range []highscoreKey{
		{store.CategorySpecies, g.Species},
		{store.CategoryBackground, g.Background},
		{store.CategoryGod, g.God},
		{store.CategoryCombo, g.Char()},
	} {
		cur, ok := hs[k]
		if !ok || g.Score > cur.Score ||
			(g.Score == cur.Score && g.End.Before(cur.End)) {
			hs[k] = g
		}
	}
}

// highscoreEntry turns a candidate map slot into its store entry.
func highscoreEntry(k highscoreKey, g *store.Game) store.HighscoreEntry {
	return store.HighscoreEntry{
		Category: k.category,
		Key:      k.key,
		GID:      g.GID,
		Score:    g.Score,
		End:      g.End,
	}
}
