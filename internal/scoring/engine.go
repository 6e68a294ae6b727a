// Package scoring folds unscored game records into per-player
// aggregates, achievements, global highscores and win streaks. Games
// are processed in end-time order; within that order players form
// independent partitions that score concurrently.
package scoring

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"scoreboard/internal/crawl"
	"scoreboard/internal/store"
)

// Mode selects how much state a scoring run replays. The zero value is
// incremental (only unscored games).
type Mode struct {
	full   bool
	player string
}

// Incremental scores only games not yet scored.
func Incremental() Mode { return Mode{} }

// Full wipes all derived state and replays every game.
func Full() Mode { return Mode{full: true} }

// SinglePlayer wipes one player's derived state and replays their games.
func SinglePlayer(name string) Mode { return Mode{player: name} }

// Result summarises one scoring run.
type Result struct {
	PlayersTouched map[string]bool
	GamesScored    int64
	Failures       int64
	Skipped        int64 // blacklisted-account games marked scored without effects
}

// Engine drives scoring runs against a store.
type Engine struct {
	store   *store.Store
	workers int
}

// New creates an engine with one worker per CPU.
func New(st *store.Store) *Engine {
	return &Engine{store: st, workers: runtime.NumCPU()}
}

// ScoreAll processes all unscored games per the mode. Per-record
// failures are counted and the records left unscored for the next run;
// only store-level errors abort.
func (e *Engine) ScoreAll(ctx context.Context, mode Mode) (*Result, error) {
	start := time.Now()

	switch {
	case mode.full:
		log.Printf("[Scoring] Full rebuild: resetting all derived state")
		if err := e.store.ResetAllScoring(ctx); err != nil {
			return nil, err
		}
	case mode.player != "":
		log.Printf("[Scoring] Rescoring player %s", mode.player)
		if err := e.store.ResetPlayerScoring(ctx, mode.player); err != nil {
			return nil, err
		}
	}

	blacklist, err := e.store.BlacklistedAccounts(ctx)
	if err != nil {
		return nil, err
	}

	games, err := e.store.ListGames(ctx, store.GameFilter{
		Player:       mode.player,
		UnscoredOnly: true,
		OldestFirst:  true,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{PlayersTouched: make(map[string]bool)}
	if len(games) == 0 {
		log.Printf("[Scoring] Nothing to score")
		return res, nil
	}

	// Stable partition by player: the global end-time order is
	// preserved inside each partition, which is all streak detection
	// needs.
	partitions := make(map[string][]*store.Game)
	var order []string
	for _, g := range games {
		key := g.PlayerKey()
		if _, ok := partitions[key]; !ok {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], g)
	}

	jobs := make(chan []*store.Game)
	var mu sync.Mutex // guards res
	var wg sync.WaitGroup
	errCh := make(chan error, e.workers)

	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for part := range jobs {
				if err := e.scorePartition(ctx, part, blacklist, res, &mu); err != nil {
					select {
					case errCh <- err:
					default:
					}
					return
				}
			}
		}()
	}

	for _, key := range order {
		select {
		case err := <-errCh:
			close(jobs)
			wg.Wait()
			return res, err
		case jobs <- partitions[key]:
		}
	}
	close(jobs)
	wg.Wait()
	select {
	case err := <-errCh:
		return res, err
	default:
	}

	if err := e.applyManualAchievements(ctx, res); err != nil {
		return res, err
	}

	log.Printf("[Scoring] Scored %d games for %d players (%d failures, %d blacklisted) in %s",
		res.GamesScored, len(res.PlayersTouched), res.Failures, res.Skipped,
		time.Since(start).Round(time.Millisecond))
	return res, nil
}

// scorePartition folds one player's unscored games, oldest first, then
// commits aggregates, streaks, highscore merges and scored flags in a
// single transaction so the effects and the flags land together.
func (e *Engine) scorePartition(ctx context.Context, games []*store.Game,
	blacklist map[string]bool, res *Result, mu *sync.Mutex) error {

	name := games[0].Player
	p, err := e.store.GetPlayer(ctx, name)
	if err == store.ErrNotFound {
		p = store.NewPlayer(name)
	} else if err != nil {
		return err
	}

	tracker, err := newStreakTracker(ctx, e.store, name)
	if err != nil {
		return err
	}

	hs := make(map[highscoreKey]*store.Game)
	type mark struct{ gid, streakID string }
	var marks []mark
	var scored, failed, skipped int64

	for _, g := range games {
		if blacklist[g.AccountKey()] || crawl.BotAccounts[g.PlayerKey()] {
			// Blacklisted games are flagged scored so they are not
			// retried, but contribute nothing.
			marks = append(marks, mark{gid: g.GID})
			skipped++
			continue
		}

		streakID, err := e.scoreGame(ctx, p, g, tracker, hs)
		if err != nil {
			failed++
			log.Printf("[Scoring] Skipping game %s: %v", g.GID, err)
			continue
		}
		marks = append(marks, mark{gid: g.GID, streakID: streakID})
		scored++
	}

	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if scored > 0 {
			if err := e.store.SavePlayerTx(ctx, tx, p); err != nil {
				return err
			}
		}
		if err := tracker.commit(ctx, tx); err != nil {
			return err
		}
		for k, g := range hs {
			if err := e.store.MergeHighscoreTx(ctx, tx, highscoreEntry(k, g)); err != nil {
				return err
			}
		}
		for _, m := range marks {
			if err := e.store.MarkScoredTx(ctx, tx, m.gid, m.streakID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	mu.Lock()
	res.GamesScored += scored
	res.Failures += failed
	res.Skipped += skipped
	if scored > 0 {
		res.PlayersTouched[name] = true
	}
	mu.Unlock()
	return nil
}

// scoreGame folds one game into the aggregate and streak state. The
// fallible grief lookup runs before anything is mutated, and a panic
// from a malformed record rolls the aggregate back, so a failed record
// leaves no trace and the next run can retry it without double
// counting.
func (e *Engine) scoreGame(ctx context.Context, p *store.Player, g *store.Game,
	tracker *streakTracker, hs map[highscoreKey]*store.Game) (streakID string, err error) {

	snapshot := p.Clone()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic scoring %s: %v", g.GID, r)
		}
		if err != nil {
			*p = *snapshot
		}
	}()

	if !g.Won() {
		if err := tracker.onLoss(ctx, g); err != nil {
			return "", err
		}
		foldGame(p, g)
		return "", nil
	}

	foldGame(p, g)
	streakID = tracker.onWin(g)
	offerHighscores(hs, g)
	return streakID, nil
}

// applyManualAchievements awards the curated historical achievements,
// creating an empty aggregate for awardees with no logged games.
func (e *Engine) applyManualAchievements(ctx context.Context, res *Result) error {
	for name, keys := range crawl.ManualAchievements {
		p, err := e.store.GetPlayer(ctx, name)
		if err == store.ErrNotFound {
			p = store.NewPlayer(name)
		} else if err != nil {
			return err
		}
		changed := false
		for _, key := range keys {
			if p.Achievements[key] == 0 {
				p.Achievements[key] = 1
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := e.store.SavePlayer(ctx, p); err != nil {
			return err
		}
		res.PlayersTouched[name] = true
	}
	return nil
}
