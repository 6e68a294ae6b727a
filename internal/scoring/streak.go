package scoring

import (
	"context"
	"database/sql"

	"scoreboard/internal/store"
)

// Grief heuristic thresholds. A streak-breaking loss on a brand-new
// account is treated as sabotage when the game was over this fast.
const (
	griefDuration = 600 // seconds
	griefTurns    = 1000

	// Without consumables the impostor had no way to speed up a death,
	// so the window widens.
	noConsumableGriefDuration = 1200
	noConsumableGriefTurns    = 5000
)

// streakTracker carries one player's streak state through a partition.
// It loads the active streak once, mutates in memory, and persists the
// touched streaks in the partition's transaction.
type streakTracker struct {
	store *store.Store
	cur   *store.Streak
	dirty map[string]*store.Streak
}

func newStreakTracker(ctx context.Context, st *store.Store, player string) (*streakTracker, error) {
	t := &streakTracker{store: st, dirty: make(map[string]*store.Streak)}
	cur, err := st.ActiveStreak(ctx, player)
	if err == store.ErrNotFound {
		return t, nil
	}
	if err != nil {
		return nil, err
	}
	t.cur = cur
	return t, nil
}

// onWin starts or extends the player's streak and returns the streak id
// the win belongs to. A win that overlaps the previous one (started
// before it ended, e.g. played in parallel on another server) cannot
// extend the streak and is left streakless.
func (t *streakTracker) onWin(g *store.Game) string {
	if t.cur == nil {
		t.cur = &store.Streak{
			ID:     g.GID,
			Player: g.Player,
			Active: true,
			Wins:   1,
			Start:  g.Start,
			End:    g.End,
		}
		t.dirty[t.cur.ID] = t.cur
		return t.cur.ID
	}
	if g.Start.Before(t.cur.End) {
		return ""
	}
	t.cur.Wins++
	t.cur.End = g.End
	t.dirty[t.cur.ID] = t.cur
	return t.cur.ID
}

// onLoss ends the active streak, unless the loss looks like a grief:
// the very first game of its account, over too quickly to be a real
// attempt. A grief leaves the streak running and blacklists the
// account so its games stop counting.
func (t *streakTracker) onLoss(ctx context.Context, g *store.Game) error {
	if t.cur == nil {
		return nil
	}
	if t.cur.Wins >= 2 {
		grief, err := t.isGrief(ctx, g)
		if err != nil {
			return err
		}
		if grief {
			return t.store.BlacklistAccount(ctx, g.AccountKey(),
				"suspected streak grief: "+g.GID)
		}
	}
	t.cur.Active = false
	t.dirty[t.cur.ID] = t.cur
	t.cur = nil
	return nil
}

func (t *streakTracker) isGrief(ctx context.Context, g *store.Game) (bool, error) {
	first, err := t.store.FirstGameGID(ctx, g.AccountKey())
	if err == store.ErrNotFound {
		first = g.GID
	} else if err != nil {
		return false, err
	}
	if first != g.GID {
		return false, nil
	}
	if g.PotionsUsed > 0 || g.ScrollsUsed > 0 {
		return g.Duration < griefDuration || g.Turns < griefTurns, nil
	}
	return g.Duration < noConsumableGriefDuration || g.Turns < noConsumableGriefTurns, nil
}

// commit persists every streak this partition touched.
func (t *streakTracker) commit(ctx context.Context, tx *sql.Tx) error {
	for _, st := range t.dirty {
		if err := t.store.SaveStreakTx(ctx, tx, st); err != nil {
			return err
		}
	}
	return nil
}
