package missions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Merger folds aggregator results into the persisted mission document.
//
// Apply is idempotent: calling it twice with the same inputs leaves the
// document byte-identical after the first call, and the stats increment on
// the AllCompleted edge fires at most once per day.
type Merger struct {
	store Store
	now   func() time.Time
}

// NewMerger returns a Merger persisting through store.
func NewMerger(store Store) *Merger {
	return &Merger{store: store, now: time.Now}
}

// Apply merges newProgress into the mission identified by missionID inside
// the (userID, day) document.
//
// The whole read-modify-write runs under the store's document lock:
// Current is replaced with newProgress clamped to [0, target], the
// COMPLETED transition sets CompletedAt exactly once, and CompletedCount /
// AllCompleted are recomputed over the full list rather than adjusted
// incrementally.
//
// A missing document or unknown mission ID is a no-op, not an error: the
// aggregators may race a day rollover and must not fail the session.
func (m *Merger) Apply(ctx context.Context, userID, day, missionID string, newProgress, target int) (*DailyMissions, error) {
	var (
		becameAllCompleted bool
		completedCount     int
	)

	doc, err := m.store.UpdateDaily(ctx, userID, day, func(d *DailyMissions) (bool, error) {
		mission := d.Find(missionID)
		if mission == nil {
			return false, nil
		}

		current := clamp(newProgress, 0, mission.Target)
		if target > 0 && target != mission.Target {
			// Aggregators pass the target they computed against; the
			// document's own target wins for clamping, but a mismatch is
			// worth surfacing.
			slog.Warn("merge target differs from document target",
				"missionId", missionID, "got", target, "want", mission.Target)
		}

		changed := false
		if mission.Current != current {
			mission.Current = current
			changed = true
		}

		// Completion is monotonic for the day: the status flips forward
		// once and CompletedAt is never overwritten afterward.
		if newProgress >= mission.Target && !mission.Completed() {
			mission.Status = StatusCompleted
			at := m.now()
			mission.CompletedAt = &at
			changed = true
		}

		if !changed {
			return false, nil
		}

		wasAllCompleted := d.AllCompleted
		d.Recount()
		if d.AllCompleted && !wasAllCompleted {
			becameAllCompleted = true
			completedCount = d.CompletedCount
		}
		return true, nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("merge %s: %w", missionID, err)
	}

	// The false→true edge of AllCompleted was observed under the document
	// lock, so concurrent mergers cannot both reach this branch for the
	// same day.
	if becameAllCompleted {
		if _, err := m.store.UpdateStats(ctx, userID, func(s *Stats) (bool, error) {
			s.TotalMissionsCompleted += completedCount
			return true, nil
		}); err != nil {
			return doc, fmt.Errorf("bump totalMissionsCompleted: %w", err)
		}
	}

	return doc, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
