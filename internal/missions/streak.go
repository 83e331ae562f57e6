package missions

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StreakCalculator maintains the cross-day streak statistics.
//
// Update runs once per session bootstrap and is gated to at most one
// effective run per calendar day via LastActiveDate.
type StreakCalculator struct {
	store Store
	now   func() time.Time
}

// NewStreakCalculator returns a calculator persisting through store.
func NewStreakCalculator(store Store) *StreakCalculator {
	return &StreakCalculator{store: store, now: time.Now}
}

// Update advances the streak for today and returns the resulting stats.
//
// Rules, in order:
//   - already updated today (LastActiveDate == today): unchanged.
//   - yesterday's document exists, was fully completed, and yesterday was
//     the last active day: the streak continues, +1.
//   - yesterday's document exists but yesterday was not the last active
//     day: the chain is broken, restart at 1 from today.
//   - yesterday's document exists, was NOT fully completed, but yesterday
//     was the last active day: the streak is left unchanged. This mirrors
//     the shipped product behaviour; do not "fix" it without a product
//     decision (see DESIGN.md).
//   - no document for yesterday: a positive streak restarts at 1, a zero
//     streak stays 0; either way the streak window restarts today.
//
// Every effective run also bumps TotalDaysActive and stamps LastActiveDate.
func (c *StreakCalculator) Update(ctx context.Context, userID, today string) (*Stats, error) {
	existing, err := c.store.GetStats(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	if existing != nil && existing.LastActiveDate == today {
		return existing, nil
	}

	yesterday, err := PreviousDay(today)
	if err != nil {
		return nil, err
	}

	yesterdayDoc, err := c.store.GetDaily(ctx, userID, yesterday)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load yesterday's missions: %w", err)
	}

	stats, err := c.store.UpdateStats(ctx, userID, func(s *Stats) (bool, error) {
		// Re-check the gate under the lock: a concurrent bootstrap may have
		// already run today's update.
		if s.LastActiveDate == today {
			return false, nil
		}

		switch {
		case yesterdayDoc != nil:
			if yesterdayDoc.AllCompleted && s.LastActiveDate == yesterday {
				s.CurrentStreak++
			} else if s.LastActiveDate != yesterday {
				s.CurrentStreak = 1
				s.StreakStartDate = today
			}
			// yesterday incomplete + LastActiveDate == yesterday falls
			// through with the streak untouched.
		default:
			if s.CurrentStreak > 0 {
				s.CurrentStreak = 1
			} else {
				s.CurrentStreak = 0
			}
			s.StreakStartDate = today
		}

		if s.CurrentStreak > s.LongestStreak {
			s.LongestStreak = s.CurrentStreak
		}
		s.LastActiveDate = today
		s.TotalDaysActive++
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("update streak: %w", err)
	}
	return stats, nil
}
