// Package scheduler wires up the cron job that rolls live sessions over at
// day boundaries and keeps denormalized catalog fields fresh.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"jobmate/missions-service/internal/missions"
)

// Scheduler wraps robfig/cron and manages the rollover loop.
type Scheduler struct {
	cron *cron.Cron
	mgr  *missions.Manager
	init *missions.Initializer
	spec string // cron spec, e.g. "@every 15m"
}

// New creates a Scheduler that fires every intervalMinutes minutes.
func New(mgr *missions.Manager, init *missions.Initializer, intervalMinutes int) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLogger(cron.DefaultLogger)),
		mgr:  mgr,
		init: init,
		spec: fmt.Sprintf("@every %dm", intervalMinutes),
	}
}

// Start registers the job and starts the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.runRollover(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	log.Printf("[scheduler] Cron started — spec: %s", s.spec)
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("[scheduler] Cron stopped")
}

// runRollover walks the live sessions. A session still synced to a past
// day is restarted onto today; sessions already on today get an Ensure
// pass so catalog edits (titles, rewards, visibility) propagate without a
// user action. Ensure is idempotent, so a quiet pass writes nothing.
func (s *Scheduler) runRollover(ctx context.Context) {
	sessions := s.mgr.Sessions()
	if len(sessions) == 0 {
		return
	}

	today := missions.DayKey(time.Now())
	rolled, refreshed := 0, 0

	for _, sess := range sessions {
		if sess.State() == missions.StateTornDown {
			continue
		}
		if sess.Day() != today {
			sess.Refresh()
			rolled++
			continue
		}
		if _, err := s.init.Ensure(ctx, sess.UserID(), today); err != nil {
			log.Printf("[scheduler] catalog sync error for user %s: %v", sess.UserID(), err)
			continue
		}
		refreshed++
	}

	log.Printf("[scheduler] Rollover pass complete — sessions=%d rolled=%d refreshed=%d",
		len(sessions), rolled, refreshed)
}
