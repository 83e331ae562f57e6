package missions

import (
	"context"
	"log"
	"log/slog"
	"sync"
	"time"

	"jobmate/missions-service/internal/catalog"
)

// SessionState is the lifecycle state of one user's sync session.
type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateInitializing SessionState = "initializing"
	StateSyncing      SessionState = "syncing"
	StateTornDown     SessionState = "torn-down"
)

// SessionDeps bundles the collaborators a Session drives.
type SessionDeps struct {
	Store        Store
	Initializer  *Initializer
	Streak       *StreakCalculator
	Merger       *Merger
	Notifier     Notifier
	DocFeed      DocumentFeed
	SourceFeed   SourceFeed
	Applications ApplicationSource
	Interviews   InterviewSource
	Milestones   MilestoneConfig
	Now          func() time.Time // defaults to time.Now
}

// Snapshot is the read-only view handed to the API layer.
type Snapshot struct {
	Missions      []Mission        `json:"missions"`
	Stats         *Stats           `json:"stats,omitempty"`
	Loading       bool             `json:"loading"`
	Error         string           `json:"error,omitempty"`
	LastCompleted *CompletionEvent `json:"lastCompleted,omitempty"`
}

// Session owns one user's mission synchronization: it bootstraps the day,
// subscribes to the mission document and the source collections, folds
// aggregator results through the merger, and detects completion
// transitions exactly once.
//
// All subscription callbacks funnel through a single coordinator goroutine
// over channels, so no ordering is assumed between the two feeds and no
// shared state is touched concurrently.
type Session struct {
	userID string
	deps   SessionDeps

	mu            sync.Mutex
	state         SessionState
	day           string
	missions      []Mission
	stats         *Stats
	loading       bool
	err           error
	lastCompleted *CompletionEvent

	// previousProgress maps missionID → last seen Current, seeded from the
	// initial mission list before any subscription fires. The seeding is
	// what keeps an already-completed mission loaded at startup from firing
	// a spurious event: its seeded value is never below target. primed is
	// false only between a refresh request and the re-seed, so a stale
	// snapshot racing the restart is dropped instead of diffed against a
	// cleared map.
	previousProgress map[string]int
	primed           bool

	cancel     context.CancelFunc
	pumpCancel context.CancelFunc
	refreshCh  chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	started    bool
}

// NewSession constructs an idle session for userID.
func NewSession(userID string, deps SessionDeps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Session{
		userID:           userID,
		deps:             deps,
		state:            StateIdle,
		loading:          true,
		previousProgress: make(map[string]int),
		refreshCh:        make(chan struct{}, 1),
		done:             make(chan struct{}),
	}
}

// Start launches the coordinator goroutine. Calling Start twice is a no-op.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.state == StateTornDown {
		s.mu.Unlock()
		return
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx)
}

// Close tears the session down: both subscriptions are cancelled and no
// further events are emitted. Safe to call from any state, any number of
// times, including mid-initialization — a late async result after Close is
// discarded, not applied.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		s.state = StateTornDown
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
		if started {
			<-s.done
		}
	})
}

// Refresh asks the coordinator to restart the sync state machine: it
// clears the transition-detection state, re-runs the initializer and the
// streak calculator, and re-opens both subscriptions. Idempotent — the
// externally exposed remediation after a stuck or erroring session.
func (s *Session) Refresh() {
	s.mu.Lock()
	tornDown := s.state == StateTornDown
	s.mu.Unlock()
	if tornDown {
		return
	}
	select {
	case s.refreshCh <- struct{}{}:
	default: // a refresh is already pending; coalesce
	}
}

// Snapshot returns a copy of the session's exposed state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Missions: append([]Mission(nil), s.missions...),
		Loading:  s.loading,
	}
	if s.stats != nil {
		statsCopy := *s.stats
		snap.Stats = &statsCopy
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	if s.lastCompleted != nil {
		evCopy := *s.lastCompleted
		snap.LastCompleted = &evCopy
	}
	return snap
}

// ClearCompleted drops the pending completion event, consumed by the UI
// after the achievement toast is dismissed.
func (s *Session) ClearCompleted() {
	s.mu.Lock()
	s.lastCompleted = nil
	s.mu.Unlock()
}

// UserID returns the user this session belongs to.
func (s *Session) UserID() string { return s.userID }

// Day returns the calendar day this session is currently synced to.
func (s *Session) Day() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.day
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ─── Coordinator loop ────────────────────────────────────────────────────────

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		s.mu.Lock()
		s.state = StateTornDown
		if s.pumpCancel != nil {
			s.pumpCancel()
		}
		s.mu.Unlock()
	}()

	docCh, srcCh := s.bootstrap(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case doc, ok := <-docCh:
			if !ok {
				// The document stream died; the source stream keeps running
				// and a manual refresh can resubscribe.
				log.Printf("[session] document subscription closed for user %s", s.userID)
				docCh = nil
				continue
			}
			s.handleSnapshot(ctx, doc)

		case _, ok := <-srcCh:
			if !ok {
				log.Printf("[session] source subscription closed for user %s", s.userID)
				srcCh = nil
				continue
			}
			s.recomputeProgress(ctx)

		case <-s.refreshCh:
			s.mu.Lock()
			if s.pumpCancel != nil {
				s.pumpCancel()
				s.pumpCancel = nil
			}
			s.previousProgress = make(map[string]int)
			s.primed = false
			s.err = nil
			s.mu.Unlock()
			docCh, srcCh = s.bootstrap(ctx)
		}
	}
}

// bootstrap runs the initializer and the streak calculator, seeds the
// transition-detection map, and opens both subscriptions. On
// initialization failure it degrades to an in-memory default mission set
// so the caller always has a usable, if stale, result; subscriptions are
// then left closed and a manual refresh is the remediation.
func (s *Session) bootstrap(ctx context.Context) (<-chan *DailyMissions, <-chan SourceChange) {
	s.mu.Lock()
	s.state = StateInitializing
	s.loading = true
	s.mu.Unlock()

	day := DayKey(s.deps.Now())

	doc, initErr := s.deps.Initializer.Ensure(ctx, s.userID, day)
	if initErr != nil {
		log.Printf("[session] initialization failed for user %s: %v — using default mission set", s.userID, initErr)
		doc = s.deps.Initializer.DefaultSet(s.userID, day)
	}

	stats, streakErr := s.deps.Streak.Update(ctx, s.userID, day)
	if streakErr != nil {
		log.Printf("[session] streak update failed for user %s: %v", s.userID, streakErr)
		if initErr == nil {
			initErr = streakErr
		}
		stats = &Stats{UserID: s.userID}
	}

	s.mu.Lock()
	s.day = day
	s.missions = append([]Mission(nil), doc.Missions...)
	s.stats = stats
	s.err = initErr
	s.loading = false
	// Seed before any subscription can fire. The loaded document stands in
	// for the subscription's initial snapshot, so the session is primed as
	// soon as the map is seeded.
	s.previousProgress = make(map[string]int, len(doc.Missions))
	for _, m := range doc.Missions {
		s.previousProgress[m.ID] = m.Current
	}
	s.primed = true
	s.mu.Unlock()

	if initErr != nil {
		s.setState(StateSyncing)
		return nil, nil
	}

	pumpCtx, pumpCancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.pumpCancel = pumpCancel
	s.mu.Unlock()

	// The two subscriptions are independent: one failing to open is logged
	// and does not prevent the other from running.
	docCh, err := s.deps.DocFeed.SubscribeDaily(pumpCtx, s.userID, day)
	if err != nil {
		log.Printf("[session] document subscribe failed for user %s: %v", s.userID, err)
		docCh = nil
	}
	srcCh, err := s.deps.SourceFeed.SubscribeChanges(pumpCtx, s.userID)
	if err != nil {
		log.Printf("[session] source subscribe failed for user %s: %v", s.userID, err)
		srcCh = nil
	}

	s.setState(StateSyncing)

	// Pub/sub only delivers future changes; run the aggregators once so
	// progress made before we subscribed is folded in.
	s.recomputeProgress(ctx)

	return docCh, srcCh
}

// handleSnapshot consumes one document snapshot: it emits exactly one
// completion event per mission whose status newly crossed into COMPLETED
// (last seen progress below target, incoming snapshot completed), then
// overwrites the previous-progress map from the incoming snapshot.
// Missions never seen before do not fire — a mission that first appears
// already completed is initial load, not a transition.
func (s *Session) handleSnapshot(ctx context.Context, doc *DailyMissions) {
	s.mu.Lock()
	if s.state == StateTornDown || !s.primed || doc.Date != s.day {
		s.mu.Unlock()
		return
	}

	var completed []CompletionEvent
	for i := range doc.Missions {
		m := &doc.Missions[i]
		if !m.Completed() {
			continue
		}
		prev, seen := s.previousProgress[m.ID]
		if !seen || prev >= m.Target {
			continue
		}
		at := s.deps.Now()
		if m.CompletedAt != nil {
			at = *m.CompletedAt
		}
		completed = append(completed, CompletionEvent{
			MissionID:    m.ID,
			Type:         m.Type,
			Title:        m.Title,
			RewardPoints: m.RewardPoints,
			CompletedAt:  at,
		})
	}

	next := make(map[string]int, len(doc.Missions))
	for _, m := range doc.Missions {
		next[m.ID] = m.Current
	}
	s.previousProgress = next
	s.missions = append([]Mission(nil), doc.Missions...)
	if len(completed) > 0 {
		s.lastCompleted = &completed[len(completed)-1]
	}
	allCompleted := doc.AllCompleted
	s.mu.Unlock()

	for _, ev := range completed {
		s.deps.Notifier.MissionCompleted(ctx, s.userID, ev)
	}

	// The merger bumps TotalMissionsCompleted when the whole day completes;
	// re-read stats so the exposed snapshot reflects it. Best effort.
	if allCompleted {
		if stats, err := s.deps.Store.GetStats(ctx, s.userID); err == nil {
			s.mu.Lock()
			s.stats = stats
			s.mu.Unlock()
		}
	}
}

// recomputeProgress re-runs both aggregators against the source
// collections and merges any changed value. Merging is idempotent, so a
// redundant call is harmless, but values already reflected in the local
// mission list are skipped as a cheap no-op detection.
func (s *Session) recomputeProgress(ctx context.Context) {
	s.mu.Lock()
	day := s.day
	applyMission := cloneMission(findByType(s.missions, catalog.TypeApplyJobs))
	prepMission := cloneMission(findByType(s.missions, catalog.TypePrepareInterview))
	s.mu.Unlock()

	if applyMission != nil {
		apps, err := s.deps.Applications.ListApplications(ctx, s.userID)
		if err != nil {
			slog.Warn("application aggregation failed", "userId", s.userID, "err", err)
		} else {
			current := CountAppliedToday(apps, day)
			s.mergeIfChanged(ctx, day, applyMission, current)
		}
	}

	// The interview aggregator is re-invoked on every source change, not
	// just interview changes: both mission types may depend on overlapping
	// triggers.
	if prepMission != nil {
		interviews, err := s.deps.Interviews.ListInterviews(ctx, s.userID, day)
		if err != nil {
			slog.Warn("interview aggregation failed", "userId", s.userID, "err", err)
		} else {
			current := 0
			if InterviewPrepDone(interviews, day, s.deps.Milestones) {
				current = prepMission.Target
			}
			s.mergeIfChanged(ctx, day, prepMission, current)
		}
	}
}

func (s *Session) mergeIfChanged(ctx context.Context, day string, m *Mission, current int) {
	if current == m.Current {
		return
	}
	if _, err := s.deps.Merger.Apply(ctx, s.userID, day, m.ID, current, m.Target); err != nil {
		slog.Warn("progress merge failed", "userId", s.userID, "missionId", m.ID, "err", err)
	}
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	if s.state != StateTornDown {
		s.state = st
	}
	s.mu.Unlock()
}

func findByType(missions []Mission, t catalog.Type) *Mission {
	for i := range missions {
		if missions[i].Type == t {
			return &missions[i]
		}
	}
	return nil
}

func cloneMission(m *Mission) *Mission {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}
