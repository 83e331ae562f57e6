package missions_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"jobmate/missions-service/internal/catalog"
	"jobmate/missions-service/internal/missions"
)

type sessionEnv struct {
	store      *memStore
	apps       *fakeApplications
	interviews *fakeInterviews
	srcFeed    *fakeSourceFeed
	notifier   *fakeNotifier
	deps       missions.SessionDeps
}

func newSessionEnv() *sessionEnv {
	store := newMemStore()
	apps := &fakeApplications{}
	interviews := &fakeInterviews{}
	env := &sessionEnv{
		store:      store,
		apps:       apps,
		interviews: interviews,
		srcFeed:    newFakeSourceFeed(),
		notifier:   &fakeNotifier{},
	}
	env.deps = missions.SessionDeps{
		Store:        store,
		Initializer:  missions.NewInitializer(store, defaultCatalog(), interviews),
		Streak:       missions.NewStreakCalculator(store),
		Merger:       missions.NewMerger(store),
		Notifier:     env.notifier,
		DocFeed:      store,
		SourceFeed:   env.srcFeed,
		Applications: apps,
		Interviews:   interviews,
		Milestones:   milestoneCfg(),
		Now:          func() time.Time { return ts(today, "12:00:00") },
	}
	return env
}

func (e *sessionEnv) start(t *testing.T) *missions.Session {
	t.Helper()
	s := missions.NewSession(testUser, e.deps)
	s.Start(context.Background())
	t.Cleanup(s.Close)
	waitFor(t, "session to reach syncing", func() bool {
		return s.State() == missions.StateSyncing
	})
	return s
}

func appliedToday(n int) []missions.ApplicationRecord {
	records := make([]missions.ApplicationRecord, n)
	for i := range records {
		records[i] = missions.ApplicationRecord{
			ID:        "app-" + string(rune('a'+i)),
			Status:    "APPLIED",
			CreatedAt: ts(today, "09:00:00"),
		}
	}
	return records
}

func TestSession_EmitsCompletionExactlyOnce(t *testing.T) {
	env := newSessionEnv()
	env.apps.set(appliedToday(2))
	s := env.start(t)

	waitFor(t, "bootstrap aggregation to land", func() bool {
		snap := s.Snapshot()
		return len(snap.Missions) == 1 && snap.Missions[0].Current == 2
	})
	if len(env.notifier.all()) != 0 {
		t.Fatalf("events emitted before any completion: %+v", env.notifier.all())
	}

	// Third application crosses the target.
	env.apps.set(appliedToday(3))
	env.srcFeed.notify(missions.CollectionApplications)

	waitFor(t, "completion event", func() bool {
		return len(env.notifier.all()) == 1
	})
	ev := env.notifier.all()[0]
	if ev.Type != catalog.TypeApplyJobs {
		t.Errorf("event type = %s, want %s", ev.Type, catalog.TypeApplyJobs)
	}
	if ev.MissionID != missions.MissionID(today, catalog.TypeApplyJobs) {
		t.Errorf("event mission ID = %q", ev.MissionID)
	}
	if ev.RewardPoints != 50 {
		t.Errorf("event reward = %d, want 50", ev.RewardPoints)
	}

	// Redundant change notifications after completion must not re-emit.
	env.srcFeed.notify(missions.CollectionApplications)
	env.srcFeed.notify(missions.CollectionApplications)
	waitFor(t, "snapshot to settle", func() bool {
		snap := s.Snapshot()
		return len(snap.Missions) == 1 && snap.Missions[0].Current == 3
	})
	time.Sleep(50 * time.Millisecond)
	if got := len(env.notifier.all()); got != 1 {
		t.Errorf("got %d completion events, want exactly 1", got)
	}
}

func TestSession_PreCompletedAtStartupEmitsNothing(t *testing.T) {
	env := newSessionEnv()
	env.apps.set(appliedToday(3))
	seedDoc(t, env.store, today, applyMission(today, 3))

	s := env.start(t)
	waitFor(t, "snapshot to load", func() bool {
		snap := s.Snapshot()
		return !snap.Loading && len(snap.Missions) == 1
	})

	time.Sleep(50 * time.Millisecond)
	if got := env.notifier.all(); len(got) != 0 {
		t.Errorf("a mission loaded already completed fired %d events: %+v", len(got), got)
	}
	if snap := s.Snapshot(); snap.LastCompleted != nil {
		t.Errorf("LastCompleted set without a transition: %+v", snap.LastCompleted)
	}
}

func TestSession_InterviewPrepFlow(t *testing.T) {
	env := newSessionEnv()
	env.interviews.set([]missions.InterviewRecord{preparedInterview(ts(today, "15:00:00"))}, true)
	s := env.start(t)

	waitFor(t, "prep completion event", func() bool {
		for _, ev := range env.notifier.all() {
			if ev.Type == catalog.TypePrepareInterview {
				return true
			}
		}
		return false
	})

	snap := s.Snapshot()
	prep := findMission(snap.Missions, catalog.TypePrepareInterview)
	if prep == nil || !prep.Completed() {
		t.Fatalf("prep mission not completed in snapshot: %+v", snap.Missions)
	}
	if snap.LastCompleted == nil || snap.LastCompleted.Type != catalog.TypePrepareInterview {
		t.Errorf("LastCompleted = %+v, want the prep completion", snap.LastCompleted)
	}

	s.ClearCompleted()
	if snap := s.Snapshot(); snap.LastCompleted != nil {
		t.Error("ClearCompleted left the event in place")
	}
}

func TestSession_AllCompletedReflectsStats(t *testing.T) {
	env := newSessionEnv()
	env.apps.set(appliedToday(3))
	env.interviews.set([]missions.InterviewRecord{preparedInterview(ts(today, "15:00:00"))}, true)
	s := env.start(t)

	waitFor(t, "stats to pick up the day completion", func() bool {
		snap := s.Snapshot()
		return snap.Stats != nil && snap.Stats.TotalMissionsCompleted == 2
	})
	if snap := s.Snapshot(); snap.Stats.TotalDaysActive != 1 {
		t.Errorf("TotalDaysActive = %d, want 1", snap.Stats.TotalDaysActive)
	}
}

func TestSession_CloseDiscardsLateResults(t *testing.T) {
	env := newSessionEnv()
	s := env.start(t)

	s.Close()
	s.Close() // must be safe to repeat
	if s.State() != missions.StateTornDown {
		t.Fatalf("state = %s, want %s", s.State(), missions.StateTornDown)
	}

	// A write landing after teardown publishes a snapshot nobody should act on.
	seedDoc(t, env.store, today, applyMission(today, 3))
	time.Sleep(50 * time.Millisecond)
	if got := env.notifier.all(); len(got) != 0 {
		t.Errorf("events emitted after Close: %+v", got)
	}
}

func TestSession_RefreshRecoversFromInitFailure(t *testing.T) {
	env := newSessionEnv()
	failing := &failingStore{memStore: env.store}
	failing.setFailing(true)
	env.deps.Store = failing
	env.deps.Initializer = missions.NewInitializer(failing, defaultCatalog(), env.interviews)
	env.deps.Streak = missions.NewStreakCalculator(failing)
	env.deps.Merger = missions.NewMerger(failing)

	s := env.start(t)

	snap := s.Snapshot()
	if snap.Error == "" {
		t.Fatal("expected a surfaced error after failed initialization")
	}
	if len(snap.Missions) == 0 {
		t.Fatal("degraded session must still expose the default mission set")
	}

	failing.setFailing(false)
	s.Refresh()

	waitFor(t, "refresh to clear the error", func() bool {
		snap := s.Snapshot()
		return snap.Error == "" && !snap.Loading
	})

	// The recovered session is live: a source change now flows end to end.
	env.apps.set(appliedToday(3))
	env.srcFeed.notify(missions.CollectionApplications)
	waitFor(t, "completion after recovery", func() bool {
		return len(env.notifier.all()) == 1
	})
}

func TestSession_SourceSubscribeFailureKeepsDocumentFlow(t *testing.T) {
	env := newSessionEnv()
	env.srcFeed.subErr = errors.New("source stream unavailable")
	s := env.start(t)

	waitFor(t, "bootstrap snapshot", func() bool {
		snap := s.Snapshot()
		return !snap.Loading && len(snap.Missions) == 1
	})

	// Another writer completes the mission; the document feed alone must
	// carry the transition through to the notifier.
	id := missions.MissionID(today, catalog.TypeApplyJobs)
	if _, err := env.deps.Merger.Apply(context.Background(), testUser, today, id, 3, 3); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	waitFor(t, "completion via the document feed", func() bool {
		return len(env.notifier.all()) == 1
	})
	if ev := env.notifier.all()[0]; ev.MissionID != id {
		t.Errorf("event mission ID = %q, want %q", ev.MissionID, id)
	}
}

func TestSession_DeadDocumentStreamKeepsSourceFlow(t *testing.T) {
	env := newSessionEnv()
	env.deps.DocFeed = closedDocFeed{}
	s := env.start(t)

	waitFor(t, "bootstrap snapshot", func() bool {
		snap := s.Snapshot()
		return !snap.Loading && len(snap.Missions) == 1
	})

	env.apps.set(appliedToday(3))
	env.srcFeed.notify(missions.CollectionApplications)

	// No snapshots arrive anymore, but source changes must still aggregate
	// and persist through the merger.
	waitFor(t, "merge despite the dead document stream", func() bool {
		doc, err := env.store.GetDaily(context.Background(), testUser, today)
		if err != nil {
			return false
		}
		m := doc.Find(missions.MissionID(today, catalog.TypeApplyJobs))
		return m != nil && m.Completed() && m.Current == 3
	})
}

func TestManager_ReusesAndShutsDownSessions(t *testing.T) {
	env := newSessionEnv()
	mgr := missions.NewManager(context.Background(), env.deps)

	a := mgr.Session("user-a")
	if a == nil {
		t.Fatal("Session returned nil for a live manager")
	}
	if again := mgr.Session("user-a"); again != a {
		t.Error("second lookup created a new session for the same user")
	}
	b := mgr.Session("user-b")
	if b == a {
		t.Error("distinct users share a session")
	}
	if got := len(mgr.Sessions()); got != 2 {
		t.Errorf("Sessions() = %d entries, want 2", got)
	}

	mgr.Shutdown()
	waitFor(t, "sessions to tear down", func() bool {
		return a.State() == missions.StateTornDown && b.State() == missions.StateTornDown
	})
	if mgr.Session("user-c") != nil {
		t.Error("Session must return nil after Shutdown")
	}
}

func findMission(ms []missions.Mission, typ catalog.Type) *missions.Mission {
	for i := range ms {
		if ms[i].Type == typ {
			return &ms[i]
		}
	}
	return nil
}

// closedDocFeed hands out an already-terminated snapshot stream, the shape
// of a document subscription dying right after it opens.
type closedDocFeed struct{}

func (closedDocFeed) SubscribeDaily(context.Context, string, string) (<-chan *missions.DailyMissions, error) {
	ch := make(chan *missions.DailyMissions)
	close(ch)
	return ch, nil
}

// failingStore wraps memStore and makes daily reads fail on demand, driving
// the initializer down its error path.
type failingStore struct {
	*memStore
	mu   sync.Mutex
	fail bool
}

func (f *failingStore) setFailing(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *failingStore) GetDaily(ctx context.Context, userID, day string) (*missions.DailyMissions, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errors.New("daily_missions unavailable")
	}
	return f.memStore.GetDaily(ctx, userID, day)
}
