package missions_test

// In-memory doubles for the engine's ports. memStore mirrors the real
// store's contract: deep copies on every read and write, locked
// read-modify-write, and a snapshot fan-out after each daily write so it
// can double as the document feed.

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"jobmate/missions-service/internal/missions"
)

type memStore struct {
	mu    sync.Mutex
	daily map[string]*missions.DailyMissions // key: userID + "|" + day
	stats map[string]*missions.Stats
	subs  map[string][]chan *missions.DailyMissions

	dailyWrites int
	statsWrites int
}

func newMemStore() *memStore {
	return &memStore{
		daily: make(map[string]*missions.DailyMissions),
		stats: make(map[string]*missions.Stats),
		subs:  make(map[string][]chan *missions.DailyMissions),
	}
}

func dailyKey(userID, day string) string { return userID + "|" + day }

func cloneDoc(d *missions.DailyMissions) *missions.DailyMissions {
	raw, _ := json.Marshal(d)
	var out missions.DailyMissions
	_ = json.Unmarshal(raw, &out)
	return &out
}

func cloneStats(s *missions.Stats) *missions.Stats {
	out := *s
	return &out
}

func (m *memStore) GetDaily(_ context.Context, userID, day string) (*missions.DailyMissions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.daily[dailyKey(userID, day)]
	if !ok {
		return nil, missions.ErrNotFound
	}
	return cloneDoc(d), nil
}

func (m *memStore) PutDaily(_ context.Context, doc *missions.DailyMissions) error {
	m.mu.Lock()
	m.daily[dailyKey(doc.UserID, doc.Date)] = cloneDoc(doc)
	m.dailyWrites++
	m.mu.Unlock()

	m.publish(doc)
	return nil
}

func (m *memStore) UpdateDaily(_ context.Context, userID, day string, mutate func(*missions.DailyMissions) (bool, error)) (*missions.DailyMissions, error) {
	m.mu.Lock()
	stored, ok := m.daily[dailyKey(userID, day)]
	if !ok {
		m.mu.Unlock()
		return nil, missions.ErrNotFound
	}

	doc := cloneDoc(stored)
	changed, err := mutate(doc)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if !changed {
		m.mu.Unlock()
		return doc, nil
	}

	doc.UpdatedAt = time.Now().UTC()
	m.daily[dailyKey(userID, day)] = cloneDoc(doc)
	m.dailyWrites++
	m.mu.Unlock()

	m.publish(doc)
	return doc, nil
}

func (m *memStore) GetStats(_ context.Context, userID string) (*missions.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[userID]
	if !ok {
		return nil, missions.ErrNotFound
	}
	return cloneStats(s), nil
}

func (m *memStore) UpdateStats(_ context.Context, userID string, mutate func(*missions.Stats) (bool, error)) (*missions.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &missions.Stats{UserID: userID}
	if existing, ok := m.stats[userID]; ok {
		stats = cloneStats(existing)
	}

	changed, err := mutate(stats)
	if err != nil {
		return nil, err
	}
	if !changed {
		return stats, nil
	}

	stats.UpdatedAt = time.Now().UTC()
	m.stats[userID] = cloneStats(stats)
	m.statsWrites++
	return cloneStats(stats), nil
}

// SubscribeDaily makes memStore a missions.DocumentFeed. Channels are
// buffered the way a real pub/sub client's delivery queue is, so a
// publish issued from the coordinator goroutine itself cannot deadlock.
func (m *memStore) SubscribeDaily(_ context.Context, userID, day string) (<-chan *missions.DailyMissions, error) {
	ch := make(chan *missions.DailyMissions, 32)
	m.mu.Lock()
	key := dailyKey(userID, day)
	m.subs[key] = append(m.subs[key], ch)
	m.mu.Unlock()
	return ch, nil
}

func (m *memStore) publish(doc *missions.DailyMissions) {
	m.mu.Lock()
	subs := append([]chan *missions.DailyMissions(nil), m.subs[dailyKey(doc.UserID, doc.Date)]...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- cloneDoc(doc):
		default:
		}
	}
}

func (m *memStore) writes() (daily, stats int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyWrites, m.statsWrites
}

// ─── Source doubles ─────────────────────────────────────────────────────────

type fakeApplications struct {
	mu      sync.Mutex
	records []missions.ApplicationRecord
	err     error
}

func (f *fakeApplications) set(records []missions.ApplicationRecord) {
	f.mu.Lock()
	f.records = records
	f.mu.Unlock()
}

func (f *fakeApplications) ListApplications(context.Context, string) ([]missions.ApplicationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]missions.ApplicationRecord(nil), f.records...), nil
}

type fakeInterviews struct {
	mu       sync.Mutex
	records  []missions.InterviewRecord
	upcoming bool
	probeErr error
}

func (f *fakeInterviews) set(records []missions.InterviewRecord, upcoming bool) {
	f.mu.Lock()
	f.records = records
	f.upcoming = upcoming
	f.mu.Unlock()
}

func (f *fakeInterviews) ListInterviews(context.Context, string, string) ([]missions.InterviewRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]missions.InterviewRecord(nil), f.records...), nil
}

func (f *fakeInterviews) HasUpcomingInterview(context.Context, string, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeErr != nil {
		return false, f.probeErr
	}
	return f.upcoming, nil
}

type fakeSourceFeed struct {
	ch     chan missions.SourceChange
	subErr error // set before Start to make SubscribeChanges fail
}

func newFakeSourceFeed() *fakeSourceFeed {
	return &fakeSourceFeed{ch: make(chan missions.SourceChange, 32)}
}

func (f *fakeSourceFeed) SubscribeChanges(context.Context, string) (<-chan missions.SourceChange, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	return f.ch, nil
}

func (f *fakeSourceFeed) notify(c missions.SourceCollection) {
	f.ch <- missions.SourceChange{Collection: c}
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []missions.CompletionEvent
}

func (f *fakeNotifier) MissionCompleted(_ context.Context, _ string, ev missions.CompletionEvent) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeNotifier) all() []missions.CompletionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]missions.CompletionEvent(nil), f.events...)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
