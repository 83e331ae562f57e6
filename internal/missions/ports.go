package missions

import (
	"context"
	"errors"
	"time"

	"jobmate/missions-service/internal/catalog"
)

// ErrNotFound is returned by Store reads when no document exists for the key.
var ErrNotFound = errors.New("document not found")

// Store is the keyed per-user document API backing the engine.
//
// UpdateDaily and UpdateStats are transactional read-modify-write
// operations: the implementation must load the current document under a
// lock (or equivalent optimistic primitive), call mutate, and persist only
// when mutate reports a change. A plain read-then-write is not an
// acceptable implementation — two aggregators merging the same day's
// document concurrently must not lose updates.
type Store interface {
	// GetDaily loads the mission document for (userID, day).
	// Returns ErrNotFound when the day has no document yet.
	GetDaily(ctx context.Context, userID, day string) (*DailyMissions, error)

	// PutDaily creates or replaces the mission document for (doc.UserID, doc.Date).
	PutDaily(ctx context.Context, doc *DailyMissions) error

	// UpdateDaily applies mutate to the current document under a write lock.
	// When mutate returns changed=false the document is left untouched.
	// Returns ErrNotFound when the day has no document.
	UpdateDaily(ctx context.Context, userID, day string, mutate func(*DailyMissions) (changed bool, err error)) (*DailyMissions, error)

	// GetStats loads the cross-day stats document for userID.
	// Returns ErrNotFound when the user has no stats yet.
	GetStats(ctx context.Context, userID string) (*Stats, error)

	// UpdateStats applies mutate to the user's stats under a write lock,
	// starting from a zero-value Stats when none exist yet. Fields not
	// touched by mutate are preserved.
	UpdateStats(ctx context.Context, userID string, mutate func(*Stats) (changed bool, err error)) (*Stats, error)
}

// CompletionEvent describes one mission crossing into COMPLETED.
type CompletionEvent struct {
	MissionID    string       `json:"missionId"`
	Type         catalog.Type `json:"type"`
	Title        string       `json:"title"`
	RewardPoints int          `json:"rewardPoints"`
	CompletedAt  time.Time    `json:"completedAt"`
}

// Notifier is the outbound achievement sink. Delivery is fire-and-forget:
// implementations log failures but never propagate them into the engine.
type Notifier interface {
	MissionCompleted(ctx context.Context, userID string, ev CompletionEvent)
}

// SourceCollection names an externally-owned collection the engine reads.
type SourceCollection string

const (
	CollectionApplications SourceCollection = "applications"
	CollectionInterviews   SourceCollection = "interviews"
)

// SourceChange is one change notification from a source collection.
type SourceChange struct {
	Collection SourceCollection
}

// DocumentFeed delivers snapshots of a daily mission document as it changes.
// The returned channel is closed when ctx is cancelled or the underlying
// stream terminates.
type DocumentFeed interface {
	SubscribeDaily(ctx context.Context, userID, day string) (<-chan *DailyMissions, error)
}

// SourceFeed delivers change notifications for the source collections.
// Same channel-lifetime contract as DocumentFeed.
type SourceFeed interface {
	SubscribeChanges(ctx context.Context, userID string) (<-chan SourceChange, error)
}

// ApplicationSource reads the user's job application records.
type ApplicationSource interface {
	ListApplications(ctx context.Context, userID string) ([]ApplicationRecord, error)
}

// InterviewSource reads the user's interview records.
type InterviewSource interface {
	// ListInterviews returns interviews scheduled on fromDay or later.
	ListInterviews(ctx context.Context, userID, fromDay string) ([]InterviewRecord, error)

	// HasUpcomingInterview reports whether any interview is scheduled on
	// fromDay or later. Used by catalog visibility rules.
	HasUpcomingInterview(ctx context.Context, userID, fromDay string) (bool, error)
}
