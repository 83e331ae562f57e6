// Package missions contains the pure business logic for the missions service:
// the daily mission documents, the progress aggregators, the idempotent
// progress merger, the streak calculator and the per-user sync session.
// It is transport-agnostic and storage-agnostic: it talks to PostgreSQL and
// Redis only through the interfaces in ports.go.
package missions

import (
	"fmt"
	"time"

	"jobmate/missions-service/internal/catalog"
)

// Status values stored inside daily_missions documents.
// LOCKED is reserved for future gating and never produced by current logic.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusLocked    Status = "LOCKED"
)

// Mission is one daily instance of a catalog type.
//
// Title, Description and RewardPoints are denormalized from the catalog at
// creation and refreshed by the initializer on later passes. Current is
// always clamped to [0, Target]; Status is COMPLETED iff Current reached
// Target at some point this day (completion is monotonic for a given day).
type Mission struct {
	ID           string       `json:"id"`
	Type         catalog.Type `json:"type"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	RewardPoints int          `json:"rewardPoints"`
	Target       int          `json:"target"`
	Current      int          `json:"current"`
	Status       Status       `json:"status"`
	CompletedAt  *time.Time   `json:"completedAt,omitempty"`
}

// Completed reports whether the mission is in COMPLETED status.
func (m *Mission) Completed() bool { return m.Status == StatusCompleted }

// MissionID derives the stable per-day mission identifier.
func MissionID(day string, t catalog.Type) string {
	return day + ":" + string(t)
}

// DailyMissions is the one-per-(user, day) mission document.
//
// CompletedCount and AllCompleted are derived fields: they are always the
// recomputation over Missions and never adjusted incrementally.
type DailyMissions struct {
	UserID         string    `json:"userId"`
	Date           string    `json:"date"` // day key, YYYY-MM-DD
	Missions       []Mission `json:"missions"`
	CompletedCount int       `json:"completedCount"`
	AllCompleted   bool      `json:"allCompleted"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Recount recomputes CompletedCount and AllCompleted from the mission list.
// Called after every mutation of Missions so the derived fields cannot drift.
func (d *DailyMissions) Recount() {
	count := 0
	for i := range d.Missions {
		if d.Missions[i].Completed() {
			count++
		}
	}
	d.CompletedCount = count
	d.AllCompleted = len(d.Missions) > 0 && count == len(d.Missions)
}

// Find returns a pointer to the mission with the given ID, or nil.
func (d *DailyMissions) Find(missionID string) *Mission {
	for i := range d.Missions {
		if d.Missions[i].ID == missionID {
			return &d.Missions[i]
		}
	}
	return nil
}

// FindType returns a pointer to the first mission of the given type, or nil.
func (d *DailyMissions) FindType(t catalog.Type) *Mission {
	for i := range d.Missions {
		if d.Missions[i].Type == t {
			return &d.Missions[i]
		}
	}
	return nil
}

// Stats is the per-user, cross-day streak document.
//
// LongestStreak is always >= CurrentStreak; TotalMissionsCompleted and
// TotalDaysActive only ever increase.
type Stats struct {
	UserID                 string    `json:"userId"`
	CurrentStreak          int       `json:"currentStreak"`
	LongestStreak          int       `json:"longestStreak"`
	TotalMissionsCompleted int       `json:"totalMissionsCompleted"`
	TotalDaysActive        int       `json:"totalDaysActive"`
	LastActiveDate         string    `json:"lastActiveDate,omitempty"`
	StreakStartDate        string    `json:"streakStartDate,omitempty"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// dayKeyLayout is the calendar-day key format used to bucket documents
// and timestamps.
const dayKeyLayout = "2006-01-02"

// DayKey returns the calendar-day key for t.
func DayKey(t time.Time) string {
	return t.Format(dayKeyLayout)
}

// PreviousDay returns the day key immediately before day.
func PreviousDay(day string) (string, error) {
	t, err := time.Parse(dayKeyLayout, day)
	if err != nil {
		return "", fmt.Errorf("invalid day key %q: %w", day, err)
	}
	return t.AddDate(0, 0, -1).Format(dayKeyLayout), nil
}
