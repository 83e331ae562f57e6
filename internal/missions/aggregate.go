package missions

import (
	"encoding/json"
	"log/slog"
	"time"
)

// ─── Source records ──────────────────────────────────────────────────────────

// ApplicationRecord is the slice of a tracker application row the
// aggregators need: the Kanban status plus the timestamps usable as
// "the day it was applied".
type ApplicationRecord struct {
	ID         string
	Status     string
	HistoryLog json.RawMessage // tracker history_log: [{"from","to","at"}]
	AppliedAt  *time.Time      // explicit applied-date field, may be absent
	CreatedAt  time.Time
}

// InterviewRecord is the slice of an interview row needed to evaluate the
// preparation checklist. The nested blobs are stored as JSONB and parsed
// lazily so one malformed record cannot abort a whole aggregation pass.
type InterviewRecord struct {
	ID                 string
	Status             string
	ScheduledAt        time.Time
	RoleAnalysis       json.RawMessage
	SkillRatings       json.RawMessage
	SuggestedQuestions json.RawMessage
	PrepResources      json.RawMessage
	PracticeChat       json.RawMessage
}

// MilestoneConfig holds the thresholds for the five interview-prep
// milestones. Loaded from the environment at startup.
type MilestoneConfig struct {
	// SkillsRatedFraction is the minimum fraction of required skills that
	// must carry a rating, in (0, 1].
	SkillsRatedFraction float64
	// MinQuestionsReviewed is the minimum number of suggested questions
	// marked reviewed.
	MinQuestionsReviewed int
	// MinResourcesReviewed is the minimum combined count of reviewed tips
	// and saved resource links.
	MinResourcesReviewed int
	// MinChatTurns is the minimum number of practice-conversation turns
	// required from the user and from the assistant, each.
	MinChatTurns int
}

// ─── Application-count aggregator ────────────────────────────────────────────

const statusApplied = "APPLIED"

// historyEntry mirrors one tracker history_log element.
type historyEntry struct {
	From string `json:"from"`
	To   string `json:"to"`
	At   string `json:"at"`
}

// CountAppliedToday counts applications currently in APPLIED status whose
// derived day key equals today.
//
// The day key comes from the first available of: the latest history-log
// transition into APPLIED, the explicit applied-date field, the creation
// timestamp. An application created weeks ago but moved to APPLIED today
// counts for today — the engine rewards the action taken today, not the
// record's age.
func CountAppliedToday(records []ApplicationRecord, today string) int {
	count := 0
	for i := range records {
		r := &records[i]
		if r.Status != statusApplied {
			continue
		}
		if appliedDayKey(r) == today {
			count++
		}
	}
	return count
}

// appliedDayKey derives the day the application was applied, following the
// timestamp priority order.
func appliedDayKey(r *ApplicationRecord) string {
	if at, ok := lastAppliedTransition(r.HistoryLog); ok {
		return DayKey(at)
	}
	if r.AppliedAt != nil {
		return DayKey(*r.AppliedAt)
	}
	return DayKey(r.CreatedAt)
}

// lastAppliedTransition scans a history log for the most recent transition
// into APPLIED. Malformed logs or entries are skipped, not fatal.
func lastAppliedTransition(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}
	var entries []historyEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		slog.Warn("skipping malformed history log", "err", err)
		return time.Time{}, false
	}

	var latest time.Time
	found := false
	for _, e := range entries {
		if e.To != statusApplied {
			continue
		}
		at, err := time.Parse(time.RFC3339, e.At)
		if err != nil {
			continue
		}
		if !found || at.After(latest) {
			latest = at
			found = true
		}
	}
	return latest, found
}

// ─── Interview-prep aggregator ───────────────────────────────────────────────

// Nested JSONB shapes for the preparation data.

type skillRating struct {
	Skill    string `json:"skill"`
	Required bool   `json:"required"`
	Rating   int    `json:"rating"` // 0 = not rated
}

type suggestedQuestion struct {
	Question string `json:"question"`
	Reviewed bool   `json:"reviewed"`
}

type prepResources struct {
	Tips []struct {
		Reviewed bool `json:"reviewed"`
	} `json:"tips"`
	Links []struct {
		Saved bool `json:"saved"`
	} `json:"links"`
}

type chatTurn struct {
	Role string `json:"role"` // "user" | "assistant"
}

// InterviewPrepDone reports whether any interview scheduled on today or
// later has all five preparation milestones satisfied. The checklist is
// recomputed in full on every call — no partial state is kept between
// evaluations. A record that fails to parse is skipped so one bad row
// cannot block the mission for everyone else's data.
func InterviewPrepDone(records []InterviewRecord, today string, cfg MilestoneConfig) bool {
	for i := range records {
		r := &records[i]
		if DayKey(r.ScheduledAt) < today {
			continue
		}
		done, err := interviewMilestones(r, cfg)
		if err != nil {
			slog.Warn("skipping malformed interview record", "interviewId", r.ID, "err", err)
			continue
		}
		if done {
			return true
		}
	}
	return false
}

// interviewMilestones evaluates the five independent milestones for one
// interview. All five must hold.
func interviewMilestones(r *InterviewRecord, cfg MilestoneConfig) (bool, error) {
	if !roleAnalysisPresent(r.RoleAnalysis) {
		return false, nil
	}

	ok, err := skillsRated(r.SkillRatings, cfg.SkillsRatedFraction)
	if err != nil || !ok {
		return false, err
	}

	ok, err = questionsReviewed(r.SuggestedQuestions, cfg.MinQuestionsReviewed)
	if err != nil || !ok {
		return false, err
	}

	ok, err = resourcesReviewed(r.PrepResources, cfg.MinResourcesReviewed)
	if err != nil || !ok {
		return false, err
	}

	return chatTurnsReached(r.PracticeChat, cfg.MinChatTurns)
}

// roleAnalysisPresent: milestone 1 — the role analysis blob exists and is a
// non-empty JSON object.
func roleAnalysisPresent(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	return len(fields) > 0
}

// skillsRated: milestone 2 — at least fraction of the required skills carry
// a rating. An interview with no required skills satisfies the milestone
// vacuously.
func skillsRated(raw json.RawMessage, fraction float64) (bool, error) {
	if len(raw) == 0 {
		return false, nil
	}
	var skills []skillRating
	if err := json.Unmarshal(raw, &skills); err != nil {
		return false, err
	}

	required, rated := 0, 0
	for _, s := range skills {
		if !s.Required {
			continue
		}
		required++
		if s.Rating > 0 {
			rated++
		}
	}
	if required == 0 {
		return true, nil
	}
	return float64(rated)/float64(required) >= fraction, nil
}

// questionsReviewed: milestone 3 — at least minReviewed suggested questions
// have been marked reviewed.
func questionsReviewed(raw json.RawMessage, minReviewed int) (bool, error) {
	if len(raw) == 0 {
		return minReviewed <= 0, nil
	}
	var questions []suggestedQuestion
	if err := json.Unmarshal(raw, &questions); err != nil {
		return false, err
	}

	reviewed := 0
	for _, q := range questions {
		if q.Reviewed {
			reviewed++
		}
	}
	return reviewed >= minReviewed, nil
}

// resourcesReviewed: milestone 4 — the combined count of reviewed tips and
// saved resource links reaches minCount.
func resourcesReviewed(raw json.RawMessage, minCount int) (bool, error) {
	if len(raw) == 0 {
		return minCount <= 0, nil
	}
	var res prepResources
	if err := json.Unmarshal(raw, &res); err != nil {
		return false, err
	}

	count := 0
	for _, t := range res.Tips {
		if t.Reviewed {
			count++
		}
	}
	for _, l := range res.Links {
		if l.Saved {
			count++
		}
	}
	return count >= minCount, nil
}

// chatTurnsReached: milestone 5 — the practice conversation contains at
// least minTurns user turns and minTurns assistant turns.
func chatTurnsReached(raw json.RawMessage, minTurns int) (bool, error) {
	if len(raw) == 0 {
		return minTurns <= 0, nil
	}
	var turns []chatTurn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return false, err
	}

	user, assistant := 0, 0
	for _, t := range turns {
		switch t.Role {
		case "user":
			user++
		case "assistant":
			assistant++
		}
	}
	return user >= minTurns && assistant >= minTurns, nil
}
