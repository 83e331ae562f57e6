package sources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/missions-service/internal/missions"
)

// Interviews reads interview rows with their nested preparation data.
// Implements missions.InterviewSource.
type Interviews struct {
	pool *pgxpool.Pool
}

// NewInterviews returns a reader over the interviews table.
func NewInterviews(pool *pgxpool.Pool) *Interviews {
	return &Interviews{pool: pool}
}

// ListInterviews returns the user's interviews scheduled on fromDay or
// later, including the JSONB preparation blobs the milestone checklist
// evaluates. Cancelled interviews are excluded.
func (i *Interviews) ListInterviews(ctx context.Context, userID, fromDay string) ([]missions.InterviewRecord, error) {
	rows, err := i.pool.Query(ctx,
		`SELECT id, status, scheduled_at,
		        role_analysis, skill_ratings, suggested_questions,
		        prep_resources, practice_chat
		 FROM interviews
		 WHERE user_id = $1
		   AND scheduled_at >= $2::date
		   AND status <> 'CANCELLED'`,
		userID, fromDay,
	)
	if err != nil {
		return nil, fmt.Errorf("listInterviews query: %w", err)
	}
	defer rows.Close()

	records := make([]missions.InterviewRecord, 0)
	for rows.Next() {
		var (
			r                                          missions.InterviewRecord
			analysis, skills, questions, prep, chatRaw []byte
		)
		if err := rows.Scan(
			&r.ID, &r.Status, &r.ScheduledAt,
			&analysis, &skills, &questions, &prep, &chatRaw,
		); err != nil {
			return nil, fmt.Errorf("listInterviews scan: %w", err)
		}
		r.RoleAnalysis = json.RawMessage(analysis)
		r.SkillRatings = json.RawMessage(skills)
		r.SuggestedQuestions = json.RawMessage(questions)
		r.PrepResources = json.RawMessage(prep)
		r.PracticeChat = json.RawMessage(chatRaw)
		records = append(records, r)
	}
	return records, rows.Err()
}

// HasUpcomingInterview reports whether any non-cancelled interview is
// scheduled on fromDay or later. Drives prepare_interview visibility.
func (i *Interviews) HasUpcomingInterview(ctx context.Context, userID, fromDay string) (bool, error) {
	var exists bool
	err := i.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM interviews
		   WHERE user_id = $1
		     AND scheduled_at >= $2::date
		     AND status <> 'CANCELLED'
		 )`,
		userID, fromDay,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("hasUpcomingInterview query: %w", err)
	}
	return exists, nil
}
