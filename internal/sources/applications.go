// Package sources reads the externally-owned collections the missions
// engine aggregates over — tracker applications and interview records —
// and subscribes to their change events on Redis.
//
// Both collections are read-only here: the tracker and coach services own
// the writes.
package sources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/missions-service/internal/missions"
)

// Applications reads tracker application rows. Implements
// missions.ApplicationSource.
type Applications struct {
	pool *pgxpool.Pool
}

// NewApplications returns a reader over the tracker's applications table.
func NewApplications(pool *pgxpool.Pool) *Applications {
	return &Applications{pool: pool}
}

// ListApplications returns the user's applications with the fields the
// application-count aggregator needs.
func (a *Applications) ListApplications(ctx context.Context, userID string) ([]missions.ApplicationRecord, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, current_status, history_log, applied_at, created_at
		 FROM applications
		 WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listApplications query: %w", err)
	}
	defer rows.Close()

	records := make([]missions.ApplicationRecord, 0)
	for rows.Next() {
		var (
			r   missions.ApplicationRecord
			raw []byte
		)
		if err := rows.Scan(&r.ID, &r.Status, &raw, &r.AppliedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("listApplications scan: %w", err)
		}
		r.HistoryLog = json.RawMessage(raw)
		records = append(records, r)
	}
	return records, rows.Err()
}
