// Package store persists mission documents in PostgreSQL and fans out
// document snapshots over Redis pub/sub.
//
// Documents are stored whole as JSONB rows:
//
//	daily_missions(user_id, date, doc)  — PK (user_id, date)
//	mission_stats(user_id, doc)         — PK (user_id)
//
// Every read-modify-write runs inside a transaction with SELECT … FOR
// UPDATE so two aggregators merging the same day's document concurrently
// cannot lose updates.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"jobmate/missions-service/internal/missions"
)

// Postgres implements missions.Store and missions.DocumentFeed.
type Postgres struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewPostgres returns a store over the given connections.
func NewPostgres(pool *pgxpool.Pool, rdb *redis.Client) *Postgres {
	return &Postgres{pool: pool, rdb: rdb}
}

// dailyChannel is the Redis channel carrying snapshots of one day's
// mission document. The Gateway subscribes to the same channel for SSE.
func dailyChannel(userID, day string) string {
	return "missions:doc:" + userID + ":" + day
}

// ─── Daily mission documents ─────────────────────────────────────────────────

// GetDaily loads the mission document for (userID, day).
func (p *Postgres) GetDaily(ctx context.Context, userID, day string) (*missions.DailyMissions, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx,
		`SELECT doc FROM daily_missions WHERE user_id = $1 AND date = $2`,
		userID, day,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, missions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getDaily query: %w", err)
	}

	var doc missions.DailyMissions
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("getDaily decode: %w", err)
	}
	return &doc, nil
}

// PutDaily creates or replaces the document and publishes the snapshot.
func (p *Postgres) PutDaily(ctx context.Context, doc *missions.DailyMissions) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("putDaily encode: %w", err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO daily_missions (user_id, date, doc)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (user_id, date) DO UPDATE SET doc = EXCLUDED.doc`,
		doc.UserID, doc.Date, raw,
	)
	if err != nil {
		return fmt.Errorf("putDaily insert: %w", err)
	}

	p.publishDaily(ctx, doc)
	return nil
}

// UpdateDaily applies mutate under a row lock and, when mutate reports a
// change, persists the document and publishes the new snapshot.
func (p *Postgres) UpdateDaily(ctx context.Context, userID, day string, mutate func(*missions.DailyMissions) (bool, error)) (*missions.DailyMissions, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("updateDaily begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT doc FROM daily_missions WHERE user_id = $1 AND date = $2 FOR UPDATE`,
		userID, day,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, missions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updateDaily lock: %w", err)
	}

	var doc missions.DailyMissions
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("updateDaily decode: %w", err)
	}

	changed, err := mutate(&doc)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Nothing to write; the lock is released by the deferred rollback.
		return &doc, nil
	}

	doc.UpdatedAt = time.Now().UTC()
	next, err := json.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("updateDaily encode: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE daily_missions SET doc = $3::jsonb WHERE user_id = $1 AND date = $2`,
		userID, day, next,
	); err != nil {
		return nil, fmt.Errorf("updateDaily write: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("updateDaily commit: %w", err)
	}

	p.publishDaily(ctx, &doc)
	return &doc, nil
}

// publishDaily fans the snapshot out to subscribers. Non-fatal: a missed
// publish only delays the next recompute, it cannot corrupt state.
func (p *Postgres) publishDaily(ctx context.Context, doc *missions.DailyMissions) {
	raw, err := json.Marshal(doc)
	if err != nil {
		slog.Warn("snapshot encode failed", "err", err)
		return
	}
	if err := p.rdb.Publish(ctx, dailyChannel(doc.UserID, doc.Date), raw).Err(); err != nil {
		slog.Warn("snapshot publish failed", "userId", doc.UserID, "date", doc.Date, "err", err)
	}
}

// SubscribeDaily streams document snapshots for (userID, day) until ctx is
// cancelled. Implements missions.DocumentFeed.
func (p *Postgres) SubscribeDaily(ctx context.Context, userID, day string) (<-chan *missions.DailyMissions, error) {
	sub := p.rdb.Subscribe(ctx, dailyChannel(userID, day))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribeDaily: %w", err)
	}

	out := make(chan *missions.DailyMissions)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var doc missions.DailyMissions
				if err := json.Unmarshal([]byte(msg.Payload), &doc); err != nil {
					slog.Warn("snapshot decode failed", "err", err)
					continue
				}
				select {
				case out <- &doc:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// ─── Stats documents ─────────────────────────────────────────────────────────

// GetStats loads the cross-day stats for userID.
func (p *Postgres) GetStats(ctx context.Context, userID string) (*missions.Stats, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx,
		`SELECT doc FROM mission_stats WHERE user_id = $1`,
		userID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, missions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getStats query: %w", err)
	}

	var stats missions.Stats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("getStats decode: %w", err)
	}
	return &stats, nil
}

// UpdateStats applies mutate under a row lock, starting from a zero-value
// Stats when the user has none yet.
func (p *Postgres) UpdateStats(ctx context.Context, userID string, mutate func(*missions.Stats) (bool, error)) (*missions.Stats, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("updateStats begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize concurrent stats writers for the same user. The advisory
	// lock also covers the first write, when no row exists to lock yet.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext('mission_stats:' || $1))`, userID,
	); err != nil {
		return nil, fmt.Errorf("updateStats lock: %w", err)
	}

	stats := &missions.Stats{UserID: userID}
	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT doc FROM mission_stats WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// First write for this user; keep the zero value.
	case err != nil:
		return nil, fmt.Errorf("updateStats load: %w", err)
	default:
		if err := json.Unmarshal(raw, stats); err != nil {
			return nil, fmt.Errorf("updateStats decode: %w", err)
		}
	}

	changed, err := mutate(stats)
	if err != nil {
		return nil, err
	}
	if !changed {
		return stats, nil
	}

	stats.UpdatedAt = time.Now().UTC()
	next, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("updateStats encode: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO mission_stats (user_id, doc)
		 VALUES ($1, $2::jsonb)
		 ON CONFLICT (user_id) DO UPDATE SET doc = EXCLUDED.doc`,
		userID, next,
	); err != nil {
		return nil, fmt.Errorf("updateStats write: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("updateStats commit: %w", err)
	}
	return stats, nil
}
