// Package notify publishes achievement events for the Gateway SSE forward.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"jobmate/missions-service/internal/missions"
)

const channelMissionCompleted = "EVENT_MISSION_COMPLETED"

// Redis implements missions.Notifier by publishing EVENT_MISSION_COMPLETED,
// the same pattern the tracker uses for EVENT_CARD_MOVED. Fire-and-forget:
// a failed publish is logged, never propagated.
type Redis struct {
	rdb *redis.Client
}

// NewRedis returns a notifier over the given client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// completionPayload is the published event envelope. EventID lets
// downstream consumers deduplicate redeliveries.
type completionPayload struct {
	EventID      string `json:"eventId"`
	Type         string `json:"type"`
	UserID       string `json:"userId"`
	MissionID    string `json:"missionId"`
	MissionType  string `json:"missionType"`
	Title        string `json:"title"`
	RewardPoints int    `json:"rewardPoints"`
	CompletedAt  string `json:"completedAt"`
}

// MissionCompleted publishes one completion event.
func (n *Redis) MissionCompleted(ctx context.Context, userID string, ev missions.CompletionEvent) {
	payload, err := json.Marshal(completionPayload{
		EventID:      uuid.NewString(),
		Type:         channelMissionCompleted,
		UserID:       userID,
		MissionID:    ev.MissionID,
		MissionType:  string(ev.Type),
		Title:        ev.Title,
		RewardPoints: ev.RewardPoints,
		CompletedAt:  ev.CompletedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		slog.Warn("completion event encode failed", "missionId", ev.MissionID, "err", err)
		return
	}
	if err := n.rdb.Publish(ctx, channelMissionCompleted, payload).Err(); err != nil {
		slog.Warn("publish EVENT_MISSION_COMPLETED failed", "missionId", ev.MissionID, "err", err)
	}
}
