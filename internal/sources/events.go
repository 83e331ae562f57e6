package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"jobmate/missions-service/internal/missions"
)

// Redis channels carrying source-collection change events. EVENT_CARD_MOVED
// is published by the tracker service on every Kanban move;
// EVENT_INTERVIEW_UPDATED by the coach service when preparation data
// changes.
const (
	channelCardMoved        = "EVENT_CARD_MOVED"
	channelInterviewUpdated = "EVENT_INTERVIEW_UPDATED"
)

// Events subscribes to the source-collection change channels. Implements
// missions.SourceFeed.
type Events struct {
	rdb *redis.Client
}

// NewEvents returns a feed over the given Redis client.
func NewEvents(rdb *redis.Client) *Events {
	return &Events{rdb: rdb}
}

// sourceEvent is the envelope shared by the tracker and coach events; only
// the user filter matters here.
type sourceEvent struct {
	UserID string `json:"userId"`
}

// SubscribeChanges streams change notifications for userID's applications
// and interviews until ctx is cancelled. Events for other users are
// filtered out; a malformed payload is logged and skipped.
func (e *Events) SubscribeChanges(ctx context.Context, userID string) (<-chan missions.SourceChange, error) {
	sub := e.rdb.Subscribe(ctx, channelCardMoved, channelInterviewUpdated)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribeChanges: %w", err)
	}

	out := make(chan missions.SourceChange)
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
				var ev sourceEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("malformed source event", "channel", msg.Channel, "err", err)
					continue
				}
				if ev.UserID != userID {
					continue
				}

				change := missions.SourceChange{Collection: missions.CollectionApplications}
				if msg.Channel == channelInterviewUpdated {
					change.Collection = missions.CollectionInterviews
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
