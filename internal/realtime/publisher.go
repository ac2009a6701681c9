// README: Realtime event fan-out to subscribed clients.
package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"greenmile/internal/types"
)

// Event types pushed to trip and user topics.
const (
	EventRiderLocation      = "rider_location"
	EventOrderStatusChanged = "order_status_changed"
	EventStopCompleted      = "stop_completed"
	EventTripCompleted      = "trip_completed"
)

type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Publisher fans an event out to every subscriber of a topic. Delivery is
// fire-and-forget: no guarantee is assumed by callers.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev Event) error
}

// TripTopic is the channel customers subscribe to for a trip's live updates.
func TripTopic(tripID types.ID) string {
	return "trip:" + string(tripID)
}

// UserTopic is the per-user channel for order status notifications.
func UserTopic(userID types.ID) string {
	return "user:" + string(userID)
}

// RedisPublisher pushes events over Redis pub/sub; the websocket gateway
// subscribes on behalf of connected clients.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, "rt:"+topic, data).Err()
}

// NopPublisher discards all events. Used in tests and when Redis is absent.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
