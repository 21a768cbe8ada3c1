package gtmi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/RomaoFilipe/StockBackup-sub004/zapLogger"
)

// Event is one UI notification pushed to the external pub/sub collaborator
// after a successful workflow or lifecycle mutation.
type Event struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	TenantID uint           `json:"tenantId"`
	Audience string         `json:"audience"`
	UserID   *uint          `json:"userId,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Notifier is the injected publish boundary. Delivery semantics (at-most-once,
// no backpressure) belong to the implementation, not the engines.
type Notifier interface {
	Publish(ctx context.Context, event Event)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, Event) {}

// RedisNotifier publishes events on per-tenant redis channels.
//
// Publish failures are non-fatal: they are logged and never propagated, so a
// broken notification channel cannot interrupt a committed operation.
type RedisNotifier struct {
	Client  *redis.Client
	Channel string // channel prefix, defaults to "gtmi:events"
}

// NewRedisNotifier wraps a redis client with the default channel prefix.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{Client: client}
}

func (n *RedisNotifier) channel(tenantID uint) string {
	prefix := n.Channel
	if prefix == "" {
		prefix = "gtmi:events"
	}
	return fmt.Sprintf("%s:%d", prefix, tenantID)
}

func (n *RedisNotifier) Publish(ctx context.Context, event Event) {
	if n.Client == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	data, err := json.Marshal(event)
	if err != nil {
		zapLogger.Log.Warnf("notify: failed to marshal %s event: %v", event.Type, err)
		return
	}
	if err := n.Client.Publish(ctx, n.channel(event.TenantID), data).Err(); err != nil {
		zapLogger.Log.Warnf("notify: failed to publish %s event: %v", event.Type, err)
	}
}

// publish emits one event through the configured notifier.
func (s *Service) publish(ctx context.Context, eventType string, tenantID uint, audience string, userID *uint, payload map[string]any) {
	s.notifier.Publish(ctx, Event{
		ID:       uuid.NewString(),
		Type:     eventType,
		TenantID: tenantID,
		Audience: audience,
		UserID:   userID,
		Payload:  payload,
	})
}
