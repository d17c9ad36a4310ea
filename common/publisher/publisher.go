package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/opsrelay/opsrelay/common/logger"
	"github.com/opsrelay/opsrelay/common/models"
	"github.com/opsrelay/opsrelay/common/redis"
	"github.com/opsrelay/opsrelay/common/telemetry"
)

// Publisher fans accepted events out on per-source stream subjects. Publishing
// is strictly best-effort: a broker failure is logged and counted but never
// surfaces to the webhook caller.
type Publisher struct {
	redis   *redis.Client
	logger  *logger.Logger
	metrics *telemetry.Metrics
}

// New creates a publisher. A nil redis client disables publishing entirely.
func New(redisClient *redis.Client, log *logger.Logger, metrics *telemetry.Metrics) *Publisher {
	return &Publisher{
		redis:   redisClient,
		logger:  log,
		metrics: metrics,
	}
}

// Publish announces an accepted event on "events.<source>". The announcement
// carries a digest instead of the payload so consumers re-read the store.
func (p *Publisher) Publish(ctx context.Context, event *models.EventRecord) {
	if p.redis == nil {
		return
	}

	digest := sha256.Sum256([]byte(event.Payload))
	values := map[string]interface{}{
		"id":             event.ID,
		"source":         event.Source,
		"event_type":     event.EventType,
		"received_at":    event.ReceivedAt.UTC().Format(time.RFC3339Nano),
		"payload_digest": hex.EncodeToString(digest[:]),
	}

	if _, err := p.redis.AddToStream(ctx, "events."+event.Source, values); err != nil {
		p.metrics.PublishFailures.WithLabelValues(event.Source).Inc()
		p.logger.WithContext(ctx).Warn("failed to publish event announcement",
			"source", event.Source,
			"event_id", event.ID,
			"error", err)
	}
}
