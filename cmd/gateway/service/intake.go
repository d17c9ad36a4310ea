package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/config"
	"github.com/opsrelay/opsrelay/common/logger"
	"github.com/opsrelay/opsrelay/common/models"
	"github.com/opsrelay/opsrelay/common/publisher"
	"github.com/opsrelay/opsrelay/common/repository"
	"github.com/opsrelay/opsrelay/common/telemetry"
	"github.com/opsrelay/opsrelay/common/webhook"
)

// Intake statuses returned to webhook callers
const (
	IntakeStatusOK        = "ok"
	IntakeStatusDuplicate = "duplicate"
	IntakeStatusChallenge = "challenge"
	IntakeStatusConfirmed = "subscription_confirmed"
)

// IntakeResult is the outcome of one webhook delivery
type IntakeResult struct {
	Status    string `json:"status"`
	ID        int64  `json:"id,omitempty"`
	Challenge string `json:"challenge,omitempty"`
}

// IntakeService runs the webhook pipeline: flag check, handshake
// short-circuits, signature verification, idempotent persistence, and
// best-effort publication.
type IntakeService struct {
	registry  *webhook.Registry
	events    *repository.EventRepository
	publisher *publisher.Publisher
	confirmer *webhook.SNSConfirmer
	cfg       *config.Config
	logger    *logger.Logger
	metrics   *telemetry.Metrics
}

// NewIntakeService creates the intake service
func NewIntakeService(
	registry *webhook.Registry,
	events *repository.EventRepository,
	pub *publisher.Publisher,
	confirmer *webhook.SNSConfirmer,
	cfg *config.Config,
	log *logger.Logger,
	metrics *telemetry.Metrics,
) *IntakeService {
	return &IntakeService{
		registry:  registry,
		events:    events,
		publisher: pub,
		confirmer: confirmer,
		cfg:       cfg,
		logger:    log,
		metrics:   metrics,
	}
}

// Accept processes one delivery for the named source
func (s *IntakeService) Accept(ctx context.Context, sourceName string, headers http.Header, body []byte) (*IntakeResult, error) {
	started := time.Now()
	defer func() {
		s.metrics.IntakeLatency.WithLabelValues(sourceName).Observe(time.Since(started).Seconds())
	}()

	source, err := s.registry.Lookup(sourceName)
	if err != nil {
		s.metrics.IntakeRejected.WithLabelValues(sourceName, "unknown_source").Inc()
		return nil, err
	}

	if !s.cfg.IntegrationEnabled(source.Name) {
		s.metrics.IntakeRejected.WithLabelValues(source.Name, "disabled").Inc()
		return nil, apperrors.New(apperrors.KindUnavailable, "integration disabled")
	}

	req := webhook.Request{Headers: headers, Body: body, Now: time.Now()}

	// Handshakes are answered without persisting anything
	if source.Challenge != nil {
		if challenge, ok := source.Challenge(req); ok {
			return &IntakeResult{Status: IntakeStatusChallenge, Challenge: challenge}, nil
		}
	}

	if source.Name == "cloudwatch" && webhook.IsSubscriptionConfirmation(headers) {
		if err := s.confirmer.Confirm(ctx, body); err != nil {
			return nil, err
		}
		return &IntakeResult{Status: IntakeStatusConfirmed}, nil
	}

	deliveryID := source.DeriveDeliveryID(req)

	// Early duplicate check saves signature work on replays; the unique
	// index remains the real guarantee.
	if existingID, exists, err := s.events.ExistsByDeliveryID(ctx, deliveryID); err == nil && exists {
		s.metrics.IntakeDuplicate.WithLabelValues(source.Name).Inc()
		return &IntakeResult{Status: IntakeStatusDuplicate, ID: existingID}, nil
	}

	if err := s.verify(source, req); err != nil {
		s.metrics.IntakeRejected.WithLabelValues(source.Name, "signature").Inc()
		return nil, err
	}

	record := newEventRecord(source, req, deliveryID)

	id, inserted, err := s.events.InsertIdempotent(ctx, record)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "event store unavailable")
	}
	if !inserted {
		s.metrics.IntakeDuplicate.WithLabelValues(source.Name).Inc()
		return &IntakeResult{Status: IntakeStatusDuplicate, ID: id}, nil
	}

	record.ID = id
	s.publisher.Publish(ctx, record)
	s.metrics.IntakeAccepted.WithLabelValues(source.Name).Inc()

	s.logger.WithContext(ctx).Info("accepted webhook delivery",
		"source", source.Name,
		"event_type", record.EventType,
		"delivery_id", deliveryID,
		"event_id", id)

	return &IntakeResult{Status: IntakeStatusOK, ID: id}, nil
}

// verify runs the source's signature check. Slack is special: when signing is
// marked required, an unconfigured secret rejects instead of skipping.
func (s *IntakeService) verify(source *webhook.Source, req webhook.Request) error {
	if source.Verify == nil {
		if source.Name == "slack" && s.cfg.Secrets.SlackSigningRequired {
			return apperrors.New(apperrors.KindAuthentication, "slack signing required but no secret configured")
		}
		return nil
	}
	return source.Verify(req)
}

// PurgeExpired deletes events past the retention horizon
func (s *IntakeService) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.Intake.RetentionDays)
	purged, err := s.events.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired events: %w", err)
	}
	if purged > 0 {
		s.logger.Info("purged expired events", "count", purged, "cutoff", cutoff.Format(time.RFC3339))
	}
	return purged, nil
}

// newEventRecord builds the row for one verified delivery. ReceivedAt is
// stamped here: the insert supplies the column explicitly, and retention,
// the DORA views, and the signal queries all key on it.
func newEventRecord(source *webhook.Source, req webhook.Request, deliveryID string) *models.EventRecord {
	receivedAt := req.Now
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	record := &models.EventRecord{
		Source:     source.Name,
		EventType:  source.DeriveEventType(req),
		DeliveryID: deliveryID,
		Headers:    flattenHeaders(req.Headers),
		Payload:    string(req.Body),
		ReceivedAt: receivedAt.UTC(),
	}
	if sig := source.RawSignature(req); sig != "" {
		record.Signature = &sig
	}
	return record
}

func flattenHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}
