package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/pdfshrink/pdfshrink/app/models"
	"github.com/pdfshrink/pdfshrink/internal/pkg/webhook"
)

const CodeInvalidPayload = "invalid_payload"

var errStaleEvent = errors.New("stale event: subscription already has a newer update")

// Service applies payment provider events to local subscription state.
type Service struct {
	repo      Repository
	publisher Publisher
	provider  string
	now       func() time.Time
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, provider: models.WebhookProviderPayments, now: time.Now}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// WithPublisher sets the downstream publisher for processed events.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

var _ webhook.EventHandler = (*Service)(nil)

// HandleEvent records the event durably and applies its subscription side
// effects. Events already processed successfully are skipped, which keeps
// redeliveries after a restart harmless.
func (s *Service) HandleEvent(ctx context.Context, evt *webhook.Event) error {
	if evt == nil {
		return webhook.NewHandlerError(fiber.StatusUnprocessableEntity, CodeInvalidPayload, errors.New("event is required"))
	}

	created, stored, err := s.RecordWebhookEvent(ctx, evt)
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	if !created && stored.IsProcessed() {
		log.Infof("[Billing] event %s already processed at %s, skipping", stored.ProviderEventID, stored.ProcessedAt.Format(time.RFC3339))
		return nil
	}

	applyErr := s.apply(ctx, evt)
	markErr := applyErr
	if errors.Is(applyErr, errStaleEvent) {
		applyErr = nil
	}
	if err := s.MarkWebhookProcessed(ctx, stored.ID, markErr); err != nil {
		log.Errorf("[Billing] failed to mark event %s processed: %v", stored.ProviderEventID, err)
	}
	if applyErr != nil {
		return applyErr
	}

	s.publish(ctx, evt)
	return nil
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, evt *webhook.Event) (bool, *models.WebhookEvent, error) {
	_ = ctx
	eventID := strings.TrimSpace(evt.ID)
	if eventID == "" {
		sum := sha256.Sum256(evt.Payload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        s.provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(evt.Type),
		CorrelationID:   webhook.CorrelationIDFromContext(ctx),
		PayloadJSON:     string(evt.Payload),
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

func (s *Service) apply(ctx context.Context, evt *webhook.Event) error {
	eventType := strings.ToLower(strings.TrimSpace(evt.Type))

	var status string
	if _, ok := activatingEvents[eventType]; ok {
		status = models.BillingStatusActive
	} else if _, ok := cancelingEvents[eventType]; ok {
		status = models.BillingStatusCanceled
	} else if _, ok := paymentFailedEvents[eventType]; ok {
		status = models.BillingStatusPastDue
	} else {
		log.Debugf("[Billing] ignoring event type %q", evt.Type)
		return nil
	}

	// Fields live under "data" or, for flat payloads, at the top level.
	raw := evt.Data
	if len(raw) == 0 {
		raw = evt.Payload
	}
	var data SubscriptionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return webhook.NewHandlerError(fiber.StatusUnprocessableEntity, CodeInvalidPayload, err)
	}
	if data.UserID == 0 || strings.TrimSpace(data.SubscriptionID) == "" {
		return webhook.NewHandlerError(fiber.StatusUnprocessableEntity, CodeInvalidPayload, errors.New("user_id and subscription_id are required"))
	}

	// Activating events may carry a more specific status (trialing, ...).
	if status == models.BillingStatusActive {
		status = normalizeStatus(data.Status, models.BillingStatusActive)
	}

	_, err := s.SyncSubscription(ctx, evt, data, status)
	return err
}

// SyncSubscription upserts the subscription named by data and reconciles the
// user's plan. Events older than the last applied one are not applied.
func (s *Service) SyncSubscription(ctx context.Context, evt *webhook.Event, data SubscriptionData, status string) (string, error) {
	subID := strings.TrimSpace(data.SubscriptionID)
	eventAt := s.eventTime(evt)

	existing, err := s.repo.GetSubscription(s.provider, subID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	plan := normalizePlan(data.Plan)
	if existing != nil {
		if existing.LastEventAt != nil && eventAt.Before(*existing.LastEventAt) {
			log.Infof("[Billing] event %s for subscription %s is older than the last applied update, not applying", evt.ID, subID)
			return "", errStaleEvent
		}
		if strings.TrimSpace(data.Plan) == "" {
			plan = normalizePlan(existing.InternalPlan)
		}
	}

	sub := &models.BillingSubscription{
		UserID:                 data.UserID,
		Provider:               s.provider,
		ProviderSubscriptionID: subID,
		InternalPlan:           plan,
		Status:                 status,
		LastEventID:            evt.ID,
		LastEventAt:            &eventAt,
	}
	if data.CurrentPeriodEnd > 0 {
		end := time.Unix(data.CurrentPeriodEnd, 0).UTC()
		sub.CurrentPeriodEnd = &end
	}
	if err := s.repo.UpsertSubscription(sub); err != nil {
		return "", err
	}

	return s.ReconcileUserPlan(ctx, data.UserID)
}

// ReconcileUserPlan computes and writes the best effective plan for a user.
func (s *Service) ReconcileUserPlan(ctx context.Context, userID uint) (string, error) {
	_ = ctx
	if userID == 0 {
		return "", errors.New("user_id is required")
	}

	subs, err := s.repo.ListSubscriptionsByUser(userID)
	if err != nil {
		return "", err
	}

	best := PlanFree
	for _, sub := range subs {
		if !isEntitlingStatus(sub.Status) {
			continue
		}
		candidate := normalizePlan(sub.InternalPlan)
		if planRank(candidate) > planRank(best) {
			best = candidate
		}
	}

	up, err := s.repo.GetOrCreateUserPlan(userID)
	if err != nil {
		return "", err
	}
	if normalizePlan(up.Plan) == best {
		return best, nil
	}
	log.Infof("[Billing] user %d plan %s -> %s", userID, normalizePlan(up.Plan), best)
	up.Plan = best
	if err := s.repo.SaveUserPlan(up); err != nil {
		return "", err
	}
	return best, nil
}

func (s *Service) eventTime(evt *webhook.Event) time.Time {
	var meta envelopeMeta
	if len(evt.Payload) > 0 && json.Unmarshal(evt.Payload, &meta) == nil && meta.Created > 0 {
		return time.Unix(meta.Created, 0).UTC()
	}
	return s.now().UTC()
}

func (s *Service) publish(ctx context.Context, evt *webhook.Event) {
	if s.publisher == nil {
		return
	}
	msg, err := json.Marshal(PublishedEvent{
		ID:            evt.ID,
		Type:          evt.Type,
		CorrelationID: webhook.CorrelationIDFromContext(ctx),
		Data:          evt.Data,
		ProcessedAt:   s.now().UTC(),
	})
	if err != nil {
		log.Errorf("[Billing] failed to encode event %s for publishing: %v", evt.ID, err)
		return
	}
	if err := s.publisher.Publish(ctx, evt.ID, msg); err != nil {
		log.Errorf("[Billing] failed to publish event %s: %v", evt.ID, err)
	}
}
