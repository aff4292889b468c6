// Package reconcile keeps local entitlements in sync with the payment
// provider: webhook event processing and purchase receipt verification.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aistudyjp/entitlement-service/internal/billing"
	"github.com/aistudyjp/entitlement-service/internal/errs"
	"github.com/aistudyjp/entitlement-service/internal/lib/receipt"
	"github.com/aistudyjp/entitlement-service/internal/lib/sl"
	"github.com/aistudyjp/entitlement-service/internal/models"
)

// Repository defines the storage methods the service needs.
type Repository interface {
	// ReconcileEntitlement overwrites the entitlement with the state
	// confirmed by the provider and returns the number of updated rows.
	ReconcileEntitlement(ctx context.Context, userUID string, status models.SubscriptionStatus,
		externalID *string, paidThrough *time.Time, autoRenew bool, verifiedAt time.Time) (int, error)
	// FindUserUIDByExternalID resolves a billing subscription id to the
	// owning user.
	FindUserUIDByExternalID(ctx context.Context, externalID string) (string, error)
}

// BillingProvider verifies receipts at the payment provider.
type BillingProvider interface {
	VerifyReceipt(ctx context.Context, platform, receipt string) (*billing.ReceiptConfirmation, error)
}

// Cache describes the status cache methods the service needs.
type Cache interface {
	Invalidate(key string) error
}

// EventPublisher publishes entitlement change events to the broker.
type EventPublisher interface {
	Publish(routingkey string, message any) error
}

// Service implements payment reconciliation.
type Service struct {
	repo      Repository
	provider  BillingProvider
	cache     Cache
	publisher EventPublisher
	log       *slog.Logger
	now       func() time.Time
}

// New creates a Service.
func New(repo Repository, provider BillingProvider, cache Cache, publisher EventPublisher, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		provider:  provider,
		cache:     cache,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// eventStatus maps provider webhook event names to entitlement
// statuses. Unknown events are acknowledged and skipped.
func eventStatus(event string) (models.SubscriptionStatus, string, bool) {
	switch event {
	case "payment.succeeded", "subscription.renewed":
		return models.StatusActive, "payment_succeeded", true
	case "payment.payment_failed", "subscription.past_due":
		return models.StatusPastDue, "payment_failed", true
	case "payment.canceled", "payment.refunded", "subscription.canceled":
		return models.StatusCanceled, "subscription_canceled", true
	default:
		return "", "", false
	}
}

// ProcessWebhookEvent applies one provider webhook event to the local
// entitlement. The user is resolved from event metadata, falling back
// to the stored external subscription id.
func (s *Service) ProcessWebhookEvent(ctx context.Context, event models.WebhookEvent) error {
	status, reason, known := eventStatus(event.Event)
	if !known {
		s.log.Info("skipping unknown webhook event", slog.String("event", event.Event))
		return nil
	}

	userUID := event.Object.Metadata["user_uid"]
	if userUID == "" {
		var err error
		userUID, err = s.repo.FindUserUIDByExternalID(ctx, event.Object.ID)
		if errors.Is(err, sql.ErrNoRows) {
			s.log.Warn("webhook event matched no user",
				slog.String("external_id", event.Object.ID),
				slog.String("event", event.Event))
			return nil
		}
		if err != nil {
			return fmt.Errorf("resolve webhook user: %w", err)
		}
	}

	now := s.now().UTC()
	externalID := event.Object.ID
	var paidThrough *time.Time
	if !event.Object.PeriodEnd.IsZero() {
		paidThrough = &event.Object.PeriodEnd
	}

	rows, err := s.repo.ReconcileEntitlement(ctx, userUID, status,
		&externalID, paidThrough, event.Object.AutoRenew, now)
	if err != nil {
		return err
	}
	if rows == 0 {
		s.log.Warn("webhook event matched no user",
			slog.String("user_uid", userUID),
			slog.String("event", event.Event))
		return nil
	}

	s.log.Info("webhook event applied",
		slog.String("user_uid", userUID),
		slog.String("event", event.Event),
		slog.String("status", string(status)))

	s.invalidateCache(userUID)
	s.publishEvent(userUID, status, reason, now)
	return nil
}

// VerifyReceipt validates a purchase receipt and reconciles the
// entitlement with the provider's verdict. Structural validation runs
// first, so a malformed or locally-expired receipt never reaches the
// provider.
func (s *Service) VerifyReceipt(ctx context.Context, userUID, platform, token string) (*models.Entitlement, error) {
	now := s.now().UTC()

	if _, err := receipt.Parse(token, now); err != nil {
		if errors.Is(err, receipt.ErrMalformed) || errors.Is(err, receipt.ErrExpired) {
			return nil, fmt.Errorf("%w: %v", errs.ErrVerificationFailed, err)
		}
		return nil, err
	}

	confirmation, err := s.provider.VerifyReceipt(ctx, platform, token)
	if err != nil {
		s.log.Error("receipt verification failed",
			slog.String("user_uid", userUID),
			slog.String("platform", platform),
			sl.Err(err))
		return nil, err
	}

	status := confirmationStatus(confirmation)
	var paidThrough *time.Time
	if !confirmation.ExpiresAt.IsZero() {
		paidThrough = &confirmation.ExpiresAt
	}
	externalID := confirmation.SubscriptionID

	if _, err := s.repo.ReconcileEntitlement(ctx, userUID, status,
		&externalID, paidThrough, confirmation.AutoRenew, now); err != nil {
		return nil, err
	}

	s.log.Info("receipt verified",
		slog.String("user_uid", userUID),
		slog.String("platform", platform),
		slog.String("status", string(status)))

	s.invalidateCache(userUID)
	s.publishEvent(userUID, status, "receipt_verified", now)

	return &models.Entitlement{
		UserUID:                userUID,
		Status:                 status,
		AutoRenew:              confirmation.AutoRenew,
		ExternalSubscriptionID: &externalID,
		PaidThrough:            paidThrough,
		LastVerifiedAt:         &now,
	}, nil
}

func confirmationStatus(c *billing.ReceiptConfirmation) models.SubscriptionStatus {
	switch c.Status {
	case "active":
		return models.StatusActive
	case "past_due", "in_grace_period":
		return models.StatusPastDue
	case "canceled":
		return models.StatusCanceled
	default:
		return models.StatusExpired
	}
}

func (s *Service) invalidateCache(userUID string) {
	key := fmt.Sprintf("entitlement:%s", userUID)
	if err := s.cache.Invalidate(key); err != nil {
		s.log.Warn("failed to invalidate status cache", slog.String("key", key), sl.Err(err))
	}
}

func (s *Service) publishEvent(userUID string, status models.SubscriptionStatus, reason string, at time.Time) {
	event := models.EntitlementEvent{
		UserUID:    userUID,
		Status:     status,
		Reason:     reason,
		OccurredAt: at,
	}
	if err := s.publisher.Publish("entitlement.status."+string(status), event); err != nil {
		s.log.Warn("failed to publish entitlement event",
			slog.String("user_uid", userUID), sl.Err(err))
	}
}
