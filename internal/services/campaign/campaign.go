// Package campaign contains the business logic of campaign code
// redemption.
package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aistudyjp/entitlement-service/internal/billing"
	"github.com/aistudyjp/entitlement-service/internal/errs"
	"github.com/aistudyjp/entitlement-service/internal/lib/sl"
	"github.com/aistudyjp/entitlement-service/internal/models"
)

// Repository defines the storage methods the service needs.
type Repository interface {
	// FindCampaignCode returns a campaign code row and whether it exists.
	FindCampaignCode(ctx context.Context, code string) (*models.CampaignCode, bool, error)
	// HasRedemption reports whether the user already redeemed the code.
	HasRedemption(ctx context.Context, userUID, code string) (bool, error)
	// RedeemCampaign records the redemption, consumes quota and
	// activates the entitlement in one transaction.
	RedeemCampaign(ctx context.Context, userUID, code, externalID string, periodEnd, now time.Time) error
}

// BillingProvider opens subscription cycles at the payment provider.
type BillingProvider interface {
	CreateFreeCycle(ctx context.Context, userUID, campaignCode string) (*billing.CycleConfirmation, error)
}

// Cache describes the status cache methods the service needs.
type Cache interface {
	Invalidate(key string) error
}

// EventPublisher publishes entitlement change events to the broker.
type EventPublisher interface {
	Publish(routingkey string, message any) error
}

// Service implements idempotent campaign redemption.
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

// Normalize maps user input to the canonical code form.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Redeem applies a campaign code to the user's entitlement. The same
// user redeeming the same code twice gets ErrCodeAlreadyUsed from the
// ledger, never a second activation. The provider call happens before
// the local transaction, so a provider failure leaves no local trace.
func (s *Service) Redeem(ctx context.Context, userUID, rawCode string) error {
	code := Normalize(rawCode)
	if code == "" {
		return errs.ErrInvalidCode
	}

	// Cheap pre-checks before calling the provider. The transaction
	// re-checks everything, these only avoid pointless provider calls.
	used, err := s.repo.HasRedemption(ctx, userUID, code)
	if err != nil {
		return err
	}
	if used {
		return errs.ErrCodeAlreadyUsed
	}

	cc, found, err := s.repo.FindCampaignCode(ctx, code)
	if err != nil {
		return err
	}
	if !found {
		return errs.ErrInvalidCode
	}

	now := s.now().UTC()
	if !cc.IsActive {
		return errs.ErrInvalidCode
	}
	if cc.ValidFrom != nil && now.Before(*cc.ValidFrom) {
		return errs.ErrInvalidCode
	}
	if cc.ValidUntil != nil && now.After(*cc.ValidUntil) {
		return errs.ErrInvalidCode
	}
	if cc.MaxUses > 0 && cc.UsedCount >= cc.MaxUses {
		return errs.ErrQuotaExhausted
	}

	confirmation, err := s.provider.CreateFreeCycle(ctx, userUID, code)
	if err != nil {
		s.log.Error("provider rejected campaign cycle",
			slog.String("user_uid", userUID),
			slog.String("code", code),
			sl.Err(err))
		return err
	}

	if err := s.repo.RedeemCampaign(ctx, userUID, code,
		confirmation.SubscriptionID, confirmation.PeriodEnd, now); err != nil {
		return err
	}

	s.log.Info("campaign code redeemed",
		slog.String("user_uid", userUID),
		slog.String("code", code),
		slog.String("subscription_id", confirmation.SubscriptionID))

	key := fmt.Sprintf("entitlement:%s", userUID)
	if err := s.cache.Invalidate(key); err != nil {
		s.log.Warn("failed to invalidate status cache", slog.String("key", key), sl.Err(err))
	}

	event := models.EntitlementEvent{
		UserUID:    userUID,
		Status:     models.StatusActive,
		Reason:     "campaign_redeemed",
		OccurredAt: now,
	}
	if err := s.publisher.Publish("entitlement.status.active", event); err != nil {
		s.log.Warn("failed to publish entitlement event",
			slog.String("user_uid", userUID), sl.Err(err))
	}

	return nil
}
