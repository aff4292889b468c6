// Package entitlement contains the business logic of the trial
// lifecycle and status evaluation.
package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aistudyjp/entitlement-service/internal/errs"
	"github.com/aistudyjp/entitlement-service/internal/lib/sl"
	"github.com/aistudyjp/entitlement-service/internal/models"
)

// TrialLength is how long the free trial runs after activation.
const TrialLength = 30 * 24 * time.Hour

const cacheTTL = 5 * time.Minute

// Repository defines the storage methods the service needs.
type Repository interface {
	// GetEntitlement returns the entitlement fields of a user.
	GetEntitlement(ctx context.Context, userUID string) (*models.Entitlement, error)
	// StartTrial activates the trial for a user without any entitlement
	// and returns the number of updated rows.
	StartTrial(ctx context.Context, userUID string, startedAt, endsAt time.Time) (int, error)
	// ExpireTrial moves a lapsed trial to expired and returns the
	// number of updated rows.
	ExpireTrial(ctx context.Context, userUID string, now time.Time) (int, error)
	// CancelEntitlement marks the entitlement canceled and returns the
	// number of updated rows.
	CancelEntitlement(ctx context.Context, userUID string) (int, error)
}

// Cache describes the status cache methods.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// EventPublisher publishes entitlement change events to the broker.
type EventPublisher interface {
	Publish(routingkey string, message any) error
}

// Service implements trial activation, cancellation and status
// evaluation with write-on-read trial expiry.
type Service struct {
	repo      Repository
	cache     Cache
	publisher EventPublisher
	log       *slog.Logger
	now       func() time.Time
}

// New creates a Service.
func New(repo Repository, cache Cache, publisher EventPublisher, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

func cacheKey(userUID string) string {
	return fmt.Sprintf("entitlement:%s", userUID)
}

// StartTrial activates the free trial for a user that never held any
// entitlement. Any existing entitlement, including an expired one,
// makes the request fail.
func (s *Service) StartTrial(ctx context.Context, userUID string) (*models.Entitlement, error) {
	now := s.now().UTC()
	endsAt := now.Add(TrialLength)

	rows, err := s.repo.StartTrial(ctx, userUID, now, endsAt)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, errs.ErrAlreadySubscribed
	}

	s.log.Info("trial activated",
		slog.String("user_uid", userUID),
		slog.Time("trial_ends_at", endsAt))

	s.invalidateCache(userUID)
	s.publishEvent(userUID, models.StatusTrial, "trial_started", now)

	return &models.Entitlement{
		UserUID:        userUID,
		Status:         models.StatusTrial,
		TrialStartedAt: &now,
		TrialEndsAt:    &endsAt,
	}, nil
}

// GetStatus evaluates the effective status of a user. A trial whose
// end has passed is persisted as expired before the answer is built,
// so a status is never computed twice from a stale trial.
func (s *Service) GetStatus(ctx context.Context, userUID string) (*models.StatusView, error) {
	key := cacheKey(userUID)

	var cached models.StatusView
	found, err := s.cache.Get(key, &cached)
	if err != nil {
		s.log.Warn("failed to read status cache", slog.String("key", key), sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	ent, err := s.repo.GetEntitlement(ctx, userUID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if ent.Status == models.StatusTrial && ent.TrialEndsAt != nil && !ent.TrialEndsAt.After(now) {
		if _, err := s.repo.ExpireTrial(ctx, userUID, now); err != nil {
			return nil, err
		}
		// Concurrent readers may race here; whoever persisted the
		// transition first already made it visible, so everyone
		// reports expired.
		ent.Status = models.StatusExpired
		s.log.Info("trial expired on read", slog.String("user_uid", userUID))
		s.publishEvent(userUID, models.StatusExpired, "trial_expired", now)
	}

	view := models.StatusView{Status: ent.Status}
	if ent.Status == models.StatusTrial && ent.TrialEndsAt != nil {
		days := int(math.Ceil(ent.TrialEndsAt.Sub(now).Hours() / 24))
		if days < 0 {
			days = 0
		}
		view.DaysRemaining = &days
	}

	if err := s.cache.Set(key, view, cacheTTL); err != nil {
		s.log.Warn("failed to cache status", slog.String("key", key), sl.Err(err))
	}

	return &view, nil
}

// Cancel turns off auto-renew and marks the entitlement canceled.
// Canceling an entitlement that is already terminal is a no-op.
func (s *Service) Cancel(ctx context.Context, userUID string) error {
	rows, err := s.repo.CancelEntitlement(ctx, userUID)
	if err != nil {
		return err
	}
	if rows == 0 {
		s.log.Info("cancel was a no-op", slog.String("user_uid", userUID))
		return nil
	}

	now := s.now().UTC()
	s.log.Info("entitlement canceled", slog.String("user_uid", userUID))
	s.invalidateCache(userUID)
	s.publishEvent(userUID, models.StatusCanceled, "canceled_by_user", now)
	return nil
}

func (s *Service) invalidateCache(userUID string) {
	key := cacheKey(userUID)
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
