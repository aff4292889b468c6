package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aistudyjp/entitlement-service/internal/models"
)

// GetEntitlement returns the entitlement fields of a user.
func (s *Storage) GetEntitlement(ctx context.Context, userUID string) (*models.Entitlement, error) {
	const op = "storage.GetEntitlement"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT uid, subscription_status, trial_started_at, trial_ends_at,
				  auto_renew, external_subscription_id, paid_through, last_verified_at
			  FROM users
			  WHERE uid = $1`
	row := s.DB.QueryRowContext(ctx, query, userUID)

	var ent models.Entitlement
	var trialStartedAt, trialEndsAt, paidThrough, lastVerifiedAt sql.NullTime
	var externalID sql.NullString
	if err := row.Scan(&ent.UserUID, &ent.Status, &trialStartedAt, &trialEndsAt,
		&ent.AutoRenew, &externalID, &paidThrough, &lastVerifiedAt); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if trialStartedAt.Valid {
		ent.TrialStartedAt = &trialStartedAt.Time
	}
	if trialEndsAt.Valid {
		ent.TrialEndsAt = &trialEndsAt.Time
	}
	if externalID.Valid {
		ent.ExternalSubscriptionID = &externalID.String
	}
	if paidThrough.Valid {
		ent.PaidThrough = &paidThrough.Time
	}
	if lastVerifiedAt.Valid {
		ent.LastVerifiedAt = &lastVerifiedAt.Time
	}
	return &ent, nil
}

// StartTrial activates the trial for a user that never held any
// entitlement. The status guard in the WHERE clause makes the trial
// single-use: a second call matches zero rows.
func (s *Storage) StartTrial(ctx context.Context, userUID string, startedAt, endsAt time.Time) (int, error) {
	const op = "storage.StartTrial"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET subscription_status = $1,
				  trial_started_at = $2,
				  trial_ends_at = $3
			  WHERE uid = $4
				  AND subscription_status = $5`
	result, err := s.DB.ExecContext(ctx, query,
		models.StatusTrial, startedAt, endsAt, userUID, models.StatusNone)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// ExpireTrial moves a lapsed trial to expired. The status guard keeps
// the transition idempotent under concurrent readers: whichever reader
// runs the update first wins and the rest match zero rows.
func (s *Storage) ExpireTrial(ctx context.Context, userUID string, now time.Time) (int, error) {
	const op = "storage.ExpireTrial"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET subscription_status = $1
			  WHERE uid = $2
				  AND subscription_status = $3
				  AND trial_ends_at <= $4`
	result, err := s.DB.ExecContext(ctx, query,
		models.StatusExpired, userUID, models.StatusTrial, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// CancelEntitlement turns off auto-renew and marks the entitlement
// canceled. Canceling an already terminal entitlement matches zero
// rows, which callers treat as a no-op.
func (s *Storage) CancelEntitlement(ctx context.Context, userUID string) (int, error) {
	const op = "storage.CancelEntitlement"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET subscription_status = $1,
				  auto_renew = false
			  WHERE uid = $2
				  AND subscription_status IN ($3, $4, $5)`
	result, err := s.DB.ExecContext(ctx, query,
		models.StatusCanceled, userUID,
		models.StatusTrial, models.StatusActive, models.StatusPastDue)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// ReconcileEntitlement overwrites the entitlement with the state
// confirmed by the billing provider.
func (s *Storage) ReconcileEntitlement(ctx context.Context, userUID string,
	status models.SubscriptionStatus, externalID *string, paidThrough *time.Time,
	autoRenew bool, verifiedAt time.Time) (int, error) {
	const op = "storage.ReconcileEntitlement"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET subscription_status = $1,
				  external_subscription_id = COALESCE($2, external_subscription_id),
				  paid_through = COALESCE($3, paid_through),
				  auto_renew = $4,
				  last_verified_at = $5
			  WHERE uid = $6`
	result, err := s.DB.ExecContext(ctx, query,
		status, externalID, paidThrough, autoRenew, verifiedAt, userUID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// FindUserUIDByExternalID resolves a billing subscription id back to
// the owning user.
func (s *Storage) FindUserUIDByExternalID(ctx context.Context, externalID string) (string, error) {
	const op = "storage.FindUserUIDByExternalID"
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT uid
			  FROM users
			  WHERE external_subscription_id = $1`
	var uid string
	if err := s.DB.QueryRowContext(ctx, query, externalID).Scan(&uid); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return uid, nil
}
