package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aistudyjp/entitlement-service/internal/errs"
	"github.com/aistudyjp/entitlement-service/internal/models"
)

// FindCampaignCode returns a campaign code row. The second return
// value reports whether the code exists at all.
func (s *Storage) FindCampaignCode(ctx context.Context, code string) (*models.CampaignCode, bool, error) {
	const op = "storage.FindCampaignCode"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT code, description, valid_from, valid_until, max_uses, used_count, is_active
			  FROM campaign_codes
			  WHERE code = $1`
	row := s.DB.QueryRowContext(ctx, query, code)

	var cc models.CampaignCode
	var validFrom, validUntil sql.NullTime
	if err := row.Scan(&cc.Code, &cc.Description, &validFrom, &validUntil,
		&cc.MaxUses, &cc.UsedCount, &cc.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	if validFrom.Valid {
		cc.ValidFrom = &validFrom.Time
	}
	if validUntil.Valid {
		cc.ValidUntil = &validUntil.Time
	}
	return &cc, true, nil
}

// HasRedemption reports whether the user already redeemed the code.
func (s *Storage) HasRedemption(ctx context.Context, userUID, code string) (bool, error) {
	const op = "storage.HasRedemption"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT EXISTS (
				  SELECT 1 FROM campaign_redemptions
				  WHERE user_uid = $1 AND code = $2
			  )`
	var exists bool
	if err := s.DB.QueryRowContext(ctx, query, userUID, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// RedeemCampaign records a redemption, consumes one quota unit and
// activates the entitlement in a single transaction. The ledger insert
// carries the per-user idempotence: a repeat redemption hits the
// primary key conflict, inserts nothing and the whole transaction
// rolls back without touching the counter.
func (s *Storage) RedeemCampaign(ctx context.Context, userUID, code string,
	externalID string, periodEnd time.Time, now time.Time) error {
	const op = "storage.RedeemCampaign"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ledgerQuery := `INSERT INTO campaign_redemptions (user_uid, code, redeemed_at)
					VALUES ($1, $2, $3)
					ON CONFLICT (user_uid, code) DO NOTHING`
	result, err := tx.ExecContext(ctx, ledgerQuery, userUID, code, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrCodeAlreadyUsed)
	}

	quotaQuery := `UPDATE campaign_codes
				   SET used_count = used_count + 1
				   WHERE code = $1
					   AND is_active = true
					   AND (max_uses <= 0 OR used_count < max_uses)`
	result, err = tx.ExecContext(ctx, quotaQuery, code)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		// The code may have been deactivated or deleted after the
		// service pre-check. Distinguish that from a spent quota so
		// the rejection reported to the client stays truthful.
		var isActive bool
		err = tx.QueryRowContext(ctx,
			`SELECT is_active FROM campaign_codes WHERE code = $1`, code).Scan(&isActive)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, errs.ErrInvalidCode)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !isActive {
			return fmt.Errorf("%s: %w", op, errs.ErrInvalidCode)
		}
		return fmt.Errorf("%s: %w", op, errs.ErrQuotaExhausted)
	}

	entitlementQuery := `UPDATE users
						 SET subscription_status = $1,
							 external_subscription_id = $2,
							 paid_through = $3,
							 last_verified_at = $4
						 WHERE uid = $5`
	if _, err = tx.ExecContext(ctx, entitlementQuery,
		models.StatusActive, externalID, periodEnd, now, userUID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
