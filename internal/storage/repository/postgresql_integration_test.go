package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aistudyjp/entitlement-service/internal/errs"
	"github.com/aistudyjp/entitlement-service/internal/models"
)

func TestStorage_StartTrial(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	endsAt := now.AddDate(0, 0, 30)

	tests := []struct {
		name       string
		status     models.SubscriptionStatus
		wantRows   int
		wantStatus models.SubscriptionStatus
	}{
		{
			name:       "activates trial for fresh user",
			status:     models.StatusNone,
			wantRows:   1,
			wantStatus: models.StatusTrial,
		},
		{
			name:       "does not touch user already on trial",
			status:     models.StatusTrial,
			wantRows:   0,
			wantStatus: models.StatusTrial,
		},
		{
			name:       "does not touch expired user",
			status:     models.StatusExpired,
			wantRows:   0,
			wantStatus: models.StatusExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, cleanup := setupTestDatabase(t)
			defer cleanup()

			factory := NewTestDataFactory(storage)
			verify := NewTestVerification(storage)

			userUID := uuid.New().String()
			factory.CreateUser(t, userUID, "testuser", "test@example.com", tt.status)

			rows, err := storage.StartTrial(context.Background(), userUID, now, endsAt)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, rows)
			verify.VerifyStatus(t, userUID, tt.wantStatus)
		})
	}
}

func TestStorage_StartTrial_SecondCallMatchesNothing(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	now := time.Now().UTC()

	userUID := uuid.New().String()
	factory.CreateUser(t, userUID, "testuser", "test@example.com", models.StatusNone)

	rows, err := storage.StartTrial(context.Background(), userUID, now, now.AddDate(0, 0, 30))
	require.NoError(t, err)
	require.Equal(t, 1, rows)

	rows, err = storage.StartTrial(context.Background(), userUID, now, now.AddDate(0, 0, 30))
	require.NoError(t, err)
	assert.Equal(t, 0, rows)
}

func TestStorage_ExpireTrial(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		trialEndsAt time.Time
		wantRows    int
		wantStatus  models.SubscriptionStatus
	}{
		{
			name:        "expires lapsed trial",
			trialEndsAt: now.Add(-time.Hour),
			wantRows:    1,
			wantStatus:  models.StatusExpired,
		},
		{
			name:        "keeps running trial",
			trialEndsAt: now.Add(time.Hour),
			wantRows:    0,
			wantStatus:  models.StatusTrial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, cleanup := setupTestDatabase(t)
			defer cleanup()

			factory := NewTestDataFactory(storage)
			verify := NewTestVerification(storage)

			userUID := uuid.New().String()
			factory.CreateTrialUser(t, userUID, "testuser", "test@example.com",
				tt.trialEndsAt.AddDate(0, 0, -30), tt.trialEndsAt)

			rows, err := storage.ExpireTrial(context.Background(), userUID, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, rows)
			verify.VerifyStatus(t, userUID, tt.wantStatus)
		})
	}
}

func TestStorage_CancelEntitlement(t *testing.T) {
	tests := []struct {
		name       string
		status     models.SubscriptionStatus
		wantRows   int
		wantStatus models.SubscriptionStatus
	}{
		{
			name:       "cancels active entitlement",
			status:     models.StatusActive,
			wantRows:   1,
			wantStatus: models.StatusCanceled,
		},
		{
			name:       "cancels trial",
			status:     models.StatusTrial,
			wantRows:   1,
			wantStatus: models.StatusCanceled,
		},
		{
			name:       "cancel of canceled entitlement is a no-op",
			status:     models.StatusCanceled,
			wantRows:   0,
			wantStatus: models.StatusCanceled,
		},
		{
			name:       "cancel of expired entitlement is a no-op",
			status:     models.StatusExpired,
			wantRows:   0,
			wantStatus: models.StatusExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, cleanup := setupTestDatabase(t)
			defer cleanup()

			factory := NewTestDataFactory(storage)
			verify := NewTestVerification(storage)

			userUID := uuid.New().String()
			factory.CreateUser(t, userUID, "testuser", "test@example.com", tt.status)

			rows, err := storage.CancelEntitlement(context.Background(), userUID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, rows)
			verify.VerifyStatus(t, userUID, tt.wantStatus)
		})
	}
}

func TestStorage_RedeemCampaign(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	periodEnd := now.AddDate(0, 1, 0)

	t.Run("successful redemption activates entitlement", func(t *testing.T) {
		storage, cleanup := setupTestDatabase(t)
		defer cleanup()

		factory := NewTestDataFactory(storage)
		verify := NewTestVerification(storage)

		userUID := uuid.New().String()
		factory.CreateUser(t, userUID, "testuser", "test@example.com", models.StatusNone)
		factory.CreateCampaignCode(t, "AISTUDYTRIAL", 0, 0, true)

		err := storage.RedeemCampaign(context.Background(), userUID, "AISTUDYTRIAL", "sub-123", periodEnd, now)
		require.NoError(t, err)

		verify.VerifyStatus(t, userUID, models.StatusActive)
		verify.VerifyUsedCount(t, "AISTUDYTRIAL", 1)
		verify.VerifyRedemptionCount(t, userUID, 1)
	})

	t.Run("repeat redemption rolls back without touching the counter", func(t *testing.T) {
		storage, cleanup := setupTestDatabase(t)
		defer cleanup()

		factory := NewTestDataFactory(storage)
		verify := NewTestVerification(storage)

		userUID := uuid.New().String()
		factory.CreateUser(t, userUID, "testuser", "test@example.com", models.StatusNone)
		factory.CreateCampaignCode(t, "AISTUDYTRIAL", 0, 0, true)

		err := storage.RedeemCampaign(context.Background(), userUID, "AISTUDYTRIAL", "sub-123", periodEnd, now)
		require.NoError(t, err)

		err = storage.RedeemCampaign(context.Background(), userUID, "AISTUDYTRIAL", "sub-456", periodEnd, now)
		require.ErrorIs(t, err, errs.ErrCodeAlreadyUsed)

		verify.VerifyUsedCount(t, "AISTUDYTRIAL", 1)
		verify.VerifyRedemptionCount(t, userUID, 1)
	})

	t.Run("exhausted quota rolls back the ledger insert", func(t *testing.T) {
		storage, cleanup := setupTestDatabase(t)
		defer cleanup()

		factory := NewTestDataFactory(storage)
		verify := NewTestVerification(storage)

		userUID := uuid.New().String()
		factory.CreateUser(t, userUID, "testuser", "test@example.com", models.StatusNone)
		factory.CreateCampaignCode(t, "LIMITED", 5, 5, true)

		err := storage.RedeemCampaign(context.Background(), userUID, "LIMITED", "sub-123", periodEnd, now)
		require.ErrorIs(t, err, errs.ErrQuotaExhausted)

		verify.VerifyStatus(t, userUID, models.StatusNone)
		verify.VerifyUsedCount(t, "LIMITED", 5)
		verify.VerifyRedemptionCount(t, userUID, 0)
	})

	t.Run("inactive code is rejected as invalid and rolls back", func(t *testing.T) {
		storage, cleanup := setupTestDatabase(t)
		defer cleanup()

		factory := NewTestDataFactory(storage)
		verify := NewTestVerification(storage)

		userUID := uuid.New().String()
		factory.CreateUser(t, userUID, "testuser", "test@example.com", models.StatusNone)
		factory.CreateCampaignCode(t, "DISABLED", 0, 0, false)

		err := storage.RedeemCampaign(context.Background(), userUID, "DISABLED", "sub-123", periodEnd, now)
		require.ErrorIs(t, err, errs.ErrInvalidCode)
		verify.VerifyStatus(t, userUID, models.StatusNone)
		verify.VerifyUsedCount(t, "DISABLED", 0)
		verify.VerifyRedemptionCount(t, userUID, 0)
	})
}

func TestStorage_ReconcileEntitlement(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	paidThrough := now.AddDate(0, 1, 0)

	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	verify := NewTestVerification(storage)

	userUID := uuid.New().String()
	factory.CreateUser(t, userUID, "testuser", "test@example.com", models.StatusTrial)

	externalID := "sub-789"
	rows, err := storage.ReconcileEntitlement(context.Background(), userUID,
		models.StatusActive, &externalID, &paidThrough, true, now)
	require.NoError(t, err)
	require.Equal(t, 1, rows)
	verify.VerifyStatus(t, userUID, models.StatusActive)

	ent, err := storage.GetEntitlement(context.Background(), userUID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, ent.Status)
	require.NotNil(t, ent.ExternalSubscriptionID)
	assert.Equal(t, externalID, *ent.ExternalSubscriptionID)
	require.NotNil(t, ent.PaidThrough)
	assert.WithinDuration(t, paidThrough, *ent.PaidThrough, time.Second)
	assert.True(t, ent.AutoRenew)

	// Reconcile without an external id keeps the stored one.
	rows, err = storage.ReconcileEntitlement(context.Background(), userUID,
		models.StatusPastDue, nil, nil, true, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, rows)

	ent, err = storage.GetEntitlement(context.Background(), userUID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPastDue, ent.Status)
	require.NotNil(t, ent.ExternalSubscriptionID)
	assert.Equal(t, externalID, *ent.ExternalSubscriptionID)
}

func TestStorage_FindCampaignCode(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	factory.CreateCampaignCode(t, "AISTUDYTRIAL", 100, 3, true)

	cc, found, err := storage.FindCampaignCode(context.Background(), "AISTUDYTRIAL")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "AISTUDYTRIAL", cc.Code)
	assert.Equal(t, 100, cc.MaxUses)
	assert.Equal(t, 3, cc.UsedCount)
	assert.True(t, cc.IsActive)

	_, found, err = storage.FindCampaignCode(context.Background(), "NOSUCHCODE")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStorage_HasRedemption(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	now := time.Now().UTC()

	userUID := uuid.New().String()
	factory.CreateUser(t, userUID, "testuser", "test@example.com", models.StatusNone)
	factory.CreateCampaignCode(t, "AISTUDYTRIAL", 0, 0, true)

	has, err := storage.HasRedemption(context.Background(), userUID, "AISTUDYTRIAL")
	require.NoError(t, err)
	assert.False(t, has)

	err = storage.RedeemCampaign(context.Background(), userUID, "AISTUDYTRIAL", "sub-123", now.AddDate(0, 1, 0), now)
	require.NoError(t, err)

	has, err = storage.HasRedemption(context.Background(), userUID, "AISTUDYTRIAL")
	require.NoError(t, err)
	assert.True(t, has)
}
