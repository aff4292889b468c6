package campaign

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aistudyjp/entitlement-service/internal/billing"
	"github.com/aistudyjp/entitlement-service/internal/errs"
	"github.com/aistudyjp/entitlement-service/internal/models"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) FindCampaignCode(ctx context.Context, code string) (*models.CampaignCode, bool, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.CampaignCode), args.Bool(1), args.Error(2)
}
func (m *RepoMock) HasRedemption(ctx context.Context, userUID, code string) (bool, error) {
	args := m.Called(ctx, userUID, code)
	return args.Bool(0), args.Error(1)
}
func (m *RepoMock) RedeemCampaign(ctx context.Context, userUID, code, externalID string, periodEnd, now time.Time) error {
	return m.Called(ctx, userUID, code, externalID, periodEnd, now).Error(0)
}

type ProviderMock struct{ mock.Mock }

func (m *ProviderMock) CreateFreeCycle(ctx context.Context, userUID, campaignCode string) (*billing.CycleConfirmation, error) {
	args := m.Called(ctx, userUID, campaignCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CycleConfirmation), args.Error(1)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Invalidate(key string) error {
	return m.Called(key).Error(0)
}

type PublisherMock struct{ mock.Mock }

func (m *PublisherMock) Publish(routingkey string, message any) error {
	return m.Called(routingkey, message).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func newTestService(repo *RepoMock, provider *ProviderMock, cache *CacheMock,
	publisher *PublisherMock, now time.Time) *Service {
	svc := New(repo, provider, cache, publisher, newNoopLogger())
	svc.now = func() time.Time { return now }
	return svc
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "AISTUDYTRIAL", Normalize("  aistudytrial "))
	assert.Equal(t, "AISTUDYTRIAL", Normalize("AiStudyTrial"))
	assert.Equal(t, "", Normalize("   "))
}

func TestService_Redeem(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	periodEnd := now.AddDate(0, 1, 0)

	activeCode := func() *models.CampaignCode {
		return &models.CampaignCode{
			Code:     "AISTUDYTRIAL",
			MaxUses:  0,
			IsActive: true,
		}
	}

	t.Run("successful redemption", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		cache := new(CacheMock)
		publisher := new(PublisherMock)
		svc := newTestService(repo, provider, cache, publisher, now)

		repo.On("HasRedemption", mock.Anything, "user-1", "AISTUDYTRIAL").Return(false, nil)
		repo.On("FindCampaignCode", mock.Anything, "AISTUDYTRIAL").Return(activeCode(), true, nil)
		provider.On("CreateFreeCycle", mock.Anything, "user-1", "AISTUDYTRIAL").
			Return(&billing.CycleConfirmation{SubscriptionID: "sub-1", PeriodEnd: periodEnd}, nil)
		repo.On("RedeemCampaign", mock.Anything, "user-1", "AISTUDYTRIAL", "sub-1", periodEnd, now).Return(nil)
		cache.On("Invalidate", "entitlement:user-1").Return(nil)
		publisher.On("Publish", "entitlement.status.active", mock.Anything).Return(nil)

		err := svc.Redeem(context.Background(), "user-1", "  aistudytrial ")
		require.NoError(t, err)
		repo.AssertExpectations(t)
		provider.AssertExpectations(t)
	})

	t.Run("repeat redemption returns already used without provider call", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		cache := new(CacheMock)
		publisher := new(PublisherMock)
		svc := newTestService(repo, provider, cache, publisher, now)

		repo.On("HasRedemption", mock.Anything, "user-1", "AISTUDYTRIAL").Return(true, nil)

		err := svc.Redeem(context.Background(), "user-1", "AISTUDYTRIAL")
		require.ErrorIs(t, err, errs.ErrCodeAlreadyUsed)
		provider.AssertNotCalled(t, "CreateFreeCycle", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown code is invalid", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		cache := new(CacheMock)
		publisher := new(PublisherMock)
		svc := newTestService(repo, provider, cache, publisher, now)

		repo.On("HasRedemption", mock.Anything, "user-1", "NOSUCHCODE").Return(false, nil)
		repo.On("FindCampaignCode", mock.Anything, "NOSUCHCODE").Return(nil, false, nil)

		err := svc.Redeem(context.Background(), "user-1", "NOSUCHCODE")
		require.ErrorIs(t, err, errs.ErrInvalidCode)
	})

	t.Run("empty code is invalid", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		cache := new(CacheMock)
		publisher := new(PublisherMock)
		svc := newTestService(repo, provider, cache, publisher, now)

		err := svc.Redeem(context.Background(), "user-1", "   ")
		require.ErrorIs(t, err, errs.ErrInvalidCode)
		repo.AssertNotCalled(t, "HasRedemption", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("inactive code is invalid", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		cache := new(CacheMock)
		publisher := new(PublisherMock)
		svc := newTestService(repo, provider, cache, publisher, now)

		cc := activeCode()
		cc.IsActive = false
		repo.On("HasRedemption", mock.Anything, "user-1", "AISTUDYTRIAL").Return(false, nil)
		repo.On("FindCampaignCode", mock.Anything, "AISTUDYTRIAL").Return(cc, true, nil)

		err := svc.Redeem(context.Background(), "user-1", "AISTUDYTRIAL")
		require.ErrorIs(t, err, errs.ErrInvalidCode)
	})

	t.Run("code outside validity window is invalid", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		cache := new(CacheMock)
		publisher := new(PublisherMock)
		svc := newTestService(repo, provider, cache, publisher, now)

		until := now.Add(-time.Hour)
		cc := activeCode()
		cc.ValidUntil = &until
		repo.On("HasRedemption", mock.Anything, "user-1", "AISTUDYTRIAL").Return(false, nil)
		repo.On("FindCampaignCode", mock.Anything, "AISTUDYTRIAL").Return(cc, true, nil)

		err := svc.Redeem(context.Background(), "user-1", "AISTUDYTRIAL")
		require.ErrorIs(t, err, errs.ErrInvalidCode)
	})

	t.Run("exhausted quota is rejected before provider call", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		cache := new(CacheMock)
		publisher := new(PublisherMock)
		svc := newTestService(repo, provider, cache, publisher, now)

		cc := activeCode()
		cc.MaxUses = 10
		cc.UsedCount = 10
		repo.On("HasRedemption", mock.Anything, "user-1", "AISTUDYTRIAL").Return(false, nil)
		repo.On("FindCampaignCode", mock.Anything, "AISTUDYTRIAL").Return(cc, true, nil)

		err := svc.Redeem(context.Background(), "user-1", "AISTUDYTRIAL")
		require.ErrorIs(t, err, errs.ErrQuotaExhausted)
		provider.AssertNotCalled(t, "CreateFreeCycle", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("provider failure leaves no local trace", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		cache := new(CacheMock)
		publisher := new(PublisherMock)
		svc := newTestService(repo, provider, cache, publisher, now)

		repo.On("HasRedemption", mock.Anything, "user-1", "AISTUDYTRIAL").Return(false, nil)
		repo.On("FindCampaignCode", mock.Anything, "AISTUDYTRIAL").Return(activeCode(), true, nil)
		provider.On("CreateFreeCycle", mock.Anything, "user-1", "AISTUDYTRIAL").
			Return(nil, errs.ErrStoreUnavailable)

		err := svc.Redeem(context.Background(), "user-1", "AISTUDYTRIAL")
		require.ErrorIs(t, err, errs.ErrStoreUnavailable)
		repo.AssertNotCalled(t, "RedeemCampaign",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("transaction conflict from racing redemption is surfaced", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		cache := new(CacheMock)
		publisher := new(PublisherMock)
		svc := newTestService(repo, provider, cache, publisher, now)

		repo.On("HasRedemption", mock.Anything, "user-1", "AISTUDYTRIAL").Return(false, nil)
		repo.On("FindCampaignCode", mock.Anything, "AISTUDYTRIAL").Return(activeCode(), true, nil)
		provider.On("CreateFreeCycle", mock.Anything, "user-1", "AISTUDYTRIAL").
			Return(&billing.CycleConfirmation{SubscriptionID: "sub-1", PeriodEnd: periodEnd}, nil)
		repo.On("RedeemCampaign", mock.Anything, "user-1", "AISTUDYTRIAL", "sub-1", periodEnd, now).
			Return(errs.ErrCodeAlreadyUsed)

		err := svc.Redeem(context.Background(), "user-1", "AISTUDYTRIAL")
		require.ErrorIs(t, err, errs.ErrCodeAlreadyUsed)
		publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})

	t.Run("storage error is propagated", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		cache := new(CacheMock)
		publisher := new(PublisherMock)
		svc := newTestService(repo, provider, cache, publisher, now)

		repo.On("HasRedemption", mock.Anything, "user-1", "AISTUDYTRIAL").
			Return(false, errors.New("db down"))

		err := svc.Redeem(context.Background(), "user-1", "AISTUDYTRIAL")
		require.Error(t, err)
	})
}
