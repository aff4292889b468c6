package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aistudyjp/entitlement-service/internal/errs"
	"github.com/aistudyjp/entitlement-service/internal/lib/jwt"
	"github.com/aistudyjp/entitlement-service/internal/lib/password"
	"github.com/aistudyjp/entitlement-service/internal/models"
)

type UsersMock struct{ mock.Mock }

func (m *UsersMock) RegisterUser(ctx context.Context, user models.User) (string, error) {
	args := m.Called(ctx, user)
	return args.String(0), args.Error(1)
}
func (m *UsersMock) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func newTestService(users *UsersMock) *Service {
	maker := jwt.NewMaker("test-secret", time.Hour)
	return New(users, maker)
}

func TestService_Register(t *testing.T) {
	users := new(UsersMock)
	svc := newTestService(users)

	users.On("RegisterUser", mock.Anything, mock.MatchedBy(func(u models.User) bool {
		return u.Email == "test@example.com" &&
			u.Username == "testuser" &&
			u.Role == "user" &&
			password.CompareHash(u.PasswordHash, "secretpass") == nil
	})).Return("uid-1", nil)

	uid, err := svc.Register(context.Background(), "test@example.com", "testuser", "secretpass")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", uid)
	users.AssertExpectations(t)
}

func TestService_Login(t *testing.T) {
	hash, err := password.GetHash("secretpass")
	require.NoError(t, err)

	user := &models.User{
		UUID:         "uid-1",
		Username:     "testuser",
		PasswordHash: hash,
		Role:         "user",
	}

	t.Run("valid credentials produce a token", func(t *testing.T) {
		users := new(UsersMock)
		svc := newTestService(users)
		users.On("GetUserByUsername", mock.Anything, "testuser").Return(user, nil)

		token, role, err := svc.Login(context.Background(), "testuser", "secretpass")
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.Equal(t, "user", role)

		got, err := svc.ValidateToken(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "uid-1", got.UUID)
		assert.Equal(t, "testuser", got.Username)
	})

	t.Run("wrong password is unauthorized", func(t *testing.T) {
		users := new(UsersMock)
		svc := newTestService(users)
		users.On("GetUserByUsername", mock.Anything, "testuser").Return(user, nil)

		_, _, err := svc.Login(context.Background(), "testuser", "wrongpass")
		require.ErrorIs(t, err, errs.ErrUnauthorized)
	})

	t.Run("unknown user is unauthorized", func(t *testing.T) {
		users := new(UsersMock)
		svc := newTestService(users)
		users.On("GetUserByUsername", mock.Anything, "ghost").Return(nil, errors.New("no rows"))

		_, _, err := svc.Login(context.Background(), "ghost", "secretpass")
		require.ErrorIs(t, err, errs.ErrUnauthorized)
	})
}

func TestService_ValidateToken(t *testing.T) {
	users := new(UsersMock)
	svc := newTestService(users)

	_, err := svc.ValidateToken(context.Background(), "garbage.token.here")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}
