// Package auth contains registration, login and JWT validation.
package auth

import (
	"context"

	"github.com/aistudyjp/entitlement-service/internal/errs"
	"github.com/aistudyjp/entitlement-service/internal/lib/jwt"
	"github.com/aistudyjp/entitlement-service/internal/lib/password"
	"github.com/aistudyjp/entitlement-service/internal/models"
)

// UserRepository describes the user storage contract.
type UserRepository interface {
	// RegisterUser saves a new user and returns its UID.
	RegisterUser(ctx context.Context, user models.User) (string, error)

	// GetUserByUsername returns a user by username.
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Service handles registration, login and token validation.
type Service struct {
	users    UserRepository
	jwtMaker jwt.Maker
}

// New creates a Service.
func New(users UserRepository, jwtMaker jwt.Maker) *Service {
	return &Service{
		users:    users,
		jwtMaker: jwtMaker,
	}
}

// Register creates a new user with a hashed password and the default
// "user" role. New users start without any entitlement.
func (s *Service) Register(ctx context.Context, email, username, rawPassword string) (string, error) {
	hashed, err := password.GetHash(rawPassword)
	if err != nil {
		return "", err
	}
	user := models.User{
		Email:        email,
		Username:     username,
		PasswordHash: hashed,
		Role:         "user",
	}
	return s.users.RegisterUser(ctx, user)
}

// Login checks the password and issues a JWT.
func (s *Service) Login(ctx context.Context, username, rawPassword string) (token, role string, err error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return "", "", errs.ErrUnauthorized
	}
	if err := password.CompareHash(user.PasswordHash, rawPassword); err != nil {
		return "", "", errs.ErrUnauthorized
	}
	token, err = s.jwtMaker.GenerateToken(user.Username, user.Role, user.UUID)
	if err != nil {
		return "", "", err
	}
	return token, user.Role, nil
}

// ValidateToken parses a JWT and returns the authenticated user.
func (s *Service) ValidateToken(_ context.Context, token string) (*models.User, error) {
	claims, err := s.jwtMaker.ParseToken(token)
	if err != nil {
		return nil, errs.ErrUnauthorized
	}
	return &models.User{
		Username: claims.Username,
		Role:     claims.Role,
		UUID:     claims.UserUID,
	}, nil
}
