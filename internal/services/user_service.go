package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"brokercrm/internal/apperr"
	"brokercrm/internal/auth"
	"brokercrm/internal/models"
	"brokercrm/internal/repositories"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid email or password")

type UserService struct {
	store    repositories.Store
	verifier *auth.TokenVerifier
	log      *slog.Logger
	now      clock
}

func NewUserService(store repositories.Store, verifier *auth.TokenVerifier, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{store: store, verifier: verifier, log: logger, now: utcNow}
}

func HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// CreateUserWithPassword stores a user with a bcrypt hash of plainPassword.
func (s *UserService) CreateUserWithPassword(ctx context.Context, user *models.User, plainPassword string) error {
	if strings.TrimSpace(plainPassword) == "" {
		return apperr.Validation("password is required")
	}
	if strings.TrimSpace(user.Email) == "" {
		return apperr.Validation("email is required")
	}
	hash, err := HashPassword(plainPassword)
	if err != nil {
		return apperr.Internal("hash password", err)
	}
	user.PasswordHash = hash
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		if repositories.IsDuplicate(err) {
			return apperr.Validation("user %q already exists", user.Email)
		}
		return apperr.Internal("create user", err)
	}
	return nil
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		return nil, notFound(err, "get user", "user %q not found", email)
	}
	return u, nil
}

// Login checks the password and issues an access token.
func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	email := strings.TrimSpace(req.Email)
	user, err := s.store.Users().GetByEmail(ctx, email)
	if errors.Is(err, repositories.ErrNotFound) {
		s.log.Info("login failed", "email", email, "reason", "unknown user")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, apperr.Internal("get user", err)
	}

	ph := strings.TrimSpace(user.PasswordHash)
	if ph == "" {
		s.log.Warn("login failed", "user_id", user.ID, "reason", "empty password hash")
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(ph), []byte(strings.TrimSpace(req.Password))); err != nil {
		s.log.Info("login failed", "user_id", user.ID, "reason", "password mismatch")
		return nil, ErrInvalidCredentials
	}

	token, exp, err := s.verifier.Issue(user.ID, user.RoleID)
	if err != nil {
		return nil, apperr.Internal("issue token", err)
	}
	s.log.Info("login succeeded", "user_id", user.ID, "role_id", user.RoleID)
	return &models.LoginResponse{AccessToken: token, ExpiresAt: exp, UserID: user.ID, RoleID: user.RoleID}, nil
}
