package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/EvalForge/internal/config"
	"github.com/Strob0t/EvalForge/internal/domain"
	"github.com/Strob0t/EvalForge/internal/domain/user"
	"github.com/Strob0t/EvalForge/internal/port/database"
)

// ErrInvalidAPIKey is returned for any key that fails validation. The cause
// (unknown prefix, hash mismatch, revoked, inactive user) is deliberately
// not distinguished to the caller.
var ErrInvalidAPIKey = errors.New("invalid api key")

// AuthService resolves principals from API keys and proxy headers, and
// manages the API key lifecycle.
type AuthService struct {
	store database.Store
	cfg   config.Auth
	log   *slog.Logger
}

// NewAuthService creates a new authentication service.
func NewAuthService(store database.Store, cfg config.Auth, log *slog.Logger) *AuthService {
	return &AuthService{store: store, cfg: cfg, log: log}
}

// CreateAPIKey mints a new key for the named user. The plain key is returned
// once and never stored; only its SHA-256 hash and an 8-char lookup prefix
// persist.
func (s *AuthService) CreateAPIKey(ctx context.Context, req user.CreateAPIKeyRequest) (*user.CreateAPIKeyResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}

	u, err := s.store.GetUserByEmail(ctx, req.UserEmail)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !u.Active {
		return nil, fmt.Errorf("%w: user %s is inactive", domain.ErrValidation, u.Email)
	}

	rawToken, err := generateRandomToken(24)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	plainKey := user.APIKeyPrefix + rawToken

	key := &user.APIKey{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		Name:      req.Name,
		Prefix:    plainKey[:user.PrefixLen],
		KeyHash:   hashSHA256(plainKey),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}

	s.log.Info("api key created", "key_id", key.ID, "user", u.Email, "name", key.Name)
	return &user.CreateAPIKeyResponse{APIKey: *key, PlainKey: plainKey}, nil
}

// ValidateKey resolves the user behind a bearer key. The first 8 characters
// index the stored key row; the full SHA-256 hash is compared in constant
// time so the lookup cannot leak hash bytes through timing.
func (s *AuthService) ValidateKey(ctx context.Context, rawKey string) (*user.User, error) {
	if len(rawKey) < user.PrefixLen {
		return nil, ErrInvalidAPIKey
	}

	key, err := s.store.GetAPIKeyByPrefix(ctx, rawKey[:user.PrefixLen])
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if key.Revoked() {
		return nil, ErrInvalidAPIKey
	}

	got := hashSHA256(rawKey)
	if subtle.ConstantTimeCompare([]byte(got), []byte(key.KeyHash)) != 1 {
		return nil, ErrInvalidAPIKey
	}

	u, err := s.store.GetUser(ctx, key.UserID)
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if !u.Active {
		return nil, ErrInvalidAPIKey
	}
	return u, nil
}

// ListAPIKeys returns the stored keys for one user, or all keys when
// userEmail is empty. Hashes are never included.
func (s *AuthService) ListAPIKeys(ctx context.Context, userEmail string) ([]user.APIKey, error) {
	return s.store.ListAPIKeys(ctx, userEmail)
}

// RevokeAPIKey marks a key revoked. Revoking an already revoked key is a
// no-op.
func (s *AuthService) RevokeAPIKey(ctx context.Context, id string) error {
	if err := s.store.RevokeAPIKey(ctx, id); err != nil {
		return err
	}
	s.log.Info("api key revoked", "key_id", id)
	return nil
}

// ResolveUser resolves a UI principal from the proxy-supplied email header.
func (s *AuthService) ResolveUser(ctx context.Context, email string) (*user.User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, domain.ErrForbidden
	}
	return u, nil
}

// Bootstrap creates the first platform admin. It only succeeds while the
// user table is empty and the supplied secret matches the configured
// bootstrap secret (stored as a bcrypt hash).
func (s *AuthService) Bootstrap(ctx context.Context, secret, email string) (*user.User, error) {
	if s.cfg.BootstrapSecret == "" {
		return nil, domain.ErrForbidden
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.BootstrapSecret), []byte(secret)); err != nil {
		return nil, domain.ErrForbidden
	}

	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return nil, fmt.Errorf("%w: users already exist", domain.ErrInvalidState)
	}

	u := &user.User{
		ID:     uuid.NewString(),
		Email:  email,
		Name:   email,
		Role:   user.RoleAdmin,
		Active: true,
	}
	if err := u.ValidateEmail(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("create bootstrap user: %w", err)
	}

	s.log.Warn("bootstrap admin created", "email", email)
	return u, nil
}

func hashSHA256(data string) string {
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}
