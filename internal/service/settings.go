package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Strob0t/EvalForge/internal/domain"
	"github.com/Strob0t/EvalForge/internal/domain/settings"
	"github.com/Strob0t/EvalForge/internal/domain/user"
	"github.com/Strob0t/EvalForge/internal/port/cache"
	"github.com/Strob0t/EvalForge/internal/port/database"
)

// SettingsService reads and writes platform policy settings, caching reads
// for a short TTL so the visibility path does not hit the database per
// request.
type SettingsService struct {
	store database.Store
	cache cache.Cache
	ttl   time.Duration
	log   *slog.Logger
}

// NewSettingsService creates a new settings service. c may be nil to
// disable caching.
func NewSettingsService(store database.Store, c cache.Cache, ttl time.Duration, log *slog.Logger) *SettingsService {
	return &SettingsService{store: store, cache: c, ttl: ttl, log: log}
}

// Get returns the effective value of a setting, falling back to the
// built-in default when the key was never written.
func (s *SettingsService) Get(ctx context.Context, key string) (string, error) {
	if !settings.Recognized[key] {
		return "", fmt.Errorf("%w: unknown setting key %q", domain.ErrValidation, key)
	}

	cacheKey := "setting:" + key
	if s.cache != nil {
		if data, ok, _ := s.cache.Get(ctx, cacheKey); ok {
			return string(data), nil
		}
	}

	val, err := s.store.GetSetting(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		val = settings.Defaults[key]
	} else if err != nil {
		return "", err
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey, []byte(val), s.ttl)
	}
	return val, nil
}

// GMVPApprovedOnly reports whether GM/VP visibility is restricted to
// APPROVED runs.
func (s *SettingsService) GMVPApprovedOnly(ctx context.Context) (bool, error) {
	val, err := s.Get(ctx, settings.KeyGMVPApprovedOnly)
	if err != nil {
		return false, err
	}
	return val != "false", nil
}

// Update validates and writes one or more settings. Unknown keys reject the
// whole request before anything is written.
func (s *SettingsService) Update(ctx context.Context, principal *user.User, req settings.UpdateRequest) error {
	if principal.Role != user.RoleAdmin {
		return domain.ErrForbidden
	}
	if len(req.Settings) == 0 {
		return fmt.Errorf("%w: no settings given", domain.ErrValidation)
	}
	for key, value := range req.Settings {
		if err := settings.Validate(key, value); err != nil {
			return fmt.Errorf("%w: %s", domain.ErrValidation, err)
		}
	}

	for key, value := range req.Settings {
		if err := s.store.UpsertSetting(ctx, key, value, principal.ID); err != nil {
			return fmt.Errorf("upsert setting %s: %w", key, err)
		}
		if s.cache != nil {
			_ = s.cache.Delete(ctx, "setting:"+key)
		}
		s.log.Info("setting updated", "key", key, "value", value, "by", principal.Email)
	}
	return nil
}

// List returns every recognized setting with its effective value, merging
// stored rows over the built-in defaults.
func (s *SettingsService) List(ctx context.Context) ([]settings.Setting, error) {
	stored, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]settings.Setting, len(stored))
	for _, st := range stored {
		byKey[st.Key] = st
	}

	out := make([]settings.Setting, 0, len(settings.Recognized))
	for key := range settings.Recognized {
		if st, ok := byKey[key]; ok {
			out = append(out, st)
			continue
		}
		out = append(out, settings.Setting{Key: key, Value: settings.Defaults[key]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
