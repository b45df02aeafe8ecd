// Package credentials persists the bearer token and cached user profile.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/benvon/hospital-portal/internal/models"
)

const (
	// TokenKey is the slot holding the raw bearer token
	TokenKey = "hospital_token"
	// ProfileKey is the slot holding the JSON-serialized user profile
	ProfileKey = "hospital_user_info"
)

// ErrUnavailable is returned by backends that cannot reach their storage
var ErrUnavailable = errors.New("credential store unavailable")

// KV is a durable string key-value store.
// Delete removes every given key in one atomic operation.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Store exposes the token and profile slots on top of a KV backend.
// It holds no state of its own; every read goes to the backend.
type Store struct {
	kv KV
}

// NewStore creates a credential store over kv
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Token returns the stored bearer token, or "" when logged out
func (s *Store) Token(ctx context.Context) (string, error) {
	token, ok, err := s.kv.Get(ctx, TokenKey)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// SetToken stores the bearer token
func (s *Store) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("refusing to store empty token")
	}
	if err := s.kv.Set(ctx, TokenKey, token); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}
	return nil
}

// Profile returns the cached profile. An absent or unreadable slot yields nil
// without error so the caller simply re-fetches.
func (s *Store) Profile(ctx context.Context) (*models.UserProfile, error) {
	raw, ok, err := s.kv.Get(ctx, ProfileKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var profile models.UserProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return nil, nil
	}
	return &profile, nil
}

// SetProfile replaces the cached profile
func (s *Store) SetProfile(ctx context.Context, profile *models.UserProfile) error {
	if profile == nil {
		return s.kv.Delete(ctx, ProfileKey)
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := s.kv.Set(ctx, ProfileKey, string(data)); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}

// Clear wipes both slots
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, TokenKey, ProfileKey); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}
