package user

import (
	"errors"
	"time"
)

// APIKeyPrefix is prepended to generated API keys for identification.
const APIKeyPrefix = "efk_"

// PrefixLen is the number of leading key characters stored as the lookup index.
const PrefixLen = 8

// APIKey represents a stored bearer credential for engine traffic.
type APIKey struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Name      string     `json:"name"`
	Prefix    string     `json:"prefix"` // first 8 chars, used as lookup index
	KeyHash   string     `json:"-"`      // SHA-256 hash, never serialized
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// CreateAPIKeyRequest is the input for minting a new API key.
type CreateAPIKeyRequest struct {
	UserEmail string `json:"user_email"`
	Name      string `json:"name"`
}

// Validate checks that the CreateAPIKeyRequest has all required fields.
func (r *CreateAPIKeyRequest) Validate() error {
	if r.UserEmail == "" {
		return errors.New("user_email is required")
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// CreateAPIKeyResponse is returned after creating an API key.
// The PlainKey is only shown once at creation time.
type CreateAPIKeyResponse struct {
	APIKey   APIKey `json:"api_key"`
	PlainKey string `json:"plain_key"` // only returned once
}
