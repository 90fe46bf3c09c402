package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/EvalForge/internal/domain"
	"github.com/Strob0t/EvalForge/internal/domain/user"
)

const apiKeyColumns = `id, user_id, name, prefix, key_hash, revoked_at, created_at`

func scanAPIKey(row pgx.Row) (*user.APIKey, error) {
	var k user.APIKey
	err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.Prefix, &k.KeyHash,
		&k.RevokedAt, &k.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &k, nil
}

// CreateAPIKey stores a freshly minted key record.
func (s *Store) CreateAPIKey(ctx context.Context, k *user.APIKey) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO api_keys (id, user_id, name, prefix, key_hash)
		VALUES ($1, $2, $3, $4, $5)`,
		k.ID, k.UserID, k.Name, k.Prefix, k.KeyHash)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// GetAPIKeyByPrefix fetches the newest non-revoked key with the given prefix.
// The prefix is an index, not an identity: the caller still compares hashes.
func (s *Store) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*user.APIKey, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE prefix = $1 AND revoked_at IS NULL
		ORDER BY created_at DESC LIMIT 1`, prefix)
	return scanAPIKey(row)
}

// ListAPIKeys returns a user's keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, userEmail string) ([]user.APIKey, error) {
	rows, err := s.q.Query(ctx, `
		SELECT k.id, k.user_id, k.name, k.prefix, k.key_hash, k.revoked_at, k.created_at
		FROM api_keys k JOIN users u ON u.id = k.user_id
		WHERE u.email = $1 ORDER BY k.created_at DESC`, userEmail)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []user.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey marks a key revoked. Revoking twice is a no-op.
func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE api_keys SET revoked_at = now()
		WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM api_keys WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("revoke api key: %w", err)
		}
		if !exists {
			return domain.ErrNotFound
		}
	}
	return nil
}
