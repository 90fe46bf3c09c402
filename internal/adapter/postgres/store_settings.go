package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/EvalForge/internal/domain/settings"
)

// GetSetting returns the stored value for key, or domain.ErrNotFound when
// the key has never been set. Defaults are the caller's concern.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.q.QueryRow(ctx, `SELECT value FROM platform_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		return "", mapNotFound(err)
	}
	return value, nil
}

// UpsertSetting writes a setting value.
func (s *Store) UpsertSetting(ctx context.Context, key, value, updatedByID string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO platform_settings (key, value, updated_by_id)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_by_id = EXCLUDED.updated_by_id,
			updated_at = now()`,
		key, value, updatedByID)
	if err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}

// ListSettings returns every stored setting.
func (s *Store) ListSettings(ctx context.Context) ([]settings.Setting, error) {
	rows, err := s.q.Query(ctx, `SELECT key, value, updated_at FROM platform_settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []settings.Setting
	for rows.Next() {
		var st settings.Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
