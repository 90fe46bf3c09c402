package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/EvalForge/internal/domain"
	"github.com/Strob0t/EvalForge/internal/domain/user"
)

const userColumns = `id, email, name, role, COALESCE(team_unit_id, ''), active, created_at, updated_at`

func scanUser(row pgx.Row) (*user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.TeamUnitID,
		&u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &u, nil
}

// CreateUser inserts a new user.
func (s *Store) CreateUser(ctx context.Context, u *user.User) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO users (id, email, name, role, team_unit_id, active)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		u.ID, u.Email, u.Name, u.Role, u.TeamUnitID, u.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser fetches one user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*user.User, error) {
	row := s.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmail fetches one user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	row := s.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// ListUsers returns all users ordered by email.
func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.q.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateUser overwrites a user's mutable fields.
func (s *Store) UpdateUser(ctx context.Context, u *user.User) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE users SET name = $2, role = $3, team_unit_id = NULLIF($4, ''),
			active = $5, updated_at = now()
		WHERE id = $1`,
		u.ID, u.Name, u.Role, u.TeamUnitID, u.Active)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountUsers returns the total number of users.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
