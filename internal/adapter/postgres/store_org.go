package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/EvalForge/internal/domain"
	"github.com/Strob0t/EvalForge/internal/domain/org"
)

const orgUnitColumns = `id, name, type, COALESCE(parent_id, ''), COALESCE(manager_user_id, '')`

func scanOrgUnit(row pgx.Row) (*org.Unit, error) {
	var u org.Unit
	err := row.Scan(&u.ID, &u.Name, &u.Type, &u.ParentID, &u.ManagerUserID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &u, nil
}

// CreateOrgUnit inserts a new org unit.
func (s *Store) CreateOrgUnit(ctx context.Context, u *org.Unit) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO org_units (id, name, type, parent_id, manager_user_id)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))`,
		u.ID, u.Name, u.Type, u.ParentID, u.ManagerUserID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("create org unit: %w", err)
	}
	return nil
}

// GetOrgUnit fetches one unit by id.
func (s *Store) GetOrgUnit(ctx context.Context, id string) (*org.Unit, error) {
	row := s.q.QueryRow(ctx, `SELECT `+orgUnitColumns+` FROM org_units WHERE id = $1`, id)
	return scanOrgUnit(row)
}

// ListOrgUnits returns all units ordered by type then name.
func (s *Store) ListOrgUnits(ctx context.Context) ([]org.Unit, error) {
	rows, err := s.q.Query(ctx, `SELECT `+orgUnitColumns+` FROM org_units ORDER BY type, name`)
	if err != nil {
		return nil, fmt.Errorf("list org units: %w", err)
	}
	defer rows.Close()

	var units []org.Unit
	for rows.Next() {
		u, err := scanOrgUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	return units, rows.Err()
}

// UpdateOrgUnit overwrites a unit's fields.
func (s *Store) UpdateOrgUnit(ctx context.Context, u *org.Unit) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE org_units SET name = $2, type = $3,
			parent_id = NULLIF($4, ''), manager_user_id = NULLIF($5, '')
		WHERE id = $1`,
		u.ID, u.Name, u.Type, u.ParentID, u.ManagerUserID)
	if err != nil {
		return fmt.Errorf("update org unit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteOrgUnit removes a unit. Children and attached users block deletion
// through their foreign keys.
func (s *Store) DeleteOrgUnit(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM org_units WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete org unit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ReplaceOrgClosure swaps the closure table for a freshly computed one.
// Callers run this inside WithTx together with the structural change.
func (s *Store) ReplaceOrgClosure(ctx context.Context, entries []org.ClosureEntry) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM org_unit_closure`); err != nil {
		return fmt.Errorf("clear org closure: %w", err)
	}
	for _, e := range entries {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO org_unit_closure (ancestor_id, descendant_id, depth)
			VALUES ($1, $2, $3)`,
			e.AncestorID, e.DescendantID, e.Depth); err != nil {
			return fmt.Errorf("insert closure entry: %w", err)
		}
	}
	return nil
}

// ListOrgClosure returns the full closure table.
func (s *Store) ListOrgClosure(ctx context.Context) ([]org.ClosureEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT ancestor_id, descendant_id, depth FROM org_unit_closure`)
	if err != nil {
		return nil, fmt.Errorf("list org closure: %w", err)
	}
	defer rows.Close()

	var entries []org.ClosureEntry
	for rows.Next() {
		var e org.ClosureEntry
		if err := rows.Scan(&e.AncestorID, &e.DescendantID, &e.Depth); err != nil {
			return nil, fmt.Errorf("scan closure entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
