package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/EvalForge/internal/domain"
	"github.com/Strob0t/EvalForge/internal/domain/approval"
)

const approvalColumns = `id, run_id, submitted_by_id, submitted_at, decision,
	COALESCE(decided_by_id, ''), decided_at, comment`

func scanApproval(row pgx.Row) (*approval.Approval, error) {
	var a approval.Approval
	err := row.Scan(&a.ID, &a.RunID, &a.SubmittedByID, &a.SubmittedAt,
		&a.Decision, &a.DecidedByID, &a.DecidedAt, &a.Comment)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &a, nil
}

// CreateApproval opens a pending approval for a submitted run. The partial
// unique index rejects a second pending approval for the same run.
func (s *Store) CreateApproval(ctx context.Context, a *approval.Approval) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO approvals (id, run_id, submitted_by_id)
		VALUES ($1, $2, $3)`,
		a.ID, a.RunID, a.SubmittedByID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("create approval: %w", err)
	}
	return nil
}

// GetPendingApproval fetches the open approval for a run.
func (s *Store) GetPendingApproval(ctx context.Context, runID string) (*approval.Approval, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+approvalColumns+` FROM approvals
		WHERE run_id = $1 AND decision = ''`, runID)
	return scanApproval(row)
}

// DecideApproval records the decision on a pending approval.
func (s *Store) DecideApproval(ctx context.Context, id string, decision approval.Decision, decidedByID, comment string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE approvals SET decision = $2, decided_by_id = $3,
			decided_at = now(), comment = $4
		WHERE id = $1 AND decision = ''`,
		id, decision, decidedByID, comment)
	if err != nil {
		return fmt.Errorf("decide approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListApprovals returns a run's full approval history, newest first.
func (s *Store) ListApprovals(ctx context.Context, runID string) ([]approval.Approval, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+approvalColumns+` FROM approvals
		WHERE run_id = $1 ORDER BY submitted_at DESC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []approval.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, *a)
	}
	return approvals, rows.Err()
}
