package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/EvalForge/internal/domain"
	"github.com/Strob0t/EvalForge/internal/domain/run"
)

const runColumns = `id, COALESCE(external_run_id, ''), created_by_id, owner_id,
	task, dataset, model, metrics, run_metadata, run_config, status,
	started_at, ended_at, created_at, updated_at`

func scanRun(row pgx.Row) (*run.Run, error) {
	var r run.Run
	var metrics []byte
	err := row.Scan(&r.ID, &r.ExternalRunID, &r.CreatedByID, &r.OwnerID,
		&r.Task, &r.Dataset, &r.Model, &metrics, &r.RunMetadata, &r.RunConfig,
		&r.Status, &r.StartedAt, &r.EndedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if err := json.Unmarshal(metrics, &r.Metrics); err != nil {
		return nil, fmt.Errorf("decode run metrics: %w", err)
	}
	return &r, nil
}

// CreateRun inserts a new run row.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return fmt.Errorf("encode run metrics: %w", err)
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO runs (id, external_run_id, created_by_id, owner_id, task,
			dataset, model, metrics, run_metadata, run_config, status)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.ExternalRunID, r.CreatedByID, r.OwnerID, r.Task,
		r.Dataset, r.Model, metrics, r.RunMetadata, r.RunConfig, r.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun fetches one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*run.Run, error) {
	row := s.q.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	return scanRun(row)
}

// ListRuns returns runs owned by ownerIDs, newest first. Nil lists all runs.
func (s *Store) ListRuns(ctx context.Context, ownerIDs []string) ([]run.Run, error) {
	var rows pgx.Rows
	var err error
	if ownerIDs == nil {
		rows, err = s.q.Query(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC`)
	} else {
		rows, err = s.q.Query(ctx,
			`SELECT `+runColumns+` FROM runs WHERE owner_id = ANY($1) ORDER BY created_at DESC`,
			ownerIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// UpdateRunAttributes overwrites the descriptive fields a run_started
// projection refines: task, dataset, model, metrics, metadata, config.
func (s *Store) UpdateRunAttributes(ctx context.Context, r *run.Run) error {
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return fmt.Errorf("encode run metrics: %w", err)
	}

	tag, err := s.q.Exec(ctx, `
		UPDATE runs SET task = $2, dataset = $3, model = $4, metrics = $5,
			run_metadata = $6, run_config = $7, updated_at = now()
		WHERE id = $1`,
		r.ID, r.Task, r.Dataset, r.Model, metrics, r.RunMetadata, r.RunConfig)
	if err != nil {
		return fmt.Errorf("update run attributes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateRunStatus transitions a run, touching started_at/ended_at when given.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status run.Status, startedAt, endedAt *time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE runs SET status = $2,
			started_at = COALESCE($3, started_at),
			ended_at = COALESCE($4, ended_at),
			updated_at = now()
		WHERE id = $1`,
		id, status, startedAt, endedAt)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteRun removes a run; items, scores, events, and approvals cascade.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
