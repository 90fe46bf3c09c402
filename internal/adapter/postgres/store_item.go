package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/EvalForge/internal/domain/run"
)

// UpsertRunItem records an item_started projection. Replays refresh the
// input columns but never clear a terminal output or error.
func (s *Store) UpsertRunItem(ctx context.Context, item *run.Item) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO run_items (run_id, item_id, item_index, input, expected, item_metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, item_id) DO UPDATE SET
			item_index = EXCLUDED.item_index,
			input = EXCLUDED.input,
			expected = EXCLUDED.expected,
			item_metadata = EXCLUDED.item_metadata,
			updated_at = now()`,
		item.RunID, item.ItemID, item.Index, item.Input, item.Expected, item.ItemMetadata)
	if err != nil {
		return fmt.Errorf("upsert run item: %w", err)
	}
	return nil
}

// CompleteRunItem records a successful terminal state. The row is created if
// item_started never arrived.
func (s *Store) CompleteRunItem(ctx context.Context, runID, itemID string, output []byte, latencyMS int64, traceID, traceURL string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO run_items (run_id, item_id, output, error, latency_ms, trace_id, trace_url)
		VALUES ($1, $2, $3, '', $4, NULLIF($5, ''), NULLIF($6, ''))
		ON CONFLICT (run_id, item_id) DO UPDATE SET
			output = EXCLUDED.output,
			error = '',
			latency_ms = EXCLUDED.latency_ms,
			trace_id = COALESCE(EXCLUDED.trace_id, run_items.trace_id),
			trace_url = COALESCE(EXCLUDED.trace_url, run_items.trace_url),
			updated_at = now()`,
		runID, itemID, output, latencyMS, traceID, traceURL)
	if err != nil {
		return fmt.Errorf("complete run item: %w", err)
	}
	return nil
}

// FailRunItem records a failed terminal state.
func (s *Store) FailRunItem(ctx context.Context, runID, itemID, errMsg, traceID, traceURL string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO run_items (run_id, item_id, error, trace_id, trace_url)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
		ON CONFLICT (run_id, item_id) DO UPDATE SET
			error = EXCLUDED.error,
			output = NULL,
			trace_id = COALESCE(EXCLUDED.trace_id, run_items.trace_id),
			trace_url = COALESCE(EXCLUDED.trace_url, run_items.trace_url),
			updated_at = now()`,
		runID, itemID, errMsg, traceID, traceURL)
	if err != nil {
		return fmt.Errorf("fail run item: %w", err)
	}
	return nil
}

// UpsertRunItemScore records one metric score for an item.
func (s *Store) UpsertRunItemScore(ctx context.Context, runID, itemID string, score *run.Score) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO run_item_scores (run_id, item_id, metric_name, score_numeric, score_raw, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, item_id, metric_name) DO UPDATE SET
			score_numeric = EXCLUDED.score_numeric,
			score_raw = EXCLUDED.score_raw,
			metadata = EXCLUDED.metadata`,
		runID, itemID, score.MetricName, score.ScoreNumeric, score.ScoreRaw, score.Metadata)
	if err != nil {
		return fmt.Errorf("upsert run item score: %w", err)
	}
	return nil
}

// ListRunItems returns a run's items in index order with scores attached.
func (s *Store) ListRunItems(ctx context.Context, runID string) ([]run.Item, error) {
	rows, err := s.q.Query(ctx, `
		SELECT run_id, item_id, item_index, input, expected, output, error,
			item_metadata, latency_ms, COALESCE(trace_id, ''), COALESCE(trace_url, ''),
			created_at, updated_at
		FROM run_items WHERE run_id = $1 ORDER BY item_index, item_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run items: %w", err)
	}
	defer rows.Close()

	var items []run.Item
	pos := make(map[string]int)
	for rows.Next() {
		var it run.Item
		if err := rows.Scan(&it.RunID, &it.ItemID, &it.Index, &it.Input, &it.Expected,
			&it.Output, &it.Error, &it.ItemMetadata, &it.LatencyMS, &it.TraceID,
			&it.TraceURL, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run item: %w", err)
		}
		pos[it.ItemID] = len(items)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scoreRows, err := s.q.Query(ctx, `
		SELECT run_id, item_id, metric_name, score_numeric, score_raw, metadata, created_at
		FROM run_item_scores WHERE run_id = $1 ORDER BY metric_name`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run item scores: %w", err)
	}
	defer scoreRows.Close()

	for scoreRows.Next() {
		var sc run.Score
		if err := scoreRows.Scan(&sc.RunID, &sc.ItemID, &sc.MetricName,
			&sc.ScoreNumeric, &sc.ScoreRaw, &sc.Metadata, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run item score: %w", err)
		}
		if i, ok := pos[sc.ItemID]; ok {
			items[i].Scores = append(items[i].Scores, sc)
		}
	}
	return items, scoreRows.Err()
}
