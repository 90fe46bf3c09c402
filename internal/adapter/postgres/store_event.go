package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/EvalForge/internal/domain/event"
)

// InsertRunEvent appends the raw event. The (run_id, event_id) primary key
// makes redelivery a no-op; the return reports whether this delivery won.
func (s *Store) InsertRunEvent(ctx context.Context, ev *event.Event) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO run_events (run_id, event_id, sequence, sent_at, type, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, event_id) DO NOTHING`,
		ev.RunID, ev.EventID, ev.Sequence, ev.SentAt, ev.Type, ev.Payload)
	if err != nil {
		return false, fmt.Errorf("insert run event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountRunEvents returns how many events are stored for a run.
func (s *Store) CountRunEvents(ctx context.Context, runID string) (int64, error) {
	var n int64
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM run_events WHERE run_id = $1`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count run events: %w", err)
	}
	return n, nil
}
