package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/EvalForge/internal/adapter/otel"
	"github.com/Strob0t/EvalForge/internal/domain"
	"github.com/Strob0t/EvalForge/internal/domain/event"
	"github.com/Strob0t/EvalForge/internal/domain/run"
	"github.com/Strob0t/EvalForge/internal/domain/user"
	"github.com/Strob0t/EvalForge/internal/port/broadcast"
	"github.com/Strob0t/EvalForge/internal/port/database"
)

// ApplyResult reports how a batch of events was ingested.
type ApplyResult struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
}

// IngestService handles run registration and event projection.
type IngestService struct {
	store   database.Store
	feed    broadcast.Broadcaster
	metrics *otel.Metrics
	baseURL string
	log     *slog.Logger
}

// NewIngestService creates a new ingestion service. metrics may be nil when
// telemetry is disabled.
func NewIngestService(store database.Store, feed broadcast.Broadcaster, metrics *otel.Metrics, baseURL string, log *slog.Logger) *IngestService {
	if feed == nil {
		feed = broadcast.Nop{}
	}
	return &IngestService{store: store, feed: feed, metrics: metrics, baseURL: baseURL, log: log}
}

// CreateRun registers a new run owned by the calling principal. The run
// starts in RUNNING; run_started later refines its attributes.
func (s *IngestService) CreateRun(ctx context.Context, principal *user.User, req *run.CreateRequest) (*run.CreateResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}

	now := time.Now().UTC()
	r := &run.Run{
		ID:            uuid.NewString(),
		ExternalRunID: req.ExternalRunID,
		CreatedByID:   principal.ID,
		OwnerID:       principal.ID,
		Task:          req.Task,
		Dataset:       req.Dataset,
		Model:         req.Model,
		Metrics:       req.Metrics,
		RunMetadata:   req.RunMetadata,
		RunConfig:     req.RunConfig,
		Status:        run.StatusRunning,
		StartedAt:     &now,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateRun(ctx, r); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RunsCreated.Add(ctx, 1)
	}
	s.log.Info("run created", "run_id", r.ID, "task", r.Task, "owner", principal.Email)

	return &run.CreateResponse{RunID: r.ID, LiveURL: s.liveURL(r.ID)}, nil
}

// ApplyEvents ingests one NDJSON batch for a run. Every event is validated
// up front; a single bad line rejects the whole batch. Each event is then
// recorded and projected in its own transaction, so a replayed batch skips
// exactly the events that already landed.
func (s *IngestService) ApplyEvents(ctx context.Context, principal *user.User, runID string, events []event.Event) (*ApplyResult, error) {
	ctx, span := otel.StartIngestSpan(ctx, runID, len(events))
	defer span.End()
	start := time.Now()

	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.OwnerID != principal.ID && principal.Role != user.RoleAdmin {
		return nil, domain.ErrForbidden
	}

	for i := range events {
		ev := &events[i]
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("%w: event %d: %s", domain.ErrValidation, i, err)
		}
		if ev.RunID != runID {
			return nil, fmt.Errorf("%w: event %d: run_id %q does not match path", domain.ErrValidation, i, ev.RunID)
		}
	}

	res := &ApplyResult{}
	status := r.Status
	statusChanged := false

	for i := range events {
		ev := &events[i]
		err := s.store.WithTx(ctx, func(tx database.Store) error {
			applied, err := tx.InsertRunEvent(ctx, ev)
			if err != nil {
				return fmt.Errorf("insert event %s: %w", ev.EventID, err)
			}
			if !applied {
				res.Skipped++
				return nil
			}
			// Duplicates of already-applied events pass through above;
			// new mutations against a frozen run do not.
			if status.Terminal() {
				return fmt.Errorf("%w: run %s is %s", domain.ErrInvalidState, runID, status)
			}
			newStatus, err := project(ctx, tx, r, ev)
			if err != nil {
				return err
			}
			if newStatus != "" && newStatus != status {
				status = newStatus
				statusChanged = true
			}
			res.Applied++
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if s.metrics != nil {
		s.metrics.EventsApplied.Add(ctx, int64(res.Applied))
		s.metrics.EventsSkipped.Add(ctx, int64(res.Skipped))
		s.metrics.BatchLatency.Record(ctx, time.Since(start).Seconds())
		if statusChanged && status == run.StatusCompleted {
			s.metrics.RunsCompleted.Add(ctx, 1)
		}
		if statusChanged && status == run.StatusFailed {
			s.metrics.RunsFailed.Add(ctx, 1)
		}
	}

	if res.Applied > 0 {
		s.feed.BroadcastRun(ctx, runID, broadcast.EventRunProgress, map[string]any{
			"applied": res.Applied,
			"skipped": res.Skipped,
			"status":  status,
		})
	}
	if statusChanged {
		s.feed.BroadcastRun(ctx, runID, broadcast.EventRunStatus, map[string]any{
			"status": status,
		})
	}
	return res, nil
}

// project applies one event's side effects inside tx. It returns the new
// run status when the event changes it, or "" otherwise.
func project(ctx context.Context, tx database.Store, r *run.Run, ev *event.Event) (run.Status, error) {
	ctx, span := otel.StartProjectionSpan(ctx, ev.RunID, string(ev.Type))
	defer span.End()

	switch ev.Type {
	case event.TypeRunStarted:
		var p event.RunStarted
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return "", fmt.Errorf("%w: run_started payload: %s", domain.ErrValidation, err)
		}
		updated := *r
		updated.Task = p.Task
		updated.Dataset = p.Dataset
		updated.Model = p.Model
		updated.Metrics = p.Metrics
		updated.RunMetadata = p.RunMetadata
		updated.RunConfig = p.RunConfig
		if err := tx.UpdateRunAttributes(ctx, &updated); err != nil {
			return "", err
		}
		startedAt := p.StartedAt
		if err := tx.UpdateRunStatus(ctx, ev.RunID, run.StatusRunning, &startedAt, nil); err != nil {
			return "", err
		}
		return run.StatusRunning, nil

	case event.TypeItemStarted:
		var p event.ItemStarted
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return "", fmt.Errorf("%w: item_started payload: %s", domain.ErrValidation, err)
		}
		return "", tx.UpsertRunItem(ctx, &run.Item{
			RunID:        ev.RunID,
			ItemID:       p.ItemID,
			Index:        p.Index,
			Input:        p.Input,
			Expected:     p.Expected,
			ItemMetadata: p.ItemMetadata,
		})

	case event.TypeMetricScored:
		var p event.MetricScored
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return "", fmt.Errorf("%w: metric_scored payload: %s", domain.ErrValidation, err)
		}
		return "", tx.UpsertRunItemScore(ctx, ev.RunID, p.ItemID, &run.Score{
			RunID:        ev.RunID,
			ItemID:       p.ItemID,
			MetricName:   p.MetricName,
			ScoreNumeric: p.ScoreNumeric,
			ScoreRaw:     p.ScoreRaw,
			Metadata:     p.Meta,
		})

	case event.TypeItemCompleted:
		var p event.ItemCompleted
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return "", fmt.Errorf("%w: item_completed payload: %s", domain.ErrValidation, err)
		}
		return "", tx.CompleteRunItem(ctx, ev.RunID, p.ItemID, p.Output, p.LatencyMS, p.TraceID, p.TraceURL)

	case event.TypeItemFailed:
		var p event.ItemFailed
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return "", fmt.Errorf("%w: item_failed payload: %s", domain.ErrValidation, err)
		}
		return "", tx.FailRunItem(ctx, ev.RunID, p.ItemID, p.Error, p.TraceID, p.TraceURL)

	case event.TypeRunCompleted:
		var p event.RunCompleted
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return "", fmt.Errorf("%w: run_completed payload: %s", domain.ErrValidation, err)
		}
		status := run.StatusCompleted
		if p.FinalStatus == event.FinalStatusFailed {
			status = run.StatusFailed
		}
		endedAt := p.EndedAt
		if endedAt.IsZero() {
			endedAt = ev.SentAt
		}
		if err := tx.UpdateRunStatus(ctx, ev.RunID, status, nil, &endedAt); err != nil {
			return "", err
		}
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown event type %q", domain.ErrValidation, ev.Type)
}

// DeleteRun removes a run and all dependent rows. Only the owner or an
// admin may delete.
func (s *IngestService) DeleteRun(ctx context.Context, principal *user.User, runID string) error {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.OwnerID != principal.ID && principal.Role != user.RoleAdmin {
		return domain.ErrForbidden
	}
	if err := s.store.DeleteRun(ctx, runID); err != nil {
		return err
	}
	s.log.Info("run deleted", "run_id", runID, "by", principal.Email)
	return nil
}

func (s *IngestService) liveURL(runID string) string {
	return s.baseURL + "/runs/" + runID
}
