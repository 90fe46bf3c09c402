package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/EvalForge/internal/domain"
	"github.com/Strob0t/EvalForge/internal/domain/run"
	"github.com/Strob0t/EvalForge/internal/domain/user"
	"github.com/Strob0t/EvalForge/internal/port/database"
)

// UploadRequest is a complete run exported from a past evaluation, ingested
// in one shot as a terminal COMPLETED run.
type UploadRequest struct {
	ExternalRunID string          `json:"external_run_id,omitempty"`
	Task          string          `json:"task"`
	Dataset       string          `json:"dataset"`
	Model         string          `json:"model,omitempty"`
	Metrics       []string        `json:"metrics"`
	RunMetadata   json.RawMessage `json:"run_metadata,omitempty"`
	Items         []UploadItem    `json:"items"`
}

// UploadItem is one finished item row of an uploaded run.
type UploadItem struct {
	ItemID    string             `json:"item_id"`
	Input     json.RawMessage    `json:"input,omitempty"`
	Expected  json.RawMessage    `json:"expected,omitempty"`
	Output    json.RawMessage    `json:"output,omitempty"`
	Error     string             `json:"error,omitempty"`
	LatencyMS int64              `json:"latency_ms,omitempty"`
	Scores    map[string]float64 `json:"scores,omitempty"`
}

// Upload creates a terminal COMPLETED run from an exported result set and
// populates its items and scores atomically.
func (s *IngestService) Upload(ctx context.Context, principal *user.User, req *UploadRequest) (*run.CreateResponse, error) {
	if req.Task == "" || req.Dataset == "" {
		return nil, fmt.Errorf("%w: task and dataset are required", domain.ErrValidation)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", domain.ErrValidation)
	}
	for i, it := range req.Items {
		if it.ItemID == "" {
			return nil, fmt.Errorf("%w: item %d: item_id is required", domain.ErrValidation, i)
		}
	}

	now := time.Now().UTC()
	meta := req.RunMetadata
	if len(meta) == 0 {
		meta = json.RawMessage(fmt.Sprintf(`{"total_items":%d}`, len(req.Items)))
	}
	r := &run.Run{
		ID:            uuid.NewString(),
		ExternalRunID: req.ExternalRunID,
		CreatedByID:   principal.ID,
		OwnerID:       principal.ID,
		Task:          req.Task,
		Dataset:       req.Dataset,
		Model:         req.Model,
		Metrics:       req.Metrics,
		RunMetadata:   meta,
		Status:        run.StatusCompleted,
		StartedAt:     &now,
		EndedAt:       &now,
	}

	err := s.store.WithTx(ctx, func(tx database.Store) error {
		if err := tx.CreateRun(ctx, r); err != nil {
			return err
		}
		for i, it := range req.Items {
			item := &run.Item{
				RunID:    r.ID,
				ItemID:   it.ItemID,
				Index:    i,
				Input:    it.Input,
				Expected: it.Expected,
			}
			if err := tx.UpsertRunItem(ctx, item); err != nil {
				return err
			}
			if it.Error != "" {
				if err := tx.FailRunItem(ctx, r.ID, it.ItemID, it.Error, "", ""); err != nil {
					return err
				}
			} else if err := tx.CompleteRunItem(ctx, r.ID, it.ItemID, it.Output, it.LatencyMS, "", ""); err != nil {
				return err
			}
			for name, score := range it.Scores {
				val := score
				err := tx.UpsertRunItemScore(ctx, r.ID, it.ItemID, &run.Score{
					RunID:        r.ID,
					ItemID:       it.ItemID,
					MetricName:   name,
					ScoreNumeric: &val,
				})
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RunsCreated.Add(ctx, 1)
		s.metrics.RunsCompleted.Add(ctx, 1)
	}
	s.log.Info("run uploaded", "run_id", r.ID, "task", r.Task, "items", len(req.Items))
	return &run.CreateResponse{RunID: r.ID, LiveURL: s.liveURL(r.ID)}, nil
}

// Fixed leading columns of an uploaded CSV; any further columns are read as
// metric names.
var csvBaseColumns = []string{"item_id", "input", "expected", "output", "error", "latency_ms"}

// ParseCSVUpload reads an exported result CSV into an UploadRequest. The
// header row must start with the base columns; every remaining column is
// treated as a numeric metric. An empty metric cell means the metric never
// scored that item.
func ParseCSVUpload(r io.Reader, task, dataset, model string) (*UploadRequest, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv header: %s", domain.ErrValidation, err)
	}
	if len(header) < len(csvBaseColumns) {
		return nil, fmt.Errorf("%w: csv header needs at least %d columns", domain.ErrValidation, len(csvBaseColumns))
	}
	for i, want := range csvBaseColumns {
		if strings.TrimSpace(header[i]) != want {
			return nil, fmt.Errorf("%w: csv column %d must be %q, got %q", domain.ErrValidation, i, want, header[i])
		}
	}
	metrics := make([]string, 0, len(header)-len(csvBaseColumns))
	for _, name := range header[len(csvBaseColumns):] {
		metrics = append(metrics, strings.TrimSpace(name))
	}

	req := &UploadRequest{Task: task, Dataset: dataset, Model: model, Metrics: metrics}
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: csv line %d: %s", domain.ErrValidation, line, err)
		}
		if len(record) < len(csvBaseColumns) {
			return nil, fmt.Errorf("%w: csv line %d: too few columns", domain.ErrValidation, line)
		}

		item := UploadItem{
			ItemID:   record[0],
			Input:    rawOrQuote(record[1]),
			Expected: rawOrQuote(record[2]),
			Output:   rawOrQuote(record[3]),
			Error:    record[4],
		}
		if v := strings.TrimSpace(record[5]); v != "" {
			latency, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: csv line %d: latency_ms: %s", domain.ErrValidation, line, err)
			}
			item.LatencyMS = latency
		}
		for i, name := range metrics {
			col := len(csvBaseColumns) + i
			if col >= len(record) || strings.TrimSpace(record[col]) == "" {
				continue
			}
			score, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: csv line %d: metric %s: %s", domain.ErrValidation, line, name, err)
			}
			if item.Scores == nil {
				item.Scores = make(map[string]float64, len(metrics))
			}
			item.Scores[name] = score
		}
		req.Items = append(req.Items, item)
	}
	return req, nil
}

// rawOrQuote passes valid JSON cells through and wraps everything else as a
// JSON string, so plain-text exports load without pre-encoding.
func rawOrQuote(cell string) json.RawMessage {
	if cell == "" {
		return nil
	}
	if json.Valid([]byte(cell)) {
		return json.RawMessage(cell)
	}
	quoted, _ := json.Marshal(cell)
	return json.RawMessage(quoted)
}
