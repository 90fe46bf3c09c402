// Package event defines the v1 run event envelope streamed from engines to
// the platform as NDJSON, and its per-type payload schemas.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the only envelope version the platform accepts.
const SchemaVersion = 1

// Type identifies the kind of run event.
type Type string

const (
	TypeRunStarted    Type = "run_started"
	TypeItemStarted   Type = "item_started"
	TypeMetricScored  Type = "metric_scored"
	TypeItemCompleted Type = "item_completed"
	TypeItemFailed    Type = "item_failed"
	TypeRunCompleted  Type = "run_completed"
)

// ValidTypes is the set of recognized event types.
var ValidTypes = map[Type]bool{
	TypeRunStarted:    true,
	TypeItemStarted:   true,
	TypeMetricScored:  true,
	TypeItemCompleted: true,
	TypeItemFailed:    true,
	TypeRunCompleted:  true,
}

// Event is the v1 envelope shared by every run event.
type Event struct {
	SchemaVersion int             `json:"schema_version"`
	EventID       string          `json:"event_id"`
	Sequence      int64           `json:"sequence"`
	SentAt        time.Time       `json:"sent_at"`
	Type          Type            `json:"type"`
	RunID         string          `json:"run_id"`
	Payload       json.RawMessage `json:"payload"`
}

// Validate checks the envelope against the v1 schema.
func (e *Event) Validate() error {
	if e.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version %d", e.SchemaVersion)
	}
	if _, err := uuid.Parse(e.EventID); err != nil {
		return fmt.Errorf("event_id must be a UUID: %w", err)
	}
	if e.Sequence < 1 {
		return fmt.Errorf("sequence must be >= 1, got %d", e.Sequence)
	}
	if e.SentAt.IsZero() {
		return fmt.Errorf("sent_at is required")
	}
	if !ValidTypes[e.Type] {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	return e.validatePayload()
}

func (e *Event) validatePayload() error {
	switch e.Type {
	case TypeRunStarted:
		var p RunStarted
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("run_started payload: %w", err)
		}
		if p.Task == "" || p.Dataset == "" {
			return fmt.Errorf("run_started payload: task and dataset are required")
		}
	case TypeItemStarted:
		var p ItemStarted
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("item_started payload: %w", err)
		}
		if p.ItemID == "" {
			return fmt.Errorf("item_started payload: item_id is required")
		}
		if p.Index < 0 {
			return fmt.Errorf("item_started payload: index must be >= 0")
		}
	case TypeMetricScored:
		var p MetricScored
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("metric_scored payload: %w", err)
		}
		if p.ItemID == "" || p.MetricName == "" {
			return fmt.Errorf("metric_scored payload: item_id and metric_name are required")
		}
	case TypeItemCompleted:
		var p ItemCompleted
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("item_completed payload: %w", err)
		}
		if p.ItemID == "" {
			return fmt.Errorf("item_completed payload: item_id is required")
		}
		if p.LatencyMS < 0 {
			return fmt.Errorf("item_completed payload: latency_ms must be >= 0")
		}
	case TypeItemFailed:
		var p ItemFailed
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("item_failed payload: %w", err)
		}
		if p.ItemID == "" || p.Error == "" {
			return fmt.Errorf("item_failed payload: item_id and error are required")
		}
	case TypeRunCompleted:
		var p RunCompleted
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("run_completed payload: %w", err)
		}
		if p.FinalStatus != FinalStatusCompleted && p.FinalStatus != FinalStatusFailed {
			return fmt.Errorf("run_completed payload: final_status must be COMPLETED or FAILED")
		}
	}
	return nil
}

// Final statuses carried by run_completed.
const (
	FinalStatusCompleted = "COMPLETED"
	FinalStatusFailed    = "FAILED"
)

// RunStarted is the payload of run_started.
type RunStarted struct {
	ExternalRunID string          `json:"external_run_id,omitempty"`
	Task          string          `json:"task"`
	Dataset       string          `json:"dataset"`
	Model         string          `json:"model,omitempty"`
	Metrics       []string        `json:"metrics"`
	RunMetadata   json.RawMessage `json:"run_metadata,omitempty"`
	RunConfig     json.RawMessage `json:"run_config,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
}

// ItemStarted is the payload of item_started.
type ItemStarted struct {
	ItemID       string          `json:"item_id"`
	Index        int             `json:"index"`
	Input        json.RawMessage `json:"input"`
	Expected     json.RawMessage `json:"expected,omitempty"`
	ItemMetadata json.RawMessage `json:"item_metadata,omitempty"`
}

// MetricScored is the payload of metric_scored.
type MetricScored struct {
	ItemID       string          `json:"item_id"`
	MetricName   string          `json:"metric_name"`
	ScoreNumeric *float64        `json:"score_numeric,omitempty"`
	ScoreRaw     json.RawMessage `json:"score_raw,omitempty"`
	Meta         json.RawMessage `json:"meta,omitempty"`
}

// ItemCompleted is the payload of item_completed.
type ItemCompleted struct {
	ItemID    string          `json:"item_id"`
	Output    json.RawMessage `json:"output"`
	LatencyMS int64           `json:"latency_ms"`
	TraceID   string          `json:"trace_id,omitempty"`
	TraceURL  string          `json:"trace_url,omitempty"`
}

// ItemFailed is the payload of item_failed.
type ItemFailed struct {
	ItemID   string `json:"item_id"`
	Error    string `json:"error"`
	TraceID  string `json:"trace_id,omitempty"`
	TraceURL string `json:"trace_url,omitempty"`
}

// RunCompleted is the payload of run_completed.
type RunCompleted struct {
	EndedAt     time.Time       `json:"ended_at"`
	Summary     json.RawMessage `json:"summary,omitempty"`
	FinalStatus string          `json:"final_status"`
}
