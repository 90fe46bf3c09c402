package run

import (
	"encoding/json"
	"time"
)

// Item is one input/output record for a run, displayed in index order.
type Item struct {
	RunID        string          `json:"run_id"`
	ItemID       string          `json:"item_id"`
	Index        int             `json:"index"`
	Input        json.RawMessage `json:"input"`
	Expected     json.RawMessage `json:"expected,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	ItemMetadata json.RawMessage `json:"item_metadata,omitempty"`
	LatencyMS    *int64          `json:"latency_ms,omitempty"`
	TraceID      string          `json:"trace_id,omitempty"`
	TraceURL     string          `json:"trace_url,omitempty"`
	Scores       []Score         `json:"scores,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Terminated reports whether the item reached a terminal state.
// Exactly one of Output or Error is set once an item terminates.
func (i *Item) Terminated() bool {
	return len(i.Output) > 0 || i.Error != ""
}

// Score is one metric score for one item.
// A numeric score of 0 is a valid failure contribution; a nil ScoreNumeric
// means the metric declined to score the item.
type Score struct {
	RunID        string          `json:"run_id"`
	ItemID       string          `json:"item_id"`
	MetricName   string          `json:"metric_name"`
	ScoreNumeric *float64        `json:"score_numeric,omitempty"`
	ScoreRaw     json.RawMessage `json:"score_raw,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
