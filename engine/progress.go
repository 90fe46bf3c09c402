package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Item display statuses.
const (
	ItemPending    = "pending"
	ItemInProgress = "in_progress"
	ItemCompleted  = "completed"
	ItemError      = "error"
)

// Metric cell statuses within an item.
const (
	MetricComputing = "computing"
	MetricDone      = "done"
	MetricFailed    = "error"
)

// Observer receives per-item lifecycle callbacks from the scheduler.
// This interface is what decouples the scheduler from live-UI concerns.
type Observer interface {
	StartItem(i int)
	UpdateOutput(i int, output any)
	SetMetricComputing(i int, name string)
	UpdateMetric(i int, name string, value *float64, meta map[string]any)
	SetMetricError(i int, name string)
	CompleteItem(i int)
	FailItem(i int, errMsg string)
	FailItemTimeout(i int, limit time.Duration)
	UpdateTraceInfo(i int, traceID, traceURL string)
}

// MetricCell is one metric's state within an item.
type MetricCell struct {
	Status   string         `json:"status"`
	Value    *float64       `json:"value,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ItemState is the tracked state of one dataset item.
type ItemState struct {
	ItemID   string                `json:"item_id"`
	Index    int                   `json:"index"`
	Input    string                `json:"input"`
	Expected string                `json:"expected,omitempty"`
	Output   string                `json:"output,omitempty"`
	Error    string                `json:"error,omitempty"`
	Status   string                `json:"status"`
	Metrics  map[string]MetricCell `json:"metrics"`
	Latency  time.Duration         `json:"latency_ns"`
	TraceID  string                `json:"trace_id,omitempty"`
	TraceURL string                `json:"trace_url,omitempty"`

	startedAt time.Time
}

// Snapshot is a self-contained view of the run's progress, safe to hand to
// another goroutine or serialize for a UI refresh.
type Snapshot struct {
	Items       []ItemState `json:"items"`
	Total       int         `json:"total"`
	Pending     int         `json:"pending"`
	InProgress  int         `json:"in_progress"`
	Completed   int         `json:"completed"`
	Errors      int         `json:"errors"`
	SuccessRate float64     `json:"success_rate"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Tracker maintains per-item state and aggregates under a single lock.
// The scheduler mutates it through the Observer callbacks; any goroutine may
// take a Snapshot.
type Tracker struct {
	mu      sync.Mutex
	items   []ItemState
	byIndex map[int]int // item index -> slice position
	updated time.Time
}

// NewTracker creates an empty tracker; items are registered as issued.
func NewTracker() *Tracker {
	return &Tracker{byIndex: make(map[int]int)}
}

// Register seeds the tracker with an item before its lifecycle begins.
func (t *Tracker) Register(i int, itemID string, input, expected any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byIndex[i]; ok {
		return
	}
	t.byIndex[i] = len(t.items)
	t.items = append(t.items, ItemState{
		ItemID:   itemID,
		Index:    i,
		Input:    stringify(input),
		Expected: stringify(expected),
		Status:   ItemPending,
		Metrics:  make(map[string]MetricCell),
	})
	t.updated = time.Now()
}

// Restore replays a prior result (from a checkpoint) into the tracker.
func (t *Tracker) Restore(i int, itemID string, input, expected, output string, errMsg string, scores map[string]*float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := ItemState{
		ItemID:   itemID,
		Index:    i,
		Input:    input,
		Expected: expected,
		Output:   output,
		Status:   ItemCompleted,
		Metrics:  make(map[string]MetricCell, len(scores)),
	}
	if errMsg != "" {
		st.Status = ItemError
		st.Error = errMsg
		st.Output = ""
	}
	for name, v := range scores {
		st.Metrics[name] = MetricCell{Status: MetricDone, Value: v}
	}
	t.byIndex[i] = len(t.items)
	t.items = append(t.items, st)
	t.updated = time.Now()
}

func (t *Tracker) with(i int, fn func(st *ItemState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.byIndex[i]
	if !ok {
		return
	}
	fn(&t.items[pos])
	t.updated = time.Now()
}

// StartItem marks the item in progress.
func (t *Tracker) StartItem(i int) {
	t.with(i, func(st *ItemState) {
		st.Status = ItemInProgress
		st.startedAt = time.Now()
	})
}

// UpdateOutput records the task output once known.
func (t *Tracker) UpdateOutput(i int, output any) {
	t.with(i, func(st *ItemState) { st.Output = stringify(output) })
}

// SetMetricComputing marks a metric as in flight for the item.
func (t *Tracker) SetMetricComputing(i int, name string) {
	t.with(i, func(st *ItemState) {
		st.Metrics[name] = MetricCell{Status: MetricComputing}
	})
}

// UpdateMetric records a metric value and metadata for the item.
func (t *Tracker) UpdateMetric(i int, name string, value *float64, meta map[string]any) {
	t.with(i, func(st *ItemState) {
		st.Metrics[name] = MetricCell{Status: MetricDone, Value: value, Metadata: meta}
	})
}

// SetMetricError marks a metric as failed for the item.
func (t *Tracker) SetMetricError(i int, name string) {
	t.with(i, func(st *ItemState) {
		cell := st.Metrics[name]
		cell.Status = MetricFailed
		st.Metrics[name] = cell
	})
}

// CompleteItem marks the item done and derives its latency.
func (t *Tracker) CompleteItem(i int) {
	t.with(i, func(st *ItemState) {
		st.Status = ItemCompleted
		if !st.startedAt.IsZero() {
			st.Latency = time.Since(st.startedAt)
		}
	})
}

// FailItem marks the item errored.
func (t *Tracker) FailItem(i int, errMsg string) {
	t.with(i, func(st *ItemState) {
		st.Status = ItemError
		st.Error = errMsg
		if !st.startedAt.IsZero() {
			st.Latency = time.Since(st.startedAt)
		}
	})
}

// FailItemTimeout marks the item errored with the timeout sentinel.
func (t *Tracker) FailItemTimeout(i int, limit time.Duration) {
	t.FailItem(i, fmt.Sprintf("timed out after %s", limit))
}

// UpdateTraceInfo records the item's external trace id and URL.
func (t *Tracker) UpdateTraceInfo(i int, traceID, traceURL string) {
	t.with(i, func(st *ItemState) {
		st.TraceID = traceID
		st.TraceURL = traceURL
	})
}

// Snapshot returns a deep copy of the current state with aggregates.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		Items:     make([]ItemState, len(t.items)),
		Total:     len(t.items),
		UpdatedAt: t.updated,
	}
	for i := range t.items {
		st := t.items[i]
		metrics := make(map[string]MetricCell, len(st.Metrics))
		for k, v := range st.Metrics {
			metrics[k] = v
		}
		st.Metrics = metrics
		snap.Items[i] = st

		switch st.Status {
		case ItemPending:
			snap.Pending++
		case ItemInProgress:
			snap.InProgress++
		case ItemCompleted:
			snap.Completed++
		case ItemError:
			snap.Errors++
		}
	}
	if done := snap.Completed + snap.Errors; done > 0 {
		snap.SuccessRate = float64(snap.Completed) / float64(done)
	}
	return snap
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// multiObserver fans lifecycle callbacks out to several observers.
type multiObserver []Observer

func (m multiObserver) StartItem(i int) {
	for _, o := range m {
		o.StartItem(i)
	}
}

func (m multiObserver) UpdateOutput(i int, output any) {
	for _, o := range m {
		o.UpdateOutput(i, output)
	}
}

func (m multiObserver) SetMetricComputing(i int, name string) {
	for _, o := range m {
		o.SetMetricComputing(i, name)
	}
}

func (m multiObserver) UpdateMetric(i int, name string, value *float64, meta map[string]any) {
	for _, o := range m {
		o.UpdateMetric(i, name, value, meta)
	}
}

func (m multiObserver) SetMetricError(i int, name string) {
	for _, o := range m {
		o.SetMetricError(i, name)
	}
}

func (m multiObserver) CompleteItem(i int) {
	for _, o := range m {
		o.CompleteItem(i)
	}
}

func (m multiObserver) FailItem(i int, errMsg string) {
	for _, o := range m {
		o.FailItem(i, errMsg)
	}
}

func (m multiObserver) FailItemTimeout(i int, limit time.Duration) {
	for _, o := range m {
		o.FailItemTimeout(i, limit)
	}
}

func (m multiObserver) UpdateTraceInfo(i int, traceID, traceURL string) {
	for _, o := range m {
		o.UpdateTraceInfo(i, traceID, traceURL)
	}
}
