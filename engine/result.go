package engine

import (
	"github.com/Strob0t/EvalForge/internal/domain/run"
)

// Result is the outcome of a finished (or interrupted) run.
type Result struct {
	// RunID and LiveURL are set when the run streamed to a platform.
	RunID   string
	LiveURL string
	// FinalStatus is COMPLETED or FAILED.
	FinalStatus string
	// Snapshot is the final progress state, including restored items.
	Snapshot Snapshot
	// Summary aggregates the snapshot the same way the platform does.
	Summary run.Summary
	// Resumed counts items skipped because a checkpoint already held them.
	Resumed int
	// EventsSent and EventsDropped report stream delivery totals.
	EventsSent    int64
	EventsDropped int64
}

// Failed reports whether the run ended FAILED.
func (r *Result) Failed() bool { return r.FinalStatus == string(run.StatusFailed) }

// summarize folds a snapshot into the platform's summary shape. Items without
// a value for a metric (failed tasks, errored metrics restored without
// scores) contribute zero, so failures degrade averages instead of hiding.
func summarize(snap Snapshot, expectedTotal int) run.Summary {
	s := run.Summary{
		TotalItems:     snap.Total,
		CompletedItems: snap.Completed,
		ErrorItems:     snap.Errors,
		ExpectedTotal:  expectedTotal,
		SuccessRate:    snap.SuccessRate,
		MetricAverages: make(map[string]float64),
	}

	sums := make(map[string]float64)
	var latSum float64
	var latN int
	for _, it := range snap.Items {
		if it.Latency > 0 {
			latSum += float64(it.Latency.Milliseconds())
			latN++
		}
		for name, cell := range it.Metrics {
			if cell.Value != nil {
				sums[name] += *cell.Value
			}
		}
	}
	if latN > 0 {
		s.AvgLatencyMS = latSum / float64(latN)
	}
	if snap.Total > 0 {
		for name, sum := range sums {
			s.MetricAverages[name] = sum / float64(snap.Total)
		}
	}
	return s
}
