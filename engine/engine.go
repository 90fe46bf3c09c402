package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/EvalForge/engine/dataset"
	"github.com/Strob0t/EvalForge/engine/stream"
	"github.com/Strob0t/EvalForge/internal/domain/event"
	"github.com/Strob0t/EvalForge/internal/domain/run"
)

// Evaluator runs a task over datasets under bounded concurrency and scores
// every output with the registered metrics. A single Evaluator is reusable
// across runs; all per-run state lives inside Run.
type Evaluator struct {
	task    *Task
	metrics []Metric
	opts    Options
	log     *slog.Logger
	monitor *blockMonitor
}

// New builds an Evaluator for task scored by metrics.
func New(task *Task, metrics []Metric, opts ...Option) (*Evaluator, error) {
	if task == nil {
		return nil, errors.New("task is required")
	}
	seen := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		if seen[m.name] {
			return nil, fmt.Errorf("duplicate metric name %q", m.name)
		}
		seen[m.name] = true
	}

	o := buildOptions(opts)
	return &Evaluator{
		task:    task,
		metrics: metrics,
		opts:    o,
		log:     o.Logger.With("task", task.Name()),
		monitor: newBlockMonitor(o.Logger),
	}, nil
}

// runState is the per-run wiring shared by item goroutines.
type runState struct {
	obs       Observer
	stream    *stream.Stream
	itemSem   *semaphore.Weighted
	metricSem *semaphore.Weighted
	log       *slog.Logger

	cpMu sync.Mutex
	cp   *Checkpoint
}

// emit enqueues a run event; delivery problems are logged, never fatal.
func (rs *runState) emit(typ event.Type, payload any) {
	if rs.stream == nil {
		return
	}
	if err := rs.stream.Emit(typ, payload); err != nil {
		rs.log.Warn("event emit failed", "type", typ, "error", err)
	}
}

// checkpoint appends one row. The scheduler treats append failures as fatal:
// a checkpoint that silently stops recording would make resume lie.
func (rs *runState) checkpoint(row CheckpointRow) error {
	if rs.cp == nil {
		return nil
	}
	rs.cpMu.Lock()
	defer rs.cpMu.Unlock()
	if err := rs.cp.Append(row); err != nil {
		return fmt.Errorf("checkpoint %s: %w", row.ItemID, err)
	}
	return nil
}

// Run evaluates ds. Items are issued serially in dataset order; each runs in
// its own goroutine gated by the item semaphore, and its metrics fan out
// under the metric semaphore. Cancelling ctx stops issuing new items and
// grants in-flight ones a grace period before the run is declared FAILED.
func (e *Evaluator) Run(ctx context.Context, ds dataset.Dataset) (*Result, error) {
	tracker := NewTracker()
	obs := Observer(tracker)
	if len(e.opts.Observers) > 0 {
		obs = append(multiObserver{tracker}, e.opts.Observers...)
	}

	result := &Result{}

	var cp *Checkpoint
	var resume *ResumeState
	rowByID := map[string]RestoredRow{}
	if e.opts.CheckpointPath != "" {
		var err error
		cp, resume, err = OpenCheckpoint(e.opts.CheckpointPath, e.metricNames())
		if err != nil {
			return nil, err
		}
		defer func() { _ = cp.Close() }()
		for _, row := range resume.Rows {
			rowByID[row.ItemID] = row
		}
	}

	rs := &runState{
		obs:       obs,
		itemSem:   semaphore.NewWeighted(int64(e.opts.MaxConcurrency)),
		metricSem: semaphore.NewWeighted(int64(e.opts.MaxMetricConcurrency)),
		log:       e.log,
		cp:        cp,
	}

	if e.opts.Platform != nil {
		st, liveURL, err := e.openStream(ctx, ds)
		if err != nil {
			return nil, err
		}
		rs.stream = st
		result.RunID = st.RunID()
		result.LiveURL = liveURL
		rs.log = e.log.With("run_id", st.RunID())
	}

	g, gctx := errgroup.WithContext(ctx)

	issuedAll := true
	for i, it := range ds.Items() {
		if resume != nil && resume.Processed(it.ID) {
			if row, ok := rowByID[it.ID]; ok {
				tracker.Restore(i, row.ItemID, row.Input, row.Expected, row.Output, row.Err, row.Scores)
				result.Resumed++
			}
			continue
		}
		if gctx.Err() != nil {
			issuedAll = false
			break
		}

		tracker.Register(i, it.ID, it.Input, it.Expected)
		obs.StartItem(i)
		rs.emit(event.TypeItemStarted, event.ItemStarted{
			ItemID:       it.ID,
			Index:        i,
			Input:        rawJSON(it.Input),
			Expected:     rawJSON(it.Expected),
			ItemMetadata: rawJSON(it.Metadata),
		})

		index, item := i, it
		g.Go(func() error { return e.runItem(gctx, rs, index, item) })
	}

	runErr := e.waitWithGrace(ctx, g)

	expected := ds.Len()
	snap := tracker.Snapshot()
	if expected < 0 {
		expected = snap.Total
	}
	result.Snapshot = snap
	result.Summary = summarize(snap, expected)

	result.FinalStatus = string(run.StatusCompleted)
	if runErr != nil || !issuedAll || snap.Pending+snap.InProgress > 0 {
		result.FinalStatus = string(run.StatusFailed)
	}

	if rs.stream != nil {
		e.finishStream(rs.stream, result)
	}
	return result, runErr
}

// openStream registers the run with the platform and emits run_started. It
// returns the live dashboard URL alongside the stream.
func (e *Evaluator) openStream(ctx context.Context, ds dataset.Dataset) (*stream.Stream, string, error) {
	md := e.opts.RunMetadata
	if n := ds.Len(); n >= 0 {
		// total_items rides on the metadata so the platform can bound
		// progress before the first item event arrives.
		md = make(map[string]any, len(e.opts.RunMetadata)+1)
		for k, v := range e.opts.RunMetadata {
			md[k] = v
		}
		md["total_items"] = n
	}

	req := run.CreateRequest{
		ExternalRunID: e.opts.ExternalRunID,
		Task:          e.task.Name(),
		Dataset:       e.datasetName(ds),
		Model:         e.opts.Model,
		Metrics:       e.metricNames(),
		RunMetadata:   rawJSON(md),
		RunConfig:     rawJSON(e.opts.RunConfig),
	}
	resp, err := e.opts.Platform.CreateRun(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("register run: %w", err)
	}

	st := stream.New(resp.RunID, e.opts.Platform, e.log)
	if err := st.Emit(event.TypeRunStarted, event.RunStarted{
		ExternalRunID: req.ExternalRunID,
		Task:          req.Task,
		Dataset:       req.Dataset,
		Model:         req.Model,
		Metrics:       req.Metrics,
		RunMetadata:   req.RunMetadata,
		RunConfig:     req.RunConfig,
		StartedAt:     time.Now().UTC(),
	}); err != nil {
		e.log.Warn("run_started emit failed", "error", err)
	}
	e.log.Info("run registered", "run_id", resp.RunID, "live_url", resp.LiveURL)
	return st, resp.LiveURL, nil
}

// finishStream drains the queued item events, then emits run_completed on
// the sync lane. The order is load-bearing: the platform freezes the run the
// moment the terminal event lands, so anything still sitting in the
// background queue must be flushed first or it bounces off the frozen run.
func (e *Evaluator) finishStream(st *stream.Stream, result *Result) {
	summary, err := json.Marshal(result.Summary)
	if err != nil {
		summary = nil
	}

	syncCtx, cancel := context.WithTimeout(context.Background(), e.opts.ShutdownGrace)
	defer cancel()
	if err := st.Close(syncCtx); err != nil {
		e.log.Warn("event stream close", "error", err)
	}
	if err := st.EmitSync(syncCtx, event.TypeRunCompleted, event.RunCompleted{
		EndedAt:     time.Now().UTC(),
		Summary:     summary,
		FinalStatus: result.FinalStatus,
	}); err != nil {
		e.log.Error("run_completed delivery failed", "error", err)
	}
	result.EventsSent = st.Sent()
	result.EventsDropped = st.Dropped()
}

// waitWithGrace waits for in-flight items, bounding the wait by the shutdown
// grace once ctx is cancelled. Items still running when the grace expires are
// abandoned; their goroutines exit on their own cancelled contexts.
func (e *Evaluator) waitWithGrace(ctx context.Context, g *errgroup.Group) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		return ctx.Err()
	case <-time.After(e.opts.ShutdownGrace):
		e.log.Warn("shutdown grace expired with items in flight",
			"grace", e.opts.ShutdownGrace)
		return ctx.Err()
	}
}

// runItem drives one item through its lifecycle. Only checkpoint failures
// propagate as errors; task and metric failures are recorded per item so one
// bad row never takes down the run.
func (e *Evaluator) runItem(ctx context.Context, rs *runState, i int, it dataset.Item) error {
	if err := rs.itemSem.Acquire(ctx, 1); err != nil {
		return nil
	}
	defer rs.itemSem.Release(1)

	taskCtx := ctx
	cancel := func() {}
	if e.opts.ItemTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, e.opts.ItemTimeout)
	}
	defer cancel()

	hooks := TaskHooks{ModelName: e.opts.Model}
	start := time.Now()
	var out any
	var err error
	e.monitor.watch(e.task.fnID, e.task.Name(), func() {
		out, err = e.task.Invoke(taskCtx, it.Input, hooks)
	})
	latency := time.Since(start)

	var ti TraceInfo
	if tc, ok := out.(TraceCarrier); ok && tc != nil {
		ti = tc.TraceInfo()
	}
	if ti.TraceID != "" {
		rs.obs.UpdateTraceInfo(i, ti.TraceID, ti.TraceURL)
	}

	if err != nil {
		errMsg := err.Error()
		if e.opts.ItemTimeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			rs.obs.FailItemTimeout(i, e.opts.ItemTimeout)
			errMsg = fmt.Sprintf("timed out after %s", e.opts.ItemTimeout)
		} else {
			rs.obs.FailItem(i, errMsg)
		}
		rs.emit(event.TypeItemFailed, event.ItemFailed{
			ItemID:   it.ID,
			Error:    errMsg,
			TraceID:  ti.TraceID,
			TraceURL: ti.TraceURL,
		})
		return rs.checkpoint(CheckpointRow{
			ItemID:   it.ID,
			Input:    stringify(it.Input),
			Expected: stringify(it.Expected),
			Err:      errMsg,
			Seconds:  latency.Seconds(),
			TraceID:  ti.TraceID,
		})
	}

	rs.obs.UpdateOutput(i, out)

	scores, metas := e.scoreItem(ctx, rs, i, it, out)

	rs.obs.CompleteItem(i)
	rs.emit(event.TypeItemCompleted, event.ItemCompleted{
		ItemID:    it.ID,
		Output:    rawJSON(out),
		LatencyMS: latency.Milliseconds(),
		TraceID:   ti.TraceID,
		TraceURL:  ti.TraceURL,
	})
	return rs.checkpoint(CheckpointRow{
		ItemID:   it.ID,
		Input:    stringify(it.Input),
		Expected: stringify(it.Expected),
		Output:   stringify(out),
		Seconds:  latency.Seconds(),
		TraceID:  ti.TraceID,
		Scores:   scores,
		Meta:     metas,
	})
}

// scoreItem fans the metrics out concurrently under the metric semaphore and
// emits metric_scored for each as soon as it lands.
func (e *Evaluator) scoreItem(ctx context.Context, rs *runState, i int, it dataset.Item, out any) (map[string]*float64, map[string]map[string]any) {
	results := make([]MetricResult, len(e.metrics))

	var wg sync.WaitGroup
	for mi := range e.metrics {
		wg.Add(1)
		go func(mi int, m Metric) {
			defer wg.Done()

			if err := rs.metricSem.Acquire(ctx, 1); err != nil {
				results[mi] = errorResult("cancelled before scoring")
			} else {
				rs.obs.SetMetricComputing(i, m.name)
				var res MetricResult
				e.monitor.watch(m.fnID, m.name, func() {
					res = m.evaluate(out, it.Expected, it.Input)
				})
				rs.metricSem.Release(1)
				results[mi] = res
			}

			res := results[mi]
			rs.obs.UpdateMetric(i, m.name, res.Score, res.Metadata)
			if res.Errored() {
				rs.obs.SetMetricError(i, m.name)
			}
			rs.emit(event.TypeMetricScored, event.MetricScored{
				ItemID:       it.ID,
				MetricName:   m.name,
				ScoreNumeric: res.Score,
				ScoreRaw:     rawJSON(res.Raw),
				Meta:         rawJSON(res.Metadata),
			})
		}(mi, e.metrics[mi])
	}
	wg.Wait()

	scores := make(map[string]*float64, len(e.metrics))
	metas := make(map[string]map[string]any, len(e.metrics))
	for mi, m := range e.metrics {
		scores[m.name] = results[mi].Score
		if len(results[mi].Metadata) > 0 {
			metas[m.name] = results[mi].Metadata
		}
	}
	return scores, metas
}

func (e *Evaluator) metricNames() []string {
	names := make([]string, len(e.metrics))
	for i, m := range e.metrics {
		names[i] = m.name
	}
	return names
}

func (e *Evaluator) datasetName(ds dataset.Dataset) string {
	if e.opts.DatasetName != "" {
		return e.opts.DatasetName
	}
	if n, ok := ds.(interface{ Name() string }); ok && n.Name() != "" {
		return n.Name()
	}
	return "inline"
}

// rawJSON marshals v for an event payload; nil and unmarshalable values
// become absent fields rather than emit errors.
func rawJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
