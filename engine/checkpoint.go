package engine

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// errorOutputPrefix marks checkpoint rows for items that failed.
const errorOutputPrefix = "ERROR: "

// fixedColumns is the invariant head of every checkpoint header, followed by
// one <metric>_score column per metric and <metric>__meta__<key> columns for
// meta keys seen on the first written row. The header is fixed at first
// write; meta keys that appear later in the run are ignored.
var fixedColumns = []string{"item_id", "input", "expected_output", "output", "time", "trace_id"}

// CheckpointRow is one item result destined for the checkpoint file.
type CheckpointRow struct {
	ItemID   string
	Input    string
	Expected string
	Output   string
	Err      string // when set, the output column records ERROR: <msg>
	Seconds  float64
	TraceID  string
	Scores   map[string]*float64
	Meta     map[string]map[string]any // metric -> meta key -> value
}

// ResumeState is what a prior checkpoint contributes to a restarted run.
// Items in either set are skipped; errored items are not retried.
type ResumeState struct {
	Completed map[string]bool
	Errored   map[string]bool
	Rows      []RestoredRow
}

// Processed reports whether the item id was already handled.
func (r *ResumeState) Processed(itemID string) bool {
	return r.Completed[itemID] || r.Errored[itemID]
}

// RestoredRow is one prior result replayed into the progress tracker.
type RestoredRow struct {
	ItemID   string
	Input    string
	Expected string
	Output   string
	Err      string
	Seconds  float64
	TraceID  string
	Scores   map[string]*float64
}

// Checkpoint is the append-only, fsync-on-row CSV record of item results.
// Single writer: the scheduler. Write failures are fatal to the run.
type Checkpoint struct {
	path    string
	metrics []string

	f      *os.File
	w      *csv.Writer
	header []string
	colIdx map[string]int
}

// OpenCheckpoint opens (or creates) the checkpoint at path. When the file
// already holds rows, the returned ResumeState carries them and the existing
// header stays authoritative for the rest of the run.
func OpenCheckpoint(path string, metrics []string) (*Checkpoint, *ResumeState, error) {
	state := &ResumeState{
		Completed: make(map[string]bool),
		Errored:   make(map[string]bool),
	}

	cp := &Checkpoint{path: path, metrics: metrics}
	if err := cp.loadExisting(state); err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	cp.f = f
	cp.w = csv.NewWriter(f)
	return cp, state, nil
}

func (c *Checkpoint) loadExisting(state *ResumeState) error {
	f, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read checkpoint %s: %w", c.path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read checkpoint header: %w", err)
	}
	c.adoptHeader(header)

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read checkpoint row: %w", err)
		}
		row := c.parseRow(rec)
		if row.ItemID == "" {
			continue
		}
		if row.Err != "" {
			state.Errored[row.ItemID] = true
		} else {
			state.Completed[row.ItemID] = true
		}
		state.Rows = append(state.Rows, row)
	}
	return nil
}

func (c *Checkpoint) adoptHeader(header []string) {
	c.header = header
	c.colIdx = make(map[string]int, len(header))
	for i, col := range header {
		c.colIdx[col] = i
	}
}

func (c *Checkpoint) parseRow(rec []string) RestoredRow {
	get := func(col string) string {
		i, ok := c.colIdx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	row := RestoredRow{
		ItemID:   get("item_id"),
		Input:    get("input"),
		Expected: get("expected_output"),
		Output:   get("output"),
		TraceID:  get("trace_id"),
		Scores:   make(map[string]*float64),
	}
	if secs, err := strconv.ParseFloat(get("time"), 64); err == nil {
		row.Seconds = secs
	}
	if strings.HasPrefix(row.Output, errorOutputPrefix) {
		row.Err = strings.TrimPrefix(row.Output, errorOutputPrefix)
		row.Output = ""
	}
	for _, col := range c.header {
		name, ok := strings.CutSuffix(col, "_score")
		if !ok || strings.Contains(name, "__meta__") {
			continue
		}
		if v := get(col); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				row.Scores[name] = &f
			}
		}
	}
	return row
}

// Append writes one row and syncs it to disk. The header is written lazily
// on the first row so its meta columns reflect that row's meta keys.
func (c *Checkpoint) Append(row CheckpointRow) error {
	if c.header == nil {
		if err := c.writeHeader(row); err != nil {
			return err
		}
	}

	rec := make([]string, len(c.header))
	set := func(col, val string) {
		if i, ok := c.colIdx[col]; ok {
			rec[i] = val
		}
	}

	output := row.Output
	if row.Err != "" {
		output = errorOutputPrefix + row.Err
	}
	set("item_id", row.ItemID)
	set("input", row.Input)
	set("expected_output", row.Expected)
	set("output", output)
	set("time", strconv.FormatFloat(row.Seconds, 'f', 3, 64))
	set("trace_id", row.TraceID)

	for name, score := range row.Scores {
		if score != nil {
			set(name+"_score", strconv.FormatFloat(*score, 'f', -1, 64))
		}
	}
	for name, meta := range row.Meta {
		for key, val := range meta {
			set(name+"__meta__"+key, stringify(val))
		}
	}

	if err := c.w.Write(rec); err != nil {
		return fmt.Errorf("write checkpoint row: %w", err)
	}
	return c.sync()
}

func (c *Checkpoint) writeHeader(first CheckpointRow) error {
	header := append([]string(nil), fixedColumns...)
	for _, m := range c.metrics {
		header = append(header, m+"_score")
	}
	for _, m := range c.metrics {
		keys := make([]string, 0, len(first.Meta[m]))
		for k := range first.Meta[m] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			header = append(header, m+"__meta__"+k)
		}
	}
	c.adoptHeader(header)

	if err := c.w.Write(header); err != nil {
		return fmt.Errorf("write checkpoint header: %w", err)
	}
	return c.sync()
}

// sync flushes the CSV buffer and fsyncs so partial rows are never observed.
func (c *Checkpoint) sync() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("flush checkpoint: %w", err)
	}
	if err := c.f.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (c *Checkpoint) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		_ = c.f.Close()
		return err
	}
	return c.f.Close()
}
