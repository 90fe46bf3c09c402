package engine

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func openCP(t *testing.T, path string, metrics []string) (*Checkpoint, *ResumeState) {
	t.Helper()
	cp, state, err := OpenCheckpoint(path, metrics)
	if err != nil {
		t.Fatalf("OpenCheckpoint: %v", err)
	}
	t.Cleanup(func() { _ = cp.Close() })
	return cp, state
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.csv")

	cp, state := openCP(t, path, []string{"exact", "judge"})
	if len(state.Rows) != 0 {
		t.Fatalf("fresh file has %d rows", len(state.Rows))
	}

	err := cp.Append(CheckpointRow{
		ItemID:   "a",
		Input:    "question",
		Expected: "42",
		Output:   "42",
		Seconds:  1.25,
		TraceID:  "tr-1",
		Scores:   map[string]*float64{"exact": ptr(1.0), "judge": ptr(0.8)},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	err = cp.Append(CheckpointRow{
		ItemID:  "b",
		Input:   "other",
		Err:     "model refused",
		Seconds: 0.5,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := cp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, resumed := openCP(t, path, []string{"exact", "judge"})
	if !resumed.Processed("a") || !resumed.Processed("b") {
		t.Fatal("both items must count as processed")
	}
	if !resumed.Completed["a"] || resumed.Errored["a"] {
		t.Error("a should be completed")
	}
	if !resumed.Errored["b"] || resumed.Completed["b"] {
		t.Error("b should be errored, not retried")
	}

	if len(resumed.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(resumed.Rows))
	}
	a := resumed.Rows[0]
	if a.Output != "42" || a.Expected != "42" || a.TraceID != "tr-1" || a.Seconds != 1.25 {
		t.Errorf("row a = %+v", a)
	}
	if a.Scores["exact"] == nil || *a.Scores["exact"] != 1 || *a.Scores["judge"] != 0.8 {
		t.Errorf("scores = %+v", a.Scores)
	}

	b := resumed.Rows[1]
	if b.Err != "model refused" {
		t.Errorf("restored error = %q", b.Err)
	}
	if b.Output != "" {
		t.Errorf("errored row kept output %q", b.Output)
	}
	if len(b.Scores) != 0 {
		t.Errorf("errored row has scores %+v", b.Scores)
	}
}

func TestCheckpoint_ErrorRowOutputColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.csv")
	cp, _ := openCP(t, path, nil)
	if err := cp.Append(CheckpointRow{ItemID: "x", Err: "timed out after 5s"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = cp.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	outIdx := -1
	for i, col := range recs[0] {
		if col == "output" {
			outIdx = i
		}
	}
	if outIdx < 0 {
		t.Fatalf("header = %v", recs[0])
	}
	if got := recs[1][outIdx]; got != "ERROR: timed out after 5s" {
		t.Errorf("output cell = %q", got)
	}
}

func TestCheckpoint_HeaderFixedAtFirstRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.csv")
	cp, _ := openCP(t, path, []string{"judge"})

	err := cp.Append(CheckpointRow{
		ItemID: "a",
		Scores: map[string]*float64{"judge": ptr(0.5)},
		Meta: map[string]map[string]any{
			"judge": {"reason": "ok", "attempts": 2},
		},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Meta keys unseen on the first row have no column and are dropped.
	err = cp.Append(CheckpointRow{
		ItemID: "b",
		Scores: map[string]*float64{"judge": ptr(1.0)},
		Meta: map[string]map[string]any{
			"judge": {"reason": "great", "novel_key": "ignored"},
		},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = cp.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	want := []string{
		"item_id", "input", "expected_output", "output", "time", "trace_id",
		"judge_score",
		"judge__meta__attempts", "judge__meta__reason",
	}
	if !reflect.DeepEqual(recs[0], want) {
		t.Errorf("header = %v, want %v", recs[0], want)
	}
	for _, rec := range recs[1:] {
		if len(rec) != len(want) {
			t.Errorf("row width = %d, want %d", len(rec), len(want))
		}
	}
}

func TestCheckpoint_ResumeAdoptsExistingHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.csv")

	cp1, _ := openCP(t, path, []string{"exact"})
	if err := cp1.Append(CheckpointRow{ItemID: "a", Scores: map[string]*float64{"exact": ptr(1.0)}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = cp1.Close()

	// Reopen with an extra metric: the on-disk header stays authoritative,
	// so the new metric's score has nowhere to go.
	cp2, state := openCP(t, path, []string{"exact", "late"})
	if len(state.Rows) != 1 {
		t.Fatalf("rows = %d", len(state.Rows))
	}
	err := cp2.Append(CheckpointRow{
		ItemID: "b",
		Scores: map[string]*float64{"exact": ptr(0.0), "late": ptr(1.0)},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = cp2.Close()

	_, resumed := openCP(t, path, []string{"exact", "late"})
	var b *RestoredRow
	for i := range resumed.Rows {
		if resumed.Rows[i].ItemID == "b" {
			b = &resumed.Rows[i]
		}
	}
	if b == nil {
		t.Fatal("row b not restored")
	}
	if b.Scores["exact"] == nil || *b.Scores["exact"] != 0 {
		t.Errorf("exact score = %v", b.Scores["exact"])
	}
	if _, ok := b.Scores["late"]; ok {
		t.Error("late metric should have been dropped by the fixed header")
	}
}

func TestCheckpoint_EmptyFileBehavesLikeFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.csv")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cp, state := openCP(t, path, []string{"m"})
	if state.Processed("anything") {
		t.Error("empty file should carry no resume state")
	}
	if err := cp.Append(CheckpointRow{ItemID: "a"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
}
