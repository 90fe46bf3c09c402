package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func validEvent(t *testing.T, typ Type, payload any) Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return Event{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.NewString(),
		Sequence:      1,
		SentAt:        time.Now().UTC(),
		Type:          typ,
		RunID:         "run-1",
		Payload:       raw,
	}
}

func TestEventValidate_Envelope(t *testing.T) {
	base := validEvent(t, TypeItemStarted, ItemStarted{ItemID: "a", Index: 0})
	if err := base.Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	for name, mutate := range map[string]func(e *Event){
		"wrong schema version": func(e *Event) { e.SchemaVersion = 2 },
		"non-uuid event id":    func(e *Event) { e.EventID = "not-a-uuid" },
		"zero sequence":        func(e *Event) { e.Sequence = 0 },
		"missing sent_at":      func(e *Event) { e.SentAt = time.Time{} },
		"unknown type":         func(e *Event) { e.Type = "item_vanished" },
		"missing run id":       func(e *Event) { e.RunID = "" },
		"missing payload":      func(e *Event) { e.Payload = nil },
	} {
		t.Run(name, func(t *testing.T) {
			ev := base
			mutate(&ev)
			if err := ev.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEventValidate_Payloads(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		payload any
		ok      bool
	}{
		{"run_started ok", TypeRunStarted, RunStarted{Task: "qa", Dataset: "d"}, true},
		{"run_started missing task", TypeRunStarted, RunStarted{Dataset: "d"}, false},
		{"item_started ok", TypeItemStarted, ItemStarted{ItemID: "a"}, true},
		{"item_started missing id", TypeItemStarted, ItemStarted{}, false},
		{"item_started negative index", TypeItemStarted, ItemStarted{ItemID: "a", Index: -1}, false},
		{"metric_scored ok", TypeMetricScored, MetricScored{ItemID: "a", MetricName: "m"}, true},
		{"metric_scored missing metric", TypeMetricScored, MetricScored{ItemID: "a"}, false},
		{"item_completed ok", TypeItemCompleted, ItemCompleted{ItemID: "a"}, true},
		{"item_completed negative latency", TypeItemCompleted, ItemCompleted{ItemID: "a", LatencyMS: -1}, false},
		{"item_failed ok", TypeItemFailed, ItemFailed{ItemID: "a", Error: "x"}, true},
		{"item_failed missing error", TypeItemFailed, ItemFailed{ItemID: "a"}, false},
		{"run_completed ok", TypeRunCompleted, RunCompleted{FinalStatus: FinalStatusCompleted}, true},
		{"run_completed failed status", TypeRunCompleted, RunCompleted{FinalStatus: FinalStatusFailed}, true},
		{"run_completed bad status", TypeRunCompleted, RunCompleted{FinalStatus: "DONE"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent(t, tt.typ, tt.payload)
			err := ev.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestBatchRoundTrip(t *testing.T) {
	in := []Event{
		validEvent(t, TypeItemStarted, ItemStarted{ItemID: "a"}),
		validEvent(t, TypeItemCompleted, ItemCompleted{ItemID: "a", LatencyMS: 42}),
	}
	in[1].Sequence = 2

	var buf bytes.Buffer
	if err := EncodeBatch(&buf, in); err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	if got := strings.Count(buf.String(), "\n"); got != 2 {
		t.Fatalf("encoded %d lines, want 2", got)
	}

	out, err := DecodeBatch(&buf)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("decoded %d events", len(out))
	}
	if out[0].EventID != in[0].EventID || out[1].Sequence != 2 {
		t.Errorf("round trip mangled: %+v", out)
	}
}

func TestDecodeBatch_SkipsBlankLines(t *testing.T) {
	ev := validEvent(t, TypeItemStarted, ItemStarted{ItemID: "a"})
	raw, _ := json.Marshal(ev)
	body := "\n" + string(raw) + "\n\n"

	out, err := DecodeBatch(strings.NewReader(body))
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("decoded %d events, want 1", len(out))
	}
}

func TestDecodeBatch_InvalidLineFailsBatch(t *testing.T) {
	good := validEvent(t, TypeItemStarted, ItemStarted{ItemID: "a"})
	raw, _ := json.Marshal(good)

	for name, body := range map[string]string{
		"malformed json": string(raw) + "\n{not json}\n",
		"schema invalid": string(raw) + "\n" + `{"schema_version":1,"event_id":"x"}` + "\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeBatch(strings.NewReader(body)); err == nil {
				t.Error("expected whole-batch failure")
			}
		})
	}
}
