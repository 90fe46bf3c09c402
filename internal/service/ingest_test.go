package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/EvalForge/internal/domain"
	"github.com/Strob0t/EvalForge/internal/domain/event"
	"github.com/Strob0t/EvalForge/internal/domain/run"
	"github.com/Strob0t/EvalForge/internal/domain/user"
	"github.com/Strob0t/EvalForge/internal/port/broadcast"
)

func newIngest(st *fakeStore, feed broadcast.Broadcaster) *IngestService {
	return NewIngestService(st, feed, nil, "http://dash", testLogger())
}

func TestCreateRun(t *testing.T) {
	st := newFakeStore()
	owner := seedUser(t, st, "alice@corp.test", user.RoleEmployee, "t1")
	svc := newIngest(st, nil)

	resp, err := svc.CreateRun(context.Background(), owner, &run.CreateRequest{
		Task:    "qa",
		Dataset: "golden",
		Metrics: []string{"exact"},
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if resp.RunID == "" {
		t.Fatal("missing run id")
	}
	if resp.LiveURL != "http://dash/runs/"+resp.RunID {
		t.Errorf("live url = %q", resp.LiveURL)
	}

	r, err := st.GetRun(context.Background(), resp.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r.Status != run.StatusRunning || r.OwnerID != owner.ID || r.StartedAt == nil {
		t.Errorf("stored run = %+v", r)
	}
}

func TestCreateRun_Invalid(t *testing.T) {
	st := newFakeStore()
	owner := seedUser(t, st, "alice@corp.test", user.RoleEmployee, "t1")
	svc := newIngest(st, nil)

	_, err := svc.CreateRun(context.Background(), owner, &run.CreateRequest{Dataset: "d"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func runEventBatch(t *testing.T, runID string) []event.Event {
	t.Helper()
	score := 1.0
	return []event.Event{
		makeEvent(t, runID, 1, event.TypeRunStarted, event.RunStarted{
			Task: "qa", Dataset: "golden", Model: "gpt-test",
			Metrics: []string{"exact"}, StartedAt: time.Now().UTC(),
		}),
		makeEvent(t, runID, 2, event.TypeItemStarted, event.ItemStarted{
			ItemID: "a", Index: 0, Input: json.RawMessage(`"q1"`),
		}),
		makeEvent(t, runID, 3, event.TypeMetricScored, event.MetricScored{
			ItemID: "a", MetricName: "exact", ScoreNumeric: &score,
		}),
		makeEvent(t, runID, 4, event.TypeItemCompleted, event.ItemCompleted{
			ItemID: "a", Output: json.RawMessage(`"a1"`), LatencyMS: 120,
		}),
	}
}

func TestApplyEvents_ProjectsBatch(t *testing.T) {
	st := newFakeStore()
	feed := &recordingFeed{}
	owner := seedUser(t, st, "alice@corp.test", user.RoleEmployee, "t1")
	r := seedRun(t, st, owner, "qa", "", run.StatusRunning)
	svc := newIngest(st, feed)

	batch := runEventBatch(t, r.ID)
	res, err := svc.ApplyEvents(context.Background(), owner, r.ID, batch)
	if err != nil {
		t.Fatalf("ApplyEvents: %v", err)
	}
	if res.Applied != 4 || res.Skipped != 0 {
		t.Fatalf("result = %+v", res)
	}

	// run_started refined the run attributes.
	got, _ := st.GetRun(context.Background(), r.ID)
	if got.Model != "gpt-test" {
		t.Errorf("model = %q after run_started", got.Model)
	}

	items, _ := st.ListRunItems(context.Background(), r.ID)
	if len(items) != 1 {
		t.Fatalf("items = %d", len(items))
	}
	it := items[0]
	if string(it.Output) != `"a1"` || it.LatencyMS == nil || *it.LatencyMS != 120 {
		t.Errorf("item = %+v", it)
	}
	if len(it.Scores) != 1 || it.Scores[0].MetricName != "exact" || *it.Scores[0].ScoreNumeric != 1 {
		t.Errorf("scores = %+v", it.Scores)
	}

	if len(feed.byType(broadcast.EventRunProgress)) != 1 {
		t.Error("expected one run.progress broadcast")
	}
}

func TestApplyEvents_IdempotentReplay(t *testing.T) {
	st := newFakeStore()
	owner := seedUser(t, st, "alice@corp.test", user.RoleEmployee, "t1")
	r := seedRun(t, st, owner, "qa", "", run.StatusRunning)
	svc := newIngest(st, nil)

	batch := runEventBatch(t, r.ID)
	if _, err := svc.ApplyEvents(context.Background(), owner, r.ID, batch); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	res, err := svc.ApplyEvents(context.Background(), owner, r.ID, batch)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Applied != 0 || res.Skipped != 4 {
		t.Fatalf("replay result = %+v, want all skipped", res)
	}

	// Partial replay: two old events, one new.
	score := 0.5
	mixed := append(batch[:2:2], makeEvent(t, r.ID, 5, event.TypeMetricScored, event.MetricScored{
		ItemID: "a", MetricName: "judge", ScoreNumeric: &score,
	}))
	res, err = svc.ApplyEvents(context.Background(), owner, r.ID, mixed)
	if err != nil {
		t.Fatalf("mixed apply: %v", err)
	}
	if res.Applied != 1 || res.Skipped != 2 {
		t.Fatalf("mixed result = %+v", res)
	}
}

func TestApplyEvents_RunCompletedFreezesRun(t *testing.T) {
	st := newFakeStore()
	owner := seedUser(t, st, "alice@corp.test", user.RoleEmployee, "t1")
	r := seedRun(t, st, owner, "qa", "", run.StatusRunning)
	svc := newIngest(st, nil)

	done := makeEvent(t, r.ID, 1, event.TypeRunCompleted, event.RunCompleted{
		EndedAt: time.Now().UTC(), FinalStatus: event.FinalStatusCompleted,
	})
	if _, err := svc.ApplyEvents(context.Background(), owner, r.ID, []event.Event{done}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ := st.GetRun(context.Background(), r.ID)
	if got.Status != run.StatusCompleted || got.EndedAt == nil {
		t.Fatalf("run = %+v", got)
	}

	// A new mutation against the frozen run is rejected...
	late := makeEvent(t, r.ID, 2, event.TypeItemStarted, event.ItemStarted{ItemID: "late"})
	_, err := svc.ApplyEvents(context.Background(), owner, r.ID, []event.Event{late})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("err = %v, want invalid state", err)
	}

	// ...but a duplicate of an already-stored event still passes as skipped.
	res, err := svc.ApplyEvents(context.Background(), owner, r.ID, []event.Event{done})
	if err != nil {
		t.Fatalf("duplicate on frozen run: %v", err)
	}
	if res.Applied != 0 || res.Skipped != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestApplyEvents_TerminalFreezeWithinBatch(t *testing.T) {
	st := newFakeStore()
	owner := seedUser(t, st, "alice@corp.test", user.RoleEmployee, "t1")
	r := seedRun(t, st, owner, "qa", "", run.StatusRunning)
	svc := newIngest(st, nil)

	batch := []event.Event{
		makeEvent(t, r.ID, 1, event.TypeRunCompleted, event.RunCompleted{
			EndedAt: time.Now().UTC(), FinalStatus: event.FinalStatusFailed,
		}),
		makeEvent(t, r.ID, 2, event.TypeItemStarted, event.ItemStarted{ItemID: "after-the-end"}),
	}
	_, err := svc.ApplyEvents(context.Background(), owner, r.ID, batch)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("err = %v, want invalid state mid-batch", err)
	}
	got, _ := st.GetRun(context.Background(), r.ID)
	if got.Status != run.StatusFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
}

func TestApplyEvents_ValidatesWholeBatchUpFront(t *testing.T) {
	st := newFakeStore()
	owner := seedUser(t, st, "alice@corp.test", user.RoleEmployee, "t1")
	r := seedRun(t, st, owner, "qa", "", run.StatusRunning)
	svc := newIngest(st, nil)

	good := makeEvent(t, r.ID, 1, event.TypeItemStarted, event.ItemStarted{ItemID: "a"})
	bad := makeEvent(t, r.ID, 2, event.TypeItemStarted, event.ItemStarted{})
	_, err := svc.ApplyEvents(context.Background(), owner, r.ID, []event.Event{good, bad})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	// Nothing from the rejected batch was applied.
	items, _ := st.ListRunItems(context.Background(), r.ID)
	if len(items) != 0 {
		t.Errorf("batch partially applied: %d items", len(items))
	}

	// run_id mismatch between path and envelope is a batch-level rejection.
	foreign := makeEvent(t, "other-run", 1, event.TypeItemStarted, event.ItemStarted{ItemID: "a"})
	_, err = svc.ApplyEvents(context.Background(), owner, r.ID, []event.Event{foreign})
	if !errors.Is(err, domain.ErrValidation) || !strings.Contains(err.Error(), "does not match") {
		t.Fatalf("err = %v, want run_id mismatch", err)
	}
}

func TestApplyEvents_OwnershipRequired(t *testing.T) {
	st := newFakeStore()
	owner := seedUser(t, st, "alice@corp.test", user.RoleEmployee, "t1")
	stranger := seedUser(t, st, "mallory@corp.test", user.RoleEmployee, "t2")
	admin := seedUser(t, st, "root@corp.test", user.RoleAdmin, "")
	r := seedRun(t, st, owner, "qa", "", run.StatusRunning)
	svc := newIngest(st, nil)

	ev := makeEvent(t, r.ID, 1, event.TypeItemStarted, event.ItemStarted{ItemID: "a"})
	if _, err := svc.ApplyEvents(context.Background(), stranger, r.ID, []event.Event{ev}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("stranger err = %v, want forbidden", err)
	}
	if _, err := svc.ApplyEvents(context.Background(), admin, r.ID, []event.Event{ev}); err != nil {
		t.Fatalf("admin err = %v", err)
	}
}

func TestApplyEvents_UnknownRun(t *testing.T) {
	st := newFakeStore()
	owner := seedUser(t, st, "alice@corp.test", user.RoleEmployee, "t1")
	svc := newIngest(st, nil)

	_, err := svc.ApplyEvents(context.Background(), owner, "nope", nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestApplyEvents_ItemFailedProjection(t *testing.T) {
	st := newFakeStore()
	owner := seedUser(t, st, "alice@corp.test", user.RoleEmployee, "t1")
	r := seedRun(t, st, owner, "qa", "", run.StatusRunning)
	svc := newIngest(st, nil)

	batch := []event.Event{
		makeEvent(t, r.ID, 1, event.TypeItemStarted, event.ItemStarted{ItemID: "a"}),
		makeEvent(t, r.ID, 2, event.TypeItemFailed, event.ItemFailed{
			ItemID: "a", Error: "timed out after 30s", TraceID: "tr-9",
		}),
	}
	if _, err := svc.ApplyEvents(context.Background(), owner, r.ID, batch); err != nil {
		t.Fatalf("ApplyEvents: %v", err)
	}
	items, _ := st.ListRunItems(context.Background(), r.ID)
	if len(items) != 1 || items[0].Error != "timed out after 30s" || items[0].TraceID != "tr-9" {
		t.Errorf("items = %+v", items)
	}
}

func TestDeleteRun(t *testing.T) {
	st := newFakeStore()
	owner := seedUser(t, st, "alice@corp.test", user.RoleEmployee, "t1")
	stranger := seedUser(t, st, "mallory@corp.test", user.RoleEmployee, "t2")
	r := seedRun(t, st, owner, "qa", "", run.StatusRunning)
	svc := newIngest(st, nil)

	if err := svc.DeleteRun(context.Background(), stranger, r.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("stranger delete err = %v", err)
	}
	if err := svc.DeleteRun(context.Background(), owner, r.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if _, err := st.GetRun(context.Background(), r.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("run still present after delete")
	}
}
