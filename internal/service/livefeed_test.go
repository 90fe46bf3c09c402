package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Strob0t/EvalForge/internal/port/messagequeue"
)

type rawFeedEvent struct {
	RunID   string
	Type    string
	Payload json.RawMessage
}

// fakeHub records raw broadcasts and satisfies localHub.
type fakeHub struct {
	recordingFeed
	raw []rawFeedEvent
}

func (h *fakeHub) BroadcastRaw(_ context.Context, runID, eventType string, payload json.RawMessage) {
	h.raw = append(h.raw, rawFeedEvent{RunID: runID, Type: eventType, Payload: payload})
}

type published struct {
	subject string
	data    []byte
}

// fakeQueue captures publishes and lets a test drive the subscribed handler.
type fakeQueue struct {
	published []published
	handler   messagequeue.Handler
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.published = append(q.published, published{subject: subject, data: data})
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, _ string, h messagequeue.Handler) (func(), error) {
	q.handler = h
	return func() {}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func TestLiveFeed_BroadcastsLocallyAndPublishes(t *testing.T) {
	hub := &fakeHub{}
	q := &fakeQueue{}
	feed := NewLiveFeed(hub, q, "replica-a", testLogger())

	feed.BroadcastRun(context.Background(), "run-1", "run.progress", map[string]any{"applied": 3})

	if len(hub.raw) != 1 || hub.raw[0].RunID != "run-1" || hub.raw[0].Type != "run.progress" {
		t.Fatalf("local broadcasts = %+v", hub.raw)
	}
	if len(q.published) != 1 {
		t.Fatalf("published = %d", len(q.published))
	}
	if q.published[0].subject != messagequeue.SubjectRunsUpdatedPrefix+"run-1" {
		t.Errorf("subject = %s", q.published[0].subject)
	}
	var msg messagequeue.RunUpdatedPayload
	if err := json.Unmarshal(q.published[0].data, &msg); err != nil {
		t.Fatalf("unmarshal published: %v", err)
	}
	if msg.Origin != "replica-a" || msg.Type != "run.progress" {
		t.Errorf("message = %+v", msg)
	}
}

func TestLiveFeed_NilQueueIsLocalOnly(t *testing.T) {
	hub := &fakeHub{}
	feed := NewLiveFeed(hub, nil, "replica-a", testLogger())

	feed.BroadcastRun(context.Background(), "run-1", "run.status", map[string]any{"status": "COMPLETED"})
	if len(hub.raw) != 1 {
		t.Fatalf("local broadcasts = %d", len(hub.raw))
	}

	cancel, err := feed.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
}

func TestLiveFeed_RebroadcastsPeerMessages(t *testing.T) {
	hub := &fakeHub{}
	q := &fakeQueue{}
	feed := NewLiveFeed(hub, q, "replica-a", testLogger())

	if _, err := feed.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx := context.Background()

	peer, _ := json.Marshal(messagequeue.RunUpdatedPayload{
		RunID: "run-9", Type: "run.status", Payload: []byte(`{"status":"FAILED"}`), Origin: "replica-b",
	})
	if err := q.handler(ctx, "runs.updated.run-9", peer); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(hub.raw) != 1 || hub.raw[0].RunID != "run-9" {
		t.Fatalf("rebroadcasts = %+v", hub.raw)
	}

	// Own messages on the shared subject are skipped.
	own, _ := json.Marshal(messagequeue.RunUpdatedPayload{
		RunID: "run-9", Type: "run.status", Payload: []byte(`{}`), Origin: "replica-a",
	})
	if err := q.handler(ctx, "runs.updated.run-9", own); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(hub.raw) != 1 {
		t.Error("own message was rebroadcast")
	}

	// Poison messages are dropped without error so they are not redelivered.
	if err := q.handler(ctx, "runs.updated.run-9", []byte("not json")); err != nil {
		t.Errorf("poison message err = %v", err)
	}
	if len(hub.raw) != 1 {
		t.Error("poison message was rebroadcast")
	}
}
