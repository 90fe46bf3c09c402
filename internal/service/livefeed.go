package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/EvalForge/internal/port/broadcast"
	"github.com/Strob0t/EvalForge/internal/port/messagequeue"
)

// localHub is the subset of the websocket hub the feed needs: typed local
// broadcast plus raw rebroadcast of peer payloads.
type localHub interface {
	broadcast.Broadcaster
	BroadcastRaw(ctx context.Context, runID, eventType string, payload json.RawMessage)
}

// LiveFeed fans run updates out to local websocket clients and, when a
// message queue is configured, to peer replicas. Each replica tags its
// messages with an origin id and skips its own on the shared subject.
type LiveFeed struct {
	hub    localHub
	queue  messagequeue.Queue
	origin string
	log    *slog.Logger
}

// NewLiveFeed creates a live feed over the given hub. queue may be nil for
// single-replica deployments.
func NewLiveFeed(hub localHub, queue messagequeue.Queue, origin string, log *slog.Logger) *LiveFeed {
	return &LiveFeed{hub: hub, queue: queue, origin: origin, log: log}
}

// BroadcastRun delivers an update to local clients and publishes it for
// peer replicas. Implements the broadcast port.
func (f *LiveFeed) BroadcastRun(ctx context.Context, runID, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		f.log.Error("live feed marshal failed", "run_id", runID, "error", err)
		return
	}
	f.hub.BroadcastRaw(ctx, runID, eventType, raw)

	if f.queue == nil {
		return
	}
	msg, err := json.Marshal(messagequeue.RunUpdatedPayload{
		RunID:   runID,
		Type:    eventType,
		Payload: raw,
		Origin:  f.origin,
	})
	if err != nil {
		f.log.Error("live feed encode failed", "run_id", runID, "error", err)
		return
	}
	if err := f.queue.Publish(ctx, messagequeue.SubjectRunsUpdatedPrefix+runID, msg); err != nil {
		// Peer fan-out is best effort; local clients already got the update.
		f.log.Warn("live feed publish failed", "run_id", runID, "error", err)
	}
}

// Start subscribes to peer updates and rebroadcasts them to local clients.
// The returned cancel function stops the subscription. No-op without a
// queue.
func (f *LiveFeed) Start(ctx context.Context) (func(), error) {
	if f.queue == nil {
		return func() {}, nil
	}
	return f.queue.Subscribe(ctx, messagequeue.SubjectRunsUpdated, func(ctx context.Context, subject string, data []byte) error {
		var msg messagequeue.RunUpdatedPayload
		if err := json.Unmarshal(data, &msg); err != nil {
			f.log.Warn("live feed bad peer message", "subject", subject, "error", err)
			return nil // poison messages are dropped, not redelivered
		}
		if msg.Origin == f.origin {
			return nil
		}
		f.hub.BroadcastRaw(ctx, msg.RunID, msg.Type, msg.Payload)
		return nil
	})
}
