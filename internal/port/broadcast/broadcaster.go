// Package broadcast defines the port for pushing live run updates to
// connected dashboard clients.
package broadcast

import "context"

// Event types pushed over the live feed.
const (
	EventRunProgress = "run.progress"
	EventRunStatus   = "run.status"
)

// Broadcaster sends real-time run updates to subscribed clients.
type Broadcaster interface {
	// BroadcastRun sends a typed event to every client watching runID.
	BroadcastRun(ctx context.Context, runID, eventType string, payload any)
}

// Nop is a Broadcaster that discards everything.
type Nop struct{}

// BroadcastRun does nothing.
func (Nop) BroadcastRun(context.Context, string, string, any) {}
