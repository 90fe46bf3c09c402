package messagequeue

// RunUpdatedPayload is the schema for runs.updated.<run_id> messages. It
// mirrors the websocket live-feed envelope so a replica can rebroadcast it
// verbatim to its own clients.
type RunUpdatedPayload struct {
	RunID string `json:"run_id"`
	// Type is one of the broadcast event types (run.progress, run.status).
	Type string `json:"type"`
	// Payload is the event body, pre-marshaled by the publishing replica.
	Payload []byte `json:"payload"`
	// Origin identifies the publishing replica so it can skip its own
	// messages on the shared subject.
	Origin string `json:"origin"`
}
