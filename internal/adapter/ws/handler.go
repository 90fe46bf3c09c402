// Package ws implements the WebSocket adapter for the live run feed.
// Clients subscribe to a single run and receive run.progress and run.status
// messages as event batches are projected.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	RunID   string          `json:"run_id"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection watching one run.
type conn struct {
	ws     *websocket.Conn
	runID  string
	cancel context.CancelFunc
}

// Hub manages active WebSocket connections grouped by run id.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*conn]struct{} // run id -> connections
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*conn]struct{}),
	}
}

// HandleWS upgrades the connection and registers it for the run in the URL.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		http.Error(w, "run id required", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, runID: runID, cancel: cancel}

	h.mu.Lock()
	if h.conns[runID] == nil {
		h.conns[runID] = make(map[*conn]struct{})
	}
	h.conns[runID][c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr, "run_id", runID)

	// Read loop (to detect disconnects and consume pings)
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			_, _, err := ws.Read(ctx)
			if err != nil {
				return
			}
		}
	}()
}

// BroadcastRun sends a typed event to every client watching runID.
// Implements the broadcast port.
func (h *Hub) BroadcastRun(ctx context.Context, runID, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}
	h.BroadcastRaw(ctx, runID, eventType, raw)
}

// BroadcastRaw sends a pre-marshaled payload to every client watching runID.
// The NATS bridge uses it to forward peer messages without re-encoding.
func (h *Hub) BroadcastRaw(ctx context.Context, runID, eventType string, payload json.RawMessage) {
	data, err := json.Marshal(Message{Type: eventType, RunID: runID, Payload: payload})
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns[runID] {
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections across all runs.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.conns {
		n += len(set)
	}
	return n
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[c.runID]
	if !ok {
		return
	}
	if _, ok := set[c]; ok {
		c.cancel()
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.runID)
		}
		slog.Info("websocket disconnected", "run_id", c.runID)
	}
}
