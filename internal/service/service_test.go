package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/EvalForge/internal/domain/event"
	"github.com/Strob0t/EvalForge/internal/domain/org"
	"github.com/Strob0t/EvalForge/internal/domain/run"
	"github.com/Strob0t/EvalForge/internal/domain/user"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingFeed captures broadcast calls for assertions.
type recordingFeed struct {
	mu     sync.Mutex
	events []feedEvent
}

type feedEvent struct {
	RunID   string
	Type    string
	Payload any
}

func (f *recordingFeed) BroadcastRun(_ context.Context, runID, eventType string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, feedEvent{RunID: runID, Type: eventType, Payload: payload})
}

func (f *recordingFeed) byType(eventType string) []feedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []feedEvent
	for _, e := range f.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// fakeCache is a TTL-less in-memory cache.Cache for read-model tests.
type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	sets    int
	deletes int
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = append([]byte(nil), value...)
	c.sets++
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	c.deletes++
	return nil
}

// --- fixtures ---

func seedUser(t *testing.T, st *fakeStore, email string, role user.Role, teamUnitID string) *user.User {
	t.Helper()
	u := &user.User{
		ID:         uuid.NewString(),
		Email:      email,
		Name:       email,
		Role:       role,
		TeamUnitID: teamUnitID,
		Active:     true,
	}
	if err := st.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return u
}

func seedUnit(t *testing.T, st *fakeStore, id string, typ org.UnitType, parentID, managerID string) *org.Unit {
	t.Helper()
	u := &org.Unit{ID: id, Name: id, Type: typ, ParentID: parentID, ManagerUserID: managerID}
	if err := st.CreateOrgUnit(context.Background(), u); err != nil {
		t.Fatalf("seed unit %s: %v", id, err)
	}
	return u
}

func seedRun(t *testing.T, st *fakeStore, owner *user.User, task, model string, status run.Status) *run.Run {
	t.Helper()
	r := &run.Run{
		ID:          uuid.NewString(),
		CreatedByID: owner.ID,
		OwnerID:     owner.ID,
		Task:        task,
		Dataset:     "golden",
		Model:       model,
		Metrics:     []string{"exact"},
		Status:      status,
	}
	if err := st.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	return r
}

func makeEvent(t *testing.T, runID string, seq int64, typ event.Type, payload any) event.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return event.Event{
		SchemaVersion: event.SchemaVersion,
		EventID:       uuid.NewString(),
		Sequence:      seq,
		SentAt:        time.Now().UTC(),
		Type:          typ,
		RunID:         runID,
		Payload:       raw,
	}
}
