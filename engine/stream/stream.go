package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/EvalForge/internal/domain/event"
)

// Poster posts one NDJSON batch for a run. *Client satisfies it; tests
// substitute fakes.
type Poster interface {
	PostEvents(ctx context.Context, runID string, events []event.Event) (*BatchResult, error)
}

// Delivery tuning. The background lane batches small and flushes often so the
// dashboard stays close to live; the retry budget caps memory growth during a
// platform outage.
const (
	flushBatchSize = 5
	flushInterval  = 250 * time.Millisecond
	pollInterval   = 100 * time.Millisecond
	maxRetries     = 10
	retryDelay     = 500 * time.Millisecond
	syncRetries    = 3
)

// Stream is an ordered, at-least-once event pipe for a single run.
//
// Events enqueued with Emit are delivered by a background worker in FIFO
// batches. EmitSync bypasses the queue for terminal events that must be
// observed before the engine exits. Close drains the queue; the caller
// blocks until the worker finishes, so process exit waits for delivery.
type Stream struct {
	runID  string
	poster Poster
	log    *slog.Logger

	retryDelay    time.Duration // overridable in tests
	flushInterval time.Duration

	mu     sync.Mutex
	queue  []event.Event
	seq    int64
	closed bool

	wake chan struct{}
	done chan struct{}

	dropped atomic.Int64
	sent    atomic.Int64
}

// New creates a Stream for runID and starts its background worker.
func New(runID string, poster Poster, log *slog.Logger) *Stream {
	if log == nil {
		log = slog.Default()
	}
	s := &Stream{
		runID:         runID,
		poster:        poster,
		log:           log.With("run_id", runID),
		retryDelay:    retryDelay,
		flushInterval: flushInterval,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	go s.worker()
	return s
}

// Emit enqueues an event for background delivery. The sequence number is
// assigned here, under the stream lock, so concurrent emitters observe a
// strictly monotonic per-run sequence.
func (s *Stream) Emit(typ event.Type, payload any) error {
	ev, err := s.envelope(typ, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("stream closed")
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// EmitSync posts a single-event batch inline with a short retry budget.
// Reserved for run_completed so the terminal transition is observed even if
// the background worker dies with the process.
func (s *Stream) EmitSync(ctx context.Context, typ event.Type, payload any) error {
	ev, err := s.envelope(typ, payload)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < syncRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}
		if _, lastErr = s.poster.PostEvents(ctx, s.runID, []event.Event{ev}); lastErr == nil {
			s.sent.Add(1)
			return nil
		}
	}
	return fmt.Errorf("sync emit %s: %w", typ, lastErr)
}

// Close stops accepting events, drains the queue, flushes once more, and
// blocks until the worker has exited or ctx expires.
func (s *Stream) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stream close: %w", ctx.Err())
	}
}

// RunID returns the platform-assigned run id this stream delivers for.
func (s *Stream) RunID() string { return s.runID }

// Dropped returns the number of events abandoned after exhausting retries.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

// Sent returns the number of events successfully delivered.
func (s *Stream) Sent() int64 { return s.sent.Load() }

func (s *Stream) envelope(typ event.Type, payload any) (event.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return event.Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	return event.Event{
		SchemaVersion: event.SchemaVersion,
		EventID:       uuid.NewString(),
		Sequence:      seq,
		SentAt:        time.Now().UTC(),
		Type:          typ,
		RunID:         s.runID,
		Payload:       raw,
	}, nil
}

// worker is the single background consumer: it drains the FIFO into NDJSON
// batches and retries each batch before moving on.
func (s *Stream) worker() {
	defer close(s.done)

	lastFlush := time.Now()
	for {
		s.mu.Lock()
		n := len(s.queue)
		closed := s.closed
		s.mu.Unlock()

		switch {
		case n >= flushBatchSize,
			n > 0 && time.Since(lastFlush) >= s.flushInterval,
			n > 0 && closed:
			s.flushBatch()
			lastFlush = time.Now()
		case closed:
			return
		default:
			select {
			case <-s.wake:
			case <-time.After(pollInterval):
			}
		}
	}
}

// flushBatch pops up to flushBatchSize events and posts them, retrying the
// same batch up to maxRetries before dropping it to cap memory under a
// permanent outage. The checkpoint file, not this stream, is the durability
// boundary.
func (s *Stream) flushBatch() {
	s.mu.Lock()
	n := len(s.queue)
	if n > flushBatchSize {
		n = flushBatchSize
	}
	batch := make([]event.Event, n)
	copy(batch, s.queue[:n])
	s.queue = s.queue[n:]
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx := context.Background()
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.retryDelay)
		}
		if _, err := s.poster.PostEvents(ctx, s.runID, batch); err == nil {
			s.sent.Add(int64(len(batch)))
			return
		} else if attempt == maxRetries-1 {
			s.dropped.Add(int64(len(batch)))
			s.log.Error("event batch dropped after retries",
				"events", len(batch), "attempts", maxRetries, "error", err)
		}
	}
}
