package events

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one telemetry record. It is written to the sink as a single
// JSON line.
type Event struct {
	Timestamp string          `json:"ts"`
	Name      string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Store persists events. Implementations must be safe for concurrent use.
type Store interface {
	Append(ts time.Time, name string, data []byte, runID string) error
}

// Publisher mirrors serialized events to a secondary transport.
type Publisher interface {
	Publish(name string, line []byte) error
}

type syncer interface {
	Sync() error
}

type flusher interface {
	Flush() error
}

// Emitter is the single telemetry sink of a run. Every event is validated
// against the registry, written as one line to the underlying writer and
// flushed before Emit returns. Writes are serialized, so lines from
// concurrent callers never interleave.
type Emitter struct {
	mu sync.Mutex
	w  io.Writer

	buffer      *Ring[Event]
	broadcaster *Broadcaster
	total       atomic.Uint64

	storeMu        sync.RWMutex
	store          Store
	storeErrLogged bool
	runID          string

	pubMu      sync.RWMutex
	publishers []Publisher

	logger *slog.Logger
}

// NewEmitter returns an emitter writing to w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{
		w:           w,
		buffer:      NewRing[Event](256),
		broadcaster: NewBroadcaster(),
		logger:      slog.Default(),
	}
}

// SetLogger sets the logger used for store and publisher failures.
func (e *Emitter) SetLogger(l *slog.Logger) {
	if l != nil {
		e.logger = l
	}
}

// SetStore sets the store events are persisted to.
func (e *Emitter) SetStore(s Store) {
	e.storeMu.Lock()
	e.store = s
	e.storeErrLogged = false
	e.storeMu.Unlock()
}

// SetRunID tags persisted events with the given run id.
func (e *Emitter) SetRunID(id string) {
	e.storeMu.Lock()
	e.runID = id
	e.storeMu.Unlock()
}

// AddPublisher registers a publisher for every subsequent event.
func (e *Emitter) AddPublisher(p Publisher) {
	e.pubMu.Lock()
	e.publishers = append(e.publishers, p)
	e.pubMu.Unlock()
}

// Emit validates, serializes and writes one event. Only failures of the
// sink itself are returned; store and publisher errors are logged.
func (e *Emitter) Emit(name string, data any) error {
	if err := Validate(name); err != nil {
		return err
	}

	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal %s data: %w", name, err)
		}
		raw = b
	}

	ts := time.Now().UTC()
	ev := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Name:      name,
		Data:      raw,
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	line = append(line, '\n')

	e.mu.Lock()
	err = e.write(line)
	e.buffer.Add(ev)
	e.broadcaster.broadcast(ev)
	e.mu.Unlock()
	e.total.Add(1)

	e.persist(ts, name, raw)
	e.publish(name, line[:len(line)-1])

	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (e *Emitter) write(line []byte) error {
	if _, err := e.w.Write(line); err != nil {
		return err
	}
	switch w := e.w.(type) {
	case flusher:
		return w.Flush()
	case syncer:
		// Sync on a terminal or pipe reports EINVAL; the line is already out.
		_ = w.Sync()
	}
	return nil
}

func (e *Emitter) persist(ts time.Time, name string, data []byte) {
	e.storeMu.RLock()
	store := e.store
	runID := e.runID
	e.storeMu.RUnlock()

	if store == nil {
		return
	}
	if err := store.Append(ts, name, data, runID); err != nil {
		// Logged once to avoid spam when the database is down.
		e.storeMu.Lock()
		logged := e.storeErrLogged
		e.storeErrLogged = true
		e.storeMu.Unlock()
		if !logged {
			e.logger.Error("event store append failed", "event", name, "error", err)
		}
	}
}

func (e *Emitter) publish(name string, line []byte) {
	e.pubMu.RLock()
	pubs := e.publishers
	e.pubMu.RUnlock()

	for _, p := range pubs {
		if err := p.Publish(name, line); err != nil {
			e.logger.Warn("event publish failed", "event", name, "error", err)
		}
	}
}

// Snapshot returns the buffered events, oldest first.
func (e *Emitter) Snapshot() []Event {
	return e.buffer.Last(0)
}

// RecentEvents returns the last n buffered events. If n is not positive or
// exceeds the buffer, all buffered events are returned.
func (e *Emitter) RecentEvents(n int) []Event {
	return e.buffer.Last(n)
}

// TotalCount returns the number of events emitted so far.
func (e *Emitter) TotalCount() uint64 {
	return e.total.Load()
}

// Broadcaster returns the live subscriber fan-out of this emitter.
func (e *Emitter) Broadcaster() *Broadcaster {
	return e.broadcaster
}
