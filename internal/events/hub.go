// Package events provides a bounded in-memory event ring for observability
// consumers (ops API, watch console). It is lossy by design and is never
// consulted for dispatch decisions.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the pipeline.
const (
	StatusAccepted  = "status.accepted"
	StatusDropped   = "status.dropped"
	WatchdogExpired = "watchdog.expired"
	CycleStarted    = "cycle.started"
	CycleFinished   = "cycle.finished"
	CycleSkipped    = "cycle.skipped"
)

// Event is one observability record.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub is a fixed-capacity ring of recent events. Writers never block; once
// the ring is full the oldest event is overwritten.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int
}

// NewHub creates a Hub holding up to capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{ring: make([]Event, capacity)}
}

// Publish appends an event. data is marshalled to JSON; a marshal failure
// degrades to an empty payload rather than dropping the event.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage(`{}`)
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// lastID 0 returns the full buffer.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}
