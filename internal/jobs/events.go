package jobs

import (
	"sync"
	"time"

	"call-audit-go/internal/types"
)

// Event is a sequenced progress update consumed by stream subscribers.
type Event struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	JobID     string          `json:"job_id"`
	Status    types.JobStatus `json:"status"`
	Progress  int             `json:"progress"`
	Step      string          `json:"step,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Terminal reports whether the event closes the job's stream.
func (e Event) Terminal() bool {
	return e.Status.Terminal()
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	changed   chan struct{}
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		changed:   make(chan struct{}),
	}
}

// Publish appends one event, assigns sequence and timestamp and wakes waiters.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	close(b.changed)
	b.changed = make(chan struct{})
	return event
}

// Since returns events with sequence strictly greater than seq.
// An empty jobID matches every job.
func (b *EventBus) Since(jobID string, seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq <= seq {
			continue
		}
		if jobID != "" && event.JobID != jobID {
			continue
		}
		out = append(out, event)
	}
	return out
}

// Changed returns a channel that is closed on the next Publish.
func (b *EventBus) Changed() <-chan struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.changed
}

// Read returns events for jobID after seq together with the newest sequence
// published so far. missed is true when events after seq were already trimmed
// from the buffer, in which case the caller must consult the job store.
func (b *EventBus) Read(jobID string, seq int64) (events []Event, head int64, missed bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	head = b.nextSeq
	if len(b.events) == 0 {
		return nil, head, head > seq
	}
	missed = b.events[0].Seq > seq+1
	for _, event := range b.events {
		if event.Seq <= seq || event.JobID != jobID {
			continue
		}
		events = append(events, event)
	}
	return events, head, missed
}
