package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SensoryEvent is a raw pre-filter observation. Intensity plays the
// role significance plays in higher tiers.
type SensoryEvent struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Intensity float64        `json:"intensity"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp float64        `json:"timestamp"`
}

// NewSensoryEvent stamps a fresh event with an ID and the current time.
func NewSensoryEvent(eventType string, intensity float64, data map[string]any) SensoryEvent {
	return SensoryEvent{
		ID:        uuid.New().String(),
		EventType: eventType,
		Intensity: intensity,
		Data:      data,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}
}

// SensoryBuffer is the short-lived pre-filter tier. It carries its own
// lock: one producer and one peeker/consumer may run concurrently
// without involving the coordinator's lock.
type SensoryBuffer struct {
	mu       sync.Mutex
	events   []SensoryEvent
	capacity int
	dropped  int
	logger   *zap.Logger
}

// NewSensoryBuffer creates a buffer holding at most capacity events;
// the oldest event is dropped on overflow.
func NewSensoryBuffer(capacity int, logger *zap.Logger) *SensoryBuffer {
	if capacity <= 0 {
		capacity = 100
	}
	return &SensoryBuffer{capacity: capacity, logger: logger}
}

// AddEvent inserts at the producer side.
func (b *SensoryBuffer) AddEvent(ev SensoryEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) >= b.capacity {
		b.events = b.events[1:]
		b.dropped++
		b.logger.Debug("sensory buffer full, dropped oldest",
			zap.String("event_type", ev.EventType))
	}
	b.events = append(b.events, ev)
}

// PeekEvents returns up to max events without consuming them. The
// coordinator uses this to decide promotion. max <= 0 means all.
func (b *SensoryBuffer) PeekEvents(max int) []SensoryEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.events)
	if max > 0 && max < n {
		n = max
	}
	out := make([]SensoryEvent, n)
	copy(out, b.events[:n])
	return out
}

// EventsForProcessing consumes up to max events from the front. This
// is the read path for downstream meaning-evaluation collaborators.
// max <= 0 means all.
func (b *SensoryBuffer) EventsForProcessing(max int) []SensoryEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.events)
	if max > 0 && max < n {
		n = max
	}
	out := make([]SensoryEvent, n)
	copy(out, b.events[:n])
	b.events = b.events[n:]
	return out
}

// Len returns the buffered event count.
func (b *SensoryBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Clear empties the buffer.
func (b *SensoryBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}
