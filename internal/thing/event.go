package thing

import (
	"encoding/json"
	"sync"
	"time"
)

// TimestampLayout is the wire format for event and action instants:
// ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000-07:00"

// DefaultEventCap is the event log size used when none is configured.
const DefaultEventCap = 100

// Timestamp formats t with TimestampLayout in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Event is an immutable, timestamped record of something that happened on
// a thing.
type Event struct {
	name string
	data any
	time time.Time
}

// NewEvent creates an event stamped with the current time. data may be nil.
func NewEvent(name string, data any) Event {
	return Event{name: name, data: data, time: time.Now()}
}

// Name returns the event name.
func (e Event) Name() string { return e.name }

// Data returns the event payload, or nil.
func (e Event) Data() any { return e.data }

// Time returns when the event was created.
func (e Event) Time() time.Time { return e.time }

// AsDescription returns {name: {data?, timestamp}}.
func (e Event) AsDescription() Metadata {
	inner := map[string]any{"timestamp": Timestamp(e.time)}
	if e.data != nil {
		inner["data"] = e.data
	}
	return Metadata{e.name: inner}
}

// MarshalJSON encodes the event in its description form.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.AsDescription())
}

// EventLog is a bounded, append-only event history. Once full, each append
// evicts the oldest entry.
//
// All methods are safe for concurrent use.
type EventLog struct {
	mu     sync.RWMutex
	cap    int
	events []Event
}

// NewEventLog creates a log holding at most capacity events. A non-positive
// capacity selects DefaultEventCap.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventCap
	}
	return &EventLog{cap: capacity, events: make([]Event, 0, capacity)}
}

// Append adds e and reports how many entries were evicted to make room.
func (l *EventLog) Append(e Event) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	if len(l.events) >= l.cap {
		evicted = len(l.events) - l.cap + 1
		n := copy(l.events, l.events[evicted:])
		clear(l.events[n:])
		l.events = l.events[:n]
	}
	l.events = append(l.events, e)
	return evicted
}

// Snapshot returns events in append order. A non-empty name filters by
// event name. The returned slice is a copy and is unaffected by later
// appends or evictions.
func (l *EventLog) Snapshot(name string) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, 0, len(l.events))
	for _, e := range l.events {
		if name == "" || e.name == name {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of retained events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Cap returns the configured capacity.
func (l *EventLog) Cap() int { return l.cap }
