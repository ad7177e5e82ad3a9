package thing

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind classifies a Notification.
type Kind string

// Notification kinds.
const (
	// KindPropertyStatus carries the new property value as Payload.
	KindPropertyStatus Kind = "propertyStatus"

	// KindEvent carries the appended Event as Payload.
	KindEvent Kind = "event"

	// KindActionStatus carries an ActionRecord as Payload.
	KindActionStatus Kind = "actionStatus"
)

// Notification describes a change on a thing. It is delivered synchronously
// on the goroutine that made the change.
type Notification struct {
	ThingID   string
	Kind      Kind
	Name      string
	Payload   any
	Timestamp time.Time
}

// PublishFunc is the transport hook invoked for every notification.
// It must not block and must not perform I/O inline.
type PublishFunc func(t *Thing, n Notification)

// Subscriber receives notifications from a thing. Implementations must
// return quickly; slow consumers should buffer and drop.
type Subscriber interface {
	Notify(n Notification)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(n Notification)

// Notify calls f(n).
func (f SubscriberFunc) Notify(n Notification) { f(n) }

// SubscriberID identifies a subscriber registered on a thing.
type SubscriberID uint64

type subscriberEntry struct {
	id  SubscriberID
	sub Subscriber
}

// subscriberSet is a copy-on-write subscriber list; readers take a
// snapshot without locking.
type subscriberSet struct {
	mu      sync.Mutex
	nextID  SubscriberID
	entries atomic.Pointer[[]subscriberEntry]
}

func (s *subscriberSet) add(sub Subscriber) SubscriberID {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.snapshot()
	s.nextID++
	next := make([]subscriberEntry, len(old), len(old)+1)
	copy(next, old)
	next = append(next, subscriberEntry{id: s.nextID, sub: sub})
	s.entries.Store(&next)
	return s.nextID
}

func (s *subscriberSet) remove(id SubscriberID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.snapshot()
	next := make([]subscriberEntry, 0, len(old))
	found := false
	for _, e := range old {
		if e.id == id {
			found = true
			continue
		}
		next = append(next, e)
	}
	if found {
		s.entries.Store(&next)
	}
	return found
}

func (s *subscriberSet) snapshot() []subscriberEntry {
	if p := s.entries.Load(); p != nil {
		return *p
	}
	return nil
}
