package thing

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// Subscription identifies a listener registered on a Value.
type Subscription uint64

// ForwardFunc pushes a client-driven write out to the hardware.
// Returning an error rejects the write and leaves the Value unchanged.
type ForwardFunc[T any] func(v T) error

type listener[T any] struct {
	id Subscription
	fn func(T)
}

// Value is the observable cell underlying a Property.
//
// Reads are lock-free. Writes (client-driven via Set, driver-driven via
// NotifyOfExternalUpdate) are linearised: the new value is stored and every
// listener is invoked in registration order before the write returns, so all
// listeners observe the same sequence of values.
//
// Equal values are not suppressed; every accepted write notifies.
//
// Listeners run on the writer's goroutine while the write lock is held and
// must not write to the same Value.
type Value[T any] struct {
	current atomic.Pointer[T]
	forward ForwardFunc[T]

	writeMu sync.Mutex

	// listeners is replaced wholesale on (un)subscribe so an in-flight
	// notification keeps iterating its own snapshot.
	listeners atomic.Pointer[[]listener[T]]
	subMu     sync.Mutex
	nextID    atomic.Uint64
}

// NewValue creates a Value holding initial. forward may be nil.
func NewValue[T any](initial T, forward ForwardFunc[T]) *Value[T] {
	v := &Value[T]{forward: forward}
	v.current.Store(&initial)
	empty := make([]listener[T], 0)
	v.listeners.Store(&empty)
	return v
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	return *v.current.Load()
}

// Set performs a client-driven write. The forwarding hook runs first; if it
// fails the value is not updated and the error wraps ErrHookRejected.
func (v *Value[T]) Set(value T) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	if v.forward != nil {
		if err := v.forward(value); err != nil {
			return fmt.Errorf("%w: %w", ErrHookRejected, err)
		}
	}
	v.commit(value)
	return nil
}

// NotifyOfExternalUpdate records a hardware-sourced reading. The forwarding
// hook is skipped because the change already originates from the hardware.
func (v *Value[T]) NotifyOfExternalUpdate(value T) {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	v.commit(value)
}

// commit stores value and fires listeners. Caller holds writeMu.
func (v *Value[T]) commit(value T) {
	v.current.Store(&value)
	for _, l := range *v.listeners.Load() {
		l.fn(value)
	}
}

// Subscribe registers fn to be called after every accepted write.
func (v *Value[T]) Subscribe(fn func(T)) Subscription {
	v.subMu.Lock()
	defer v.subMu.Unlock()

	id := Subscription(v.nextID.Add(1))
	old := *v.listeners.Load()
	next := make([]listener[T], len(old), len(old)+1)
	copy(next, old)
	next = append(next, listener[T]{id: id, fn: fn})
	v.listeners.Store(&next)
	return id
}

// Unsubscribe removes a listener. A notification already in progress still
// reaches it; later writes do not. Reports whether the listener was found.
func (v *Value[T]) Unsubscribe(id Subscription) bool {
	v.subMu.Lock()
	defer v.subMu.Unlock()

	old := *v.listeners.Load()
	next := make([]listener[T], 0, len(old))
	found := false
	for _, l := range old {
		if l.id == id {
			found = true
			continue
		}
		next = append(next, l)
	}
	if found {
		v.listeners.Store(&next)
	}
	return found
}

// ListenerCount returns the number of registered listeners.
func (v *Value[T]) ListenerCount() int {
	return len(*v.listeners.Load())
}

// cell is the type-erased view of a Value used by Property.
type cell interface {
	load() any
	store(raw any) error
	watch(fn func(any)) Subscription
	unwatch(id Subscription) bool
}

func (v *Value[T]) load() any { return v.Get() }

func (v *Value[T]) store(raw any) error {
	typed, err := coerce[T](raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConstraint, err)
	}
	return v.Set(typed)
}

func (v *Value[T]) watch(fn func(any)) Subscription {
	return v.Subscribe(func(value T) { fn(value) })
}

func (v *Value[T]) unwatch(id Subscription) bool {
	return v.Unsubscribe(id)
}

// coerce converts a decoded wire value (float64, bool, string, map...) to T.
func coerce[T any](raw any) (T, error) {
	if typed, ok := raw.(T); ok {
		return typed, nil
	}

	var out T
	data, err := json.Marshal(raw)
	if err != nil {
		return out, fmt.Errorf("encoding %T: %w", raw, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("cannot convert %T to %T", raw, out)
	}
	return out, nil
}
