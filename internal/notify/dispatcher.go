package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/webthing-core/internal/thing"
)

// DefaultBuffer is the queue size used when none is configured.
const DefaultBuffer = 1024

// ErrStopped is returned when starting a stopped dispatcher.
var ErrStopped = errors.New("notify: dispatcher stopped")

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sink consumes notifications off the write path. Handle may perform I/O.
type Sink interface {
	Name() string
	Handle(ctx context.Context, n thing.Notification) error
}

// Dispatcher moves notifications from thing write paths to sinks.
//
// Publish never blocks: notifications are queued and a single goroutine
// delivers them to every sink in registration order, so per-thing
// ordering is preserved for each sink. When the queue is full the
// notification is dropped and counted.
type Dispatcher struct {
	queue  chan thing.Notification
	sinks  []Sink
	logger Logger

	mu      sync.RWMutex
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// New creates a dispatcher with a queue of buffer notifications.
func New(buffer int, logger Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		queue:  make(chan thing.Notification, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// AddSink registers a sink. Sinks must be added before Start.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Start launches the delivery goroutine. ctx bounds sink calls.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	if d.started {
		return nil
	}
	d.started = true
	d.ctx, d.cancel = context.WithCancel(ctx)
	go d.run()
	return nil
}

// Publish enqueues n. Its signature matches thing.PublishFunc.
func (d *Dispatcher) Publish(_ *thing.Thing, n thing.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- n:
		d.published.Add(1)
	default:
		if d.dropped.Add(1) == 1 {
			d.logger.Warn("notification queue full, dropping", "thing_id", n.ThingID, "kind", string(n.Kind))
		}
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n thing.Notification) {
	for _, s := range d.sinks {
		if err := d.handle(s, n); err != nil {
			d.failed.Add(1)
			d.logger.Warn("sink failed",
				"sink", s.Name(),
				"thing_id", n.ThingID,
				"kind", string(n.Kind),
				"name", n.Name,
				"error", err,
			)
		}
	}
}

func (d *Dispatcher) handle(s Sink, n thing.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("sink panicked", "sink", s.Name(), "panic", r)
			err = errors.New("sink panicked")
		}
	}()
	return s.Handle(d.ctx, n)
}

// Stop closes the queue and waits until queued notifications are flushed
// or ctx expires, in which case in-flight sink calls are cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	started := d.started
	close(d.queue)
	d.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-d.done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		return ctx.Err()
	}
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Published uint64
	Dropped   uint64
	Failed    uint64
	Queued    int
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Published: d.published.Load(),
		Dropped:   d.dropped.Load(),
		Failed:    d.failed.Load(),
		Queued:    len(d.queue),
	}
}

// SinkFunc adapts a function to Sink.
func SinkFunc(name string, fn func(ctx context.Context, n thing.Notification) error) Sink {
	return funcSink{name: name, fn: fn}
}

type funcSink struct {
	name string
	fn   func(ctx context.Context, n thing.Notification) error
}

func (s funcSink) Name() string { return s.name }

func (s funcSink) Handle(ctx context.Context, n thing.Notification) error { return s.fn(ctx, n) }
