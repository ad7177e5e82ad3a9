package thing

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ActionStatus is the lifecycle state of an action.
type ActionStatus string

// Action lifecycle states. Completed and Error are terminal.
const (
	StatusCreated   ActionStatus = "created"
	StatusPending   ActionStatus = "pending"
	StatusCompleted ActionStatus = "completed"
	StatusError     ActionStatus = "error"
)

// Terminal reports whether no further transitions are possible.
func (s ActionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

var allowedTransitions = map[ActionStatus][]ActionStatus{
	StatusCreated: {StatusPending, StatusError},
	StatusPending: {StatusCompleted, StatusError},
}

func canTransition(from, to ActionStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ActionFunc is the behaviour of an action type. It runs on an executor
// worker; ctx is cancelled when the executor shuts down. A non-nil error
// moves the action to StatusError.
//
// Behaviours that wait should select on ctx and check a.CancelRequested
// at their own safe points.
type ActionFunc func(ctx context.Context, a *Action) error

// ActionOption configures an action type at registration.
type ActionOption func(*actionType)

// Serial restricts an action type to one execution at a time per thing.
// Further requests wait in a per-type FIFO without occupying a worker and
// are handed to the executor one by one as each finishes.
func Serial() ActionOption {
	return func(at *actionType) {
		at.serial = &serialQueue{}
	}
}

// serialQueue holds requests of a Serial action type that are waiting for
// the running one to finish.
type serialQueue struct {
	mu      sync.Mutex
	busy    bool
	waiting []*Action
}

// enqueue submits a if nothing of its type is in flight, otherwise parks it.
func (q *serialQueue) enqueue(a *Action, exec *Executor) error {
	q.mu.Lock()
	if q.busy {
		q.waiting = append(q.waiting, a)
		q.mu.Unlock()
		return nil
	}
	q.busy = true
	q.mu.Unlock()
	return exec.submit(a)
}

// next hands the oldest waiting action to exec, or marks the queue idle.
// An action the executor refuses is failed and the following one is tried.
func (q *serialQueue) next(exec *Executor) {
	for {
		q.mu.Lock()
		if len(q.waiting) == 0 {
			q.busy = false
			q.mu.Unlock()
			return
		}
		a := q.waiting[0]
		q.waiting[0] = nil
		q.waiting = q.waiting[1:]
		q.mu.Unlock()

		err := exec.submit(a)
		if err == nil {
			return
		}
		a.transition(StatusError, err)
	}
}

type actionType struct {
	name   string
	meta   Metadata
	input  *jsonschema.Schema
	fn     ActionFunc
	serial *serialQueue
}

// ActionRecord is a point-in-time copy of an action's state.
type ActionRecord struct {
	ID              string         `json:"id"`
	ThingID         string         `json:"thingId"`
	Name            string         `json:"name"`
	Input           map[string]any `json:"input,omitempty"`
	Status          ActionStatus   `json:"status"`
	Href            string         `json:"href"`
	TimeRequested   time.Time      `json:"timeRequested"`
	TimeCompleted   *time.Time     `json:"timeCompleted,omitempty"`
	Error           string         `json:"error,omitempty"`
	CancelRequested bool           `json:"cancelRequested,omitempty"`
}

// Action is one requested execution of an action type.
//
// Status moves created -> pending -> completed|error, or created -> error
// when scheduling fails. Terminal states never change.
type Action struct {
	id            string
	name          string
	thingID       string
	href          string
	input         map[string]any
	timeRequested time.Time

	fn     ActionFunc
	serial *serialQueue
	exec   *Executor
	logger Logger
	thing  weak.Pointer[Thing]

	mu            sync.Mutex
	status        ActionStatus
	timeCompleted time.Time
	err           error

	cancelled atomic.Bool
	done      chan struct{}
}

func newAction(t *Thing, at *actionType, input map[string]any) *Action {
	id := uuid.NewString()
	return &Action{
		id:            id,
		name:          at.name,
		thingID:       t.id,
		href:          t.Href() + "/actions/" + at.name + "/" + id,
		input:         input,
		timeRequested: time.Now(),
		fn:            at.fn,
		serial:        at.serial,
		exec:          t.executor,
		logger:        t.logger,
		thing:         weak.Make(t),
		status:        StatusCreated,
		done:          make(chan struct{}),
	}
}

// ID returns the action's unique identifier.
func (a *Action) ID() string { return a.id }

// Name returns the action type name.
func (a *Action) Name() string { return a.name }

// Href returns the action's path relative to the server root.
func (a *Action) Href() string { return a.href }

// Input returns a copy of the validated input.
func (a *Action) Input() map[string]any { return maps.Clone(a.input) }

// Thing returns the owning thing, or nil if it has been collected.
func (a *Action) Thing() *Thing { return a.thing.Value() }

// TimeRequested returns when the action was created.
func (a *Action) TimeRequested() time.Time { return a.timeRequested }

// Status returns the current lifecycle state.
func (a *Action) Status() ActionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// TimeCompleted returns when the action reached a terminal state.
func (a *Action) TimeCompleted() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timeCompleted, a.status.Terminal()
}

// Err returns the failure cause for an action in StatusError.
func (a *Action) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Done is closed when the action reaches a terminal state.
func (a *Action) Done() <-chan struct{} { return a.done }

// Cancel records intent to cancel. It does not interrupt a running
// behaviour; an action that has not started yet fails with ErrCancelled
// when a worker picks it up. Returns ErrAlreadyTerminal once the action has
// completed or failed.
func (a *Action) Cancel() error {
	if a.Status().Terminal() {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, a.id)
	}
	a.cancelled.Store(true)
	return nil
}

// CancelRequested reports whether Cancel has been called.
func (a *Action) CancelRequested() bool { return a.cancelled.Load() }

// Snapshot returns a copy of the action state.
func (a *Action) Snapshot() ActionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec := ActionRecord{
		ID:              a.id,
		ThingID:         a.thingID,
		Name:            a.name,
		Input:           maps.Clone(a.input),
		Status:          a.status,
		Href:            a.href,
		TimeRequested:   a.timeRequested,
		CancelRequested: a.cancelled.Load(),
	}
	if a.status.Terminal() {
		tc := a.timeCompleted
		rec.TimeCompleted = &tc
	}
	if a.err != nil {
		rec.Error = a.err.Error()
	}
	return rec
}

// AsDescription returns {name: {input, href, status, timeRequested, timeCompleted?}}.
func (a *Action) AsDescription() Metadata {
	return a.Snapshot().AsDescription()
}

// AsDescription returns the description form of the recorded action.
func (r ActionRecord) AsDescription() Metadata {
	inner := map[string]any{
		"href":          r.Href,
		"status":        string(r.Status),
		"timeRequested": Timestamp(r.TimeRequested),
	}
	if r.Input != nil {
		inner["input"] = r.Input
	}
	if r.TimeCompleted != nil {
		inner["timeCompleted"] = Timestamp(*r.TimeCompleted)
	}
	return Metadata{r.Name: inner}
}

// transition moves the action to status to if the state machine allows it,
// then notifies the owning thing. Reports whether the move happened.
func (a *Action) transition(to ActionStatus, cause error) bool {
	a.mu.Lock()
	if !canTransition(a.status, to) {
		a.mu.Unlock()
		return false
	}
	a.status = to
	if to.Terminal() {
		a.timeCompleted = time.Now()
		a.err = cause
	}
	a.mu.Unlock()

	if t := a.thing.Value(); t != nil {
		t.actionChanged(a)
	}
	// Done is closed only after subscribers have seen the final status.
	if to.Terminal() {
		close(a.done)
	}
	return true
}

// run executes the behaviour on an executor worker.
func (a *Action) run(ctx context.Context) {
	defer a.release()

	var err error
	switch {
	case a.cancelled.Load():
		err = ErrCancelled
	case ctx.Err() != nil:
		err = fmt.Errorf("%w: %w", ErrExecutorStopped, ctx.Err())
	default:
		err = a.invoke(ctx)
	}

	if err != nil {
		a.logger.Warn("action failed",
			"thing_id", a.thingID,
			"action", a.name,
			"action_id", a.id,
			"error", err,
		)
		a.transition(StatusError, err)
		return
	}
	a.transition(StatusCompleted, nil)
}

func (a *Action) invoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return a.fn(ctx, a)
}

// abort fails an action that never reached a worker.
func (a *Action) abort(cause error) {
	a.transition(StatusError, cause)
	a.release()
}

// schedule hands the action to its executor, through the serial queue for
// Serial action types.
func (a *Action) schedule() error {
	if a.serial != nil {
		return a.serial.enqueue(a, a.exec)
	}
	return a.exec.submit(a)
}

// release lets the next waiting request of a Serial type run.
func (a *Action) release() {
	if a.serial != nil {
		a.serial.next(a.exec)
	}
}
