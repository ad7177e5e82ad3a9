package thing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
	"weak"
)

// Logger defines the logging interface used by things and actions.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// WebThingsContext is the @context advertised in thing descriptions.
const WebThingsContext = "https://webthings.io/schemas"

// PollFunc performs one background poll cycle. A returned error is logged
// and the loop keeps running.
type PollFunc func(ctx context.Context) error

// Option configures a Thing at construction.
type Option func(*options)

type options struct {
	executor *Executor
	eventCap int
	logger   Logger
	publish  PublishFunc
	href     string
}

// WithExecutor shares an existing executor. The thing does not stop it on
// Close. Without this option the thing owns a default-sized executor.
func WithExecutor(e *Executor) Option {
	return func(o *options) { o.executor = e }
}

// WithEventCap bounds the event log.
func WithEventCap(n int) Option {
	return func(o *options) { o.eventCap = n }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPublisher sets the transport hook called for every notification.
func WithPublisher(fn PublishFunc) Option {
	return func(o *options) { o.publish = fn }
}

// WithHref overrides the thing's path prefix (default "/things/{id}").
func WithHref(href string) Option {
	return func(o *options) { o.href = href }
}

// Thing is the aggregate root for one device: it owns its properties,
// action history and event log, and notifies subscribers of every change.
//
// Registration methods (AddProperty, AddAvailableAction, AddAvailableEvent)
// are expected at setup time but are safe alongside concurrent reads.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Thing struct {
	id          string
	title       string
	types       []string
	description string
	href        string
	self        weak.Pointer[Thing]

	mu        sync.RWMutex
	props     map[string]*Property
	propOrder []string
	propSubs  map[string]Subscription

	actionTypes map[string]*actionType
	actionOrder []string
	actions     map[string][]*Action

	eventTypes map[string]Metadata
	eventOrder []string
	events     *EventLog

	subscribers subscriberSet
	publish     PublishFunc
	logger      Logger

	executor     *Executor
	ownsExecutor bool

	pollMu     sync.Mutex
	closed     bool
	pollCtx    context.Context
	pollCancel context.CancelFunc
	pollWG     sync.WaitGroup
}

// New creates a thing.
//
// Parameters:
//   - id: Unique identifier, also used in the default href
//   - title: Human-readable name
//   - types: Capability tags (@type), e.g. "OnOffSwitch", "Light"
//   - description: Free text description
//   - opts: Optional executor, event cap, logger, publisher, href
//
// Returns:
//   - *Thing: The thing, ready for registration calls
func New(id, title string, types []string, description string, opts ...Option) *Thing {
	o := options{logger: noopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}

	t := &Thing{
		id:          id,
		title:       title,
		types:       slices.Clone(types),
		description: description,
		href:        o.href,
		props:       make(map[string]*Property),
		propSubs:    make(map[string]Subscription),
		actionTypes: make(map[string]*actionType),
		actions:     make(map[string][]*Action),
		eventTypes:  make(map[string]Metadata),
		events:      NewEventLog(o.eventCap),
		publish:     o.publish,
		logger:      o.logger,
		executor:    o.executor,
	}
	if t.href == "" {
		t.href = "/things/" + id
	}
	if t.executor == nil {
		t.executor = NewExecutor(0, 0)
		t.ownsExecutor = true
	}
	t.self = weak.Make(t)
	t.pollCtx, t.pollCancel = context.WithCancel(context.Background())
	return t
}

// ID returns the thing identifier.
func (t *Thing) ID() string { return t.id }

// Title returns the human-readable name.
func (t *Thing) Title() string { return t.title }

// Types returns the capability tags.
func (t *Thing) Types() []string { return slices.Clone(t.types) }

// Description returns the free text description.
func (t *Thing) Description() string { return t.description }

// Href returns the thing's path relative to the server root.
func (t *Thing) Href() string { return t.href }

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

// AddProperty attaches p to the thing. Every accepted change of p's value is
// published as a propertyStatus notification.
func (t *Thing) AddProperty(p *Property) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.props[p.name]; exists {
		return fmt.Errorf("%w: %s", ErrPropertyExists, p.name)
	}
	if !p.attach(t.self) {
		return fmt.Errorf("%w: %s is attached to another thing", ErrPropertyExists, p.name)
	}

	self := t.self
	name := p.name
	t.propSubs[name] = p.cell.watch(func(v any) {
		if owner := self.Value(); owner != nil {
			owner.notify(KindPropertyStatus, name, v)
		}
	})
	t.props[name] = p
	t.propOrder = append(t.propOrder, name)
	return nil
}

// RemoveProperty detaches the named property.
func (t *Thing) RemoveProperty(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.props[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPropertyNotFound, name)
	}
	p.cell.unwatch(t.propSubs[name])
	p.detach()
	delete(t.propSubs, name)
	delete(t.props, name)
	t.propOrder = slices.DeleteFunc(t.propOrder, func(n string) bool { return n == name })
	return nil
}

// Property returns the named property.
func (t *Thing) Property(name string) (*Property, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.props[name]
	return p, ok
}

// HasProperty reports whether the named property exists.
func (t *Thing) HasProperty(name string) bool {
	_, ok := t.Property(name)
	return ok
}

// Properties returns all properties in registration order.
func (t *Thing) Properties() []*Property {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Property, 0, len(t.propOrder))
	for _, name := range t.propOrder {
		out = append(out, t.props[name])
	}
	return out
}

// GetProperty returns the current value of the named property.
func (t *Thing) GetProperty(name string) (any, error) {
	p, ok := t.Property(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPropertyNotFound, name)
	}
	return p.Value(), nil
}

// GetProperties returns a name -> value snapshot of all properties.
func (t *Thing) GetProperties() map[string]any {
	props := t.Properties()
	out := make(map[string]any, len(props))
	for _, p := range props {
		out[p.name] = p.Value()
	}
	return out
}

// SetProperty performs a client-driven write on the named property.
// The thing lock is not held while the forwarding hook runs.
func (t *Thing) SetProperty(name string, v any) error {
	p, ok := t.Property(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPropertyNotFound, name)
	}
	return p.Set(v)
}

// PropertyDescriptions returns name -> description for all properties.
func (t *Thing) PropertyDescriptions() map[string]any {
	props := t.Properties()
	out := make(map[string]any, len(props))
	for _, p := range props {
		out[p.name] = p.AsDescription()
	}
	return out
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

// AddAvailableAction declares an action type.
//
// meta may carry an "input" JSON Schema that PerformAction validates
// requests against.
func (t *Thing) AddAvailableAction(name string, meta Metadata, fn ActionFunc, opts ...ActionOption) error {
	if name == "" || fn == nil {
		return fmt.Errorf("%w: action needs a name and a behaviour", ErrInvalidMetadata)
	}

	meta = meta.Clone()
	schema, err := compileSchema("actions/"+name, meta["input"])
	if err != nil {
		return err
	}

	at := &actionType{name: name, meta: meta, input: schema, fn: fn}
	for _, opt := range opts {
		opt(at)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.actionTypes[name]; exists {
		return fmt.Errorf("%w: action %s already declared", ErrInvalidMetadata, name)
	}
	t.actionTypes[name] = at
	t.actionOrder = append(t.actionOrder, name)
	return nil
}

// PerformAction validates and schedules an action, returning as soon as it
// is queued in StatusPending.
//
// Errors:
//   - ErrActionNotSupported: name was never declared
//   - ErrActionInputInvalid: input fails the declared input schema
//   - ErrExecutorBusy / ErrExecutorStopped: the action could not be queued;
//     it is failed and dropped from history
func (t *Thing) PerformAction(name string, input map[string]any) (*Action, error) {
	at, err := t.checkAction(name, input)
	if err != nil {
		return nil, err
	}
	normalized, err := normalizeInput(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrActionInputInvalid, name, err)
	}

	a := newAction(t, at, normalized)

	t.mu.Lock()
	t.actions[name] = append(t.actions[name], a)
	t.mu.Unlock()

	a.transition(StatusPending, nil)

	if err := a.schedule(); err != nil {
		a.abort(err)
		t.dropAction(name, a.id)
		t.logger.Warn("action not scheduled", "thing_id", t.id, "action", name, "error", err)
		return nil, err
	}

	t.logger.Debug("action queued", "thing_id", t.id, "action", name, "action_id", a.id)
	return a, nil
}

// ValidateActionInput runs the checks PerformAction makes before creating
// an action, without creating one.
//
// Errors:
//   - ErrActionNotSupported: name was never declared
//   - ErrActionInputInvalid: input fails the declared input schema
func (t *Thing) ValidateActionInput(name string, input map[string]any) error {
	_, err := t.checkAction(name, input)
	return err
}

func (t *Thing) checkAction(name string, input map[string]any) (*actionType, error) {
	t.mu.RLock()
	at, ok := t.actionTypes[name]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotSupported, name)
	}

	if at.input != nil {
		var doc any
		if input != nil {
			doc = input
		}
		if err := validateAgainst(at.input, doc); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrActionInputInvalid, name, err)
		}
	}
	return at, nil
}

func normalizeInput(input map[string]any) (map[string]any, error) {
	if input == nil {
		return nil, nil
	}
	doc, err := normalize(input)
	if err != nil {
		return nil, err
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, errors.New("input is not an object")
	}
	return m, nil
}

// Action returns one action record.
func (t *Thing) Action(name, id string) (*Action, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, a := range t.actions[name] {
		if a.id == id {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: action %s/%s", ErrNotFound, name, id)
}

// Actions returns action records in request order. An empty name returns
// every action grouped by declaration order of the action types.
func (t *Thing) Actions(name string) []*Action {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if name != "" {
		return slices.Clone(t.actions[name])
	}
	var out []*Action
	for _, n := range t.actionOrder {
		out = append(out, t.actions[n]...)
	}
	return out
}

// ActionDescriptions returns descriptions of the action records, filtered
// by name when non-empty.
func (t *Thing) ActionDescriptions(name string) []Metadata {
	actions := t.Actions(name)
	out := make([]Metadata, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.AsDescription())
	}
	return out
}

// AvailableActions returns declared action names in declaration order.
func (t *Thing) AvailableActions() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.actionOrder)
}

// CancelAction requests cancellation of one action.
func (t *Thing) CancelAction(name, id string) error {
	a, err := t.Action(name, id)
	if err != nil {
		return err
	}
	return a.Cancel()
}

// RemoveAction cancels (best effort) and forgets an action record.
func (t *Thing) RemoveAction(name, id string) error {
	a, err := t.Action(name, id)
	if err != nil {
		return err
	}
	_ = a.Cancel()
	if !t.dropAction(name, id) {
		return fmt.Errorf("%w: action %s/%s", ErrNotFound, name, id)
	}
	return nil
}

func (t *Thing) dropAction(name, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.actions[name]
	idx := slices.IndexFunc(list, func(a *Action) bool { return a.id == id })
	if idx < 0 {
		return false
	}
	t.actions[name] = slices.Delete(list, idx, idx+1)
	return true
}

// actionChanged is called by an action after each status transition.
func (t *Thing) actionChanged(a *Action) {
	t.notify(KindActionStatus, a.name, a.Snapshot())
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// AddAvailableEvent declares an event type.
func (t *Thing) AddAvailableEvent(name string, meta Metadata) error {
	if name == "" {
		return fmt.Errorf("%w: event name is required", ErrInvalidMetadata)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.eventTypes[name]; exists {
		return fmt.Errorf("%w: event %s already declared", ErrInvalidMetadata, name)
	}
	t.eventTypes[name] = meta.Clone()
	t.eventOrder = append(t.eventOrder, name)
	return nil
}

// AddEvent appends e to the event log, evicting the oldest entry beyond the
// cap, and notifies subscribers.
func (t *Thing) AddEvent(e Event) {
	if evicted := t.events.Append(e); evicted > 0 {
		t.logger.Debug("event log full, evicted oldest", "thing_id", t.id, "evicted", evicted)
	}
	t.notify(KindEvent, e.name, e)
}

// Events returns logged events in append order, filtered by name when
// non-empty.
func (t *Thing) Events(name string) []Event {
	return t.events.Snapshot(name)
}

// EventDescriptions returns descriptions of logged events, filtered by name
// when non-empty.
func (t *Thing) EventDescriptions(name string) []Metadata {
	events := t.events.Snapshot(name)
	out := make([]Metadata, 0, len(events))
	for _, e := range events {
		out = append(out, e.AsDescription())
	}
	return out
}

// AvailableEvents returns declared event names in declaration order.
func (t *Thing) AvailableEvents() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.eventOrder)
}

// HasAvailableEvent reports whether name was declared.
func (t *Thing) HasAvailableEvent(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.eventTypes[name]
	return ok
}

// ---------------------------------------------------------------------------
// Subscribers and notification
// ---------------------------------------------------------------------------

// AddSubscriber registers s for all notifications of this thing.
func (t *Thing) AddSubscriber(s Subscriber) SubscriberID {
	return t.subscribers.add(s)
}

// RemoveSubscriber unregisters a subscriber. Reports whether it was found.
func (t *Thing) RemoveSubscriber(id SubscriberID) bool {
	return t.subscribers.remove(id)
}

// SubscriberCount returns the number of registered subscribers.
func (t *Thing) SubscriberCount() int {
	return len(t.subscribers.snapshot())
}

func (t *Thing) notify(kind Kind, name string, payload any) {
	n := Notification{
		ThingID:   t.id,
		Kind:      kind,
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	if t.publish != nil {
		t.deliver(n, func() { t.publish(t, n) })
	}
	for _, e := range t.subscribers.snapshot() {
		t.deliver(n, func() { e.sub.Notify(n) })
	}
}

// deliver runs fn and contains a panicking consumer.
func (t *Thing) deliver(n Notification, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("notification consumer panicked",
				"thing_id", t.id,
				"kind", string(n.Kind),
				"name", n.Name,
				"panic", r,
			)
		}
	}()
	fn()
}

// ---------------------------------------------------------------------------
// Background polling and lifecycle
// ---------------------------------------------------------------------------

// StartPolling runs fn every interval until Close. A failing or panicking
// fn is logged and the loop continues; values it did not update stay as
// they were.
func (t *Thing) StartPolling(interval time.Duration, fn PollFunc) error {
	if interval <= 0 {
		return fmt.Errorf("thing: poll interval must be positive, got %s", interval)
	}

	t.pollMu.Lock()
	defer t.pollMu.Unlock()

	if t.closed {
		return ErrThingClosed
	}
	t.pollWG.Add(1)
	go t.pollLoop(interval, fn)
	return nil
}

func (t *Thing) pollLoop(interval time.Duration, fn PollFunc) {
	defer t.pollWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.pollCtx.Done():
			return
		case <-ticker.C:
			t.pollOnce(fn)
		}
	}
}

func (t *Thing) pollOnce(fn PollFunc) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("poll panicked", "thing_id", t.id, "panic", r)
		}
	}()
	if err := fn(t.pollCtx); err != nil && t.pollCtx.Err() == nil {
		t.logger.Warn("poll failed", "thing_id", t.id, "error", err)
	}
}

// Close stops background polling, waits for poll loops to exit and, if the
// thing owns its executor, stops it. Safe to call repeatedly.
func (t *Thing) Close() {
	t.pollMu.Lock()
	if t.closed {
		t.pollMu.Unlock()
		return
	}
	t.closed = true
	t.pollMu.Unlock()

	t.pollCancel()
	t.pollWG.Wait()

	if t.ownsExecutor {
		t.executor.Stop()
	}
	t.logger.Debug("thing closed", "thing_id", t.id)
}

// ---------------------------------------------------------------------------
// Description
// ---------------------------------------------------------------------------

// AsDescription returns the thing description: identity, capability tags,
// property, action and event descriptions, and links to the collections.
func (t *Thing) AsDescription() Metadata {
	desc := Metadata{
		"id":         t.id,
		"title":      t.title,
		"@context":   WebThingsContext,
		"properties": t.PropertyDescriptions(),
		"links": []any{
			map[string]any{"rel": "properties", "href": t.href + "/properties"},
			map[string]any{"rel": "actions", "href": t.href + "/actions"},
			map[string]any{"rel": "events", "href": t.href + "/events"},
		},
	}
	if len(t.types) > 0 {
		desc["@type"] = slices.Clone(t.types)
	}
	if t.description != "" {
		desc["description"] = t.description
	}

	t.mu.RLock()
	actions := make(map[string]any, len(t.actionOrder))
	for _, name := range t.actionOrder {
		actions[name] = t.actionTypes[name].meta.with(Metadata{
			"links": []any{map[string]any{"rel": "action", "href": t.href + "/actions/" + name}},
		})
	}
	events := make(map[string]any, len(t.eventOrder))
	for _, name := range t.eventOrder {
		events[name] = t.eventTypes[name].with(Metadata{
			"links": []any{map[string]any{"rel": "event", "href": t.href + "/events/" + name}},
		})
	}
	t.mu.RUnlock()

	desc["actions"] = actions
	desc["events"] = events
	return desc
}
