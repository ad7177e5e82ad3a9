package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/webthing-core/internal/thing"
)

// Broker is the subset of Client the bridge needs.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topic string) error
}

// ThingLookup resolves thing IDs. *thing.Registry satisfies it.
type ThingLookup interface {
	Get(id string) (*thing.Thing, error)
}

// propertyMessage is the retained body published for a property change.
type propertyMessage struct {
	Value     any    `json:"value"`
	Timestamp string `json:"timestamp"`
}

// ThingBridge mirrors thing notifications onto MQTT and applies commands
// received from it.
//
// Outbound (a notify.Sink):
//
//	{prefix}/things/{id}/properties/{name}   {"value":75,"timestamp":"..."}  retained
//	{prefix}/things/{id}/events/{name}       {"overheated":{"data":102,...}}
//	{prefix}/things/{id}/actions/{name}      action record
//
// Inbound:
//
//	{prefix}/things/{id}/properties/{name}/set     body is the JSON value
//	{prefix}/things/{id}/actions/{name}/request    body is the input object, or empty
type ThingBridge struct {
	broker Broker
	topics Topics
	things ThingLookup
	qos    byte
	logger Logger
}

// NewThingBridge creates a bridge. Call Start to accept commands.
func NewThingBridge(broker Broker, topics Topics, things ThingLookup, qos byte, logger Logger) *ThingBridge {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ThingBridge{
		broker: broker,
		topics: topics,
		things: things,
		qos:    qos,
		logger: logger,
	}
}

// Name implements notify.Sink.
func (b *ThingBridge) Name() string { return "mqtt" }

// Handle implements notify.Sink by publishing n.
func (b *ThingBridge) Handle(_ context.Context, n thing.Notification) error {
	if !ValidSegment(n.ThingID) || !ValidSegment(n.Name) {
		return fmt.Errorf("%w: thing %q name %q", ErrInvalidTopic, n.ThingID, n.Name)
	}

	var (
		topic    string
		body     any
		retained bool
	)
	switch n.Kind {
	case thing.KindPropertyStatus:
		topic = b.topics.Property(n.ThingID, n.Name)
		body = propertyMessage{Value: n.Payload, Timestamp: thing.Timestamp(n.Timestamp)}
		retained = true
	case thing.KindEvent:
		topic = b.topics.Event(n.ThingID, n.Name)
		body = n.Payload
	case thing.KindActionStatus:
		topic = b.topics.Action(n.ThingID, n.Name)
		body = n.Payload
	default:
		return nil
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s %s: %w", n.Kind, n.Name, err)
	}
	return b.broker.Publish(topic, payload, b.qos, retained)
}

// Start subscribes to the property-set and action-request wildcards.
func (b *ThingBridge) Start() error {
	for _, topic := range []string{b.topics.AllPropertySets(), b.topics.AllActionRequests()} {
		if err := b.broker.Subscribe(topic, b.qos, b.handleCommand); err != nil {
			return fmt.Errorf("subscribing %s: %w", topic, err)
		}
	}
	b.logger.Info("mqtt bridge started", "prefix", b.topics.Prefix())
	return nil
}

// Stop drops the command subscriptions.
func (b *ThingBridge) Stop() error {
	var errs []error
	for _, topic := range []string{b.topics.AllPropertySets(), b.topics.AllActionRequests()} {
		if err := b.broker.Unsubscribe(topic); err != nil && !errors.Is(err, ErrNotConnected) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *ThingBridge) handleCommand(topic string, payload []byte) error {
	cmd, err := b.topics.ParseCommand(topic)
	if err != nil {
		return err
	}

	t, err := b.things.Get(cmd.ThingID)
	if err != nil {
		return err
	}

	switch cmd.Kind {
	case CommandSetProperty:
		var value any
		if err := json.Unmarshal(payload, &value); err != nil {
			return fmt.Errorf("decoding %s: %w", topic, err)
		}
		if err := t.SetProperty(cmd.Name, value); err != nil {
			return err
		}
		b.logger.Debug("property set via mqtt", "thing_id", cmd.ThingID, "property", cmd.Name)

	case CommandRequestAction:
		var input map[string]any
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &input); err != nil {
				return fmt.Errorf("decoding %s: %w", topic, err)
			}
		}
		a, err := t.PerformAction(cmd.Name, input)
		if err != nil {
			return err
		}
		b.logger.Debug("action requested via mqtt", "thing_id", cmd.ThingID, "action", cmd.Name, "action_id", a.ID())
	}
	return nil
}
