package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of every webthingd topic.
const DefaultTopicPrefix = "webthing"

// Topic segments under {prefix}/things/{thingID}.
const (
	segProperties = "properties"
	segEvents     = "events"
	segActions    = "actions"
	cmdSet        = "set"
	cmdRequest    = "request"
)

// Topics builds webthingd topic names under a prefix.
//
//	topics := mqtt.NewTopics("webthing")
//	topics.Property("urn:dev:ops:my-lamp-1234", "brightness")
//	// Returns: "webthing/things/urn:dev:ops:my-lamp-1234/properties/brightness"
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix, or DefaultTopicPrefix when empty.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string { return t.prefix }

// Property is where property values are published (retained).
func (t Topics) Property(thingID, name string) string {
	return fmt.Sprintf("%s/things/%s/%s/%s", t.prefix, thingID, segProperties, name)
}

// PropertySet is where clients write a property.
func (t Topics) PropertySet(thingID, name string) string {
	return t.Property(thingID, name) + "/" + cmdSet
}

// Event is where event occurrences are published.
func (t Topics) Event(thingID, name string) string {
	return fmt.Sprintf("%s/things/%s/%s/%s", t.prefix, thingID, segEvents, name)
}

// Action is where action status changes are published.
func (t Topics) Action(thingID, name string) string {
	return fmt.Sprintf("%s/things/%s/%s/%s", t.prefix, thingID, segActions, name)
}

// ActionRequest is where clients request an action.
func (t Topics) ActionRequest(thingID, name string) string {
	return t.Action(thingID, name) + "/" + cmdRequest
}

// ServerStatus carries the retained online/offline status and the LWT.
func (t Topics) ServerStatus() string {
	return t.prefix + "/server/status"
}

// AllPropertySets matches every property write command.
func (t Topics) AllPropertySets() string {
	return fmt.Sprintf("%s/things/+/%s/+/%s", t.prefix, segProperties, cmdSet)
}

// AllActionRequests matches every action request command.
func (t Topics) AllActionRequests() string {
	return fmt.Sprintf("%s/things/+/%s/+/%s", t.prefix, segActions, cmdRequest)
}

// CommandKind classifies a parsed command topic.
type CommandKind int

// Command kinds.
const (
	CommandSetProperty CommandKind = iota + 1
	CommandRequestAction
)

// Command is a parsed command topic.
type Command struct {
	Kind    CommandKind
	ThingID string
	Name    string
}

// ParseCommand parses {prefix}/things/{id}/properties/{name}/set and
// {prefix}/things/{id}/actions/{name}/request.
func (t Topics) ParseCommand(topic string) (Command, error) {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/things/")
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, topic)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[0] == "" || parts[2] == "" {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, topic)
	}

	cmd := Command{ThingID: parts[0], Name: parts[2]}
	switch {
	case parts[1] == segProperties && parts[3] == cmdSet:
		cmd.Kind = CommandSetProperty
	case parts[1] == segActions && parts[3] == cmdRequest:
		cmd.Kind = CommandRequestAction
	default:
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, topic)
	}
	return cmd, nil
}

// ValidSegment reports whether s can be used as a single topic level.
func ValidSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#")
}
