package mqtt

import (
	"errors"
	"testing"
)

func TestTopics(t *testing.T) {
	topics := NewTopics("")
	id := "urn:dev:ops:my-lamp-1234"

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"property", topics.Property(id, "brightness"), "webthing/things/urn:dev:ops:my-lamp-1234/properties/brightness"},
		{"property set", topics.PropertySet(id, "on"), "webthing/things/urn:dev:ops:my-lamp-1234/properties/on/set"},
		{"event", topics.Event(id, "overheated"), "webthing/things/urn:dev:ops:my-lamp-1234/events/overheated"},
		{"action", topics.Action(id, "fade"), "webthing/things/urn:dev:ops:my-lamp-1234/actions/fade"},
		{"action request", topics.ActionRequest(id, "fade"), "webthing/things/urn:dev:ops:my-lamp-1234/actions/fade/request"},
		{"status", topics.ServerStatus(), "webthing/server/status"},
		{"all sets", topics.AllPropertySets(), "webthing/things/+/properties/+/set"},
		{"all requests", NewTopics("/home/").AllActionRequests(), "home/things/+/actions/+/request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	topics := NewTopics("webthing")

	tests := []struct {
		topic string
		want  Command
		err   bool
	}{
		{"webthing/things/lamp/properties/on/set", Command{CommandSetProperty, "lamp", "on"}, false},
		{"webthing/things/lamp/actions/fade/request", Command{CommandRequestAction, "lamp", "fade"}, false},
		{"webthing/things/lamp/properties/on", Command{}, true},
		{"webthing/things/lamp/actions/fade/set", Command{}, true},
		{"webthing/things//properties/on/set", Command{}, true},
		{"other/things/lamp/properties/on/set", Command{}, true},
		{"webthing/things/lamp/properties/on/set/extra", Command{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := topics.ParseCommand(tt.topic)
			if tt.err {
				if !errors.Is(err, ErrUnknownCommand) {
					t.Errorf("ParseCommand() error = %v, want ErrUnknownCommand", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValidSegment(t *testing.T) {
	for s, want := range map[string]bool{
		"urn:dev:ops:my-lamp-1234": true,
		"":                         false,
		"a/b":                      false,
		"a+":                       false,
		"#":                        false,
	} {
		if got := ValidSegment(s); got != want {
			t.Errorf("ValidSegment(%q) = %v, want %v", s, got, want)
		}
	}
}
