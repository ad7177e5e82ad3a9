package influxdb

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/webthing-core/internal/thing"
)

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestNotificationPoint(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	requested := ts.Add(-1500 * time.Millisecond)

	tests := []struct {
		name string
		n    thing.Notification
		want []string
	}{
		{
			name: "numeric property",
			n:    thing.Notification{ThingID: "lamp", Kind: thing.KindPropertyStatus, Name: "brightness", Payload: 75, Timestamp: ts},
			want: []string{"thing_property,property=brightness,thing_id=lamp value=75 "},
		},
		{
			name: "boolean property",
			n:    thing.Notification{ThingID: "lamp", Kind: thing.KindPropertyStatus, Name: "on", Payload: true, Timestamp: ts},
			want: []string{"value_bool=true"},
		},
		{
			name: "object property",
			n:    thing.Notification{ThingID: "lamp", Kind: thing.KindPropertyStatus, Name: "color", Payload: map[string]any{"r": 1}, Timestamp: ts},
			want: []string{`value_json="{\"r\":1}"`},
		},
		{
			name: "event",
			n:    thing.Notification{ThingID: "lamp", Kind: thing.KindEvent, Name: "overheated", Payload: thing.NewEvent("overheated", 102), Timestamp: ts},
			want: []string{"thing_event,event=overheated,thing_id=lamp ", "count=1i", "data=102"},
		},
		{
			name: "failed action",
			n: thing.Notification{ThingID: "lamp", Kind: thing.KindActionStatus, Name: "fade", Timestamp: ts, Payload: thing.ActionRecord{
				Status: thing.StatusError, TimeRequested: requested, TimeCompleted: &ts, Error: "thing: cancelled",
			}},
			want: []string{"thing_action,action=fade,status=error,thing_id=lamp ", "duration_ms=1500", `error="thing: cancelled"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := NotificationPoint(tt.n)
			if !ok {
				t.Fatal("NotificationPoint() ok = false")
			}
			got := line(p)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("line %q missing %q", got, w)
				}
			}
		})
	}
}

func TestNotificationPointSkipsUnknown(t *testing.T) {
	if _, ok := NotificationPoint(thing.Notification{Kind: "bogus"}); ok {
		t.Error("unknown kind produced a point")
	}
	if _, ok := NotificationPoint(thing.Notification{Kind: thing.KindActionStatus, Payload: "x"}); ok {
		t.Error("action without record produced a point")
	}
}

type recordingWriter struct {
	mu     sync.Mutex
	points []*write.Point
}

func (w *recordingWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func TestSinkWritesFromThing(t *testing.T) {
	w := &recordingWriter{}
	sink := NewSink(w)

	th := thing.New("lamp", "Lamp", nil, "")
	defer th.Close()
	th.AddSubscriber(thing.SubscriberFunc(func(n thing.Notification) {
		_ = sink.Handle(context.Background(), n)
	}))

	p, _ := thing.NewProperty("on", thing.NewValue(false, nil), thing.Metadata{"type": "boolean"})
	_ = th.AddProperty(p)
	_ = th.SetProperty("on", true)
	th.AddEvent(thing.NewEvent("overheated", 102))

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.points) != 2 {
		t.Fatalf("points = %d, want 2", len(w.points))
	}
	if w.points[0].Name() != MeasurementProperty || w.points[1].Name() != MeasurementEvent {
		t.Errorf("measurements = %s, %s", w.points[0].Name(), w.points[1].Name())
	}
}
