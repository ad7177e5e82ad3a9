package influxdb

import (
	"context"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/webthing-core/internal/thing"
)

// PointWriter accepts points for asynchronous delivery. *Client and
// api.WriteAPI satisfy it.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Sink records property values, events and action outcomes as points.
type Sink struct {
	w PointWriter
}

// NewSink creates a sink writing to w.
func NewSink(w PointWriter) *Sink {
	return &Sink{w: w}
}

// Name implements notify.Sink.
func (s *Sink) Name() string { return "influxdb" }

// Handle implements notify.Sink. Writes are batched by the client, so
// errors surface through its Logger rather than here.
func (s *Sink) Handle(_ context.Context, n thing.Notification) error {
	if p, ok := NotificationPoint(n); ok {
		s.w.WritePoint(p)
	}
	return nil
}
