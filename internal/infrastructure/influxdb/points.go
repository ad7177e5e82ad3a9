package influxdb

import (
	"encoding/json"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/webthing-core/internal/thing"
)

// Measurement names.
const (
	MeasurementProperty = "thing_property"
	MeasurementEvent    = "thing_event"
	MeasurementAction   = "thing_action"
)

// NotificationPoint converts a thing notification into a point. It
// reports false for kinds that are not recorded.
//
//	thing_property,thing_id=..,property=brightness value=75
//	thing_event,thing_id=..,event=overheated data=102
//	thing_action,thing_id=..,action=fade,status=completed duration_ms=51,count=1i
func NotificationPoint(n thing.Notification) (*write.Point, bool) {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	switch n.Kind {
	case thing.KindPropertyStatus:
		return write.NewPoint(MeasurementProperty,
			map[string]string{"thing_id": n.ThingID, "property": n.Name},
			valueFields("value", n.Payload),
			ts,
		), true

	case thing.KindEvent:
		data := n.Payload
		if e, ok := n.Payload.(thing.Event); ok {
			data = e.Data()
			ts = e.Time()
		}
		fields := valueFields("data", data)
		fields["count"] = int64(1)
		return write.NewPoint(MeasurementEvent,
			map[string]string{"thing_id": n.ThingID, "event": n.Name},
			fields,
			ts,
		), true

	case thing.KindActionStatus:
		rec, ok := n.Payload.(thing.ActionRecord)
		if !ok {
			return nil, false
		}
		fields := map[string]any{"count": int64(1)}
		if rec.TimeCompleted != nil {
			fields["duration_ms"] = float64(rec.TimeCompleted.Sub(rec.TimeRequested)) / float64(time.Millisecond)
		}
		if rec.Error != "" {
			fields["error"] = rec.Error
		}
		return write.NewPoint(MeasurementAction,
			map[string]string{"thing_id": n.ThingID, "action": n.Name, "status": string(rec.Status)},
			fields,
			ts,
		), true
	}
	return nil, false
}

// valueFields stores numbers under key, booleans under key_bool, strings
// under key_str and anything else as JSON under key_json. InfluxDB fixes
// a field's type on first write, so each kind gets its own field.
func valueFields(key string, v any) map[string]any {
	switch x := v.(type) {
	case nil:
		return map[string]any{key + "_json": "null"}
	case bool:
		return map[string]any{key + "_bool": x}
	case string:
		return map[string]any{key + "_str": x}
	case float64:
		return map[string]any{key: x}
	case float32:
		return map[string]any{key: float64(x)}
	case int:
		return map[string]any{key: float64(x)}
	case int64:
		return map[string]any{key: float64(x)}
	case int32:
		return map[string]any{key: float64(x)}
	case uint:
		return map[string]any{key: float64(x)}
	case uint64:
		return map[string]any{key: float64(x)}
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return map[string]any{key: f}
		}
		return map[string]any{key + "_str": x.String()}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{key + "_json": "null"}
	}
	return map[string]any{key + "_json": string(b)}
}
