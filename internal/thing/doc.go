// Package thing implements the device state and notification engine.
//
// A Thing aggregates typed observable properties, asynchronously executed
// actions and a bounded event log. Changes of any of these are pushed to a
// publish hook and to registered subscribers; the package itself performs
// no I/O.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                           Thing                             │
//	│                                                             │
//	│  ┌────────────┐   ┌──────────────┐   ┌──────────────────┐   │
//	│  │ Properties │   │   Actions    │   │     EventLog     │   │
//	│  │ Value[T] + │   │ state machine│   │ bounded FIFO     │   │
//	│  │ JSON Schema│   │ on Executor  │   │ snapshot reads   │   │
//	│  └─────┬──────┘   └──────┬───────┘   └────────┬─────────┘   │
//	│        └─────────────────┼────────────────────┘             │
//	│                          ▼                                  │
//	│                notify (PublishFunc, Subscribers)            │
//	└─────────────────────────────────────────────────────────────┘
//
// # Values
//
// Value[T] is the observable cell. Set runs the driver's forwarding hook
// and then notifies; NotifyOfExternalUpdate records a hardware reading
// without invoking the hook. Writes to one Value are linearised and every
// accepted write notifies, even when the value did not change.
//
// # Actions
//
// PerformAction validates input, records the action, moves it to pending
// and queues it on the Executor. A worker runs the behaviour; the action
// ends completed or error. Failures are logged and never reach the caller.
//
//	light := thing.New("light-1", "Lamp", []string{"Light"}, "A lamp")
//	defer light.Close()
//	a, err := light.PerformAction("fade", map[string]any{"brightness": 75, "duration": 50})
//	if err != nil {
//	    return err
//	}
//	<-a.Done()
//
// # Background polling
//
// StartPolling binds a periodic task to the thing. Close cancels it and
// waits for it to exit.
package thing
