// Package notify decouples thing notifications from the sinks that export
// them (MQTT, InfluxDB, Redis, the action journal).
//
// Things call Dispatcher.Publish synchronously on their write path; the
// dispatcher queues the notification and a single goroutine hands it to
// every sink. A slow or failing sink therefore never stalls a property
// write or an action worker.
//
//	d := notify.New(cfg.Things.NotificationBuffer, logger)
//	d.AddSink(bridge)
//	_ = d.Start(ctx)
//	light := thing.New(id, title, types, desc, thing.WithPublisher(d.Publish))
//	...
//	_ = d.Stop(shutdownCtx)
package notify
