// Package influxdb records thing activity in InfluxDB.
//
// Property changes, events and action status transitions are written as
// points through the non-blocking, batched write API of
// influxdb-client-go. Sink adapts the client to the notification
// dispatcher so writes never run on a thing's write path.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	dispatcher.AddSink(influxdb.NewSink(client))
//
// # Thread Safety
//
// All Client methods are safe for concurrent use.
package influxdb
