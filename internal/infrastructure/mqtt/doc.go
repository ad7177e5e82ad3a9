// Package mqtt connects webthingd to an MQTT broker.
//
// This package manages:
//   - The broker connection with auto-reconnect and subscription restore
//   - A retained server status topic plus a Last Will for crash detection
//   - ThingBridge, which mirrors thing notifications onto topics and
//     applies property writes and action requests received from them
//
// # Topic layout
//
//	{prefix}/server/status
//	{prefix}/things/{id}/properties/{name}          retained value
//	{prefix}/things/{id}/properties/{name}/set      inbound write
//	{prefix}/things/{id}/events/{name}
//	{prefix}/things/{id}/actions/{name}             status changes
//	{prefix}/things/{id}/actions/{name}/request     inbound request
//
// # Security Considerations
//
//   - Enable broker.tls outside local development
//   - Anyone who can publish to the command topics can drive the things;
//     restrict them with broker ACLs
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	bridge := mqtt.NewThingBridge(client, client.Topics(), registry, client.QoS(), logger)
//	dispatcher.AddSink(bridge)
//	if err := bridge.Start(); err != nil {
//	    return err
//	}
package mqtt
