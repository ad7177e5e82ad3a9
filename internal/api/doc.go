// Package api implements the HTTP REST API and WebSocket server for webthingd.
//
// This package provides:
//   - Thing descriptions and the property, action and event resources
//   - One WebSocket endpoint per thing speaking the webthing message protocol
//   - The action journal and Prometheus metrics when those are configured
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Routes
//
//	GET    /health
//	GET    /metrics
//	GET    /things
//	GET    /things/{thingID}
//	GET    /things/{thingID}/ws
//	GET    /things/{thingID}/properties
//	PUT    /things/{thingID}/properties                    {"on": true, "brightness": 40}
//	GET    /things/{thingID}/properties/{name}
//	PUT    /things/{thingID}/properties/{name}             {"brightness": 40}
//	GET    /things/{thingID}/actions[/{action}]
//	POST   /things/{thingID}/actions[/{action}]            {"fade": {"input": {...}}}
//	GET    /things/{thingID}/actions/{action}/{actionID}
//	DELETE /things/{thingID}/actions/{action}/{actionID}
//	POST   /things/{thingID}/actions/{action}/{actionID}/cancel
//	GET    /things/{thingID}/events[/{event}]
//	GET    /things/{thingID}/journal?action=&status=&limit=&offset=
//
// # WebSocket protocol
//
// Every frame is {"messageType": ..., "data": {...}}. Clients send
// setProperty, requestAction and addEventSubscription. The server pushes
// propertyStatus and actionStatus for every change, event only for names
// the client subscribed to, and error for requests that failed. Clients
// that fall behind lose frames rather than stalling the thing.
//
// # Security
//
// There is no authentication. Bind to a trusted network or put the server
// behind a reverse proxy that authenticates.
package api
