// Package api implements the HTTP REST API and WebSocket event stream for accessd.
//
// This package provides:
//   - Command endpoints that submit to the dispatcher and wait for the result
//   - Device registry and tenant mapping endpoints
//   - A WebSocket stream of domain events backed by a consumer group
//   - Bearer-token (JWT HS256) authentication and the middleware stack
//     (request ID, logging, recovery, CORS, body limit)
//
// # Command responses
//
// Every command endpoint answers with the same body:
//
//	{"success": true, "code": "0", "message": "ok", "command_id": "...", "status": "succeeded"}
//
// The HTTP status follows the command status: 200 succeeded, 409 device
// offline, 502 driver error, 503 queue full or cancelled, 504 timeout.
//
// # Event stream
//
// GET /api/v1/events/stream?group=<g> upgrades to a WebSocket and writes one
// JSON event per message. Clients sharing a group share the work; an event
// is acknowledged once written. If the event backend fails the socket is
// closed with status 1011.
package api
