// Package api implements the read-only HTTP API and live change stream.
//
// This package provides:
//   - REST endpoints for the cached location view, devices, push
//     connection status and change history
//   - A WebSocket hub that relays change notifications to subscribers
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// Handlers only read copies from the snapshot store; nothing in this
// package mutates state. The hub is subscribed to the notifier, so
// WebSocket clients see changes in the same per-location order as every
// other sink.
//
// # WebSocket protocol
//
// Clients send {"type":"subscribe","payload":{"channels":[...]}} where a
// channel is a notification key such as "alarm_state" or
// "<device>/temperature", or "*" for everything. Events arrive as
// {"type":"event","event_type":"<key>","payload":<change>}.
package api
