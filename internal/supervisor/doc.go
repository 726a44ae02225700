// Package supervisor owns the lifecycle of the push connection.
//
// The Supervisor drives the connection state machine
//
//	Not initialized -> Connecting -> Connected -> Disconnected -> Connecting -> ...
//
// and retries on a fixed interval (five minutes in production). There is
// no backoff: the poll loop already covers the gap while push is down.
// Exactly one connection attempt is in flight at a time, and the feature
// toggle can be flipped off and on at runtime.
package supervisor
