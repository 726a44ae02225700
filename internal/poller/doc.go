// Package poller runs the periodic full-snapshot fetch for one location.
//
// Polling is the consistency backstop for the push channel: it runs on a
// fixed interval regardless of push health, and a failed poll only bumps a
// counter and waits for the next tick. There is no backoff.
package poller
