// Package notify fans snapshot changes out to presentation-layer consumers.
//
// The Notifier implements snapshot.Publisher. Each location gets an
// unbounded FIFO queue drained by one dispatcher goroutine, so consumers
// observe changes for a location in exactly the order the store accepted
// them. Publish never waits on a consumer: a stalled sink grows the backlog
// (reported as Stats.Pending) instead of stalling store mutations, and a
// slow consumer of one location never delays another location.
//
// Subscriptions filter on (location, device, capability). Empty fields are
// wildcards, and the synthetic keys alarm_state, aggregate_battery_status
// and connection_state are addressed with an empty device and the key as
// capability.
package notify
