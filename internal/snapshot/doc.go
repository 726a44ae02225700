// Package snapshot holds the authoritative per-location cache of device state.
//
// Two independent writers feed a Store: full snapshots from REST polling
// (ApplyFull) and single-capability deltas from the push channel
// (ApplyDelta). Every location is owned by one goroutine that applies
// mutations in arrival order, so the merge rule below is always evaluated
// against a consistent prior state while different locations never block
// each other.
//
// Merge rule: an incoming value for a (device, capability) pair replaces the
// cached one only when its upstream timestamp is strictly newer, or when the
// incoming value carries no timestamp at all (arrival order is then
// authoritative because the push stream is ordered per connection). A slow
// poll response therefore cannot clobber a fresher push update.
//
// Devices are only discovered from full snapshots and are never deleted:
// a device missing from a poll, or silent for longer than the staleness
// threshold, is flagged stale.
//
// Every accepted mutation produces an ordered batch of Change records,
// which the Store hands to its Publisher from the owning goroutine. Rejected
// or no-op merges produce nothing.
package snapshot
