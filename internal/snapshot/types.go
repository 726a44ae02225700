package snapshot

import (
	"time"
)

// Source identifies which channel produced an observation.
type Source string

// Observation sources.
const (
	SourcePoll       Source = "poll"
	SourcePush       Source = "push"
	SourceSupervisor Source = "supervisor"
	SourceSweep      Source = "sweep"
)

// ConnectionState is the push channel lifecycle state.
type ConnectionState string

// Connection states.
const (
	ConnNotInitialized ConnectionState = "Not initialized"
	ConnConnecting     ConnectionState = "Connecting"
	ConnConnected      ConnectionState = "Connected"
	ConnDisconnected   ConnectionState = "Disconnected"
)

// StaleReason tells why a device is flagged stale.
type StaleReason string

// Stale reasons.
const (
	StaleMissing StaleReason = "missing" // absent from the latest poll
	StaleSilent  StaleReason = "silent"  // no observation within the threshold
)

// Synthetic notification keys and the capability used for the stale flag.
const (
	KeyAlarmState       = "alarm_state"
	KeyAggregateBattery = "aggregate_battery_status"
	KeyConnectionState  = "connection_state"

	CapabilityStale = "stale"
)

// Value is one capability reading as held in the cache.
type Value struct {
	// Value is a bool, float64 or string.
	Value any `json:"value"`

	// Timestamp is the upstream observation time. Zero when the source
	// did not report one.
	Timestamp time.Time `json:"timestamp,omitzero"`

	Source     Source    `json:"source"`
	ReceivedAt time.Time `json:"received_at"`
}

// Device is the cached state of one sensor.
type Device struct {
	ID           string           `json:"id"`
	Name         string           `json:"name,omitempty"`
	Model        string           `json:"model,omitempty"`
	SerialNumber string           `json:"serial_number,omitempty"`
	Room         string           `json:"room,omitempty"`
	Capabilities map[string]Value `json:"capabilities"`

	// Stale is set when the device was missing from the latest poll or has
	// not been observed within the staleness threshold.
	Stale       bool        `json:"stale"`
	StaleReason StaleReason `json:"stale_reason,omitempty"`
	StaleSince  time.Time   `json:"stale_since,omitzero"`

	// LastSeen is the newest upstream observation of any capability.
	LastSeen time.Time `json:"last_seen"`
}

// Alarm is the cached alarm panel state of a location.
type Alarm struct {
	State     AlarmState `json:"state"`
	Raw       string     `json:"raw,omitempty"`
	Timestamp time.Time  `json:"timestamp,omitzero"`
	Source    Source     `json:"source,omitempty"`
}

// Connection mirrors the push supervisor's state for readers.
type Connection struct {
	State  ConnectionState `json:"state"`
	Reason string          `json:"reason,omitempty"`
	Since  time.Time       `json:"since,omitzero"`
}

// Aggregates holds values derived from the device set.
type Aggregates struct {
	BatteryStatus string `json:"battery_status,omitempty"`
	// DefectiveDevices lists, sorted, the devices behind a Defective
	// BatteryStatus.
	DefectiveDevices []string `json:"defective_devices,omitempty"`
}

// AggregateFunc derives Aggregates from the current device set. It must be
// pure: no I/O and no retention of the map.
type AggregateFunc func(devices map[string]Device) Aggregates

// View is a point-in-time copy of a location, safe to retain and marshal.
type View struct {
	LocationID string            `json:"location_id"`
	Name       string            `json:"name,omitempty"`
	Alarm      Alarm             `json:"alarm"`
	Devices    map[string]Device `json:"devices"`
	Aggregates Aggregates        `json:"aggregates"`
	Connection Connection        `json:"connection"`
	LastPoll   time.Time         `json:"last_poll,omitzero"`
	Seq        uint64            `json:"seq"`
}

// Reading is one capability value in a full snapshot.
type Reading struct {
	Value     any
	Timestamp time.Time
}

// DeviceObservation is one device as reported by a full snapshot.
type DeviceObservation struct {
	ID           string
	Name         string
	Model        string
	SerialNumber string
	Room         string
	Capabilities map[string]Reading
}

// DeviceSet is a complete observation of a location from polling.
type DeviceSet struct {
	LocationID string
	Name       string

	// AlarmState is the raw upstream alarm state. Empty means the response
	// carried none and the cached state is kept.
	AlarmState     string
	AlarmTimestamp time.Time

	Devices []DeviceObservation

	// Dropped counts devices or states the fetcher could not decode.
	Dropped int
}

// Observation is one incremental update for a single device capability.
type Observation struct {
	DeviceID   string
	Capability string
	Value      any
	Timestamp  time.Time
	Source     Source
}

// Key addresses a notification. DeviceID is empty for location-level keys.
type Key struct {
	LocationID string `json:"location_id"`
	DeviceID   string `json:"device_id,omitempty"`
	Capability string `json:"capability"`
}

// String renders the key as "device/capability", or the bare synthetic key.
func (k Key) String() string {
	if k.DeviceID == "" {
		return k.Capability
	}
	return k.DeviceID + "/" + k.Capability
}

// Change records one accepted value change.
type Change struct {
	Seq       uint64    `json:"seq"`
	Key       Key       `json:"key"`
	Old       any       `json:"old"`
	New       any       `json:"new"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Source    Source    `json:"source"`
	At        time.Time `json:"at"`
}

// Result summarises one mutation.
type Result struct {
	Changes  []Change
	Rejected int // merges refused by the ordering rule
	Dropped  int // malformed or unroutable units
}
