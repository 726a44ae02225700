package snapshot

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// state is the mutable content of one location. It is only touched by the
// location's owning goroutine (writes) and by readers holding the
// location's read lock.
type state struct {
	id       string
	name     string
	alarm    Alarm
	devices  map[string]*Device
	agg      Aggregates
	conn     Connection
	lastPoll time.Time
	seq      uint64

	// staleAfter is the threshold of the latest sweep; zero until one runs.
	staleAfter time.Duration

	// unmapped alarm values already reported, so each is logged once.
	unmapped map[string]struct{}
}

func newState(id string) *state {
	return &state{
		id:       id,
		alarm:    Alarm{State: AlarmUnknown},
		devices:  make(map[string]*Device),
		conn:     Connection{State: ConnNotInitialized},
		unmapped: make(map[string]struct{}),
	}
}

// batch accumulates the outcome of one mutation.
type batch struct {
	st     *state
	now    time.Time
	result Result
	log    Logger

	full           bool // batch is a full poll
	devicesChanged bool
}

func (b *batch) record(key Key, old, new any, ts time.Time, src Source, reason string) {
	if key.DeviceID != "" {
		b.devicesChanged = true
	}
	b.st.seq++
	b.result.Changes = append(b.result.Changes, Change{
		Seq:       b.st.seq,
		Key:       key,
		Old:       old,
		New:       new,
		Reason:    reason,
		Timestamp: ts,
		Source:    src,
		At:        b.now,
	})
}

func (b *batch) drop(reason string, args ...any) {
	b.result.Dropped++
	b.log.Debug("dropped update unit: "+reason, append([]any{"location_id", b.st.id}, args...)...)
}

// mergeCapability applies the last-writer-wins rule to one capability.
func (b *batch) mergeCapability(dev *Device, capability string, raw any, ts time.Time, src Source) {
	if capability == "" {
		b.drop("empty capability name", "device_id", dev.ID)
		return
	}
	v, err := normaliseValue(raw)
	if err != nil {
		b.drop("unsupported value", "device_id", dev.ID, "capability", capability, "error", err)
		return
	}

	cur, exists := dev.Capabilities[capability]
	if exists && !ts.IsZero() && !cur.Timestamp.IsZero() && !ts.After(cur.Timestamp) {
		b.result.Rejected++
		return
	}

	next := Value{Value: v, Timestamp: ts, Source: src, ReceivedAt: b.now}
	if ts.IsZero() {
		// Untimestamped values never move the clock backwards.
		next.Timestamp = cur.Timestamp
	}
	dev.Capabilities[capability] = next
	b.observed(dev, ts, src)

	if exists && valuesEqual(cur.Value, v) {
		return
	}
	var old any
	if exists {
		old = cur.Value
	}
	b.record(Key{LocationID: b.st.id, DeviceID: dev.ID, Capability: capability}, old, v, next.Timestamp, src, "")
}

// observed advances a device's LastSeen for an accepted observation taken
// at ts, or now when the source gave no timestamp, and clears a stale flag
// the observation disproves.
func (b *batch) observed(dev *Device, ts time.Time, src Source) {
	if ts.IsZero() {
		ts = b.now
	}
	if ts.After(dev.LastSeen) {
		dev.LastSeen = ts
	}
	if dev.Stale && !b.silent(dev) {
		b.setStale(dev, false, "", src)
	}
}

// silent reports whether a device's newest observation is older than the
// latest sweep threshold.
func (b *batch) silent(dev *Device) bool {
	after := b.st.staleAfter
	return after > 0 && b.now.Sub(dev.LastSeen) > after
}

// setStale flips a device's stale flag and records the change. A device
// that is already stale keeps its original reason and timestamp.
func (b *batch) setStale(dev *Device, stale bool, reason StaleReason, src Source) {
	if dev.Stale == stale {
		return
	}
	dev.Stale = stale
	dev.StaleReason = reason
	if stale {
		dev.StaleSince = b.now
	} else {
		dev.StaleSince = time.Time{}
	}
	b.record(Key{LocationID: b.st.id, DeviceID: dev.ID, Capability: CapabilityStale}, !stale, stale, time.Time{}, src, string(reason))
}

// mergeAlarm applies the ordering rule to the location alarm state.
func (b *batch) mergeAlarm(raw string, ts time.Time, src Source) {
	cur := b.st.alarm
	if !ts.IsZero() && !cur.Timestamp.IsZero() && !ts.After(cur.Timestamp) {
		b.result.Rejected++
		return
	}

	mapped, ok := MapAlarmState(raw)
	if !ok {
		if _, seen := b.st.unmapped[raw]; !seen {
			b.st.unmapped[raw] = struct{}{}
			b.log.Warn("unmapped alarm state", "location_id", b.st.id, "raw", raw)
		}
	}

	next := Alarm{State: mapped, Raw: raw, Timestamp: ts, Source: src}
	if ts.IsZero() {
		next.Timestamp = cur.Timestamp
	}
	b.st.alarm = next

	if cur.State != mapped {
		b.record(Key{LocationID: b.st.id, Capability: KeyAlarmState}, string(cur.State), string(mapped), next.Timestamp, src, "")
	}
}

// applyFull merges a complete poll result and reconciles membership.
func (b *batch) applyFull(set DeviceSet) {
	st := b.st
	b.full = true
	if set.Name != "" {
		st.name = set.Name
	}
	st.lastPoll = b.now
	b.result.Dropped += set.Dropped

	if set.AlarmState != "" {
		b.mergeAlarm(set.AlarmState, set.AlarmTimestamp, SourcePoll)
	}

	seen := make(map[string]struct{}, len(set.Devices))
	for _, obs := range set.Devices {
		if obs.ID == "" {
			b.drop("device without id", "name", obs.Name)
			continue
		}
		if _, dup := seen[obs.ID]; dup {
			b.drop("duplicate device in snapshot", "device_id", obs.ID)
			continue
		}
		seen[obs.ID] = struct{}{}

		dev, ok := st.devices[obs.ID]
		if !ok {
			dev = &Device{ID: obs.ID, Capabilities: make(map[string]Value)}
			st.devices[obs.ID] = dev
		}
		dev.Name = obs.Name
		dev.Model = obs.Model
		dev.SerialNumber = obs.SerialNumber
		dev.Room = obs.Room

		for _, capability := range slices.Sorted(maps.Keys(obs.Capabilities)) {
			reading := obs.Capabilities[capability]
			b.mergeCapability(dev, capability, reading.Value, reading.Timestamp, SourcePoll)
		}
		if dev.LastSeen.IsZero() {
			dev.LastSeen = b.now
		}

		// Reappearing only disproves absence, not silence.
		if dev.Stale && dev.StaleReason == StaleMissing {
			if b.silent(dev) {
				dev.StaleReason = StaleSilent
			} else {
				b.setStale(dev, false, "", SourcePoll)
			}
		}
	}

	for _, id := range slices.Sorted(maps.Keys(st.devices)) {
		if _, ok := seen[id]; !ok {
			b.setStale(st.devices[id], true, StaleMissing, SourcePoll)
		}
	}
}

// applyDelta merges one incremental observation.
func (b *batch) applyDelta(obs Observation) {
	if obs.DeviceID == "" {
		b.drop("delta without device id", "capability", obs.Capability)
		return
	}
	dev, ok := b.st.devices[obs.DeviceID]
	if !ok {
		b.drop("delta for unknown device", "device_id", obs.DeviceID, "error", ErrUnknownDevice)
		return
	}
	src := obs.Source
	if src == "" {
		src = SourcePush
	}
	b.mergeCapability(dev, obs.Capability, obs.Value, obs.Timestamp, src)
}

// applyConnection mirrors a supervisor transition.
func (b *batch) applyConnection(cs ConnectionState, reason string) {
	cur := b.st.conn
	if cur.State == cs && cur.Reason == reason {
		return
	}
	b.st.conn = Connection{State: cs, Reason: reason, Since: b.now}
	b.record(Key{LocationID: b.st.id, Capability: KeyConnectionState}, string(cur.State), string(cs), time.Time{}, SourceSupervisor, reason)
}

// sweep flags devices whose newest observation is older than staleAfter,
// and clears silent flags a raised threshold no longer supports.
func (b *batch) sweep(staleAfter time.Duration) {
	if staleAfter < 0 {
		staleAfter = 0
	}
	b.st.staleAfter = staleAfter
	for _, id := range slices.Sorted(maps.Keys(b.st.devices)) {
		dev := b.st.devices[id]
		switch silent := b.silent(dev); {
		case silent && !dev.Stale:
			b.setStale(dev, true, StaleSilent, SourceSweep)
		case !silent && dev.Stale && dev.StaleReason == StaleSilent:
			b.setStale(dev, false, "", SourceSweep)
		}
	}
}

// reaggregate recomputes derived values after a mutation that changed
// device data. The first full poll always computes them.
func (b *batch) reaggregate(fn AggregateFunc, src Source) {
	if fn == nil {
		return
	}
	if !b.devicesChanged && !(b.full && b.st.agg.BatteryStatus == "") {
		return
	}
	next := fn(b.st.deviceValues())
	if next.BatteryStatus != b.st.agg.BatteryStatus {
		b.record(Key{LocationID: b.st.id, Capability: KeyAggregateBattery}, b.st.agg.BatteryStatus, next.BatteryStatus, time.Time{}, src, "")
	}
	b.st.agg = next
}

// deviceValues returns a deep copy of the device set.
func (st *state) deviceValues() map[string]Device {
	out := make(map[string]Device, len(st.devices))
	for id, dev := range st.devices {
		d := *dev
		d.Capabilities = maps.Clone(dev.Capabilities)
		out[id] = d
	}
	return out
}

func (st *state) view() View {
	agg := st.agg
	agg.DefectiveDevices = slices.Clone(st.agg.DefectiveDevices)
	return View{
		LocationID: st.id,
		Name:       st.name,
		Alarm:      st.alarm,
		Devices:    st.deviceValues(),
		Aggregates: agg,
		Connection: st.conn,
		LastPoll:   st.lastPoll,
		Seq:        st.seq,
	}
}

// normaliseValue reduces a reading to bool, float64 or string.
func normaliseValue(v any) (any, error) {
	switch x := v.(type) {
	case bool, string, float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return f, nil
	case nil:
		return nil, fmt.Errorf("%w: null value", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrMalformed, v)
	}
}

// valuesEqual compares normalised values.
func valuesEqual(a, b any) bool {
	return a == b
}
