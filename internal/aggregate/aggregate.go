// Package aggregate derives location-level rollups from cached device state.
//
// Everything here is a pure function of its input so it can run inside the
// snapshot store's writer goroutine and be tested without any I/O.
package aggregate

import (
	"slices"
	"strconv"

	"github.com/nerrad567/homely-sync/internal/snapshot"
)

// Battery rollup values.
const (
	BatteryHealthy   = "Healthy"
	BatteryDefective = "Defective"
)

// Capabilities that mark a battery problem when true.
const (
	CapabilityBatteryLow    = "battery_low"
	CapabilityBatteryDefect = "battery_defect"
)

// Compute is a snapshot.AggregateFunc.
func Compute(devices map[string]snapshot.Device) snapshot.Aggregates {
	return snapshot.Aggregates{
		BatteryStatus:    BatteryStatus(devices),
		DefectiveDevices: DefectiveDevices(devices),
	}
}

// BatteryStatus is Defective when any device reports a truthy battery_low
// or battery_defect, Healthy otherwise. Stale devices still count:
// their last known battery state is the best information available.
func BatteryStatus(devices map[string]snapshot.Device) string {
	for _, dev := range devices {
		if batteryProblem(dev) {
			return BatteryDefective
		}
	}
	return BatteryHealthy
}

// DefectiveDevices lists the sorted ids of devices with a battery problem,
// or nil when there are none.
func DefectiveDevices(devices map[string]snapshot.Device) []string {
	var ids []string
	for id, dev := range devices {
		if batteryProblem(dev) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func batteryProblem(dev snapshot.Device) bool {
	return isTrue(dev.Capabilities[CapabilityBatteryLow]) || isTrue(dev.Capabilities[CapabilityBatteryDefect])
}

// isTrue treats true, any non-zero number and strings that parse as a true
// boolean ("true", "1", "T") as set. Other strings count as unset.
func isTrue(v snapshot.Value) bool {
	switch x := v.Value.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		b, err := strconv.ParseBool(x)
		return err == nil && b
	}
	return false
}
