package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nerrad567/homely-sync/internal/snapshot"
)

func device(caps map[string]any) snapshot.Device {
	d := snapshot.Device{Capabilities: make(map[string]snapshot.Value)}
	for k, v := range caps {
		d.Capabilities[k] = snapshot.Value{Value: v}
	}
	return d
}

func TestBatteryStatus(t *testing.T) {
	tests := []struct {
		name    string
		devices map[string]snapshot.Device
		want    string
	}{
		{name: "no devices", devices: nil, want: BatteryHealthy},
		{
			name: "all healthy",
			devices: map[string]snapshot.Device{
				"a": device(map[string]any{"battery_low": false, "battery_defect": false}),
				"b": device(map[string]any{"temperature": 21.5}),
			},
			want: BatteryHealthy,
		},
		{
			name: "one low",
			devices: map[string]snapshot.Device{
				"a": device(map[string]any{"battery_low": true}),
				"b": device(map[string]any{"battery_low": false}),
			},
			want: BatteryDefective,
		},
		{
			name: "one defect",
			devices: map[string]snapshot.Device{
				"a": device(map[string]any{"battery_defect": true}),
			},
			want: BatteryDefective,
		},
		{
			name: "non-zero number counts",
			devices: map[string]snapshot.Device{
				"a": device(map[string]any{"battery_defect": 1.0}),
			},
			want: BatteryDefective,
		},
		{
			name: "true string counts",
			devices: map[string]snapshot.Device{
				"a": device(map[string]any{"battery_low": "true"}),
			},
			want: BatteryDefective,
		},
		{
			name: "falsy values",
			devices: map[string]snapshot.Device{
				"a": device(map[string]any{"battery_low": 0.0, "battery_defect": "false"}),
				"b": device(map[string]any{"battery_low": "unknown", "battery_defect": nil}),
			},
			want: BatteryHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BatteryStatus(tt.devices))
			assert.Equal(t, tt.want, Compute(tt.devices).BatteryStatus)
		})
	}
}

func TestBatteryStatus_Idempotent(t *testing.T) {
	devices := map[string]snapshot.Device{
		"a": device(map[string]any{"battery_low": true}),
	}
	first := BatteryStatus(devices)
	second := BatteryStatus(devices)
	assert.Equal(t, first, second)
	assert.True(t, devices["a"].Capabilities["battery_low"].Value.(bool), "input must not be mutated")
}

func TestDefectiveDevices(t *testing.T) {
	devices := map[string]snapshot.Device{
		"a": device(map[string]any{"battery_low": true}),
		"b": device(map[string]any{"battery_low": false}),
		"c": device(map[string]any{"battery_defect": true}),
	}
	assert.Equal(t, []string{"a", "c"}, DefectiveDevices(devices))
	assert.Equal(t, []string{"a", "c"}, Compute(devices).DefectiveDevices)

	delete(devices, "a")
	delete(devices, "c")
	assert.Nil(t, Compute(devices).DefectiveDevices)
}

func TestIsTrue(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{true, true},
		{false, false},
		{2.5, true},
		{-1.0, true},
		{0.0, false},
		{"true", true},
		{"1", true},
		{"false", false},
		{"", false},
		{"yes", false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isTrue(snapshot.Value{Value: tt.value}), "isTrue(%#v)", tt.value)
	}
}
