package homely

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/homely-sync/internal/snapshot"
)

// capabilityAliases gives well-known feature/state pairs short names.
var capabilityAliases = map[string]string{
	"battery.low":                    "battery_low",
	"battery.defect":                 "battery_defect",
	"battery.voltage":                "battery_voltage",
	"temperature.temperature":        "temperature",
	"alarm.alarm":                    "alarm",
	"alarm.tamper":                   "tamper",
	"diagnostic.networklinkstrength": "signal_strength",
	"metering.summationdelivered":    "energy_delivered",
	"metering.summationreceived":     "energy_received",
	"metering.demand":                "energy_demand",
}

// CapabilityName derives the cache capability name for an upstream
// feature/state pair, e.g. ("battery", "low") -> "battery_low". Unknown
// pairs become "feature_statename". Returns "" if either part is empty.
func CapabilityName(feature, stateName string) string {
	feature = strings.ToLower(strings.TrimSpace(feature))
	stateName = strings.ToLower(strings.TrimSpace(stateName))
	if feature == "" || stateName == "" {
		return ""
	}
	if alias, ok := capabilityAliases[feature+"."+stateName]; ok {
		return alias
	}
	return feature + "_" + stateName
}

// ParseTimestamp parses an upstream lastUpdated value. Anything unparsable
// yields the zero time, which the cache treats as "no timestamp".
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FetchFullSnapshot retrieves the complete state of one location.
//
// Parameters:
//   - ctx: Request context
//   - locationID: Location to fetch
//   - accessToken: Bearer token
//
// Returns:
//   - snapshot.DeviceSet: Every device and capability, plus the alarm state
//   - error: ErrAuth, ErrHTTP or ErrDecode
func (c *Client) FetchFullSnapshot(ctx context.Context, locationID, accessToken string) (snapshot.DeviceSet, error) {
	const op = "fetching location"
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetPathParam("locationID", locationID).
		Get("/home/{locationID}")
	if err != nil {
		return snapshot.DeviceSet{}, fmt.Errorf("%w: %s: %w", ErrHTTP, op, err)
	}
	if err := checkStatus(op, resp.StatusCode()); err != nil {
		return snapshot.DeviceSet{}, err
	}

	var home homeResponse
	if err := json.Unmarshal(resp.Body(), &home); err != nil {
		return snapshot.DeviceSet{}, fmt.Errorf("%w: %s: %w", ErrDecode, op, err)
	}
	set := c.toDeviceSet(locationID, home)
	c.log.Debug("location data fetch successful",
		"location_id", locationID,
		"devices", len(set.Devices),
		"dropped", set.Dropped,
	)
	return set, nil
}

func (c *Client) toDeviceSet(locationID string, home homeResponse) snapshot.DeviceSet {
	set := snapshot.DeviceSet{
		LocationID: locationID,
		Name:       home.Name,
		Devices:    make([]snapshot.DeviceObservation, 0, len(home.Devices)),
	}

	// features.alarm.states.alarm is authoritative; alarmState is the fallback.
	if st, ok := c.alarmFeature(home.Features); ok {
		if raw, isString := st.Value.(string); isString && raw != "" {
			set.AlarmState = raw
			set.AlarmTimestamp = stateTimestamp(st.LastUpdated)
		}
	}
	if set.AlarmState == "" && home.AlarmState != nil {
		set.AlarmState = *home.AlarmState
	}

	for i, raw := range home.Devices {
		var d wireDevice
		if err := json.Unmarshal(raw, &d); err != nil {
			set.Dropped++
			c.log.Debug("dropping malformed device", "location_id", locationID, "index", i, "error", err)
			continue
		}
		obs := snapshot.DeviceObservation{
			ID:           d.ID,
			Name:         d.Name,
			Model:        d.ModelName,
			SerialNumber: d.SerialNumber,
			Room:         d.Location,
			Capabilities: make(map[string]snapshot.Reading),
		}
		for feature, rawFeature := range d.Features {
			var f wireFeature
			if err := json.Unmarshal(rawFeature, &f); err != nil {
				set.Dropped++
				c.log.Debug("dropping malformed feature", "device_id", d.ID, "feature", feature, "error", err)
				continue
			}
			for stateName, rawState := range f.States {
				capability := CapabilityName(feature, stateName)
				if capability == "" {
					continue
				}
				var st wireState
				if err := json.Unmarshal(rawState, &st); err != nil {
					set.Dropped++
					c.log.Debug("dropping malformed state", "device_id", d.ID, "capability", capability, "error", err)
					continue
				}
				obs.Capabilities[capability] = snapshot.Reading{
					Value:     st.Value,
					Timestamp: stateTimestamp(st.LastUpdated),
				}
			}
		}
		set.Devices = append(set.Devices, obs)
	}
	return set
}

// alarmFeature extracts features.alarm.states.alarm from the location body.
func (c *Client) alarmFeature(features map[string]json.RawMessage) (wireState, bool) {
	raw, ok := features["alarm"]
	if !ok {
		return wireState{}, false
	}
	var f wireFeature
	if err := json.Unmarshal(raw, &f); err != nil {
		c.log.Debug("ignoring malformed location alarm feature", "error", err)
		return wireState{}, false
	}
	rawState, ok := f.States["alarm"]
	if !ok {
		return wireState{}, false
	}
	var st wireState
	if err := json.Unmarshal(rawState, &st); err != nil {
		c.log.Debug("ignoring malformed location alarm state", "error", err)
		return wireState{}, false
	}
	return st, true
}

func stateTimestamp(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	return ParseTimestamp(s)
}
