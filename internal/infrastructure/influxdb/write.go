package influxdb

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementCapability = "capability"
	MeasurementAlarm      = "alarm"
	MeasurementConnection = "connection"
)

// CapabilityPoint builds the point for one device capability reading.
//
// Numbers go to the "value" field. Booleans are written both as "state"
// and as 1/0 in "value" so they can be graphed. Strings go to "text".
//
// Parameters:
//   - locationID, deviceID, capability: Tags of the point
//   - value: bool, float64 or string
//   - ts: Observation time (zero means now)
//
// Returns:
//   - *write.Point: The point, ready for the write API
//   - error: ErrWriteFailed for unsupported value types
func CapabilityPoint(locationID, deviceID, capability string, value any, ts time.Time) (*write.Point, error) {
	fields := make(map[string]any, 2)
	switch v := value.(type) {
	case float64:
		fields["value"] = v
	case bool:
		fields["state"] = v
		if v {
			fields["value"] = 1.0
		} else {
			fields["value"] = 0.0
		}
	case string:
		fields["text"] = v
	default:
		return nil, fmt.Errorf("%w: unsupported value type %T for %s/%s", ErrWriteFailed, value, deviceID, capability)
	}

	tags := map[string]string{
		"location_id": locationID,
		"device_id":   deviceID,
		"capability":  capability,
	}
	return write.NewPoint(MeasurementCapability, tags, fields, pointTime(ts)), nil
}

// WriteCapability queues one device capability reading. ts is the
// upstream observation time; zero means now.
func (c *Client) WriteCapability(locationID, deviceID, capability string, value any, ts time.Time) error {
	point, err := CapabilityPoint(locationID, deviceID, capability, value, ts)
	if err != nil {
		return err
	}
	return c.write(point)
}

// WriteAlarmState queues a location alarm state change.
func (c *Client) WriteAlarmState(locationID, state string, ts time.Time) error {
	return c.write(write.NewPoint(
		MeasurementAlarm,
		map[string]string{"location_id": locationID},
		map[string]any{"state": state},
		pointTime(ts),
	))
}

// WriteConnectionState queues a push channel transition.
func (c *Client) WriteConnectionState(locationID, state, reason string, ts time.Time) error {
	return c.write(write.NewPoint(
		MeasurementConnection,
		map[string]string{"location_id": locationID},
		map[string]any{"state": state, "reason": reason},
		pointTime(ts),
	))
}

func pointTime(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}
