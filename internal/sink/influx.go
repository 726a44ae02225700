package sink

import (
	"fmt"
	"time"

	"github.com/nerrad567/homely-sync/internal/snapshot"
)

// InfluxWriter is the subset of *influxdb.Client the sink uses.
type InfluxWriter interface {
	WriteCapability(locationID, deviceID, capability string, value any, ts time.Time) error
	WriteAlarmState(locationID, state string, ts time.Time) error
	WriteConnectionState(locationID, state, reason string, ts time.Time) error
}

// InfluxSink records changes as time series.
type InfluxSink struct {
	w   InfluxWriter
	log Logger
}

// NewInfluxSink creates a sink writing through w.
func NewInfluxSink(w InfluxWriter, logger Logger) *InfluxSink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &InfluxSink{w: w, log: logger}
}

// Handle writes one change. It has the notify.Handler signature.
//
// The upstream timestamp is used when present, else the acceptance time.
// Aggregates are derived values and are not written.
func (s *InfluxSink) Handle(c snapshot.Change) {
	ts := c.Timestamp
	if ts.IsZero() {
		ts = c.At
	}
	loc := c.Key.LocationID

	var err error
	switch {
	case c.Key.DeviceID != "":
		err = s.w.WriteCapability(loc, c.Key.DeviceID, c.Key.Capability, c.New, ts)
	case c.Key.Capability == snapshot.KeyAlarmState:
		err = s.w.WriteAlarmState(loc, fmt.Sprint(c.New), ts)
	case c.Key.Capability == snapshot.KeyConnectionState:
		err = s.w.WriteConnectionState(loc, fmt.Sprint(c.New), c.Reason, ts)
	default:
		return
	}
	if err != nil {
		s.log.Warn("influx write failed", "key", c.Key.String(), "location_id", loc, "error", err)
	}
}
