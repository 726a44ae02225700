package push

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/homely-sync/internal/homely"
	"github.com/nerrad567/homely-sync/internal/snapshot"
)

// Event types the sync core acts on.
const (
	EventAlarmStateChanged  = "alarm-state-changed"
	EventDeviceStateChanged = "device-state-changed"
)

// Event is a push event normalised to {type, payload}.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Update is what an event means for the snapshot store.
type Update struct {
	Type string

	// AlarmState is set for alarm-state-changed.
	AlarmState     string
	AlarmTimestamp time.Time

	// DeviceID and Observations are set for device-state-changed.
	DeviceID     string
	Observations []snapshot.Observation

	// Dropped counts individual changes that could not be decoded.
	Dropped int
}

// Known reports whether the event type is one the store consumes.
func (u Update) Known() bool {
	return u.Type == EventAlarmStateChanged || u.Type == EventDeviceStateChanged
}

// ParseEvent normalises a raw Socket.IO event array.
//
// The server emits either ["event", {type, data}], ["message", {type,
// data}] or ["<type>", data]; all three become Event{Type, Payload}.
func ParseEvent(raw []byte) (Event, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame) == 0 {
		return Event{}, fmt.Errorf("%w: not an event array", ErrDecode)
	}
	var name string
	if err := json.Unmarshal(frame[0], &name); err != nil || name == "" {
		return Event{}, fmt.Errorf("%w: missing event name", ErrDecode)
	}
	var body json.RawMessage
	if len(frame) > 1 {
		body = frame[1]
	}

	if name != "event" && name != "message" {
		return Event{Type: name, Payload: body}, nil
	}

	var envelope struct {
		Type    string          `json:"type"`
		Data    json.RawMessage `json:"data"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Event{}, fmt.Errorf("%w: %s envelope: %w", ErrDecode, name, err)
	}
	if envelope.Type == "" {
		return Event{}, fmt.Errorf("%w: %s envelope without type", ErrDecode, name)
	}
	payload := envelope.Data
	if isNullOrEmpty(payload) {
		payload = envelope.Payload
	}
	return Event{Type: envelope.Type, Payload: payload}, nil
}

type wireChange struct {
	Feature     string `json:"feature"`
	StateName   string `json:"stateName"`
	Value       any    `json:"value"`
	LastUpdated string `json:"lastUpdated"`
}

// Decode turns a raw event into an Update. Event types the store does not
// consume yield an Update with only Type set. Within a device event, each
// unusable change is skipped and counted in Dropped.
func Decode(raw []byte) (Update, error) {
	ev, err := ParseEvent(raw)
	if err != nil {
		return Update{}, err
	}
	u := Update{Type: ev.Type}

	switch ev.Type {
	case EventAlarmStateChanged:
		var data struct {
			State     string `json:"state"`
			Timestamp string `json:"timestamp"`
		}
		if err := json.Unmarshal(ev.Payload, &data); err != nil {
			return Update{}, fmt.Errorf("%w: %s: %w", ErrDecode, ev.Type, err)
		}
		if data.State == "" {
			return Update{}, fmt.Errorf("%w: %s without state", ErrDecode, ev.Type)
		}
		u.AlarmState = data.State
		u.AlarmTimestamp = homely.ParseTimestamp(data.Timestamp)

	case EventDeviceStateChanged:
		var data struct {
			DeviceID string            `json:"deviceId"`
			Changes  []json.RawMessage `json:"changes"`
			Change   json.RawMessage   `json:"change"`
		}
		if err := json.Unmarshal(ev.Payload, &data); err != nil {
			return Update{}, fmt.Errorf("%w: %s: %w", ErrDecode, ev.Type, err)
		}
		if data.DeviceID == "" {
			return Update{}, fmt.Errorf("%w: %s without deviceId", ErrDecode, ev.Type)
		}
		u.DeviceID = data.DeviceID

		changes := data.Changes
		if len(changes) == 0 && !isNullOrEmpty(data.Change) {
			changes = []json.RawMessage{data.Change}
		}
		for _, rawChange := range changes {
			var c wireChange
			if err := json.Unmarshal(rawChange, &c); err != nil {
				u.Dropped++
				continue
			}
			capability := homely.CapabilityName(c.Feature, c.StateName)
			if capability == "" || c.Value == nil {
				u.Dropped++
				continue
			}
			u.Observations = append(u.Observations, snapshot.Observation{
				DeviceID:   data.DeviceID,
				Capability: capability,
				Value:      c.Value,
				Timestamp:  homely.ParseTimestamp(c.LastUpdated),
				Source:     snapshot.SourcePush,
			})
		}
	}
	return u, nil
}

func isNullOrEmpty(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
