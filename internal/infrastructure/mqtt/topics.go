package mqtt

import "strings"

// DefaultTopicPrefix is the root of every homely-sync topic.
const DefaultTopicPrefix = "homely"

// Topics builds the MQTT topics for one location.
//
// Hierarchy:
//
//	{prefix}/{location}/status                  bridge online/offline (retained, LWT)
//	{prefix}/{location}/{key}                   location-level value, e.g. alarm_state
//	{prefix}/{location}/{device}/{capability}   device capability value (retained)
//	{prefix}/{location}/cmd/{command}           inbound commands
//
// Usage:
//
//	topics := mqtt.NewTopics("homely", "0f7e...")
//	topics.Capability("dev-1", "temperature")
//	// Returns: "homely/0f7e.../dev-1/temperature"
type Topics struct {
	Prefix     string
	LocationID string
}

// NewTopics returns topic builders for a location. An empty prefix selects
// DefaultTopicPrefix.
func NewTopics(prefix, locationID string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix, LocationID: locationID}
}

// Location returns the base topic of the location.
func (t Topics) Location() string {
	return t.Prefix + "/" + SanitizeSegment(t.LocationID)
}

// Status returns the retained online/offline topic, also used as LWT.
func (t Topics) Status() string {
	return t.Location() + "/status"
}

// LocationKey returns the topic for a location-level value such as
// alarm_state or connection_state.
func (t Topics) LocationKey(key string) string {
	return t.Location() + "/" + SanitizeSegment(key)
}

// Capability returns the topic for one device capability.
func (t Topics) Capability(deviceID, capability string) string {
	return t.Location() + "/" + SanitizeSegment(deviceID) + "/" + SanitizeSegment(capability)
}

// Command returns the topic for an inbound command.
func (t Topics) Command(name string) string {
	return t.Location() + "/cmd/" + SanitizeSegment(name)
}

// AllCommands returns the wildcard subscription for every command.
func (t Topics) AllCommands() string {
	return t.Location() + "/cmd/+"
}

// CommandName extracts the command from a topic matched by AllCommands.
// Returns "" if topic is not a command topic of this location.
func (t Topics) CommandName(topic string) string {
	prefix := t.Location() + "/cmd/"
	if !strings.HasPrefix(topic, prefix) {
		return ""
	}
	name := topic[len(prefix):]
	if name == "" || strings.Contains(name, "/") {
		return ""
	}
	return name
}

// SanitizeSegment makes s safe to use as a single topic level by replacing
// separators and wildcards.
func SanitizeSegment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, s)
}
