package snapshot

import "strings"

// AlarmState is the normalised alarm panel state of a location.
type AlarmState string

// Alarm states.
const (
	AlarmDisarmed   AlarmState = "disarmed"
	AlarmArmedHome  AlarmState = "armed_home"
	AlarmArmedAway  AlarmState = "armed_away"
	AlarmArmedNight AlarmState = "armed_night"
	AlarmArming     AlarmState = "arming"
	AlarmTriggered  AlarmState = "triggered"
	AlarmUnknown    AlarmState = "unknown"
)

var alarmStates = map[string]AlarmState{
	"DISARMED":           AlarmDisarmed,
	"ARMED_AWAY":         AlarmArmedAway,
	"ARMED_NIGHT":        AlarmArmedNight,
	"ARMED_STAY":         AlarmArmedHome,
	"ARM_PENDING":        AlarmArming,
	"ARM_STAY_PENDING":   AlarmArming,
	"ARM_NIGHT_PENDING":  AlarmArming,
	"ALARM_PENDING":      AlarmTriggered,
	"ALARM_STAY_PENDING": AlarmTriggered,
	"TRIGGERED":          AlarmTriggered,
	"BREACHED":           AlarmTriggered,
}

// MapAlarmState converts an upstream alarm state to an AlarmState.
// Unmapped values yield AlarmUnknown and ok=false.
func MapAlarmState(raw string) (state AlarmState, ok bool) {
	state, ok = alarmStates[strings.ToUpper(strings.TrimSpace(raw))]
	if !ok {
		return AlarmUnknown, false
	}
	return state, true
}
