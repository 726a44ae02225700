package homely

import (
	"encoding/json"
	"time"
)

// Token is the result of authenticating or refreshing.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Valid reports whether the access token can be used at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// Location is one entry of the account's location list.
type Location struct {
	LocationID    string `json:"locationId"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	UserID        string `json:"userId"`
	GatewaySerial string `json:"gatewayserial"`
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// homeResponse is the body of GET home/{locationId}. Devices and features
// stay raw so one malformed unit cannot fail the whole location.
type homeResponse struct {
	LocationID    string                     `json:"locationId"`
	Name          string                     `json:"name"`
	GatewaySerial string                     `json:"gatewayserial"`
	AlarmState    *string                    `json:"alarmState"`
	Features      map[string]json.RawMessage `json:"features"`
	Devices       []json.RawMessage          `json:"devices"`
}

type wireDevice struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name"`
	SerialNumber string                     `json:"serialNumber"`
	Location     string                     `json:"location"`
	ModelID      string                     `json:"modelId"`
	ModelName    string                     `json:"modelName"`
	Features     map[string]json.RawMessage `json:"features"`
}

// wireFeature is one feature, e.g. "battery" with states "low", "defect".
type wireFeature struct {
	States map[string]json.RawMessage `json:"states"`
}

// wireState is one state. LastUpdated is normally an RFC3339 string;
// anything else means the state carries no timestamp.
type wireState struct {
	Value       any `json:"value"`
	LastUpdated any `json:"lastUpdated"`
}
