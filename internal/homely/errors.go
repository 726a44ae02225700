package homely

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth means the credentials or refresh token were rejected.
	ErrAuth = errors.New("homely: authentication rejected")

	// ErrHTTP covers transport failures and unexpected status codes.
	ErrHTTP = errors.New("homely: request failed")

	// ErrDecode means a response body could not be interpreted.
	ErrDecode = errors.New("homely: malformed response")

	// ErrLocationIndex means home_index does not select a location.
	ErrLocationIndex = errors.New("homely: location index out of range")
)

// StatusError carries the status code of a failed request. It matches
// ErrHTTP, or ErrAuth for rejected credentials, under errors.Is.
type StatusError struct {
	Op         string
	StatusCode int
	auth       bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}

// Is lets errors.Is classify the error.
func (e *StatusError) Is(target error) bool {
	if target == ErrHTTP {
		return !e.auth
	}
	if target == ErrAuth {
		return e.auth
	}
	return false
}
