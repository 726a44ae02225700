package push

import "errors"

var (
	// ErrConnection means the push connection could not be established or
	// was lost.
	ErrConnection = errors.New("push: connection failed")

	// ErrDecode means an event payload could not be interpreted.
	ErrDecode = errors.New("push: malformed event")
)
