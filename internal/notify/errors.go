package notify

import "errors"

var (
	// ErrClosed is returned when subscribing to a closed Notifier.
	ErrClosed = errors.New("notify: notifier closed")

	// ErrNilHandler is returned when subscribing without a handler.
	ErrNilHandler = errors.New("notify: handler cannot be nil")
)
