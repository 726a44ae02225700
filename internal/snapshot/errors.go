package snapshot

import "errors"

var (
	// ErrClosed is returned for mutations submitted after Close.
	ErrClosed = errors.New("snapshot: store closed")

	// ErrUnknownLocation is returned when reading a location never written.
	ErrUnknownLocation = errors.New("snapshot: unknown location")

	// ErrMalformed marks a single update unit that could not be applied.
	ErrMalformed = errors.New("snapshot: malformed update")

	// ErrUnknownDevice marks a delta for a device no poll has reported.
	ErrUnknownDevice = errors.New("snapshot: unknown device")
)
