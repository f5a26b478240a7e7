package bridge

import "errors"

// Bridge errors.
var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("bridge already started")

	// ErrPropertyNotMapped is returned when a write-back names a property
	// that discovery has not mapped to an entity.
	ErrPropertyNotMapped = errors.New("property not mapped to an entity")
)
