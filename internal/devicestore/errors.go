package devicestore

import "errors"

// Device store errors.
var (
	// ErrEmpty is returned when no device list has ever been persisted.
	ErrEmpty = errors.New("device store is empty")
)
