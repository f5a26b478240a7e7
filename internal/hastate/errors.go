package hastate

import "errors"

// Domain-specific errors for local store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnavailable is returned when an entity exists but reports no
	// usable state ("unknown", "unavailable", or empty).
	ErrUnavailable = errors.New("hastate: entity state unavailable")

	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("hastate: entity not found")

	// ErrRequestFailed is returned for transport failures and non-2xx
	// responses other than 404.
	ErrRequestFailed = errors.New("hastate: request failed")

	// ErrUnsupportedDomain is returned when a value is read from or
	// written to an entity whose domain the bridge does not handle.
	ErrUnsupportedDomain = errors.New("hastate: unsupported entity domain")

	// ErrReadOnly is returned when writing to a read-only entity (sensors).
	ErrReadOnly = errors.New("hastate: entity is read-only")
)
