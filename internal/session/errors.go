package session

import "errors"

// Session errors.
var (
	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("session manager already running")

	// ErrUnknownDevice is returned when a publish names a device that is not
	// in the configured set.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrReconnectExhausted is passed to the fatal callback when the backoff
	// cap has been hit more times than the configured cycle limit.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)
