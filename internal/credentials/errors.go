package credentials

import "errors"

// ErrEmptySecret is returned when no device secret is configured.
// This is fatal for the owning session: retrying cannot help.
var ErrEmptySecret = errors.New("credentials: device secret is empty")
