package credentials

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

const (
	// Window is the credential validity window. The broker accepts any
	// password derived within the current window, so two derivations
	// inside the same window are identical.
	Window = 300 * time.Second

	// digestLen is the number of HMAC bytes kept before hex encoding.
	digestLen = 16

	// versionPrefix marks the derivation scheme so the broker can roll
	// schemes without breaking deployed bridges.
	versionPrefix = "v1:"
)

// Derive computes the broker password for a device secret at the given time.
//
// The password is the hex encoding of the first 16 bytes of
// HMAC-SHA256(secret, counter), where counter is the big-endian 64-bit
// window number floor(unix/300), prefixed with the scheme version.
//
// Derive is stateless and safe for concurrent use. An empty secret is a
// configuration error, not a transient one: callers must not retry.
func Derive(secret string, at time.Time) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	counter := uint64(at.Unix()) / uint64(Window/time.Second)

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	return versionPrefix + hex.EncodeToString(sum[:digestLen]), nil
}
