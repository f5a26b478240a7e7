// Package hastate is the Home Assistant REST client used as the bridge's
// local state store.
//
// Reads type the raw state string by entity domain (switch -> bool,
// select -> option, sensor -> float); writes go through the matching
// domain service. The "unknown"/"unavailable"/empty states Home Assistant
// reports for absent devices surface as ErrUnavailable so callers can skip
// those properties instead of reporting garbage.
package hastate
