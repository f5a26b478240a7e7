// Package timesync tracks the offset between the local clock and an NTP
// reference so time-windowed credentials are derived against broker time
// rather than a drifting host clock.
package timesync
