// Package credentials derives time-windowed broker passwords.
//
// The 163 IoT broker authenticates devices with a password derived from the
// device secret and the current 300-second time window rather than a static
// credential. A derived password is only valid while its window lasts, which
// is why the session manager derives a fresh one for every connection
// attempt and why the bridge keeps its clock within a window of true time
// (see internal/timesync).
package credentials
