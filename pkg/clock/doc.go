// Package clock provides the monotonic time base used by the run-mode
// controller.
//
// Firmware typically exposes a free-running millisecond counter (millis())
// rather than wall-clock time. Timestamp mirrors that: an unsigned number of
// milliseconds since an arbitrary epoch, meaningful only within one boot.
// Durations computed from two Timestamps are only reliable while the source
// is non-decreasing.
//
// # Sources
//
//   - Monotonic: backed by Go's monotonic clock reading (time.Since).
//   - Manual: set and advanced explicitly; used by tests and simulation.
package clock
