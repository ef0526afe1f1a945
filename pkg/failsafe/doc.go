// Package failsafe implements the offline failsafe timer.
//
// When a device loses its counterpart it keeps running local logic, but it
// must not run unsupervised indefinitely. The failsafe timer is armed on the
// transition into OFFLINE and, if the device is still offline when it
// expires, puts the device into failsafe mode where conservative limits
// apply.
//
// # Timer Behavior
//
//   - Armed by the OFFLINE entry action
//   - Disarmed by the ONLINE entry action
//   - Expiry is detected by Poll on the tick loop, not by a background timer,
//     so all state changes happen on the caller's goroutine
//
// # Failsafe Mode
//
// When the timer expires, the device:
//   - Applies the configured failsafe limits (consumption and/or production)
//   - Continues degraded local operation within those limits
//   - Leaves failsafe when ONLINE is entered again
//
// # Grace Period
//
// After leaving failsafe the timer stays in GRACE_PERIOD (default: 5 minutes)
// so the counterpart can re-establish its view of the device before the
// device returns to normal limits.
package failsafe
