// Package connection turns connectivity signals into run-mode transitions.
//
// This package handles:
//   - Exponential backoff with jitter for reconnect probes
//   - Debouncing raw link-status samples into ONLINE/OFFLINE requests
//
// # Probe Backoff
//
// While OFFLINE, the controller probes its counterpart on a schedule:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds
//  4. Continue at 60s until a probe succeeds
//  5. Reset to 1s when ONLINE is entered
//
// Jitter spreads probes of a fleet that lost its uplink at the same time:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// # Link Monitor
//
// The Monitor does not detect connectivity itself. It is fed samples
// (up/down) by whatever mechanism the device has and requests a transition
// only after a configurable number of consecutive samples agree.
package connection
