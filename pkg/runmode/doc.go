// Package runmode implements the device run-mode controller.
//
// A device is either ONLINE, exchanging data with its remote counterpart, or
// OFFLINE, running degraded local logic while buffering work for later. The
// Controller owns the mode and the bookkeeping that belongs to it, performs
// the entry actions of a mode exactly once per edge, and runs the per-tick
// processing of the active mode only.
//
// # Transitions
//
// ToOnline and ToOffline are guarded: a request for the current mode is a
// no-op, otherwise the edge is recorded at the supplied monotonic time and
// the entry actions of the new mode run once:
//
//	OFFLINE entry: arm the failsafe timer, schedule the first reconnect probe
//	ONLINE entry:  disarm the failsafe timer, reset the probe backoff,
//	               flush buffered work on the next tick
//
// SetMode is an unconditional override for initialization and warm-reset
// restore. It runs no entry actions and leaves the transition time alone.
//
// # Dispatch
//
// The main loop calls Tick once per cycle. Tick samples the mode once and
// calls exactly one of ProcessOnline or ProcessOffline. Calling a process
// function directly in the wrong mode does nothing except report a
// rejected dispatch.
//
// Collaborator failures never escape the controller. Repeated exchange
// failures request OFFLINE and a successful probe requests ONLINE.
package runmode
