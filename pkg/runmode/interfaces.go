package runmode

import (
	"context"

	"github.com/mash-protocol/runmode-go/pkg/buffer"
	"github.com/mash-protocol/runmode-go/pkg/clock"
	"github.com/mash-protocol/runmode-go/pkg/failsafe"
)

// Counterpart is the remote side the device talks to while ONLINE.
type Counterpart interface {
	// Exchange delivers a batch of records. An empty batch acts as a keepalive.
	Exchange(ctx context.Context, batch []buffer.Record) error

	// Probe checks whether the counterpart is reachable again.
	Probe(ctx context.Context) error
}

// Source produces the records generated during one tick.
type Source interface {
	Collect(now clock.Timestamp) []buffer.Record
}

// SourceFunc adapts a function to Source.
type SourceFunc func(now clock.Timestamp) []buffer.Record

// Collect calls f(now).
func (f SourceFunc) Collect(now clock.Timestamp) []buffer.Record {
	return f(now)
}

// Local is the degraded logic run on every OFFLINE tick.
type Local interface {
	Step(now clock.Timestamp, fs failsafe.State)
}

// LocalFunc adapts a function to Local.
type LocalFunc func(now clock.Timestamp, fs failsafe.State)

// Step calls f(now, fs).
func (f LocalFunc) Step(now clock.Timestamp, fs failsafe.State) {
	f(now, fs)
}

// Metrics observes controller activity.
// Implementations must be safe for concurrent use.
type Metrics interface {
	// ObserveTransition records an accepted edge.
	ObserveTransition(from, to Mode, at clock.Timestamp)

	// ObserveMode records a mode installed without a transition, at
	// construction or by SetMode.
	ObserveMode(mode Mode)

	// ObserveTick records a processed tick together with the backlog state.
	ObserveTick(mode Mode, buffered int, dropped uint64)

	// ObserveRejected records a process call made in the wrong mode.
	ObserveRejected(mode Mode)

	// ObserveClockRegression records a transition time that went backwards.
	ObserveClockRegression()
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) ObserveTransition(Mode, Mode, clock.Timestamp) {}
func (NoopMetrics) ObserveMode(Mode)                              {}
func (NoopMetrics) ObserveTick(Mode, int, uint64)                 {}
func (NoopMetrics) ObserveRejected(Mode)                          {}
func (NoopMetrics) ObserveClockRegression()                       {}

type nopCounterpart struct{}

func (nopCounterpart) Exchange(context.Context, []buffer.Record) error { return nil }
func (nopCounterpart) Probe(context.Context) error                     { return nil }

// Compile-time interface satisfaction checks.
var (
	_ Metrics     = NoopMetrics{}
	_ Counterpart = nopCounterpart{}
	_ Source      = SourceFunc(nil)
	_ Local       = LocalFunc(nil)
)
