package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mash-protocol/runmode-go/pkg/buffer"
	"github.com/mash-protocol/runmode-go/pkg/clock"
	"github.com/mash-protocol/runmode-go/pkg/failsafe"
)

var errLinkDown = errors.New("simulated link down")

// simCounterpart is a simulated remote side whose link goes down and up
// every flap period. A zero period leaves the link where it was put.
type simCounterpart struct {
	mu        sync.Mutex
	clock     clock.Clock
	period    time.Duration
	up        bool
	flippedAt clock.Timestamp
	delivered uint64
	logger    *slog.Logger
}

func newSimCounterpart(c clock.Clock, period time.Duration, logger *slog.Logger) *simCounterpart {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &simCounterpart{
		clock:     c,
		period:    period,
		up:        true,
		flippedAt: c.Now(),
		logger:    logger,
	}
}

// LinkUp reports the link status, flipping it when a flap period has elapsed.
func (s *simCounterpart) LinkUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.period > 0 {
		now := s.clock.Now()
		if now.Sub(s.flippedAt) >= s.period {
			s.up = !s.up
			s.flippedAt = now
			s.logger.Info("[SIM] link flapped", "up", s.up)
		}
	}
	return s.up
}

// SetLinkUp forces the link status and restarts the flap period.
func (s *simCounterpart) SetLinkUp(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.up = up
	s.flippedAt = s.clock.Now()
}

// Delivered returns the number of records accepted by the counterpart.
func (s *simCounterpart) Delivered() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}

// Exchange accepts records while the link is up.
func (s *simCounterpart) Exchange(ctx context.Context, records []buffer.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.up {
		return errLinkDown
	}
	s.delivered += uint64(len(records))
	return nil
}

// Probe succeeds while the link is up.
func (s *simCounterpart) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.up {
		return errLinkDown
	}
	return nil
}

// measurement is the payload of a simulated record.
type measurement struct {
	PowerMilliW int64 `cbor:"1,keyasint"`
}

// sampleSource produces one measurement per tick with a sawtooth power curve.
type sampleSource struct {
	mu    sync.Mutex
	seq   uint64
	power int64
}

func (s *sampleSource) Collect(now clock.Timestamp) []buffer.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.power = (s.power + 1000000) % 22000000
	payload, err := cbor.Marshal(measurement{PowerMilliW: s.power})
	if err != nil {
		return nil
	}
	s.seq++
	return []buffer.Record{{Seq: s.seq, At: now, Kind: "measurement", Payload: payload}}
}

// localControl is the degraded logic run while OFFLINE. It reports when the
// device falls back to the configured failsafe limits.
type localControl struct {
	mu     sync.Mutex
	timer  *failsafe.Timer
	last   failsafe.State
	logger *slog.Logger
}

func newLocalControl(timer *failsafe.Timer, logger *slog.Logger) *localControl {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &localControl{timer: timer, logger: logger}
}

func (l *localControl) Step(now clock.Timestamp, state failsafe.State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if state == l.last {
		return
	}
	l.last = state

	switch state {
	case failsafe.StateTimerRunning:
		l.logger.Info("[LOCAL] autonomous operation", "failsafe_in", l.timer.Remaining(now))
	case failsafe.StateFailsafe:
		limits := l.timer.Limits()
		attrs := []any{}
		if limits.HasConsumptionLimit {
			attrs = append(attrs, "consumption_limit_mw", limits.ConsumptionLimit)
		}
		if limits.HasProductionLimit {
			attrs = append(attrs, "production_limit_mw", limits.ProductionLimit)
		}
		l.logger.Warn("[LOCAL] failsafe limits applied", attrs...)
	}
}

// applied returns the last failsafe state handled by Step.
func (l *localControl) applied() failsafe.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
