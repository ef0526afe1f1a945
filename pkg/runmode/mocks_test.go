package runmode

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/mash-protocol/runmode-go/pkg/buffer"
	"github.com/mash-protocol/runmode-go/pkg/clock"
	"github.com/mash-protocol/runmode-go/pkg/failsafe"
	"github.com/mash-protocol/runmode-go/pkg/log"
)

type stubCounterpart struct{ mock.Mock }

func (s *stubCounterpart) Exchange(_ context.Context, batch []buffer.Record) error {
	args := s.Called(batch)
	return args.Error(0)
}

func (s *stubCounterpart) Probe(_ context.Context) error {
	args := s.Called()
	return args.Error(0)
}

type stubLocal struct{ mock.Mock }

func (s *stubLocal) Step(now clock.Timestamp, fs failsafe.State) {
	s.Called(now, fs)
}

type stubMetrics struct{ mock.Mock }

func (s *stubMetrics) ObserveTransition(from, to Mode, at clock.Timestamp) {
	s.Called(from, to, at)
}

func (s *stubMetrics) ObserveMode(mode Mode) {
	s.Called(mode)
}

func (s *stubMetrics) ObserveTick(mode Mode, buffered int, dropped uint64) {
	s.Called(mode, buffered, dropped)
}

func (s *stubMetrics) ObserveRejected(mode Mode) {
	s.Called(mode)
}

func (s *stubMetrics) ObserveClockRegression() {
	s.Called()
}

// captureEvents records trace events.
type captureEvents struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureEvents) Log(e log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureEvents) byCategory(cat log.Category) []log.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []log.Event
	for _, e := range c.events {
		if e.Category == cat {
			out = append(out, e)
		}
	}
	return out
}

// counterSource emits n records per tick.
type counterSource struct {
	mu  sync.Mutex
	n   int
	seq uint64
}

func (s *counterSource) Collect(now clock.Timestamp) []buffer.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]buffer.Record, 0, s.n)
	for i := 0; i < s.n; i++ {
		s.seq++
		out = append(out, buffer.Record{Seq: s.seq, At: now, Kind: "sample"})
	}
	return out
}

var (
	_ Counterpart = (*stubCounterpart)(nil)
	_ Local       = (*stubLocal)(nil)
	_ Metrics     = (*stubMetrics)(nil)
	_ Source      = (*counterSource)(nil)
)
