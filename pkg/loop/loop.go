// Package loop drives a run-mode controller from a periodic tick.
package loop

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mash-protocol/runmode-go/pkg/clock"
	"github.com/mash-protocol/runmode-go/pkg/connection"
	"github.com/mash-protocol/runmode-go/pkg/runmode"
)

// DefaultInterval is the default tick interval.
const DefaultInterval = 100 * time.Millisecond

// ErrRunning is returned by Run when the loop is already running.
var ErrRunning = errors.New("loop already running")

// Dispatcher is the part of the controller the loop drives.
type Dispatcher interface {
	Tick() runmode.Mode
	Clock() clock.Clock
}

// LinkSource reports the raw link status sampled once per tick.
type LinkSource interface {
	LinkUp() bool
}

// LinkFunc adapts a function to LinkSource.
type LinkFunc func() bool

// LinkUp calls f.
func (f LinkFunc) LinkUp() bool { return f() }

// Config configures a Loop.
type Config struct {
	// Interval between ticks.
	Interval time.Duration

	// Link is sampled before every tick and fed to Monitor.
	// Both must be set for link sampling to happen.
	Link    LinkSource
	Monitor *connection.Monitor

	// OnTick is called after every tick with the processed mode.
	OnTick func(mode runmode.Mode)

	Logger *slog.Logger
}

// Loop ticks a Dispatcher at a fixed interval.
type Loop struct {
	target   Dispatcher
	interval time.Duration
	link     LinkSource
	monitor  *connection.Monitor
	onTick   func(mode runmode.Mode)
	logger   *slog.Logger

	ticks   atomic.Uint64
	mu      sync.Mutex
	running bool
}

// New creates a loop for target.
func New(target Dispatcher, cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loop{
		target:   target,
		interval: cfg.Interval,
		link:     cfg.Link,
		monitor:  cfg.Monitor,
		onTick:   cfg.OnTick,
		logger:   cfg.Logger,
	}
}

// Interval returns the tick interval.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Ticks returns the number of ticks performed.
func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

// Step performs one tick synchronously: sample the link, then dispatch.
func (l *Loop) Step() runmode.Mode {
	if l.link != nil && l.monitor != nil {
		l.monitor.Observe(l.target.Clock().Now(), l.link.LinkUp())
	}

	mode := l.target.Tick()
	l.ticks.Add(1)

	if l.onTick != nil {
		l.onTick(mode)
	}
	return mode
}

// Run ticks until ctx is done and returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrRunning
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Debug("tick loop started", "interval", l.interval)
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("tick loop stopped", "ticks", l.Ticks())
			return ctx.Err()
		case <-ticker.C:
			l.Step()
		}
	}
}
