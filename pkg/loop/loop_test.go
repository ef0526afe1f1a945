package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/runmode-go/pkg/clock"
	"github.com/mash-protocol/runmode-go/pkg/connection"
	"github.com/mash-protocol/runmode-go/pkg/runmode"
)

func newController(t *testing.T, initial runmode.Mode) (*runmode.Controller, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(0)
	cfg := runmode.DefaultConfig()
	cfg.Clock = clk
	c, err := runmode.NewController(initial, cfg)
	require.NoError(t, err)
	return c, clk
}

func TestStepDispatches(t *testing.T) {
	c, _ := newController(t, runmode.ModeOnline)

	var seen []runmode.Mode
	l := New(c, Config{OnTick: func(m runmode.Mode) { seen = append(seen, m) }})

	assert.Equal(t, runmode.ModeOnline, l.Step())
	c.ToOffline(10)
	assert.Equal(t, runmode.ModeOffline, l.Step())

	assert.Equal(t, []runmode.Mode{runmode.ModeOnline, runmode.ModeOffline}, seen)
	assert.Equal(t, uint64(2), l.Ticks())
	assert.Equal(t, DefaultInterval, l.Interval())
}

func TestStepFeedsMonitor(t *testing.T) {
	c, clk := newController(t, runmode.ModeOnline)
	mon := connection.NewMonitor(c, connection.MonitorConfig{UpThreshold: 2, DownThreshold: 2})

	var up atomic.Bool
	up.Store(true)
	l := New(c, Config{
		Link:    LinkFunc(up.Load),
		Monitor: mon,
	})

	l.Step()
	up.Store(false)
	clk.Set(100)
	l.Step()
	assert.Equal(t, runmode.ModeOnline, c.Mode())

	clk.Set(200)
	l.Step()
	assert.Equal(t, runmode.ModeOffline, c.Mode())
	at, _ := c.LastTransition()
	assert.Equal(t, clock.Timestamp(200), at)
	assert.Equal(t, connection.LinkDown, mon.State())
}

func TestRun(t *testing.T) {
	c, _ := newController(t, runmode.ModeOnline)

	var mu sync.Mutex
	ticks := 0
	done := make(chan struct{})
	l := New(c, Config{
		Interval: time.Millisecond,
		OnTick: func(runmode.Mode) {
			mu.Lock()
			defer mu.Unlock()
			ticks++
			if ticks == 3 {
				close(done)
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not tick")
	}
	cancel()

	err := <-errCh
	assert.True(t, errors.Is(err, context.Canceled), "Run() = %v", err)
	assert.GreaterOrEqual(t, l.Ticks(), uint64(3))
}

func TestRunTwice(t *testing.T) {
	c, _ := newController(t, runmode.ModeOnline)
	started := make(chan struct{})
	var once sync.Once
	l := New(c, Config{
		Interval: time.Millisecond,
		OnTick:   func(runmode.Mode) { once.Do(func() { close(started) }) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()
	<-started

	assert.ErrorIs(t, l.Run(ctx), ErrRunning)
}
