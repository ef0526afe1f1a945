package runmode

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/runmode-go/pkg/buffer"
	"github.com/mash-protocol/runmode-go/pkg/clock"
	"github.com/mash-protocol/runmode-go/pkg/connection"
	"github.com/mash-protocol/runmode-go/pkg/failsafe"
	"github.com/mash-protocol/runmode-go/pkg/log"
)

var errLinkDown = errors.New("link down")

type harness struct {
	c      *Controller
	clk    *clock.Manual
	peer   *stubCounterpart
	events *captureEvents
	buf    *buffer.Ring
	timer  *failsafe.Timer
}

// newHarness builds a controller with a manual clock, a jitter-free 50ms
// probe backoff and a one-minute failsafe.
func newHarness(t *testing.T, initial Mode, tweak ...func(*Config)) *harness {
	t.Helper()

	timer, err := failsafe.NewTimerWithConfig(failsafe.Config{
		Duration:    time.Minute,
		GracePeriod: 10 * time.Second,
	})
	require.NoError(t, err)

	h := &harness{
		clk:    clock.NewManual(0),
		peer:   &stubCounterpart{},
		events: &captureEvents{},
		buf:    buffer.NewRing(16),
		timer:  timer,
	}

	cfg := DefaultConfig()
	cfg.Clock = h.clk
	cfg.Counterpart = h.peer
	cfg.Buffer = h.buf
	cfg.Failsafe = timer
	cfg.EventLogger = h.events
	cfg.BootID = "boot-test"
	cfg.Backoff = connection.BackoffConfig{
		Initial:    50 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 2,
		Seed:       1,
	}
	for _, fn := range tweak {
		fn(&cfg)
	}

	h.c, err = NewController(initial, cfg)
	require.NoError(t, err)
	return h
}

func TestNewController(t *testing.T) {
	t.Run("RejectsInvalidInitialMode", func(t *testing.T) {
		for _, m := range []Mode{0, 3, 255} {
			_, err := NewController(m, DefaultConfig())
			assert.ErrorIs(t, err, ErrInvalidMode, "mode %d", m)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		c, err := NewController(ModeOnline, Config{})
		require.NoError(t, err)
		assert.Equal(t, ModeOnline, c.Mode())
		assert.NotNil(t, c.Clock())
		assert.NotNil(t, c.Buffer())
		assert.NotNil(t, c.Failsafe())

		_, ok := c.LastTransition()
		assert.False(t, ok, "no transition recorded at construction")
	})

	t.Run("InitialModeRunsNoEntryActions", func(t *testing.T) {
		h := newHarness(t, ModeOffline)
		assert.Equal(t, failsafe.StateNormal, h.timer.State())
		assert.Empty(t, h.events.byCategory(log.CategoryTransition))
	})
}

// Start OFFLINE, go ONLINE at 100.
func TestScenarioOfflineToOnline(t *testing.T) {
	h := newHarness(t, ModeOffline)

	h.c.ToOnline(100)

	assert.Equal(t, ModeOnline, h.c.Mode())
	at, ok := h.c.LastTransition()
	require.True(t, ok)
	assert.Equal(t, clock.Timestamp(100), at)
}

// A second ToOnline is a no-op that keeps the transition time.
func TestScenarioSameModeIsNoop(t *testing.T) {
	h := newHarness(t, ModeOffline)
	h.c.ToOnline(100)

	h.c.ToOnline(150)

	assert.Equal(t, ModeOnline, h.c.Mode())
	at, _ := h.c.LastTransition()
	assert.Equal(t, clock.Timestamp(100), at)
	assert.Len(t, h.events.byCategory(log.CategoryTransition), 1)
	assert.Equal(t, uint64(1), h.c.Snapshot().Transitions)
}

// ONLINE at 100, OFFLINE at 250: the offline entry action fires once.
func TestScenarioOnlineToOffline(t *testing.T) {
	var entered []clock.Timestamp
	h := newHarness(t, ModeOffline, func(cfg *Config) {
		cfg.OnEnterOffline = func(now clock.Timestamp) { entered = append(entered, now) }
	})

	armed := 0
	h.timer.OnStateChange(func(_, newState failsafe.State) {
		if newState == failsafe.StateTimerRunning {
			armed++
		}
	})

	h.c.ToOnline(100)
	h.c.ToOffline(250)
	h.c.ToOffline(260)

	assert.Equal(t, ModeOffline, h.c.Mode())
	at, _ := h.c.LastTransition()
	assert.Equal(t, clock.Timestamp(250), at)
	assert.Equal(t, []clock.Timestamp{250}, entered)
	assert.Equal(t, 1, armed, "failsafe armed exactly once")
	assert.Equal(t, failsafe.StateTimerRunning, h.timer.State())
	assert.Equal(t, clock.Timestamp(300), h.c.Snapshot().Offline.NextProbeAt)
}

// A successful probe at 300 goes ONLINE and the next tick processes ONLINE.
func TestScenarioProbeSuccessGoesOnline(t *testing.T) {
	h := newHarness(t, ModeOnline)
	h.c.ToOffline(250)

	h.peer.On("Probe").Return(nil).Once()
	h.peer.On("Exchange", mock.Anything).Return(nil)

	h.clk.Set(300)
	h.c.ProcessOffline()

	assert.Equal(t, ModeOnline, h.c.Mode())
	at, _ := h.c.LastTransition()
	assert.Equal(t, clock.Timestamp(300), at)

	h.clk.Set(310)
	assert.Equal(t, ModeOnline, h.c.Tick())
	h.peer.AssertNumberOfCalls(t, "Exchange", 1)
	h.peer.AssertExpectations(t)
}

func TestSetMode(t *testing.T) {
	t.Run("NoSideEffects", func(t *testing.T) {
		var hooks int
		h := newHarness(t, ModeOnline, func(cfg *Config) {
			cfg.OnEnterOffline = func(clock.Timestamp) { hooks++ }
			cfg.OnEnterOnline = func(clock.Timestamp) { hooks++ }
		})

		h.c.SetMode(ModeOffline)

		assert.Equal(t, ModeOffline, h.c.Mode())
		_, ok := h.c.LastTransition()
		assert.False(t, ok)
		assert.Zero(t, hooks)
		assert.Equal(t, failsafe.StateNormal, h.timer.State())
		assert.Zero(t, h.c.Snapshot().Transitions)

		forced := h.events.byCategory(log.CategoryTransition)
		require.Len(t, forced, 1)
		assert.True(t, forced[0].Transition.Forced)
	})

	t.Run("TransitionTableFollowsMode", func(t *testing.T) {
		h := newHarness(t, ModeOnline)

		h.c.SetMode(ModeOffline)
		assert.Equal(t, stateOffline, h.c.machine.Current())
		assert.Equal(t, h.c.Mode(), h.c.Snapshot().Mode)

		h.c.ToOnline(100)
		assert.Equal(t, stateOnline, h.c.machine.Current())
		assert.Equal(t, h.c.Mode(), h.c.Snapshot().Mode)
	})

	t.Run("KeepsTransitionTime", func(t *testing.T) {
		h := newHarness(t, ModeOffline)
		h.c.ToOnline(100)
		h.c.SetMode(ModeOffline)
		at, _ := h.c.LastTransition()
		assert.Equal(t, clock.Timestamp(100), at)
	})

	t.Run("InvalidIgnored", func(t *testing.T) {
		h := newHarness(t, ModeOnline)
		h.c.SetMode(Mode(0))
		h.c.SetMode(Mode(42))
		assert.Equal(t, ModeOnline, h.c.Mode())
	})

	t.Run("FreshBookkeeping", func(t *testing.T) {
		h := newHarness(t, ModeOnline)
		h.peer.On("Exchange", mock.Anything).Return(errLinkDown)
		h.c.Tick()
		require.Equal(t, 1, h.c.Snapshot().Online.Failures)

		h.c.SetMode(ModeOffline)
		h.c.SetMode(ModeOnline)

		snap := h.c.Snapshot()
		require.NotNil(t, snap.Online)
		assert.Zero(t, snap.Online.Failures)
		assert.Nil(t, snap.Offline)
	})

	t.Run("OfflineArmsOnFirstTick", func(t *testing.T) {
		h := newHarness(t, ModeOnline)
		h.peer.On("Probe").Return(errLinkDown)
		h.c.SetMode(ModeOffline)
		assert.Equal(t, failsafe.StateNormal, h.timer.State())

		h.clk.Set(10)
		h.c.Tick()
		assert.Equal(t, failsafe.StateTimerRunning, h.timer.State())
		assert.Equal(t, clock.Timestamp(10), h.timer.ArmedAt())

		h.clk.Set(20)
		h.c.Tick()
		assert.Equal(t, clock.Timestamp(10), h.timer.ArmedAt(), "armed once")
	})
}

func TestTransitionEdgeTriggered(t *testing.T) {
	var online, offline int
	h := newHarness(t, ModeOnline, func(cfg *Config) {
		cfg.OnEnterOnline = func(clock.Timestamp) { online++ }
		cfg.OnEnterOffline = func(clock.Timestamp) { offline++ }
	})

	seq := []struct {
		target Mode
		at     clock.Timestamp
	}{
		{ModeOffline, 10},
		{ModeOffline, 20},
		{ModeOnline, 30},
		{ModeOnline, 40},
		{ModeOnline, 50},
		{ModeOffline, 60},
	}
	for _, s := range seq {
		if s.target == ModeOnline {
			h.c.ToOnline(s.at)
		} else {
			h.c.ToOffline(s.at)
		}
	}

	assert.Equal(t, 1, online)
	assert.Equal(t, 2, offline)
	assert.Equal(t, uint64(3), h.c.Snapshot().Transitions)
	at, _ := h.c.LastTransition()
	assert.Equal(t, clock.Timestamp(60), at)
}

func TestTransitionEntryActions(t *testing.T) {
	t.Run("OnlineDisarmsFailsafeAndResetsBackoff", func(t *testing.T) {
		h := newHarness(t, ModeOnline)
		h.peer.On("Probe").Return(errLinkDown)

		h.c.ToOffline(0)
		for _, at := range []clock.Timestamp{50, 150, 350} {
			h.clk.Set(at)
			h.c.Tick()
		}
		assert.Equal(t, 3, h.c.Snapshot().Offline.ProbeAttempts)

		h.c.ToOnline(400)
		assert.Equal(t, failsafe.StateNormal, h.timer.State())
		assert.True(t, h.c.Snapshot().Online.ResyncPending)

		h.c.ToOffline(500)
		assert.Equal(t, clock.Timestamp(550), h.c.Snapshot().Offline.NextProbeAt,
			"backoff restarts at its initial delay")
	})

	t.Run("OnlineAfterFailsafeEntersGrace", func(t *testing.T) {
		h := newHarness(t, ModeOnline)
		h.peer.On("Probe").Return(errLinkDown)

		h.c.ToOffline(0)
		h.clk.Set(clock.Timestamp(time.Minute.Milliseconds()))
		h.c.Tick()
		require.Equal(t, failsafe.StateFailsafe, h.timer.State())

		h.c.ToOnline(h.clk.Now())
		assert.Equal(t, failsafe.StateGracePeriod, h.timer.State())

		states := h.events.byCategory(log.CategoryFailsafe)
		require.Len(t, states, 3)
		assert.Equal(t, "TIMER_RUNNING", states[0].Failsafe.NewState)
		assert.Equal(t, "FAILSAFE", states[1].Failsafe.NewState)
		assert.Equal(t, "GRACE_PERIOD", states[2].Failsafe.NewState)

		// ONLINE ticks end the grace period once it elapsed.
		h.peer.On("Exchange", mock.Anything).Return(nil)
		h.clk.Advance(5 * time.Second)
		h.c.Tick()
		assert.Equal(t, failsafe.StateGracePeriod, h.timer.State())

		h.clk.Advance(5 * time.Second)
		h.c.Tick()
		assert.Equal(t, failsafe.StateNormal, h.timer.State())
		states = h.events.byCategory(log.CategoryFailsafe)
		require.Len(t, states, 4)
		assert.Equal(t, "NORMAL", states[3].Failsafe.NewState)
	})

	t.Run("OnlineViaSetModeLeavesCountdownAlone", func(t *testing.T) {
		h := newHarness(t, ModeOnline)
		h.peer.On("Exchange", mock.Anything).Return(nil)

		entered := 0
		h.timer.OnFailsafeEnter(func(failsafe.Limits) { entered++ })

		h.c.ToOffline(0)
		h.c.SetMode(ModeOnline)
		require.Equal(t, failsafe.StateTimerRunning, h.timer.State())

		h.clk.Set(clock.Timestamp(5 * time.Minute.Milliseconds()))
		h.c.Tick()

		assert.Equal(t, ModeOnline, h.c.Mode())
		assert.Equal(t, failsafe.StateTimerRunning, h.timer.State())
		assert.Zero(t, entered)
	})
}

func TestTransitionClockRegression(t *testing.T) {
	m := &stubMetrics{}
	m.On("ObserveMode", mock.Anything).Return().Maybe()
	m.On("ObserveTransition", mock.Anything, mock.Anything, mock.Anything).Return()
	m.On("ObserveClockRegression").Return().Once()

	h := newHarness(t, ModeOnline, func(cfg *Config) { cfg.Metrics = m })

	h.c.ToOffline(500)
	h.c.ToOnline(200)

	assert.Equal(t, ModeOnline, h.c.Mode())
	at, _ := h.c.LastTransition()
	assert.Equal(t, clock.Timestamp(500), at, "regressing time is clamped")
	assert.Equal(t, uint64(1), h.c.Snapshot().ClockRegressions)

	clocks := h.events.byCategory(log.CategoryClock)
	require.Len(t, clocks, 1)
	assert.Equal(t, clock.Timestamp(200), clocks[0].Clock.Given)
	assert.Equal(t, clock.Timestamp(500), clocks[0].Clock.Clamped)

	m.AssertCalled(t, "ObserveTransition", ModeOnline, ModeOffline, clock.Timestamp(500))
	m.AssertCalled(t, "ObserveTransition", ModeOffline, ModeOnline, clock.Timestamp(500))
	m.AssertExpectations(t)
}

func TestLastTransitionMonotonic(t *testing.T) {
	h := newHarness(t, ModeOnline)
	times := []clock.Timestamp{100, 50, 300, 10, 300, 900, 0}

	var prev clock.Timestamp
	for i, at := range times {
		if i%2 == 0 {
			h.c.ToOffline(at)
		} else {
			h.c.ToOnline(at)
		}
		got, _ := h.c.LastTransition()
		assert.GreaterOrEqual(t, got, prev, "step %d", i)
		prev = got
	}
}

func TestTransitionTrace(t *testing.T) {
	h := newHarness(t, ModeOnline)
	h.c.ToOfflineReason(100, "link lost")
	h.c.ToOnlineReason(400, "operator")

	trs := h.events.byCategory(log.CategoryTransition)
	require.Len(t, trs, 2)

	assert.Equal(t, "ONLINE", trs[0].Transition.From)
	assert.Equal(t, "OFFLINE", trs[0].Transition.To)
	assert.Equal(t, "link lost", trs[0].Transition.Reason)
	assert.Equal(t, "boot-test", trs[0].BootID)
	assert.Nil(t, trs[0].Transition.Dwell)

	require.NotNil(t, trs[1].Transition.Dwell)
	assert.Equal(t, 300*time.Millisecond, *trs[1].Transition.Dwell)
	assert.Equal(t, "ONLINE", trs[1].Mode)
}

func TestProcessOnline(t *testing.T) {
	t.Run("ExchangesCollectedRecords", func(t *testing.T) {
		src := &counterSource{n: 2}
		h := newHarness(t, ModeOnline, func(cfg *Config) { cfg.Source = src })
		h.peer.On("Exchange", mock.MatchedBy(func(b []buffer.Record) bool { return len(b) == 2 })).Return(nil)

		h.clk.Set(10)
		h.c.ProcessOnline()

		snap := h.c.Snapshot()
		assert.Equal(t, clock.Timestamp(10), snap.Online.LastExchange)
		assert.Equal(t, uint64(1), snap.Online.Exchanges)
		assert.Zero(t, snap.Buffered)
		h.peer.AssertExpectations(t)
	})

	t.Run("ResyncFlushesBacklogFirst", func(t *testing.T) {
		src := &counterSource{n: 1}
		h := newHarness(t, ModeOnline, func(cfg *Config) { cfg.Source = src })
		h.peer.On("Probe").Return(errLinkDown).Once()
		h.peer.On("Probe").Return(nil)

		var delivered []buffer.Record
		h.peer.On("Exchange", mock.Anything).Run(func(args mock.Arguments) {
			delivered = append(delivered, args.Get(0).([]buffer.Record)...)
		}).Return(nil)

		h.c.ToOffline(0)
		for _, at := range []clock.Timestamp{10, 50, 60, 150} {
			h.clk.Set(at)
			h.c.Tick()
		}
		require.Equal(t, ModeOnline, h.c.Mode())
		require.Equal(t, 4, h.buf.Len(), "offline records buffered")

		h.clk.Set(200)
		h.c.Tick()

		require.Len(t, delivered, 5)
		for i, r := range delivered {
			assert.Equal(t, uint64(i+1), r.Seq, "delivered in order")
		}
		snap := h.c.Snapshot()
		assert.False(t, snap.Online.ResyncPending)
		assert.Zero(t, snap.Buffered)
	})

	t.Run("ResyncBatchLimit", func(t *testing.T) {
		h := newHarness(t, ModeOffline, func(cfg *Config) { cfg.ResyncBatch = 2 })
		for i := 1; i <= 5; i++ {
			h.buf.Push(buffer.Record{Seq: uint64(i)})
		}
		h.peer.On("Exchange", mock.Anything).Return(nil)
		h.c.ToOnline(0)

		h.c.Tick()
		assert.Equal(t, 3, h.buf.Len())
		assert.True(t, h.c.Snapshot().Online.ResyncPending)

		h.c.Tick()
		h.c.Tick()
		assert.Zero(t, h.buf.Len())
		assert.False(t, h.c.Snapshot().Online.ResyncPending)
	})

	t.Run("FailuresRequeueAndGoOffline", func(t *testing.T) {
		src := &counterSource{n: 1}
		var offlineAt []clock.Timestamp
		h := newHarness(t, ModeOnline, func(cfg *Config) {
			cfg.Source = src
			cfg.MaxOnlineFailures = 3
			cfg.OnEnterOffline = func(now clock.Timestamp) { offlineAt = append(offlineAt, now) }
		})
		h.peer.On("Exchange", mock.Anything).Return(errLinkDown)

		for i, at := range []clock.Timestamp{10, 20} {
			h.clk.Set(at)
			h.c.Tick()
			assert.Equal(t, ModeOnline, h.c.Mode(), "tick %d", i)
		}
		assert.Equal(t, 2, h.c.Snapshot().Online.Failures)
		assert.Equal(t, 2, h.buf.Len(), "failed batches requeued")

		h.clk.Set(30)
		h.c.Tick()

		assert.Equal(t, ModeOffline, h.c.Mode())
		assert.Equal(t, []clock.Timestamp{30}, offlineAt)
		assert.Equal(t, 3, h.buf.Len())

		trs := h.events.byCategory(log.CategoryTransition)
		require.Len(t, trs, 1)
		assert.Contains(t, trs[0].Transition.Reason, ReasonExchangeFailed)
		assert.Len(t, h.events.byCategory(log.CategoryError), 3)
	})

	t.Run("SuccessResetsFailures", func(t *testing.T) {
		h := newHarness(t, ModeOnline)
		h.peer.On("Exchange", mock.Anything).Return(errLinkDown).Twice()
		h.peer.On("Exchange", mock.Anything).Return(nil)

		h.c.Tick()
		h.c.Tick()
		h.c.Tick()
		snap := h.c.Snapshot()
		assert.Zero(t, snap.Online.Failures)
		assert.Empty(t, snap.Online.LastError)
		assert.Equal(t, ModeOnline, snap.Mode)
	})

	t.Run("PanicContained", func(t *testing.T) {
		h := newHarness(t, ModeOnline, func(cfg *Config) { cfg.MaxOnlineFailures = 1 })
		h.peer.On("Exchange", mock.Anything).Run(func(mock.Arguments) { panic("boom") })

		assert.NotPanics(t, func() { h.c.Tick() })
		assert.Equal(t, ModeOffline, h.c.Mode())
	})
}

func TestProcessOffline(t *testing.T) {
	t.Run("BuffersAndStepsLocal", func(t *testing.T) {
		src := &counterSource{n: 3}
		local := &stubLocal{}
		local.On("Step", clock.Timestamp(10), failsafe.StateTimerRunning).Return().Once()

		h := newHarness(t, ModeOnline, func(cfg *Config) {
			cfg.Source = src
			cfg.Local = local
		})
		h.c.ToOffline(0)

		h.clk.Set(10)
		h.c.ProcessOffline()

		assert.Equal(t, 3, h.buf.Len())
		local.AssertExpectations(t)
		h.peer.AssertNotCalled(t, "Probe")
	})

	t.Run("ProbeBackoff", func(t *testing.T) {
		h := newHarness(t, ModeOnline)
		h.peer.On("Probe").Return(errLinkDown)
		h.c.ToOffline(0)

		want := []struct {
			at       clock.Timestamp
			attempts int
			next     clock.Timestamp
		}{
			{49, 0, 50},
			{50, 1, 150},
			{100, 1, 150},
			{150, 2, 350},
			{350, 3, 750},
		}
		for _, w := range want {
			h.clk.Set(w.at)
			h.c.Tick()
			snap := h.c.Snapshot()
			assert.Equal(t, w.attempts, snap.Offline.ProbeAttempts, "at %d", w.at)
			assert.Equal(t, w.next, snap.Offline.NextProbeAt, "at %d", w.at)
		}
		h.peer.AssertNumberOfCalls(t, "Probe", 3)
		assert.Equal(t, errLinkDown.Error(), h.c.Snapshot().Offline.LastError)
	})

	t.Run("OverflowDropsOldest", func(t *testing.T) {
		src := &counterSource{n: 10}
		h := newHarness(t, ModeOffline, func(cfg *Config) { cfg.Source = src })
		h.peer.On("Probe").Return(errLinkDown)

		h.c.Tick()
		h.c.Tick()

		snap := h.c.Snapshot()
		assert.Equal(t, 16, snap.Buffered)
		assert.Equal(t, uint64(4), snap.Dropped)
		assert.Equal(t, uint64(5), h.buf.Snapshot()[0].Seq)
	})

	t.Run("FailsafeExpires", func(t *testing.T) {
		local := &stubLocal{}
		local.On("Step", mock.Anything, failsafe.StateTimerRunning).Return()
		local.On("Step", mock.Anything, failsafe.StateFailsafe).Return().Once()

		h := newHarness(t, ModeOnline, func(cfg *Config) { cfg.Local = local })
		h.peer.On("Probe").Return(errLinkDown)
		h.c.ToOffline(0)

		h.clk.Set(1000)
		h.c.Tick()
		h.clk.Set(clock.Timestamp(time.Minute.Milliseconds()))
		h.c.Tick()

		assert.True(t, h.timer.IsFailsafe())
		assert.Equal(t, failsafe.StateFailsafe, h.c.Snapshot().Failsafe)
		local.AssertExpectations(t)
	})
}

func TestDispatchRejected(t *testing.T) {
	m := &stubMetrics{}
	m.On("ObserveMode", mock.Anything).Return().Maybe()
	m.On("ObserveRejected", ModeOffline).Return().Once()
	m.On("ObserveRejected", ModeOnline).Return().Once()
	m.On("ObserveTransition", mock.Anything, mock.Anything, mock.Anything).Return()

	h := newHarness(t, ModeOnline, func(cfg *Config) { cfg.Metrics = m })

	h.c.ProcessOffline()
	h.c.ToOffline(10)
	h.c.ProcessOnline()

	h.peer.AssertNotCalled(t, "Probe")
	h.peer.AssertNotCalled(t, "Exchange", mock.Anything)
	assert.Equal(t, uint64(2), h.c.Snapshot().Rejected)

	rejected := h.events.byCategory(log.CategoryDispatch)
	require.Len(t, rejected, 2)
	assert.True(t, rejected[0].Dispatch.Rejected)
	assert.Equal(t, "OFFLINE", rejected[0].Dispatch.Mode)
	assert.Equal(t, "ONLINE", rejected[0].Mode)
	m.AssertExpectations(t)
}

func TestTickDispatchExclusive(t *testing.T) {
	m := &stubMetrics{}
	m.On("ObserveMode", mock.Anything).Return().Maybe()
	m.On("ObserveTransition", mock.Anything, mock.Anything, mock.Anything).Return()
	m.On("ObserveTick", mock.Anything, mock.Anything, mock.Anything).Return()

	h := newHarness(t, ModeOnline, func(cfg *Config) {
		cfg.Metrics = m
		cfg.TraceTicks = true
	})
	h.peer.On("Exchange", mock.Anything).Return(nil)
	h.peer.On("Probe").Return(errLinkDown)

	assert.Equal(t, ModeOnline, h.c.Tick())
	h.c.ToOffline(100)
	h.clk.Set(100)
	assert.Equal(t, ModeOffline, h.c.Tick())

	m.AssertNumberOfCalls(t, "ObserveTick", 2)
	m.AssertCalled(t, "ObserveTick", ModeOnline, 0, uint64(0))
	m.AssertCalled(t, "ObserveTick", ModeOffline, 0, uint64(0))
	m.AssertNotCalled(t, "ObserveRejected", mock.Anything)

	ticks := h.events.byCategory(log.CategoryDispatch)
	require.Len(t, ticks, 2)
	assert.False(t, ticks[0].Dispatch.Rejected)
	assert.Equal(t, 0, int(h.c.Snapshot().Rejected))
}

func TestSnapshotVariantMatchesMode(t *testing.T) {
	h := newHarness(t, ModeOnline)
	for i, at := range []clock.Timestamp{10, 20, 30, 40} {
		if i%2 == 0 {
			h.c.ToOffline(at)
		} else {
			h.c.ToOnline(at)
		}
		snap := h.c.Snapshot()
		switch snap.Mode {
		case ModeOnline:
			assert.NotNil(t, snap.Online)
			assert.Nil(t, snap.Offline)
		case ModeOffline:
			assert.Nil(t, snap.Online)
			assert.NotNil(t, snap.Offline)
			assert.Equal(t, at, snap.Offline.EnteredAt)
		default:
			t.Fatalf("mode %v outside the two variants", snap.Mode)
		}
	}
}

func TestControllerConcurrent(t *testing.T) {
	h := newHarness(t, ModeOnline)
	h.peer.On("Exchange", mock.Anything).Return(nil)
	h.peer.On("Probe").Return(errLinkDown)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.c.Tick()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			now := clock.Timestamp(i)
			if i%2 == 0 {
				h.c.ToOffline(now)
			} else {
				h.c.ToOnline(now)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			m := h.c.Mode()
			if !m.Valid() {
				t.Errorf("observed invalid mode %d", m)
				return
			}
			_ = h.c.Snapshot()
		}
	}()
	wg.Wait()

	snap := h.c.Snapshot()
	assert.True(t, snap.Mode.Valid())
	assert.Equal(t, snap.Mode, h.c.Mode())
	assert.Zero(t, snap.Rejected, "Tick never dispatches the wrong mode")
}
