package runmode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/mash-protocol/runmode-go/pkg/buffer"
	"github.com/mash-protocol/runmode-go/pkg/clock"
	"github.com/mash-protocol/runmode-go/pkg/connection"
	"github.com/mash-protocol/runmode-go/pkg/failsafe"
	"github.com/mash-protocol/runmode-go/pkg/log"
)

const (
	// DefaultIOTimeout bounds every Exchange and Probe call.
	DefaultIOTimeout = 5 * time.Second

	// DefaultMaxOnlineFailures is the number of consecutive failed
	// exchanges after which the controller goes OFFLINE.
	DefaultMaxOnlineFailures = 3

	// ReasonRequested is the reason recorded by ToOnline and ToOffline.
	ReasonRequested = "requested"
)

// Reasons recorded for transitions requested by the controller itself.
const (
	ReasonProbeSucceeded = "probe succeeded"
	ReasonExchangeFailed = "exchange failed"
)

// Config configures a Controller. Every collaborator is optional.
type Config struct {
	// Clock is the monotonic time source. Defaults to clock.NewMonotonic().
	Clock clock.Clock

	// Counterpart is the remote side. Defaults to one that always succeeds.
	Counterpart Counterpart

	// Source produces the records of each tick.
	Source Source

	// Local is the degraded logic run on OFFLINE ticks.
	Local Local

	// Buffer holds records produced while OFFLINE or not yet delivered.
	// Defaults to a buffer.Ring of buffer.DefaultCapacity.
	Buffer buffer.Buffer

	// Failsafe is armed on entry to OFFLINE and disarmed on entry to ONLINE.
	// Defaults to failsafe.NewTimer(). Its callbacks run while the
	// controller holds its lock and must not call back into the controller.
	Failsafe *failsafe.Timer

	// Backoff schedules reconnect probes while OFFLINE.
	Backoff connection.BackoffConfig

	// IOTimeout bounds each collaborator call.
	IOTimeout time.Duration

	// MaxOnlineFailures is the number of consecutive failed exchanges that
	// request OFFLINE.
	MaxOnlineFailures int

	// ResyncBatch caps the backlog drained per ONLINE tick. Zero drains everything.
	ResyncBatch int

	// OnEnterOnline and OnEnterOffline run once per edge, after the
	// controller lock is released.
	OnEnterOnline  func(now clock.Timestamp)
	OnEnterOffline func(now clock.Timestamp)

	// Logger is used for operational logging.
	Logger *slog.Logger

	// EventLogger receives the run-mode event trace.
	EventLogger log.Logger

	// TraceTicks adds a dispatch event for every processed tick to the trace.
	// Rejected dispatches are always traced.
	TraceTicks bool

	// Metrics observes controller activity.
	Metrics Metrics

	// BootID is stamped into every trace event.
	BootID string
}

// DefaultConfig returns a Config with the default timeouts and thresholds.
func DefaultConfig() Config {
	return Config{
		Backoff:           connection.DefaultBackoffConfig(),
		IOTimeout:         DefaultIOTimeout,
		MaxOnlineFailures: DefaultMaxOnlineFailures,
	}
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	Mode             Mode
	LastTransition   clock.Timestamp
	Transitioned     bool
	Transitions      uint64
	Rejected         uint64
	ClockRegressions uint64

	// Exactly one of Online and Offline is set, matching Mode.
	Online  *OnlineStatus
	Offline *OfflineStatus

	Failsafe          failsafe.State
	FailsafeRemaining time.Duration
	Buffered          int
	Dropped           uint64
}

// Controller tracks the run mode and dispatches per-mode processing.
// It is safe for concurrent use.
type Controller struct {
	mu sync.Mutex

	machine        *fsm.FSM
	state          modeState
	lastTransition clock.Timestamp
	transitioned   bool
	transitions    uint64
	rejected       uint64
	regressions    uint64

	clock       clock.Clock
	counterpart Counterpart
	source      Source
	local       Local
	buf         buffer.Buffer
	failsafe    *failsafe.Timer
	backoff     *connection.Backoff

	ioTimeout   time.Duration
	maxFailures int
	resyncBatch int
	traceTicks  bool

	onEnterOnline  func(now clock.Timestamp)
	onEnterOffline func(now clock.Timestamp)

	logger  *slog.Logger
	events  log.Logger
	metrics Metrics
	bootID  string
}

// NewController creates a controller in the initial mode. The initial mode is
// installed like SetMode: no entry actions run and no transition is recorded.
// The failsafe timer of an initial OFFLINE mode is armed on the first
// OFFLINE tick.
func NewController(initial Mode, cfg Config) (*Controller, error) {
	if !initial.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(initial))
	}

	c := &Controller{
		clock:          cfg.Clock,
		counterpart:    cfg.Counterpart,
		source:         cfg.Source,
		local:          cfg.Local,
		buf:            cfg.Buffer,
		failsafe:       cfg.Failsafe,
		backoff:        connection.NewBackoff(cfg.Backoff),
		ioTimeout:      cfg.IOTimeout,
		maxFailures:    cfg.MaxOnlineFailures,
		resyncBatch:    cfg.ResyncBatch,
		traceTicks:     cfg.TraceTicks,
		onEnterOnline:  cfg.OnEnterOnline,
		onEnterOffline: cfg.OnEnterOffline,
		logger:         cfg.Logger,
		events:         cfg.EventLogger,
		metrics:        cfg.Metrics,
		bootID:         cfg.BootID,
		state:          freshState(initial),
	}
	if c.clock == nil {
		c.clock = clock.NewMonotonic()
	}
	if c.counterpart == nil {
		c.counterpart = nopCounterpart{}
	}
	if c.buf == nil {
		c.buf = buffer.NewRing(buffer.DefaultCapacity)
	}
	if c.failsafe == nil {
		c.failsafe = failsafe.NewTimer()
	}
	if c.ioTimeout <= 0 {
		c.ioTimeout = DefaultIOTimeout
	}
	if c.maxFailures <= 0 {
		c.maxFailures = DefaultMaxOnlineFailures
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.events == nil {
		c.events = log.NoopLogger{}
	}
	if c.metrics == nil {
		c.metrics = NoopMetrics{}
	}

	c.machine = fsm.NewFSM(
		initial.fsmState(),
		fsm.Events{
			{Name: eventGoOnline, Src: []string{stateOffline}, Dst: stateOnline},
			{Name: eventGoOffline, Src: []string{stateOnline}, Dst: stateOffline},
		},
		fsm.Callbacks{
			"enter_" + stateOnline: func(_ context.Context, e *fsm.Event) {
				c.enterOnline(e.Args[0].(clock.Timestamp))
			},
			"enter_" + stateOffline: func(_ context.Context, e *fsm.Event) {
				c.enterOffline(e.Args[0].(clock.Timestamp))
			},
		},
	)
	c.metrics.ObserveMode(initial)

	return c, nil
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.mode()
}

// LastTransition returns the monotonic time of the most recent edge.
// The second result is false before the first edge.
func (c *Controller) LastTransition() (clock.Timestamp, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTransition, c.transitioned
}

// Clock returns the controller's time source.
func (c *Controller) Clock() clock.Clock {
	return c.clock
}

// Buffer returns the backlog.
func (c *Controller) Buffer() buffer.Buffer {
	return c.buf
}

// Failsafe returns the failsafe timer.
func (c *Controller) Failsafe() *failsafe.Timer {
	return c.failsafe
}

// Snapshot returns a consistent copy of the controller state.
func (c *Controller) Snapshot() Snapshot {
	now := c.clock.Now()

	c.mu.Lock()
	s := Snapshot{
		Mode:             c.state.mode(),
		LastTransition:   c.lastTransition,
		Transitioned:     c.transitioned,
		Transitions:      c.transitions,
		Rejected:         c.rejected,
		ClockRegressions: c.regressions,
	}
	switch st := c.state.(type) {
	case *onlineState:
		s.Online = &OnlineStatus{
			EnteredAt:     st.enteredAt,
			Failures:      st.failures,
			ResyncPending: st.resyncPending,
			LastExchange:  st.lastExchange,
			Exchanges:     st.exchanges,
			LastError:     errString(st.lastErr),
		}
	case *offlineState:
		s.Offline = &OfflineStatus{
			EnteredAt:     st.enteredAt,
			ProbeAttempts: st.probeAttempts,
			NextProbeAt:   st.nextProbeAt,
			LastError:     errString(st.lastErr),
		}
	}
	c.mu.Unlock()

	s.Failsafe = c.failsafe.State()
	s.FailsafeRemaining = c.failsafe.Remaining(now)
	s.Buffered = c.buf.Len()
	s.Dropped = c.buf.Dropped()
	return s
}

// SetMode overrides the mode without transition side effects: the
// transition time is unchanged, no entry actions or hooks run. The
// bookkeeping of the new mode starts empty. Invalid values are ignored.
func (c *Controller) SetMode(m Mode) {
	if !m.Valid() {
		c.logger.Warn("ignoring invalid run mode", "mode", uint8(m))
		return
	}

	c.mu.Lock()
	from := c.state.mode()
	if from == m {
		c.mu.Unlock()
		return
	}
	c.machine.SetState(m.fsmState())
	c.state = freshState(m)
	c.mu.Unlock()

	c.logger.Info("run mode set", "from", from, "to", m)
	c.metrics.ObserveMode(m)
	c.emit(log.Event{
		Category: log.CategoryTransition,
		Mode:     m.String(),
		Transition: &log.TransitionEvent{
			From:   from.String(),
			To:     m.String(),
			Forced: true,
		},
	})
}

// ToOnline requests ONLINE at now.
func (c *Controller) ToOnline(now clock.Timestamp) {
	c.transition(ModeOnline, now, ReasonRequested)
}

// ToOffline requests OFFLINE at now.
func (c *Controller) ToOffline(now clock.Timestamp) {
	c.transition(ModeOffline, now, ReasonRequested)
}

// ToOnlineReason requests ONLINE at now, recording reason in the trace.
func (c *Controller) ToOnlineReason(now clock.Timestamp, reason string) {
	c.transition(ModeOnline, now, reason)
}

// ToOfflineReason requests OFFLINE at now, recording reason in the trace.
func (c *Controller) ToOfflineReason(now clock.Timestamp, reason string) {
	c.transition(ModeOffline, now, reason)
}

func (c *Controller) transition(target Mode, now clock.Timestamp, reason string) {
	c.mu.Lock()

	from := c.state.mode()
	if from == target {
		c.mu.Unlock()
		c.logger.Debug("transition ignored, mode unchanged", "mode", target, "reason", reason)
		return
	}

	given := now
	clamped := c.transitioned && now < c.lastTransition
	if clamped {
		now = c.lastTransition
		c.regressions++
	}
	var dwell *time.Duration
	if c.transitioned {
		d := now.Sub(c.lastTransition)
		dwell = &d
	}

	fsBefore := c.failsafe.State()
	if err := c.machine.Event(context.Background(), target.fsmEvent(), now); err != nil {
		c.mu.Unlock()
		c.logger.Error("transition failed", "from", from, "to", target, "error", err)
		return
	}
	fsAfter := c.failsafe.State()

	c.lastTransition = now
	c.transitioned = true
	c.transitions++

	hook := c.onEnterOffline
	if target == ModeOnline {
		hook = c.onEnterOnline
	}
	c.mu.Unlock()

	if clamped {
		c.logger.Warn("transition time went backwards, clamped",
			"given", given, "clamped", now)
		c.metrics.ObserveClockRegression()
		c.emit(log.Event{
			Monotonic: given,
			Category:  log.CategoryClock,
			Mode:      from.String(),
			Clock:     &log.ClockEvent{Given: given, Clamped: now},
		})
	}

	c.logger.Info("run mode changed", "from", from, "to", target, "at", now, "reason", reason)
	c.metrics.ObserveTransition(from, target, now)
	c.emit(log.Event{
		Monotonic: now,
		Category:  log.CategoryTransition,
		Mode:      target.String(),
		Transition: &log.TransitionEvent{
			From:   from.String(),
			To:     target.String(),
			Reason: reason,
			Dwell:  dwell,
		},
	})
	c.reportFailsafe(now, target, fsBefore, fsAfter)

	if hook != nil {
		hook(now)
	}
}

// enterOnline runs inside the fsm event with c.mu held.
func (c *Controller) enterOnline(now clock.Timestamp) {
	c.failsafe.Disarm(now)
	c.backoff.Reset()
	c.state = &onlineState{
		enteredAt:     now,
		resyncPending: true,
	}
}

// enterOffline runs inside the fsm event with c.mu held.
func (c *Controller) enterOffline(now clock.Timestamp) {
	c.failsafe.Arm(now)
	c.state = &offlineState{
		enteredAt:   now,
		nextProbeAt: c.backoff.NextProbe(now),
		armed:       true,
	}
}

// Tick samples the mode once and runs its process function. It returns the
// mode that was processed.
func (c *Controller) Tick() Mode {
	now := c.clock.Now()

	c.mu.Lock()
	st := c.state
	c.mu.Unlock()

	switch s := st.(type) {
	case *onlineState:
		c.processOnline(now, s)
	case *offlineState:
		c.processOffline(now, s)
	}
	return st.mode()
}

// ProcessOnline runs one ONLINE tick. It does nothing but report a rejected
// dispatch when the controller is not ONLINE.
func (c *Controller) ProcessOnline() {
	now := c.clock.Now()

	c.mu.Lock()
	st, ok := c.state.(*onlineState)
	current := c.state.mode()
	c.mu.Unlock()

	if !ok {
		c.reject(now, ModeOnline, current)
		return
	}
	c.processOnline(now, st)
}

// ProcessOffline runs one OFFLINE tick. It does nothing but report a
// rejected dispatch when the controller is not OFFLINE.
func (c *Controller) ProcessOffline() {
	now := c.clock.Now()

	c.mu.Lock()
	st, ok := c.state.(*offlineState)
	current := c.state.mode()
	c.mu.Unlock()

	if !ok {
		c.reject(now, ModeOffline, current)
		return
	}
	c.processOffline(now, st)
}

func (c *Controller) processOnline(now clock.Timestamp, st *onlineState) {
	c.mu.Lock()
	if c.state != st {
		c.mu.Unlock()
		return
	}
	resync := st.resyncPending
	c.mu.Unlock()

	// Only the grace period can elapse while ONLINE. A countdown left over
	// from SetMode never trips here.
	fsBefore := c.failsafe.State()
	fsAfter := c.failsafe.PollGrace(now)
	c.reportFailsafe(now, ModeOnline, fsBefore, fsAfter)

	var batch []buffer.Record
	if resync {
		batch = c.buf.Drain(c.resyncBatch)
	}
	batch = append(batch, c.collect(now)...)

	err := c.call(func(ctx context.Context) error {
		return c.counterpart.Exchange(ctx, batch)
	})
	if err != nil && len(batch) > 0 {
		c.buf.Requeue(batch)
	}

	goOffline := false
	c.mu.Lock()
	if c.state == st {
		if err != nil {
			// The requeued batch goes out ahead of new records next tick.
			st.resyncPending = true
			st.failures++
			st.lastErr = err
			goOffline = st.failures >= c.maxFailures
		} else {
			st.failures = 0
			st.lastErr = nil
			st.lastExchange = now
			st.exchanges++
			if resync && c.buf.Len() == 0 {
				st.resyncPending = false
			}
		}
	}
	failures := st.failures
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("exchange failed", "error", err, "failures", failures, "records", len(batch))
		c.emit(log.Event{
			Monotonic: now,
			Category:  log.CategoryError,
			Mode:      ModeOnline.String(),
			Error:     &log.ErrorEventData{Context: "exchange", Message: err.Error()},
		})
	}
	c.observeTick(now, ModeOnline, len(batch))

	if goOffline {
		c.ToOfflineReason(now, fmt.Sprintf("%s: %v", ReasonExchangeFailed, err))
	}
}

func (c *Controller) processOffline(now clock.Timestamp, st *offlineState) {
	c.mu.Lock()
	if c.state != st {
		c.mu.Unlock()
		return
	}
	due := now >= st.nextProbeAt
	arm := !st.armed
	c.mu.Unlock()

	records := c.collect(now)
	for _, r := range records {
		if !c.buf.Push(r) {
			c.logger.Debug("backlog full, oldest record dropped", "dropped", c.buf.Dropped())
		}
	}

	fsBefore := c.failsafe.State()
	if arm {
		c.failsafe.Arm(now)
	}
	fsAfter := c.failsafe.Poll(now)
	c.reportFailsafe(now, ModeOffline, fsBefore, fsAfter)

	if c.local != nil {
		c.guard("local step", func() { c.local.Step(now, fsAfter) })
	}

	var probeErr error
	if due {
		probeErr = c.call(c.counterpart.Probe)
	}

	goOnline := false
	c.mu.Lock()
	if c.state == st {
		if arm {
			st.armed = true
		}
		if due {
			if probeErr == nil {
				goOnline = true
			} else {
				st.probeAttempts++
				st.lastErr = probeErr
				st.nextProbeAt = c.backoff.NextProbe(now)
			}
		}
	}
	attempts, next := st.probeAttempts, st.nextProbeAt
	c.mu.Unlock()

	if due && probeErr != nil {
		c.logger.Debug("probe failed", "error", probeErr, "attempts", attempts, "next_probe_at", next)
	}
	c.observeTick(now, ModeOffline, len(records))

	if goOnline {
		c.ToOnlineReason(now, ReasonProbeSucceeded)
	}
}

// reject reports a process call made in the wrong mode.
func (c *Controller) reject(now clock.Timestamp, want, current Mode) {
	c.mu.Lock()
	c.rejected++
	c.mu.Unlock()

	c.logger.Warn("process call rejected, wrong mode", "process", want, "mode", current)
	c.metrics.ObserveRejected(want)
	c.emit(log.Event{
		Monotonic: now,
		Category:  log.CategoryDispatch,
		Mode:      current.String(),
		Dispatch:  &log.DispatchEvent{Mode: want.String(), Rejected: true},
	})
}

func (c *Controller) observeTick(now clock.Timestamp, m Mode, records int) {
	buffered, dropped := c.buf.Len(), c.buf.Dropped()
	c.metrics.ObserveTick(m, buffered, dropped)
	if c.traceTicks {
		c.emit(log.Event{
			Monotonic: now,
			Category:  log.CategoryDispatch,
			Mode:      m.String(),
			Dispatch:  &log.DispatchEvent{Mode: m.String(), Records: records, Buffered: buffered},
		})
	}
}

func (c *Controller) reportFailsafe(now clock.Timestamp, m Mode, before, after failsafe.State) {
	if before == after {
		return
	}
	c.logger.Info("failsafe state changed", "from", before, "to", after)
	c.emit(log.Event{
		Monotonic: now,
		Category:  log.CategoryFailsafe,
		Mode:      m.String(),
		Failsafe:  &log.FailsafeEvent{OldState: before.String(), NewState: after.String()},
	})
}

func (c *Controller) collect(now clock.Timestamp) []buffer.Record {
	if c.source == nil {
		return nil
	}
	var records []buffer.Record
	c.guard("collect", func() { records = c.source.Collect(now) })
	return records
}

// call runs a counterpart operation bounded by the I/O timeout.
func (c *Controller) call(fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.ioTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCollaboratorPanic, r)
		}
	}()
	return fn(ctx)
}

// guard runs fn and contains a panic.
func (c *Controller) guard(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("collaborator panicked", "op", what, "panic", r)
		}
	}()
	fn()
}

func (c *Controller) emit(ev log.Event) {
	ev.Timestamp = time.Now()
	ev.BootID = c.bootID
	c.events.Log(ev)
}
