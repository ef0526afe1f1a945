package failsafe

import (
	"errors"
	"sync"
	"time"

	"github.com/mash-protocol/runmode-go/pkg/clock"
)

// Failsafe timer constants.
const (
	// MinDuration is the minimum failsafe duration.
	MinDuration = 1 * time.Second

	// MaxDuration is the maximum failsafe duration.
	MaxDuration = 24 * time.Hour

	// DefaultDuration is the default failsafe duration.
	DefaultDuration = 4 * time.Hour

	// DefaultGracePeriod is the default grace period after reconnection.
	DefaultGracePeriod = 5 * time.Minute
)

// Timer errors.
var (
	ErrInvalidDuration    = errors.New("invalid failsafe duration")
	ErrInvalidGracePeriod = errors.New("invalid failsafe grace period")
)

// State represents the failsafe state.
type State uint8

const (
	// StateNormal indicates normal operation (not in failsafe).
	StateNormal State = iota

	// StateTimerRunning indicates the failsafe timer is running.
	StateTimerRunning

	// StateFailsafe indicates failsafe mode is active.
	StateFailsafe

	// StateGracePeriod indicates the grace period after reconnection.
	StateGracePeriod
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateTimerRunning:
		return "TIMER_RUNNING"
	case StateFailsafe:
		return "FAILSAFE"
	case StateGracePeriod:
		return "GRACE_PERIOD"
	default:
		return "UNKNOWN"
	}
}

// Limits holds the failsafe power limits.
type Limits struct {
	// ConsumptionLimit is the maximum consumption in watts (positive).
	ConsumptionLimit int64 `yaml:"consumption_limit"`

	// ProductionLimit is the maximum production in watts (negative, closer
	// to zero is more restrictive).
	ProductionLimit int64 `yaml:"production_limit"`

	// HasConsumptionLimit indicates if ConsumptionLimit is set.
	HasConsumptionLimit bool `yaml:"has_consumption_limit"`

	// HasProductionLimit indicates if ProductionLimit is set.
	HasProductionLimit bool `yaml:"has_production_limit"`
}

// Config holds failsafe timer configuration.
type Config struct {
	Duration    time.Duration `yaml:"duration"`
	GracePeriod time.Duration `yaml:"grace_period"`
	Limits      Limits        `yaml:"limits"`

	// NoGracePeriod disables the grace period. A zero GracePeriod alone
	// selects DefaultGracePeriod.
	NoGracePeriod bool `yaml:"no_grace_period"`
}

// Timer is the offline failsafe timer. All deadlines are expressed on the
// controller's monotonic clock.
type Timer struct {
	mu sync.RWMutex

	state State

	duration    time.Duration
	gracePeriod time.Duration
	limits      Limits

	armedAt       clock.Timestamp
	deadline      clock.Timestamp
	graceDeadline clock.Timestamp

	onStateChange   func(oldState, newState State)
	onFailsafeEnter func(limits Limits)
	onFailsafeExit  func()
}

// NewTimer creates a failsafe timer with default settings.
func NewTimer() *Timer {
	return &Timer{
		state:       StateNormal,
		duration:    DefaultDuration,
		gracePeriod: DefaultGracePeriod,
	}
}

// NewTimerWithConfig creates a failsafe timer with custom configuration.
// Zero durations select the defaults unless NoGracePeriod is set. A negative
// grace period is invalid.
func NewTimerWithConfig(cfg Config) (*Timer, error) {
	if cfg.Duration != 0 && (cfg.Duration < MinDuration || cfg.Duration > MaxDuration) {
		return nil, ErrInvalidDuration
	}
	if cfg.GracePeriod < 0 {
		return nil, ErrInvalidGracePeriod
	}

	t := &Timer{
		state:       StateNormal,
		duration:    cfg.Duration,
		gracePeriod: cfg.GracePeriod,
		limits:      cfg.Limits,
	}
	if t.duration == 0 {
		t.duration = DefaultDuration
	}
	if t.gracePeriod == 0 && !cfg.NoGracePeriod {
		t.gracePeriod = DefaultGracePeriod
	}

	return t, nil
}

// State returns the current failsafe state.
func (t *Timer) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// IsFailsafe returns true if in failsafe mode.
func (t *Timer) IsFailsafe() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state == StateFailsafe
}

// IsArmed returns true if the failsafe timer is counting down.
func (t *Timer) IsArmed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state == StateTimerRunning
}

// Duration returns the configured failsafe duration.
func (t *Timer) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.duration
}

// SetDuration sets the failsafe duration. It takes effect on the next Arm.
func (t *Timer) SetDuration(d time.Duration) error {
	if d < MinDuration || d > MaxDuration {
		return ErrInvalidDuration
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.duration = d
	return nil
}

// SetGracePeriod sets the grace period. Zero disables it.
func (t *Timer) SetGracePeriod(d time.Duration) error {
	if d < 0 {
		return ErrInvalidGracePeriod
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.gracePeriod = d
	return nil
}

// SetLimits sets the failsafe limits.
func (t *Timer) SetLimits(limits Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limits = limits
}

// Limits returns the current failsafe limits.
func (t *Timer) Limits() Limits {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.limits
}

// Arm starts the countdown at now. Arming an already armed timer or a timer
// in failsafe has no effect. Arming during the grace period restarts the
// countdown.
func (t *Timer) Arm(now clock.Timestamp) {
	t.mu.Lock()

	if t.state == StateTimerRunning || t.state == StateFailsafe {
		t.mu.Unlock()
		return
	}

	oldState := t.state
	t.state = StateTimerRunning
	t.armedAt = now
	t.deadline = now.Add(t.duration)
	stateChangeFn := t.onStateChange
	t.mu.Unlock()

	if stateChangeFn != nil {
		stateChangeFn(oldState, StateTimerRunning)
	}
}

// Disarm stops the countdown. Leaving failsafe enters the grace period if one
// is configured.
func (t *Timer) Disarm(now clock.Timestamp) {
	t.mu.Lock()

	if t.state == StateNormal || t.state == StateGracePeriod {
		t.mu.Unlock()
		return
	}

	oldState := t.state
	wasFailsafe := t.state == StateFailsafe

	if wasFailsafe && t.gracePeriod > 0 {
		t.state = StateGracePeriod
		t.graceDeadline = now.Add(t.gracePeriod)
	} else {
		t.state = StateNormal
	}
	t.deadline = 0

	stateChangeFn := t.onStateChange
	failsafeExitFn := t.onFailsafeExit
	newState := t.state
	t.mu.Unlock()

	if stateChangeFn != nil {
		stateChangeFn(oldState, newState)
	}
	if wasFailsafe && failsafeExitFn != nil {
		failsafeExitFn()
	}
}

// Poll advances the timer to now and returns the resulting state.
// It enters failsafe when the countdown expired and leaves the grace period
// when it elapsed.
func (t *Timer) Poll(now clock.Timestamp) State {
	t.mu.Lock()

	oldState := t.state
	switch {
	case t.state == StateTimerRunning && now >= t.deadline:
		t.state = StateFailsafe
	case t.state == StateGracePeriod && now >= t.graceDeadline:
		t.state = StateNormal
		t.graceDeadline = 0
	default:
		t.mu.Unlock()
		return oldState
	}

	newState := t.state
	stateChangeFn := t.onStateChange
	failsafeEnterFn := t.onFailsafeEnter
	limits := t.limits
	t.mu.Unlock()

	if stateChangeFn != nil {
		stateChangeFn(oldState, newState)
	}
	if newState == StateFailsafe && failsafeEnterFn != nil {
		failsafeEnterFn(limits)
	}
	return newState
}

// PollGrace advances only an elapsed grace period and returns the resulting
// state. A running countdown is left alone.
func (t *Timer) PollGrace(now clock.Timestamp) State {
	t.mu.Lock()

	if t.state != StateGracePeriod || now < t.graceDeadline {
		state := t.state
		t.mu.Unlock()
		return state
	}
	t.state = StateNormal
	t.graceDeadline = 0
	stateChangeFn := t.onStateChange
	t.mu.Unlock()

	if stateChangeFn != nil {
		stateChangeFn(StateGracePeriod, StateNormal)
	}
	return StateNormal
}

// Remaining returns the time left until failsafe triggers.
// Returns 0 if the timer is not armed.
func (t *Timer) Remaining(now clock.Timestamp) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.state != StateTimerRunning {
		return 0
	}
	return t.deadline.Sub(now)
}

// ArmedAt returns when the timer was last armed.
func (t *Timer) ArmedAt() clock.Timestamp {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.armedAt
}

// Reset returns the timer to StateNormal without firing exit callbacks.
func (t *Timer) Reset() {
	t.mu.Lock()

	oldState := t.state
	t.state = StateNormal
	t.armedAt = 0
	t.deadline = 0
	t.graceDeadline = 0
	stateChangeFn := t.onStateChange
	t.mu.Unlock()

	if stateChangeFn != nil && oldState != StateNormal {
		stateChangeFn(oldState, StateNormal)
	}
}

// OnStateChange sets a callback for state changes.
func (t *Timer) OnStateChange(fn func(oldState, newState State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStateChange = fn
}

// OnFailsafeEnter sets a callback for entering failsafe mode.
func (t *Timer) OnFailsafeEnter(fn func(limits Limits)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFailsafeEnter = fn
}

// OnFailsafeExit sets a callback for exiting failsafe mode.
func (t *Timer) OnFailsafeExit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFailsafeExit = fn
}
