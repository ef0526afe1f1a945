package connection

import (
	"io"
	"log/slog"
	"sync"

	"github.com/mash-protocol/runmode-go/pkg/clock"
)

// Default debounce thresholds.
const (
	DefaultUpThreshold   = 2
	DefaultDownThreshold = 3
)

// LinkState is the debounced link status as seen by the Monitor.
type LinkState uint8

const (
	// LinkUnknown indicates no decision has been made yet.
	LinkUnknown LinkState = iota
	// LinkUp indicates the counterpart is reachable.
	LinkUp
	// LinkDown indicates the counterpart is unreachable.
	LinkDown
)

// String returns a human-readable state name.
func (s LinkState) String() string {
	switch s {
	case LinkUnknown:
		return "UNKNOWN"
	case LinkUp:
		return "UP"
	case LinkDown:
		return "DOWN"
	default:
		return "INVALID"
	}
}

// Transitioner receives the transition requests decided by the Monitor.
// *runmode.Controller satisfies it.
type Transitioner interface {
	ToOnline(now clock.Timestamp)
	ToOffline(now clock.Timestamp)
}

// MonitorConfig configures the debounce behavior.
type MonitorConfig struct {
	// UpThreshold is the number of consecutive up samples required to
	// request ONLINE.
	UpThreshold int `yaml:"up_threshold"`

	// DownThreshold is the number of consecutive down samples required to
	// request OFFLINE.
	DownThreshold int `yaml:"down_threshold"`

	// Logger for debug output (optional).
	Logger *slog.Logger `yaml:"-"`
}

// Monitor debounces link-status samples into transition requests.
type Monitor struct {
	mu sync.Mutex

	state   LinkState
	upRun   int
	downRun int

	upThreshold   int
	downThreshold int

	target Transitioner
	logger *slog.Logger

	onStateChange func(oldState, newState LinkState)
}

// NewMonitor creates a monitor that drives target.
func NewMonitor(target Transitioner, cfg MonitorConfig) *Monitor {
	if cfg.UpThreshold <= 0 {
		cfg.UpThreshold = DefaultUpThreshold
	}
	if cfg.DownThreshold <= 0 {
		cfg.DownThreshold = DefaultDownThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Monitor{
		state:         LinkUnknown,
		upThreshold:   cfg.UpThreshold,
		downThreshold: cfg.DownThreshold,
		target:        target,
		logger:        logger,
	}
}

// State returns the debounced link state.
func (m *Monitor) State() LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange sets a callback for debounced link state changes.
func (m *Monitor) OnStateChange(fn func(oldState, newState LinkState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// Observe records one link-status sample taken at now. When the sample
// completes a run of agreeing samples that changes the debounced state, the
// matching transition is requested from the target.
func (m *Monitor) Observe(now clock.Timestamp, up bool) {
	m.mu.Lock()

	if up {
		m.upRun++
		m.downRun = 0
	} else {
		m.downRun++
		m.upRun = 0
	}

	oldState := m.state
	newState := oldState
	switch {
	case up && m.upRun >= m.upThreshold:
		newState = LinkUp
	case !up && m.downRun >= m.downThreshold:
		newState = LinkDown
	}

	if newState == oldState {
		m.mu.Unlock()
		return
	}

	m.state = newState
	stateChangeFn := m.onStateChange
	target := m.target
	m.mu.Unlock()

	m.logger.Debug("link state changed",
		"old", oldState.String(),
		"new", newState.String(),
		"at", uint64(now))

	if stateChangeFn != nil {
		stateChangeFn(oldState, newState)
	}
	if target == nil {
		return
	}
	if newState == LinkUp {
		target.ToOnline(now)
	} else {
		target.ToOffline(now)
	}
}

// Reset forgets all samples and returns to LinkUnknown without requesting
// any transition.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = LinkUnknown
	m.upRun = 0
	m.downRun = 0
}
