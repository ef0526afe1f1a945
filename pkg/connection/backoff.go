package connection

import (
	"math/rand"
	"sync"
	"time"

	"github.com/mash-protocol/runmode-go/pkg/clock"
)

// Default probe schedule.
const (
	// InitialBackoff is the delay before the first probe after going offline.
	InitialBackoff = 1 * time.Second

	// MaxBackoff caps the delay between probes.
	MaxBackoff = 60 * time.Second

	// BackoffMultiplier grows the delay after each failed probe.
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum jitter as a fraction of the delay.
	JitterFactor = 0.25
)

// BackoffConfig is the probe schedule. Zero values select the package
// defaults, except Jitter where zero disables jitter.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`

	// Seed fixes the jitter source. Zero seeds from the wall clock.
	Seed int64 `yaml:"-"`
}

// DefaultBackoffConfig returns the default probe schedule.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	}
}

func (c BackoffConfig) normalized() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max <= 0 {
		c.Max = MaxBackoff
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = BackoffMultiplier
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// Backoff schedules reconnect probes on the monotonic clock.
// It is safe for concurrent use.
type Backoff struct {
	mu sync.Mutex

	cfg   BackoffConfig
	delay time.Duration
	rng   *rand.Rand
}

// NewBackoff creates a probe schedule starting at cfg.Initial.
func NewBackoff(cfg BackoffConfig) *Backoff {
	cfg = cfg.normalized()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Backoff{
		cfg:   cfg,
		delay: cfg.Initial,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// NextProbe returns when the next probe is due, counting from now, and grows
// the delay for the probe after it.
func (b *Backoff) NextProbe(now clock.Timestamp) clock.Timestamp {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.delay
	if b.cfg.Jitter > 0 {
		d += time.Duration(float64(d) * b.cfg.Jitter * b.rng.Float64())
	}

	next := time.Duration(float64(b.delay) * b.cfg.Multiplier)
	if next > b.cfg.Max {
		next = b.cfg.Max
	}
	b.delay = next

	return now.Add(d)
}

// Delay returns the un-jittered delay the next probe will wait.
func (b *Backoff) Delay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delay
}

// Reset restarts the schedule at the initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = b.cfg.Initial
}
