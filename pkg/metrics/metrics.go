// Package metrics exports run-mode controller activity to Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mash-protocol/runmode-go/pkg/clock"
	"github.com/mash-protocol/runmode-go/pkg/runmode"
)

const namespace = "runmode"

// Prometheus implements runmode.Metrics on a set of Prometheus collectors.
type Prometheus struct {
	transitions      *prometheus.CounterVec
	ticks            *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	clockRegressions prometheus.Counter
	mode             prometheus.Gauge
	lastTransition   prometheus.Gauge
	buffered         prometheus.Gauge
	dropped          prometheus.Counter

	mu          sync.Mutex
	lastDropped uint64
}

// New registers the run-mode collectors on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Prometheus{
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total number of accepted mode transitions",
			},
			[]string{"from", "to"},
		),
		ticks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_total",
				Help:      "Total number of processed ticks by mode",
			},
			[]string{"mode"},
		),
		rejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_rejected_total",
				Help:      "Total number of process calls made in the wrong mode",
			},
			[]string{"mode"},
		),
		clockRegressions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clock_regressions_total",
			Help:      "Total number of transition times that went backwards",
		}),
		mode: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mode",
			Help:      "Current run mode (1=online, 0=offline)",
		}),
		lastTransition: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_transition_ms",
			Help:      "Monotonic time of the last transition in milliseconds",
		}),
		buffered: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_records",
			Help:      "Number of records waiting in the backlog",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_dropped_total",
			Help:      "Total number of records dropped from a full backlog",
		}),
	}
}

// ObserveTransition implements runmode.Metrics.
func (p *Prometheus) ObserveTransition(from, to runmode.Mode, at clock.Timestamp) {
	p.transitions.WithLabelValues(label(from), label(to)).Inc()
	p.mode.Set(modeValue(to))
	p.lastTransition.Set(float64(at))
}

// ObserveMode implements runmode.Metrics.
func (p *Prometheus) ObserveMode(mode runmode.Mode) {
	p.mode.Set(modeValue(mode))
}

// ObserveTick implements runmode.Metrics. The mode gauge follows edges only.
// dropped is the running total
// reported by the backlog; only the increase since the last tick is added.
func (p *Prometheus) ObserveTick(mode runmode.Mode, buffered int, dropped uint64) {
	p.ticks.WithLabelValues(label(mode)).Inc()
	p.buffered.Set(float64(buffered))

	p.mu.Lock()
	defer p.mu.Unlock()
	if dropped > p.lastDropped {
		p.dropped.Add(float64(dropped - p.lastDropped))
		p.lastDropped = dropped
	}
}

// ObserveRejected implements runmode.Metrics.
func (p *Prometheus) ObserveRejected(mode runmode.Mode) {
	p.rejected.WithLabelValues(label(mode)).Inc()
}

// ObserveClockRegression implements runmode.Metrics.
func (p *Prometheus) ObserveClockRegression() {
	p.clockRegressions.Inc()
}

func label(m runmode.Mode) string {
	switch m {
	case runmode.ModeOnline:
		return "online"
	case runmode.ModeOffline:
		return "offline"
	default:
		return "unknown"
	}
}

func modeValue(m runmode.Mode) float64 {
	if m == runmode.ModeOnline {
		return 1
	}
	return 0
}

// Compile-time interface satisfaction check.
var _ runmode.Metrics = (*Prometheus)(nil)
