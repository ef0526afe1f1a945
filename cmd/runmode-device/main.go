// Command runmode-device is a reference device built around the run-mode
// controller.
//
// The device talks to a simulated counterpart whose link goes down and up
// every flap period, so both modes and both edges are exercised:
//   - ONLINE ticks deliver measurements and resync the offline backlog
//   - OFFLINE ticks buffer measurements, run local control and probe
//     for reconnection with exponential backoff
//   - the failsafe timer is armed while OFFLINE
//
// Usage:
//
//	runmode-device [flags]
//
// Flags:
//
//	--config string         Configuration file path
//	--initial-mode string   Initial mode: online, offline (required without config)
//	--tick duration         Tick interval (default from config, 100ms)
//	--log-level string      Log level: debug, info, warn, error
//	--interactive           Run the interactive shell instead of the tick loop
//	--metrics-addr string   Prometheus listen address, e.g. :9100
//	--flap-period duration  Simulated link flap period, 0 keeps the link up (default 10s)
//
// Examples:
//
//	# Start offline with a fast flapping link
//	runmode-device --initial-mode offline --flap-period 3s --log-level debug
//
//	# Start from a configuration file and expose metrics
//	runmode-device --config /etc/runmode/device.yaml --metrics-addr :9100
//
//	# Drive the controller by hand
//	runmode-device --initial-mode online --interactive
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/mash-protocol/runmode-go/cmd/runmode-device/interactive"
	"github.com/mash-protocol/runmode-go/pkg/buffer"
	"github.com/mash-protocol/runmode-go/pkg/clock"
	"github.com/mash-protocol/runmode-go/pkg/config"
	"github.com/mash-protocol/runmode-go/pkg/connection"
	"github.com/mash-protocol/runmode-go/pkg/failsafe"
	"github.com/mash-protocol/runmode-go/pkg/log"
	"github.com/mash-protocol/runmode-go/pkg/loop"
	"github.com/mash-protocol/runmode-go/pkg/metrics"
	"github.com/mash-protocol/runmode-go/pkg/persistence"
	"github.com/mash-protocol/runmode-go/pkg/runmode"
)

// Flags holds the command-line settings. Set flags override the file.
type Flags struct {
	ConfigFile  string
	InitialMode string
	Tick        time.Duration
	LogLevel    string
	Interactive bool
	MetricsAddr string
	FlapPeriod  time.Duration
}

var flags Flags

func init() {
	pflag.StringVarP(&flags.ConfigFile, "config", "c", "", "Configuration file path")
	pflag.StringVar(&flags.InitialMode, "initial-mode", "", "Initial mode: online, offline (required without config)")
	pflag.DurationVar(&flags.Tick, "tick", 0, "Tick interval (overrides config)")
	pflag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	pflag.BoolVarP(&flags.Interactive, "interactive", "i", false, "Run the interactive shell instead of the tick loop")
	pflag.StringVar(&flags.MetricsAddr, "metrics-addr", "", "Prometheus listen address, e.g. :9100 (overrides config)")
	pflag.DurationVar(&flags.FlapPeriod, "flap-period", 10*time.Second, "Simulated link flap period, 0 keeps the link up")
}

func main() {
	pflag.Parse()

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, flags); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the optional file and overlays the set flags.
func loadConfig(f Flags) (*config.Config, error) {
	cfg := &config.Config{}
	if f.ConfigFile != "" {
		var err error
		if cfg, err = config.ReadFile(f.ConfigFile); err != nil {
			return nil, err
		}
	}

	if f.InitialMode != "" {
		m, err := runmode.ParseMode(f.InitialMode)
		if err != nil {
			return nil, &config.FieldError{Key: "initial_mode", Message: err.Error()}
		}
		cfg.InitialMode = m
	}
	if f.Tick != 0 {
		cfg.TickInterval = f.Tick
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.MetricsAddr != "" {
		cfg.Metrics.Addr = f.MetricsAddr
	}

	if err := cfg.Finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// device holds everything assembled during boot.
type device struct {
	bootID   string
	logger   *slog.Logger
	ctrl     *runmode.Controller
	loop     *loop.Loop
	sim      *simCounterpart
	timer    *failsafe.Timer
	spool    *buffer.Spool
	store    *persistence.StateStore
	trace    *log.FileLogger
	registry *prometheus.Registry
}

func run(cfg *config.Config, f Flags) error {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	out := &switchWriter{w: os.Stderr}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	d, err := boot(cfg, f, logger)
	if err != nil {
		return err
	}
	defer d.shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Addr != "" {
		srv := d.serveMetrics(cfg.Metrics.Addr)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if f.Interactive {
		shell, err := interactive.New(d.ctrl, d.loop, d.sim)
		if err != nil {
			return err
		}
		out.Set(shell.Stdout())
		shell.Run(ctx, cancel)
		out.Set(os.Stderr)
		return nil
	}

	logger.Info("tick loop running", "interval", d.loop.Interval())
	if err := d.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// boot assembles the device: event trace, controller, restored mode,
// backlog spool and tick loop.
func boot(cfg *config.Config, f Flags, logger *slog.Logger) (*device, error) {
	d := &device{
		bootID:   uuid.NewString(),
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	logger = logger.With("boot_id", d.bootID)
	d.logger = logger

	logger.Info("Run-Mode Reference Device", "initial_mode", cfg.InitialMode.String())

	var trace log.Logger = log.NewSlogAdapter(logger)
	if cfg.EventLog != "" {
		fl, err := log.NewFileLogger(cfg.EventLog)
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		d.trace = fl
		trace = log.NewMultiLogger(fl, trace)
		logger.Info("event trace enabled", "path", cfg.EventLog)
	}

	timer, err := failsafe.NewTimerWithConfig(cfg.FailsafeConfig())
	if err != nil {
		return nil, &config.FieldError{Key: "failsafe", Message: err.Error()}
	}
	timer.OnFailsafeEnter(func(limits failsafe.Limits) {
		logger.Warn("FAILSAFE entered", "consumption_limit", limits.ConsumptionLimit, "production_limit", limits.ProductionLimit)
	})
	timer.OnFailsafeExit(func() {
		logger.Info("failsafe cleared")
	})
	d.timer = timer

	clk := clock.NewMonotonic()

	var backlog buffer.Buffer = buffer.NewRing(cfg.Buffer.Capacity)
	if cfg.Buffer.SpoolPath != "" {
		spool, err := buffer.NewSpool(cfg.Buffer.SpoolPath, cfg.Buffer.Capacity)
		if err != nil {
			return nil, err
		}
		n, err := spool.Load(clk.Now())
		if err != nil {
			logger.Warn("failed to load spool", "path", spool.Path(), "error", err)
		} else if n > 0 {
			logger.Info("restored backlog", "records", n)
		}
		d.spool = spool
		backlog = spool
	}

	d.sim = newSimCounterpart(clk, f.FlapPeriod, logger)
	if f.Interactive {
		// Link changes come from the shell.
		d.sim.period = 0
	}

	ccfg := cfg.ControllerConfig()
	ccfg.Clock = clk
	ccfg.Counterpart = d.sim
	ccfg.Source = &sampleSource{}
	ccfg.Local = newLocalControl(timer, logger)
	ccfg.Buffer = backlog
	ccfg.Failsafe = timer
	ccfg.Logger = logger
	ccfg.EventLogger = trace
	ccfg.Metrics = metrics.New(d.registry)
	ccfg.BootID = d.bootID
	ccfg.OnEnterOnline = func(now clock.Timestamp) {
		logger.Info("[EVENT] counterpart reachable", "at", now.String())
	}
	ccfg.OnEnterOffline = func(now clock.Timestamp) {
		logger.Info("[EVENT] counterpart lost", "at", now.String())
	}

	ctrl, err := runmode.NewController(cfg.InitialMode, ccfg)
	if err != nil {
		return nil, err
	}
	d.ctrl = ctrl

	if cfg.StateFile != "" {
		d.store = persistence.NewStateStore(cfg.StateFile)
		d.restore()
	}

	mcfg := cfg.MonitorConfig()
	mcfg.Logger = logger
	d.loop = loop.New(ctrl, loop.Config{
		Interval: cfg.TickInterval,
		Link:     d.sim,
		Monitor:  connection.NewMonitor(ctrl, mcfg),
		Logger:   logger,
	})

	return d, nil
}

// restore installs the mode saved by the previous boot.
func (d *device) restore() {
	snap, err := d.store.Load()
	if err != nil {
		d.logger.Warn("failed to load state file", "path", d.store.Path(), "error", err)
		return
	}
	if snap == nil {
		return
	}
	m, err := runmode.ParseMode(snap.Mode)
	if err != nil {
		d.logger.Warn("ignoring saved mode", "mode", snap.Mode, "error", err)
		return
	}
	d.ctrl.SetMode(m)
	d.logger.Info("restored mode", "mode", m.String(), "saved_by", snap.BootID, "saved_at", snap.SavedAt)
}

func (d *device) serveMetrics(addr string) *http.Server {
	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("metrics server failed", "error", err)
		}
	}()
	d.logger.Info("metrics server listening", "addr", addr)
	return srv
}

// shutdown persists the snapshot and the backlog and closes the trace.
func (d *device) shutdown() {
	d.logger.Info("shutting down", "ticks", d.loop.Ticks(), "delivered", d.sim.Delivered())

	if d.store != nil {
		if err := d.store.Save(d.snapshot()); err != nil {
			d.logger.Error("failed to save state", "error", err)
		}
	}
	if d.spool != nil {
		if err := d.spool.Save(); err != nil {
			d.logger.Error("failed to save spool", "error", err)
		}
	}
	if d.trace != nil {
		if err := d.trace.Close(); err != nil {
			d.logger.Error("failed to close event log", "error", err)
		}
	}
}

func (d *device) snapshot() *persistence.ControllerSnapshot {
	snap := d.ctrl.Snapshot()
	return &persistence.ControllerSnapshot{
		BootID:           d.bootID,
		Mode:             snap.Mode.String(),
		Transitions:      snap.Transitions,
		LastTransitionMs: uint64(snap.LastTransition),
		Failsafe: &persistence.FailsafeSnapshot{
			State:     snap.Failsafe.String(),
			Duration:  d.timer.Duration(),
			Remaining: snap.FailsafeRemaining,
		},
		Buffered: snap.Buffered,
	}
}

// switchWriter lets the interactive shell take over log output after the
// logger has been handed out.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Set replaces the destination.
func (s *switchWriter) Set(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}
