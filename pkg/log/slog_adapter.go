package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes run-mode events to an slog.Logger.
// Useful for development when you want to see the trace in the console.
type SlogAdapter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogAdapter creates an adapter that logs at Debug level.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger, level: slog.LevelDebug}
}

// WithLevel returns a copy that logs at level.
func (a *SlogAdapter) WithLevel(level slog.Level) *SlogAdapter {
	return &SlogAdapter{logger: a.logger, level: level}
}

// Log writes the event to the slog logger.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("category", event.Category.String()),
		slog.Uint64("at_ms", uint64(event.Monotonic)),
	}
	if event.Mode != "" {
		attrs = append(attrs, slog.String("mode", event.Mode))
	}
	if event.BootID != "" {
		attrs = append(attrs, slog.String("boot_id", event.BootID))
	}

	switch {
	case event.Transition != nil:
		attrs = append(attrs,
			slog.String("from", event.Transition.From),
			slog.String("to", event.Transition.To),
		)
		if event.Transition.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.Transition.Reason))
		}
		if event.Transition.Forced {
			attrs = append(attrs, slog.Bool("forced", true))
		}
		if event.Transition.Dwell != nil {
			attrs = append(attrs, slog.Duration("dwell", *event.Transition.Dwell))
		}
	case event.Dispatch != nil:
		attrs = append(attrs,
			slog.String("target", event.Dispatch.Mode),
			slog.Bool("rejected", event.Dispatch.Rejected),
			slog.Int("records", event.Dispatch.Records),
			slog.Int("buffered", event.Dispatch.Buffered),
		)
	case event.Clock != nil:
		attrs = append(attrs,
			slog.Uint64("given_ms", uint64(event.Clock.Given)),
			slog.Uint64("clamped_ms", uint64(event.Clock.Clamped)),
		)
	case event.Failsafe != nil:
		attrs = append(attrs,
			slog.String("old_state", event.Failsafe.OldState),
			slog.String("new_state", event.Failsafe.NewState),
		)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_context", event.Error.Context),
			slog.String("error_msg", event.Error.Message),
		)
	}

	a.logger.LogAttrs(context.Background(), a.level, "runmode", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
