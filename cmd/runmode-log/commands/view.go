package commands

import (
	"fmt"
	"io"

	"github.com/mash-protocol/runmode-go/pkg/log"
)

// RunView prints every event matching filter.
func RunView(path string, filter log.Filter, w io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	mode := event.Mode
	if mode == "" {
		mode = "-"
	}

	fmt.Fprintf(w, "%s [boot:%s] %8dms %-7s %s\n",
		ts, shortenBootID(event.BootID), uint64(event.Monotonic), mode, event.Category)

	switch {
	case event.Transition != nil:
		tr := event.Transition
		fmt.Fprintf(w, "  %s -> %s", tr.From, tr.To)
		if tr.Forced {
			fmt.Fprint(w, " (forced)")
		}
		fmt.Fprintln(w)
		if tr.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", tr.Reason)
		}
		if tr.Dwell != nil {
			fmt.Fprintf(w, "  Held %s: %s\n", tr.From, *tr.Dwell)
		}
	case event.Dispatch != nil:
		d := event.Dispatch
		if d.Rejected {
			fmt.Fprintf(w, "  REJECTED process %s while %s\n", d.Mode, mode)
		} else {
			fmt.Fprintf(w, "  Records: %d  Buffered: %d\n", d.Records, d.Buffered)
		}
	case event.Clock != nil:
		fmt.Fprintf(w, "  Given: %dms  Clamped to: %dms\n", uint64(event.Clock.Given), uint64(event.Clock.Clamped))
	case event.Failsafe != nil:
		fmt.Fprintf(w, "  %s -> %s\n", event.Failsafe.OldState, event.Failsafe.NewState)
	case event.Error != nil:
		fmt.Fprintf(w, "  Context: %s\n", event.Error.Context)
		fmt.Fprintf(w, "  Message: %s\n", event.Error.Message)
	}

	fmt.Fprintln(w)
}

// shortenBootID returns the first 8 characters of the boot ID.
func shortenBootID(id string) string {
	if id == "" {
		return "--------"
	}
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
