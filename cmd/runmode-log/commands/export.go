package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/mash-protocol/runmode-go/pkg/log"
)

// RunExport writes the events matching filter to w as jsonl or csv.
func RunExport(path, format string, filter log.Filter, w io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	switch format {
	case "jsonl":
		return exportJSONL(reader, w)
	case "csv":
		return exportCSV(reader, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "boot_id", "monotonic_ms", "category", "mode", "detail"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		row := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.BootID,
			strconv.FormatUint(uint64(event.Monotonic), 10),
			event.Category.String(),
			event.Mode,
			detail(event),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
}

// detail returns a one-line summary of the event payload.
func detail(event log.Event) string {
	switch {
	case event.Transition != nil:
		s := event.Transition.From + "->" + event.Transition.To
		if event.Transition.Reason != "" {
			s += " " + event.Transition.Reason
		}
		return s
	case event.Dispatch != nil:
		if event.Dispatch.Rejected {
			return "rejected " + event.Dispatch.Mode
		}
		return fmt.Sprintf("records=%d buffered=%d", event.Dispatch.Records, event.Dispatch.Buffered)
	case event.Clock != nil:
		return fmt.Sprintf("given=%d clamped=%d", uint64(event.Clock.Given), uint64(event.Clock.Clamped))
	case event.Failsafe != nil:
		return event.Failsafe.OldState + "->" + event.Failsafe.NewState
	case event.Error != nil:
		return event.Error.Context + ": " + event.Error.Message
	default:
		return ""
	}
}
