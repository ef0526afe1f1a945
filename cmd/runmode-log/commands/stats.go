package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/mash-protocol/runmode-go/pkg/clock"
	"github.com/mash-protocol/runmode-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents      int
	EventsByCategory map[log.Category]int
	Transitions      map[string]int // "FROM->TO"
	Forced           int
	TimeInMode       map[string]time.Duration // open segments count up to the boot's last event
	Rejected         int
	ClockRegressions int
	FailsafeEntries  int
	Errors           int
	Boots            map[string]*BootStats
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// BootStats holds statistics for a single boot.
type BootStats struct {
	FirstSeen   time.Time
	LastSeen    time.Time
	Events      int
	Transitions int
	LastMode    string

	// Current mode segment on the boot's monotonic clock.
	segStart clock.Timestamp
	lastMono clock.Timestamp
}

// CollectStats reads the log file and aggregates it.
func CollectStats(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByCategory: make(map[log.Category]int),
		Transitions:      make(map[string]int),
		TimeInMode:       make(map[string]time.Duration),
		Boots:            make(map[string]*BootStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
	stats.closeSegments()
	return stats, nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByCategory[event.Category]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	boot, ok := s.Boots[event.BootID]
	if !ok {
		boot = &BootStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Boots[event.BootID] = boot
	}
	boot.Events++
	if event.Timestamp.After(boot.LastSeen) {
		boot.LastSeen = event.Timestamp
	}
	if event.Mode != "" {
		s.track(boot, event)
	}

	switch {
	case event.Transition != nil:
		tr := event.Transition
		if tr.Forced {
			s.Forced++
			break
		}
		s.Transitions[tr.From+"->"+tr.To]++
		boot.Transitions++
	case event.Dispatch != nil:
		if event.Dispatch.Rejected {
			s.Rejected++
		}
	case event.Clock != nil:
		s.ClockRegressions++
	case event.Failsafe != nil:
		if event.Failsafe.NewState == "FAILSAFE" {
			s.FailsafeEntries++
		}
	case event.Error != nil:
		s.Errors++
	}
}

// track charges the time since the segment start to the boot's mode when the
// mode changes. Stamps earlier than the last seen one (clamped clock events)
// do not move the segment back.
func (s *Stats) track(boot *BootStats, event log.Event) {
	mono := event.Monotonic
	if boot.LastMode != "" && mono < boot.lastMono {
		mono = boot.lastMono
	}

	switch {
	case boot.LastMode == "":
		boot.segStart = mono
	case event.Mode != boot.LastMode:
		s.TimeInMode[boot.LastMode] += mono.Sub(boot.segStart)
		boot.segStart = mono
	}
	boot.LastMode = event.Mode
	boot.lastMono = mono
}

func (s *Stats) closeSegments() {
	for _, boot := range s.Boots {
		if boot.LastMode != "" {
			s.TimeInMode[boot.LastMode] += boot.lastMono.Sub(boot.segStart)
			boot.segStart = boot.lastMono
		}
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := CollectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Run-Mode Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range log.Categories() {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Transitions:")
	edges := make([]string, 0, len(stats.Transitions))
	for edge := range stats.Transitions {
		edges = append(edges, edge)
	}
	sort.Strings(edges)
	for _, edge := range edges {
		fmt.Fprintf(w, "  %-18s %d\n", edge+":", stats.Transitions[edge])
	}
	if stats.Forced > 0 {
		fmt.Fprintf(w, "  %-18s %d\n", "forced:", stats.Forced)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Time in Mode:")
	for _, mode := range []string{"ONLINE", "OFFLINE"} {
		fmt.Fprintf(w, "  %-12s %s\n", mode+":", stats.TimeInMode[mode])
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Boots: %d\n", len(stats.Boots))
	if len(stats.Boots) > 0 {
		type bootInfo struct {
			id    string
			stats *BootStats
		}
		boots := make([]bootInfo, 0, len(stats.Boots))
		for id, bs := range stats.Boots {
			boots = append(boots, bootInfo{id, bs})
		}
		sort.Slice(boots, func(i, j int) bool {
			return boots[i].stats.FirstSeen.Before(boots[j].stats.FirstSeen)
		})
		for _, b := range boots {
			fmt.Fprintf(w, "  [%s] %d events, %d transitions, last mode %s\n",
				shortenBootID(b.id), b.stats.Events, b.stats.Transitions, b.stats.LastMode)
		}
	}

	if stats.Rejected > 0 || stats.ClockRegressions > 0 || stats.FailsafeEntries > 0 || stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Rejected dispatches: %d\n", stats.Rejected)
		fmt.Fprintf(w, "Clock regressions:   %d\n", stats.ClockRegressions)
		fmt.Fprintf(w, "Failsafe entries:    %d\n", stats.FailsafeEntries)
		fmt.Fprintf(w, "Errors:              %d\n", stats.Errors)
	}
}
