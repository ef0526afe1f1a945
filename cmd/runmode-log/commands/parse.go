// Package commands implements the runmode-log CLI commands.
package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/mash-protocol/runmode-go/pkg/log"
)

// ParseCategoryFlag parses a category name as accepted on the command line.
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "transition":
		return log.CategoryTransition, nil
	case "dispatch":
		return log.CategoryDispatch, nil
	case "clock":
		return log.CategoryClock, nil
	case "failsafe":
		return log.CategoryFailsafe, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (valid: transition, dispatch, clock, failsafe, error)", s)
	}
}

// ParseModeFlag normalizes a mode name to the form stored in events.
func ParseModeFlag(s string) (string, error) {
	switch strings.ToLower(s) {
	case "online":
		return "ONLINE", nil
	case "offline":
		return "OFFLINE", nil
	default:
		return "", fmt.Errorf("invalid mode: %s (valid: online, offline)", s)
	}
}

// FilterOptions are the filter flags shared by view, export and filter.
type FilterOptions struct {
	Category  string
	Mode      string
	BootID    string
	TimeStart string
	TimeEnd   string
}

// Build converts the options to a log.Filter.
func (o FilterOptions) Build() (log.Filter, error) {
	f := log.Filter{BootID: o.BootID}

	if o.Category != "" {
		c, err := ParseCategoryFlag(o.Category)
		if err != nil {
			return f, err
		}
		f.Category = &c
	}
	if o.Mode != "" {
		m, err := ParseModeFlag(o.Mode)
		if err != nil {
			return f, err
		}
		f.Mode = m
	}
	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return f, fmt.Errorf("invalid time-start format: %w", err)
		}
		f.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return f, fmt.Errorf("invalid time-end format: %w", err)
		}
		f.TimeEnd = &t
	}
	return f, nil
}
