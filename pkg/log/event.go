package log

import (
	"time"

	"github.com/mash-protocol/runmode-go/pkg/clock"
)

// Event represents one entry of the run-mode event trace.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp is the wall-clock time the event was recorded.
	Timestamp time.Time `cbor:"1,keyasint"`

	// BootID identifies the boot (UUID) that produced the event.
	BootID string `cbor:"2,keyasint,omitempty"`

	// Monotonic is the controller clock reading for the event.
	Monotonic clock.Timestamp `cbor:"3,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"4,keyasint"`

	// Mode is the controller mode after the event ("ONLINE"/"OFFLINE").
	Mode string `cbor:"5,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Transition *TransitionEvent `cbor:"10,keyasint,omitempty"`
	Dispatch   *DispatchEvent   `cbor:"11,keyasint,omitempty"`
	Clock      *ClockEvent      `cbor:"12,keyasint,omitempty"`
	Failsafe   *FailsafeEvent   `cbor:"13,keyasint,omitempty"`
	Error      *ErrorEventData  `cbor:"14,keyasint,omitempty"`
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryTransition indicates a mode change.
	CategoryTransition Category = 0
	// CategoryDispatch indicates a tick dispatch.
	CategoryDispatch Category = 1
	// CategoryClock indicates a clock anomaly.
	CategoryClock Category = 2
	// CategoryFailsafe indicates a failsafe timer state change.
	CategoryFailsafe Category = 3
	// CategoryError indicates a processing error.
	CategoryError Category = 4
)

// Categories lists all categories in display order.
func Categories() []Category {
	return []Category{
		CategoryTransition,
		CategoryDispatch,
		CategoryClock,
		CategoryFailsafe,
		CategoryError,
	}
}

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransition:
		return "TRANSITION"
	case CategoryDispatch:
		return "DISPATCH"
	case CategoryClock:
		return "CLOCK"
	case CategoryFailsafe:
		return "FAILSAFE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// TransitionEvent captures a mode change.
type TransitionEvent struct {
	// From is the previous mode.
	From string `cbor:"1,keyasint"`

	// To is the new mode.
	To string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`

	// Forced is set for unconditional overrides that skipped entry actions.
	Forced bool `cbor:"4,keyasint,omitempty"`

	// Dwell is how long the previous mode was held, if known.
	Dwell *time.Duration `cbor:"5,keyasint,omitempty"`
}

// DispatchEvent captures the outcome of one processing call.
type DispatchEvent struct {
	// Mode the process function belongs to.
	Mode string `cbor:"1,keyasint"`

	// Rejected is set when the call did not match the current mode.
	Rejected bool `cbor:"2,keyasint,omitempty"`

	// Records is the number of records handled during the call.
	Records int `cbor:"3,keyasint,omitempty"`

	// Buffered is the backlog length after the call.
	Buffered int `cbor:"4,keyasint,omitempty"`
}

// ClockEvent captures a regressing time source.
type ClockEvent struct {
	// Given is the timestamp passed by the caller.
	Given clock.Timestamp `cbor:"1,keyasint"`

	// Clamped is the timestamp that was used instead.
	Clamped clock.Timestamp `cbor:"2,keyasint"`
}

// FailsafeEvent captures a failsafe timer state change.
type FailsafeEvent struct {
	OldState string `cbor:"1,keyasint"`
	NewState string `cbor:"2,keyasint"`
}

// ErrorEventData captures errors raised by collaborators.
type ErrorEventData struct {
	// Context describes what operation was being performed.
	Context string `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`
}
