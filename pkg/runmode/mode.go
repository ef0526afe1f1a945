package runmode

import (
	"errors"
	"fmt"
	"strings"
)

// Mode is the device run mode. The zero value is not a valid mode.
type Mode uint8

const (
	// ModeOnline means the device is connected to its counterpart.
	ModeOnline Mode = iota + 1

	// ModeOffline means the device runs isolated on local logic.
	ModeOffline
)

// Controller errors.
var (
	// ErrInvalidMode is returned for values outside ModeOnline and ModeOffline.
	ErrInvalidMode = errors.New("invalid run mode")

	// ErrCollaboratorPanic wraps a panic raised by a Counterpart call.
	ErrCollaboratorPanic = errors.New("collaborator panicked")
)

// Valid reports whether m is one of the two run modes.
func (m Mode) Valid() bool {
	return m == ModeOnline || m == ModeOffline
}

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeOnline:
		return "ONLINE"
	case ModeOffline:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// ParseMode parses a mode name, ignoring case and surrounding space.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online":
		return ModeOnline, nil
	case "offline":
		return ModeOffline, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(m))
	}
	return []byte(strings.ToLower(m.String())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// fsm state names.
const (
	stateOnline  = "online"
	stateOffline = "offline"
)

// fsm event names.
const (
	eventGoOnline  = "go_online"
	eventGoOffline = "go_offline"
)

func (m Mode) fsmState() string {
	if m == ModeOnline {
		return stateOnline
	}
	return stateOffline
}

func (m Mode) fsmEvent() string {
	if m == ModeOnline {
		return eventGoOnline
	}
	return eventGoOffline
}
