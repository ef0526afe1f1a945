package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// ErrUnsupportedVersion is returned by Load for snapshots written by a newer format.
var ErrUnsupportedVersion = errors.New("persistence: unsupported state version")

// ControllerSnapshot is the persisted view of a run-mode controller.
type ControllerSnapshot struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the snapshot was written.
	SavedAt time.Time `json:"saved_at"`

	// BootID identifies the boot that wrote the snapshot.
	BootID string `json:"boot_id,omitempty"`

	// Mode is the controller mode ("ONLINE" or "OFFLINE").
	Mode string `json:"mode"`

	// Transitions counts accepted edges during the saving boot.
	Transitions uint64 `json:"transitions,omitempty"`

	// LastTransitionMs is the monotonic time of the last edge in the saving boot.
	LastTransitionMs uint64 `json:"last_transition_ms,omitempty"`

	// Failsafe captures the failsafe timer at save time.
	Failsafe *FailsafeSnapshot `json:"failsafe,omitempty"`

	// Buffered is the backlog length at save time.
	Buffered int `json:"buffered,omitempty"`
}

// FailsafeSnapshot captures the failsafe timer state for diagnostics.
type FailsafeSnapshot struct {
	// State is the failsafe state name (NORMAL, TIMER_RUNNING, FAILSAFE, GRACE_PERIOD).
	State string `json:"state"`

	// Duration is the configured failsafe duration.
	Duration time.Duration `json:"duration"`

	// Remaining is how much time was left when saved.
	Remaining time.Duration `json:"remaining,omitempty"`
}

// StateStore manages persistence of a ControllerSnapshot to a JSON file.
type StateStore struct {
	mu   sync.Mutex
	path string
}

// NewStateStore creates a store backed by path.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Path returns the backing file path.
func (s *StateStore) Path() string {
	return s.path
}

// Save writes the snapshot atomically, creating parent directories.
func (s *StateStore) Save(snap *ControllerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	snap.Version = StateVersion
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Load reads the snapshot.
// Returns nil, nil if the file doesn't exist.
func (s *StateStore) Load() (*ControllerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap := &ControllerSnapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("persistence: decode %s: %w", s.path, err)
	}
	if snap.Version > StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}
	return snap, nil
}

// Clear removes the state file.
func (s *StateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
