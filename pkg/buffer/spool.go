package buffer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/mash-protocol/runmode-go/pkg/clock"
)

// ErrSpoolPath is returned when a Spool is created without a file path.
var ErrSpoolPath = errors.New("spool path required")

// Spool is a Ring whose contents can be saved to and restored from a file.
// The file is a sequence of CBOR-encoded Records.
type Spool struct {
	*Ring
	path string
}

// NewSpool creates a spool backed by path with the given ring capacity.
func NewSpool(path string, capacity int) (*Spool, error) {
	if path == "" {
		return nil, ErrSpoolPath
	}
	return &Spool{Ring: NewRing(capacity), path: path}, nil
}

// Path returns the spool file path.
func (s *Spool) Path() string {
	return s.path
}

// Save writes the current backlog to the spool file, replacing it.
// The buffered records are kept in memory.
func (s *Spool) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	enc := cbor.NewEncoder(f)
	for _, r := range s.Snapshot() {
		if err := enc.Encode(r); err != nil {
			f.Close()
			return fmt.Errorf("encode record %d: %w", r.Seq, err)
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load appends the records stored in the spool file to the ring and removes
// the file, so a crash before the next Save cannot replay them. Stamps from
// the previous boot's clock are replaced with now. A missing file is not an
// error. Returns the number of records loaded.
func (s *Spool) Load(now clock.Timestamp) (int, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var records []Record
	dec := cbor.NewDecoder(f)
	for {
		var r Record
		if err := dec.Decode(&r); err != nil {
			if err == io.EOF {
				break
			}
			f.Close()
			return 0, fmt.Errorf("decode spool record: %w", err)
		}
		r.At = now
		records = append(records, r)
	}
	f.Close()

	for _, r := range records {
		s.Push(r)
	}
	if err := s.Clear(); err != nil {
		return len(records), fmt.Errorf("clear spool: %w", err)
	}
	return len(records), nil
}

// Clear removes the spool file. The in-memory backlog is untouched.
func (s *Spool) Clear() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

var _ Buffer = (*Spool)(nil)
