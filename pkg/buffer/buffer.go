package buffer

import (
	"sync"

	"github.com/mash-protocol/runmode-go/pkg/clock"
)

// DefaultCapacity is the default number of records a Ring holds.
const DefaultCapacity = 1024

// Record is one unit of work produced by the device.
// CBOR encoding uses integer keys for compactness.
type Record struct {
	// Seq is assigned by the producer and increases per record.
	Seq uint64 `cbor:"1,keyasint"`

	// At is the monotonic time the record was produced.
	At clock.Timestamp `cbor:"2,keyasint"`

	// Kind classifies the record (e.g. "measurement", "alarm").
	Kind string `cbor:"3,keyasint,omitempty"`

	// Payload is the opaque record body.
	Payload []byte `cbor:"4,keyasint,omitempty"`
}

// Buffer stores records until they can be delivered.
// Implementations must be safe for concurrent use.
type Buffer interface {
	// Push appends a record. Returns false if an older record was dropped
	// to make room.
	Push(r Record) bool

	// Drain removes and returns up to max records in FIFO order.
	// max <= 0 drains everything.
	Drain(max int) []Record

	// Requeue puts records back at the front, preserving their order.
	// Records that do not fit are dropped from the tail of rs.
	Requeue(rs []Record)

	// Len returns the number of buffered records.
	Len() int

	// Dropped returns the number of records discarded since creation.
	Dropped() uint64
}

// Ring is a bounded FIFO that drops the oldest record on overflow.
type Ring struct {
	mu      sync.Mutex
	data    []Record
	cap     int
	dropped uint64
}

// NewRing creates a ring holding at most capacity records.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		data: make([]Record, 0, capacity),
		cap:  capacity,
	}
}

// Push appends r, dropping the oldest record if the ring is full.
func (q *Ring) Push(r Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	ok := true
	if len(q.data) >= q.cap {
		q.data = append(q.data[:0], q.data[1:]...)
		q.dropped++
		ok = false
	}
	q.data = append(q.data, r)
	return ok
}

// Drain removes and returns up to max records.
func (q *Ring) Drain(max int) []Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]Record, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

// Requeue puts rs back at the front of the ring.
func (q *Ring) Requeue(rs []Record) {
	if len(rs) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	room := q.cap - len(q.data)
	if room <= 0 {
		q.dropped += uint64(len(rs))
		return
	}
	if len(rs) > room {
		q.dropped += uint64(len(rs) - room)
		rs = rs[:room]
	}

	merged := make([]Record, 0, q.cap)
	merged = append(merged, rs...)
	merged = append(merged, q.data...)
	q.data = merged
}

// Len returns the number of buffered records.
func (q *Ring) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

// Cap returns the ring capacity.
func (q *Ring) Cap() int {
	return q.cap
}

// Dropped returns the number of records discarded since creation.
func (q *Ring) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Snapshot returns a copy of the buffered records without removing them.
func (q *Ring) Snapshot() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Record, len(q.data))
	copy(out, q.data)
	return out
}

var _ Buffer = (*Ring)(nil)
