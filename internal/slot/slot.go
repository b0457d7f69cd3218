// Package slot provides a single-value, last-write-wins mailbox for passing
// the newest value between goroutines without queueing.
package slot

import (
	"sync"
	"time"
)

// Snapshot is one published value together with its publication metadata.
type Snapshot[T any] struct {
	Value     T
	Seq       uint64    // 1 for the first update, +1 per update
	UpdatedAt time.Time // wall-clock time of the update
}

// Age returns how long ago the snapshot was published.
func (s Snapshot[T]) Age() time.Duration {
	return time.Since(s.UpdatedAt)
}

// Reader is the read-only side of a Slot handed to consumers.
type Reader[T any] interface {
	// Get returns the latest snapshot, or false if nothing was published yet.
	Get() (Snapshot[T], bool)
}

// Slot holds at most one value. Update replaces it; Get copies it out.
// The zero value is an empty slot ready for use.
// The lock is held only for the copy in or out, never while the caller
// processes the value.
//
// Values are shared by reference after publication: a published value must
// be treated as immutable by both the producer and every reader.
type Slot[T any] struct {
	mu   sync.Mutex
	snap Snapshot[T]
	set  bool
	now  func() time.Time
}

// New creates an empty Slot.
func New[T any]() *Slot[T] {
	return &Slot[T]{now: time.Now}
}

// Update atomically replaces the held value and returns its sequence number.
func (s *Slot[T]) Update(v T) uint64 {
	now := s.now
	if now == nil {
		now = time.Now
	}
	at := now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = Snapshot[T]{
		Value:     v,
		Seq:       s.snap.Seq + 1,
		UpdatedAt: at,
	}
	s.set = true

	return s.snap.Seq
}

// Get atomically returns the current snapshot. It never blocks waiting for
// data: an empty slot returns the zero Snapshot and false.
func (s *Slot[T]) Get() (Snapshot[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snap, s.set
}

// Seq returns the sequence number of the latest update (0 if none).
func (s *Slot[T]) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snap.Seq
}
