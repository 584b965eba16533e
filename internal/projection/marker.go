package projection

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Marker orders the results of ledger reads. Height is the block count read
// before the data; Stamp breaks ties between reads at the same height.
type Marker struct {
	Height uint32 `json:"height"`
	Stamp  int64  `json:"stamp"`
}

// Less reports whether m was taken before o.
func (m Marker) Less(o Marker) bool {
	if m.Height != o.Height {
		return m.Height < o.Height
	}
	return m.Stamp < o.Stamp
}

// IsZero reports whether m is the zero marker.
func (m Marker) IsZero() bool {
	return m.Height == 0 && m.Stamp == 0
}

func (m Marker) String() string {
	return fmt.Sprintf("%d/%d", m.Height, m.Stamp)
}

// Stamper issues strictly increasing stamps based on wall-clock nanoseconds.
// Seeding it with persisted stamps keeps new markers ahead of them.
type Stamper struct {
	last atomic.Int64
	now  func() time.Time
}

// NewStamper creates a stamper.
func NewStamper() *Stamper {
	return &Stamper{now: time.Now}
}

// Next returns a stamp greater than every stamp issued or observed before.
func (s *Stamper) Next() int64 {
	for {
		last := s.last.Load()
		next := s.now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if s.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Observe raises the floor to at least stamp.
func (s *Stamper) Observe(stamp int64) {
	for {
		last := s.last.Load()
		if stamp <= last || s.last.CompareAndSwap(last, stamp) {
			return
		}
	}
}

// Mark builds a marker for height with a fresh stamp.
func (s *Stamper) Mark(height uint32) Marker {
	return Marker{Height: height, Stamp: s.Next()}
}
