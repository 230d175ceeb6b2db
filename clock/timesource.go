// Package clock provides the time sources that stamp outbound frames: a
// local monotonic source, and adapters that keep per-kind timestamps
// non-decreasing and nominally spaced even when the source steps.
package clock

import (
	"sync"
	"time"
)

// TimeSource produces timestamps in 100 ns units. Implementations are safe
// for concurrent use.
type TimeSource interface {
	// Now100ns returns the current reading in 100 ns units.
	Now100ns() int64
	// ElapsedMilliseconds returns milliseconds since construction or the
	// last Reset.
	ElapsedMilliseconds() int64
	// Synchronized reports whether the source is disciplined to an
	// external reference.
	Synchronized() bool
	// OffsetMicroseconds is the most recent measured offset from the
	// reference, zero for free-running sources.
	OffsetMicroseconds() float64
	// Reset rebases the source to the current instant.
	Reset()
}

// LocalTimeSource is a free-running monotonic source counting from its
// construction instant.
type LocalTimeSource struct {
	mu    sync.Mutex
	epoch time.Time
}

// NewLocalTimeSource creates a source whose zero is the current instant.
func NewLocalTimeSource() *LocalTimeSource {
	return &LocalTimeSource{epoch: time.Now()}
}

// Now100ns returns 100 ns ticks since the epoch.
func (l *LocalTimeSource) Now100ns() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(time.Since(l.epoch) / 100)
}

// ElapsedMilliseconds returns milliseconds since the epoch.
func (l *LocalTimeSource) ElapsedMilliseconds() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Since(l.epoch).Milliseconds()
}

// Synchronized always reports false for a free-running source.
func (l *LocalTimeSource) Synchronized() bool { return false }

// OffsetMicroseconds is always zero for a free-running source.
func (l *LocalTimeSource) OffsetMicroseconds() float64 { return 0 }

// Reset rebases the epoch to now.
func (l *LocalTimeSource) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.epoch = time.Now()
}
