package ptp

import "github.com/openmediatransport/omt/clock"

// Compile-time interface check.
var _ clock.TimeSource = (*TimeSource)(nil)

// TimeSource is a clock.TimeSource disciplined by a Follower: the local
// monotonic reading minus the follower's accumulated clock correction,
// tracking the grandmaster.
type TimeSource struct {
	local    *clock.LocalTimeSource
	follower *Follower
}

// NewTimeSource wraps a follower in a disciplined time source.
func NewTimeSource(f *Follower) *TimeSource {
	return &TimeSource{
		local:    clock.NewLocalTimeSource(),
		follower: f,
	}
}

// Now100ns returns the disciplined reading in 100 ns units.
func (t *TimeSource) Now100ns() int64 {
	return t.local.Now100ns() - t.follower.ClockCorrection()
}

// ElapsedMilliseconds returns milliseconds since construction or Reset.
func (t *TimeSource) ElapsedMilliseconds() int64 {
	return t.local.ElapsedMilliseconds()
}

// Synchronized reports whether the follower has completed an exchange.
func (t *TimeSource) Synchronized() bool {
	return t.follower.Synchronized()
}

// OffsetMicroseconds returns the follower's latest drift measurement.
func (t *TimeSource) OffsetMicroseconds() float64 {
	return t.follower.OffsetMicroseconds()
}

// Reset rebases the local reading.
func (t *TimeSource) Reset() {
	t.local.Reset()
}
