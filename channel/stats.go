package channel

import "sync"

// Stats is a point-in-time snapshot of a channel's transfer counters.
// Cumulative counters only grow; the Delta fields cover the interval since
// the previous snapshot and reset on every read.
type Stats struct {
	FramesSent     int64
	FramesReceived int64
	FramesDropped  int64
	BytesSent      int64
	BytesReceived  int64

	FramesSentDelta     int64
	FramesReceivedDelta int64
	FramesDroppedDelta  int64
	BytesSentDelta      int64
	BytesReceivedDelta  int64
}

// Add accumulates another snapshot into s, used by the sender to aggregate
// across channels.
func (s *Stats) Add(o Stats) {
	s.FramesSent += o.FramesSent
	s.FramesReceived += o.FramesReceived
	s.FramesDropped += o.FramesDropped
	s.BytesSent += o.BytesSent
	s.BytesReceived += o.BytesReceived
	s.FramesSentDelta += o.FramesSentDelta
	s.FramesReceivedDelta += o.FramesReceivedDelta
	s.FramesDroppedDelta += o.FramesDroppedDelta
	s.BytesSentDelta += o.BytesSentDelta
	s.BytesReceivedDelta += o.BytesReceivedDelta
}

// statistics accumulates channel counters behind a single lock so that
// snapshot can read the totals and reset the deltas atomically.
type statistics struct {
	mu sync.Mutex

	framesSent     int64
	framesReceived int64
	framesDropped  int64
	bytesSent      int64
	bytesReceived  int64

	framesSentDelta     int64
	framesReceivedDelta int64
	framesDroppedDelta  int64
	bytesSentDelta      int64
	bytesReceivedDelta  int64
}

func (s *statistics) addSent(bytes int) {
	s.mu.Lock()
	s.framesSent++
	s.framesSentDelta++
	s.bytesSent += int64(bytes)
	s.bytesSentDelta += int64(bytes)
	s.mu.Unlock()
}

func (s *statistics) addReceived(bytes int) {
	s.mu.Lock()
	s.framesReceived++
	s.framesReceivedDelta++
	s.bytesReceived += int64(bytes)
	s.bytesReceivedDelta += int64(bytes)
	s.mu.Unlock()
}

func (s *statistics) addDropped() {
	s.mu.Lock()
	s.framesDropped++
	s.framesDroppedDelta++
	s.mu.Unlock()
}

// snapshot returns the current counters and zeroes the deltas.
func (s *statistics) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Stats{
		FramesSent:     s.framesSent,
		FramesReceived: s.framesReceived,
		FramesDropped:  s.framesDropped,
		BytesSent:      s.bytesSent,
		BytesReceived:  s.bytesReceived,

		FramesSentDelta:     s.framesSentDelta,
		FramesReceivedDelta: s.framesReceivedDelta,
		FramesDroppedDelta:  s.framesDroppedDelta,
		BytesSentDelta:      s.bytesSentDelta,
		BytesReceivedDelta:  s.bytesReceivedDelta,
	}

	s.framesSentDelta = 0
	s.framesReceivedDelta = 0
	s.framesDroppedDelta = 0
	s.bytesSentDelta = 0
	s.bytesReceivedDelta = 0

	return out
}
