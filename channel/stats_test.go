package channel

import "testing"

func TestStatsDeltaResetOnRead(t *testing.T) {
	t.Parallel()
	var s statistics

	s.addSent(100)
	s.addSent(50)
	s.addReceived(30)
	s.addDropped()

	first := s.snapshot()
	if first.FramesSent != 2 || first.BytesSent != 150 {
		t.Fatalf("cumulative sent = %d frames / %d bytes, want 2 / 150", first.FramesSent, first.BytesSent)
	}
	if first.FramesSentDelta != 2 || first.BytesSentDelta != 150 {
		t.Fatalf("sent delta = %d / %d, want 2 / 150", first.FramesSentDelta, first.BytesSentDelta)
	}
	if first.FramesReceivedDelta != 1 || first.FramesDroppedDelta != 1 {
		t.Fatalf("deltas = %+v", first)
	}

	second := s.snapshot()
	if second.FramesSentDelta != 0 || second.BytesSentDelta != 0 ||
		second.FramesReceivedDelta != 0 || second.FramesDroppedDelta != 0 {
		t.Fatalf("deltas after read = %+v, want all zero", second)
	}
	if second.FramesSent != first.FramesSent || second.BytesSent != first.BytesSent {
		t.Fatal("cumulative counters must survive the reset")
	}
}

func TestStatsCumulativeOnlyGrows(t *testing.T) {
	t.Parallel()
	var s statistics

	var prev Stats
	for i := 0; i < 5; i++ {
		s.addSent(10)
		s.addReceived(20)
		cur := s.snapshot()
		if cur.FramesSent < prev.FramesSent || cur.BytesSent < prev.BytesSent ||
			cur.FramesReceived < prev.FramesReceived || cur.BytesReceived < prev.BytesReceived {
			t.Fatalf("counters regressed: %+v after %+v", cur, prev)
		}
		prev = cur
	}
}

func TestStatsAdd(t *testing.T) {
	t.Parallel()
	a := Stats{FramesSent: 1, BytesSent: 10, FramesDropped: 2}
	b := Stats{FramesSent: 3, BytesSent: 30, FramesReceived: 4, BytesReceived: 40}

	a.Add(b)
	if a.FramesSent != 4 || a.BytesSent != 40 || a.FramesDropped != 2 ||
		a.FramesReceived != 4 || a.BytesReceived != 40 {
		t.Fatalf("aggregate = %+v", a)
	}
}
