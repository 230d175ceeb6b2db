package ptp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"testing"
)

func TestTimestampRoundTrip100ns(t *testing.T) {
	t.Parallel()
	cases := []int64{
		0,
		1,
		9_999_999,
		10_000_000,
		1_700_000_000 * 10_000_000, // a plausible wall-clock instant
		(1 << 48) * 10_000_000 / 2,
	}
	for _, u := range cases {
		ts := TimestampFrom100ns(u)
		if got := ts.To100ns(); got != u {
			t.Errorf("To100ns(From100ns(%d)) = %d", u, got)
		}
	}
}

func TestTimestampWireFormat(t *testing.T) {
	t.Parallel()
	ts := Timestamp{Seconds: 0x0001_0203_0405, Nanoseconds: 999_999_900}

	var buf [TimestampSize]byte
	ts.put(buf[:])
	want := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x3B, 0x9A, 0xC9, 0x9C}
	if !bytes.Equal(buf[:], want) {
		t.Fatalf("wire = % X, want % X", buf, want)
	}

	got, err := ParseTimestamp(buf[:])
	if err != nil {
		t.Fatal(err)
	}
	if got != ts {
		t.Fatalf("round trip = %+v, want %+v", got, ts)
	}
}

func TestParseHeader(t *testing.T) {
	t.Parallel()
	pkt := make([]byte, HeaderSize)
	pkt[0] = 0x12 // transportSpecific=1, type=2
	pkt[1] = 0x02 // version 2
	binary.BigEndian.PutUint16(pkt[2:4], 44)
	pkt[4] = 7                                        // domain
	binary.BigEndian.PutUint16(pkt[6:8], 0x0200)      // two-step
	binary.BigEndian.PutUint64(pkt[8:16], 1<<16*1000) // 1000 ns correction
	copy(pkt[20:28], []byte{1, 2, 3, 0xFF, 0xFE, 4, 5, 6})
	binary.BigEndian.PutUint16(pkt[28:30], 9)
	binary.BigEndian.PutUint16(pkt[30:32], 0xBEEF)

	h, err := ParseHeader(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if h.MessageType != 0x2 {
		t.Errorf("type = %#x, want 0x2 (low nibble only)", h.MessageType)
	}
	if h.Version != 2 || h.Domain != 7 || h.SequenceID != 0xBEEF {
		t.Errorf("header = %+v", h)
	}
	if !h.TwoStep() {
		t.Error("two-step flag not detected")
	}
	if got := h.CorrectionTo100ns(); got != 10 {
		t.Errorf("correction = %d (100 ns), want 10", got)
	}
	if h.SourcePortIdentity.Port != 9 {
		t.Errorf("source port = %d, want 9", h.SourcePortIdentity.Port)
	}
}

func TestParseHeaderShort(t *testing.T) {
	t.Parallel()
	if _, err := ParseHeader(make([]byte, HeaderSize-1)); !errors.Is(err, ErrShortMessage) {
		t.Fatalf("err = %v, want ErrShortMessage", err)
	}
}

func TestLocalPortIdentityEUI64(t *testing.T) {
	t.Parallel()
	iface := &net.Interface{
		HardwareAddr: net.HardwareAddr{0x00, 0x1B, 0x21, 0xAA, 0xBB, 0xCC},
	}

	pid := LocalPortIdentity(iface)
	wantClock := [8]byte{0x00, 0x1B, 0x21, 0xFF, 0xFE, 0xAA, 0xBB, 0xCC}
	if pid.ClockID != wantClock {
		t.Fatalf("clock id = % X, want % X", pid.ClockID, wantClock)
	}
	if pid.Port != 1 {
		t.Fatalf("port = %d, want 1", pid.Port)
	}
}

func TestLocalPortIdentityFallbackRandom(t *testing.T) {
	t.Parallel()
	a := LocalPortIdentity(nil)
	b := LocalPortIdentity(nil)
	if a.ClockID == b.ClockID {
		t.Fatal("fallback clock identities should be random")
	}
}

func TestBuildDelayReq(t *testing.T) {
	t.Parallel()
	pid := PortIdentity{ClockID: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, Port: 1}
	pkt := BuildDelayReq(3, 77, pid)

	if len(pkt) != delayReqSize {
		t.Fatalf("length = %d, want %d", len(pkt), delayReqSize)
	}

	h, err := ParseHeader(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if h.MessageType != MsgDelayReq {
		t.Errorf("type = %#x, want DelayReq", h.MessageType)
	}
	if h.Version != 2 || h.Domain != 3 || h.SequenceID != 77 {
		t.Errorf("header = %+v", h)
	}
	if h.SourcePortIdentity != pid {
		t.Errorf("source port identity = %+v, want %+v", h.SourcePortIdentity, pid)
	}
	if int(h.MessageLength) != delayReqSize {
		t.Errorf("declared length = %d, want %d", h.MessageLength, delayReqSize)
	}
}
