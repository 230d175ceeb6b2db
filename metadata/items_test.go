package metadata

import (
	"bytes"
	"errors"
	"testing"
)

func TestTimecodeGolden(t *testing.T) {
	t.Parallel()
	tc := Timecode{
		Hours:     10,
		Minutes:   20,
		Seconds:   30,
		Frames:    15,
		DropFrame: true,
		Rate:      RateFPS30,
	}

	buf := AppendTimecode(nil, tc)
	want := []byte{0xFD, 0x01, 0x00, 0x05, 0x00, 0x0A, 0x14, 0x1E, 0x0F, 0x11}
	if !bytes.Equal(buf, want) {
		t.Fatalf("wire bytes = % X, want % X", buf, want)
	}

	p, err := Find(buf, ItemTimecode)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	got, err := ParseTimecode(p)
	if err != nil {
		t.Fatalf("ParseTimecode: %v", err)
	}
	if got != tc {
		t.Fatalf("round trip = %+v, want %+v", got, tc)
	}
}

func TestTallyGolden(t *testing.T) {
	t.Parallel()
	buf := AppendTally(nil, true, false)
	want := []byte{0xFD, 0x06, 0x00, 0x02, 0x00, 0x01, 0x00}
	if !bytes.Equal(buf, want) {
		t.Fatalf("wire bytes = % X, want % X", buf, want)
	}

	p, err := Find(buf, ItemTally)
	if err != nil {
		t.Fatal(err)
	}
	preview, program, err := ParseTally(p)
	if err != nil {
		t.Fatal(err)
	}
	if !preview || program {
		t.Fatalf("tally = (%v, %v), want (true, false)", preview, program)
	}
}

func TestSCTE104Golden(t *testing.T) {
	t.Parallel()
	s := SCTE104{
		Operation:     0,
		SpliceEventID: 0xDEADBEEF,
		PTSOffset:     0x00010000,
		AutoReturn:    true,
	}

	buf := AppendSCTE104(nil, s)
	wantPayload := []byte{0x00, 0xEF, 0xBE, 0xAD, 0xDE, 0x00, 0x00, 0x01, 0x00, 0x01}
	if !bytes.Equal(buf[5:], wantPayload) {
		t.Fatalf("payload = % X, want % X", buf[5:], wantPayload)
	}

	p, err := Find(buf, ItemSCTE104)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseSCTE104(p)
	if err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Fatalf("round trip = %+v, want %+v", got, s)
	}
}

func TestAFDBarRoundTrip(t *testing.T) {
	t.Parallel()
	a := AFDBar{AFD: 0x0A, Aspect: 1, BarTop: 140, BarBottom: 940}

	buf := AppendAFDBar(nil, a)
	p, err := Find(buf, ItemAFDBar)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseAFDBar(p)
	if err != nil {
		t.Fatal(err)
	}
	if got != a {
		t.Fatalf("round trip = %+v, want %+v", got, a)
	}
}

func TestItemStreamRoundTripInOrder(t *testing.T) {
	t.Parallel()
	items := []Item{
		{Type: ItemTimecode, Payload: []byte{1, 2, 3, 4, 5}},
		{Type: ItemCEA708, Payload: []byte{0xAA, 0xBB}},
		{Type: 0x0100, Payload: nil}, // user-defined, empty payload
		{Type: ItemCEA608, Payload: []byte{0x14, 0x2C}},
		{Type: ItemCEA708, Payload: []byte{0xCC}}, // duplicate type later in order
	}

	var buf []byte
	for _, it := range items {
		buf = Append(buf, it.Type, it.Payload)
	}

	got, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != len(items) {
		t.Fatalf("parsed %d items, want %d", len(got), len(items))
	}
	for i := range items {
		if got[i].Type != items[i].Type || !bytes.Equal(got[i].Payload, items[i].Payload) {
			t.Errorf("item %d = %+v, want %+v", i, got[i], items[i])
		}
	}

	// Find returns the first CEA-708 item in wire order.
	p, err := Find(buf, ItemCEA708)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p, []byte{0xAA, 0xBB}) {
		t.Errorf("Find returned % X, want the first item of the type", p)
	}
}

func TestAppendContinuesExistingBuffer(t *testing.T) {
	t.Parallel()
	buf := AppendTally(nil, false, true)
	buf = Append(buf, ItemCEA608, []byte{0x01})

	if bytes.Count(buf, []byte{Magic}) != 1 || buf[0] != Magic {
		t.Fatal("buffer must start with exactly one magic byte")
	}
	items, err := Parse(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("parsed %d items, want 2", len(items))
	}
}

func TestParseTruncated(t *testing.T) {
	t.Parallel()
	buf := AppendTally(nil, true, true)

	if _, err := Parse(buf[:len(buf)-1]); !errors.Is(err, ErrTruncatedItem) {
		t.Fatalf("truncated payload err = %v, want ErrTruncatedItem", err)
	}
	if _, err := Parse(buf[:3]); !errors.Is(err, ErrTruncatedItem) {
		t.Fatalf("truncated header err = %v, want ErrTruncatedItem", err)
	}
}

func TestParseNotTyped(t *testing.T) {
	t.Parallel()
	if _, err := Parse([]byte("<xml/>")); !errors.Is(err, ErrNotTyped) {
		t.Fatalf("err = %v, want ErrNotTyped", err)
	}
	if IsTyped([]byte("<xml/>")) {
		t.Error("XML payload must not be typed")
	}
	if !IsTyped([]byte{Magic}) {
		t.Error("magic-only payload is typed")
	}
}

func TestFindMissing(t *testing.T) {
	t.Parallel()
	buf := AppendTally(nil, false, false)
	if _, err := Find(buf, ItemSCTE104); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("err = %v, want ErrItemNotFound", err)
	}
}
