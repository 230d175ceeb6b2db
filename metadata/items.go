// Package metadata implements the typed binary item stream carried inside
// Metadata-frame payloads, and the control document vocabulary that drives
// subscriptions, tally, and quality hints.
//
// A typed payload begins with the 0xFD magic byte, distinguishing it from
// UTF-8 XML metadata (which always starts with '<'). Each item is
// [u16 type][u16 length][payload], little-endian.
package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the first byte of every typed-metadata payload.
const Magic byte = 0xFD

// ItemType identifies a typed-metadata item.
type ItemType uint16

// Reserved item types. 0x0007–0x00FF are reserved, 0x0100–0x7FFF are
// user-defined, 0x8000–0xFFFE are vendor-defined.
const (
	ItemTimecode  ItemType = 0x0001
	ItemCEA608    ItemType = 0x0002
	ItemCEA708    ItemType = 0x0003
	ItemSCTE104   ItemType = 0x0004
	ItemAFDBar    ItemType = 0x0005
	ItemTally     ItemType = 0x0006
	ItemCustomXML ItemType = 0xFFFF
)

const itemHeaderSize = 4

var (
	// ErrNotTyped indicates a payload that does not begin with the magic byte.
	ErrNotTyped = errors.New("metadata: payload is not a typed item stream")
	// ErrTruncatedItem indicates an item whose declared length overruns the payload.
	ErrTruncatedItem = errors.New("metadata: truncated item")
	// ErrItemNotFound is returned by Find when no item of the type exists.
	ErrItemNotFound = errors.New("metadata: item not found")
	// ErrBadItemLength indicates a typed item whose payload has the wrong size.
	ErrBadItemLength = errors.New("metadata: bad item length")
)

// Item is a single typed-metadata entry. Payload aliases the enclosing
// buffer; callers that retain it past the frame's lifetime must copy.
type Item struct {
	Type    ItemType
	Payload []byte
}

// IsTyped reports whether a Metadata payload is a typed item stream rather
// than an XML document.
func IsTyped(payload []byte) bool {
	return len(payload) > 0 && payload[0] == Magic
}

// Append appends one item to buf. An empty buf is started with the magic
// byte; a non-empty buf is assumed to already begin with one, so the item
// is appended directly.
func Append(buf []byte, t ItemType, payload []byte) []byte {
	if len(buf) == 0 {
		buf = append(buf, Magic)
	}
	var hdr [itemHeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(t))
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(payload)))
	buf = append(buf, hdr[:]...)
	return append(buf, payload...)
}

// Parse decodes every item in a typed payload, in wire order. The stream is
// well-formed iff each item's header plus declared payload fits within the
// remaining bytes.
func Parse(payload []byte) ([]Item, error) {
	if !IsTyped(payload) {
		return nil, ErrNotTyped
	}

	var items []Item
	rest := payload[1:]
	for len(rest) > 0 {
		if len(rest) < itemHeaderSize {
			return nil, ErrTruncatedItem
		}
		t := ItemType(binary.LittleEndian.Uint16(rest[0:2]))
		n := int(binary.LittleEndian.Uint16(rest[2:4]))
		if len(rest) < itemHeaderSize+n {
			return nil, ErrTruncatedItem
		}
		items = append(items, Item{Type: t, Payload: rest[itemHeaderSize : itemHeaderSize+n]})
		rest = rest[itemHeaderSize+n:]
	}
	return items, nil
}

// Find returns the payload of the first item of the requested type, in wire
// order.
func Find(payload []byte, t ItemType) ([]byte, error) {
	items, err := Parse(payload)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.Type == t {
			return it.Payload, nil
		}
	}
	return nil, ErrItemNotFound
}

// TimecodeRate indexes the nominal frame rate carried in timecode flag
// bits 3–4.
type TimecodeRate uint8

const (
	RateFPS24 TimecodeRate = 0
	RateFPS25 TimecodeRate = 1
	RateFPS30 TimecodeRate = 2
	RateFPS60 TimecodeRate = 3
)

// Timecode is an SMPTE timecode item (type 0x0001). On the wire it is five
// bytes: HH, MM, SS, FF, then a flag byte with drop-frame in bit 0,
// color-frame in bit 1, field-mark in bit 2, and the rate index in bits 3–4.
type Timecode struct {
	Hours      uint8
	Minutes    uint8
	Seconds    uint8
	Frames     uint8
	DropFrame  bool
	ColorFrame bool
	FieldMark  bool
	Rate       TimecodeRate
}

const timecodeSize = 5

// AppendTimecode appends a timecode item to a typed buffer.
func AppendTimecode(buf []byte, tc Timecode) []byte {
	var p [timecodeSize]byte
	p[0] = tc.Hours
	p[1] = tc.Minutes
	p[2] = tc.Seconds
	p[3] = tc.Frames
	var flags uint8
	if tc.DropFrame {
		flags |= 1 << 0
	}
	if tc.ColorFrame {
		flags |= 1 << 1
	}
	if tc.FieldMark {
		flags |= 1 << 2
	}
	flags |= uint8(tc.Rate&0x3) << 3
	p[4] = flags
	return Append(buf, ItemTimecode, p[:])
}

// ParseTimecode decodes a timecode item payload.
func ParseTimecode(p []byte) (Timecode, error) {
	if len(p) != timecodeSize {
		return Timecode{}, fmt.Errorf("%w: timecode is %d bytes, want %d", ErrBadItemLength, len(p), timecodeSize)
	}
	flags := p[4]
	return Timecode{
		Hours:      p[0],
		Minutes:    p[1],
		Seconds:    p[2],
		Frames:     p[3],
		DropFrame:  flags&(1<<0) != 0,
		ColorFrame: flags&(1<<1) != 0,
		FieldMark:  flags&(1<<2) != 0,
		Rate:       TimecodeRate(flags >> 3 & 0x3),
	}, nil
}

// SCTE104 is a splice marker item (type 0x0004): operation, splice event
// ID, PTS offset, and the auto-return flag, ten bytes on the wire.
type SCTE104 struct {
	Operation     uint8
	SpliceEventID uint32
	PTSOffset     uint32
	AutoReturn    bool
}

const scte104Size = 10

// AppendSCTE104 appends a SCTE-104 splice item to a typed buffer.
func AppendSCTE104(buf []byte, s SCTE104) []byte {
	var p [scte104Size]byte
	p[0] = s.Operation
	binary.LittleEndian.PutUint32(p[1:5], s.SpliceEventID)
	binary.LittleEndian.PutUint32(p[5:9], s.PTSOffset)
	if s.AutoReturn {
		p[9] = 1
	}
	return Append(buf, ItemSCTE104, p[:])
}

// ParseSCTE104 decodes a SCTE-104 item payload.
func ParseSCTE104(p []byte) (SCTE104, error) {
	if len(p) != scte104Size {
		return SCTE104{}, fmt.Errorf("%w: SCTE-104 is %d bytes, want %d", ErrBadItemLength, len(p), scte104Size)
	}
	return SCTE104{
		Operation:     p[0],
		SpliceEventID: binary.LittleEndian.Uint32(p[1:5]),
		PTSOffset:     binary.LittleEndian.Uint32(p[5:9]),
		AutoReturn:    p[9] != 0,
	}, nil
}

// AFDBar is an active-format-description and bar-data item (type 0x0005).
type AFDBar struct {
	AFD       uint8
	Aspect    uint8
	BarTop    uint16
	BarBottom uint16
}

const afdBarSize = 6

// AppendAFDBar appends an AFD+bar item to a typed buffer.
func AppendAFDBar(buf []byte, a AFDBar) []byte {
	var p [afdBarSize]byte
	p[0] = a.AFD
	p[1] = a.Aspect
	binary.LittleEndian.PutUint16(p[2:4], a.BarTop)
	binary.LittleEndian.PutUint16(p[4:6], a.BarBottom)
	return Append(buf, ItemAFDBar, p[:])
}

// ParseAFDBar decodes an AFD+bar item payload.
func ParseAFDBar(p []byte) (AFDBar, error) {
	if len(p) != afdBarSize {
		return AFDBar{}, fmt.Errorf("%w: AFD+bar is %d bytes, want %d", ErrBadItemLength, len(p), afdBarSize)
	}
	return AFDBar{
		AFD:       p[0],
		Aspect:    p[1],
		BarTop:    binary.LittleEndian.Uint16(p[2:4]),
		BarBottom: binary.LittleEndian.Uint16(p[4:6]),
	}, nil
}

// AppendTally appends a tally item (type 0x0006): two bytes, preview then
// program.
func AppendTally(buf []byte, preview, program bool) []byte {
	var p [2]byte
	if preview {
		p[0] = 1
	}
	if program {
		p[1] = 1
	}
	return Append(buf, ItemTally, p[:])
}

// ParseTally decodes a tally item payload into (preview, program).
func ParseTally(p []byte) (preview, program bool, err error) {
	if len(p) != 2 {
		return false, false, fmt.Errorf("%w: tally is %d bytes, want 2", ErrBadItemLength, len(p))
	}
	return p[0] != 0, p[1] != 0, nil
}
