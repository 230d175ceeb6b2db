// Package ptp implements an IEEE 1588-2008 follower: message parsing, the
// delay-request exchange, a PI servo, and a time source disciplined to the
// grandmaster. The follower never acts as a master.
package ptp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// PTP message types (low nibble of the first header byte).
const (
	MsgSync      uint8 = 0x0
	MsgDelayReq  uint8 = 0x1
	MsgFollowUp  uint8 = 0x8
	MsgDelayResp uint8 = 0x9
	MsgAnnounce  uint8 = 0xB
)

// Network binding per IEEE 1588 annex D.
const (
	EventPort   = 319
	GeneralPort = 320
)

// MulticastGroup is the IPv4 PTP primary multicast address.
var MulticastGroup = net.IPv4(224, 0, 1, 129)

// HeaderSize is the common PTP header length; TimestampSize the on-wire
// timestamp length (48-bit seconds + 32-bit nanoseconds, big-endian).
const (
	HeaderSize    = 34
	TimestampSize = 10

	delayReqSize  = HeaderSize + TimestampSize
	delayRespSize = HeaderSize + TimestampSize + portIdentitySize
)

// twoStepFlag is bit 1 of the first flag byte; when set the Sync origin
// timestamp arrives in a FollowUp.
const twoStepFlag = 0x0200

var (
	// ErrShortMessage indicates a packet too small for the claimed structure.
	ErrShortMessage = errors.New("ptp: short message")
)

// Header is the parsed 34-byte PTP common header. All fields big-endian on
// the wire.
type Header struct {
	MessageType        uint8
	Version            uint8
	MessageLength      uint16
	Domain             uint8
	Flags              uint16
	Correction         int64 // nanoseconds scaled by 2^16
	SourcePortIdentity PortIdentity
	SequenceID         uint16
}

// TwoStep reports whether the Sync's origin timestamp is deferred to a
// FollowUp message.
func (h Header) TwoStep() bool { return h.Flags&twoStepFlag != 0 }

// CorrectionTo100ns converts the header's correction field to 100 ns units.
func (h Header) CorrectionTo100ns() int64 { return (h.Correction >> 16) / 100 }

// ParseHeader decodes the common header at the start of pkt.
func ParseHeader(pkt []byte) (Header, error) {
	var h Header
	if len(pkt) < HeaderSize {
		return h, ErrShortMessage
	}
	h.MessageType = pkt[0] & 0x0F
	h.Version = pkt[1] & 0x0F
	h.MessageLength = binary.BigEndian.Uint16(pkt[2:4])
	h.Domain = pkt[4]
	h.Flags = binary.BigEndian.Uint16(pkt[6:8])
	h.Correction = int64(binary.BigEndian.Uint64(pkt[8:16]))
	copy(h.SourcePortIdentity.ClockID[:], pkt[20:28])
	h.SourcePortIdentity.Port = binary.BigEndian.Uint16(pkt[28:30])
	h.SequenceID = binary.BigEndian.Uint16(pkt[30:32])
	return h, nil
}

// Timestamp is an on-wire PTP timestamp: 48-bit seconds plus nanoseconds.
type Timestamp struct {
	Seconds     uint64
	Nanoseconds uint32
}

// ParseTimestamp decodes a 10-byte timestamp.
func ParseTimestamp(buf []byte) (Timestamp, error) {
	if len(buf) < TimestampSize {
		return Timestamp{}, ErrShortMessage
	}
	secs := uint64(binary.BigEndian.Uint16(buf[0:2]))<<32 | uint64(binary.BigEndian.Uint32(buf[2:6]))
	return Timestamp{
		Seconds:     secs,
		Nanoseconds: binary.BigEndian.Uint32(buf[6:10]),
	}, nil
}

// put encodes the timestamp into a 10-byte buffer.
func (t Timestamp) put(buf []byte) {
	binary.BigEndian.PutUint16(buf[0:2], uint16(t.Seconds>>32))
	binary.BigEndian.PutUint32(buf[2:6], uint32(t.Seconds))
	binary.BigEndian.PutUint32(buf[6:10], t.Nanoseconds)
}

// To100ns converts to 100 ns units.
func (t Timestamp) To100ns() int64 {
	return int64(t.Seconds)*10_000_000 + int64(t.Nanoseconds/100)
}

// TimestampFrom100ns converts a 100 ns reading into a PTP timestamp.
func TimestampFrom100ns(v int64) Timestamp {
	if v < 0 {
		v = 0
	}
	return Timestamp{
		Seconds:     uint64(v / 10_000_000),
		Nanoseconds: uint32(v%10_000_000) * 100,
	}
}

const portIdentitySize = 10

// PortIdentity uniquely identifies a PTP endpoint: an 8-byte clock identity
// plus a port number.
type PortIdentity struct {
	ClockID [8]byte
	Port    uint16
}

func (p PortIdentity) String() string {
	return fmt.Sprintf("%x:%d", p.ClockID, p.Port)
}

// put encodes the identity into a 10-byte buffer.
func (p PortIdentity) put(buf []byte) {
	copy(buf[0:8], p.ClockID[:])
	binary.BigEndian.PutUint16(buf[8:10], p.Port)
}

func parsePortIdentity(buf []byte) (PortIdentity, error) {
	var p PortIdentity
	if len(buf) < portIdentitySize {
		return p, ErrShortMessage
	}
	copy(p.ClockID[:], buf[0:8])
	p.Port = binary.BigEndian.Uint16(buf[8:10])
	return p, nil
}

// LocalPortIdentity derives the port identity for an interface: the EUI-64
// expansion of its MAC address and port number 1. Interfaces without a
// 48-bit MAC fall back to a random clock identity.
func LocalPortIdentity(iface *net.Interface) PortIdentity {
	p := PortIdentity{Port: 1}
	if iface != nil && len(iface.HardwareAddr) == 6 {
		mac := iface.HardwareAddr
		copy(p.ClockID[0:3], mac[0:3])
		p.ClockID[3] = 0xFF
		p.ClockID[4] = 0xFE
		copy(p.ClockID[5:8], mac[3:6])
		return p
	}
	_, _ = rand.Read(p.ClockID[:])
	return p
}

// BuildDelayReq assembles a DelayReq message for the given domain and
// sequence, with a zero origin timestamp per the common one-step practice.
func BuildDelayReq(domain uint8, seq uint16, pid PortIdentity) []byte {
	buf := make([]byte, delayReqSize)
	buf[0] = MsgDelayReq
	buf[1] = 0x02 // PTPv2
	binary.BigEndian.PutUint16(buf[2:4], delayReqSize)
	buf[4] = domain
	pid.put(buf[20:30])
	binary.BigEndian.PutUint16(buf[30:32], seq)
	buf[32] = 0x01 // control: Delay_Req
	buf[33] = 0x7F // logMessageInterval: unspecified
	Timestamp{}.put(buf[HeaderSize:])
	return buf
}
