// Package wire implements the OMT frame codec: the 16-byte common header,
// the per-kind extended headers, and payload placement. All multi-byte
// integers are little-endian; timestamps are 100 ns units.
//
// The codec is purely functional over caller-supplied buffers and does not
// allocate. Session logic lives in
// [github.com/openmediatransport/omt/channel].
package wire

import (
	"encoding/binary"
	"math"

	"github.com/openmediatransport/omt/media"
)

// Wire layout constants. A frame's total wire length is
// HeaderSize + extended-header length + payload length.
const (
	Magic0 = 0x4F // 'O'
	Magic1 = 0x4D // 'M'

	HeaderSize       = 16
	VideoExtSize     = 40
	AudioExtSize     = 24
	MetadataExtSize  = 0
	MaxExtendedSize  = VideoExtSize
	MaxEncodedHeader = HeaderSize + MaxExtendedSize
)

// ExtSize returns the extended-header length written for a frame kind.
func ExtSize(k media.FrameKind) int {
	switch k {
	case media.KindVideo:
		return VideoExtSize
	case media.KindAudio:
		return AudioExtSize
	default:
		return MetadataExtSize
	}
}

// Header holds the decoded common frame header.
type Header struct {
	Kind       media.FrameKind
	Codec      media.Codec
	ExtLen     int
	PayloadLen int
	Preview    bool
	Timestamp  int64
}

// FrameSize returns the total on-wire frame length, header included.
func (h Header) FrameSize() int { return HeaderSize + h.ExtLen + h.PayloadLen }

// ParseHeader decodes the 16-byte common header at the start of buf. The
// declared extended-header plus payload length is validated against the
// kind's payload cap.
func ParseHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, ErrShortBuffer
	}
	if buf[0] != Magic0 || buf[1] != Magic1 {
		return h, ErrMagicMismatch
	}

	h.Kind = media.FrameKind(buf[2])
	if !h.Kind.Valid() {
		return h, ErrUnknownKind
	}
	h.Codec = media.Codec(buf[3])
	h.ExtLen = int(binary.LittleEndian.Uint16(buf[4:6]))
	h.PayloadLen = int(binary.LittleEndian.Uint32(buf[6:10]))
	h.Preview = buf[10] != 0
	h.Timestamp = int64(binary.LittleEndian.Uint32(buf[12:16]))

	if h.ExtLen+h.PayloadLen > media.MaxPayload(h.Kind) {
		return h, ErrLengthOverflow
	}
	return h, nil
}

// EncodeHeader writes the common header and the kind's extended header into
// buf, returning the number of bytes written. The payload-length field is
// taken from len(f.Data).
func EncodeHeader(buf []byte, f *media.Frame) (int, error) {
	ext := ExtSize(f.Kind)
	if len(buf) < HeaderSize+ext {
		return 0, ErrShortBuffer
	}

	buf[0] = Magic0
	buf[1] = Magic1
	buf[2] = byte(f.Kind)
	buf[3] = byte(f.Codec)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(ext))
	binary.LittleEndian.PutUint32(buf[6:10], uint32(len(f.Data)))
	if f.Preview {
		buf[10] = 1
	} else {
		buf[10] = 0
	}
	buf[11] = 0
	binary.LittleEndian.PutUint32(buf[12:16], uint32(f.Timestamp))

	switch f.Kind {
	case media.KindVideo:
		encodeVideoExt(buf[HeaderSize:], f)
	case media.KindAudio:
		encodeAudioExt(buf[HeaderSize:], f)
	}
	return HeaderSize + ext, nil
}

func encodeVideoExt(buf []byte, f *media.Frame) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.Width))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(f.Height))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(f.FrameRateN))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(f.FrameRateD))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(f.AspectRatio))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(f.Flags))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.Colorspace))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.Codec))
	binary.LittleEndian.PutUint32(buf[32:36], uint32(f.MetadataLen))
	binary.LittleEndian.PutUint32(buf[36:40], 0)
}

func encodeAudioExt(buf []byte, f *media.Frame) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(f.Channels))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(f.SamplesPerChannel))
	binary.LittleEndian.PutUint32(buf[12:16], f.ChannelMask)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(f.Codec))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(f.MetadataLen))
}

// ParseExtended decodes the E-byte extended header into f. The common
// header fields (kind, codec, preview, timestamp) must already be set on f;
// buf holds exactly the extended header bytes.
func ParseExtended(buf []byte, f *media.Frame) error {
	switch f.Kind {
	case media.KindVideo:
		if len(buf) < VideoExtSize {
			return &ParseError{Field: "video extended header", Err: ErrShortBuffer}
		}
		f.Width = int(binary.LittleEndian.Uint32(buf[0:4]))
		f.Height = int(binary.LittleEndian.Uint32(buf[4:8]))
		f.FrameRateN = int(binary.LittleEndian.Uint32(buf[8:12]))
		f.FrameRateD = int(binary.LittleEndian.Uint32(buf[12:16]))
		f.AspectRatio = math.Float32frombits(binary.LittleEndian.Uint32(buf[16:20]))
		f.Flags = media.VideoFlags(binary.LittleEndian.Uint32(buf[20:24]))
		f.Colorspace = media.Colorspace(binary.LittleEndian.Uint32(buf[24:28]))
		f.MetadataLen = int(binary.LittleEndian.Uint32(buf[32:36]))

	case media.KindAudio:
		if len(buf) < AudioExtSize {
			return &ParseError{Field: "audio extended header", Err: ErrShortBuffer}
		}
		f.SampleRate = int(binary.LittleEndian.Uint32(buf[0:4]))
		f.Channels = int(binary.LittleEndian.Uint32(buf[4:8]))
		f.SamplesPerChannel = int(binary.LittleEndian.Uint32(buf[8:12]))
		f.ChannelMask = binary.LittleEndian.Uint32(buf[12:16])
		f.MetadataLen = int(binary.LittleEndian.Uint32(buf[20:24]))
	}
	return nil
}

// EncodedSize returns the total wire length of f: common header, extended
// header, and payload.
func EncodedSize(f *media.Frame) int {
	return HeaderSize + ExtSize(f.Kind) + len(f.Data)
}

// EncodeFrame serializes the whole frame (header, extended header, payload)
// into dst, returning the number of bytes written. dst must be at least
// EncodedSize(f) bytes.
func EncodeFrame(dst []byte, f *media.Frame) (int, error) {
	need := EncodedSize(f)
	if len(dst) < need {
		return 0, ErrShortBuffer
	}
	n, err := EncodeHeader(dst, f)
	if err != nil {
		return 0, err
	}
	copy(dst[n:], f.Data)
	return need, nil
}
