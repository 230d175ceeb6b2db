// Package media defines the core frame model that flows through the OMT
// transport, from the sender's encode path through per-connection channels
// to the receiver.
package media

import "fmt"

// FrameKind identifies the payload class of a frame. It tags both the wire
// header and the subscription mask.
type FrameKind uint8

const (
	KindVideo    FrameKind = 1
	KindAudio    FrameKind = 2
	KindMetadata FrameKind = 3
)

// Valid reports whether k is one of the three wire frame kinds.
func (k FrameKind) Valid() bool {
	return k == KindVideo || k == KindAudio || k == KindMetadata
}

func (k FrameKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindMetadata:
		return "metadata"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// KindMask is a set over frame kinds, kept per channel on the sending side.
// A frame is sent to a channel iff its kind is in the mask; Metadata frames
// bypass the mask entirely.
type KindMask uint8

const (
	MaskVideo    KindMask = 1 << 0
	MaskAudio    KindMask = 1 << 1
	MaskMetadata KindMask = 1 << 2
)

// Bit returns the mask bit for a frame kind.
func (k FrameKind) Bit() KindMask {
	switch k {
	case KindVideo:
		return MaskVideo
	case KindAudio:
		return MaskAudio
	case KindMetadata:
		return MaskMetadata
	default:
		return 0
	}
}

// Has reports whether the mask contains the given kind.
func (m KindMask) Has(k FrameKind) bool { return m&k.Bit() != 0 }

// Codec is the fixed wire codec tag. The set is closed; there is no
// negotiation on the wire.
type Codec uint8

const (
	CodecNone Codec = 0

	// Raw video formats.
	CodecUYVY Codec = 1
	CodecBGRA Codec = 2
	CodecP216 Codec = 3

	// Compressed video.
	CodecVMX1 Codec = 16
	CodecAV1  Codec = 17

	// Audio.
	CodecPCMF32Planar Codec = 32
	CodecOpus         Codec = 33

	// Metadata.
	CodecXML Codec = 64
)

// Compressed reports whether the codec carries compressed bitstream data
// (as opposed to raw samples that pass straight through).
func (c Codec) Compressed() bool {
	switch c {
	case CodecVMX1, CodecAV1, CodecOpus:
		return true
	default:
		return false
	}
}

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecUYVY:
		return "UYVY"
	case CodecBGRA:
		return "BGRA"
	case CodecP216:
		return "P216"
	case CodecVMX1:
		return "VMX1"
	case CodecAV1:
		return "AV1"
	case CodecPCMF32Planar:
		return "FPA1"
	case CodecOpus:
		return "Opus"
	case CodecXML:
		return "XML"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// Colorspace identifies the video colorimetry.
type Colorspace uint8

const (
	ColorspaceBT601  Colorspace = 0
	ColorspaceBT709  Colorspace = 1
	ColorspaceBT2020 Colorspace = 2
)

// VideoFlags is the per-frame video flag bitset carried in the extended header.
type VideoFlags uint32

const (
	FlagAlpha        VideoFlags = 1 << 0
	FlagInterlaced   VideoFlags = 1 << 1
	FlagHighBitDepth VideoFlags = 1 << 2
	FlagPreview      VideoFlags = 1 << 3
)

// Quality is the peer-advertised encoder profile hint. Values are ordered;
// the sender encodes at the highest hint received across all channels.
type Quality int

const (
	QualityDefault Quality = 0
	QualityLow     Quality = 1
	QualityMedium  Quality = 2
	QualityHigh    Quality = 3
)

func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "Low"
	case QualityMedium:
		return "Medium"
	case QualityHigh:
		return "High"
	default:
		return "Default"
	}
}

// ParseQuality maps a quality name from a control document to its value.
// Unknown names parse as QualityDefault.
func ParseQuality(s string) Quality {
	switch s {
	case "Low":
		return QualityLow
	case "Medium":
		return QualityMedium
	case "High":
		return QualityHigh
	default:
		return QualityDefault
	}
}

// Tally is the on-air state of a source in a production switcher, settable
// by the remote peer via control documents.
type Tally struct {
	Preview bool
	Program bool
}

// SenderInfo is the structured identity record a sender advertises on each
// new channel via the <SenderInfo/> control document.
type SenderInfo struct {
	Name         string
	Manufacturer string
	Version      string
}

// RawVideoSize returns the byte size of one raw picture in the given
// format, or 0 for a non-raw codec.
func RawVideoSize(c Codec, width, height int) int {
	switch c {
	case CodecUYVY:
		return width * height * 2
	case CodecBGRA:
		return width * height * 4
	case CodecP216:
		return width * height * 4 // two 16-bit planes
	default:
		return 0
	}
}

// RawVideoStride returns the row stride of the luma/packed plane for a raw
// format, or 0 for a non-raw codec.
func RawVideoStride(c Codec, width int) int {
	switch c {
	case CodecUYVY, CodecP216:
		return width * 2
	case CodecBGRA:
		return width * 4
	default:
		return 0
	}
}

// Per-kind payload caps. A frame whose declared extended-header plus payload
// length exceeds its kind's cap is a protocol error on the receiving side and
// a send rejection on the sending side.
const (
	MaxVideoPayload    = 64 << 20
	MaxAudioPayload    = 4 << 20
	MaxMetadataPayload = 1 << 20
)

// MaxPayload returns the payload cap for a frame kind.
func MaxPayload(k FrameKind) int {
	switch k {
	case KindVideo:
		return MaxVideoPayload
	case KindAudio:
		return MaxAudioPayload
	default:
		return MaxMetadataPayload
	}
}

// Default pool counts, sized to absorb fan-out jitter without unbounded
// memory: a pool-exhausted receive drops rather than queues.
const (
	DefaultVideoPoolCount    = 8
	DefaultAudioPoolCount    = 16
	DefaultMetadataPoolCount = 16
)

// Frame is a single media or metadata frame, either assembled by a sender
// for transmission or minted from a FramePool on receive.
//
// Data holds the payload only; headers are serialized separately. For video
// and audio, the final MetadataLen bytes of Data are the per-frame metadata
// trailer appended by the sender, and Payload/FrameMetadata split them apart.
type Frame struct {
	Kind      FrameKind
	Codec     Codec
	Timestamp int64 // 100 ns units
	Preview   bool

	// Video fields, valid when Kind == KindVideo.
	Width       int
	Height      int
	FrameRateN  int
	FrameRateD  int
	AspectRatio float32
	Flags       VideoFlags
	Colorspace  Colorspace

	// Audio fields, valid when Kind == KindAudio.
	SampleRate        int
	Channels          int
	SamplesPerChannel int
	ChannelMask       uint32

	// MetadataLen is the length of the per-frame metadata trailer at the
	// end of Data.
	MetadataLen int

	Data []byte

	buf  []byte
	pool *FramePool
}

// Payload returns the codec payload with the per-frame metadata trailer
// stripped.
func (f *Frame) Payload() []byte {
	if f.MetadataLen <= 0 || f.MetadataLen > len(f.Data) {
		return f.Data
	}
	return f.Data[:len(f.Data)-f.MetadataLen]
}

// FrameMetadata returns the per-frame metadata trailer, or nil if none.
func (f *Frame) FrameMetadata() []byte {
	if f.MetadataLen <= 0 || f.MetadataLen > len(f.Data) {
		return nil
	}
	return f.Data[len(f.Data)-f.MetadataLen:]
}

// Release returns the frame to its originating pool. It is a no-op for
// frames that were not minted from a pool.
func (f *Frame) Release() {
	if f.pool != nil {
		f.pool.Release(f)
	}
}

// Resize grows the frame's backing buffer to at least n bytes and points
// Data at the first n of them. Growth respects the pool's growable flag;
// buffers never shrink.
func (f *Frame) Resize(n int) error {
	if n > cap(f.buf) {
		if f.pool != nil && !f.pool.growable {
			return ErrBufferTooSmall
		}
		f.buf = make([]byte, n)
	}
	f.Data = f.buf[:n]
	return nil
}

// OutboundFrame is the producer-facing input to a Sender. Data holds raw
// samples or an already-compressed bitstream (when Codec is a compressed
// tag); FrameMetadata is appended to the encoded payload on the wire.
type OutboundFrame struct {
	Kind      FrameKind
	Codec     Codec
	Timestamp int64 // 100 ns units; 0 means stamp from the sender's clock

	Width       int
	Height      int
	FrameRateN  int
	FrameRateD  int
	AspectRatio float32
	Flags       VideoFlags
	Colorspace  Colorspace
	Stride      int

	SampleRate        int
	Channels          int
	SamplesPerChannel int
	ChannelMask       uint32

	Data          []byte
	FrameMetadata []byte
}
