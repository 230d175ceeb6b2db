package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/openmediatransport/omt/media"
)

func videoFrame() *media.Frame {
	return &media.Frame{
		Kind:        media.KindVideo,
		Codec:       media.CodecVMX1,
		Timestamp:   333_667,
		Preview:     true,
		Width:       1920,
		Height:      1080,
		FrameRateN:  60000,
		FrameRateD:  1001,
		AspectRatio: 16.0 / 9.0,
		Flags:       media.FlagInterlaced | media.FlagHighBitDepth,
		Colorspace:  media.ColorspaceBT709,
		MetadataLen: 4,
		Data:        []byte("encoded-payload-with-meta.\xfdtail"),
	}
}

func audioFrame() *media.Frame {
	return &media.Frame{
		Kind:              media.KindAudio,
		Codec:             media.CodecPCMF32Planar,
		Timestamp:         200_000,
		SampleRate:        48000,
		Channels:          8,
		SamplesPerChannel: 960,
		ChannelMask:       0xFF,
		Data:              bytes.Repeat([]byte{0x42}, 64),
	}
}

func TestHeaderRoundTripVideo(t *testing.T) {
	t.Parallel()
	f := videoFrame()

	buf := make([]byte, EncodedSize(f))
	n, err := EncodeFrame(buf, f)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if n != HeaderSize+VideoExtSize+len(f.Data) {
		t.Fatalf("encoded size = %d, want %d", n, HeaderSize+VideoExtSize+len(f.Data))
	}

	h, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Kind != f.Kind || h.Codec != f.Codec || h.Preview != f.Preview {
		t.Fatalf("header = %+v, want kind=%v codec=%v preview=%v", h, f.Kind, f.Codec, f.Preview)
	}
	if h.ExtLen != VideoExtSize {
		t.Fatalf("ExtLen = %d, want %d", h.ExtLen, VideoExtSize)
	}
	if h.PayloadLen != len(f.Data) {
		t.Fatalf("PayloadLen = %d, want %d", h.PayloadLen, len(f.Data))
	}
	if h.Timestamp != f.Timestamp {
		t.Fatalf("Timestamp = %d, want %d", h.Timestamp, f.Timestamp)
	}
	if h.FrameSize() != n {
		t.Fatalf("FrameSize = %d, want %d", h.FrameSize(), n)
	}

	var got media.Frame
	got.Kind = h.Kind
	got.Codec = h.Codec
	if err := ParseExtended(buf[HeaderSize:HeaderSize+h.ExtLen], &got); err != nil {
		t.Fatalf("ParseExtended: %v", err)
	}
	if got.Width != f.Width || got.Height != f.Height ||
		got.FrameRateN != f.FrameRateN || got.FrameRateD != f.FrameRateD ||
		got.AspectRatio != f.AspectRatio || got.Flags != f.Flags ||
		got.Colorspace != f.Colorspace || got.MetadataLen != f.MetadataLen {
		t.Fatalf("extended header = %+v, want %+v", got, *f)
	}
	if !bytes.Equal(buf[HeaderSize+h.ExtLen:n], f.Data) {
		t.Fatal("payload bytes differ")
	}
}

func TestHeaderRoundTripAudio(t *testing.T) {
	t.Parallel()
	f := audioFrame()

	buf := make([]byte, EncodedSize(f))
	if _, err := EncodeFrame(buf, f); err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	h, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.ExtLen != AudioExtSize {
		t.Fatalf("ExtLen = %d, want %d", h.ExtLen, AudioExtSize)
	}

	var got media.Frame
	got.Kind = h.Kind
	if err := ParseExtended(buf[HeaderSize:HeaderSize+h.ExtLen], &got); err != nil {
		t.Fatalf("ParseExtended: %v", err)
	}
	if got.SampleRate != f.SampleRate || got.Channels != f.Channels ||
		got.SamplesPerChannel != f.SamplesPerChannel || got.ChannelMask != f.ChannelMask {
		t.Fatalf("audio extended header = %+v, want %+v", got, *f)
	}
}

func TestHeaderRoundTripMetadata(t *testing.T) {
	t.Parallel()
	f := &media.Frame{
		Kind:  media.KindMetadata,
		Codec: media.CodecXML,
		Data:  []byte("<SubscribeVideo/>"),
	}

	buf := make([]byte, EncodedSize(f))
	n, err := EncodeFrame(buf, f)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if n != HeaderSize+len(f.Data) {
		t.Fatalf("metadata frames carry no extended header; size = %d", n)
	}

	h, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.ExtLen != 0 || h.PayloadLen != len(f.Data) {
		t.Fatalf("E=%d P=%d, want 0 and %d", h.ExtLen, h.PayloadLen, len(f.Data))
	}
}

func TestParseHeaderMagicMismatch(t *testing.T) {
	t.Parallel()
	buf := make([]byte, HeaderSize)
	buf[0] = 'X'
	buf[1] = 'M'
	if _, err := ParseHeader(buf); !errors.Is(err, ErrMagicMismatch) {
		t.Fatalf("err = %v, want ErrMagicMismatch", err)
	}
}

func TestParseHeaderUnknownKind(t *testing.T) {
	t.Parallel()
	buf := make([]byte, HeaderSize)
	buf[0] = Magic0
	buf[1] = Magic1
	buf[2] = 0x7F
	if _, err := ParseHeader(buf); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestParseHeaderLengthOverflow(t *testing.T) {
	t.Parallel()
	f := audioFrame()
	buf := make([]byte, EncodedSize(f))
	if _, err := EncodeFrame(buf, f); err != nil {
		t.Fatal(err)
	}
	// Rewrite the payload length beyond the audio cap.
	buf[6] = 0xFF
	buf[7] = 0xFF
	buf[8] = 0xFF
	buf[9] = 0x7F
	if _, err := ParseHeader(buf); !errors.Is(err, ErrLengthOverflow) {
		t.Fatalf("err = %v, want ErrLengthOverflow", err)
	}
}

func TestParseHeaderShortBuffer(t *testing.T) {
	t.Parallel()
	if _, err := ParseHeader(make([]byte, HeaderSize-1)); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("err = %v, want ErrShortBuffer", err)
	}
}

func TestEncodeHeaderShortBuffer(t *testing.T) {
	t.Parallel()
	f := videoFrame()
	if _, err := EncodeHeader(make([]byte, HeaderSize), f); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("err = %v, want ErrShortBuffer", err)
	}
}
