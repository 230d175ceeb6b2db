package media

import (
	"bytes"
	"testing"
)

func TestKindMask(t *testing.T) {
	t.Parallel()
	var m KindMask
	if m.Has(KindVideo) || m.Has(KindAudio) || m.Has(KindMetadata) {
		t.Fatal("empty mask should contain nothing")
	}

	m |= KindVideo.Bit()
	if !m.Has(KindVideo) {
		t.Error("mask should contain video after subscribe")
	}
	if m.Has(KindAudio) {
		t.Error("mask should not contain audio")
	}

	m |= KindAudio.Bit() | KindMetadata.Bit()
	for _, k := range []FrameKind{KindVideo, KindAudio, KindMetadata} {
		if !m.Has(k) {
			t.Errorf("full mask missing %v", k)
		}
	}
}

func TestFrameKindValid(t *testing.T) {
	t.Parallel()
	for _, k := range []FrameKind{KindVideo, KindAudio, KindMetadata} {
		if !k.Valid() {
			t.Errorf("%v should be valid", k)
		}
	}
	for _, k := range []FrameKind{0, 4, 0xFF} {
		if k.Valid() {
			t.Errorf("kind %d should be invalid", k)
		}
	}
}

func TestParseQuality(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want Quality
	}{
		{"Low", QualityLow},
		{"Medium", QualityMedium},
		{"High", QualityHigh},
		{"Default", QualityDefault},
		{"", QualityDefault},
		{"bogus", QualityDefault},
	}
	for _, tc := range cases {
		if got := ParseQuality(tc.in); got != tc.want {
			t.Errorf("ParseQuality(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if !(QualityDefault < QualityLow && QualityLow < QualityMedium && QualityMedium < QualityHigh) {
		t.Error("quality values must be ordered")
	}
}

func TestFrameMetadataSplit(t *testing.T) {
	t.Parallel()
	payload := []byte("compressed-bitstream")
	trailer := []byte{0xFD, 0x06, 0x00, 0x02, 0x00, 0x01, 0x00}

	f := Frame{
		Kind:        KindVideo,
		Data:        append(append([]byte{}, payload...), trailer...),
		MetadataLen: len(trailer),
	}

	if !bytes.Equal(f.Payload(), payload) {
		t.Errorf("Payload = %q, want %q", f.Payload(), payload)
	}
	if !bytes.Equal(f.FrameMetadata(), trailer) {
		t.Errorf("FrameMetadata = %x, want %x", f.FrameMetadata(), trailer)
	}
}

func TestFrameMetadataAbsent(t *testing.T) {
	t.Parallel()
	f := Frame{Kind: KindAudio, Data: []byte{1, 2, 3}}
	if !bytes.Equal(f.Payload(), f.Data) {
		t.Error("Payload should be all of Data when no trailer")
	}
	if f.FrameMetadata() != nil {
		t.Error("FrameMetadata should be nil when no trailer")
	}
}

func TestRawVideoSize(t *testing.T) {
	t.Parallel()
	cases := []struct {
		codec  Codec
		want   int
		stride int
	}{
		{CodecUYVY, 1920 * 1080 * 2, 1920 * 2},
		{CodecBGRA, 1920 * 1080 * 4, 1920 * 4},
		{CodecP216, 1920 * 1080 * 4, 1920 * 2},
		{CodecVMX1, 0, 0},
	}
	for _, tc := range cases {
		if got := RawVideoSize(tc.codec, 1920, 1080); got != tc.want {
			t.Errorf("RawVideoSize(%v) = %d, want %d", tc.codec, got, tc.want)
		}
		if got := RawVideoStride(tc.codec, 1920); got != tc.stride {
			t.Errorf("RawVideoStride(%v) = %d, want %d", tc.codec, got, tc.stride)
		}
	}
}
