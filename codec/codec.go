// Package codec defines the encoder and decoder contracts the sender and
// receiver consume, plus a registry that external codec bindings (VMX1,
// SVT-AV1, dav1d, Opus) plug into. The raw pass-through implementations for
// uncompressed pixel and planar-float formats are built in.
package codec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/openmediatransport/omt/media"
)

var (
	// ErrUnknownCodec is returned when no factory is registered for a codec tag.
	ErrUnknownCodec = errors.New("codec: no factory registered")
	// ErrShortBuffer is returned when a destination buffer cannot hold the output.
	ErrShortBuffer = errors.New("codec: destination buffer too small")
)

// VideoConfig carries the parameters an encoder or decoder is constructed
// with. A sender re-creates its encoder whenever any of these change.
type VideoConfig struct {
	Width      int
	Height     int
	FrameRateN int
	FrameRateD int
	Quality    media.Quality
	Colorspace media.Colorspace
}

// AudioConfig carries audio codec construction parameters.
type AudioConfig struct {
	SampleRate int
	Channels   int
}

// VideoEncoder compresses raw picture data. Implementations own any native
// scratch state and release it in Close.
type VideoEncoder interface {
	// Encode writes the encoded form of src (one picture, the given row
	// stride) into dst, returning the number of bytes produced.
	Encode(src []byte, stride int, interlaced bool, dst []byte) (int, error)
	// SetQuality adjusts the encoder profile between frames.
	SetQuality(q media.Quality)
	// EncodedPreviewLength returns the prefix length of an encoded frame
	// that yields a decodable preview, or 0 if the codec has no preview
	// layer.
	EncodedPreviewLength(encoded int) int
	Close() error
}

// VideoDecoder decompresses encoded picture data into dst with the given
// row stride.
type VideoDecoder interface {
	Decode(src []byte, dst []byte, stride int) error
	Close() error
}

// AudioEncoder compresses planar float32 samples.
type AudioEncoder interface {
	Encode(src []byte, dst []byte) (int, error)
	Close() error
}

// AudioDecoder decompresses into planar float32 samples, returning the
// number of bytes written.
type AudioDecoder interface {
	Decode(src []byte, dst []byte) (int, error)
	Close() error
}

// Factory functions produce codec instances for one wire codec tag.
type (
	VideoEncoderFactory func(cfg VideoConfig) (VideoEncoder, error)
	VideoDecoderFactory func(cfg VideoConfig) (VideoDecoder, error)
	AudioEncoderFactory func(cfg AudioConfig) (AudioEncoder, error)
	AudioDecoderFactory func(cfg AudioConfig) (AudioDecoder, error)
)

// Registry maps wire codec tags to factories. It is an explicit construction
// parameter of senders and receivers rather than process-global state.
type Registry struct {
	mu        sync.RWMutex
	videoEncs map[media.Codec]VideoEncoderFactory
	videoDecs map[media.Codec]VideoDecoderFactory
	audioEncs map[media.Codec]AudioEncoderFactory
	audioDecs map[media.Codec]AudioDecoderFactory
}

// NewRegistry returns a registry pre-populated with the raw pass-through
// codecs (UYVY, BGRA, P216, planar float). Compressed codec bindings are
// registered by their packages.
func NewRegistry() *Registry {
	r := &Registry{
		videoEncs: make(map[media.Codec]VideoEncoderFactory),
		videoDecs: make(map[media.Codec]VideoDecoderFactory),
		audioEncs: make(map[media.Codec]AudioEncoderFactory),
		audioDecs: make(map[media.Codec]AudioDecoderFactory),
	}

	for _, c := range []media.Codec{media.CodecUYVY, media.CodecBGRA, media.CodecP216} {
		r.RegisterVideoEncoder(c, func(VideoConfig) (VideoEncoder, error) { return rawVideo{}, nil })
		r.RegisterVideoDecoder(c, func(VideoConfig) (VideoDecoder, error) { return rawVideo{}, nil })
	}
	r.RegisterAudioEncoder(media.CodecPCMF32Planar, func(AudioConfig) (AudioEncoder, error) { return rawAudio{}, nil })
	r.RegisterAudioDecoder(media.CodecPCMF32Planar, func(AudioConfig) (AudioDecoder, error) { return rawAudio{}, nil })

	return r
}

// RegisterVideoEncoder installs a video encoder factory for a codec tag.
func (r *Registry) RegisterVideoEncoder(c media.Codec, f VideoEncoderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videoEncs[c] = f
}

// RegisterVideoDecoder installs a video decoder factory for a codec tag.
func (r *Registry) RegisterVideoDecoder(c media.Codec, f VideoDecoderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videoDecs[c] = f
}

// RegisterAudioEncoder installs an audio encoder factory for a codec tag.
func (r *Registry) RegisterAudioEncoder(c media.Codec, f AudioEncoderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioEncs[c] = f
}

// RegisterAudioDecoder installs an audio decoder factory for a codec tag.
func (r *Registry) RegisterAudioDecoder(c media.Codec, f AudioDecoderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioDecs[c] = f
}

// NewVideoEncoder constructs a video encoder for the codec tag.
func (r *Registry) NewVideoEncoder(c media.Codec, cfg VideoConfig) (VideoEncoder, error) {
	r.mu.RLock()
	f := r.videoEncs[c]
	r.mu.RUnlock()
	if f == nil {
		return nil, fmt.Errorf("%w: video encoder %s", ErrUnknownCodec, c)
	}
	return f(cfg)
}

// NewVideoDecoder constructs a video decoder for the codec tag.
func (r *Registry) NewVideoDecoder(c media.Codec, cfg VideoConfig) (VideoDecoder, error) {
	r.mu.RLock()
	f := r.videoDecs[c]
	r.mu.RUnlock()
	if f == nil {
		return nil, fmt.Errorf("%w: video decoder %s", ErrUnknownCodec, c)
	}
	return f(cfg)
}

// NewAudioEncoder constructs an audio encoder for the codec tag.
func (r *Registry) NewAudioEncoder(c media.Codec, cfg AudioConfig) (AudioEncoder, error) {
	r.mu.RLock()
	f := r.audioEncs[c]
	r.mu.RUnlock()
	if f == nil {
		return nil, fmt.Errorf("%w: audio encoder %s", ErrUnknownCodec, c)
	}
	return f(cfg)
}

// NewAudioDecoder constructs an audio decoder for the codec tag.
func (r *Registry) NewAudioDecoder(c media.Codec, cfg AudioConfig) (AudioDecoder, error) {
	r.mu.RLock()
	f := r.audioDecs[c]
	r.mu.RUnlock()
	if f == nil {
		return nil, fmt.Errorf("%w: audio decoder %s", ErrUnknownCodec, c)
	}
	return f(cfg)
}

// rawVideo passes uncompressed pixel data through unchanged.
type rawVideo struct{}

func (rawVideo) Encode(src []byte, _ int, _ bool, dst []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, ErrShortBuffer
	}
	return copy(dst, src), nil
}

func (rawVideo) Decode(src []byte, dst []byte, _ int) error {
	if len(dst) < len(src) {
		return ErrShortBuffer
	}
	copy(dst, src)
	return nil
}

func (rawVideo) SetQuality(media.Quality)     {}
func (rawVideo) EncodedPreviewLength(int) int { return 0 }
func (rawVideo) Close() error                 { return nil }

// rawAudio passes planar float32 samples through unchanged.
type rawAudio struct{}

func (rawAudio) Encode(src []byte, dst []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, ErrShortBuffer
	}
	return copy(dst, src), nil
}

func (rawAudio) Decode(src []byte, dst []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, ErrShortBuffer
	}
	return copy(dst, src), nil
}

func (rawAudio) Close() error { return nil }
