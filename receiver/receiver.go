// Package receiver implements the consuming endpoint: it connects to a
// sender, subscribes to the frame kinds it wants, and surfaces decoded
// frames to the consumer in priority order.
package receiver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/openmediatransport/omt/channel"
	"github.com/openmediatransport/omt/clock"
	"github.com/openmediatransport/omt/codec"
	"github.com/openmediatransport/omt/internal/transport"
	"github.com/openmediatransport/omt/media"
	"github.com/openmediatransport/omt/metadata"
)

// eventBuffer bounds the aggregated event queue from both channels.
const eventBuffer = 32

// ErrClosed is returned by Receive after Close.
var ErrClosed = errors.New("receiver: closed")

// Config configures a connection to a sender.
type Config struct {
	// Address is the sender's host:port.
	Address string
	// VideoFormat is the raw pixel format decoded video is delivered in;
	// defaults to UYVY.
	VideoFormat media.Codec
	// Quality is sent as a suggested-quality hint when not Default.
	Quality media.Quality
	// Preview requests lower-fidelity preview-only video.
	Preview bool
	// TLS overrides the transport TLS configuration; nil accepts the
	// sender's self-signed certificate.
	TLS *tls.Config
	// Codecs resolves decoders; nil uses the built-in registry.
	Codecs *codec.Registry
	// NewPools builds the receive pools for each channel; nil uses
	// media.DefaultPools.
	NewPools func() media.Pools
	// TimeSource stamps outbound control documents; nil uses a local
	// monotonic source.
	TimeSource clock.TimeSource
	// Log defaults to slog.Default().
	Log *slog.Logger
}

// Receiver is a connection to one sender. It owns two bidirectional
// streams: one carrying video and metadata, one carrying audio.
type Receiver struct {
	log         *slog.Logger
	conn        quic.Connection
	codecs      *codec.Registry
	timeSource  clock.TimeSource
	videoFormat media.Codec

	videoCh *channel.Channel
	audioCh *channel.Channel

	decMu       sync.Mutex
	videoDec    codec.VideoDecoder
	videoDecCfg videoDecKey
	audioDec    codec.AudioDecoder
	audioDecCfg codec.AudioConfig

	events chan channel.Event
	cancel context.CancelFunc
	closed chan struct{}
}

// videoDecKey caches a decoder per (codec, width, height).
type videoDecKey struct {
	codec  media.Codec
	width  int
	height int
}

// Connect dials a sender, opens the video+metadata and audio streams, and
// sends the subscription documents.
func Connect(ctx context.Context, cfg Config) (*Receiver, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "receiver", "address", cfg.Address)

	reg := cfg.Codecs
	if reg == nil {
		reg = codec.NewRegistry()
	}
	newPools := cfg.NewPools
	if newPools == nil {
		newPools = media.DefaultPools
	}
	src := cfg.TimeSource
	if src == nil {
		src = clock.NewLocalTimeSource()
	}
	format := cfg.VideoFormat
	if format == media.CodecNone {
		format = media.CodecUYVY
	}

	conn, err := transport.Dial(ctx, cfg.Address, cfg.TLS)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &Receiver{
		log:         log,
		conn:        conn,
		codecs:      reg,
		timeSource:  src,
		videoFormat: format,
		events:      make(chan channel.Event, eventBuffer),
		cancel:      cancel,
		closed:      make(chan struct{}),
	}

	videoStream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		r.teardown()
		return nil, fmt.Errorf("receiver: open video stream: %w", err)
	}
	r.videoCh = channel.New("video", videoStream, newPools(), log)
	go r.videoCh.Run(runCtx)
	go r.forwardEvents(r.videoCh)

	ts := src.Now100ns()
	if err := r.videoCh.SendDocument(metadata.DocSubscribeVideo, ts); err != nil {
		r.teardown()
		return nil, fmt.Errorf("receiver: subscribe video: %w", err)
	}
	if err := r.videoCh.SendDocument(metadata.DocSubscribeMetadata, ts); err != nil {
		r.teardown()
		return nil, fmt.Errorf("receiver: subscribe metadata: %w", err)
	}
	if cfg.Preview {
		if err := r.videoCh.SendDocument(metadata.DocPreviewVideoOn, ts); err != nil {
			r.teardown()
			return nil, fmt.Errorf("receiver: preview on: %w", err)
		}
	}
	if cfg.Quality != media.QualityDefault {
		if err := r.videoCh.SendDocument(metadata.SuggestedQualityDoc(cfg.Quality), ts); err != nil {
			r.teardown()
			return nil, fmt.Errorf("receiver: suggest quality: %w", err)
		}
	}

	audioStream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		r.teardown()
		return nil, fmt.Errorf("receiver: open audio stream: %w", err)
	}
	r.audioCh = channel.New("audio", audioStream, newPools(), log)
	go r.audioCh.Run(runCtx)
	go r.forwardEvents(r.audioCh)

	if err := r.audioCh.SendDocument(metadata.DocSubscribeAudio, src.Now100ns()); err != nil {
		r.teardown()
		return nil, fmt.Errorf("receiver: subscribe audio: %w", err)
	}

	log.Info("connected")
	return r, nil
}

// Events returns tally, redirect, and disconnect events from both streams.
func (r *Receiver) Events() <-chan channel.Event { return r.events }

func (r *Receiver) forwardEvents(ch *channel.Channel) {
	for {
		select {
		case ev := <-ch.Events():
			select {
			case r.events <- ev:
			default:
				r.log.Debug("event dropped", "kind", ev.Kind)
			}
			if ev.Kind == channel.EventDisconnected {
				return
			}
		case <-ch.Done():
			return
		}
	}
}

// Receive returns the next frame, polling the ready queues in priority
// order (video, audio, metadata) and waiting up to timeout when all are
// empty. A nil frame with nil error means the timeout elapsed. The caller
// owns the returned frame and must Release it.
func (r *Receiver) Receive(ctx context.Context, timeout time.Duration) (*media.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if f := r.videoCh.PopFrame(); f != nil {
			out, err := r.decodeVideo(f)
			if out == nil && err == nil {
				continue // decode failure, frame dropped
			}
			return out, err
		}
		if f := r.audioCh.PopFrame(); f != nil {
			out, err := r.decodeAudio(f)
			if out == nil && err == nil {
				continue
			}
			return out, err
		}
		if f := r.videoCh.PopMetadata(); f != nil {
			return f, nil
		}
		if f := r.audioCh.PopMetadata(); f != nil {
			return f, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.closed:
			return nil, ErrClosed
		case <-timer.C:
			return nil, nil
		case <-r.videoCh.FrameReady():
		case <-r.audioCh.FrameReady():
		case <-r.videoCh.MetadataReady():
		case <-r.audioCh.MetadataReady():
		}
	}
}

// decodeVideo passes compressed frames through a cached decoder, returning
// a fresh frame in the configured raw format. Raw frames pass through
// untouched. Decode failures drop the frame and surface nothing; Receive
// then moves on to the next queued frame.
func (r *Receiver) decodeVideo(f *media.Frame) (*media.Frame, error) {
	if !f.Codec.Compressed() {
		return f, nil
	}

	r.decMu.Lock()
	defer r.decMu.Unlock()

	key := videoDecKey{codec: f.Codec, width: f.Width, height: f.Height}
	if r.videoDec == nil || r.videoDecCfg != key {
		if r.videoDec != nil {
			_ = r.videoDec.Close()
			r.videoDec = nil
		}
		dec, err := r.codecs.NewVideoDecoder(f.Codec, codec.VideoConfig{
			Width:      f.Width,
			Height:     f.Height,
			FrameRateN: f.FrameRateN,
			FrameRateD: f.FrameRateD,
			Colorspace: f.Colorspace,
		})
		if err != nil {
			// No decoder registered: surface the compressed frame as-is.
			return f, nil
		}
		r.videoDec = dec
		r.videoDecCfg = key
	}

	dst := make([]byte, media.RawVideoSize(r.videoFormat, f.Width, f.Height))
	stride := media.RawVideoStride(r.videoFormat, f.Width)
	if err := r.videoDec.Decode(f.Payload(), dst, stride); err != nil {
		r.log.Debug("video decode failed", "error", err)
		f.Release()
		return nil, nil
	}

	out := &media.Frame{
		Kind:        media.KindVideo,
		Codec:       r.videoFormat,
		Timestamp:   f.Timestamp,
		Preview:     f.Preview,
		Width:       f.Width,
		Height:      f.Height,
		FrameRateN:  f.FrameRateN,
		FrameRateD:  f.FrameRateD,
		AspectRatio: f.AspectRatio,
		Flags:       f.Flags,
		Colorspace:  f.Colorspace,
		Data:        dst,
	}
	if md := f.FrameMetadata(); md != nil {
		out.Data = append(out.Data, md...)
		out.MetadataLen = len(md)
	}
	f.Release()
	return out, nil
}

// decodeAudio mirrors decodeVideo for compressed audio, producing planar
// float32 samples.
func (r *Receiver) decodeAudio(f *media.Frame) (*media.Frame, error) {
	if !f.Codec.Compressed() {
		return f, nil
	}

	r.decMu.Lock()
	defer r.decMu.Unlock()

	cfg := codec.AudioConfig{SampleRate: f.SampleRate, Channels: f.Channels}
	if r.audioDec == nil || r.audioDecCfg != cfg {
		if r.audioDec != nil {
			_ = r.audioDec.Close()
			r.audioDec = nil
		}
		dec, err := r.codecs.NewAudioDecoder(f.Codec, cfg)
		if err != nil {
			return f, nil
		}
		r.audioDec = dec
		r.audioDecCfg = cfg
	}

	dst := make([]byte, f.Channels*f.SamplesPerChannel*4)
	n, err := r.audioDec.Decode(f.Payload(), dst)
	if err != nil {
		r.log.Debug("audio decode failed", "error", err)
		f.Release()
		return nil, nil
	}

	out := &media.Frame{
		Kind:              media.KindAudio,
		Codec:             media.CodecPCMF32Planar,
		Timestamp:         f.Timestamp,
		SampleRate:        f.SampleRate,
		Channels:          f.Channels,
		SamplesPerChannel: f.SamplesPerChannel,
		ChannelMask:       f.ChannelMask,
		Data:              dst[:n],
	}
	if md := f.FrameMetadata(); md != nil {
		out.Data = append(out.Data, md...)
		out.MetadataLen = len(md)
	}
	f.Release()
	return out, nil
}

// SetTally reports this receiver's tally state upstream.
func (r *Receiver) SetTally(t media.Tally) error {
	return r.videoCh.SendDocument(metadata.TallyDoc(t), r.timeSource.Now100ns())
}

// SetQuality sends a suggested-quality hint upstream.
func (r *Receiver) SetQuality(q media.Quality) error {
	return r.videoCh.SendDocument(metadata.SuggestedQualityDoc(q), r.timeSource.Now100ns())
}

// SetPreview toggles preview-only video.
func (r *Receiver) SetPreview(on bool) error {
	return r.videoCh.SendDocument(metadata.PreviewVideoDoc(on), r.timeSource.Now100ns())
}

// SenderInfo returns the identity the sender advertised, once received.
func (r *Receiver) SenderInfo() media.SenderInfo { return r.videoCh.SenderInfo() }

// Redirect returns the redirect address the sender announced, or "".
func (r *Receiver) Redirect() string { return r.videoCh.Redirect() }

// Stats aggregates transfer counters across both streams.
func (r *Receiver) Stats() channel.Stats {
	s := r.videoCh.Stats()
	s.Add(r.audioCh.Stats())
	return s
}

// Close tears the connection down.
func (r *Receiver) Close() {
	select {
	case <-r.closed:
		return
	default:
		close(r.closed)
	}
	r.teardown()
}

func (r *Receiver) teardown() {
	r.cancel()
	if r.videoCh != nil {
		r.videoCh.Close()
	}
	if r.audioCh != nil {
		r.audioCh.Close()
	}
	_ = r.conn.CloseWithError(transport.ConnCloseCode, "receiver closed")
}
