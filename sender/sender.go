// Package sender implements the producing endpoint: a QUIC listener that
// accepts receiver connections, one channel per accepted stream, codec
// lifecycle management, clock stamping, and frame fan-out.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/openmediatransport/omt/certs"
	"github.com/openmediatransport/omt/channel"
	"github.com/openmediatransport/omt/clock"
	"github.com/openmediatransport/omt/codec"
	"github.com/openmediatransport/omt/internal/transport"
	"github.com/openmediatransport/omt/media"
	"github.com/openmediatransport/omt/metadata"
)

// ErrUnknownFrameKind is returned by Send for an OutboundFrame whose kind
// is not one of the three wire kinds.
var ErrUnknownFrameKind = errors.New("sender: unknown frame kind")

// eventBuffer bounds the aggregated per-channel event queue.
const eventBuffer = 64

// Config configures a Sender. Zero values take defaults: a generated
// self-signed certificate, a free-running local clock, the built-in codec
// registry, and a port scanned from the dynamic range.
type Config struct {
	// Info is the identity advertised to every connecting receiver.
	Info media.SenderInfo
	// Port is the UDP listen port; 0 scans 6400–6600.
	Port int
	// Cert is the TLS identity; nil generates a self-signed certificate.
	Cert *certs.CertInfo
	// TimeSource stamps outbound frames; nil uses a local monotonic source.
	TimeSource clock.TimeSource
	// Codecs resolves encoders; nil uses the built-in registry.
	Codecs *codec.Registry
	// NewPools builds the receive pools for each accepted channel; nil
	// uses media.DefaultPools.
	NewPools func() media.Pools
	// Log defaults to slog.Default().
	Log *slog.Logger
}

// ChannelEvent pairs a channel event with the channel it came from.
type ChannelEvent struct {
	Channel string
	Event   channel.Event
}

// chanState bundles a channel with its owning connection so both are torn
// down as a unit.
type chanState struct {
	ch   *channel.Channel
	conn quic.Connection
}

// Sender is the producing endpoint of an OMT source. Each logical source
// owns one Sender, its listener, and its channel set.
type Sender struct {
	log        *slog.Logger
	info       media.SenderInfo
	cert       *certs.CertInfo
	timeSource clock.TimeSource
	codecs     *codec.Registry
	newPools   func() media.Pools

	listener *quic.Listener
	port     int

	mu       sync.RWMutex
	channels map[string]*chanState

	videoClock *clock.Adapter
	audioClock *clock.Adapter

	encMu      sync.Mutex
	videoEnc   codec.VideoEncoder
	videoCodec media.Codec
	videoCfg   codec.VideoConfig
	audioEnc   codec.AudioEncoder
	audioCodec media.Codec
	audioCfg   codec.AudioConfig
	encBuf     []byte

	events chan ChannelEvent
}

// New creates a sender and binds its listener. The bound port is available
// via Port.
func New(cfg Config) (*Sender, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	cert := cfg.Cert
	if cert == nil {
		var err error
		cert, err = certs.Generate(0)
		if err != nil {
			return nil, fmt.Errorf("sender: generate certificate: %w", err)
		}
	}

	src := cfg.TimeSource
	if src == nil {
		src = clock.NewLocalTimeSource()
	}

	reg := cfg.Codecs
	if reg == nil {
		reg = codec.NewRegistry()
	}

	newPools := cfg.NewPools
	if newPools == nil {
		newPools = media.DefaultPools
	}

	listener, port, err := transport.Listen(cfg.Port, cert)
	if err != nil {
		return nil, err
	}

	s := &Sender{
		log:        log.With("component", "sender", "port", port),
		info:       cfg.Info,
		cert:       cert,
		timeSource: src,
		codecs:     reg,
		newPools:   newPools,
		listener:   listener,
		port:       port,
		channels:   make(map[string]*chanState),
		videoClock: clock.NewAdapter(src, clock.VideoFrameInterval(30, 1)),
		audioClock: clock.NewAdapter(src, clock.AudioFrameInterval(960, 48000)),
		events:     make(chan ChannelEvent, eventBuffer),
	}

	s.log.Info("listening", "fingerprint", cert.FingerprintBase64())
	return s, nil
}

// Port returns the bound UDP port.
func (s *Sender) Port() int { return s.port }

// Fingerprint returns the listener certificate's SHA-256 fingerprint.
func (s *Sender) Fingerprint() string { return s.cert.FingerprintBase64() }

// Events returns the aggregated channel event stream.
func (s *Sender) Events() <-chan ChannelEvent { return s.events }

// Run accepts connections until the context is cancelled. Each accepted
// connection may open multiple streams; every stream becomes a channel.
func (s *Sender) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.listener.Close() })
	defer stop()

	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sender: accept: %w", err)
		}
		s.log.Info("connection accepted", "remote", conn.RemoteAddr())
		go s.handleConn(ctx, conn)
	}
}

func (s *Sender) handleConn(ctx context.Context, conn quic.Connection) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Debug("connection ended", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}

		id := uuid.NewString()
		ch := channel.New(id, stream, s.newPools(), s.log)

		s.mu.Lock()
		s.channels[id] = &chanState{ch: ch, conn: conn}
		s.mu.Unlock()

		go s.forwardEvents(id, ch)
		go func() {
			ch.Run(ctx)
			s.mu.Lock()
			delete(s.channels, id)
			s.mu.Unlock()
			ch.Close()
			s.log.Info("channel closed", "channel", id)
		}()

		if err := ch.SendDocument(metadata.SenderInfoDoc(s.info), s.timeSource.Now100ns()); err != nil {
			s.log.Debug("sender info send failed", "channel", id, "error", err)
		}
		s.log.Info("channel opened", "channel", id, "remote", conn.RemoteAddr())
	}
}

// forwardEvents relays one channel's events into the aggregate queue until
// the channel ends.
func (s *Sender) forwardEvents(id string, ch *channel.Channel) {
	for {
		select {
		case ev := <-ch.Events():
			select {
			case s.events <- ChannelEvent{Channel: id, Event: ev}:
			default:
				s.log.Debug("event dropped", "channel", id)
			}
			if ev.Kind == channel.EventDisconnected {
				return
			}
		case <-ch.Done():
			return
		}
	}
}

// Send encodes and fans an outbound frame to every subscribed channel.
func (s *Sender) Send(f *media.OutboundFrame) error {
	switch f.Kind {
	case media.KindVideo:
		return s.sendVideo(f)
	case media.KindAudio:
		return s.sendAudio(f)
	case media.KindMetadata:
		return s.sendMetadata(f)
	default:
		return ErrUnknownFrameKind
	}
}

// SendMetadataDoc fans a metadata document (typed or XML) to every channel.
func (s *Sender) SendMetadataDoc(doc []byte) error {
	return s.sendMetadata(&media.OutboundFrame{
		Kind:  media.KindMetadata,
		Codec: media.CodecXML,
		Data:  doc,
	})
}

func (s *Sender) sendVideo(f *media.OutboundFrame) error {
	cfg := codec.VideoConfig{
		Width:      f.Width,
		Height:     f.Height,
		FrameRateN: f.FrameRateN,
		FrameRateD: f.FrameRateD,
		Quality:    s.maxQuality(),
		Colorspace: f.Colorspace,
	}

	s.encMu.Lock()
	defer s.encMu.Unlock()

	var enc codec.VideoEncoder
	var payloadLen int

	if f.Codec.Compressed() {
		// Producer supplies an already-compressed bitstream; pass through.
		s.ensureEncBuf(len(f.Data) + len(f.FrameMetadata))
		payloadLen = copy(s.encBuf, f.Data)
	} else {
		var err error
		enc, err = s.videoEncoder(f.Codec, cfg)
		if err != nil {
			return err
		}
		s.ensureEncBuf(len(f.Data) + len(f.FrameMetadata))
		interlaced := f.Flags&media.FlagInterlaced != 0
		payloadLen, err = enc.Encode(f.Data, f.Stride, interlaced, s.encBuf)
		if err != nil {
			return fmt.Errorf("sender: encode video: %w", err)
		}
	}

	total := payloadLen + copy(s.encBuf[payloadLen:], f.FrameMetadata)

	ts := f.Timestamp
	if ts == 0 {
		s.videoClock.SetInterval(clock.VideoFrameInterval(f.FrameRateN, f.FrameRateD))
		ts = s.videoClock.Stamp()
	}

	frame := media.Frame{
		Kind:        media.KindVideo,
		Codec:       f.Codec,
		Timestamp:   ts,
		Width:       f.Width,
		Height:      f.Height,
		FrameRateN:  f.FrameRateN,
		FrameRateD:  f.FrameRateD,
		AspectRatio: f.AspectRatio,
		Flags:       f.Flags,
		Colorspace:  f.Colorspace,
		MetadataLen: len(f.FrameMetadata),
		Data:        s.encBuf[:total],
	}

	for _, st := range s.snapshot() {
		out := frame
		if st.ch.Preview() && enc != nil {
			if pl := enc.EncodedPreviewLength(payloadLen); pl > 0 && pl < payloadLen {
				out.Data = frame.Data[:pl]
				out.MetadataLen = 0
				out.Flags |= media.FlagPreview
			}
		}
		if _, err := st.ch.Send(&out); err != nil && !errors.Is(err, channel.ErrFrameTooLarge) {
			s.log.Debug("video send failed", "channel", st.ch.ID(), "error", err)
		}
	}
	return nil
}

func (s *Sender) sendAudio(f *media.OutboundFrame) error {
	cfg := codec.AudioConfig{SampleRate: f.SampleRate, Channels: f.Channels}

	s.encMu.Lock()
	defer s.encMu.Unlock()

	var payloadLen int
	if f.Codec.Compressed() {
		s.ensureEncBuf(len(f.Data) + len(f.FrameMetadata))
		payloadLen = copy(s.encBuf, f.Data)
	} else {
		enc, err := s.audioEncoder(f.Codec, cfg)
		if err != nil {
			return err
		}
		s.ensureEncBuf(len(f.Data) + len(f.FrameMetadata))
		payloadLen, err = enc.Encode(f.Data, s.encBuf)
		if err != nil {
			return fmt.Errorf("sender: encode audio: %w", err)
		}
	}

	total := payloadLen + copy(s.encBuf[payloadLen:], f.FrameMetadata)

	ts := f.Timestamp
	if ts == 0 {
		s.audioClock.SetInterval(clock.AudioFrameInterval(f.SamplesPerChannel, f.SampleRate))
		ts = s.audioClock.Stamp()
	}

	frame := media.Frame{
		Kind:              media.KindAudio,
		Codec:             f.Codec,
		Timestamp:         ts,
		SampleRate:        f.SampleRate,
		Channels:          f.Channels,
		SamplesPerChannel: f.SamplesPerChannel,
		ChannelMask:       f.ChannelMask,
		MetadataLen:       len(f.FrameMetadata),
		Data:              s.encBuf[:total],
	}

	for _, st := range s.snapshot() {
		if _, err := st.ch.Send(&frame); err != nil && !errors.Is(err, channel.ErrFrameTooLarge) {
			s.log.Debug("audio send failed", "channel", st.ch.ID(), "error", err)
		}
	}
	return nil
}

func (s *Sender) sendMetadata(f *media.OutboundFrame) error {
	ts := f.Timestamp
	if ts == 0 {
		ts = s.timeSource.Now100ns()
	}

	c := f.Codec
	if c == media.CodecNone {
		c = media.CodecXML
	}
	frame := media.Frame{
		Kind:      media.KindMetadata,
		Codec:     c,
		Timestamp: ts,
		Data:      f.Data,
	}

	for _, st := range s.snapshot() {
		if _, err := st.ch.Send(&frame); err != nil && !errors.Is(err, channel.ErrFrameTooLarge) {
			s.log.Debug("metadata send failed", "channel", st.ch.ID(), "error", err)
		}
	}
	return nil
}

// videoEncoder returns the current encoder, re-creating it when the
// construction parameters change. Callers hold encMu.
func (s *Sender) videoEncoder(c media.Codec, cfg codec.VideoConfig) (codec.VideoEncoder, error) {
	if s.videoEnc != nil && s.videoCodec == c && s.videoCfg == cfg {
		return s.videoEnc, nil
	}
	if s.videoEnc != nil {
		_ = s.videoEnc.Close()
		s.videoEnc = nil
	}
	enc, err := s.codecs.NewVideoEncoder(c, cfg)
	if err != nil {
		return nil, err
	}
	enc.SetQuality(cfg.Quality)
	s.videoEnc = enc
	s.videoCodec = c
	s.videoCfg = cfg
	return enc, nil
}

// audioEncoder mirrors videoEncoder for the audio path. Callers hold encMu.
func (s *Sender) audioEncoder(c media.Codec, cfg codec.AudioConfig) (codec.AudioEncoder, error) {
	if s.audioEnc != nil && s.audioCodec == c && s.audioCfg == cfg {
		return s.audioEnc, nil
	}
	if s.audioEnc != nil {
		_ = s.audioEnc.Close()
		s.audioEnc = nil
	}
	enc, err := s.codecs.NewAudioEncoder(c, cfg)
	if err != nil {
		return nil, err
	}
	s.audioEnc = enc
	s.audioCodec = c
	s.audioCfg = cfg
	return enc, nil
}

func (s *Sender) ensureEncBuf(n int) {
	if cap(s.encBuf) < n {
		s.encBuf = make([]byte, n)
	}
	s.encBuf = s.encBuf[:cap(s.encBuf)]
}

func (s *Sender) snapshot() []*chanState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*chanState, 0, len(s.channels))
	for _, st := range s.channels {
		out = append(out, st)
	}
	return out
}

// maxQuality returns the highest quality hint received across all channels.
func (s *Sender) maxQuality() media.Quality {
	q := media.QualityDefault
	for _, st := range s.snapshot() {
		if cq := st.ch.Quality(); cq > q {
			q = cq
		}
	}
	return q
}

// Tally returns the union of tally state across all channels: the source
// is on program if any receiver has it on program.
func (s *Sender) Tally() media.Tally {
	var t media.Tally
	for _, st := range s.snapshot() {
		ct := st.ch.Tally()
		t.Preview = t.Preview || ct.Preview
		t.Program = t.Program || ct.Program
	}
	return t
}

// ChannelCount returns the number of live channels.
func (s *Sender) ChannelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels)
}

// Stats aggregates transfer counters across all live channels. Delta
// fields reset per channel on read.
func (s *Sender) Stats() channel.Stats {
	var total channel.Stats
	for _, st := range s.snapshot() {
		total.Add(st.ch.Stats())
	}
	return total
}

// Redirect broadcasts a redirect document pointing receivers at another
// address, typically just before shutdown.
func (s *Sender) Redirect(address string) {
	doc := metadata.RedirectDoc(address)
	ts := s.timeSource.Now100ns()
	for _, st := range s.snapshot() {
		if err := st.ch.SendDocument(doc, ts); err != nil {
			s.log.Debug("redirect send failed", "channel", st.ch.ID(), "error", err)
		}
	}
}

// Close shuts the sender down: the listener stops accepting, every channel
// closes, and connections are closed with the OMT application error code.
func (s *Sender) Close() {
	_ = s.listener.Close()

	s.mu.Lock()
	states := make([]*chanState, 0, len(s.channels))
	for _, st := range s.channels {
		states = append(states, st)
	}
	s.channels = make(map[string]*chanState)
	s.mu.Unlock()

	for _, st := range states {
		st.ch.Close()
		_ = st.conn.CloseWithError(transport.ConnCloseCode, "sender shutdown")
	}

	s.encMu.Lock()
	if s.videoEnc != nil {
		_ = s.videoEnc.Close()
		s.videoEnc = nil
	}
	if s.audioEnc != nil {
		_ = s.audioEnc.Close()
		s.audioEnc = nil
	}
	s.encMu.Unlock()
}
