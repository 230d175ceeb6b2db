// Package channel implements the per-connection state machine shared by
// sender and receiver: outbound subscription gating, the inbound receive
// loop, control-document absorption, ready queues, and statistics.
//
// A Channel owns one transport stream. Outbound writes are serialized by a
// send-side mutex; the inbound loop is a single goroutine that owns all
// receive-side state mutation.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/openmediatransport/omt/internal/wire"
	"github.com/openmediatransport/omt/media"
)

// metaQueueCap bounds the consumer-visible metadata queue; beyond it the
// oldest entry is dropped.
const metaQueueCap = 128

// eventBuffer bounds the channel event queue to the owner.
const eventBuffer = 16

// ErrFrameTooLarge is returned by Send when a frame's wire length exceeds
// its kind's payload cap.
var ErrFrameTooLarge = errors.New("channel: frame exceeds kind payload cap")

// errEmptyMetadata is the fatal fault for a zero-length Metadata payload.
var errEmptyMetadata = errors.New("channel: empty metadata payload")

// EventKind discriminates channel events.
type EventKind int

const (
	EventTallyChanged EventKind = iota + 1
	EventRedirectChanged
	EventDisconnected
)

// Event is delivered to the channel's owner when the peer changes tally,
// requests a redirect, or the connection ends.
type Event struct {
	Kind    EventKind
	Tally   media.Tally // EventTallyChanged
	Address string      // EventRedirectChanged
}

// Channel is the per-connection state machine. One Channel is created per
// accepted transport stream and destroyed when either side closes it.
type Channel struct {
	id     string
	log    *slog.Logger
	stream io.ReadWriteCloser
	pools  media.Pools

	sendMu  sync.Mutex
	sendBuf []byte

	mu       sync.Mutex
	mask     media.KindMask
	tally    media.Tally
	preview  bool
	quality  media.Quality
	info     media.SenderInfo
	redirect string

	readyMu     sync.Mutex
	readyFrames []*media.Frame
	readyMeta   []*media.Frame

	frameReady chan struct{}
	metaReady  chan struct{}
	events     chan Event

	stats statistics

	disconnectOnce sync.Once
	done           chan struct{}
}

// New creates a channel over the given stream, drawing receive buffers from
// pools. If log is nil, slog.Default() is used.
func New(id string, stream io.ReadWriteCloser, pools media.Pools, log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		id:         id,
		log:        log.With("component", "channel", "channel", id),
		stream:     stream,
		pools:      pools,
		frameReady: make(chan struct{}, 1),
		metaReady:  make(chan struct{}, 1),
		events:     make(chan Event, eventBuffer),
		done:       make(chan struct{}),
	}
}

// ID returns the channel identifier.
func (c *Channel) ID() string { return c.id }

// Events returns the channel's event stream. Events are dropped if the
// owner stops draining.
func (c *Channel) Events() <-chan Event { return c.events }

// Done is closed when the channel's receive loop has ended.
func (c *Channel) Done() <-chan struct{} { return c.done }

// FrameReady signals that a video or audio frame was enqueued.
func (c *Channel) FrameReady() <-chan struct{} { return c.frameReady }

// MetadataReady signals that a metadata frame was enqueued.
func (c *Channel) MetadataReady() <-chan struct{} { return c.metaReady }

// Subscription returns the peer's current subscription mask.
func (c *Channel) Subscription() media.KindMask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mask
}

// Tally returns the tally state last set by the peer.
func (c *Channel) Tally() media.Tally {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tally
}

// Preview reports whether the peer requested preview-only video.
func (c *Channel) Preview() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preview
}

// Quality returns the peer's suggested encoder quality.
func (c *Channel) Quality() media.Quality {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quality
}

// SenderInfo returns the identity record advertised by the peer.
func (c *Channel) SenderInfo() media.SenderInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Redirect returns the redirect address last received from the peer, or "".
func (c *Channel) Redirect() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redirect
}

// Stats snapshots the channel's counters, resetting the delta fields.
func (c *Channel) Stats() Stats { return c.stats.snapshot() }

// Send serializes and writes one frame on the stream, returning the number
// of bytes written. Non-Metadata frames whose kind is outside the peer's
// subscription mask are silently skipped (written length 0, not counted).
// Frames over the kind cap are rejected and counted as dropped.
func (c *Channel) Send(f *media.Frame) (int, error) {
	c.mu.Lock()
	mask := c.mask
	preview := c.preview
	c.mu.Unlock()

	if f.Kind != media.KindMetadata && !mask.Has(f.Kind) {
		return 0, nil
	}

	if wire.ExtSize(f.Kind)+len(f.Data) > media.MaxPayload(f.Kind) {
		c.stats.addDropped()
		return 0, ErrFrameTooLarge
	}

	// Copy so the per-channel preview stamp cannot race the shared frame
	// during broadcast fan-out.
	out := *f
	out.Preview = preview

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	need := wire.EncodedSize(&out)
	if cap(c.sendBuf) < need {
		c.sendBuf = make([]byte, need)
	}
	buf := c.sendBuf[:need]

	n, err := wire.EncodeFrame(buf, &out)
	if err != nil {
		return 0, err
	}
	if _, err := c.stream.Write(buf[:n]); err != nil {
		c.disconnect(err)
		return 0, fmt.Errorf("channel %s: write: %w", c.id, err)
	}

	c.stats.addSent(n)
	return n, nil
}

// SendDocument sends a control or metadata XML document as a Metadata frame.
func (c *Channel) SendDocument(doc string, timestamp int64) error {
	f := media.Frame{
		Kind:      media.KindMetadata,
		Codec:     media.CodecXML,
		Timestamp: timestamp,
		Data:      []byte(doc),
	}
	_, err := c.Send(&f)
	return err
}

// PopFrame dequeues the next completed video or audio frame, or nil when
// the queue is empty. The caller owns the frame and must Release it.
func (c *Channel) PopFrame() *media.Frame {
	c.readyMu.Lock()
	defer c.readyMu.Unlock()
	if len(c.readyFrames) == 0 {
		return nil
	}
	f := c.readyFrames[0]
	c.readyFrames = c.readyFrames[1:]
	return f
}

// PopMetadata dequeues the next consumer-visible metadata frame, or nil.
func (c *Channel) PopMetadata() *media.Frame {
	c.readyMu.Lock()
	defer c.readyMu.Unlock()
	if len(c.readyMeta) == 0 {
		return nil
	}
	f := c.readyMeta[0]
	c.readyMeta = c.readyMeta[1:]
	return f
}

// Run executes the inbound receive loop until cancellation, stream EOF, or
// a fatal protocol error. It always emits Disconnected exactly once before
// returning.
func (c *Channel) Run(ctx context.Context) {
	err := c.receiveLoop(ctx)
	switch {
	case err == nil || ctx.Err() != nil:
		c.log.Debug("receive loop ended")
	default:
		c.log.Warn("receive loop failed", "error", err)
	}
	c.disconnect(err)
}

// receiveLoop reads framed messages off the stream. Each iteration reads
// exactly 16 header bytes, then exactly the declared extended-header plus
// payload bytes into a pooled buffer.
func (c *Channel) receiveLoop(ctx context.Context) error {
	var hdr [wire.HeaderSize]byte
	var pending *media.Frame
	defer func() {
		if pending != nil {
			pending.Release()
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if _, err := io.ReadFull(c.stream, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				// Clean close between frames.
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("stream ended mid-header: %w", err)
			}
			return fmt.Errorf("read header: %w", err)
		}

		h, err := wire.ParseHeader(hdr[:])
		if err != nil {
			return err
		}
		rest := h.ExtLen + h.PayloadLen

		if pending != nil && pending.Kind != h.Kind {
			pending.Release()
			pending = nil
		}
		if pending == nil {
			if pool := c.pools.For(h.Kind); pool != nil {
				pending = pool.Acquire()
			}
		}
		if pending == nil {
			if err := c.discard(rest); err != nil {
				return err
			}
			c.stats.addDropped()
			continue
		}

		if err := pending.Resize(rest); err != nil {
			if derr := c.discard(rest); derr != nil {
				return derr
			}
			c.stats.addDropped()
			continue
		}
		if _, err := io.ReadFull(c.stream, pending.Data); err != nil {
			return fmt.Errorf("read frame body: %w", err)
		}

		pending.Kind = h.Kind
		pending.Codec = h.Codec
		pending.Preview = h.Preview
		pending.Timestamp = h.Timestamp
		if err := wire.ParseExtended(pending.Data[:h.ExtLen], pending); err != nil {
			return err
		}
		pending.Data = pending.Data[h.ExtLen:]

		c.stats.addReceived(wire.HeaderSize + rest)

		absorbed, err := c.processControl(pending)
		if err != nil {
			return err
		}
		if absorbed {
			// Keep the buffer as the pending frame for the next message.
			continue
		}

		c.enqueue(pending)
		pending = nil
	}
}

// discard drains n bytes of an undeliverable frame so the stream stays in
// sync after a pool-exhausted drop.
func (c *Channel) discard(n int) error {
	if n == 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, c.stream, int64(n)); err != nil {
		return fmt.Errorf("discard frame body: %w", err)
	}
	return nil
}

func (c *Channel) enqueue(f *media.Frame) {
	if f.Kind == media.KindMetadata {
		c.readyMu.Lock()
		c.readyMeta = append(c.readyMeta, f)
		var evicted *media.Frame
		if len(c.readyMeta) > metaQueueCap {
			evicted = c.readyMeta[0]
			c.readyMeta = c.readyMeta[1:]
		}
		c.readyMu.Unlock()

		if evicted != nil {
			evicted.Release()
			c.stats.addDropped()
		}
		signal(c.metaReady)
		return
	}

	c.readyMu.Lock()
	c.readyFrames = append(c.readyFrames, f)
	c.readyMu.Unlock()
	signal(c.frameReady)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (c *Channel) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.log.Debug("event dropped", "kind", e.Kind)
	}
}

// disconnect emits the Disconnected event exactly once and closes the
// stream. Safe to call from both the send and receive paths.
func (c *Channel) disconnect(err error) {
	c.disconnectOnce.Do(func() {
		if err != nil {
			c.log.Debug("disconnected", "error", err)
		}
		_ = c.stream.Close()
		c.emit(Event{Kind: EventDisconnected})
		close(c.done)
	})
}

// Close tears the channel down: the stream is closed, which unblocks the
// receive loop, and any queued frames are returned to their pools.
func (c *Channel) Close() {
	c.disconnect(nil)

	c.readyMu.Lock()
	frames := c.readyFrames
	meta := c.readyMeta
	c.readyFrames = nil
	c.readyMeta = nil
	c.readyMu.Unlock()

	for _, f := range frames {
		f.Release()
	}
	for _, f := range meta {
		f.Release()
	}
}
