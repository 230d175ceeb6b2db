package media

import (
	"errors"
	"sync"
)

// ErrBufferTooSmall is returned when a frame from a non-growable pool cannot
// hold an incoming payload.
var ErrBufferTooSmall = errors.New("media: frame buffer too small")

// FramePool is a fixed-count ring of reusable backing buffers for received
// frames. It bounds the memory a channel can hold: once count frames are
// outstanding, Acquire returns nil and the caller drops the frame.
//
// Buffers grow on demand up to the kind's payload cap but never shrink.
// The oldest released buffer is reused first.
type FramePool struct {
	kind        FrameKind
	count       int
	initialSize int
	growable    bool

	mu        sync.Mutex
	free      []*Frame
	allocated int
	disposed  bool
}

// NewFramePool creates a pool of count reusable frames for the given kind.
// Each buffer starts at initialSize bytes; growable controls whether buffers
// may grow beyond that (up to the kind's cap) when larger payloads arrive.
func NewFramePool(kind FrameKind, count, initialSize int, growable bool) *FramePool {
	if count < 1 {
		count = 1
	}
	if initialSize < 0 {
		initialSize = 0
	}
	return &FramePool{
		kind:        kind,
		count:       count,
		initialSize: initialSize,
		growable:    growable,
	}
}

// Kind returns the frame kind this pool serves.
func (p *FramePool) Kind() FrameKind { return p.kind }

// Acquire returns a frame backed by a pooled buffer, or nil when all count
// frames are outstanding. The frame's fields are zeroed; its buffer retains
// whatever capacity it last grew to.
func (p *FramePool) Acquire() *Frame {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return nil
	}

	if len(p.free) > 0 {
		f := p.free[0]
		p.free = p.free[1:]
		p.reset(f)
		return f
	}

	if p.allocated >= p.count {
		return nil
	}
	p.allocated++
	f := &Frame{
		Kind: p.kind,
		buf:  make([]byte, p.initialSize),
		pool: p,
	}
	f.Data = f.buf[:0]
	return f
}

// Release returns a frame to the pool. Frames released after Dispose are
// discarded. Releasing a frame from a different pool is ignored.
func (p *FramePool) Release(f *Frame) {
	if f == nil || f.pool != p {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return
	}
	p.free = append(p.free, f)
}

// Outstanding returns the number of frames currently held by callers.
func (p *FramePool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated - len(p.free)
}

// Dispose releases the pool's buffers. Subsequent Acquire calls return nil
// and releases are discarded.
func (p *FramePool) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposed = true
	p.free = nil
}

// reset clears a recycled frame's fields while keeping its backing buffer.
func (p *FramePool) reset(f *Frame) {
	buf, pool := f.buf, f.pool
	*f = Frame{}
	f.Kind = p.kind
	f.buf = buf
	f.pool = pool
	f.Data = buf[:0]
}

// Pools bundles the per-kind pools a channel draws receive buffers from.
type Pools struct {
	Video    *FramePool
	Audio    *FramePool
	Metadata *FramePool
}

// DefaultPools builds the standard per-kind pool set. Video buffers start
// at 1 MiB, audio at 64 KiB, metadata at 4 KiB; all grow on demand.
func DefaultPools() Pools {
	return Pools{
		Video:    NewFramePool(KindVideo, DefaultVideoPoolCount, 1<<20, true),
		Audio:    NewFramePool(KindAudio, DefaultAudioPoolCount, 64<<10, true),
		Metadata: NewFramePool(KindMetadata, DefaultMetadataPoolCount, 4<<10, true),
	}
}

// For returns the pool serving the given kind, or nil for an invalid kind.
func (p Pools) For(k FrameKind) *FramePool {
	switch k {
	case KindVideo:
		return p.Video
	case KindAudio:
		return p.Audio
	case KindMetadata:
		return p.Metadata
	default:
		return nil
	}
}

// Dispose disposes all three pools.
func (p Pools) Dispose() {
	if p.Video != nil {
		p.Video.Dispose()
	}
	if p.Audio != nil {
		p.Audio.Dispose()
	}
	if p.Metadata != nil {
		p.Metadata.Dispose()
	}
}
