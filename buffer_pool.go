package revwire

import (
	"context"
	"sync"
)

// BufferProvider hands out buffers of one fixed capacity and takes them back.
type BufferProvider interface {
	// ProvideBuffer returns an INITIAL buffer of BufferCapacity bytes.
	ProvideBuffer() (*Buffer, error)

	// RetainBuffer takes back a released buffer.
	RetainBuffer(b *Buffer)

	BufferCapacity() int
}

// ContextBufferProvider is a BufferProvider whose ProvideBuffer may block and
// can be abandoned through a context.
type ContextBufferProvider interface {
	BufferProvider
	ProvideBufferContext(ctx context.Context) (*Buffer, error)
}

// ProvideBufferContext takes a buffer from p, honoring ctx when p supports it.
func ProvideBufferContext(ctx context.Context, p BufferProvider) (*Buffer, error) {
	if cp, ok := p.(ContextBufferProvider); ok {
		return cp.ProvideBufferContext(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.ProvideBuffer()
}

// BufferPool is a BufferProvider that keeps idle buffers for reuse and can
// shed them under memory pressure.
type BufferPool interface {
	BufferProvider

	// EvictOne disposes exactly one idle buffer. It reports false when the
	// pool holds no idle buffer.
	EvictOne() bool

	// Evict disposes idle buffers until at most survivors remain and returns
	// the number disposed.
	Evict(survivors int) int

	Stats() PoolStats

	Close()
}

// NewBufferPool creates a channel-based pool that keeps up to maxIdle idle
// buffers of the given capacity. Buffers retained beyond maxIdle are disposed.
func NewBufferPool(capacity int, maxIdle int) (BufferPool, error) {
	if capacity <= 0 || capacity > MaxBufferCapacity {
		return nil, ErrBadCapacity
	}
	if maxIdle < 0 {
		maxIdle = 0
	}
	return &bufferPool{
		capacity: capacity,
		idle:     make(chan *Buffer, maxIdle),
	}, nil
}

// bufferPool is a simple, allocation-optimized buffer pool using a channel.
type bufferPool struct {
	capacity int
	idle     chan *Buffer

	mu     sync.Mutex
	closed bool

	stats poolStatsCollector
}

func (p *bufferPool) BufferCapacity() int { return p.capacity }

func (p *bufferPool) ProvideBuffer() (*Buffer, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	select {
	case b := <-p.idle:
		p.stats.recordProvideFromIdle()
		_ = b.Clear()
		return b, nil
	default:
	}

	b, err := newBuffer(p, p.capacity)
	if err != nil {
		return nil, err
	}
	p.stats.recordCreate()
	p.stats.recordProvide()
	return b, nil
}

func (p *bufferPool) RetainBuffer(b *Buffer) {
	if b == nil || b.provider != p {
		return
	}
	p.stats.recordRetain()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		b.dispose()
		p.stats.recordDispose()
		return
	}

	select {
	case p.idle <- b:
		p.stats.recordIdle(1)
	default:
		// Pool is full.
		b.dispose()
		p.stats.recordDispose()
	}
}

func (p *bufferPool) EvictOne() bool {
	select {
	case b := <-p.idle:
		p.stats.recordIdle(-1)
		b.dispose()
		p.stats.recordDispose()
		return true
	default:
		return false
	}
}

func (p *bufferPool) Evict(survivors int) int {
	if survivors < 0 {
		survivors = 0
	}
	evicted := 0
	for len(p.idle) > survivors {
		if !p.EvictOne() {
			break
		}
		evicted++
	}
	return evicted
}

func (p *bufferPool) Stats() PoolStats {
	return p.stats.snapshot()
}

// Close disposes every idle buffer. Buffers still out are disposed when retained.
func (p *bufferPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for p.EvictOne() {
	}
}
