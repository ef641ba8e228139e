package revwire

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jackc/puddle/v2"
	"github.com/puzpuzpuz/xsync/v4"
)

// NewPuddleBufferPool creates a bounded buffer pool backed by puddle. At most
// maxSize buffers exist at once; ProvideBuffer blocks while all of them are
// out, which pushes back on whoever produces frames.
func NewPuddleBufferPool(capacity int, maxSize int32) (BufferPool, error) {
	if capacity <= 0 || capacity > MaxBufferCapacity {
		return nil, ErrBadCapacity
	}
	p := &puddleBufferPool{
		capacity: capacity,
		out:      xsync.NewMap[*Buffer, *puddle.Resource[*Buffer]](),
	}

	pool, err := puddle.NewPool(&puddle.Config[*Buffer]{
		Constructor: func(ctx context.Context) (*Buffer, error) {
			b, err := newBuffer(p, capacity)
			if err == nil {
				p.stats.recordCreate()
			}
			return b, err
		},
		Destructor: func(b *Buffer) {
			b.dispose()
			p.stats.recordDispose()
		},
		MaxSize: maxSize,
	})
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// puddleBufferPool wraps puddle.Pool to implement BufferPool.
type puddleBufferPool struct {
	capacity int
	pool     *puddle.Pool[*Buffer]
	out      *xsync.Map[*Buffer, *puddle.Resource[*Buffer]]
	closed   atomic.Bool
	stats    poolStatsCollector
}

func (p *puddleBufferPool) BufferCapacity() int { return p.capacity }

func (p *puddleBufferPool) ProvideBuffer() (*Buffer, error) {
	return p.ProvideBufferContext(context.Background())
}

// ProvideBufferContext is ProvideBuffer that gives up with ctx.Err() once ctx
// is done.
func (p *puddleBufferPool) ProvideBufferContext(ctx context.Context) (*Buffer, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, puddle.ErrClosedPool) {
			return nil, ErrPoolClosed
		}
		return nil, err
	}
	b := res.Value()
	if err := b.Clear(); err != nil {
		res.Destroy()
		return nil, err
	}
	p.out.Store(b, res)
	p.stats.recordProvide()
	return b, nil
}

func (p *puddleBufferPool) RetainBuffer(b *Buffer) {
	res, ok := p.out.LoadAndDelete(b)
	if !ok {
		return
	}
	p.stats.recordRetain()
	res.Release()
}

func (p *puddleBufferPool) EvictOne() bool {
	idle := p.pool.AcquireAllIdle()
	if len(idle) == 0 {
		return false
	}
	idle[0].Destroy()
	for _, res := range idle[1:] {
		res.ReleaseUnused()
	}
	return true
}

func (p *puddleBufferPool) Evict(survivors int) int {
	idle := p.pool.AcquireAllIdle()
	evict := len(idle) - max(survivors, 0)
	for i, res := range idle {
		if i < evict {
			res.Destroy()
		} else {
			res.ReleaseUnused()
		}
	}
	return max(evict, 0)
}

// Stats merges the collector's counters with puddle's idle gauge.
func (p *puddleBufferPool) Stats() PoolStats {
	s := p.stats.snapshot()
	s.IdleBuffers = p.pool.Stat().IdleResources()
	return s
}

// Close rejects further requests at once. puddle waits for outstanding
// buffers before it destroys them, so that part runs in the background.
func (p *puddleBufferPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	go p.pool.Close()
}
