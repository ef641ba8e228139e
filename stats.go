package revwire

import (
	"sync/atomic"
)

// PoolStats contains statistics about a buffer pool.
//
// For Prometheus integration (see NewPoolCollector) these are exposed as:
//   - Counters: ProvidedBuffers, RetainedBuffers, CreatedBuffers, DisposedBuffers
//   - Gauge: IdleBuffers
type PoolStats struct {
	ProvidedBuffers uint64 // Total ProvideBuffer calls that returned a buffer
	RetainedBuffers uint64 // Total buffers handed back
	CreatedBuffers  uint64 // Buffers allocated
	DisposedBuffers uint64 // Buffers dropped (evicted, overflow, closed pool)

	IdleBuffers int32 // Buffers currently idle in the pool
	_           int32
}

// Outstanding is the number of buffers provided and not yet retained.
func (s PoolStats) Outstanding() int64 {
	return int64(s.ProvidedBuffers) - int64(s.RetainedBuffers)
}

// poolStatsCollector provides internal methods for updating pool stats.
// The zero value is ready to use.
type poolStatsCollector struct {
	stats PoolStats
}

func (c *poolStatsCollector) recordProvide() {
	atomic.AddUint64(&c.stats.ProvidedBuffers, 1)
}

func (c *poolStatsCollector) recordProvideFromIdle() {
	atomic.AddUint64(&c.stats.ProvidedBuffers, 1)
	atomic.AddInt32(&c.stats.IdleBuffers, -1)
}

func (c *poolStatsCollector) recordRetain() {
	atomic.AddUint64(&c.stats.RetainedBuffers, 1)
}

func (c *poolStatsCollector) recordCreate() {
	atomic.AddUint64(&c.stats.CreatedBuffers, 1)
}

func (c *poolStatsCollector) recordDispose() {
	atomic.AddUint64(&c.stats.DisposedBuffers, 1)
}

func (c *poolStatsCollector) recordIdle(delta int32) {
	atomic.AddInt32(&c.stats.IdleBuffers, delta)
}

func (c *poolStatsCollector) snapshot() PoolStats {
	return PoolStats{
		ProvidedBuffers: atomic.LoadUint64(&c.stats.ProvidedBuffers),
		RetainedBuffers: atomic.LoadUint64(&c.stats.RetainedBuffers),
		CreatedBuffers:  atomic.LoadUint64(&c.stats.CreatedBuffers),
		DisposedBuffers: atomic.LoadUint64(&c.stats.DisposedBuffers),
		IdleBuffers:     atomic.LoadInt32(&c.stats.IdleBuffers),
	}
}
