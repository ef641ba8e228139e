package revwire

import (
	"github.com/prometheus/client_golang/prometheus"
)

// poolCollector exposes PoolStats as Prometheus metrics.
type poolCollector struct {
	pool BufferPool

	provided *prometheus.Desc
	retained *prometheus.Desc
	created  *prometheus.Desc
	disposed *prometheus.Desc
	idle     *prometheus.Desc
}

// NewPoolCollector returns a collector for pool, labelled with name.
func NewPoolCollector(name string, pool BufferPool) prometheus.Collector {
	labels := prometheus.Labels{"pool": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("revwire", "buffer_pool", metric), help, nil, labels)
	}
	return &poolCollector{
		pool:     pool,
		provided: desc("provided_total", "Buffers handed out by the pool."),
		retained: desc("retained_total", "Buffers returned to the pool."),
		created:  desc("created_total", "Buffers allocated by the pool."),
		disposed: desc("disposed_total", "Buffers dropped by the pool."),
		idle:     desc("idle", "Buffers currently idle in the pool."),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.provided
	ch <- c.retained
	ch <- c.created
	ch <- c.disposed
	ch <- c.idle
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()
	ch <- prometheus.MustNewConstMetric(c.provided, prometheus.CounterValue, float64(s.ProvidedBuffers))
	ch <- prometheus.MustNewConstMetric(c.retained, prometheus.CounterValue, float64(s.RetainedBuffers))
	ch <- prometheus.MustNewConstMetric(c.created, prometheus.CounterValue, float64(s.CreatedBuffers))
	ch <- prometheus.MustNewConstMetric(c.disposed, prometheus.CounterValue, float64(s.DisposedBuffers))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleBuffers))
}
