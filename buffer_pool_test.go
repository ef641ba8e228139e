package revwire

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type poolFactory func(capacity int, size int) (BufferPool, error)

// BufferPoolSuite runs the BufferPool contract against one implementation.
type BufferPoolSuite struct {
	suite.Suite
	newPool poolFactory
	pool    BufferPool
}

func (s *BufferPoolSuite) SetupTest() {
	var err error
	s.pool, err = s.newPool(64, 4)
	s.Require().NoError(err)
}

func (s *BufferPoolSuite) TearDownTest() {
	s.pool.Close()
}

func (s *BufferPoolSuite) TestProvideIsInitial() {
	b, err := s.pool.ProvideBuffer()
	s.Require().NoError(err)
	s.Equal(StateInitial, b.State())
	s.Equal(64, b.Capacity())
	s.Equal(64, s.pool.BufferCapacity())
	s.Equal(NoChannel, b.ChannelID())
}

func (s *BufferPoolSuite) TestReleasedBufferIsReused() {
	b, err := s.pool.ProvideBuffer()
	s.Require().NoError(err)
	w, err := b.StartPutting(9)
	s.Require().NoError(err)
	_, _ = w.Write([]byte("dirty"))
	b.SetEOS(true)
	s.Require().NoError(b.Release())
	s.Equal(StateReleased, b.State())

	again, err := s.pool.ProvideBuffer()
	s.Require().NoError(err)
	s.Same(b, again)
	s.Equal(StateInitial, again.State())
	s.Equal(NoChannel, again.ChannelID())
	s.False(again.IsEOS())

	st := s.pool.Stats()
	s.EqualValues(2, st.ProvidedBuffers)
	s.EqualValues(1, st.RetainedBuffers)
	s.EqualValues(1, st.CreatedBuffers)
	s.EqualValues(1, st.Outstanding())
}

func (s *BufferPoolSuite) TestDoubleReleaseIsRejected() {
	b, err := s.pool.ProvideBuffer()
	s.Require().NoError(err)
	s.Require().NoError(b.Release())
	s.ErrorIs(b.Release(), ErrIllegalState)
	s.EqualValues(1, s.pool.Stats().RetainedBuffers)
}

func (s *BufferPoolSuite) TestEvict() {
	var bufs []*Buffer
	for range 3 {
		b, err := s.pool.ProvideBuffer()
		s.Require().NoError(err)
		bufs = append(bufs, b)
	}
	for _, b := range bufs {
		s.Require().NoError(b.Release())
	}
	s.EqualValues(3, s.pool.Stats().IdleBuffers)

	s.Equal(2, s.pool.Evict(1))
	s.EqualValues(1, s.pool.Stats().IdleBuffers)
	s.Equal(0, s.pool.Evict(1))

	s.True(s.pool.EvictOne())
	s.False(s.pool.EvictOne())
	s.EqualValues(0, s.pool.Stats().IdleBuffers)

	s.Eventually(func() bool {
		return s.pool.Stats().DisposedBuffers == 3
	}, time.Second, 5*time.Millisecond)
}

func (s *BufferPoolSuite) TestClosedPool() {
	b, err := s.pool.ProvideBuffer()
	s.Require().NoError(err)
	s.pool.Close()

	_, err = s.pool.ProvideBuffer()
	s.ErrorIs(err, ErrPoolClosed)
	s.NoError(b.Release())
}

func (s *BufferPoolSuite) TestConcurrentUse() {
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(ch int16) {
			defer wg.Done()
			for range 50 {
				b, err := s.pool.ProvideBuffer()
				if !s.NoError(err) {
					return
				}
				w, err := b.StartPutting(ch)
				s.NoError(err)
				_, _ = w.Write([]byte{byte(ch)})
				s.NoError(b.Release())
			}
		}(int16(i))
	}
	wg.Wait()

	st := s.pool.Stats()
	s.EqualValues(400, st.ProvidedBuffers)
	s.EqualValues(400, st.RetainedBuffers)
	s.LessOrEqual(st.IdleBuffers, int32(8))
}

func TestChannelBufferPool(t *testing.T) {
	suite.Run(t, &BufferPoolSuite{newPool: NewBufferPool})
}

func TestPuddleBufferPool(t *testing.T) {
	suite.Run(t, &BufferPoolSuite{newPool: func(capacity, size int) (BufferPool, error) {
		return NewPuddleBufferPool(capacity, int32(size)*2)
	}})
}

func TestChannelPoolBoundsIdle(t *testing.T) {
	pool, err := NewBufferPool(32, 2)
	require.NoError(t, err)
	defer pool.Close()

	var bufs []*Buffer
	for range 5 {
		b, err := pool.ProvideBuffer()
		require.NoError(t, err)
		bufs = append(bufs, b)
	}
	for _, b := range bufs {
		require.NoError(t, b.Release())
	}

	st := pool.Stats()
	assert.EqualValues(t, 2, st.IdleBuffers)
	assert.EqualValues(t, 3, st.DisposedBuffers)

	var disposed int
	for _, b := range bufs {
		if b.State() == StateDisposed {
			disposed++
		}
	}
	assert.Equal(t, 3, disposed)
}

func TestPuddlePoolBlocksWhenExhausted(t *testing.T) {
	pool, err := NewPuddleBufferPool(32, 1)
	require.NoError(t, err)
	defer pool.Close()

	first, err := pool.ProvideBuffer()
	require.NoError(t, err)

	got := make(chan *Buffer)
	go func() {
		b, err := pool.ProvideBuffer()
		if err == nil {
			got <- b
		}
	}()

	select {
	case <-got:
		t.Fatal("second buffer provided while the pool was exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Release())
	select {
	case b := <-got:
		assert.Same(t, first, b)
		assert.Equal(t, StateInitial, b.State())
	case <-time.After(time.Second):
		t.Fatal("released buffer was not handed to the waiting provider")
	}
}

func TestBadPoolCapacity(t *testing.T) {
	_, err := NewBufferPool(0, 1)
	assert.ErrorIs(t, err, ErrBadCapacity)
	_, err = NewPuddleBufferPool(MaxBufferCapacity+1, 1)
	assert.ErrorIs(t, err, ErrBadCapacity)
}

func TestPoolCollector(t *testing.T) {
	pool, err := NewBufferPool(32, 1)
	require.NoError(t, err)
	defer pool.Close()

	a, _ := pool.ProvideBuffer()
	b, _ := pool.ProvideBuffer()
	require.NoError(t, a.Release())
	require.NoError(t, b.Release())

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewPoolCollector("test", pool)))

	families, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, mf := range families {
		require.Len(t, mf.GetMetric(), 1)
		m := mf.GetMetric()[0]
		require.Len(t, m.GetLabel(), 1)
		assert.Equal(t, "test", m.GetLabel()[0].GetValue())
		if c := m.GetCounter(); c != nil {
			got[mf.GetName()] = c.GetValue()
		} else {
			got[mf.GetName()] = m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{
		"revwire_buffer_pool_provided_total": 2,
		"revwire_buffer_pool_retained_total": 2,
		"revwire_buffer_pool_created_total":  2,
		"revwire_buffer_pool_disposed_total": 1,
		"revwire_buffer_pool_idle":           1,
	}, got)
}

func TestChannelPoolDisposesAfterClose(t *testing.T) {
	pool, err := NewBufferPool(32, 4)
	require.NoError(t, err)

	idle, _ := pool.ProvideBuffer()
	out, _ := pool.ProvideBuffer()
	require.NoError(t, idle.Release())
	pool.Close()

	assert.Equal(t, StateDisposed, idle.State())
	require.NoError(t, out.Release())
	assert.Equal(t, StateDisposed, out.State())
	assert.EqualValues(t, 0, pool.Stats().IdleBuffers)
	assert.EqualValues(t, 2, pool.Stats().DisposedBuffers)
}
