package revwire

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// NoTimeout disables the read deadline of a ByteStreamIn.
const NoTimeout time.Duration = 0

// pollSlice bounds one blocking wait so faults and closes are noticed promptly.
const pollSlice = 100 * time.Millisecond

// bufferQueue is the unbounded FIFO between the I/O goroutine and readers.
type bufferQueue struct {
	mu     sync.Mutex
	items  []*Buffer
	signal chan struct{}
}

func newBufferQueue() *bufferQueue {
	return &bufferQueue{signal: make(chan struct{}, 1)}
}

func (q *bufferQueue) push(b *Buffer) {
	q.mu.Lock()
	q.items = append(q.items, b)
	q.mu.Unlock()
	q.notify()
}

func (q *bufferQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *bufferQueue) pop() *Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	b := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return b
}

func (q *bufferQueue) drain() []*Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// ByteStreamIn turns a queue of received buffers into an ordered byte stream.
// The I/O side calls HandleBuffer; readers block until bytes arrive, the
// stream ends (io.EOF), the deadline passes (ErrTimeout), a fault is injected
// with SetError, or the stream is closed (io.EOF).
type ByteStreamIn struct {
	timeout time.Duration

	qmu   sync.Mutex
	queue *bufferQueue // nil once closed
	done  chan struct{}

	// consumer state
	rmu     sync.Mutex
	current *Buffer
	reader  *BytesReader
	eos     bool

	deadline atomic.Int64 // unix nanos; 0 until the first poll

	fmu   sync.Mutex
	fault error
}

var _ BufferHandler = (*ByteStreamIn)(nil)

// NewByteStreamIn creates an inbound stream. A timeout of NoTimeout waits forever.
func NewByteStreamIn(timeout time.Duration) *ByteStreamIn {
	return &ByteStreamIn{
		timeout: timeout,
		queue:   newBufferQueue(),
		done:    make(chan struct{}),
	}
}

// Timeout is the per-buffer wait; NoTimeout waits forever.
func (s *ByteStreamIn) Timeout() time.Duration { return s.timeout }

func (s *ByteStreamIn) loadQueue() *bufferQueue {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return s.queue
}

// HandleBuffer enqueues a received buffer, which must be GETTING. Ownership
// passes to the stream; buffers arriving after Close are released at once.
func (s *ByteStreamIn) HandleBuffer(b *Buffer) {
	s.qmu.Lock()
	q := s.queue
	if q != nil {
		q.push(b)
	}
	s.qmu.Unlock()
	if q == nil {
		_ = b.Release()
	}
}

// SetError marks the stream as failed from another goroutine. The next read
// returns err annotated with the reading goroutine's stack.
func (s *ByteStreamIn) SetError(err error) {
	if err == nil {
		return
	}
	s.fmu.Lock()
	s.fault = err
	s.fmu.Unlock()
	if q := s.loadQueue(); q != nil {
		q.notify()
	}
}

func (s *ByteStreamIn) checkFault() error {
	s.fmu.Lock()
	defer s.fmu.Unlock()
	if s.fault != nil {
		return errors.WithStack(s.fault)
	}
	return nil
}

// RestartTimeout starts a fresh deadline, so idle time between two logical
// reads is not charged to the next one.
func (s *ByteStreamIn) RestartTimeout() {
	if s.timeout != NoTimeout {
		s.deadline.Store(time.Now().Add(s.timeout).UnixNano())
	}
}

// Read implements io.Reader. It returns the bytes available in the current
// buffer and only blocks when none are left.
func (s *ByteStreamIn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	s.rmu.Lock()
	defer s.rmu.Unlock()

	if err := s.ensureBuffer(); err != nil {
		return 0, err
	}
	n, _ := s.reader.Read(p)
	return n, nil
}

// ReadByte implements io.ByteReader.
func (s *ByteStreamIn) ReadByte() (byte, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()

	if err := s.ensureBuffer(); err != nil {
		return 0, err
	}
	return s.reader.ReadByte()
}

// ensureBuffer makes s.reader hold at least one unread byte.
func (s *ByteStreamIn) ensureBuffer() error {
	for {
		if err := s.checkFault(); err != nil {
			return err
		}
		if s.loadQueue() == nil {
			s.releaseCurrent()
			return io.EOF
		}
		if s.reader != nil && s.reader.Available() > 0 {
			return nil
		}
		if s.current != nil {
			s.eos = s.current.IsEOS()
			s.releaseCurrent()
		}
		if s.eos {
			return io.EOF
		}

		b, err := s.poll()
		if err != nil {
			return err
		}
		r, err := b.Reader()
		if err != nil {
			_ = b.Release()
			return err
		}
		s.current, s.reader = b, r
	}
}

func (s *ByteStreamIn) releaseCurrent() {
	if s.current != nil {
		_ = s.current.Release()
		s.current, s.reader = nil, nil
	}
}

// poll takes the next buffer, waiting in slices of pollSlice so the deadline,
// injected faults and Close are all rechecked while blocked.
func (s *ByteStreamIn) poll() (*Buffer, error) {
	if s.timeout != NoTimeout && s.deadline.Load() == 0 {
		s.RestartTimeout()
	}

	for {
		q := s.loadQueue()
		if q == nil {
			return nil, io.EOF
		}
		if b := q.pop(); b != nil {
			// Progress: the deadline now measures inactivity from here.
			s.RestartTimeout()
			return b, nil
		}
		if err := s.checkFault(); err != nil {
			return nil, err
		}

		wait := pollSlice
		if s.timeout != NoTimeout {
			remaining := time.Until(time.Unix(0, s.deadline.Load()))
			if remaining <= 0 {
				// The next read starts a fresh wait.
				s.deadline.Store(0)
				return nil, ErrTimeout
			}
			wait = min(wait, remaining)
		}

		timer := time.NewTimer(wait)
		select {
		case <-q.signal:
		case <-s.done:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Close drops the queue. Blocked and later reads return io.EOF; queued
// buffers are released.
func (s *ByteStreamIn) Close() error {
	s.qmu.Lock()
	q := s.queue
	if q == nil {
		s.qmu.Unlock()
		return nil
	}
	s.queue = nil
	close(s.done)
	s.qmu.Unlock()

	for _, b := range q.drain() {
		_ = b.Release()
	}
	return nil
}
