package revwire

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

const outQueueSize = 64

// retryDelay spaces out retries of a socket read or write that would block.
const retryDelay = time.Millisecond

// Channel is one logical stream pair multiplexed over a Connector.
type Channel struct {
	id   int16
	conn *Connector
	in   *ByteStreamIn
}

// ID is the channel id carried in every frame header.
func (ch *Channel) ID() int16 { return ch.id }

// Input returns the stream that receives this channel's frames.
func (ch *Channel) Input() *ByteStreamIn { return ch.in }

// NewOutput returns a stream that sends frames on this channel. Each logical
// message normally gets its own output, ended with FlushWithEOS or Close.
func (ch *Channel) NewOutput() *ByteStreamOut {
	return NewByteStreamOut(ch.conn.provider, ch.conn, ch.id)
}

// Close unregisters the channel from its connector.
func (ch *Channel) Close() error {
	return ch.conn.CloseChannel(ch.id)
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithLogger sets the logger used for connection events.
func WithLogger(log zerolog.Logger) ConnectorOption {
	return func(c *Connector) { c.log = log }
}

// WithReadTimeout sets the timeout of every channel input.
func WithReadTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) { c.timeout = d }
}

// WithBreaker routes socket writes through a circuit breaker built from s.
func WithBreaker(s gobreaker.Settings) ConnectorOption {
	return func(c *Connector) { c.breaker = gobreaker.NewCircuitBreaker[bool](s) }
}

// WithAcceptor opens channels announced by the peer. accept runs on its own
// goroutine for every new channel. Without an acceptor, frames for unknown
// channels are dropped.
func WithAcceptor(accept func(ch *Channel)) ConnectorOption {
	return func(c *Connector) { c.accept = accept }
}

// Connector multiplexes channels over one socket. A read goroutine pulls
// frames and dispatches them by channel id; a write goroutine drains the
// frames handed to it by channel outputs. Sockets with deadlines are
// supported: a read or write that would block is retried after retryDelay.
type Connector struct {
	conn     io.ReadWriteCloser
	provider BufferProvider
	log      zerolog.Logger
	timeout  time.Duration
	breaker  *gobreaker.CircuitBreaker[bool]
	accept   func(ch *Channel)

	channels *xsync.Map[int16, *Channel]
	outq     chan *Buffer
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	closeOnce sync.Once
	cause     error
	wg        sync.WaitGroup
}

var _ BufferHandler = (*Connector)(nil)

// NewConnector starts the I/O goroutines on conn. Buffers are taken from provider.
func NewConnector(conn io.ReadWriteCloser, provider BufferProvider, opts ...ConnectorOption) *Connector {
	c := &Connector{
		conn:     conn,
		provider: provider,
		log:      zerolog.Nop(),
		timeout:  NoTimeout,
		channels: xsync.NewMap[int16, *Channel](),
		outq:     make(chan *Buffer, outQueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	return c
}

// OpenChannel registers a channel id on this side of the connection.
func (c *Connector) OpenChannel(id int16) (*Channel, error) {
	if id == NoChannel {
		return nil, ErrUnknownChannel
	}
	select {
	case <-c.done:
		return nil, ErrConnectorClosed
	default:
	}

	ch := &Channel{id: id, conn: c, in: NewByteStreamIn(c.timeout)}
	if _, loaded := c.channels.LoadOrStore(id, ch); loaded {
		return nil, ErrChannelInUse
	}
	c.log.Debug().Int16("channel", id).Msg("channel opened")
	return ch, nil
}

// Channel returns an open channel.
func (c *Connector) Channel(id int16) (*Channel, bool) {
	return c.channels.Load(id)
}

// CloseChannel unregisters id and closes its input.
func (c *Connector) CloseChannel(id int16) error {
	ch, ok := c.channels.LoadAndDelete(id)
	if !ok {
		return ErrUnknownChannel
	}
	c.log.Debug().Int16("channel", id).Msg("channel closed")
	return ch.in.Close()
}

// HandleBuffer queues a filled buffer for the write goroutine. After Close the
// buffer is failed with ErrConnectorClosed and released.
func (c *Connector) HandleBuffer(b *Buffer) {
	select {
	case <-c.done:
		c.reject(b)
		return
	default:
	}
	select {
	case c.outq <- b:
	case <-c.done:
		c.reject(b)
	}
}

func (c *Connector) reject(b *Buffer) {
	b.HandleError(ErrConnectorClosed)
	_ = b.Release()
}

func (c *Connector) readLoop() {
	defer c.wg.Done()
	for {
		b, err := ProvideBufferContext(c.ctx, c.provider)
		if err != nil {
			c.shutdown(err)
			return
		}
		if err := c.readFrame(b); err != nil {
			_ = b.Release()
			c.shutdown(err)
			return
		}
		c.dispatch(b)
	}
}

func (c *Connector) readFrame(b *Buffer) error {
	for {
		r, err := b.StartGetting(c.conn)
		if err != nil {
			return err
		}
		if r != nil {
			return nil
		}
		if !c.wait() {
			return ErrConnectorClosed
		}
	}
}

// wait sleeps for retryDelay and reports false if the connector stopped
// meanwhile.
func (c *Connector) wait() bool {
	t := time.NewTimer(retryDelay)
	defer t.Stop()
	select {
	case <-c.done:
		return false
	case <-t.C:
		return true
	}
}

func (c *Connector) dispatch(b *Buffer) {
	id := b.ChannelID()
	ch, ok := c.channels.Load(id)
	if !ok && c.accept != nil {
		if opened, err := c.OpenChannel(id); err == nil {
			ch, ok = opened, true
			go c.accept(opened)
		} else {
			ch, ok = c.channels.Load(id)
		}
	}
	if !ok {
		c.log.Warn().Int16("channel", id).Msg("frame for unknown channel dropped")
		_ = b.Release()
		return
	}
	ch.in.HandleBuffer(b)
}

func (c *Connector) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case b := <-c.outq:
			c.writeFrame(b)
		case <-c.done:
			for {
				select {
				case b := <-c.outq:
					c.reject(b)
				default:
					return
				}
			}
		}
	}
}

func (c *Connector) writeFrame(b *Buffer) {
	flush := func() (bool, error) {
		for {
			done, err := b.Write(c.conn)
			if err != nil || done {
				return done, err
			}
			if !c.wait() {
				return false, ErrConnectorClosed
			}
		}
	}

	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(flush)
	} else {
		_, err = flush()
	}
	if err != nil {
		c.log.Error().Err(err).Int16("channel", b.ChannelID()).Msg("frame write failed")
		b.HandleError(err)
	}
	_ = b.Release()
}

// shutdown stops both loops once. Readers of a peer that closed cleanly see
// the end of their stream after the data already queued; any other cause is
// injected into every channel input.
func (c *Connector) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.cause = cause
		close(c.done)
		c.cancel()
		_ = c.conn.Close()

		clean := errors.Is(cause, io.EOF)
		if clean {
			c.log.Info().Msg("connection closed by peer")
		} else if !errors.Is(cause, ErrConnectorClosed) {
			c.log.Error().Err(cause).Msg("connection failed")
		}

		c.channels.Range(func(id int16, ch *Channel) bool {
			if clean {
				ch.in.HandleBuffer(endOfStream(id))
			} else {
				ch.in.SetError(cause)
			}
			return true
		})
	})
}

// endOfStream is an empty standalone EOS frame for channel id.
func endOfStream(id int16) *Buffer {
	b, _ := NewBuffer(1)
	_, _ = b.StartPutting(id)
	b.SetEOS(true)
	_, _ = b.Flip()
	return b
}

// Err returns what stopped the connector, or nil while it runs.
func (c *Connector) Err() error {
	select {
	case <-c.done:
		return c.cause
	default:
		return nil
	}
}

// Done is closed once the connector has stopped.
func (c *Connector) Done() <-chan struct{} { return c.done }

// Close closes the socket, fails every channel input with ErrConnectorClosed
// and waits for the I/O goroutines.
func (c *Connector) Close() error {
	c.shutdown(ErrConnectorClosed)
	c.wg.Wait()
	return nil
}
