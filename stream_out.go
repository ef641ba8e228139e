package revwire

import (
	"io"
	"sync"
)

// BufferHandlerFunc adapts a function to BufferHandler.
type BufferHandlerFunc func(b *Buffer)

func (f BufferHandlerFunc) HandleBuffer(b *Buffer) { f(b) }

// Loopback returns a sink that turns filled buffers around and hands them to
// in, connecting a ByteStreamOut to a ByteStreamIn without a socket.
func Loopback(in BufferHandler) BufferHandler {
	return BufferHandlerFunc(func(b *Buffer) {
		if _, err := b.Flip(); err != nil {
			b.HandleError(err)
			_ = b.Release()
			return
		}
		in.HandleBuffer(b)
	})
}

// ByteStreamOut splits a byte stream into frames for one channel. A buffer is
// handed to the sink as soon as it is full; Flush hands off a partial one.
//
// Write, Flush and Close must be called from one goroutine. Failures reported
// later through the buffers' error handler are latched and returned by the
// next Write or Flush.
type ByteStreamOut struct {
	provider BufferProvider
	sink     BufferHandler
	channel  int16

	current *Buffer
	w       *BytesWriter
	closed  bool

	mu  sync.Mutex
	err error
}

var (
	_ io.Writer     = (*ByteStreamOut)(nil)
	_ io.ByteWriter = (*ByteStreamOut)(nil)
)

// NewByteStreamOut returns a stream that fills buffers from provider and hands
// every finished frame for channel to sink.
func NewByteStreamOut(provider BufferProvider, sink BufferHandler, channel int16) *ByteStreamOut {
	return &ByteStreamOut{provider: provider, sink: sink, channel: channel}
}

// ChannelID is the channel stamped on outgoing frames.
func (o *ByteStreamOut) ChannelID() int16 { return o.channel }

func (o *ByteStreamOut) setError(err error) {
	o.mu.Lock()
	if o.err == nil {
		o.err = err
	}
	o.mu.Unlock()
}

// Err returns the latched asynchronous error, if any.
func (o *ByteStreamOut) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

func (o *ByteStreamOut) check() error {
	if o.closed {
		return ErrStreamClosed
	}
	return o.Err()
}

// ensureBuffer makes o.w point at a buffer with room for at least one byte.
func (o *ByteStreamOut) ensureBuffer() error {
	if o.current != nil {
		return nil
	}
	b, err := o.provider.ProvideBuffer()
	if err != nil {
		return err
	}
	w, err := b.StartPutting(o.channel)
	if err != nil {
		_ = b.Release()
		return err
	}
	b.SetErrorHandler(o.setError)
	o.current, o.w = b, w
	return nil
}

func (o *ByteStreamOut) handOff(eos bool) {
	b := o.current
	o.current, o.w = nil, nil
	b.SetEOS(eos)
	o.sink.HandleBuffer(b)
}

// Write implements io.Writer.
func (o *ByteStreamOut) Write(p []byte) (int, error) {
	if err := o.check(); err != nil {
		return 0, err
	}
	written := 0
	for written < len(p) {
		if err := o.ensureBuffer(); err != nil {
			return written, err
		}
		n, _ := o.w.Write(p[written:])
		written += n
		if o.w.Available() == 0 {
			o.handOff(false)
		}
	}
	return written, nil
}

// WriteByte implements io.ByteWriter.
func (o *ByteStreamOut) WriteByte(c byte) error {
	_, err := o.Write([]byte{c})
	return err
}

// Flush hands off the current buffer if it holds any bytes.
func (o *ByteStreamOut) Flush() error {
	if err := o.check(); err != nil {
		return err
	}
	if o.current != nil && o.w.Len() > 0 {
		o.handOff(false)
	}
	return nil
}

// FlushWithEOS ends the logical message. If nothing is pending an empty EOS
// frame is sent so the reader still sees the end.
func (o *ByteStreamOut) FlushWithEOS() error {
	if err := o.check(); err != nil {
		return err
	}
	if err := o.ensureBuffer(); err != nil {
		return err
	}
	o.handOff(true)
	return nil
}

// Close hands off pending bytes as the final frame and drops the stream's
// buffer references. It returns the latched error, if any.
func (o *ByteStreamOut) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if o.current != nil {
		if o.w.Len() > 0 {
			o.handOff(true)
		} else {
			_ = o.current.Release()
			o.current, o.w = nil, nil
		}
	}
	return o.Err()
}
