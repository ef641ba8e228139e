package revwire

import (
	"errors"
	"io"
	"math"
	"os"
)

// BufferState is the lifecycle state of a Buffer.
type BufferState int32

const (
	StateInitial BufferState = iota
	StatePutting
	StateWriting
	StateReadingHeader
	StateReadingBody
	StateGetting
	StateReleased
	StateDisposed
)

var stateNames = [...]string{
	StateInitial:       "INITIAL",
	StatePutting:       "PUTTING",
	StateWriting:       "WRITING",
	StateReadingHeader: "READING_HEADER",
	StateReadingBody:   "READING_BODY",
	StateGetting:       "GETTING",
	StateReleased:      "RELEASED",
	StateDisposed:      "DISPOSED",
}

func (s BufferState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

const (
	// HeaderSize is the frame header: int16 channel id + uint16 length word.
	HeaderSize = 4

	// NoChannel marks a buffer that is not bound to any channel.
	NoChannel int16 = math.MinInt16

	// MaxBufferCapacity is the largest payload the 15-bit length field can carry.
	MaxBufferCapacity = 1<<15 - 1

	eosFlag    uint16 = 1 << 15
	lengthMask uint16 = eosFlag - 1
)

// frameHeader is the fixed wire header of every frame.
type frameHeader struct {
	Channel int16
	Length  uint16 // low 15 bits payload length, high bit EOS
}

type headerCodec = Fixed[frameHeader]

// BufferHandler accepts ownership of a buffer.
type BufferHandler interface {
	HandleBuffer(b *Buffer)
}

// Buffer is a fixed-capacity transport frame. A buffer is owned by exactly
// one goroutine while it is PUTTING or GETTING; Release hands it back to its
// provider and invalidates every view obtained from it.
type Buffer struct {
	provider BufferProvider
	data     []byte // header + payload

	state   BufferState
	channel int16
	eos     bool

	pos   int // bytes of data moved through the socket so far
	limit int // frame end during WRITING / READING_BODY

	w *BytesWriter
	r *BytesReader

	errorHandler func(error)
}

// NewBuffer allocates a standalone buffer. Buffers obtained from a provider
// are returned to it on Release; a standalone buffer is simply dropped.
func NewBuffer(capacity int) (*Buffer, error) {
	return newBuffer(nil, capacity)
}

func newBuffer(provider BufferProvider, capacity int) (*Buffer, error) {
	if capacity <= 0 || capacity > MaxBufferCapacity {
		return nil, ErrBadCapacity
	}
	return &Buffer{
		provider: provider,
		data:     make([]byte, HeaderSize+capacity),
		state:    StateInitial,
		channel:  NoChannel,
	}, nil
}

// State, ChannelID, Capacity and IsEOS report the current frame.
func (b *Buffer) State() BufferState { return b.state }
func (b *Buffer) ChannelID() int16   { return b.channel }
func (b *Buffer) Capacity() int      { return len(b.data) - HeaderSize }
func (b *Buffer) IsEOS() bool        { return b.eos }

// SetEOS marks this buffer as the last frame of a logical message.
func (b *Buffer) SetEOS(eos bool) { b.eos = eos }

// SetErrorHandler installs the callback used to report failures that happen
// after the buffer left its producer, e.g. an asynchronous socket write.
func (b *Buffer) SetErrorHandler(h func(error)) { b.errorHandler = h }

// HandleError reports err to the installed error handler, if any.
func (b *Buffer) HandleError(err error) {
	if h := b.errorHandler; h != nil && err != nil {
		h(err)
	}
}

// StartPutting prepares the buffer to be filled for channel and returns the
// payload view. Calling it again while PUTTING resumes the same view.
func (b *Buffer) StartPutting(channel int16) (*BytesWriter, error) {
	switch b.state {
	case StatePutting:
		if channel != b.channel {
			return nil, ErrChannelMismatch
		}
		return b.w, nil
	case StateInitial:
		b.state = StatePutting
		b.channel = channel
		b.w = NewBytesWriter(b.data[HeaderSize:])
		b.r = nil
		return b.w, nil
	}
	return nil, illegal("StartPutting", b.state)
}

// Write pushes the frame to the socket. The header is sealed on the first
// call. It returns false while bytes remain; the buffer then stays WRITING and
// the call is repeated. A socket that makes no progress, or reports an
// expired deadline, counts as "would block" rather than an error.
func (b *Buffer) Write(socket io.Writer) (bool, error) {
	switch b.state {
	case StatePutting:
		if err := b.sealHeader(); err != nil {
			return false, err
		}
		b.state = StateWriting
	case StateWriting:
	default:
		return false, illegal("Write", b.state)
	}

	for b.pos < b.limit {
		n, err := socket.Write(b.data[b.pos:b.limit])
		if n < 0 || n > b.limit-b.pos {
			return false, ErrInvalidWrite
		}
		b.pos += n
		if err != nil {
			if wouldBlock(err) {
				return false, nil
			}
			return false, err
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

func (b *Buffer) sealHeader() error {
	size := b.w.Len()
	length := uint16(size)
	if b.eos {
		length |= eosFlag
	}
	h := headerCodec{Payload: frameHeader{Channel: b.channel, Length: length}}
	if _, err := h.MarshalTo(b.data[:HeaderSize]); err != nil {
		return err
	}
	b.pos = 0
	b.limit = HeaderSize + size
	b.w = nil
	return nil
}

// Flip turns a filled buffer around for local reading without a socket.
func (b *Buffer) Flip() (*BytesReader, error) {
	if b.state != StatePutting {
		return nil, illegal("Flip", b.state)
	}
	size := b.w.Len()
	b.w = nil
	b.r = NewBytesReader(b.data[HeaderSize : HeaderSize+size])
	b.state = StateGetting
	return b.r, nil
}

// StartGetting reads one frame from the socket. It returns a nil view and a
// nil error until the frame is complete; the caller invokes it again when
// the socket is readable.
func (b *Buffer) StartGetting(socket io.Reader) (*BytesReader, error) {
	switch b.state {
	case StateInitial:
		b.state = StateReadingHeader
		b.pos = 0
		b.eos = false
		b.channel = NoChannel
	case StateReadingHeader, StateReadingBody:
	default:
		return nil, illegal("StartGetting", b.state)
	}

	if b.state == StateReadingHeader {
		done, err := b.fill(socket, HeaderSize)
		if err != nil || !done {
			return nil, err
		}
		var h headerCodec
		if err := h.UnmarshalBinary(b.data[:HeaderSize]); err != nil {
			return nil, err
		}
		size := int(h.Payload.Length & lengthMask)
		if size > b.Capacity() {
			return nil, ErrFrameTooLarge
		}
		b.channel = h.Payload.Channel
		b.eos = h.Payload.Length&eosFlag != 0
		b.limit = HeaderSize + size
		b.state = StateReadingBody
	}

	done, err := b.fill(socket, b.limit)
	if err != nil || !done {
		return nil, err
	}
	b.r = NewBytesReader(b.data[HeaderSize:b.limit])
	b.state = StateGetting
	return b.r, nil
}

// fill reads until pos reaches end. It reports false when the socket would block.
func (b *Buffer) fill(socket io.Reader, end int) (bool, error) {
	for b.pos < end {
		n, err := socket.Read(b.data[b.pos:end])
		if n < 0 || n > end-b.pos {
			return false, ErrInvalidRead
		}
		b.pos += n
		if b.pos == end {
			return true, nil
		}
		if err != nil {
			if wouldBlock(err) {
				return false, nil
			}
			if err == io.EOF && b.pos > 0 {
				return false, io.ErrUnexpectedEOF
			}
			return false, err
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

// Payload returns the bytes put so far while PUTTING, or the whole received
// payload while GETTING.
func (b *Buffer) Payload() ([]byte, error) {
	switch b.state {
	case StatePutting:
		return b.w.Bytes(), nil
	case StateGetting:
		return b.r.B, nil
	}
	return nil, illegal("Payload", b.state)
}

// Writer returns the payload view of a PUTTING buffer.
func (b *Buffer) Writer() (*BytesWriter, error) {
	if b.state != StatePutting {
		return nil, illegal("Writer", b.state)
	}
	return b.w, nil
}

// Reader returns the payload view of a GETTING buffer.
func (b *Buffer) Reader() (*BytesReader, error) {
	if b.state != StateGetting {
		return nil, illegal("Reader", b.state)
	}
	return b.r, nil
}

// Clear resets the buffer to INITIAL from any state but DISPOSED.
func (b *Buffer) Clear() error {
	if b.state == StateDisposed {
		return illegal("Clear", b.state)
	}
	b.state = StateInitial
	b.channel = NoChannel
	b.eos = false
	b.pos, b.limit = 0, 0
	b.w, b.r = nil, nil
	b.errorHandler = nil
	return nil
}

// Release returns the buffer to its provider. Releasing twice is a usage error.
func (b *Buffer) Release() error {
	if b.state == StateReleased || b.state == StateDisposed {
		return illegal("Release", b.state)
	}
	b.state = StateReleased
	b.w, b.r = nil, nil
	b.errorHandler = nil
	if b.provider != nil {
		b.provider.RetainBuffer(b)
	}
	return nil
}

// dispose drops the backing memory; the buffer can never be used again.
func (b *Buffer) dispose() {
	b.state = StateDisposed
	b.data = nil
	b.w, b.r = nil, nil
	b.errorHandler = nil
}

func wouldBlock(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
