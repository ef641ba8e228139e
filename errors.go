package revwire

import (
	"errors"
	"fmt"
)

// Codec errors.
var (
	ErrNilIO = errors.New("revwire: nil io.Reader or io.Writer")

	// ErrSizeTooSmall is returned for a bufio size below 16 bytes.
	ErrSizeTooSmall = errors.New("revwire: buffer size smaller than 16")

	// ErrAlreadyBuffered is returned when an existing bufio reader or writer
	// is smaller than the requested size. Wrapping it again would double-buffer.
	ErrAlreadyBuffered = errors.New("revwire: reader or writer is already buffered")

	ErrWriteToNil = errors.New("revwire: WriteTo called with a nil io.Writer")

	// ErrInvalidWrite reports an io.Writer that returned a count outside the
	// slice it was given; ErrInvalidRead is the same for an io.Reader.
	ErrInvalidWrite = errors.New("revwire: invalid count from Write out of buffer")
	ErrInvalidRead  = errors.New("revwire: invalid count from Read into buffer")

	// ErrTrailingData is returned when non-zero bytes follow a fixed record.
	ErrTrailingData = errors.New("revwire: non-zero trailing data found after decoding")

	// ErrTruncatedData is returned when a fixed record is cut short.
	ErrTruncatedData = errors.New("revwire: truncated data")

	// ErrBadLength is returned when a length or count prefix is negative or exceeds its limit.
	ErrBadLength = errors.New("revwire: invalid length prefix")
)

// Buffer and pool errors.
var (
	// ErrIllegalState is matched by every *StateError.
	ErrIllegalState = errors.New("revwire: illegal buffer state")

	// ErrChannelMismatch is returned by StartPutting when a buffer that is
	// already being filled is resumed for another channel.
	ErrChannelMismatch = errors.New("revwire: buffer is bound to another channel")

	// ErrFrameTooLarge is returned when a frame header announces a payload
	// larger than the buffer capacity.
	ErrFrameTooLarge = errors.New("revwire: frame payload exceeds buffer capacity")

	// ErrBadCapacity is returned for capacities outside 1..MaxBufferCapacity.
	ErrBadCapacity = errors.New("revwire: invalid buffer capacity")

	ErrPoolClosed = errors.New("revwire: buffer pool closed")
)

// Stream and connector errors.
var (
	// ErrTimeout is returned by ByteStreamIn when no buffer arrives before the
	// deadline. It is distinct from io.EOF: the stream may still deliver data.
	ErrTimeout = errors.New("revwire: stream read timed out")

	ErrStreamClosed    = errors.New("revwire: stream closed")
	ErrConnectorClosed = errors.New("revwire: connector closed")
	ErrChannelInUse    = errors.New("revwire: channel id already open")
	ErrUnknownChannel  = errors.New("revwire: unknown channel")
)

// StateError reports an operation attempted in a state that does not allow it.
type StateError struct {
	Op    string
	State BufferState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("revwire: %s not allowed in state %s", e.Op, e.State)
}

// Is lets errors.Is(err, ErrIllegalState) match any StateError.
func (e *StateError) Is(target error) bool {
	return target == ErrIllegalState
}

func illegal(op string, state BufferState) error {
	return &StateError{Op: op, State: state}
}
