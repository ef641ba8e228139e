package revwire

import (
	"bufio"
	"bytes"
	"io"
	"math"
)

// Source is what a Reader decodes from: a byte stream that can also report
// its buffer size.
type Source interface {
	io.Reader
	io.ByteReader
	io.WriterTo
	io.Closer
	Size() int
}

// Reader decodes big-endian primitives from a Source. The first failure is
// latched and every later call becomes a no-op, so a decoder can read a
// whole record and check Err once at the end.
type Reader struct {
	src   Source
	count int64
	err   error
}

var _ Source = (*Reader)(nil)

// NewReaderSize wraps r for decoding. In-memory sources are used directly;
// anything else gets a bufio layer of the given size.
func NewReaderSize(r io.Reader, size int) (*Reader, error) {
	if r == nil {
		return nil, ErrNilIO
	}

	switch src := r.(type) {
	case *Reader:
		if src.src.Size() >= size {
			return &Reader{src: src.src}, nil
		}
	case *bufio.Reader:
		if src.Size() < size {
			return nil, ErrAlreadyBuffered
		}
		return &Reader{src: bufioReaderSource{src}}, nil
	case *BytesReader:
		return &Reader{src: src}, nil
	case *bytes.Reader:
		return &Reader{src: bytesReaderSource{src}}, nil
	case *bytes.Buffer:
		return &Reader{src: bytesBufferSource{src}}, nil
	}

	if size == 0 {
		size = BUFFER_SIZE
	}
	if size < 16 {
		return nil, ErrSizeTooSmall
	}
	return &Reader{src: bufioReaderSource{bufio.NewReaderSize(r, size)}}, nil
}

// NewReader is NewReaderSize with the default buffer size.
func NewReader(r io.Reader) (*Reader, error) {
	return NewReaderSize(r, 0)
}

func (r *Reader) Close() error { return r.src.Close() }
func (r *Reader) Size() int    { return r.src.Size() }

// Count is the number of bytes consumed; Err and IsEOF report the latched error.
func (r *Reader) Count() int64 { return r.count }
func (r *Reader) Err() error   { return r.err }
func (r *Reader) IsEOF() bool  { return r.err == io.EOF }

// Read reads from the source and latches any error.
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err := r.src.Read(p)
	r.count += int64(n)
	r.setError(err)
	return n, r.err
}

// WriteTo drains the rest of the source into w.
func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	if w == nil {
		r.setError(ErrWriteToNil)
		return 0, r.err
	}
	n, err := r.src.WriteTo(w)
	r.count += n
	r.setError(err)
	return n, r.err
}

func (r *Reader) setError(err error) {
	if r.err == nil && err != nil {
		r.err = err
	}
}

// Fail latches err unless an earlier error is already recorded. Decoders
// report malformed input through it.
func (r *Reader) Fail(err error) {
	r.setError(err)
}

// Result returns the bytes consumed and the latched error.
func (r *Reader) Result() (int64, error) {
	return r.count, r.err
}

// readFull reads exactly n bytes. A value cut off by the end of input is
// io.ErrUnexpectedEOF even when none of its bytes arrived.
func (r *Reader) readFull(n int) []byte {
	if r.err != nil {
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		r.err = err
		return nil
	}
	return buf
}

// ReadBytes returns the next n bytes, or nil after a failure.
func (r *Reader) ReadBytes(n int) []byte {
	if n <= 0 {
		return nil
	}
	return r.readFull(n)
}

// ReadBytesTo fills dest.
func (r *Reader) ReadBytesTo(dest []byte) {
	if r.err != nil || len(dest) == 0 {
		return
	}
	if _, err := io.ReadFull(r, dest); err != nil {
		r.err = err
	}
}

// ReadByte returns io.EOF at a clean end of input.
func (r *Reader) ReadByte() (byte, error) {
	if r.err != nil {
		return 0, r.err
	}
	b, err := r.src.ReadByte()
	if err != nil {
		r.err = err
		return 0, err
	}
	r.count++
	return b, nil
}

// readField reads a one-byte field. Running out of input here is
// io.ErrUnexpectedEOF, as for wider fields.
func (r *Reader) readField() (byte, bool) {
	if r.err != nil {
		return 0, false
	}
	b, err := r.ReadByte()
	if err == io.EOF {
		r.err = io.ErrUnexpectedEOF
	}
	return b, err == nil
}

// ReadUint8 and the other fixed-width Read methods store into dest only on
// success. Input that ends inside a field latches io.ErrUnexpectedEOF.
func (r *Reader) ReadUint8(dest *uint8) {
	if b, ok := r.readField(); ok {
		*dest = b
	}
}

func (r *Reader) ReadBool(dest *bool) {
	if b, ok := r.readField(); ok {
		*dest = b != 0
	}
}

func (r *Reader) ReadUint16(dest *uint16) {
	if buf := r.readFull(2); buf != nil {
		*dest = Order.Uint16(buf)
	}
}

func (r *Reader) ReadUint32(dest *uint32) {
	if buf := r.readFull(4); buf != nil {
		*dest = Order.Uint32(buf)
	}
}

func (r *Reader) ReadUint64(dest *uint64) {
	if buf := r.readFull(8); buf != nil {
		*dest = Order.Uint64(buf)
	}
}

func (r *Reader) ReadInt32(dest *int32) {
	if buf := r.readFull(4); buf != nil {
		*dest = int32(Order.Uint32(buf))
	}
}

func (r *Reader) ReadInt64(dest *int64) {
	if buf := r.readFull(8); buf != nil {
		*dest = int64(Order.Uint64(buf))
	}
}

// ReadFloat64 reads the IEEE 754 bits as a uint64.
func (r *Reader) ReadFloat64(dest *float64) {
	if buf := r.readFull(8); buf != nil {
		*dest = math.Float64frombits(Order.Uint64(buf))
	}
}

// MAX_STRING_SIZE bounds length-prefixed strings and byte arrays so a
// corrupted prefix cannot force a huge allocation.
const MAX_STRING_SIZE = 64 << 20

// ReadLen reads an int32 length or count prefix and checks it against
// limit. A bad prefix latches ErrBadLength and yields 0.
func (r *Reader) ReadLen(limit int32) int {
	var n int32
	r.ReadInt32(&n)
	if r.err != nil {
		return 0
	}
	if err := CheckLength(n, limit); err != nil {
		r.err = err
		return 0
	}
	return int(n)
}

// ReadUTF reads an int32-length-prefixed UTF-8 string.
func (r *Reader) ReadUTF(dest *string) {
	n := r.ReadLen(MAX_STRING_SIZE)
	if r.err != nil {
		return
	}
	if n == 0 {
		*dest = ""
		return
	}
	if buf := r.readFull(n); buf != nil {
		*dest = string(buf)
	}
}

// ReadByteArray reads an int32-length-prefixed byte slice. An empty array
// decodes as a non-nil empty slice.
func (r *Reader) ReadByteArray(dest *[]byte) {
	n := r.ReadLen(MAX_STRING_SIZE)
	if r.err != nil {
		return
	}
	if n == 0 {
		*dest = []byte{}
		return
	}
	if buf := r.readFull(n); buf != nil {
		*dest = buf
	}
}
