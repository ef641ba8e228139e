package revwire

import (
	"bufio"
	"bytes"
	"io"
	"math"
)

// Sink is what a Writer encodes into.
type Sink interface {
	io.Writer
	io.ByteWriter
	io.StringWriter
	io.ReaderFrom
	io.Closer
	Size() int
	Flush() error
}

// Writer encodes big-endian primitives into a Sink. Like Reader it latches
// the first error; later writes are dropped and Err or Flush reports it.
type Writer struct {
	w     Sink
	count int64
	err   error
	depth int // nesting level; only the outermost Writer flushes
}

var _ Sink = (*Writer)(nil)

// NewWriterSize wraps w for encoding. A Writer passed in is shared rather
// than buffered twice, and an existing bufio.Writer must be at least size
// bytes.
func NewWriterSize(w io.Writer, size int) (*Writer, error) {
	if w == nil {
		return nil, ErrNilIO
	}

	switch dst := w.(type) {
	case *Writer:
		if dst.w.Size() >= size {
			return &Writer{w: dst.w, depth: dst.depth + 1}, nil
		}
	case *bufio.Writer:
		if dst.Size() < size {
			return nil, ErrAlreadyBuffered
		}
		return &Writer{w: bufioWriterSink{dst}, depth: 1}, nil
	case *BytesWriter:
		return &Writer{w: dst}, nil
	case *bytes.Buffer:
		return &Writer{w: bytesBufferSink{dst}}, nil
	}
	return &Writer{w: bufioWriterSink{bufio.NewWriterSize(w, size)}}, nil
}

// NewWriter is NewWriterSize with the default buffer size.
func NewWriter(w io.Writer) (*Writer, error) {
	return NewWriterSize(w, 0)
}

func (w *Writer) Close() error { return w.w.Close() }
func (w *Writer) Size() int    { return w.w.Size() }

// Count is the number of bytes accepted; Err is the latched error.
func (w *Writer) Count() int64 { return w.count }
func (w *Writer) Err() error   { return w.err }

// Write passes through to the sink and latches any error. WriteString and
// ReadFrom do the same.
func (w *Writer) Write(buf []byte) (int, error) {
	if buf == nil || w.err != nil {
		return 0, w.err
	}
	n, err := w.w.Write(buf)
	w.count += int64(n)
	w.setError(err)
	return n, w.err
}

func (w *Writer) WriteString(str string) (int, error) {
	if str == "" || w.err != nil {
		return 0, w.err
	}
	n, err := w.w.WriteString(str)
	w.count += int64(n)
	w.setError(err)
	return n, w.err
}

func (w *Writer) ReadFrom(r io.Reader) (int64, error) {
	if r == nil || w.err != nil {
		return 0, w.err
	}
	n, err := w.w.ReadFrom(r)
	w.count += n
	w.setError(err)
	return n, w.err
}

func (w *Writer) setError(err error) {
	if w.err == nil && err != nil {
		w.err = err
	}
}

// Fail latches err unless an earlier error is already recorded. Encoders
// use it to reject values that cannot be put on the wire.
func (w *Writer) Fail(err error) {
	w.setError(err)
}

// Result flushes and returns the bytes written and the latched error.
func (w *Writer) Result() (int64, error) {
	_ = w.Flush()
	return w.count, w.err
}

// Flush pushes buffered bytes to the destination. A nested writer leaves that
// to the outermost one.
func (w *Writer) Flush() error {
	if w.depth > 0 || w.err != nil {
		return w.err
	}
	err := w.w.Flush()
	w.setError(err)
	return err
}

// WriteFrom copies a whole encoded value, such as a Fixed record.
func (w *Writer) WriteFrom(wt io.WriterTo) {
	if wt == nil || w.err != nil {
		return
	}
	n, err := wt.WriteTo(w.w)
	w.count += n
	w.setError(err)
}

// WriteBytes writes buf without a length prefix.
func (w *Writer) WriteBytes(buf []byte) {
	if len(buf) > 0 {
		_, _ = w.Write(buf)
	}
}

func (w *Writer) WriteByte(v byte) error {
	if w.err != nil {
		return w.err
	}
	if err := w.w.WriteByte(v); err != nil {
		w.err = err
		return err
	}
	w.count++
	return nil
}

// WriteUint8 and the other fixed-width Write methods encode in Order and do
// nothing once an error is latched.
func (w *Writer) WriteUint8(v uint8) { _ = w.WriteByte(v) }

func (w *Writer) WriteBool(v bool) {
	if v {
		_ = w.WriteByte(1)
	} else {
		_ = w.WriteByte(0)
	}
}

func (w *Writer) WriteUint16(v uint16) {
	var buf [2]byte
	Order.PutUint16(buf[:], v)
	_, _ = w.Write(buf[:])
}

func (w *Writer) WriteUint32(v uint32) {
	var buf [4]byte
	Order.PutUint32(buf[:], v)
	_, _ = w.Write(buf[:])
}

func (w *Writer) WriteUint64(v uint64) {
	var buf [8]byte
	Order.PutUint64(buf[:], v)
	_, _ = w.Write(buf[:])
}

// WriteInt32 and its signed and floating siblings reuse the unsigned encodings.
func (w *Writer) WriteInt32(v int32)     { w.WriteUint32(uint32(v)) }
func (w *Writer) WriteInt64(v int64)     { w.WriteUint64(uint64(v)) }
func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

// WriteLen writes an int32 length or count prefix.
func (w *Writer) WriteLen(n int) {
	if n < 0 || n > math.MaxInt32 {
		w.setError(ErrBadLength)
		return
	}
	w.WriteInt32(int32(n))
}

// WriteUTF writes s as an int32 length followed by its UTF-8 bytes.
func (w *Writer) WriteUTF(s string) {
	if len(s) > MAX_STRING_SIZE {
		w.setError(ErrBadLength)
		return
	}
	w.WriteLen(len(s))
	_, _ = w.WriteString(s)
}

// WriteByteArray writes b as an int32 length followed by its bytes.
func (w *Writer) WriteByteArray(b []byte) {
	if len(b) > MAX_STRING_SIZE {
		w.setError(ErrBadLength)
		return
	}
	w.WriteLen(len(b))
	w.WriteBytes(b)
}
