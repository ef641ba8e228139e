package revwire

import "io"

// BytesWriter fills a fixed slice, normally the payload area of a Buffer.
// It never grows: once the slice is full, writes stop short with
// io.ErrShortWrite and report how much did fit.
type BytesWriter struct {
	B []byte
	N int // bytes written
}

// NewBytesWriter returns a writer that fills p from the start.
func NewBytesWriter(p []byte) *BytesWriter {
	return &BytesWriter{B: p[:cap(p)]}
}

// Write copies as much of p as fits and returns io.ErrShortWrite for the rest.
func (w *BytesWriter) Write(p []byte) (int, error) {
	n := copy(w.B[w.N:], p)
	w.N += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (w *BytesWriter) WriteString(s string) (int, error) {
	n := copy(w.B[w.N:], s)
	w.N += n
	if n < len(s) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// WriteByte appends c or reports io.ErrShortWrite when the slice is full.
func (w *BytesWriter) WriteByte(c byte) error {
	if w.N == len(w.B) {
		return io.ErrShortWrite
	}
	w.B[w.N] = c
	w.N++
	return nil
}

// ReadFrom fills the remaining space from r with a single Read.
func (w *BytesWriter) ReadFrom(r io.Reader) (int64, error) {
	if w.N == len(w.B) {
		return 0, io.ErrShortWrite
	}
	n, err := r.Read(w.B[w.N:])
	if n < 0 || n > len(w.B)-w.N {
		return 0, ErrInvalidRead
	}
	w.N += n
	if err == io.EOF {
		err = nil
	}
	return int64(n), err
}

func (w *BytesWriter) Close() error { return nil }
func (w *BytesWriter) Flush() error { return nil }

// Reset discards the written bytes.
func (w *BytesWriter) Reset()         { w.N = 0 }
func (w *BytesWriter) Len() int       { return w.N }
func (w *BytesWriter) Size() int      { return len(w.B) }
func (w *BytesWriter) Available() int { return len(w.B) - w.N }
func (w *BytesWriter) Bytes() []byte  { return w.B[:w.N] }

// BytesReader consumes a fixed slice, normally the payload of a received
// frame.
type BytesReader struct {
	B []byte
	N int // bytes consumed
}

// NewBytesReader returns a reader over b.
func NewBytesReader(b []byte) *BytesReader {
	return &BytesReader{B: b}
}

func (r *BytesReader) Read(p []byte) (int, error) {
	if r.N >= len(r.B) {
		return 0, io.EOF
	}
	n := copy(p, r.B[r.N:])
	r.N += n
	return n, nil
}

func (r *BytesReader) ReadByte() (byte, error) {
	if r.N >= len(r.B) {
		return 0, io.EOF
	}
	c := r.B[r.N]
	r.N++
	return c, nil
}

// WriteTo hands the unread bytes to w in one call.
func (r *BytesReader) WriteTo(w io.Writer) (int64, error) {
	if r.N >= len(r.B) {
		return 0, nil
	}
	n, err := w.Write(r.B[r.N:])
	if n < 0 || n > len(r.B)-r.N {
		return 0, ErrInvalidWrite
	}
	r.N += n
	return int64(n), err
}

func (r *BytesReader) Close() error { return nil }
func (r *BytesReader) Size() int    { return len(r.B) }

// Available reports the unread bytes.
func (r *BytesReader) Available() int {
	return max(len(r.B)-r.N, 0)
}
