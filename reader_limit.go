package revwire

import "io"

// LimitedReader reads at most N bytes of an enclosing stream. Lob content
// is streamed through it so a payload never over-reads its message.
type LimitedReader struct {
	*io.LimitedReader
}

// LimitReader returns a reader that stops after n bytes of r.
func LimitReader(r io.Reader, n int64) *LimitedReader {
	return &LimitedReader{&io.LimitedReader{R: r, N: n}}
}

// WriteTo copies the remaining bytes to w through a pooled chunk.
func (r *LimitedReader) WriteTo(w io.Writer) (int64, error) {
	if rf, ok := w.(io.ReaderFrom); ok {
		return rf.ReadFrom(r.LimitedReader)
	}
	chunk := bufPool.Get().(*[]byte)
	defer bufPool.Put(chunk)
	return io.CopyBuffer(struct{ io.Writer }{w}, r.LimitedReader, *chunk)
}
