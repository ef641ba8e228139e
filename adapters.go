package revwire

import (
	"bufio"
	"bytes"
)

// Adapters give the standard readers and writers the source/sink method
// sets Reader and Writer expect.
type (
	bytesReaderSource struct{ *bytes.Reader }
	bytesBufferSource struct{ *bytes.Buffer }
	bufioReaderSource struct{ *bufio.Reader }
	bytesBufferSink   struct{ *bytes.Buffer }
	bufioWriterSink   struct{ *bufio.Writer }
)

func (bytesReaderSource) Close() error { return nil }
func (bytesBufferSource) Close() error { return nil }
func (bufioReaderSource) Close() error { return nil }
func (bytesBufferSink) Close() error   { return nil }
func (bytesBufferSink) Flush() error   { return nil }
func (bufioWriterSink) Close() error   { return nil }

func (s bytesReaderSource) Size() int { return int(s.Reader.Size()) }
func (s bytesBufferSource) Size() int { return s.Len() }
func (s bytesBufferSink) Size() int   { return s.Available() }
