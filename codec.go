// Package revwire frames payloads for the revision repository wire protocol.
//
// The package has three layers. Buffer is a fixed-capacity frame with an
// explicit state machine; BufferPool hands buffers out and takes them back.
// ByteStreamIn and ByteStreamOut turn queues of buffers into continuous byte
// streams, and Connector multiplexes those streams over one socket by channel
// id. Reader and Writer are sticky-error binary codecs used on top of the
// streams by the graph package.
package revwire

import (
	"encoding"
	"io"
)

// Sizer is an interface for types that can report their binary size.
type Sizer interface {
	// Size returns the size of the type in bytes when binary encoded.
	Size() int
}

// Marshaler defines the core methods for encoding an object into a byte stream.
type Marshaler interface {
	encoding.BinaryMarshaler
	io.WriterTo

	// MarshalTo encodes the object into a pre-allocated buffer, returning an
	// error (io.ErrShortWrite) if the buffer is too small.
	MarshalTo(buf []byte) (int, error)
}

// Unmarshaler defines the core methods for decoding a byte stream into an object.
type Unmarshaler interface {
	encoding.BinaryUnmarshaler
	io.ReaderFrom
}

// Codec aggregates all binary serialization and deserialization interfaces.
type Codec interface {
	Sizer
	Marshaler
	Unmarshaler
}
