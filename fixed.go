package revwire

import (
	"encoding/binary"
	"io"
	"reflect"

	"github.com/puzpuzpuz/xsync/v4"
)

// wireSizes memoizes binary.Size per payload type.
var wireSizes = xsync.NewMap[reflect.Type, int]()

// Fixed encodes a payload made only of fixed-size fields (frame headers and
// similar records) in wire byte order. Slices, maps and strings are not
// allowed in Payload.
type Fixed[Payload any] struct {
	Payload Payload
}

var _ Codec = (*Fixed[struct{}])(nil)

// Size is the encoded size of Payload.
func (c *Fixed[Payload]) Size() int {
	typ := reflect.TypeFor[Payload]()
	if n, ok := wireSizes.Load(typ); ok {
		return n
	}
	n := binary.Size(&c.Payload)
	wireSizes.Store(typ, n)
	return n
}

func (c *Fixed[Payload]) MarshalBinary() ([]byte, error) {
	buf := make([]byte, c.Size())
	if _, err := c.MarshalTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// MarshalTo writes the payload into p. A short p yields io.ErrShortWrite.
func (c *Fixed[Payload]) MarshalTo(p []byte) (int, error) {
	n, err := binary.Encode(p, Order, &c.Payload)
	if err != nil {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// UnmarshalBinary decodes the payload from the front of data. Anything past
// the payload must be zero padding.
func (c *Fixed[Payload]) UnmarshalBinary(data []byte) error {
	n, err := binary.Decode(data, Order, &c.Payload)
	if err != nil {
		return ErrTruncatedData
	}
	return CheckBufferNotZeros(data[n:])
}

func (c *Fixed[Payload]) ReadFrom(r io.Reader) (int64, error) {
	if err := binary.Read(r, Order, &c.Payload); err != nil {
		return 0, err
	}
	return int64(c.Size()), nil
}

func (c *Fixed[Payload]) WriteTo(w io.Writer) (int64, error) {
	if err := binary.Write(w, Order, &c.Payload); err != nil {
		return 0, err
	}
	return int64(c.Size()), nil
}
