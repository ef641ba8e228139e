package graph

import (
	"fmt"
	"strconv"

	"github.com/oy3o/revwire"
)

// ID is an opaque object identity. Implementations must be comparable; a nil
// ID is the null reference.
type ID interface {
	String() string
}

// IDFactory reads and writes identifiers. Failures are latched on the stream.
type IDFactory interface {
	ReadID(r *revwire.Reader) ID
	WriteID(w *revwire.Writer, id ID)
}

// IntID is a 64-bit numeric identity. Zero is reserved for the null reference.
type IntID int64

func (id IntID) String() string { return "L" + strconv.FormatInt(int64(id), 10) }

// IntIDFactory encodes IntIDs as 8 big-endian bytes; a nil ID is written as 0.
type IntIDFactory struct{}

// ReadID reads an int64 id; 0 decodes to nil.
func (IntIDFactory) ReadID(r *revwire.Reader) ID {
	var v int64
	r.ReadInt64(&v)
	if r.Err() != nil || v == 0 {
		return nil
	}
	return IntID(v)
}

// WriteID writes id as int64; nil is written as 0.
func (IntIDFactory) WriteID(w *revwire.Writer, id ID) {
	switch v := id.(type) {
	case nil:
		w.WriteInt64(0)
	case IntID:
		w.WriteInt64(int64(v))
	default:
		w.Fail(fmt.Errorf("%w: %T", ErrForeignID, id))
	}
}

// IDVersion names one version of an object.
type IDVersion struct {
	ID      ID
	Version int32
}
