package graph

import (
	"golang.org/x/exp/constraints"
)

// Context carries the collaborators a codec resolves references through.
// A nil IDs field defaults to IntIDFactory.
type Context struct {
	Branches BranchDirectory
	Schemas  SchemaRegistry
	IDs      IDFactory
	Lobs     LobResolver
}

func (c Context) withDefaults() Context {
	if c.IDs == nil {
		c.IDs = IntIDFactory{}
	}
	return c
}

// maxCount bounds every count prefix of a record list.
const maxCount int32 = 1 << 24

// maxPrealloc caps the capacity reserved from a count prefix before any
// element has been read.
const maxPrealloc = 1024

func prealloc(n int) int { return min(n, maxPrealloc) }

// ordinal is an enum encoded as one byte on the wire.
type ordinal interface {
	constraints.Unsigned
	String() string
}
