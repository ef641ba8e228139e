package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolved is matched by every *UnresolvedError.
	ErrUnresolved = errors.New("graph: unresolved reference")

	// ErrBadOrdinal is matched by every *OrdinalError.
	ErrBadOrdinal = errors.New("graph: unknown enum ordinal")

	// ErrUnknownFeature is returned when a feature index is outside its class.
	ErrUnknownFeature = errors.New("graph: unknown feature index")

	// ErrOverlap is returned when an identifier occurs twice in one change set.
	ErrOverlap = errors.New("graph: change set lists an object twice")

	ErrFrozen       = errors.New("graph: revision is frozen")
	ErrValueType    = errors.New("graph: value does not match feature kind")
	ErrMalformed    = errors.New("graph: malformed record")
	ErrForeignID    = errors.New("graph: identifier not produced by this factory")
	ErrLockConflict = errors.New("graph: lock held by another owner")
	ErrBranchExists = errors.New("graph: branch id already registered")
	ErrNoBaseBranch = errors.New("graph: base branch is not registered")
)

// UnresolvedError carries a reference the decoder could not resolve.
type UnresolvedError struct {
	Kind string // "class", "branch", "lob"
	Ref  string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("graph: unresolved %s %s", e.Kind, e.Ref)
}

func (e *UnresolvedError) Is(target error) bool { return target == ErrUnresolved }

// OrdinalError carries an enum ordinal the decoder does not know.
type OrdinalError struct {
	Enum    string
	Ordinal int
}

func (e *OrdinalError) Error() string {
	return fmt.Sprintf("graph: unknown %s ordinal %d", e.Enum, e.Ordinal)
}

func (e *OrdinalError) Is(target error) bool { return target == ErrBadOrdinal }
