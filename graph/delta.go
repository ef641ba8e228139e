package graph

import (
	"fmt"
	"slices"
)

// DeltaKind discriminates FieldDelta variants on the wire. Ordinals are part
// of the wire format.
type DeltaKind uint8

const (
	DeltaAdd DeltaKind = iota
	DeltaSet
	DeltaList
	DeltaMove
	DeltaClear
	DeltaRemove
	DeltaContainer
	DeltaUnset
	deltaKindCount
)

var deltaKindNames = [...]string{"ADD", "SET", "LIST", "MOVE", "CLEAR", "REMOVE", "CONTAINER", "UNSET"}

func (k DeltaKind) String() string {
	if k < deltaKindCount {
		return deltaKindNames[k]
	}
	return fmt.Sprintf("DeltaKind(%d)", uint8(k))
}

// FieldDelta is the change of one feature between two consecutive versions.
// The set of variants is closed.
type FieldDelta interface {
	Kind() DeltaKind
	isFieldDelta()
}

// AddDelta inserts Value at Index of a many-valued feature.
type AddDelta struct {
	Feature int32
	Index   int32
	Value   any
}

// SetDelta replaces the value at Index; Index is ignored for single-valued features.
type SetDelta struct {
	Feature  int32
	Index    int32
	Value    any
	OldValue any
}

// ListDelta groups changes of one many-valued feature whose size was OriginSize.
type ListDelta struct {
	Feature    int32
	OriginSize int32
	Deltas     []FieldDelta
}

// MoveDelta moves a list element.
type MoveDelta struct {
	Feature     int32
	OldPosition int32
	NewPosition int32
	Value       any
}

// ClearDelta empties a list.
type ClearDelta struct {
	Feature int32
}

// RemoveDelta removes the list element at Index.
type RemoveDelta struct {
	Feature int32
	Index   int32
	Value   any
}

// ContainerDelta moves the object to a new resource and container.
type ContainerDelta struct {
	Resource          ID
	Container         ID
	ContainingFeature int32
}

// UnsetDelta resets a feature to its zero value.
type UnsetDelta struct {
	Feature int32
}

func (*AddDelta) Kind() DeltaKind       { return DeltaAdd }
func (*SetDelta) Kind() DeltaKind       { return DeltaSet }
func (*ListDelta) Kind() DeltaKind      { return DeltaList }
func (*MoveDelta) Kind() DeltaKind      { return DeltaMove }
func (*ClearDelta) Kind() DeltaKind     { return DeltaClear }
func (*RemoveDelta) Kind() DeltaKind    { return DeltaRemove }
func (*ContainerDelta) Kind() DeltaKind { return DeltaContainer }
func (*UnsetDelta) Kind() DeltaKind     { return DeltaUnset }

func (*AddDelta) isFieldDelta()       {}
func (*SetDelta) isFieldDelta()       {}
func (*ListDelta) isFieldDelta()      {}
func (*MoveDelta) isFieldDelta()      {}
func (*ClearDelta) isFieldDelta()     {}
func (*RemoveDelta) isFieldDelta()    {}
func (*ContainerDelta) isFieldDelta() {}
func (*UnsetDelta) isFieldDelta()     {}

// featureOf returns the feature index a delta applies to, or -1 for
// ContainerDelta.
func featureOf(d FieldDelta) int32 {
	switch d := d.(type) {
	case *AddDelta:
		return d.Feature
	case *SetDelta:
		return d.Feature
	case *ListDelta:
		return d.Feature
	case *MoveDelta:
		return d.Feature
	case *ClearDelta:
		return d.Feature
	case *RemoveDelta:
		return d.Feature
	case *UnsetDelta:
		return d.Feature
	}
	return -1
}

// RevisionDelta is the ordered difference from Version to Target of one
// object on one branch.
type RevisionDelta struct {
	ID      ID
	Class   *Class
	Branch  *Branch
	Version int32
	Target  int32
	Deltas  []FieldDelta
}

// Key returns the (id, branch, version) the delta starts from.
func (d *RevisionDelta) Key() RevisionKey {
	return RevisionKey{ID: d.ID, Branch: d.Branch, Version: d.Version}
}

// Apply replays the delta on a mutable copy of base and returns it at Target.
func (d *RevisionDelta) Apply(base *Revision) (*Revision, error) {
	if base.ID != d.ID || base.Version != d.Version {
		return nil, fmt.Errorf("%w: delta for %v v%d applied to %v v%d",
			ErrMalformed, d.ID, d.Version, base.ID, base.Version)
	}
	rev := base.Copy()
	for _, fd := range d.Deltas {
		if err := applyDelta(rev, fd); err != nil {
			return nil, err
		}
	}
	rev.Version = d.Target
	return rev, nil
}

func applyDelta(rev *Revision, fd FieldDelta) error {
	if fd.Kind() == DeltaContainer {
		return nil
	}
	i := featureOf(fd)
	f, err := rev.Class.Feature(i)
	if err != nil {
		return err
	}
	if !f.Many {
		switch d := fd.(type) {
		case *SetDelta:
			return rev.SetValue(i, d.Value)
		case *UnsetDelta, *ClearDelta:
			return rev.SetValue(i, f.Zero())
		}
		return fmt.Errorf("%w: %s on single-valued %s", ErrMalformed, fd.Kind(), f.Name)
	}

	list := rev.values[i].([]any)
	inRange := func(idx int32, n int) bool { return idx >= 0 && int(idx) < n }
	switch d := fd.(type) {
	case *AddDelta:
		if d.Index < 0 || int(d.Index) > len(list) {
			return fmt.Errorf("%w: add at %d of %d", ErrMalformed, d.Index, len(list))
		}
		list = slices.Insert(list, int(d.Index), d.Value)
	case *SetDelta:
		if !inRange(d.Index, len(list)) {
			return fmt.Errorf("%w: set at %d of %d", ErrMalformed, d.Index, len(list))
		}
		list[d.Index] = d.Value
	case *RemoveDelta:
		if !inRange(d.Index, len(list)) {
			return fmt.Errorf("%w: remove at %d of %d", ErrMalformed, d.Index, len(list))
		}
		list = slices.Delete(list, int(d.Index), int(d.Index)+1)
	case *MoveDelta:
		if !inRange(d.OldPosition, len(list)) || !inRange(d.NewPosition, len(list)) {
			return fmt.Errorf("%w: move %d->%d of %d", ErrMalformed, d.OldPosition, d.NewPosition, len(list))
		}
		v := list[d.OldPosition]
		list = slices.Delete(list, int(d.OldPosition), int(d.OldPosition)+1)
		list = slices.Insert(list, int(d.NewPosition), v)
	case *ClearDelta, *UnsetDelta:
		list = []any{}
	case *ListDelta:
		for _, nested := range d.Deltas {
			if err := rev.SetValue(i, list); err != nil {
				return err
			}
			if err := applyDelta(rev, nested); err != nil {
				return err
			}
			list = rev.values[i].([]any)
		}
	}
	return rev.SetValue(i, list)
}
