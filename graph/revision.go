package graph

import (
	"fmt"
	"slices"
)

// UnspecifiedDate marks an open validity bound.
const UnspecifiedDate int64 = 0

// Revision is one version of an object on a branch, valid from TimeStamp
// until Revised. A frozen revision rejects changes.
type Revision struct {
	ID        ID
	Class     *Class
	Branch    *Branch
	Version   int32
	TimeStamp int64
	Revised   int64

	values []any
	frozen bool
}

// NewRevision creates a mutable revision with every feature at its zero value.
func NewRevision(class *Class, id ID, bv BranchVersion) *Revision {
	r := &Revision{ID: id, Class: class, Branch: bv.Branch, Version: bv.Version}
	r.values = make([]any, len(class.Features))
	for i, f := range class.Features {
		r.values[i] = f.Zero()
	}
	return r
}

// BranchVersion is the branch and version of r.
func (r *Revision) BranchVersion() BranchVersion {
	return BranchVersion{Branch: r.Branch, Version: r.Version}
}

// Frozen reports whether SetValue is rejected.
func (r *Revision) Frozen() bool { return r.frozen }

// Freeze makes the revision immutable.
func (r *Revision) Freeze() { r.frozen = true }

// Value returns the value of feature i; many-valued features hold []any.
func (r *Revision) Value(i int32) (any, error) {
	if _, err := r.Class.Feature(i); err != nil {
		return nil, err
	}
	return r.values[i], nil
}

// SetValue replaces the value of feature i after checking it against the
// feature's kind.
func (r *Revision) SetValue(i int32, v any) error {
	if r.frozen {
		return ErrFrozen
	}
	f, err := r.Class.Feature(i)
	if err != nil {
		return err
	}
	if err := checkFeatureValue(f, v); err != nil {
		return err
	}
	r.values[i] = v
	return nil
}

// Copy returns a mutable deep copy of the value list.
func (r *Revision) Copy() *Revision {
	c := *r
	c.frozen = false
	c.values = make([]any, len(r.values))
	for i, v := range r.values {
		if list, ok := v.([]any); ok {
			v = slices.Clone(list)
		}
		c.values[i] = v
	}
	return &c
}

func checkFeatureValue(f Feature, v any) error {
	if !f.Many {
		return checkValue(f.Kind, v)
	}
	list, ok := v.([]any)
	if !ok {
		return fmt.Errorf("%w: %s wants a list, got %T", ErrValueType, f.Name, v)
	}
	for _, e := range list {
		if err := checkValue(f.Kind, e); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(k FieldKind, v any) error {
	ok := false
	switch k {
	case KindBool:
		_, ok = v.(bool)
	case KindInt32:
		_, ok = v.(int32)
	case KindInt64:
		_, ok = v.(int64)
	case KindFloat64:
		_, ok = v.(float64)
	case KindString:
		_, ok = v.(string)
	case KindBytes:
		_, ok = v.([]byte)
	case KindID:
		_, ok = v.(ID)
		ok = ok || v == nil
	case KindLob:
		_, ok = v.(Lob)
	}
	if !ok {
		return fmt.Errorf("%w: %s, got %T", ErrValueType, k, v)
	}
	return nil
}
