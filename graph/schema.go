package graph

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"
)

// FieldKind is the wire type of a feature's values. Ordinals are part of the
// wire format.
type FieldKind uint8

const (
	KindBool FieldKind = iota
	KindInt32
	KindInt64
	KindFloat64
	KindString
	KindBytes
	KindID
	KindLob
	fieldKindCount
)

var fieldKindNames = [...]string{"bool", "int32", "int64", "float64", "string", "bytes", "id", "lob"}

func (k FieldKind) String() string {
	if k < fieldKindCount {
		return fieldKindNames[k]
	}
	return fmt.Sprintf("FieldKind(%d)", uint8(k))
}

// Zero returns the value an unset single-valued feature of kind k holds.
func (k FieldKind) Zero() any {
	switch k {
	case KindBool:
		return false
	case KindInt32:
		return int32(0)
	case KindInt64:
		return int64(0)
	case KindFloat64:
		return float64(0)
	case KindString:
		return ""
	case KindBytes:
		return []byte{}
	case KindLob:
		return Lob{}
	}
	return nil
}

// Feature is one structural field of a class.
type Feature struct {
	Name string
	Kind FieldKind
	Many bool
}

// Zero returns the initial value of f: Kind.Zero() or an empty list.
func (f Feature) Zero() any {
	if f.Many {
		return []any{}
	}
	return f.Kind.Zero()
}

// ClassRef names a class on the wire.
type ClassRef struct {
	Package string
	Name    string
}

func (r ClassRef) String() string { return r.Package + "#" + r.Name }

// Class describes the features of one object type. Feature order is the
// value order of a revision.
type Class struct {
	Package  string
	Name     string
	Features []Feature
}

// NewClass returns a class outside any package; NewPackageUnit assigns it one.
func NewClass(name string, features ...Feature) *Class {
	return &Class{Name: name, Features: features}
}

func (c *Class) Ref() ClassRef { return ClassRef{Package: c.Package, Name: c.Name} }

// Feature returns the feature at index i.
func (c *Class) Feature(i int32) (Feature, error) {
	if i < 0 || int(i) >= len(c.Features) {
		return Feature{}, fmt.Errorf("%w: %d in %s", ErrUnknownFeature, i, c.Ref())
	}
	return c.Features[i], nil
}

// FeatureIndex returns the index of the named feature, or -1.
func (c *Class) FeatureIndex(name string) int32 {
	for i, f := range c.Features {
		if f.Name == name {
			return int32(i)
		}
	}
	return -1
}

// PackageUnit is a self-describing schema unit shipped with a commit.
type PackageUnit struct {
	URI     string
	Classes []*Class
}

// NewPackageUnit binds classes to uri.
func NewPackageUnit(uri string, classes ...*Class) *PackageUnit {
	for _, c := range classes {
		c.Package = uri
	}
	return &PackageUnit{URI: uri, Classes: classes}
}

// SchemaRegistry resolves class references read from the wire.
type SchemaRegistry interface {
	Resolve(ref ClassRef) (*Class, bool)
}

// Registry is a concurrent SchemaRegistry.
type Registry struct {
	classes  *xsync.Map[ClassRef, *Class]
	packages *xsync.Map[string, *PackageUnit]
}

// NewRegistry returns a registry holding units.
func NewRegistry(units ...*PackageUnit) *Registry {
	r := &Registry{
		classes:  xsync.NewMap[ClassRef, *Class](),
		packages: xsync.NewMap[string, *PackageUnit](),
	}
	for _, pu := range units {
		r.Register(pu)
	}
	return r
}

// Register makes every class of pu resolvable. A unit with a known URI
// replaces the previous one.
func (r *Registry) Register(pu *PackageUnit) {
	r.packages.Store(pu.URI, pu)
	for _, c := range pu.Classes {
		r.classes.Store(c.Ref(), c)
	}
}

// Resolve finds a class by package URI and name.
func (r *Registry) Resolve(ref ClassRef) (*Class, bool) {
	return r.classes.Load(ref)
}

// Package returns a registered unit.
func (r *Registry) Package(uri string) (*PackageUnit, bool) {
	return r.packages.Load(uri)
}

// overlayRegistry resolves the package units of a commit being decoded
// before falling back to the shared registry.
type overlayRegistry struct {
	parent SchemaRegistry
	local  map[ClassRef]*Class
}

func newOverlay(parent SchemaRegistry) *overlayRegistry {
	return &overlayRegistry{parent: parent, local: make(map[ClassRef]*Class)}
}

func (o *overlayRegistry) add(pu *PackageUnit) {
	for _, c := range pu.Classes {
		o.local[c.Ref()] = c
	}
}

func (o *overlayRegistry) Resolve(ref ClassRef) (*Class, bool) {
	if c, ok := o.local[ref]; ok {
		return c, true
	}
	if o.parent == nil {
		return nil, false
	}
	return o.parent.Resolve(ref)
}
