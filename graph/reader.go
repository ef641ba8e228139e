package graph

import (
	"fmt"
	"io"
	"strconv"

	"github.com/oy3o/revwire"
)

// Reader decodes repository entities. Every failure is fatal to the stream:
// it is latched and returned by all later calls.
type Reader struct {
	r   *revwire.Reader
	ctx Context
}

// NewReader decodes from src, resolving references through ctx.
func NewReader(src io.Reader, ctx Context) (*Reader, error) {
	r, err := revwire.NewReader(src)
	if err != nil {
		return nil, err
	}
	return &Reader{r: r, ctx: ctx.withDefaults()}, nil
}

// Stream returns the underlying binary reader.
func (r *Reader) Stream() *revwire.Reader { return r.r }

// Err returns the latched error.
func (r *Reader) Err() error { return r.r.Err() }

func (r *Reader) failed() bool { return r.r.Err() != nil }

func (r *Reader) fail(err error) { r.r.Fail(err) }

// result returns v, or the zero value once the stream has failed.
func result[T any](r *Reader, v T) (T, error) {
	if err := r.Err(); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func readOrdinal[E ordinal](r *Reader, count E) E {
	var b uint8
	r.r.ReadUint8(&b)
	if r.failed() {
		return 0
	}
	if E(b) >= count {
		r.fail(&OrdinalError{Enum: fmt.Sprintf("%T", count), Ordinal: int(b)})
		return 0
	}
	return E(b)
}

func (r *Reader) readInt32() int32 {
	var v int32
	r.r.ReadInt32(&v)
	return v
}

func (r *Reader) readInt64() int64 {
	var v int64
	r.r.ReadInt64(&v)
	return v
}

func (r *Reader) readBool() bool {
	var v bool
	r.r.ReadBool(&v)
	return v
}

func (r *Reader) readUTF() string {
	var s string
	r.r.ReadUTF(&s)
	return s
}

// ReadID reads an id with the context's IDFactory.
func (r *Reader) ReadID() (ID, error) {
	return result(r, r.ctx.IDs.ReadID(r.r))
}

// ReadBranch reads a branch id and resolves it through the branch directory.
func (r *Reader) ReadBranch() (*Branch, error) {
	id := r.readInt32()
	if r.failed() {
		return nil, r.Err()
	}
	var b *Branch
	ok := false
	if r.ctx.Branches != nil {
		b, ok = r.ctx.Branches.Branch(id)
	}
	if !ok {
		r.fail(&UnresolvedError{Kind: "branch", Ref: strconv.Itoa(int(id))})
	}
	return result(r, b)
}

// ReadBranchPoint reads a branch id followed by a time stamp.
func (r *Reader) ReadBranchPoint() (BranchPoint, error) {
	b, _ := r.ReadBranch()
	return result(r, BranchPoint{Branch: b, TimeStamp: r.readInt64()})
}

// ReadBranchVersion reads a branch id followed by a version.
func (r *Reader) ReadBranchVersion() (BranchVersion, error) {
	b, _ := r.ReadBranch()
	return result(r, BranchVersion{Branch: b, Version: r.readInt32()})
}

// ReadClass reads a class reference and resolves it through the schema registry.
func (r *Reader) ReadClass() (*Class, error) {
	ref := ClassRef{Package: r.readUTF(), Name: r.readUTF()}
	if r.failed() {
		return nil, r.Err()
	}
	var c *Class
	ok := false
	if r.ctx.Schemas != nil {
		c, ok = r.ctx.Schemas.Resolve(ref)
	}
	if !ok {
		r.fail(&UnresolvedError{Kind: "class", Ref: ref.String()})
	}
	return result(r, c)
}

// ReadLob reads a lob handle and resolves it through the lob resolver. The
// zero handle needs no resolver.
func (r *Reader) ReadLob() (Lob, error) {
	var lob Lob
	r.r.ReadBytesTo(lob.ID[:])
	lob.Size = r.readInt64()
	if r.failed() || lob == (Lob{}) {
		return result(r, lob)
	}
	if r.ctx.Lobs == nil {
		r.fail(&UnresolvedError{Kind: "lob", Ref: lob.ID.String()})
		return result(r, lob)
	}
	resolved, err := r.ctx.Lobs.ResolveLob(lob.ID, lob.Size)
	if err != nil {
		r.fail(err)
	}
	return result(r, resolved)
}

// ReadValue reads one value of kind k.
func (r *Reader) ReadValue(k FieldKind) (any, error) {
	var v any
	switch k {
	case KindBool:
		v = r.readBool()
	case KindInt32:
		v = r.readInt32()
	case KindInt64:
		v = r.readInt64()
	case KindFloat64:
		var f float64
		r.r.ReadFloat64(&f)
		v = f
	case KindString:
		v = r.readUTF()
	case KindBytes:
		var b []byte
		r.r.ReadByteArray(&b)
		v = b
	case KindID:
		v, _ = r.ReadID()
	case KindLob:
		v, _ = r.ReadLob()
	default:
		r.fail(&OrdinalError{Enum: "FieldKind", Ordinal: int(k)})
	}
	return result(r, v)
}

func (r *Reader) readFeatureValue(f Feature) any {
	if !f.Many {
		v, _ := r.ReadValue(f.Kind)
		return v
	}
	n := r.r.ReadLen(maxCount)
	list := make([]any, 0, prealloc(n))
	for i := 0; i < n && !r.failed(); i++ {
		v, _ := r.ReadValue(f.Kind)
		list = append(list, v)
	}
	return list
}

// ReadRevision reads a revision, or nil when the presence flag is false.
// With frozen set the result rejects SetValue.
func (r *Reader) ReadRevision(frozen bool) (*Revision, error) {
	if !r.readBool() {
		return result[*Revision](r, nil)
	}
	class, _ := r.ReadClass()
	if r.failed() {
		return nil, r.Err()
	}
	rev := &Revision{Class: class}
	rev.ID, _ = r.ReadID()
	rev.Branch, _ = r.ReadBranch()
	rev.Version = r.readInt32()
	rev.TimeStamp = r.readInt64()
	rev.Revised = r.readInt64()
	rev.values = make([]any, len(class.Features))
	for i, f := range class.Features {
		if r.failed() {
			break
		}
		rev.values[i] = r.readFeatureValue(f)
	}
	if frozen {
		rev.Freeze()
	}
	return result(r, rev)
}

// ReadFieldDelta reads one delta whose values are typed by class.
func (r *Reader) ReadFieldDelta(class *Class) (FieldDelta, error) {
	return result(r, r.readFieldDelta(class, false))
}

func (r *Reader) readFieldDelta(class *Class, nested bool) FieldDelta {
	kind := readOrdinal(r, deltaKindCount)
	if r.failed() {
		return nil
	}
	if nested && (kind == DeltaList || kind == DeltaContainer) {
		r.fail(fmt.Errorf("%w: %s inside a list delta", ErrMalformed, kind))
		return nil
	}
	if kind == DeltaContainer {
		d := &ContainerDelta{}
		d.Resource, _ = r.ReadID()
		d.Container, _ = r.ReadID()
		d.ContainingFeature = r.readInt32()
		return d
	}

	index := r.readInt32()
	if r.failed() {
		return nil
	}
	f, err := class.Feature(index)
	if err != nil {
		r.fail(err)
		return nil
	}
	value := func() any {
		v, _ := r.ReadValue(f.Kind)
		return v
	}

	switch kind {
	case DeltaAdd:
		d := &AddDelta{Feature: index, Index: r.readInt32()}
		d.Value = value()
		return d
	case DeltaSet:
		d := &SetDelta{Feature: index, Index: r.readInt32()}
		d.Value = value()
		d.OldValue = value()
		return d
	case DeltaList:
		d := &ListDelta{Feature: index, OriginSize: r.readInt32()}
		n := r.r.ReadLen(maxCount)
		d.Deltas = make([]FieldDelta, 0, prealloc(n))
		for i := 0; i < n && !r.failed(); i++ {
			d.Deltas = append(d.Deltas, r.readFieldDelta(class, true))
		}
		return d
	case DeltaMove:
		d := &MoveDelta{Feature: index, OldPosition: r.readInt32(), NewPosition: r.readInt32()}
		d.Value = value()
		return d
	case DeltaClear:
		return &ClearDelta{Feature: index}
	case DeltaRemove:
		d := &RemoveDelta{Feature: index, Index: r.readInt32()}
		d.Value = value()
		return d
	case DeltaUnset:
		return &UnsetDelta{Feature: index}
	}
	return nil
}

// ReadRevisionDelta reads a delta against its class, then the field deltas.
func (r *Reader) ReadRevisionDelta() (*RevisionDelta, error) {
	class, _ := r.ReadClass()
	if r.failed() {
		return nil, r.Err()
	}
	d := &RevisionDelta{Class: class}
	d.ID, _ = r.ReadID()
	d.Branch, _ = r.ReadBranch()
	d.Version = r.readInt32()
	d.Target = r.readInt32()
	n := r.r.ReadLen(maxCount)
	d.Deltas = make([]FieldDelta, 0, prealloc(n))
	for i := 0; i < n && !r.failed(); i++ {
		d.Deltas = append(d.Deltas, r.readFieldDelta(class, false))
	}
	return result(r, d)
}

// ReadPackageUnit reads a package URI and its class definitions.
func (r *Reader) ReadPackageUnit() (*PackageUnit, error) {
	uri := r.readUTF()
	n := r.r.ReadLen(maxCount)
	classes := make([]*Class, 0, prealloc(n))
	for i := 0; i < n && !r.failed(); i++ {
		c := &Class{Package: uri, Name: r.readUTF()}
		nf := r.r.ReadLen(maxCount)
		c.Features = make([]Feature, 0, prealloc(nf))
		for j := 0; j < nf && !r.failed(); j++ {
			f := Feature{Name: r.readUTF()}
			f.Kind = readOrdinal(r, fieldKindCount)
			f.Many = r.readBool()
			c.Features = append(c.Features, f)
		}
		classes = append(classes, c)
	}
	return result(r, &PackageUnit{URI: uri, Classes: classes})
}

func (r *Reader) readIDVersion() IDVersion {
	id, _ := r.ReadID()
	return IDVersion{ID: id, Version: r.readInt32()}
}

// ReadChangeSetData reads the three object lists. New revisions are frozen.
func (r *Reader) ReadChangeSetData() (*ChangeSetData, error) {
	cs := &ChangeSetData{}

	n := r.r.ReadLen(maxCount)
	cs.New = make([]NewObject, 0, prealloc(n))
	for i := 0; i < n && !r.failed(); i++ {
		var o NewObject
		if r.readBool() {
			o.Revision, _ = r.ReadRevision(true)
		} else {
			o.Stub = r.readIDVersion()
		}
		cs.New = append(cs.New, o)
	}

	n = r.r.ReadLen(maxCount)
	cs.Changed = make([]ChangedObject, 0, prealloc(n))
	for i := 0; i < n && !r.failed(); i++ {
		var o ChangedObject
		if r.readBool() {
			o.Delta, _ = r.ReadRevisionDelta()
		} else {
			o.Key.ID, _ = r.ReadID()
			o.Key.Branch, _ = r.ReadBranch()
			o.Key.Version = r.readInt32()
		}
		cs.Changed = append(cs.Changed, o)
	}

	n = r.r.ReadLen(maxCount)
	cs.Detached = make([]IDVersion, 0, prealloc(n))
	for i := 0; i < n && !r.failed(); i++ {
		cs.Detached = append(cs.Detached, r.readIDVersion())
	}

	if !r.failed() {
		if err := cs.Validate(); err != nil {
			r.fail(err)
		}
	}
	return result(r, cs)
}

// ReadCommitData reads the new package units, then the change set. Classes of
// the new units resolve while the change set is read, before they are
// registered anywhere.
func (r *Reader) ReadCommitData() (*CommitData, error) {
	n := r.r.ReadLen(maxCount)
	cd := &CommitData{NewPackageUnits: make([]*PackageUnit, 0, prealloc(n))}
	overlay := newOverlay(r.ctx.Schemas)
	for i := 0; i < n && !r.failed(); i++ {
		pu, _ := r.ReadPackageUnit()
		if pu != nil {
			overlay.add(pu)
			cd.NewPackageUnits = append(cd.NewPackageUnits, pu)
		}
	}

	saved := r.ctx.Schemas
	r.ctx.Schemas = overlay
	cs, _ := r.ReadChangeSetData()
	r.ctx.Schemas = saved

	if cs != nil {
		cd.ChangeSet = *cs
	}
	return result(r, cd)
}

// ReadCommitInfo reads the two time stamps, then the commit body unless it
// is a failure record.
func (r *Reader) ReadCommitInfo() (*CommitInfo, error) {
	ci := &CommitInfo{TimeStamp: r.readInt64(), PreviousTimeStamp: r.readInt64()}
	if !r.readBool() {
		return result(r, ci)
	}
	ci.Branch, _ = r.ReadBranch()
	ci.User = r.readUTF()
	ci.Comment = r.readUTF()
	ci.Data, _ = r.ReadCommitData()
	return result(r, ci)
}

// ReadLockOwner reads an owner written by WriteLockOwner.
func (r *Reader) ReadLockOwner() (LockOwner, error) {
	o := LockOwner{SessionID: r.readInt32(), ViewID: r.readInt32()}
	o.LockAreaID = r.readUTF()
	o.Durable = r.readBool()
	return result(r, o)
}

// ReadLockState reads the target, the read owners and the two optional
// write owners.
func (r *Reader) ReadLockState() (*LockState, error) {
	var target LockTarget
	qualified := r.readBool()
	target.ID, _ = r.ReadID()
	if qualified {
		target.Branch, _ = r.ReadBranch()
	}
	s := NewLockState(target)

	n := r.r.ReadLen(maxCount)
	for i := 0; i < n && !r.failed(); i++ {
		o, _ := r.ReadLockOwner()
		s.readOwners.Add(o)
	}
	if r.readBool() {
		o, _ := r.ReadLockOwner()
		s.writeOwner = &o
	}
	if r.readBool() {
		o, _ := r.ReadLockOwner()
		s.writeOptionOwner = &o
	}
	return result(r, s)
}

// ReadLockChangeInfo reads either the invalidate-all marker or a full change.
func (r *Reader) ReadLockChangeInfo() (*LockChangeInfo, error) {
	info := &LockChangeInfo{InvalidateAll: r.readBool()}
	if info.InvalidateAll {
		return result(r, info)
	}
	info.BranchPoint, _ = r.ReadBranchPoint()
	info.Owner, _ = r.ReadLockOwner()
	info.Operation = readOrdinal(r, lockOperationCount)
	info.Kind = readOrdinal(r, lockKindCount)
	n := r.r.ReadLen(maxCount)
	info.States = make([]*LockState, 0, prealloc(n))
	for i := 0; i < n && !r.failed(); i++ {
		s, _ := r.ReadLockState()
		info.States = append(info.States, s)
	}
	return result(r, info)
}

// ReadLockArea reads an area and its lock grades.
func (r *Reader) ReadLockArea() (*LockArea, error) {
	a := &LockArea{DurableID: r.readUTF()}
	a.Branch, _ = r.ReadBranch()
	a.TimeStamp = r.readInt64()
	a.User = r.readUTF()
	a.ReadOnly = r.readBool()
	n := r.r.ReadLen(maxCount)
	a.Locks = make(map[ID]LockGrade, prealloc(n))
	for i := 0; i < n && !r.failed(); i++ {
		id, _ := r.ReadID()
		a.Locks[id] = readOrdinal(r, lockGradeCount)
	}
	return result(r, a)
}
