package graph

import (
	"fmt"
	"io"

	"github.com/oy3o/revwire"
)

// Writer encodes repository entities. The first failure is latched: later
// calls do nothing and return it.
type Writer struct {
	w   *revwire.Writer
	ctx Context
}

// NewWriter encodes to dst. Call Flush when done.
func NewWriter(dst io.Writer, ctx Context) (*Writer, error) {
	w, err := revwire.NewWriter(dst)
	if err != nil {
		return nil, err
	}
	return &Writer{w: w, ctx: ctx.withDefaults()}, nil
}

// Stream returns the underlying binary writer.
func (w *Writer) Stream() *revwire.Writer { return w.w }

// Err returns the latched error.
func (w *Writer) Err() error { return w.w.Err() }

// Flush pushes buffered bytes to the destination.
func (w *Writer) Flush() error { return w.w.Flush() }

func (w *Writer) fail(format string, args ...any) {
	w.w.Fail(fmt.Errorf(format, args...))
}

func writeOrdinal[E ordinal](w *Writer, v, count E) {
	if v >= count {
		w.w.Fail(&OrdinalError{Enum: fmt.Sprintf("%T", v), Ordinal: int(v)})
		return
	}
	w.w.WriteUint8(uint8(v))
}

// WriteID writes id with the context's IDFactory.
func (w *Writer) WriteID(id ID) error {
	w.ctx.IDs.WriteID(w.w, id)
	return w.Err()
}

// WriteBranch writes only the branch id.
func (w *Writer) WriteBranch(b *Branch) error {
	if b == nil {
		w.fail("%w: nil branch", ErrMalformed)
		return w.Err()
	}
	w.w.WriteInt32(b.ID)
	return w.Err()
}

// WriteBranchPoint writes the branch id and the time stamp.
func (w *Writer) WriteBranchPoint(bp BranchPoint) error {
	w.WriteBranch(bp.Branch)
	w.w.WriteInt64(bp.TimeStamp)
	return w.Err()
}

// WriteBranchVersion writes the branch id and the version.
func (w *Writer) WriteBranchVersion(bv BranchVersion) error {
	w.WriteBranch(bv.Branch)
	w.w.WriteInt32(bv.Version)
	return w.Err()
}

// WriteClassRef writes the package URI and the class name.
func (w *Writer) WriteClassRef(ref ClassRef) error {
	w.w.WriteUTF(ref.Package)
	w.w.WriteUTF(ref.Name)
	return w.Err()
}

// WriteLob writes a lob handle: 16-byte id and size.
func (w *Writer) WriteLob(lob Lob) error {
	w.w.WriteBytes(lob.ID[:])
	w.w.WriteInt64(lob.Size)
	return w.Err()
}

// WriteValue writes one value of kind k.
func (w *Writer) WriteValue(k FieldKind, v any) error {
	if err := checkValue(k, v); err != nil {
		w.w.Fail(err)
		return err
	}
	switch k {
	case KindBool:
		w.w.WriteBool(v.(bool))
	case KindInt32:
		w.w.WriteInt32(v.(int32))
	case KindInt64:
		w.w.WriteInt64(v.(int64))
	case KindFloat64:
		w.w.WriteFloat64(v.(float64))
	case KindString:
		w.w.WriteUTF(v.(string))
	case KindBytes:
		w.w.WriteByteArray(v.([]byte))
	case KindID:
		id, _ := v.(ID)
		w.WriteID(id)
	case KindLob:
		w.WriteLob(v.(Lob))
	}
	return w.Err()
}

func (w *Writer) writeFeatureValue(f Feature, v any) {
	if !f.Many {
		w.WriteValue(f.Kind, v)
		return
	}
	list, ok := v.([]any)
	if !ok {
		w.fail("%w: %s wants a list, got %T", ErrValueType, f.Name, v)
		return
	}
	w.w.WriteLen(len(list))
	for _, e := range list {
		w.WriteValue(f.Kind, e)
	}
}

// WriteRevision writes a presence flag and, for a non-nil rev, the revision
// with its values in feature order.
func (w *Writer) WriteRevision(rev *Revision) error {
	w.w.WriteBool(rev != nil)
	if rev == nil {
		return w.Err()
	}
	w.WriteClassRef(rev.Class.Ref())
	w.WriteID(rev.ID)
	w.WriteBranch(rev.Branch)
	w.w.WriteInt32(rev.Version)
	w.w.WriteInt64(rev.TimeStamp)
	w.w.WriteInt64(rev.Revised)
	for i, f := range rev.Class.Features {
		w.writeFeatureValue(f, rev.values[i])
	}
	return w.Err()
}

// WriteFieldDelta writes d, whose values are typed by class.
func (w *Writer) WriteFieldDelta(class *Class, d FieldDelta) error {
	w.writeFieldDelta(class, d, false)
	return w.Err()
}

func (w *Writer) writeFieldDelta(class *Class, d FieldDelta, nested bool) {
	if d == nil {
		w.fail("%w: nil field delta", ErrMalformed)
		return
	}
	kind := d.Kind()
	if nested && (kind == DeltaList || kind == DeltaContainer) {
		w.fail("%w: %s inside a list delta", ErrMalformed, kind)
		return
	}
	writeOrdinal(w, kind, deltaKindCount)
	if kind == DeltaContainer {
		c := d.(*ContainerDelta)
		w.WriteID(c.Resource)
		w.WriteID(c.Container)
		w.w.WriteInt32(c.ContainingFeature)
		return
	}

	index := featureOf(d)
	f, err := class.Feature(index)
	if err != nil {
		w.w.Fail(err)
		return
	}
	w.w.WriteInt32(index)

	switch d := d.(type) {
	case *AddDelta:
		w.w.WriteInt32(d.Index)
		w.WriteValue(f.Kind, d.Value)
	case *SetDelta:
		w.w.WriteInt32(d.Index)
		w.WriteValue(f.Kind, d.Value)
		w.WriteValue(f.Kind, d.OldValue)
	case *ListDelta:
		w.w.WriteInt32(d.OriginSize)
		w.w.WriteLen(len(d.Deltas))
		for _, nd := range d.Deltas {
			w.writeFieldDelta(class, nd, true)
		}
	case *MoveDelta:
		w.w.WriteInt32(d.OldPosition)
		w.w.WriteInt32(d.NewPosition)
		w.WriteValue(f.Kind, d.Value)
	case *RemoveDelta:
		w.w.WriteInt32(d.Index)
		w.WriteValue(f.Kind, d.Value)
	case *ClearDelta, *UnsetDelta:
	}
}

// WriteRevisionDelta writes the delta header and its field deltas.
func (w *Writer) WriteRevisionDelta(d *RevisionDelta) error {
	w.WriteClassRef(d.Class.Ref())
	w.WriteID(d.ID)
	w.WriteBranch(d.Branch)
	w.w.WriteInt32(d.Version)
	w.w.WriteInt32(d.Target)
	w.w.WriteLen(len(d.Deltas))
	for _, fd := range d.Deltas {
		w.writeFieldDelta(d.Class, fd, false)
	}
	return w.Err()
}

// WritePackageUnit writes a self-describing schema unit.
func (w *Writer) WritePackageUnit(pu *PackageUnit) error {
	w.w.WriteUTF(pu.URI)
	w.w.WriteLen(len(pu.Classes))
	for _, c := range pu.Classes {
		w.w.WriteUTF(c.Name)
		w.w.WriteLen(len(c.Features))
		for _, f := range c.Features {
			w.w.WriteUTF(f.Name)
			writeOrdinal(w, f.Kind, fieldKindCount)
			w.w.WriteBool(f.Many)
		}
	}
	return w.Err()
}

func (w *Writer) writeIDVersion(v IDVersion) {
	w.WriteID(v.ID)
	w.w.WriteInt32(v.Version)
}

// WriteChangeSetData writes the three object lists after checking that they
// are disjoint.
func (w *Writer) WriteChangeSetData(cs *ChangeSetData) error {
	if err := cs.Validate(); err != nil {
		w.w.Fail(err)
		return err
	}
	w.w.WriteLen(len(cs.New))
	for _, o := range cs.New {
		w.w.WriteBool(o.Revision != nil)
		if o.Revision != nil {
			w.WriteRevision(o.Revision)
		} else {
			w.writeIDVersion(o.Stub)
		}
	}
	w.w.WriteLen(len(cs.Changed))
	for _, o := range cs.Changed {
		w.w.WriteBool(o.Delta != nil)
		if o.Delta != nil {
			w.WriteRevisionDelta(o.Delta)
		} else {
			w.WriteID(o.Key.ID)
			w.WriteBranch(o.Key.Branch)
			w.w.WriteInt32(o.Key.Version)
		}
	}
	w.w.WriteLen(len(cs.Detached))
	for _, v := range cs.Detached {
		w.writeIDVersion(v)
	}
	return w.Err()
}

// WriteCommitData writes the new package units ahead of the change set.
func (w *Writer) WriteCommitData(cd *CommitData) error {
	w.w.WriteLen(len(cd.NewPackageUnits))
	for _, pu := range cd.NewPackageUnits {
		w.WritePackageUnit(pu)
	}
	return w.WriteChangeSetData(&cd.ChangeSet)
}

// WriteCommitInfo writes the timestamps and, unless ci is a failure marker,
// the branch, user, comment and commit data.
func (w *Writer) WriteCommitInfo(ci *CommitInfo) error {
	w.w.WriteInt64(ci.TimeStamp)
	w.w.WriteInt64(ci.PreviousTimeStamp)
	w.w.WriteBool(!ci.IsFailure())
	if ci.IsFailure() {
		return w.Err()
	}
	w.WriteBranch(ci.Branch)
	w.w.WriteUTF(ci.User)
	w.w.WriteUTF(ci.Comment)
	data := ci.Data
	if data == nil {
		data = &CommitData{}
	}
	return w.WriteCommitData(data)
}

// WriteLockOwner writes the session, view and lock area of o.
func (w *Writer) WriteLockOwner(o LockOwner) error {
	w.w.WriteInt32(o.SessionID)
	w.w.WriteInt32(o.ViewID)
	w.w.WriteUTF(o.LockAreaID)
	w.w.WriteBool(o.Durable)
	return w.Err()
}

func (w *Writer) writeOptionalOwner(o LockOwner, ok bool) {
	w.w.WriteBool(ok)
	if ok {
		w.WriteLockOwner(o)
	}
}

// WriteLockState writes the target, the sorted read owners and the optional
// write and write-option owners.
func (w *Writer) WriteLockState(s *LockState) error {
	qualified := s.Target.Branch != nil
	w.w.WriteBool(qualified)
	w.WriteID(s.Target.ID)
	if qualified {
		w.WriteBranch(s.Target.Branch)
	}
	owners := s.ReadOwners()
	w.w.WriteLen(len(owners))
	for _, o := range owners {
		w.WriteLockOwner(o)
	}
	w.writeOptionalOwner(s.WriteOwner())
	w.writeOptionalOwner(s.WriteOptionOwner())
	return w.Err()
}

// WriteLockChangeInfo writes info as ReadLockChangeInfo expects it.
func (w *Writer) WriteLockChangeInfo(info *LockChangeInfo) error {
	w.w.WriteBool(info.InvalidateAll)
	if info.InvalidateAll {
		return w.Err()
	}
	w.WriteBranchPoint(info.BranchPoint)
	w.WriteLockOwner(info.Owner)
	writeOrdinal(w, info.Operation, lockOperationCount)
	writeOrdinal(w, info.Kind, lockKindCount)
	w.w.WriteLen(len(info.States))
	for _, s := range info.States {
		w.WriteLockState(s)
	}
	return w.Err()
}

// WriteLockArea writes the area with its locks sorted by identifier.
func (w *Writer) WriteLockArea(a *LockArea) error {
	w.w.WriteUTF(a.DurableID)
	w.WriteBranch(a.Branch)
	w.w.WriteInt64(a.TimeStamp)
	w.w.WriteUTF(a.User)
	w.w.WriteBool(a.ReadOnly)
	ids := a.sortedLocks()
	w.w.WriteLen(len(ids))
	for _, id := range ids {
		w.WriteID(id)
		writeOrdinal(w, a.Locks[id], lockGradeCount)
	}
	return w.Err()
}
