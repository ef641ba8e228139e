package graph

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevisionSetValue(t *testing.T) {
	f := newFixture(t)
	rev := NewRevision(f.node, IntID(1), f.trunk.Version(1))

	assert.ErrorIs(t, rev.SetValue(fCount, int64(1)), ErrValueType)
	assert.ErrorIs(t, rev.SetValue(fTags, "not a list"), ErrValueType)
	assert.ErrorIs(t, rev.SetValue(fTags, []any{"ok", 3}), ErrValueType)
	assert.ErrorIs(t, rev.SetValue(42, "x"), ErrUnknownFeature)
	_, err := rev.Value(-1)
	assert.ErrorIs(t, err, ErrUnknownFeature)

	require.NoError(t, rev.SetValue(fParent, nil))
	require.NoError(t, rev.SetValue(fParent, IntID(2)))
	v, err := rev.Value(fParent)
	require.NoError(t, err)
	assert.Equal(t, IntID(2), v)
}

func TestRevisionCopyIsIndependent(t *testing.T) {
	f := newFixture(t)
	rev := f.revision(t, 1)
	rev.Freeze()

	c := rev.Copy()
	require.NoError(t, c.SetValue(fName, "copy"))
	tags, _ := c.Value(fTags)
	tags.([]any)[0] = "mutated"

	name, _ := rev.Value(fName)
	assert.Equal(t, "root", name)
	orig, _ := rev.Value(fTags)
	assert.Equal(t, []any{"a", "b", ""}, orig)
}

func TestRevisionDeltaApply(t *testing.T) {
	f := newFixture(t)
	base := f.revision(t, 1)
	base.Freeze()

	d := &RevisionDelta{
		ID: base.ID, Class: f.node, Branch: base.Branch, Version: base.Version, Target: base.Version + 1,
		Deltas: []FieldDelta{
			&SetDelta{Feature: fName, Value: "renamed", OldValue: "root"},
			&UnsetDelta{Feature: fWeight},
			&ListDelta{Feature: fTags, OriginSize: 3, Deltas: []FieldDelta{
				&AddDelta{Feature: fTags, Index: 0, Value: "z"},
				&RemoveDelta{Feature: fTags, Index: 3, Value: ""},
				&MoveDelta{Feature: fTags, OldPosition: 0, NewPosition: 2, Value: "z"},
				&SetDelta{Feature: fTags, Index: 0, Value: "A", OldValue: "a"},
			}},
			&ClearDelta{Feature: fChildren},
			&ContainerDelta{Resource: IntID(9), ContainingFeature: -1},
		},
	}

	next, err := d.Apply(base)
	require.NoError(t, err)
	assert.Equal(t, base.Version+1, next.Version)
	assert.False(t, next.Frozen())

	for i, want := range map[int32]any{
		fName:     "renamed",
		fWeight:   float64(0),
		fTags:     []any{"A", "b", "z"},
		fChildren: []any{},
		fCount:    int32(-7),
	} {
		got, err := next.Value(i)
		require.NoError(t, err)
		assert.Equal(t, want, got, "feature %d", i)
	}

	// The base revision is untouched.
	name, _ := base.Value(fName)
	assert.Equal(t, "root", name)
}

func TestRevisionDeltaApplyErrors(t *testing.T) {
	f := newFixture(t)
	base := f.revision(t, 1)

	tests := map[string]*RevisionDelta{
		"WrongObject":  {ID: IntID(2), Version: base.Version},
		"WrongVersion": {ID: base.ID, Version: base.Version + 5},
		"AddOnSingle": {ID: base.ID, Version: base.Version, Deltas: []FieldDelta{
			&AddDelta{Feature: fName, Value: "x"},
		}},
		"RemoveOutOfRange": {ID: base.ID, Version: base.Version, Deltas: []FieldDelta{
			&RemoveDelta{Feature: fTags, Index: 3},
		}},
		"MoveOutOfRange": {ID: base.ID, Version: base.Version, Deltas: []FieldDelta{
			&MoveDelta{Feature: fTags, OldPosition: 0, NewPosition: 3},
		}},
	}
	for name, d := range tests {
		t.Run(name, func(t *testing.T) {
			d.Class = f.node
			_, err := d.Apply(base)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}

	_, err := (&RevisionDelta{ID: base.ID, Version: base.Version, Deltas: []FieldDelta{
		&SetDelta{Feature: fName, Value: 7},
	}}).Apply(base)
	assert.ErrorIs(t, err, ErrValueType)
}

func TestChangeSetObjectIDs(t *testing.T) {
	f := newFixture(t)
	rev := f.revision(t, 4)
	assert.Equal(t, IntID(4), NewObject{Revision: rev}.ObjectID())
	assert.Equal(t, IntID(5), NewObject{Stub: IDVersion{ID: IntID(5)}}.ObjectID())
	assert.Equal(t, IntID(6), ChangedObject{Delta: &RevisionDelta{ID: IntID(6)}}.ObjectID())
	assert.Equal(t, IntID(7), ChangedObject{Key: RevisionKey{ID: IntID(7)}}.ObjectID())

	cs := ChangeSetData{}
	assert.True(t, cs.IsEmpty())
	assert.NoError(t, cs.Validate())
}

func TestBranchManager(t *testing.T) {
	m := NewBranchManager(100)
	trunk := m.Main()
	assert.True(t, trunk.IsMain())
	assert.Equal(t, "MAIN", trunk.Path())
	assert.Equal(t, int64(100), trunk.Base.TimeStamp)

	dev, err := m.CreateBranch("dev", trunk.Point(200))
	require.NoError(t, err)
	fix, err := m.CreateBranch("fix", dev.Point(300))
	require.NoError(t, err)

	assert.EqualValues(t, 1, dev.ID)
	assert.EqualValues(t, 2, fix.ID)
	assert.False(t, fix.IsMain())
	assert.Equal(t, "MAIN/dev/fix", fix.Path())
	assert.Equal(t, 3, m.Len())

	got, ok := m.Branch(2)
	require.True(t, ok)
	assert.Same(t, fix, got)

	_, err = m.CreateBranch("orphan", BranchPoint{})
	assert.ErrorIs(t, err, ErrNoBaseBranch)
	_, err = m.CreateBranch("foreign", (&Branch{ID: 1, Name: "dev"}).Point(0))
	assert.ErrorIs(t, err, ErrNoBaseBranch)

	require.NoError(t, m.Register(&Branch{ID: 10, Name: "remote", Base: trunk.Point(400)}))
	assert.ErrorIs(t, m.Register(&Branch{ID: 10}), ErrBranchExists)
	next, err := m.CreateBranch("after", trunk.Point(500))
	require.NoError(t, err)
	assert.EqualValues(t, 11, next.ID, "ids continue after registered branches")
}

func TestCachedBranchDirectory(t *testing.T) {
	m := NewBranchManager(0)
	dev, err := m.CreateBranch("dev", m.Main().Point(1))
	require.NoError(t, err)

	loads := 0
	dir, err := NewCachedBranchDirectory(1, func(id int32) (*Branch, bool) {
		loads++
		return m.Branch(id)
	})
	require.NoError(t, err)

	for range 3 {
		got, ok := dir.Branch(dev.ID)
		require.True(t, ok)
		assert.Same(t, dev, got)
	}
	assert.Equal(t, 1, loads)

	_, ok := dir.Branch(MainBranchID)
	assert.True(t, ok)
	_, ok = dir.Branch(dev.ID)
	assert.True(t, ok)
	assert.Equal(t, 3, loads, "a size-one cache evicts the older branch")

	_, ok = dir.Branch(77)
	assert.False(t, ok)

	dir.Purge()
	_, _ = dir.Branch(dev.ID)
	assert.Equal(t, 5, loads)

	_, err = NewCachedBranchDirectory(0, m.Branch)
	assert.Error(t, err)
}

func TestRegistryAndOverlay(t *testing.T) {
	base := NewClass("Base")
	reg := NewRegistry(NewPackageUnit("urn:a", base))

	got, ok := reg.Resolve(ClassRef{Package: "urn:a", Name: "Base"})
	require.True(t, ok)
	assert.Same(t, base, got)

	extra := NewClass("Extra", Feature{Name: "n", Kind: KindInt32})
	overlay := newOverlay(reg)
	overlay.add(NewPackageUnit("urn:b", extra))

	_, ok = overlay.Resolve(extra.Ref())
	assert.True(t, ok)
	_, ok = overlay.Resolve(base.Ref())
	assert.True(t, ok)
	_, ok = reg.Resolve(extra.Ref())
	assert.False(t, ok)

	_, ok = newOverlay(nil).Resolve(base.Ref())
	assert.False(t, ok)

	assert.Equal(t, int32(0), extra.FeatureIndex("n"))
	assert.Equal(t, int32(-1), extra.FeatureIndex("missing"))
	assert.Equal(t, "urn:b#Extra", extra.Ref().String())
}

func TestFieldKindZero(t *testing.T) {
	assert.Equal(t, "lob", KindLob.String())
	assert.Equal(t, "FieldKind(9)", FieldKind(9).String())
	assert.Equal(t, int32(0), KindInt32.Zero())
	assert.Nil(t, KindID.Zero())
	assert.Equal(t, []any{}, Feature{Kind: KindBool, Many: true}.Zero())
}

func TestLockState(t *testing.T) {
	alice := LockOwner{SessionID: 1, ViewID: 1}
	bob := LockOwner{SessionID: 2, ViewID: 1}
	s := NewLockState(LockTarget{ID: IntID(1)})
	assert.False(t, s.IsLocked())

	require.NoError(t, s.Lock(LockRead, alice))
	require.NoError(t, s.Lock(LockRead, bob))
	require.NoError(t, s.Lock(LockWrite, alice))
	require.NoError(t, s.Lock(LockWrite, alice), "relocking is idempotent")

	assert.ErrorIs(t, s.Lock(LockWrite, bob), ErrLockConflict)
	require.NoError(t, s.Lock(LockOption, bob))
	assert.ErrorIs(t, s.Lock(LockOption, alice), ErrLockConflict)
	assert.ErrorIs(t, s.Lock(LockKind(7), alice), ErrBadOrdinal)

	assert.Equal(t, GradeReadWrite, s.Grade(alice))
	assert.Equal(t, GradeReadOption, s.Grade(bob))
	assert.True(t, s.IsLocked())

	assert.True(t, s.Unlock(LockWrite, alice))
	assert.False(t, s.Unlock(LockWrite, alice))
	assert.False(t, s.Unlock(LockOption, alice))
	assert.True(t, s.Unlock(LockRead, alice))
	assert.Equal(t, GradeNone, s.Grade(alice))

	require.NoError(t, s.Lock(LockWrite, bob))
	assert.Equal(t, GradeReadWriteOption, s.Grade(bob))
}

func TestLockGrade(t *testing.T) {
	g := GradeNone.With(LockRead).With(LockOption)
	assert.Equal(t, GradeReadOption, g)
	assert.True(t, g.Has(LockOption))
	assert.False(t, g.Has(LockWrite))
	assert.Equal(t, GradeRead, g.Without(LockOption))
	assert.Equal(t, "READ_OPTION", g.String())
	assert.Equal(t, "NONE", GradeNone.String())
	assert.Equal(t, "READ_WRITE_OPTION", GradeReadWriteOption.String())
}

func TestLockArea(t *testing.T) {
	m := NewBranchManager(0)
	a := NewLockArea("carol", m.Main().Point(50), true)
	_, err := uuid.Parse(a.DurableID)
	assert.NoError(t, err)
	assert.NotEqual(t, a.DurableID, NewLockArea("carol", m.Main().Point(50), true).DurableID)
	assert.Same(t, m.Main(), a.Branch)
	assert.Equal(t, int64(50), a.TimeStamp)
	assert.Empty(t, a.Locks)

	a.Locks[IntID(20)] = GradeWrite
	a.Locks[IntID(3)] = GradeRead
	a.Locks[nil] = GradeRead
	assert.Equal(t, []ID{nil, IntID(20), IntID(3)}, a.sortedLocks(), "ids sort by their string form")
}
