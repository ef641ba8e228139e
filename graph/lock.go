package graph

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
)

// LockOperation is the change reported by a LockChangeInfo.
type LockOperation uint8

const (
	LockOpLock LockOperation = iota
	LockOpUnlock
	lockOperationCount
)

func (o LockOperation) String() string {
	switch o {
	case LockOpLock:
		return "LOCK"
	case LockOpUnlock:
		return "UNLOCK"
	}
	return fmt.Sprintf("LockOperation(%d)", uint8(o))
}

// LockKind is one of the three lock flavors.
type LockKind uint8

const (
	LockRead LockKind = iota
	LockWrite
	LockOption
	lockKindCount
)

func (k LockKind) String() string {
	switch k {
	case LockRead:
		return "READ"
	case LockWrite:
		return "WRITE"
	case LockOption:
		return "OPTION"
	}
	return fmt.Sprintf("LockKind(%d)", uint8(k))
}

// LockGrade is the set of lock kinds held on one object. The ordinal is the
// bit set read=1, write=2, option=4.
type LockGrade uint8

const (
	GradeNone LockGrade = iota
	GradeRead
	GradeWrite
	GradeReadWrite
	GradeOption
	GradeReadOption
	GradeWriteOption
	GradeReadWriteOption
	lockGradeCount
)

func gradeOf(k LockKind) LockGrade { return 1 << k }

// Has reports whether g includes k.
func (g LockGrade) Has(k LockKind) bool { return g&gradeOf(k) != 0 }

func (g LockGrade) With(k LockKind) LockGrade { return g | gradeOf(k) }

func (g LockGrade) Without(k LockKind) LockGrade { return g &^ gradeOf(k) }

func (g LockGrade) String() string {
	if g == GradeNone {
		return "NONE"
	}
	s := ""
	for k := LockRead; k < lockKindCount; k++ {
		if g.Has(k) {
			if s != "" {
				s += "_"
			}
			s += k.String()
		}
	}
	return s
}

// NewDurableLockingID returns a fresh lock area id.
func NewDurableLockingID() string {
	return uuid.NewString()
}

// LockOwner identifies a view holding locks, optionally through a durable
// lock area.
type LockOwner struct {
	SessionID  int32
	ViewID     int32
	LockAreaID string
	Durable    bool
}

func (o LockOwner) String() string {
	return fmt.Sprintf("LockOwner[%d:%d:%s]", o.SessionID, o.ViewID, o.LockAreaID)
}

func compareOwners(a, b LockOwner) int {
	if c := cmp.Compare(a.SessionID, b.SessionID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ViewID, b.ViewID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.LockAreaID, b.LockAreaID); c != 0 {
		return c
	}
	switch {
	case a.Durable == b.Durable:
		return 0
	case b.Durable:
		return -1
	}
	return 1
}

// LockTarget is a locked object, qualified by branch when Branch is set.
type LockTarget struct {
	ID     ID
	Branch *Branch
}

// LockState holds the owners of the locks on one target. There is at most one
// write owner and one write-option owner.
type LockState struct {
	Target LockTarget

	readOwners mapset.Set[LockOwner]

	mu               sync.Mutex
	writeOwner       *LockOwner
	writeOptionOwner *LockOwner
}

// NewLockState returns an unlocked state for target.
func NewLockState(target LockTarget) *LockState {
	return &LockState{Target: target, readOwners: mapset.NewSet[LockOwner]()}
}

// ReadOwners returns the read owners in wire order.
func (s *LockState) ReadOwners() []LockOwner {
	owners := s.readOwners.ToSlice()
	slices.SortFunc(owners, compareOwners)
	return owners
}

// WriteOwner returns the holder of the write lock.
func (s *LockState) WriteOwner() (LockOwner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeOwner == nil {
		return LockOwner{}, false
	}
	return *s.writeOwner, true
}

// WriteOptionOwner returns the holder of the write option.
func (s *LockState) WriteOptionOwner() (LockOwner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeOptionOwner == nil {
		return LockOwner{}, false
	}
	return *s.writeOptionOwner, true
}

// Lock grants kind to owner. A write or option lock held by someone else is
// a conflict; read locks are shared.
func (s *LockState) Lock(kind LockKind, owner LockOwner) error {
	switch kind {
	case LockRead:
		s.readOwners.Add(owner)
		return nil
	case LockWrite:
		return s.exclusive(&s.writeOwner, owner)
	case LockOption:
		return s.exclusive(&s.writeOptionOwner, owner)
	}
	return &OrdinalError{Enum: "LockKind", Ordinal: int(kind)}
}

func (s *LockState) exclusive(slot **LockOwner, owner LockOwner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := *slot; cur != nil && *cur != owner {
		return fmt.Errorf("%w: %v", ErrLockConflict, *cur)
	}
	*slot = &owner
	return nil
}

// Unlock drops kind for owner and reports whether owner held it.
func (s *LockState) Unlock(kind LockKind, owner LockOwner) bool {
	if kind == LockRead {
		had := s.readOwners.Contains(owner)
		s.readOwners.Remove(owner)
		return had
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := &s.writeOwner
	if kind == LockOption {
		slot = &s.writeOptionOwner
	}
	if cur := *slot; cur != nil && *cur == owner {
		*slot = nil
		return true
	}
	return false
}

// Grade returns the lock kinds owner holds.
func (s *LockState) Grade(owner LockOwner) LockGrade {
	g := GradeNone
	if s.readOwners.Contains(owner) {
		g = g.With(LockRead)
	}
	if o, ok := s.WriteOwner(); ok && o == owner {
		g = g.With(LockWrite)
	}
	if o, ok := s.WriteOptionOwner(); ok && o == owner {
		g = g.With(LockOption)
	}
	return g
}

// IsLocked reports whether anyone holds a lock on the target.
func (s *LockState) IsLocked() bool {
	_, w := s.WriteOwner()
	_, o := s.WriteOptionOwner()
	return w || o || s.readOwners.Cardinality() > 0
}

// LockChangeInfo reports a lock change to other sessions. When
// InvalidateAll is set the other fields are unused and every cached lock
// state must be dropped.
type LockChangeInfo struct {
	InvalidateAll bool

	BranchPoint BranchPoint
	Owner       LockOwner
	Operation   LockOperation
	Kind        LockKind
	States      []*LockState
}

// LockArea is a durable set of locks that outlives the view that took them.
type LockArea struct {
	DurableID string
	Branch    *Branch
	TimeStamp int64
	User      string
	ReadOnly  bool
	Locks     map[ID]LockGrade
}

// NewLockArea starts an empty durable lock area with a fresh id.
func NewLockArea(user string, bp BranchPoint, readOnly bool) *LockArea {
	return &LockArea{
		DurableID: NewDurableLockingID(),
		Branch:    bp.Branch,
		TimeStamp: bp.TimeStamp,
		User:      user,
		ReadOnly:  readOnly,
		Locks:     make(map[ID]LockGrade),
	}
}

// sortedLocks returns the lock ids in wire order.
func (a *LockArea) sortedLocks() []ID {
	ids := make([]ID, 0, len(a.Locks))
	for id := range a.Locks {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(x, y ID) int { return cmp.Compare(idKey(x), idKey(y)) })
	return ids
}

func idKey(id ID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
