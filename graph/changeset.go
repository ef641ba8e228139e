package graph

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// NewObject is a created object: a full revision, or an (id, version) stub
// when Revision is nil.
type NewObject struct {
	Revision *Revision
	Stub     IDVersion
}

// ObjectID is the id of the revision or of the stub.
func (o NewObject) ObjectID() ID {
	if o.Revision != nil {
		return o.Revision.ID
	}
	return o.Stub.ID
}

// RevisionKey names a revision on a branch.
type RevisionKey struct {
	ID      ID
	Branch  *Branch
	Version int32
}

// ChangedObject is a modified object: a full delta, or a key-only stub when
// Delta is nil.
type ChangedObject struct {
	Delta *RevisionDelta
	Key   RevisionKey
}

// ObjectID is the id of the delta or of the key.
func (o ChangedObject) ObjectID() ID {
	if o.Delta != nil {
		return o.Delta.ID
	}
	return o.Key.ID
}

// ChangeSetData lists the objects a commit creates, changes and detaches.
type ChangeSetData struct {
	New      []NewObject
	Changed  []ChangedObject
	Detached []IDVersion
}

// IsEmpty reports whether all three lists are empty.
func (c *ChangeSetData) IsEmpty() bool {
	return len(c.New) == 0 && len(c.Changed) == 0 && len(c.Detached) == 0
}

// Validate checks that no identifier occurs more than once.
func (c *ChangeSetData) Validate() error {
	seen := mapset.NewThreadUnsafeSetWithSize[ID](len(c.New) + len(c.Changed) + len(c.Detached))
	check := func(id ID) error {
		if !seen.Add(id) {
			return fmt.Errorf("%w: %v", ErrOverlap, id)
		}
		return nil
	}
	for _, o := range c.New {
		if err := check(o.ObjectID()); err != nil {
			return err
		}
	}
	for _, o := range c.Changed {
		if err := check(o.ObjectID()); err != nil {
			return err
		}
	}
	for _, o := range c.Detached {
		if err := check(o.ID); err != nil {
			return err
		}
	}
	return nil
}

// CommitData is the payload of a commit: new schema units and the change set.
type CommitData struct {
	NewPackageUnits []*PackageUnit
	ChangeSet       ChangeSetData
}

// CommitInfo describes a finished commit. A nil Branch marks a failed commit,
// which carries only its timestamps.
type CommitInfo struct {
	TimeStamp         int64
	PreviousTimeStamp int64

	Branch  *Branch
	User    string
	Comment string
	Data    *CommitData
}

// NewFailureInfo returns the marker for a commit that did not happen.
func NewFailureInfo(timeStamp, previousTimeStamp int64) *CommitInfo {
	return &CommitInfo{TimeStamp: timeStamp, PreviousTimeStamp: previousTimeStamp}
}

// IsFailure reports whether c only records a failed commit.
func (c *CommitInfo) IsFailure() bool { return c.Branch == nil }

// BranchPoint is the branch and time stamp of the commit.
func (c *CommitInfo) BranchPoint() BranchPoint {
	return BranchPoint{Branch: c.Branch, TimeStamp: c.TimeStamp}
}
