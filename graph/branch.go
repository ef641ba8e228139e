package graph

import (
	"fmt"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v4"
)

// MainBranchID is the id of the root of every branch tree.
const MainBranchID int32 = 0

// Branch is a line of revision history. Only its id travels on the wire.
type Branch struct {
	ID   int32
	Name string
	Base BranchPoint // the point it was forked from; Base.Branch is nil for main
}

// IsMain reports whether b is the root branch.
func (b *Branch) IsMain() bool { return b.ID == MainBranchID }

// Point returns the branch point at timeStamp on b.
func (b *Branch) Point(timeStamp int64) BranchPoint {
	return BranchPoint{Branch: b, TimeStamp: timeStamp}
}

// Version returns the branch version v on b.
func (b *Branch) Version(v int32) BranchVersion {
	return BranchVersion{Branch: b, Version: v}
}

// Path returns the names from main down to b, joined by "/".
func (b *Branch) Path() string {
	var names []string
	for cur := b; cur != nil; cur = cur.Base.Branch {
		names = append(names, cur.Name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, "/")
}

func (b *Branch) String() string {
	return fmt.Sprintf("Branch[%d:%s]", b.ID, b.Name)
}

// BranchPoint is a moment on a branch.
type BranchPoint struct {
	Branch    *Branch
	TimeStamp int64
}

// BranchVersion identifies a revision version on a branch.
type BranchVersion struct {
	Branch  *Branch
	Version int32
}

// BranchDirectory resolves branch ids read from the wire.
type BranchDirectory interface {
	Branch(id int32) (*Branch, bool)
}

// BranchManager owns the branch tree of one repository.
type BranchManager struct {
	branches *xsync.Map[int32, *Branch]
	nextID   atomic.Int32
	main     *Branch
}

// NewBranchManager creates a tree holding only the main branch, based at
// baseTimeStamp.
func NewBranchManager(baseTimeStamp int64) *BranchManager {
	m := &BranchManager{branches: xsync.NewMap[int32, *Branch]()}
	m.main = &Branch{ID: MainBranchID, Name: "MAIN", Base: BranchPoint{TimeStamp: baseTimeStamp}}
	m.branches.Store(MainBranchID, m.main)
	m.nextID.Store(MainBranchID)
	return m
}

// Main returns the root branch.
func (m *BranchManager) Main() *Branch { return m.main }

// Branch looks up a branch by id.
func (m *BranchManager) Branch(id int32) (*Branch, bool) {
	return m.branches.Load(id)
}

// CreateBranch forks a new branch at base and assigns it the next id.
func (m *BranchManager) CreateBranch(name string, base BranchPoint) (*Branch, error) {
	if base.Branch == nil {
		return nil, ErrNoBaseBranch
	}
	if known, ok := m.branches.Load(base.Branch.ID); !ok || known != base.Branch {
		return nil, ErrNoBaseBranch
	}
	b := &Branch{ID: m.nextID.Add(1), Name: name, Base: base}
	m.branches.Store(b.ID, b)
	return b, nil
}

// Register adds a branch created elsewhere, keeping its id.
func (m *BranchManager) Register(b *Branch) error {
	if _, loaded := m.branches.LoadOrStore(b.ID, b); loaded {
		return fmt.Errorf("%w: %d", ErrBranchExists, b.ID)
	}
	for {
		cur := m.nextID.Load()
		if b.ID <= cur || m.nextID.CompareAndSwap(cur, b.ID) {
			return nil
		}
	}
}

// Len returns the number of known branches.
func (m *BranchManager) Len() int { return m.branches.Size() }

// BranchLoader fetches a branch the cache does not hold.
type BranchLoader func(id int32) (*Branch, bool)

// CachedBranchDirectory keeps recently used branches in an LRU cache in front
// of a slower loader.
type CachedBranchDirectory struct {
	cache *lru.Cache[int32, *Branch]
	load  BranchLoader
}

// NewCachedBranchDirectory keeps up to size branches returned by load.
func NewCachedBranchDirectory(size int, load BranchLoader) (*CachedBranchDirectory, error) {
	cache, err := lru.New[int32, *Branch](size)
	if err != nil {
		return nil, err
	}
	return &CachedBranchDirectory{cache: cache, load: load}, nil
}

// Branch consults the cache before load.
func (d *CachedBranchDirectory) Branch(id int32) (*Branch, bool) {
	if b, ok := d.cache.Get(id); ok {
		return b, true
	}
	b, ok := d.load(id)
	if !ok {
		return nil, false
	}
	d.cache.Add(id, b)
	return b, true
}

// Purge drops every cached branch.
func (d *CachedBranchDirectory) Purge() { d.cache.Purge() }
