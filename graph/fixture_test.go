package graph

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// Feature indexes of the test Node class.
const (
	fName int32 = iota
	fFlag
	fCount
	fSize
	fWeight
	fBlob
	fParent
	fContent
	fTags
	fChildren
)

type fixture struct {
	branches *BranchManager
	schemas  *Registry
	lobs     *MemLobStore
	ctx      Context
	node     *Class
	trunk    *Branch
	feature  *Branch
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	node := NewClass("Node",
		Feature{Name: "name", Kind: KindString},
		Feature{Name: "flag", Kind: KindBool},
		Feature{Name: "count", Kind: KindInt32},
		Feature{Name: "size", Kind: KindInt64},
		Feature{Name: "weight", Kind: KindFloat64},
		Feature{Name: "blob", Kind: KindBytes},
		Feature{Name: "parent", Kind: KindID},
		Feature{Name: "content", Kind: KindLob},
		Feature{Name: "tags", Kind: KindString, Many: true},
		Feature{Name: "children", Kind: KindID, Many: true},
	)
	f := &fixture{
		branches: NewBranchManager(1000),
		schemas:  NewRegistry(NewPackageUnit("urn:test:model", node)),
		lobs:     NewMemLobStore(),
		node:     node,
	}
	f.trunk = f.branches.Main()
	var err error
	f.feature, err = f.branches.CreateBranch("feature", f.trunk.Point(1500))
	require.NoError(t, err)
	f.ctx = Context{Branches: f.branches, Schemas: f.schemas, Lobs: f.lobs}
	return f
}

// revision returns a node revision with every feature set.
func (f *fixture) revision(t *testing.T, id int64) *Revision {
	t.Helper()
	rev := NewRevision(f.node, IntID(id), f.feature.Version(3))
	rev.TimeStamp = 2000
	rev.Revised = UnspecifiedDate
	values := map[int32]any{
		fName:     "root",
		fFlag:     true,
		fCount:    int32(-7),
		fSize:     int64(1) << 40,
		fWeight:   0.25,
		fBlob:     []byte{0xCA, 0xFE},
		fParent:   IntID(99),
		fContent:  f.lobs.Put([]byte("large object body")),
		fTags:     []any{"a", "b", ""},
		fChildren: []any{IntID(1), nil, IntID(3)},
	}
	for i, v := range values {
		require.NoError(t, rev.SetValue(i, v))
	}
	return rev
}

func encode[T any](t *testing.T, ctx Context, v T, write func(*Writer, T) error) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, ctx)
	require.NoError(t, err)
	require.NoError(t, write(w, v))
	require.NoError(t, w.Flush())
	return buf.Bytes()
}

func decode[T any](t *testing.T, ctx Context, data []byte, read func(*Reader) (T, error)) (T, error) {
	t.Helper()
	r, err := NewReader(bytes.NewReader(data), ctx)
	require.NoError(t, err)
	v, err := read(r)
	if err == nil {
		_, eof := r.Stream().ReadByte()
		require.ErrorIs(t, eof, io.EOF, "decoder left trailing bytes")
	}
	return v, err
}

// roundTrip encodes v, decodes it and checks that the decoded value encodes
// to the same bytes.
func roundTrip[T any](t *testing.T, ctx Context, v T, write func(*Writer, T) error, read func(*Reader) (T, error)) T {
	t.Helper()
	data := encode(t, ctx, v, write)
	got, err := decode(t, ctx, data, read)
	require.NoError(t, err)
	require.Equal(t, data, encode(t, ctx, got, write), "re-encoding changed the bytes")
	return got
}
