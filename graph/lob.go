package graph

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/oy3o/revwire"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"
)

// LobID is the 128-bit xxh3 hash of a large object's content.
type LobID [16]byte

func (id LobID) String() string { return hex.EncodeToString(id[:]) }

func (id LobID) IsZero() bool { return id == LobID{} }

// LobIDOf returns the content id of data.
func LobIDOf(data []byte) LobID {
	return xxh3.Hash128(data).Bytes()
}

// Lob is a handle to large-object content stored outside the revision.
// The zero Lob is the empty reference.
type Lob struct {
	ID   LobID
	Size int64
}

// LobResolver resolves lob handles read from the wire.
type LobResolver interface {
	ResolveLob(id LobID, size int64) (Lob, error)
}

// MemLobStore is a content-addressed in-memory lob store.
type MemLobStore struct {
	blobs *xsync.Map[LobID, []byte]
}

// NewMemLobStore returns an empty store.
func NewMemLobStore() *MemLobStore {
	return &MemLobStore{blobs: xsync.NewMap[LobID, []byte]()}
}

// Put stores data and returns its handle.
func (s *MemLobStore) Put(data []byte) Lob {
	id := LobIDOf(data)
	s.blobs.LoadOrStore(id, data)
	return Lob{ID: id, Size: int64(len(data))}
}

// PutFrom drains src into the store, hashing while it copies. Nothing is
// stored when src fails.
func (s *MemLobStore) PutFrom(src io.WriterTo) (Lob, error) {
	lob, data, err := drainContent(src)
	if err != nil {
		return Lob{}, err
	}
	s.blobs.LoadOrStore(lob.ID, data)
	return lob, nil
}

func drainContent(src io.WriterTo) (Lob, []byte, error) {
	var buf bytes.Buffer
	h := xxh3.New()
	if _, err := src.WriteTo(io.MultiWriter(&buf, h)); err != nil {
		return Lob{}, nil, err
	}
	return Lob{ID: h.Sum128().Bytes(), Size: int64(buf.Len())}, buf.Bytes(), nil
}

// Get returns the content stored under id.
func (s *MemLobStore) Get(id LobID) ([]byte, bool) {
	return s.blobs.Load(id)
}

// ResolveLob succeeds when content of the given size is stored under id.
func (s *MemLobStore) ResolveLob(id LobID, size int64) (Lob, error) {
	data, ok := s.blobs.Load(id)
	if !ok || int64(len(data)) != size {
		return Lob{}, &UnresolvedError{Kind: "lob", Ref: id.String()}
	}
	return Lob{ID: id, Size: size}, nil
}

// WriteLobContent writes the size of lob followed by its raw content.
func WriteLobContent(w *revwire.Writer, store *MemLobStore, lob Lob) error {
	data, ok := store.Get(lob.ID)
	if !ok {
		return &UnresolvedError{Kind: "lob", Ref: lob.ID.String()}
	}
	w.WriteInt64(int64(len(data)))
	w.WriteBytes(data)
	return w.Err()
}

// ReadLobContent reads content written by WriteLobContent into store. A
// truncated transfer leaves store unchanged.
func ReadLobContent(r *revwire.Reader, store *MemLobStore) (Lob, error) {
	var size int64
	r.ReadInt64(&size)
	if err := r.Err(); err != nil {
		return Lob{}, err
	}
	if err := revwire.CheckLength(size, revwire.MAX_STRING_SIZE); err != nil {
		r.Fail(err)
		return Lob{}, err
	}
	lob, data, err := drainContent(revwire.LimitReader(r, size))
	if err != nil {
		r.Fail(err)
		return Lob{}, err
	}
	if lob.Size != size {
		r.Fail(io.ErrUnexpectedEOF)
		return Lob{}, fmt.Errorf("lob content: %w", io.ErrUnexpectedEOF)
	}
	return store.Put(data), nil
}
