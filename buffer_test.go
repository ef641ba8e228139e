package revwire

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Sockets ---

// chunkReader hands out one chunk per Read. With no chunks left it reports
// (0, nil), i.e. "would block", or io.EOF once eof is set.
type chunkReader struct {
	chunks [][]byte
	eof    bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(p, r.chunks[0])
	if n == len(r.chunks[0]) {
		r.chunks = r.chunks[1:]
	} else {
		r.chunks[0] = r.chunks[0][n:]
	}
	return n, nil
}

// budgetWriter accepts budget bytes, then reports "would block".
type budgetWriter struct {
	bytes.Buffer
	budget int
	err    error // returned once the budget is spent, if set
}

func (w *budgetWriter) Write(p []byte) (int, error) {
	n := min(len(p), w.budget)
	w.budget -= n
	w.Buffer.Write(p[:n])
	if n < len(p) && w.err != nil {
		return n, w.err
	}
	return n, nil
}

func frame(channel int16, length uint16, payload ...byte) []byte {
	return append([]byte{byte(uint16(channel) >> 8), byte(channel), byte(length >> 8), byte(length)}, payload...)
}

// --- State matrix ---

func bufferIn(t *testing.T, state BufferState) *Buffer {
	t.Helper()
	b, err := NewBuffer(16)
	require.NoError(t, err)

	switch state {
	case StateInitial:
	case StatePutting:
		_, err = b.StartPutting(1)
	case StateWriting:
		var w *BytesWriter
		w, err = b.StartPutting(1)
		require.NoError(t, err)
		_, _ = w.Write([]byte{1, 2, 3})
		var done bool
		done, err = b.Write(&budgetWriter{})
		require.False(t, done)
	case StateReadingHeader:
		_, err = b.StartGetting(&chunkReader{chunks: [][]byte{{0, 1}}})
	case StateReadingBody:
		_, err = b.StartGetting(&chunkReader{chunks: [][]byte{frame(1, 4)}})
	case StateGetting:
		_, err = b.StartPutting(1)
		require.NoError(t, err)
		_, err = b.Flip()
	case StateReleased:
		err = b.Release()
	case StateDisposed:
		b.dispose()
	}
	require.NoError(t, err)
	require.Equal(t, state, b.State())
	return b
}

func TestBufferStateMatrix(t *testing.T) {
	allStates := []BufferState{
		StateInitial, StatePutting, StateWriting, StateReadingHeader,
		StateReadingBody, StateGetting, StateReleased, StateDisposed,
	}

	type outcome struct {
		ok   bool
		next BufferState
	}
	ops := []struct {
		name    string
		do      func(b *Buffer) error
		allowed map[BufferState]BufferState
	}{
		{
			name: "StartPutting",
			do:   func(b *Buffer) error { _, err := b.StartPutting(1); return err },
			allowed: map[BufferState]BufferState{
				StateInitial: StatePutting,
				StatePutting: StatePutting,
			},
		},
		{
			name: "Write",
			do:   func(b *Buffer) error { _, err := b.Write(&budgetWriter{budget: 64}); return err },
			allowed: map[BufferState]BufferState{
				StatePutting: StateWriting,
				StateWriting: StateWriting,
			},
		},
		{
			name:    "Flip",
			do:      func(b *Buffer) error { _, err := b.Flip(); return err },
			allowed: map[BufferState]BufferState{StatePutting: StateGetting},
		},
		{
			name: "StartGetting",
			do:   func(b *Buffer) error { _, err := b.StartGetting(&chunkReader{}); return err },
			allowed: map[BufferState]BufferState{
				StateInitial:       StateReadingHeader,
				StateReadingHeader: StateReadingHeader,
				StateReadingBody:   StateReadingBody,
			},
		},
		{
			name: "Payload",
			do:   func(b *Buffer) error { _, err := b.Payload(); return err },
			allowed: map[BufferState]BufferState{
				StatePutting: StatePutting,
				StateGetting: StateGetting,
			},
		},
		{
			name: "Release",
			do:   func(b *Buffer) error { return b.Release() },
			allowed: map[BufferState]BufferState{
				StateInitial:       StateReleased,
				StatePutting:       StateReleased,
				StateWriting:       StateReleased,
				StateReadingHeader: StateReleased,
				StateReadingBody:   StateReleased,
				StateGetting:       StateReleased,
			},
		},
		{
			name: "Clear",
			do:   func(b *Buffer) error { return b.Clear() },
			allowed: map[BufferState]BufferState{
				StateInitial:       StateInitial,
				StatePutting:       StateInitial,
				StateWriting:       StateInitial,
				StateReadingHeader: StateInitial,
				StateReadingBody:   StateInitial,
				StateGetting:       StateInitial,
				StateReleased:      StateInitial,
			},
		},
	}

	for _, op := range ops {
		for _, state := range allStates {
			t.Run(op.name+"/"+state.String(), func(t *testing.T) {
				b := bufferIn(t, state)
				next, allowed := op.allowed[state]
				want := outcome{ok: allowed, next: next}
				if !allowed {
					want.next = state
				}

				err := op.do(b)
				if want.ok {
					require.NoError(t, err)
				} else {
					require.ErrorIs(t, err, ErrIllegalState)
					var se *StateError
					require.True(t, errors.As(err, &se))
					assert.Equal(t, op.name, se.Op)
					assert.Equal(t, state, se.State)
				}
				assert.Equal(t, want.next, b.State())
			})
		}
	}
}

// --- Framing ---

func TestBufferFullFrame(t *testing.T) {
	b, _ := NewBuffer(16)
	w, err := b.StartPutting(7)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xAB}, 16)
	n, err := w.Write(payload)
	require.NoError(t, err)
	require.Equal(t, 16, n)

	sock := &budgetWriter{budget: 100}
	done, err := b.Write(sock)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, frame(7, 16, payload...), sock.Bytes())
}

func TestBufferOverfillIsReported(t *testing.T) {
	b, _ := NewBuffer(16)
	w, _ := b.StartPutting(1)
	n, err := w.Write(make([]byte, 17))
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.Equal(t, 16, n)
}

func TestBufferEOSFlag(t *testing.T) {
	b, _ := NewBuffer(16)
	w, _ := b.StartPutting(1)
	_, _ = w.Write([]byte{1, 2})
	b.SetEOS(true)

	sock := &budgetWriter{budget: 100}
	_, err := b.Write(sock)
	require.NoError(t, err)
	assert.Equal(t, frame(1, 0x8002, 1, 2), sock.Bytes())

	in, _ := NewBuffer(16)
	r, err := in.StartGetting(bytes.NewReader(sock.Bytes()))
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.True(t, in.IsEOS())
	assert.EqualValues(t, 1, in.ChannelID())
	payload, err := in.Payload()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, payload)
}

func TestBufferRepeatedPartialWrites(t *testing.T) {
	b, _ := NewBuffer(32)
	w, _ := b.StartPutting(3)
	payload := []byte("partial writes stay WRITING")
	_, _ = w.Write(payload)

	sock := &budgetWriter{}
	for round := 0; ; round++ {
		require.Less(t, round, 100)
		sock.budget = 5
		done, err := b.Write(sock)
		require.NoError(t, err)
		require.Equal(t, StateWriting, b.State())
		if done {
			break
		}
	}
	assert.Equal(t, frame(3, uint16(len(payload)), payload...), sock.Bytes())

	// A flushed buffer can be reused after Clear.
	require.NoError(t, b.Clear())
	assert.Equal(t, StateInitial, b.State())
}

func TestBufferWriteErrors(t *testing.T) {
	t.Run("DeadlineIsWouldBlock", func(t *testing.T) {
		b, _ := NewBuffer(16)
		w, _ := b.StartPutting(1)
		_, _ = w.Write([]byte{1, 2, 3})

		sock := &budgetWriter{budget: 2, err: os.ErrDeadlineExceeded}
		done, err := b.Write(sock)
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, StateWriting, b.State())

		sock.budget, sock.err = 100, nil
		done, err = b.Write(sock)
		require.NoError(t, err)
		assert.True(t, done)
		assert.Equal(t, frame(1, 3, 1, 2, 3), sock.Bytes())
	})

	t.Run("GenuineErrorKeepsState", func(t *testing.T) {
		b, _ := NewBuffer(16)
		_, _ = b.StartPutting(1)

		boom := errors.New("boom")
		_, err := b.Write(&budgetWriter{budget: 1, err: boom})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, StateWriting, b.State())
	})
}

func TestBufferIncrementalRead(t *testing.T) {
	data := frame(-5, 4, 9, 8, 7, 6)
	sock := &chunkReader{}
	for _, c := range data {
		sock.chunks = append(sock.chunks, []byte{c})
	}

	// Feed the socket one byte per round; each round ends in "would block".
	feed := sock.chunks
	sock.chunks = nil
	b, _ := NewBuffer(16)
	var r *BytesReader
	for i, chunk := range feed {
		sock.chunks = [][]byte{chunk}
		var err error
		r, err = b.StartGetting(sock)
		require.NoError(t, err)
		switch {
		case i < HeaderSize-1:
			assert.Nil(t, r)
			assert.Equal(t, StateReadingHeader, b.State())
		case i < len(feed)-1:
			assert.Nil(t, r)
			assert.Equal(t, StateReadingBody, b.State())
		}
	}
	require.NotNil(t, r)
	assert.Equal(t, StateGetting, b.State())
	assert.EqualValues(t, -5, b.ChannelID())
	assert.False(t, b.IsEOS())
	assert.Equal(t, []byte{9, 8, 7, 6}, r.B)
}

func TestBufferReadErrors(t *testing.T) {
	t.Run("FrameTooLarge", func(t *testing.T) {
		b, _ := NewBuffer(16)
		_, err := b.StartGetting(bytes.NewReader(frame(1, 17)))
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("EOFInsideFrame", func(t *testing.T) {
		b, _ := NewBuffer(16)
		_, err := b.StartGetting(&chunkReader{chunks: [][]byte{frame(1, 4, 1)}, eof: true})
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("CleanEOFBeforeFrame", func(t *testing.T) {
		b, _ := NewBuffer(16)
		_, err := b.StartGetting(&chunkReader{eof: true})
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestBufferChannelMismatch(t *testing.T) {
	b, _ := NewBuffer(16)
	_, err := b.StartPutting(1)
	require.NoError(t, err)
	_, err = b.StartPutting(2)
	assert.ErrorIs(t, err, ErrChannelMismatch)
	assert.EqualValues(t, 1, b.ChannelID())
}

func TestBufferCapacityBounds(t *testing.T) {
	_, err := NewBuffer(0)
	assert.ErrorIs(t, err, ErrBadCapacity)
	_, err = NewBuffer(MaxBufferCapacity + 1)
	assert.ErrorIs(t, err, ErrBadCapacity)

	b, err := NewBuffer(MaxBufferCapacity)
	require.NoError(t, err)
	assert.Equal(t, MaxBufferCapacity, b.Capacity())
	assert.Equal(t, NoChannel, b.ChannelID())
}

func TestBufferErrorHandler(t *testing.T) {
	b, _ := NewBuffer(16)
	var got error
	b.SetErrorHandler(func(err error) { got = err })
	b.HandleError(io.ErrClosedPipe)
	assert.ErrorIs(t, got, io.ErrClosedPipe)

	require.NoError(t, b.Clear())
	got = nil
	b.HandleError(io.ErrClosedPipe)
	assert.NoError(t, got, "Clear drops the handler")
}
