package revwire

import "sync"

const CHUNK_SIZE = 32 * 1024

// bufPool holds copy chunks for streaming lob content.
var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, CHUNK_SIZE)
		return &b
	},
}
