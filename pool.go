package chanbus

import (
	"bytes"
	"sync"
)

// Buffer pool for frame encoding in hot paths.
var bufferPool = sync.Pool{
	New: func() any {
		return &bytes.Buffer{}
	},
}

// getBuffer returns a pooled, reset buffer.
func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// putBuffer returns a buffer to the pool.
func putBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	// Only pool buffers of reasonable capacity (64KB).
	if buf.Cap() <= 65536 {
		bufferPool.Put(buf)
	}
}
