// Package pool recycles the buffers embed text is rendered into.
package pool

import (
	"bytes"
	"sync"
)

// maxPooled keeps one oversized render from pinning its buffer forever.
const maxPooled = 64 << 10

var buffers = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// GetBuffer retrieves an empty buffer from the pool.
func GetBuffer() *bytes.Buffer {
	b := buffers.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// PutBuffer returns b to the pool. b must not be used afterwards.
func PutBuffer(b *bytes.Buffer) {
	if b.Cap() > maxPooled {
		return
	}
	buffers.Put(b)
}

// JoinLines renders lines separated by newlines, stopping after limit lines
// when limit is positive.
func JoinLines[T any](items []T, limit int, line func(T) string) string {
	b := GetBuffer()
	defer PutBuffer(b)
	for i, it := range items {
		if limit > 0 && i == limit {
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line(it))
	}
	return b.String()
}
