// Encoding buffer pool
//
// Live snapshots are encoded once per broadcast and every saved document
// once per file. The scratch buffers are reused between encodings:
//
//	data, err := pool.EncodeJSON(snapshot, "")
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pool

import (
	"bytes"
	"encoding/json"
	"sync"
)

// maxPooled is the largest buffer capacity returned to the pool. A swept
// snapshot of a few hundred points fits well below it.
const maxPooled = 1 << 20

var bufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer gets an empty buffer from the pool.
func GetBuffer() *bytes.Buffer {
	b := bufferPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// PutBuffer returns a buffer to the pool. Oversized buffers are dropped.
func PutBuffer(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxPooled {
		return
	}
	bufferPool.Put(b)
}

// EncodeJSON encodes v followed by a newline, indenting each level with
// indent unless it is empty. HTML characters are not escaped. The result
// does not alias pooled memory.
func EncodeJSON(v any, indent string) ([]byte, error) {
	b := GetBuffer()
	defer PutBuffer(b)

	enc := json.NewEncoder(b)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.Clone(b.Bytes()), nil
}
