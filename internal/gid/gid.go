// Package gid extracts the current goroutine's id. The goroutine-local
// affinity store keys its slots on it.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

var prefix = []byte("goroutine ")

// Current returns the id of the calling goroutine.
//
// The id is parsed from the runtime.Stack header ("goroutine 123 [...]"),
// which is the only stable way to observe goroutine identity without
// runtime patches. The cost is one small stack capture per call; the
// affinity store only pays it on explicit get/set operations, never on a
// hot scheduling path.
func Current() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := bytes.TrimPrefix(buf[:n], prefix)
	end := bytes.IndexByte(header, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(header[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
