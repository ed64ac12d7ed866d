package znet

import (
	"runtime"
	"strconv"
)

// goroutineID returns the numeric id of the calling goroutine by parsing
// the header line of its own stack trace. The runtime exposes no public
// goroutine-id API, and the reactor's owner-affinity check needs a stable
// identity for "the goroutine running Loop".
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Format: "goroutine 123 [running]:\n..."
	const prefix = "goroutine "
	b := buf[:n]
	if len(b) <= len(prefix) {
		return -1
	}
	b = b[len(prefix):]
	i := 0
	for i < len(b) && b[i] != ' ' {
		i++
	}
	id, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
