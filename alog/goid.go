package alog

import (
	"runtime"
	"strconv"
)

// goroutineID returns the numeric id of the calling goroutine, used as the
// "tid" field of a log record. Duplicated from znet's own helper rather
// than imported, so this package stays usable standalone with no dependency
// on znet.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
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
