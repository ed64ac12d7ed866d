package znet

import "golang.org/x/sys/unix"

// interestMask holds readiness-interest bits, using the epoll event bit
// values directly.
type interestMask uint32

const (
	interestRead  interestMask = unix.EPOLLIN
	interestWrite interestMask = unix.EPOLLOUT
	interestError interestMask = unix.EPOLLERR
	// edgeTriggered is OR'd into every registration; the whole runtime
	// assumes edge-triggered readiness and drains until EAGAIN.
	edgeTriggered interestMask = unix.EPOLLET
)

// fdCallback is invoked on the owning reactor's goroutine when the
// associated readiness bit fires.
type fdCallback func()

// fdEvent bundles one descriptor with its current interest mask and
// callbacks. An fdEvent is attached to exactly one reactor at a time.
type fdEvent struct {
	fd       int
	interest interestMask

	onRead  fdCallback
	onWrite fdCallback
	onError fdCallback
}

func newFdEvent(fd int) *fdEvent {
	return &fdEvent{fd: fd}
}

// armRead makes readable the sole armed direction, replacing any write
// interest. Arming is mutually exclusive: at most one of the two pumps
// drives a descriptor at a time, and whoever finishes a write re-arms read
// explicitly (the write-complete callback's job).
func (e *fdEvent) armRead(cb fdCallback) {
	e.interest = interestRead | edgeTriggered
	e.onRead = cb
}

// armWrite makes writable the sole armed direction, replacing any read
// interest.
func (e *fdEvent) armWrite(cb fdCallback) {
	e.interest = interestWrite | edgeTriggered
	e.onWrite = cb
}

// disarmWrite clears the writable interest bit once the outbound buffer
// has drained.
func (e *fdEvent) disarmWrite() {
	e.interest &^= interestWrite
}

// listenRead is an alias for armRead used by reactor-internal pseudo-fds
// (wake, timer) that only ever need one direction.
func (e *fdEvent) listenRead(cb fdCallback) {
	e.armRead(cb)
}

func (e *fdEvent) setErrorCallback(cb fdCallback) {
	e.onError = cb
}

// handler returns the callback that should run for the given readiness bit,
// or nil if none was registered.
func (e *fdEvent) handler(bit interestMask) fdCallback {
	switch bit {
	case interestRead:
		return e.onRead
	case interestWrite:
		return e.onWrite
	case interestError:
		return e.onError
	default:
		return nil
	}
}
