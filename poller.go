package znet

import "time"

// pollerEvent is one readiness notification returned by Wait. fd is the
// descriptor (or, for the wake/timer pseudo-descriptors on the kqueue
// backend, the sentinel id handed back by ArmWake/ArmTimer).
type pollerEvent struct {
	fd    int
	read  bool
	write bool
	err   bool
}

// poller is the platform-specific readiness multiplexer a reactor drives.
// Exactly one goroutine — the reactor's owner — may call Add/Modify/Remove/
// Wait; the affinity is enforced one level up, by Reactor itself. Wake and
// SetTimer are called from any goroutine (SetTimer by the timer hub, whose
// add runs on whichever goroutine schedules a timer).
type poller interface {
	// Add registers fd for the given readiness directions.
	Add(fd int, readable, writable bool) error
	// Modify changes fd's registered readiness directions.
	Modify(fd int, readable, writable bool) error
	// Remove unregisters fd. Safe to call even if fd was already dropped by
	// the kernel (e.g. closed out from under the poller).
	Remove(fd int) error
	// Wait blocks up to timeout for readiness, returning whatever fired.
	Wait(timeout time.Duration) ([]pollerEvent, error)
	// Close releases the poller's own kernel resources (not caller fds).
	Close() error

	// ArmWake installs the cross-goroutine wake channel and returns the id
	// to use for Wake/Add bookkeeping purposes.
	ArmWake() (id int, err error)
	// Wake signals the wake channel; idempotent while unconsumed.
	Wake() error
	// DrainWake consumes the wake channel's pending signal after Wait
	// reports it readable.
	DrainWake() error

	// ArmTimer installs the single kernel timer descriptor backing the
	// timer hub and returns its id.
	ArmTimer() (id int, err error)
	// SetTimer arms the timer to fire after d, or disarms it if d <= 0.
	SetTimer(d time.Duration) error
	// DrainTimer consumes the timer descriptor's expiration counter.
	DrainTimer() error
}
