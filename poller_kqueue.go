//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package znet

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// kqueuePoller is a development-convenience backend for non-Linux unix
// systems; it has no native eventfd/timerfd equivalent, so wake and timer
// use dedicated kqueue idents with EVFILT_USER / EVFILT_TIMER, a pattern
// shared by other readiness-multiplexer libraries in the retrieval corpus
// (evio, gnet) for the same reason.
type kqueuePoller struct {
	kq int

	wakeIdent  int
	timerIdent int
}

// Pseudo idents live outside the valid fd space (fds are always >= 0) so
// they can never collide with a registered connection/listener descriptor.
const (
	kqWakeIdent  = ^uintptr(0) - 1
	kqTimerIdent = ^uintptr(0) - 2
)

func newPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "kqueue")
	}
	return &kqueuePoller{kq: kq, wakeIdent: -1, timerIdent: -1}, nil
}

func (p *kqueuePoller) changeIO(fd int, readable, writable bool) error {
	changes := make([]unix.Kevent_t, 0, 2)
	readFlags := unix.EV_DELETE
	if readable {
		readFlags = unix.EV_ADD | unix.EV_CLEAR
	}
	changes = append(changes, unix.Kevent_t{
		Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: uint16(readFlags),
	})
	writeFlags := unix.EV_DELETE
	if writable {
		writeFlags = unix.EV_ADD | unix.EV_CLEAR
	}
	changes = append(changes, unix.Kevent_t{
		Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: uint16(writeFlags),
	})
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	// EV_DELETE on a filter that was never added returns ENOENT; harmless.
	if err != nil && err != unix.ENOENT {
		return err
	}
	return nil
}

func (p *kqueuePoller) Add(fd int, readable, writable bool) error {
	if err := p.changeIO(fd, readable, writable); err != nil {
		return errors.Wrap(err, "kevent add")
	}
	return nil
}

func (p *kqueuePoller) Modify(fd int, readable, writable bool) error {
	if err := p.changeIO(fd, readable, writable); err != nil {
		return errors.Wrap(err, "kevent modify")
	}
	return nil
}

func (p *kqueuePoller) Remove(fd int) error {
	if err := p.changeIO(fd, false, false); err != nil {
		return errors.Wrap(err, "kevent remove")
	}
	return nil
}

func (p *kqueuePoller) Wait(timeout time.Duration) ([]pollerEvent, error) {
	const maxPollEvents = 100
	raw := make([]unix.Kevent_t, maxPollEvents)
	ts := unix.NsecToTimespec(timeout.Nanoseconds())

	n, err := unix.Kevent(p.kq, nil, raw, &ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, errors.Wrap(err, "kevent wait")
	}

	events := make([]pollerEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := raw[i]
		events = append(events, pollerEvent{
			fd:    int(ev.Ident),
			read:  ev.Filter == unix.EVFILT_READ,
			write: ev.Filter == unix.EVFILT_WRITE,
			err:   ev.Flags&unix.EV_ERROR != 0,
		})
	}
	return events, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}

func (p *kqueuePoller) ArmWake() (int, error) {
	ev := unix.Kevent_t{
		Ident: uint64(kqWakeIdent), Filter: unix.EVFILT_USER,
		Flags: unix.EV_ADD | unix.EV_CLEAR,
	}
	if _, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return 0, errors.Wrap(err, "kevent arm wake")
	}
	p.wakeIdent = int(kqWakeIdent)
	return p.wakeIdent, nil
}

func (p *kqueuePoller) Wake() error {
	ev := unix.Kevent_t{
		Ident: uint64(kqWakeIdent), Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil)
	if err != nil {
		return errors.Wrap(err, "kevent trigger wake")
	}
	return nil
}

func (p *kqueuePoller) DrainWake() error {
	return nil
}

func (p *kqueuePoller) ArmTimer() (int, error) {
	p.timerIdent = int(kqTimerIdent)
	return p.timerIdent, nil
}

func (p *kqueuePoller) SetTimer(d time.Duration) error {
	if d <= 0 {
		ev := unix.Kevent_t{
			Ident: uint64(kqTimerIdent), Filter: unix.EVFILT_TIMER, Flags: unix.EV_DELETE,
		}
		_, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil)
		if err != nil && err != unix.ENOENT {
			return errors.Wrap(err, "kevent disarm timer")
		}
		return nil
	}
	ev := unix.Kevent_t{
		Ident: uint64(kqTimerIdent), Filter: unix.EVFILT_TIMER,
		Flags: unix.EV_ADD | unix.EV_ONESHOT, Fflags: unix.NOTE_NSECONDS,
		Data: d.Nanoseconds(),
	}
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil)
	if err != nil {
		return errors.Wrap(err, "kevent arm timer")
	}
	return nil
}

func (p *kqueuePoller) DrainTimer() error {
	return nil
}
