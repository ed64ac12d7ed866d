//go:build linux

package znet

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// epollPoller is the primary backend: epoll for readiness, eventfd for
// wake, timerfd for the timer hub.
type epollPoller struct {
	epfd int

	wakeFd  int
	timerFd int
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &epollPoller{epfd: epfd, wakeFd: -1, timerFd: -1}, nil
}

func (p *epollPoller) ctl(op int, fd int, readable, writable bool) error {
	var ev unix.EpollEvent
	ev.Fd = int32(fd)
	if readable {
		ev.Events |= unix.EPOLLIN
	}
	if writable {
		ev.Events |= unix.EPOLLOUT
	}
	ev.Events |= unix.EPOLLET
	return unix.EpollCtl(p.epfd, op, fd, &ev)
}

func (p *epollPoller) Add(fd int, readable, writable bool) error {
	if err := p.ctl(unix.EPOLL_CTL_ADD, fd, readable, writable); err != nil {
		return errors.Wrap(err, "epoll_ctl add")
	}
	return nil
}

func (p *epollPoller) Modify(fd int, readable, writable bool) error {
	if err := p.ctl(unix.EPOLL_CTL_MOD, fd, readable, writable); err != nil {
		return errors.Wrap(err, "epoll_ctl mod")
	}
	return nil
}

func (p *epollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return errors.Wrap(err, "epoll_ctl del")
	}
	return nil
}

func (p *epollPoller) Wait(timeout time.Duration) ([]pollerEvent, error) {
	const maxPollEvents = 100
	var raw [maxPollEvents]unix.EpollEvent

	ms := int(timeout / time.Millisecond)
	n, err := unix.EpollWait(p.epfd, raw[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, errors.Wrap(err, "epoll_wait")
	}

	events := make([]pollerEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := raw[i]
		events = append(events, pollerEvent{
			fd:    int(ev.Fd),
			read:  ev.Events&(unix.EPOLLIN|unix.EPOLLHUP) != 0,
			write: ev.Events&unix.EPOLLOUT != 0,
			err:   ev.Events&unix.EPOLLERR != 0,
		})
	}
	return events, nil
}

func (p *epollPoller) Close() error {
	if p.wakeFd >= 0 {
		unix.Close(p.wakeFd)
	}
	if p.timerFd >= 0 {
		unix.Close(p.timerFd)
	}
	return unix.Close(p.epfd)
}

func (p *epollPoller) ArmWake() (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return 0, errors.Wrap(err, "eventfd")
	}
	p.wakeFd = fd
	return fd, nil
}

func (p *epollPoller) Wake() error {
	buf := make([]byte, 8)
	buf[0] = 1
	_, err := unix.Write(p.wakeFd, buf)
	if err != nil && err != unix.EAGAIN {
		return errors.Wrap(err, "eventfd write")
	}
	return nil
}

func (p *epollPoller) DrainWake() error {
	buf := make([]byte, 8)
	for {
		_, err := unix.Read(p.wakeFd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			return errors.Wrap(err, "eventfd read")
		}
	}
}

func (p *epollPoller) ArmTimer() (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return 0, errors.Wrap(err, "timerfd_create")
	}
	p.timerFd = fd
	return fd, nil
}

func (p *epollPoller) SetTimer(d time.Duration) error {
	var spec unix.ItimerSpec
	if d > 0 {
		spec.Value.Sec = int64(d / time.Second)
		spec.Value.Nsec = int64(d % time.Second)
	}
	// it_interval left zero: one-shot relative arming, re-armed by the
	// caller after each fire.
	return unix.TimerfdSettime(p.timerFd, 0, &spec, nil)
}

func (p *epollPoller) DrainTimer() error {
	buf := make([]byte, 8)
	for {
		_, err := unix.Read(p.timerFd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			return errors.Wrap(err, "timerfd read")
		}
	}
}
