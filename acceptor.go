package znet

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const acceptBacklog = 1000

// Acceptor owns a non-blocking listening socket and drains every pending
// connection on each readable wakeup.
type Acceptor struct {
	fd   int
	addr Address
	r    *Reactor
	log  *zap.SugaredLogger

	onAccept func(connFd int, peer Address)

	fe *fdEvent
}

// NewAcceptor creates, binds and listens on addr. Start must be called to
// begin accepting.
func NewAcceptor(r *Reactor, addr Address, log *zap.SugaredLogger, onAccept func(connFd int, peer Address)) (*Acceptor, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "znet: acceptor socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "znet: acceptor SO_REUSEADDR")
	}
	if err := unix.Bind(fd, addr.sockaddr()); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "znet: acceptor bind %s", addr)
	}
	if err := unix.Listen(fd, acceptBacklog); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "znet: acceptor listen")
	}

	// Re-read the bound address: addr.Port() may have been 0 (let the
	// kernel pick), in which case callers need the actual assigned port.
	if sa, err := unix.Getsockname(fd); err == nil {
		if bound, err := addressFromSockaddr(sa); err == nil {
			addr = bound
		}
	}

	a := &Acceptor{fd: fd, addr: addr, r: r, log: log, onAccept: onAccept}
	a.fe = newFdEvent(fd)
	a.fe.listenRead(a.handleAccept)
	return a, nil
}

// Start registers the listening socket with the reactor.
func (a *Acceptor) Start() {
	a.r.Register(a.fe)
}

// Addr returns the bound address.
func (a *Acceptor) Addr() Address { return a.addr }

// Close unregisters and closes the listening socket.
func (a *Acceptor) Close() error {
	a.r.Unregister(a.fd)
	return unix.Close(a.fd)
}

// handleAccept drains every pending connection until accept4 returns EAGAIN,
// required because the listening socket is registered edge-triggered.
func (a *Acceptor) handleAccept() {
	for {
		connFd, sa, err := unix.Accept4(a.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR:
				continue
			default:
				a.log.Errorw("accept failed", "error", err)
				return
			}
		}

		peer, perr := addressFromSockaddr(sa)
		if perr != nil {
			a.log.Errorw("accept: unusable peer address", "error", perr)
			unix.Close(connFd)
			continue
		}
		if a.onAccept != nil {
			a.onAccept(connFd, peer)
		}
	}
}
