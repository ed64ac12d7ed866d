package znet

import (
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ConnState is a Connection's lifecycle stage.
type ConnState int

const (
	StateNotConnected ConnState = iota
	StateConnected
	StateHalfClosing
	StateClosed
	StateFailed // client-only: connect attempt failed
)

func (s ConnState) String() string {
	switch s {
	case StateNotConnected:
		return "NotConnected"
	case StateConnected:
		return "Connected"
	case StateHalfClosing:
		return "HalfClosing"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// readScratchSize is the stack buffer size handleRead drains into, sized to
// one ethernet MTU.
const readScratchSize = 1500

// Connection is one TCP socket bound to a reactor: state machine, inbound/
// outbound buffers, per-connection timers and user context. All field
// mutation happens on the owning reactor's goroutine — no lock is needed,
// by the same affinity invariant the reactor itself enforces on its
// descriptor map.
type Connection struct {
	fd   int
	r    *Reactor
	peer Address
	log  *zap.SugaredLogger

	// state is atomic so a server's periodic sweeper can read it safely
	// from outside the owning reactor's goroutine; all writes still happen
	// only on that goroutine, by convention, matching the map-mutation
	// invariant the reactor itself enforces.
	state    atomic.Int32
	isClient bool

	in  *Buffer
	out *Buffer

	fe     *fdEvent
	ctx    *Context
	timers *ConnTimers

	onConnect       func(*Connection)
	onMessage       func(*Connection)
	onWriteComplete func(*Connection)
	onClose         func(*Connection)
}

// NewConnection wraps an already-open, non-blocking socket fd. state is the
// initial lifecycle stage: accepted sockets start Connected, client sockets
// start NotConnected until their connect attempt resolves.
func NewConnection(r *Reactor, fd int, peer Address, state ConnState, isClient bool, log *zap.SugaredLogger) *Connection {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c := &Connection{
		fd:       fd,
		r:        r,
		peer:     peer,
		log:      log,
		isClient: isClient,
		in:       NewBuffer(4096),
		out:      NewBuffer(4096),
		ctx:      NewContext(),
	}
	c.state.Store(int32(state))
	c.timers = &ConnTimers{TimerContainer: NewTimerContainer(r), conn: c}
	c.fe = newFdEvent(fd)
	c.fe.onRead = c.handleRead
	c.fe.onError = c.handleError
	return c
}

func (c *Connection) Fd() int       { return c.fd }
func (c *Connection) Peer() Address { return c.peer }

// State may be called from any goroutine (e.g. a server's sweeper); all
// writes happen only on the owning reactor's goroutine.
func (c *Connection) State() ConnState { return ConnState(c.state.Load()) }

func (c *Connection) Context() *Context   { return c.ctx }
func (c *Connection) Timers() *ConnTimers { return c.timers }

// ConnTimers wraps a connection's TimerContainer so every timer
// callback short-circuits if the connection has closed, or (for a client)
// never finished connecting, by the time it fires — the timer may already
// be popped off the hub for firing before Close or a failed connect runs,
// so Close's timers.Clear() alone doesn't cover it.
type ConnTimers struct {
	*TimerContainer
	conn *Connection
}

func (w *ConnTimers) Add(key string, interval time.Duration, cb func(), periodic bool) {
	w.TimerContainer.Add(key, interval, func() {
		switch w.conn.State() {
		case StateClosed, StateNotConnected, StateFailed:
			return
		}
		cb()
	}, periodic)
}

func (c *Connection) SetOnConnect(cb func(*Connection))       { c.onConnect = cb }
func (c *Connection) SetOnMessage(cb func(*Connection))       { c.onMessage = cb }
func (c *Connection) SetOnWriteComplete(cb func(*Connection)) { c.onWriteComplete = cb }
func (c *Connection) SetOnClose(cb func(*Connection))         { c.onClose = cb }

// Inbound returns the buffer of bytes received but not yet consumed by the
// caller. The message callback is expected to read from it and ConsumeFront
// whatever it handled.
func (c *Connection) Inbound() *Buffer { return c.in }

// Register installs the connection's fd with its reactor. armReadable
// decides whether readable interest starts armed (servers typically start
// reading immediately; clients wait for a connect to complete first).
func (c *Connection) Register(armReadable bool) {
	if armReadable {
		c.fe.armRead(c.handleRead)
	}
	c.r.Register(c.fe)
}

// Send queues data for transmission. Requires Connected; a no-op otherwise.
// Callable from any goroutine: the buffer append and interest change always
// run on the owning reactor, so an off-loop Send is observed no later than
// the next loop iteration after wake-up.
//
// Arming write displaces any read interest — the pumps are mutually
// exclusive. Call WaitForMessage from the write-complete callback to resume
// reading once the outbound buffer drains.
func (c *Connection) Send(data []byte) bool {
	if c.State() != StateConnected {
		return false
	}
	c.r.RunInLoop(func() {
		if c.State() != StateConnected {
			return
		}
		c.out.Append(data)
		c.fe.armWrite(c.handleWrite)
		c.r.Register(c.fe)
	})
	return true
}

// WaitForMessage arms readable interest. Allowed in Connected, and in
// HalfClosing so a server can keep draining a peer's final bytes before its
// FIN arrives. Callable from any goroutine, like Send.
func (c *Connection) WaitForMessage() bool {
	st := c.State()
	if st != StateConnected && st != StateHalfClosing {
		return false
	}
	c.r.RunInLoop(func() {
		st := c.State()
		if st != StateConnected && st != StateHalfClosing {
			return
		}
		c.fe.armRead(c.handleRead)
		c.r.Register(c.fe)
	})
	return true
}

// Shutdown half-closes the write side and waits for the peer's FIN.
// Callable from any goroutine.
func (c *Connection) Shutdown() {
	c.r.RunInLoop(func() {
		if c.State() != StateConnected {
			return
		}
		_ = unix.Shutdown(c.fd, unix.SHUT_WR)
		c.state.Store(int32(StateHalfClosing))
	})
}

// Close tears the connection down. Callable from any goroutine; the teardown
// itself always runs on the owning reactor.
func (c *Connection) Close() {
	c.r.RunInLoop(c.closeInLoop)
}

// closeInLoop cancels timers, marks Closed, invokes the close callback,
// unregisters the fd, then closes it — in that order, because the kernel may
// reuse the fd number the instant it's closed, which would alias a server's
// connection map if the unregister happened after.
func (c *Connection) closeInLoop() {
	st := c.State()
	if st != StateConnected && st != StateHalfClosing {
		return
	}
	c.timers.Clear()
	c.state.Store(int32(StateClosed))
	if c.onClose != nil {
		c.onClose(c)
	}
	c.r.Unregister(c.fd)
	_ = unix.Close(c.fd)
}

// handleRead drains the socket until EAGAIN, edge-triggered readiness
// requires nothing less. A zero-length read means the peer sent FIN.
func (c *Connection) handleRead() {
	var scratch [readScratchSize]byte
	gotData := false

	for {
		n, err := unix.Read(c.fd, scratch[:])
		if err != nil {
			switch err {
			case unix.EAGAIN:
				goto drained
			case unix.EINTR:
				continue
			default:
				c.degradeOnFatal(err)
				return
			}
		}
		if n == 0 {
			c.Close()
			return
		}
		c.in.Append(scratch[:n])
		gotData = true
	}

drained:
	if gotData && c.onMessage != nil {
		c.onMessage(c)
	}
}

// handleWrite flushes the outbound buffer until it's empty or the socket
// backs up with EAGAIN, in which case write interest stays armed.
func (c *Connection) handleWrite() {
	for !c.out.Empty() {
		n, err := unix.Write(c.fd, c.out.View())
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR:
				continue
			default:
				c.degradeOnFatal(err)
				return
			}
		}
		c.out.ConsumeFront(n)
	}

	c.fe.disarmWrite()
	c.r.Register(c.fe)
	if c.onWriteComplete != nil {
		c.onWriteComplete(c)
	}
}

func (c *Connection) handleError() {
	errno, _ := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	c.log.Errorw("connection fd error", "fd", c.fd, "peer", c.peer, "errno", errno)
	c.Close()
}

// markConnected transitions NotConnected → Connected, used by a client once
// its non-blocking connect(2) resolves successfully.
func (c *Connection) markConnected() {
	c.state.Store(int32(StateConnected))
}

// markFailed transitions NotConnected → Failed, used by a client when
// connect(2) resolves with an error or times out.
func (c *Connection) markFailed() {
	c.state.Store(int32(StateFailed))
}

// armConnectWritable arms writable interest with a caller-supplied callback,
// used by a client to learn when a non-blocking connect(2) has resolved.
func (c *Connection) armConnectWritable(cb func()) {
	c.fe.armWrite(cb)
	c.r.Register(c.fe)
}

// disarmConnectWritable clears writable interest once connect resolution
// has been observed.
func (c *Connection) disarmConnectWritable() {
	c.fe.disarmWrite()
	c.r.Register(c.fe)
}

// degradeOnFatal shuts the write side down and waits for the peer's FIN,
// same as an explicit Shutdown, but a client additionally stops its reactor
// once this has happened since it has no other work to do.
func (c *Connection) degradeOnFatal(err error) {
	c.log.Errorw("connection fatal I/O error", "fd", c.fd, "peer", c.peer, "error", err)
	if c.State() != StateConnected {
		return
	}
	_ = unix.Shutdown(c.fd, unix.SHUT_WR)
	c.state.Store(int32(StateHalfClosing))
	if c.isClient {
		c.r.Stop()
	}
}
