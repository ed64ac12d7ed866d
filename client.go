package znet

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// connectTimeout bounds how long a non-blocking connect(2) may take before
// the client gives up.
const connectTimeout = 3 * time.Second

// Client is a single-reactor TCP client supporting both callback
// (asynchronous) and blocking (synchronous) usage. Both patterns drive the
// same underlying Connection; its state, not which call surface was used,
// is the single source of truth.
type Client struct {
	addr Address
	log  *zap.SugaredLogger

	r    *Reactor
	conn *Connection

	connectTimer *timerEvent
	sync         bool

	onConnect func(*Connection)
}

// NewClient allocates a client bound to addr. Connect (synchronous) or
// Start (asynchronous) actually initiates the connection attempt.
func NewClient(addr Address, log *zap.SugaredLogger) (*Client, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r, err := NewReactor(log)
	if err != nil {
		return nil, fmt.Errorf("znet: client reactor: %w", err)
	}
	return &Client{addr: addr, log: log, r: r}, nil
}

// SetOnConnect installs the callback invoked once the connection succeeds,
// used by the asynchronous pattern (the synchronous pattern typically has
// no need for it, since Connect itself reports success or failure).
func (c *Client) SetOnConnect(cb func(*Connection)) { c.onConnect = cb }

// Conn returns the underlying connection. Valid only after Start or Connect
// has been called.
func (c *Client) Conn() *Connection { return c.conn }

// Start initiates a non-blocking connect and then runs the reactor until
// Stop is called, invoking the on-connect callback on success. This is the
// asynchronous / callback usage pattern.
func (c *Client) Start() error {
	if _, err := c.beginConnect(); err != nil {
		return err
	}
	c.r.Loop()
	return nil
}

// Stop requests the client's reactor to exit its loop. Safe from any
// goroutine.
func (c *Client) Stop() {
	c.r.Stop()
}

// Close releases the client reactor's kernel resources. Call after Start or
// Connect's reactor has fully stopped.
func (c *Client) Close() error {
	return c.r.Close()
}

// Connect blocks until the connection succeeds or fails, running the
// reactor internally. This is the synchronous usage pattern.
func (c *Client) Connect() error {
	c.sync = true
	resolved, err := c.beginConnect()
	if err != nil {
		return err
	}
	if !resolved {
		c.r.Loop()
	}
	if c.conn.State() == StateFailed {
		return fmt.Errorf("znet: connect to %s failed", c.addr)
	}
	return nil
}

// Send queues data and runs the reactor for one write cycle before
// returning. Synchronous usage pattern only.
func (c *Client) Send(data []byte) error {
	if c.conn == nil || c.conn.State() != StateConnected {
		return fmt.Errorf("znet: client not connected")
	}
	prev := c.conn.onWriteComplete
	c.conn.SetOnWriteComplete(func(cn *Connection) {
		if prev != nil {
			prev(cn)
		}
		c.r.Stop()
	})
	c.conn.Send(data)
	c.r.Loop()
	c.conn.SetOnWriteComplete(prev)
	return nil
}

// Recv runs the reactor for one read cycle and returns whatever arrived.
// Synchronous usage pattern only.
func (c *Client) Recv() ([]byte, error) {
	if c.conn == nil || c.conn.State() != StateConnected {
		return nil, fmt.Errorf("znet: client not connected")
	}
	prev := c.conn.onMessage
	c.conn.SetOnMessage(func(cn *Connection) {
		if prev != nil {
			prev(cn)
		}
		c.r.Stop()
	})
	c.conn.WaitForMessage()
	c.r.Loop()
	c.conn.SetOnMessage(prev)

	out := NewBuffer(c.conn.Inbound().Size())
	out.Swap(c.conn.Inbound())
	return out.View(), nil
}

// ArmInactivityTimer stops the reactor if no other event resolves it first
// within d, the user-armed inactivity guard a synchronous caller can use
// around Recv.
func (c *Client) ArmInactivityTimer(d time.Duration) *timerEvent {
	return c.r.ScheduleTimer(d, func() { c.r.Stop() }, false)
}

// beginConnect creates the socket and issues connect(2). resolved is true
// if the outcome (success or failure) is already known when this returns —
// the caller must not enter the reactor loop to wait for it in that case.
func (c *Client) beginConnect() (resolved bool, err error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return true, fmt.Errorf("znet: client socket: %w", err)
	}
	c.conn = NewConnection(c.r, fd, c.addr, StateNotConnected, true, c.log)

	connErr := unix.Connect(fd, c.addr.sockaddr())
	if connErr == nil {
		c.finishConnectSuccess()
		return true, nil
	}
	if connErr != unix.EINPROGRESS {
		c.conn.markFailed()
		unix.Close(fd)
		return true, fmt.Errorf("znet: connect to %s: %w", c.addr, connErr)
	}

	c.conn.armConnectWritable(c.onConnectWritable)
	c.connectTimer = c.r.ScheduleTimer(connectTimeout, c.onConnectTimeout, false)
	return false, nil
}

func (c *Client) onConnectWritable() {
	// The timeout may have already failed the attempt in this same drain
	// batch; the fd is closed then, and its spurious writable event must not
	// resurrect the connection.
	if c.conn.State() != StateNotConnected {
		return
	}
	errno, _ := unix.GetsockoptInt(c.conn.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	c.r.CancelTimer(c.connectTimer)
	if errno != 0 {
		c.finishConnectFailure()
	} else {
		c.finishConnectSuccess()
	}
	if c.sync || c.conn.State() == StateFailed {
		c.r.Stop()
	}
}

func (c *Client) onConnectTimeout() {
	if c.conn.State() != StateNotConnected {
		return
	}
	c.log.Errorw("connect timed out", "addr", c.addr)
	c.finishConnectFailure()
	// Unconditional: an async Start() caller has no other work queued once
	// connect has definitively failed, so the reactor must exit rather than
	// loop forever.
	c.r.Stop()
}

func (c *Client) finishConnectSuccess() {
	c.conn.disarmConnectWritable()
	c.conn.markConnected()
	if c.onConnect != nil {
		c.onConnect(c.conn)
	}
}

func (c *Client) finishConnectFailure() {
	c.r.Unregister(c.conn.fd)
	c.conn.markFailed()
	unix.Close(c.conn.fd)
}
