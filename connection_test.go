package znet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// socketpairConn builds a Connection over one end of a connected unix
// socketpair, registered on r, and hands back the raw peer fd for direct
// unix.Read/Write in tests.
func socketpairConn(t *testing.T, r *Reactor) (conn *Connection, peerFd int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)

	var c *Connection
	done := make(chan struct{})
	r.RunInLoop(func() {
		c = NewConnection(r, fds[0], Address{}, StateConnected, false, zap.NewNop().Sugar())
		c.Register(true)
		close(done)
	})
	<-done
	return c, fds[1]
}

func TestConnectionSendAndReceive(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	conn, peerFd := socketpairConn(t, r)
	defer unix.Close(peerFd)

	received := make(chan string, 1)
	r.RunInLoop(func() {
		conn.SetOnMessage(func(c *Connection) {
			received <- c.Inbound().String()
			c.Inbound().Clear()
		})
	})

	_, err := unix.Write(peerFd, []byte("hello"))
	require.NoError(t, err)

	select {
	case msg := <-received:
		require.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("onMessage never fired")
	}

	done := make(chan struct{})
	r.RunInLoop(func() {
		require.True(t, conn.Send([]byte("world")))
		close(done)
	})
	<-done

	buf := make([]byte, 8)
	require.Eventually(t, func() bool {
		n, rerr := unix.Read(peerFd, buf)
		return rerr == nil && n == 5
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "world", string(buf[:5]))
}

func TestConnectionShutdownTransitionsToHalfClosing(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	conn, peerFd := socketpairConn(t, r)
	defer unix.Close(peerFd)

	done := make(chan struct{})
	r.RunInLoop(func() {
		conn.Shutdown()
		close(done)
	})
	<-done

	require.Eventually(t, func() bool {
		return conn.State() == StateHalfClosing
	}, time.Second, 10*time.Millisecond)
}

func TestConnectionClosePreventsFurtherSend(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	conn, peerFd := socketpairConn(t, r)
	defer unix.Close(peerFd)

	closed := make(chan struct{})
	r.RunInLoop(func() {
		conn.SetOnClose(func(*Connection) { close(closed) })
		conn.Close()
	})

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close callback never fired")
	}

	require.Equal(t, StateClosed, conn.State())

	done := make(chan struct{})
	r.RunInLoop(func() {
		require.False(t, conn.Send([]byte("too late")))
		close(done)
	})
	<-done
}

func TestConnectionPeerFinClosesConnection(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	conn, peerFd := socketpairConn(t, r)

	closed := make(chan struct{})
	r.RunInLoop(func() {
		conn.SetOnClose(func(*Connection) { close(closed) })
	})

	unix.Close(peerFd)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never closed after peer FIN")
	}
	require.Equal(t, StateClosed, conn.State())
}
