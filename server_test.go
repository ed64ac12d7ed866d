package znet

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// startTestServer constructs and runs a server on one dedicated goroutine —
// a reactor's owner is fixed at construction time, so NewServer and Start
// must happen on the same goroutine. configure runs between the two.
func startTestServer(t *testing.T, workers int, configure func(*Server)) (*Server, chan error) {
	t.Helper()
	addr, err := ParseAddress("127.0.0.1:0")
	require.NoError(t, err)

	serverCh := make(chan *Server, 1)
	done := make(chan error, 1)
	go func() {
		server, err := NewServer(addr, workers, zap.NewNop().Sugar())
		if err != nil {
			serverCh <- nil
			done <- err
			return
		}
		if configure != nil {
			configure(server)
		}
		serverCh <- server
		done <- server.Start()
	}()

	server := <-serverCh
	if server == nil {
		t.Fatalf("server construction failed: %v", <-done)
	}
	return server, done
}

func dialServer(t *testing.T, s *Server) net.Conn {
	t.Helper()
	var conn net.Conn
	require.Eventually(t, func() bool {
		var dialErr error
		conn, dialErr = net.DialTimeout("tcp", s.Addr().String(), 200*time.Millisecond)
		return dialErr == nil
	}, 2*time.Second, 20*time.Millisecond)
	return conn
}

func TestServerEchoAndGracefulShutdown(t *testing.T) {
	server, done := startTestServer(t, 2, func(s *Server) {
		s.SetOnConnect(func(c *Connection) { c.WaitForMessage() })
		s.SetOnMessage(func(c *Connection) {
			msg := c.Inbound().String()
			c.Inbound().Clear()
			c.Send([]byte(msg))
		})
		s.SetOnWriteComplete(func(c *Connection) { c.WaitForMessage() })
	})

	conn := dialServer(t, server)
	defer conn.Close()

	_, err := conn.Write([]byte("ping"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))

	server.Shutdown()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down within timeout")
	}
	require.Equal(t, 0, server.ConnCount())
}

func TestServerShutdownOnSignalPipe(t *testing.T) {
	server, done := startTestServer(t, 1, nil)

	conn := dialServer(t, server)
	defer conn.Close()

	// Inject a "signal" the way the handler itself would: one byte on the
	// self-pipe's write end. This exercises the same readable-event path as a
	// real SIGTERM without racing other tests over process-wide signal state.
	_, err := unix.Write(server.sigWriteFd, []byte{1})
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server ignored the signal pipe")
	}
	require.Equal(t, 0, server.ConnCount())
}

func TestServerIdleConnectionSweep(t *testing.T) {
	server, done := startTestServer(t, 1, func(s *Server) {
		s.SetOnConnect(func(c *Connection) { c.WaitForMessage() })
	})
	defer func() {
		server.Shutdown()
		<-done
	}()

	conn := dialServer(t, server)

	require.Eventually(t, func() bool { return server.ConnCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return server.ConnCount() == 0 }, 4*time.Second, 50*time.Millisecond)
}
