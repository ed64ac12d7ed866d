package znet

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClientConnectAndSyncSendRecv(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, aerr := ln.Accept()
		if aerr == nil {
			accepted <- conn
		}
	}()

	addr, err := ParseAddress(ln.Addr().String())
	require.NoError(t, err)

	client, err := NewClient(addr, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Connect())
	require.Equal(t, StateConnected, client.Conn().State())

	var peer net.Conn
	select {
	case peer = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server side never accepted")
	}
	defer peer.Close()

	require.NoError(t, client.Send([]byte("hi")))
	buf := make([]byte, 8)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := peer.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hi", string(buf[:n]))

	_, err = peer.Write([]byte("back"))
	require.NoError(t, err)

	got, err := client.Recv()
	require.NoError(t, err)
	require.Equal(t, "back", string(got))
}

func TestClientConnectRefusedFailsFast(t *testing.T) {
	// Bind and close immediately: nothing listens on the resulting port, so
	// connect(2) resolves quickly with ECONNREFUSED rather than hitting the
	// 3-second connect timeout.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr, err := ParseAddress(ln.Addr().String())
	require.NoError(t, err)
	ln.Close()

	client, err := NewClient(addr, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer client.Close()

	err = client.Connect()
	require.Error(t, err)
	require.Equal(t, StateFailed, client.Conn().State())
}

func TestClientConnectTimeoutAgainstBlackhole(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the full connect timeout")
	}
	// TEST-NET-style unroutable target: SYNs disappear, so the attempt must
	// be ended by the client's own 3-second connect timer. Environments that
	// instead report unreachable immediately still end Failed, just sooner.
	addr, err := ParseAddress("10.255.255.1:1")
	require.NoError(t, err)

	client, err := NewClient(addr, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer client.Close()

	start := time.Now()
	err = client.Connect()
	require.Error(t, err)
	require.Equal(t, StateFailed, client.Conn().State())
	require.Less(t, time.Since(start), 4*time.Second)
}
