package znet

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// startTestReactor builds a reactor inside its own goroutine (mirroring
// IOThread) and returns it plus a stop function. A reactor's owner
// goroutine is fixed at construction time, so it cannot be built in the
// test goroutine and looped in another.
func startTestReactor(t *testing.T) (*Reactor, func()) {
	t.Helper()
	it := NewIOThread(nil)
	it.Start()
	r := it.Reactor()
	require.NotNil(t, r)
	return r, func() {
		it.Stop()
		it.Join()
	}
}

func TestReactorRunInLoopConcurrent(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	const goroutines = 8
	const perGoroutine = 10000

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				done := make(chan struct{})
				r.RunInLoop(func() {
					counter++
					close(done)
				})
				<-done
			}
		}()
	}
	wg.Wait()

	require.Equal(t, goroutines*perGoroutine, counter)
}

func TestReactorRunInLoopInline(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	ran := make(chan bool, 1)
	r.RunInLoop(func() {
		// This task runs on the owner goroutine, so the nested RunInLoop must
		// run its task inline, before returning, not via the pending queue.
		inline := false
		r.RunInLoop(func() { inline = r.IsOwner() })
		ran <- inline
	})
	select {
	case v := <-ran:
		require.True(t, v)
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestReactorRegisterFiresReadable(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	var fds [2]int
	err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC)
	require.NoError(t, err)
	readFd, writeFd := fds[0], fds[1]
	defer unix.Close(writeFd)

	fired := make(chan struct{}, 1)
	r.RunInLoop(func() {
		fe := newFdEvent(readFd)
		fe.armRead(func() {
			buf := make([]byte, 8)
			unix.Read(readFd, buf)
			select {
			case fired <- struct{}{}:
			default:
			}
		})
		r.Register(fe)
	})

	_, err = unix.Write(writeFd, []byte("x"))
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("readable callback never fired")
	}

	r.RunInLoop(func() { r.Unregister(readFd) })
	unix.Close(readFd)
}

func TestReactorStopExitsLoop(t *testing.T) {
	it := NewIOThread(nil)
	it.Start()
	r := it.Reactor()
	require.NotNil(t, r)
	require.True(t, r.IsRunning())

	r.Stop()
	it.Join()
	require.False(t, r.IsRunning())
}
