package znet

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// sweepInterval is how often the server scans its connection map for Closed
// entries to evict.
const sweepInterval = 2 * time.Second

// Server accepts connections on a listening socket, hands each to a worker
// reactor round-robin, and tracks them in a connection map it periodically
// sweeps for closed entries.
type Server struct {
	log *zap.SugaredLogger

	mainReactor *Reactor
	pool        *ThreadPool
	acceptor    *Acceptor

	mu    sync.Mutex
	conns map[int]*Connection

	onConnect       func(*Connection)
	onMessage       func(*Connection)
	onWriteComplete func(*Connection)
	onClose         func(*Connection)

	sigEvent   *fdEvent
	sigReadFd  int
	sigWriteFd int
	sigCh      chan os.Signal
}

// NewServer builds a server listening on addr with the given number of
// worker reactors. Construction is exception-safe: any failure returns an
// error and leaves nothing partially registered.
func NewServer(addr Address, workers int, log *zap.SugaredLogger) (*Server, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	mainReactor, err := NewReactor(log)
	if err != nil {
		return nil, errors.Wrap(err, "znet: server main reactor")
	}

	s := &Server{
		log:         log,
		mainReactor: mainReactor,
		pool:        NewThreadPool(workers, log),
		conns:       make(map[int]*Connection),
		sigCh:       make(chan os.Signal, 1),
	}

	acceptor, err := NewAcceptor(mainReactor, addr, log, s.handleAccept)
	if err != nil {
		mainReactor.Close()
		return nil, errors.Wrap(err, "znet: server acceptor")
	}
	s.acceptor = acceptor

	// Self-pipe: SIGINT/SIGTERM are converted into a readable event on the
	// main reactor rather than handled in the signal goroutine itself, so
	// shutdown runs on the reactor's owner goroutine like every other piece
	// of server state.
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		acceptor.Close()
		mainReactor.Close()
		return nil, errors.Wrap(err, "znet: server self-pipe")
	}
	s.sigReadFd, s.sigWriteFd = fds[0], fds[1]
	s.sigEvent = newFdEvent(s.sigReadFd)
	s.sigEvent.armRead(s.handleSignal)

	return s, nil
}

func (s *Server) SetOnConnect(cb func(*Connection))       { s.onConnect = cb }
func (s *Server) SetOnMessage(cb func(*Connection))       { s.onMessage = cb }
func (s *Server) SetOnWriteComplete(cb func(*Connection)) { s.onWriteComplete = cb }
func (s *Server) SetOnClose(cb func(*Connection))         { s.onClose = cb }

// Addr returns the server's bound listening address.
func (s *Server) Addr() Address { return s.acceptor.Addr() }

// Start registers the listener and self-pipe, launches the worker pool, and
// runs the main reactor until Shutdown is called. It blocks until shutdown
// completes, at which point every worker reactor has also stopped and
// joined.
func (s *Server) Start() error {
	s.pool.Start()
	s.acceptor.Start()
	s.mainReactor.Register(s.sigEvent)
	s.mainReactor.ScheduleTimer(sweepInterval, s.sweep, true)

	signal.Notify(s.sigCh, syscall.SIGINT, syscall.SIGTERM)
	go s.forwardSignals()

	s.mainReactor.Loop()

	// Close every live connection on its owning reactor before stopping the
	// workers: each Close is enqueued first, each worker's Stop second, so
	// the final pending-task drain on every worker runs the closes before
	// its loop exits.
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[int]*Connection)
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}

	s.pool.Stop()
	s.pool.Join()

	signal.Stop(s.sigCh)
	s.acceptor.Close()
	unix.Close(s.sigWriteFd)
	unix.Close(s.sigReadFd)
	return s.mainReactor.Close()
}

// Shutdown stops the main reactor; Start then stops and joins the worker
// pool before returning. Safe to call from any goroutine.
func (s *Server) Shutdown() {
	s.mainReactor.Stop()
}

func (s *Server) forwardSignals() {
	sig, ok := <-s.sigCh
	if !ok {
		return
	}
	s.log.Infow("received shutdown signal", "signal", sig)
	buf := []byte{1}
	for {
		_, err := unix.Write(s.sigWriteFd, buf)
		if err == unix.EINTR {
			continue
		}
		return
	}
}

func (s *Server) handleSignal() {
	buf := make([]byte, 8)
	for {
		_, err := unix.Read(s.sigReadFd, buf)
		if err != nil {
			break
		}
	}
	s.Shutdown()
}

// handleAccept is the acceptor's callback for every newly accepted socket.
func (s *Server) handleAccept(fd int, peer Address) {
	reactor := s.pool.Next()
	if reactor == nil {
		s.log.Errorw("no healthy worker reactor available", "peer", peer)
		unix.Close(fd)
		return
	}

	conn := NewConnection(reactor, fd, peer, StateConnected, false, s.log)
	conn.SetOnMessage(s.onMessage)
	conn.SetOnWriteComplete(s.onWriteComplete)
	conn.SetOnClose(s.onClose)

	s.mu.Lock()
	s.conns[fd] = conn
	s.mu.Unlock()

	reactor.RunInLoop(func() {
		// Read interest is auto-armed only when no on-connect callback is
		// supplied; a callback takes over arming (typically ending in its
		// own WaitForMessage call).
		conn.Register(s.onConnect == nil)
		if s.onConnect != nil {
			s.onConnect(conn)
		}
	})
}

// sweep removes Closed entries from the connection map. Runs on the main
// reactor's goroutine as a periodic timer callback; Connection.State is
// safe to read cross-goroutine.
func (s *Server) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for fd, c := range s.conns {
		if c.State() == StateClosed {
			delete(s.conns, fd)
		}
	}
}

// ConnCount returns the current number of tracked connections, including
// ones awaiting the next sweep.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
