package znet

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// IOThread owns exactly one reactor running on its own goroutine. The
// reactor is constructed inside that goroutine — not by the caller — so its
// owner-goroutine binding is correct from the start.
type IOThread struct {
	log *zap.SugaredLogger

	reactor *Reactor
	ready   chan struct{}
	done    chan struct{}
	healthy atomic.Bool
}

// NewIOThread allocates an IOThread. Call Start to launch its goroutine.
func NewIOThread(log *zap.SugaredLogger) *IOThread {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &IOThread{log: log, ready: make(chan struct{}), done: make(chan struct{})}
}

// Start launches the worker goroutine, which builds its own reactor and
// runs it until stopped.
func (t *IOThread) Start() {
	go func() {
		r, err := NewReactor(t.log)
		if err != nil {
			t.log.Errorw("io thread: create reactor failed", "error", err)
			close(t.ready)
			close(t.done)
			return
		}
		t.reactor = r
		// Marked healthy and ready from Loop's first pending-task drain, so
		// Reactor returns only once the loop is running.
		r.addTask(func() {
			t.healthy.Store(true)
			close(t.ready)
		}, false)

		r.Loop()

		t.healthy.Store(false)
		if err := r.Close(); err != nil {
			t.log.Errorw("io thread: close reactor failed", "error", err)
		}
		close(t.done)
	}()
}

// Reactor blocks until the worker's reactor is running its loop, then
// returns it. Returns nil if the worker failed to start.
func (t *IOThread) Reactor() *Reactor {
	<-t.ready
	return t.reactor
}

// Healthy reports whether the worker's reactor is alive and looping.
func (t *IOThread) Healthy() bool {
	return t.healthy.Load()
}

// Stop requests the worker's reactor to exit its loop.
func (t *IOThread) Stop() {
	if t.reactor != nil {
		t.reactor.Stop()
	}
}

// Join blocks until the worker's Loop call has returned.
func (t *IOThread) Join() {
	<-t.done
}
