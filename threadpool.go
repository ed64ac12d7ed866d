package znet

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ThreadPool is a fixed set of IOThreads handed out round-robin.
type ThreadPool struct {
	threads []*IOThread
	next    atomic.Uint32
}

// NewThreadPool allocates n worker threads. Call Start to launch them.
func NewThreadPool(n int, log *zap.SugaredLogger) *ThreadPool {
	p := &ThreadPool{threads: make([]*IOThread, n)}
	for i := range p.threads {
		p.threads[i] = NewIOThread(log)
	}
	return p
}

// Size returns the number of worker threads.
func (p *ThreadPool) Size() int { return len(p.threads) }

// Start launches every worker thread's goroutine.
func (p *ThreadPool) Start() {
	for _, t := range p.threads {
		t.Start()
	}
}

// Stop requests every worker's reactor to exit its loop.
func (p *ThreadPool) Stop() {
	for _, t := range p.threads {
		t.Stop()
	}
}

// Join blocks until every worker has returned from its loop. Workers are
// joined concurrently so a slow worker doesn't queue behind a fast one.
func (p *ThreadPool) Join() {
	var g errgroup.Group
	for _, t := range p.threads {
		t := t
		g.Go(func() error {
			t.Join()
			return nil
		})
	}
	_ = g.Wait()
}

// Next returns the next reactor in round-robin order, skipping workers
// whose reactor isn't healthy. Returns nil if no worker is healthy or the
// pool is empty.
func (p *ThreadPool) Next() *Reactor {
	n := len(p.threads)
	if n == 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		idx := int(p.next.Add(1)-1) % n
		t := p.threads[idx]
		if t.Healthy() {
			return t.Reactor()
		}
	}
	return nil
}
