package znet

import (
	"container/heap"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// timerEvent is one scheduled callback on a hub's heap. Cancellation is
// logical: valid flips to false and the entry is skipped when popped off
// the heap, never removed in place (arbitrary-element delete would need an
// index map the pop-and-skip approach gets by without).
type timerEvent struct {
	interval time.Duration
	trigger  time.Time
	cb       func()
	periodic bool
	valid    atomic.Bool
	index    int // heap.Interface bookkeeping
}

func newTimerEvent(interval time.Duration, cb func(), periodic bool) *timerEvent {
	t := &timerEvent{
		interval: interval,
		trigger:  time.Now().Add(interval),
		cb:       cb,
		periodic: periodic,
	}
	t.valid.Store(true)
	return t
}

func (t *timerEvent) resetTrigger() {
	t.trigger = time.Now().Add(t.interval)
}

// timerHeap is a min-heap over trigger time.
type timerHeap []*timerEvent

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	return h[i].trigger.Before(h[j].trigger)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*timerEvent)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// timerHub serves every timer of one reactor through a single kernel timer
// descriptor armed to the heap's minimum trigger time. add/remove are safe
// from any goroutine; firing only ever happens on the owning reactor's
// goroutine, because the hub's kernel timer fd is itself registered with
// that reactor (handleFire runs as an ordinary fd readable callback).
type timerHub struct {
	mu   sync.Mutex
	heap timerHeap

	r *Reactor
}

func newTimerHub(r *Reactor) *timerHub {
	return &timerHub{r: r}
}

// add installs a new timer, re-arming the kernel timer if this is now the
// earliest pending deadline.
func (h *timerHub) add(t *timerEvent) {
	h.mu.Lock()
	reset := h.heap.Len() == 0 || t.trigger.Before(h.heap[0].trigger)
	heap.Push(&h.heap, t)
	h.mu.Unlock()

	if reset {
		h.rearm()
	}
}

// remove cancels t logically; safe to call more than once or after t has
// already fired.
func (h *timerHub) remove(t *timerEvent) {
	t.valid.Store(false)
}

// rearm sets the kernel timer to the current heap minimum, or disarms it if
// the heap is empty. If the new minimum is already due, it re-enters the
// fire path on the owning reactor instead of arming a non-positive timespec.
func (h *timerHub) rearm() {
	h.mu.Lock()
	if h.heap.Len() == 0 {
		h.mu.Unlock()
		_ = h.r.poller.SetTimer(0)
		return
	}
	next := h.heap[0].trigger
	h.mu.Unlock()

	d := time.Until(next)
	if d <= 0 {
		// add may run on any goroutine; RunInLoop keeps the fire path on the
		// owner (inline there, queued otherwise).
		h.r.RunInLoop(h.handleFire)
		return
	}
	_ = h.r.poller.SetTimer(d)
}

// handleFire is the timer fd's readable callback: drain the kernel counter
// first (the fd is registered edge-triggered, a partial read would lose the
// wakeup), pop every due timer under the lock, re-insert periodics, re-arm,
// then run surviving callbacks outside the lock.
func (h *timerHub) handleFire() {
	_ = h.r.poller.DrainTimer()

	now := time.Now()
	var fired []*timerEvent

	h.mu.Lock()
	for h.heap.Len() > 0 && !h.heap[0].trigger.After(now) {
		t := heap.Pop(&h.heap).(*timerEvent)
		if t.valid.Load() {
			fired = append(fired, t)
		}
	}
	h.mu.Unlock()

	for _, t := range fired {
		if t.periodic {
			t.resetTrigger()
			h.add(t)
		}
	}

	h.rearm()

	for _, t := range fired {
		if t.valid.Load() && t.cb != nil {
			t.cb()
		}
	}
}
