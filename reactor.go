package znet

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// pollTimeout bounds how long a single Wait call blocks, so a stop request
// is noticed even if no descriptor ever fires.
const pollTimeout = 3 * time.Second

// Reactor is a single-goroutine readiness multiplexer: a descriptor→fd-event
// map and the kernel interest set it mirrors may only be mutated from the
// goroutine that calls Loop (its "owner"). Cross-goroutine intent is
// expressed by enqueuing a task and waking the reactor, never by touching
// the map directly.
type Reactor struct {
	poller poller
	log    *zap.SugaredLogger

	owner int64 // goroutine id captured at construction time

	events map[int]*fdEvent // owner-goroutine-only, deliberately unlocked

	pendingMu sync.Mutex
	pending   []func()

	wakeID     int
	wakePend   atomic.Bool
	timerID    int
	hub        *timerHub

	running atomic.Bool
	stopped atomic.Bool
}

// NewReactor constructs a reactor and binds it to the calling goroutine as
// its owner — callers must subsequently call Loop from that same goroutine.
func NewReactor(log *zap.SugaredLogger) (*Reactor, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("znet: create poller: %w", err)
	}

	r := &Reactor{
		poller: p,
		log:    log,
		owner:  goroutineID(),
		events: make(map[int]*fdEvent),
	}
	r.hub = newTimerHub(r)

	wakeID, err := p.ArmWake()
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("znet: arm wake: %w", err)
	}
	r.wakeID = wakeID
	wakeEvent := newFdEvent(wakeID)
	wakeEvent.listenRead(r.drainWake)
	r.registerNow(wakeEvent)

	timerID, err := p.ArmTimer()
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("znet: arm timer: %w", err)
	}
	r.timerID = timerID
	timerEv := newFdEvent(timerID)
	timerEv.listenRead(r.hub.handleFire)
	r.registerNow(timerEv)

	return r, nil
}

// IsOwner reports whether the calling goroutine is this reactor's owner.
func (r *Reactor) IsOwner() bool {
	return goroutineID() == r.owner
}

func (r *Reactor) assertOwner(what string) {
	if !r.IsOwner() {
		panic(fmt.Sprintf("znet: %s called from non-owning goroutine", what))
	}
}

// Register installs or modifies e's kernel interest. Off-owner-goroutine
// calls are deferred as a pending task and the reactor is woken.
func (r *Reactor) Register(e *fdEvent) {
	if r.IsOwner() {
		r.registerNow(e)
		return
	}
	r.addTask(func() { r.registerNow(e) }, true)
}

func (r *Reactor) registerNow(e *fdEvent) {
	readable := e.interest&interestRead != 0
	writable := e.interest&interestWrite != 0

	var err error
	if _, exists := r.events[e.fd]; exists {
		err = r.poller.Modify(e.fd, readable, writable)
	} else {
		err = r.poller.Add(e.fd, readable, writable)
	}
	if err != nil {
		delete(r.events, e.fd)
		r.log.Errorw("register fd failed", "fd", e.fd, "error", err)
		return
	}
	r.events[e.fd] = e
}

// Unregister removes fd from the kernel interest set and the descriptor map.
func (r *Reactor) Unregister(fd int) {
	if r.IsOwner() {
		r.unregisterNow(fd)
		return
	}
	r.addTask(func() { r.unregisterNow(fd) }, true)
}

func (r *Reactor) unregisterNow(fd int) {
	if _, ok := r.events[fd]; !ok {
		return
	}
	delete(r.events, fd)
	if err := r.poller.Remove(fd); err != nil {
		r.log.Errorw("unregister fd failed", "fd", fd, "error", err)
	}
}

// RunInLoop invokes task inline if called from the owner goroutine,
// otherwise enqueues it and wakes the reactor so it runs before the next
// loop iteration's readiness wait.
func (r *Reactor) RunInLoop(task func()) {
	if task == nil {
		return
	}
	if r.IsOwner() {
		task()
		return
	}
	r.addTask(task, true)
}

func (r *Reactor) addTask(task func(), wake bool) {
	r.pendingMu.Lock()
	r.pending = append(r.pending, task)
	r.pendingMu.Unlock()
	if wake {
		r.Wake()
	}
}

// drainPending swaps out the pending queue under the lock, then executes
// every task without holding it — a resubmission from inside a task lands
// in the next drain, never this one.
func (r *Reactor) drainPending() {
	r.pendingMu.Lock()
	tasks := r.pending
	r.pending = nil
	r.pendingMu.Unlock()

	for _, t := range tasks {
		if t != nil {
			t()
		}
	}
}

// Wake signals the reactor's wake channel. Redundant wakes while one is
// already pending and undrained are suppressed, bounding queue depth under
// wake storms.
func (r *Reactor) Wake() {
	if r.wakePend.CompareAndSwap(false, true) {
		if err := r.poller.Wake(); err != nil {
			r.log.Errorw("wake failed", "error", err)
		}
	}
}

func (r *Reactor) drainWake() {
	_ = r.poller.DrainWake()
	r.wakePend.Store(false)
}

// ScheduleTimer adds a timer to this reactor's hub from any goroutine; its
// callback always runs on the owner goroutine because the hub's kernel
// timer fd is registered with this reactor.
func (r *Reactor) ScheduleTimer(interval time.Duration, cb func(), periodic bool) *timerEvent {
	t := newTimerEvent(interval, cb, periodic)
	r.hub.add(t)
	return t
}

// CancelTimer logically cancels t; idempotent, safe from any goroutine.
func (r *Reactor) CancelTimer(t *timerEvent) {
	r.hub.remove(t)
}

// Loop is the reactor's main cycle. It must be called from the same
// goroutine that constructed the reactor — calling it from elsewhere is a
// fail-fast misuse and panics.
func (r *Reactor) Loop() {
	r.assertOwner("Loop")
	if !r.running.CompareAndSwap(false, true) {
		panic("znet: Loop called while already running")
	}
	r.stopped.Store(false)
	r.log.Debug("reactor loop start")

	r.drainPending()

	for !r.stopped.Load() {
		events, err := r.poller.Wait(pollTimeout)
		if err != nil {
			r.log.Errorw("poll wait failed", "error", err)
			continue
		}

		for _, ev := range events {
			fe, ok := r.events[ev.fd]
			if !ok {
				continue
			}
			if ev.err {
				r.unregisterNow(fe.fd)
				if cb := fe.handler(interestError); cb != nil {
					r.addTask(cb, false)
				}
				continue
			}
			if ev.read {
				if cb := fe.handler(interestRead); cb != nil {
					r.addTask(cb, false)
				}
			}
			if ev.write {
				if cb := fe.handler(interestWrite); cb != nil {
					r.addTask(cb, false)
				}
			}
		}

		r.drainPending()
	}

	// A task enqueued between the iteration's drain and the stop check would
	// otherwise be dropped on exit; the stop contract is "exit after draining
	// pending tasks", so drain once more.
	r.drainPending()

	r.running.Store(false)
	r.log.Debug("reactor loop stop")
}

// Stop requests the loop to exit after finishing its current iteration and
// draining pending tasks. Safe from any goroutine.
func (r *Reactor) Stop() {
	r.stopped.Store(true)
	if !r.IsOwner() {
		r.Wake()
	}
}

// IsRunning reports whether Loop is currently executing.
func (r *Reactor) IsRunning() bool {
	return r.running.Load()
}

// Close releases the reactor's kernel resources. Call only after Loop has
// returned.
func (r *Reactor) Close() error {
	return r.poller.Close()
}
