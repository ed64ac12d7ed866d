package znet

import "time"

// TimerContainer is a named-key façade over a reactor's timerHub: callers
// add, reset and cancel timers by string key instead of holding raw
// timerEvent handles.
//
// The key→timerEvent map is touched only through RunInLoop, so it never
// needs its own lock: every call either runs inline on the owning reactor's
// goroutine or is deferred to run there.
type TimerContainer struct {
	r      *Reactor
	timers map[string]*timerEvent
}

// NewTimerContainer binds a container to r. Typically one per connection.
func NewTimerContainer(r *Reactor) *TimerContainer {
	return &TimerContainer{r: r, timers: make(map[string]*timerEvent)}
}

// Add schedules a timer under key. A no-op if key already has a live timer:
// a repeat Add is ignored, not a replace — use Reset/ResetInterval to
// actually rearm. Non-periodic timers erase themselves from the map right
// before cb runs, so a fired one-shot never lingers as a dead entry.
func (c *TimerContainer) Add(key string, interval time.Duration, cb func(), periodic bool) {
	c.r.RunInLoop(func() {
		if old, ok := c.timers[key]; ok && old.valid.Load() {
			return
		}
		wrapped := func() {
			if !periodic {
				delete(c.timers, key)
			}
			cb()
		}
		c.timers[key] = c.r.ScheduleTimer(interval, wrapped, periodic)
	})
}

// Reset re-arms key's timer for its original interval, measured from now.
func (c *TimerContainer) Reset(key string) {
	c.r.RunInLoop(func() {
		t, ok := c.timers[key]
		if !ok {
			return
		}
		c.r.CancelTimer(t)
		c.timers[key] = c.r.ScheduleTimer(t.interval, t.cb, t.periodic)
	})
}

// ResetInterval re-arms key's timer with a new interval, measured from now.
func (c *TimerContainer) ResetInterval(key string, interval time.Duration) {
	c.r.RunInLoop(func() {
		t, ok := c.timers[key]
		if !ok {
			return
		}
		c.r.CancelTimer(t)
		c.timers[key] = c.r.ScheduleTimer(interval, t.cb, t.periodic)
	})
}

// Cancel removes key's timer, if any.
func (c *TimerContainer) Cancel(key string) {
	c.r.RunInLoop(func() {
		t, ok := c.timers[key]
		if !ok {
			return
		}
		c.r.CancelTimer(t)
		delete(c.timers, key)
	})
}

// Clear cancels every timer in the container.
func (c *TimerContainer) Clear() {
	c.r.RunInLoop(func() {
		for _, t := range c.timers {
			c.r.CancelTimer(t)
		}
		c.timers = make(map[string]*timerEvent)
	})
}
