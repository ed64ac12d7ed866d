package znet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerOneShotFiresOnce(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	fired := make(chan struct{}, 4)
	r.RunInLoop(func() {
		r.ScheduleTimer(50*time.Millisecond, func() { fired <- struct{}{} }, false)
	})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	select {
	case <-fired:
		t.Fatal("one-shot timer fired a second time")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestTimerPeriodicFiresRepeatedly(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	fired := make(chan struct{}, 16)
	r.RunInLoop(func() {
		r.ScheduleTimer(20*time.Millisecond, func() { fired <- struct{}{} }, true)
	})

	for i := 0; i < 3; i++ {
		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatalf("periodic timer only fired %d times", i)
		}
	}
}

func TestTimerCancelPreventsFire(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	fired := make(chan struct{}, 1)
	var timer *timerEvent
	r.RunInLoop(func() {
		timer = r.ScheduleTimer(50*time.Millisecond, func() { fired <- struct{}{} }, false)
		r.CancelTimer(timer)
	})

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(200 * time.Millisecond):
	}
}

// TestTimerResetBeforeFire exercises a timer reset shortly before it would
// have fired: scheduled for 500ms, reset at roughly that point to push it
// out further. It must not fire until after the new deadline.
func TestTimerResetBeforeFire(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	tc := NewTimerContainer(r)
	fireTime := make(chan time.Time, 1)
	start := time.Now()

	r.RunInLoop(func() {
		tc.Add("probe", 500*time.Millisecond, func() {
			fireTime <- time.Now()
		}, false)
	})

	time.Sleep(400 * time.Millisecond)
	tc.Reset("probe")

	select {
	case when := <-fireTime:
		elapsed := when.Sub(start)
		require.GreaterOrEqual(t, elapsed, 800*time.Millisecond)
	case <-time.After(3 * time.Second):
		t.Fatal("timer never fired after reset")
	}
}
