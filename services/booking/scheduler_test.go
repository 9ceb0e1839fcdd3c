package booking

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_ScheduleReplacesPending(t *testing.T) {
	s := NewScheduler()
	var first, second int32
	done := make(chan struct{})

	s.Schedule(20*time.Millisecond, func() { atomic.AddInt32(&first, 1) })
	s.Schedule(20*time.Millisecond, func() {
		atomic.AddInt32(&second, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement task never ran")
	}
	// Let the replaced timer fire if it is going to.
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&first) != 0 {
		t.Fatal("replaced task ran")
	}
	if atomic.LoadInt32(&second) != 1 {
		t.Fatalf("replacement ran %d times", atomic.LoadInt32(&second))
	}
}

func TestScheduler_CancelDropsPending(t *testing.T) {
	s := NewScheduler()
	var ran int32
	s.Schedule(20*time.Millisecond, func() { atomic.AddInt32(&ran, 1) })
	s.Cancel()

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatal("cancelled task ran")
	}
	if s.Pending() {
		t.Fatal("Pending() true after cancel")
	}
}

func TestScheduler_PendingClearsAfterRun(t *testing.T) {
	s := NewScheduler()
	done := make(chan struct{})
	s.Schedule(time.Millisecond, func() { close(done) })
	if !s.Pending() {
		t.Fatal("Pending() false right after Schedule")
	}
	<-done
	// The callback clears the pending marker before running fn.
	if s.Pending() {
		t.Fatal("Pending() still true after the task ran")
	}
}
