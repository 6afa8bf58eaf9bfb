package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func waitReturns(t *testing.T, s *GoScheduler) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestGoScheduler_WaitCoversDelayedTasks(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Int32

	s.After(20*time.Millisecond, func() { fired.Add(1) })
	waitReturns(t, s)

	assert.Equal(t, int32(1), fired.Load(), "Wait returns only after the timer fired")
}

func TestGoScheduler_StopFuncCancels(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Int32

	stop := s.After(time.Hour, func() { fired.Add(1) })
	assert.True(t, stop())
	assert.False(t, stop(), "second stop is a no-op")

	waitReturns(t, s)
	assert.Zero(t, fired.Load())
}

func TestGoScheduler_StopDropsPendingTimers(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Int32

	s.After(time.Hour, func() { fired.Add(1) })
	s.After(time.Hour, func() { fired.Add(1) })
	s.Go(func() { fired.Add(10) })

	s.Stop()
	waitReturns(t, s)
	assert.Equal(t, int32(10), fired.Load())

	// после Stop отложенный повтор уже не ставится
	stop := s.After(time.Millisecond, func() { fired.Add(1) })
	assert.False(t, stop())
	time.Sleep(20 * time.Millisecond)
	waitReturns(t, s)
	assert.Equal(t, int32(10), fired.Load())
}
