package service

import (
	"sync"
	"time"
)

// Scheduler запускает фоновую работу движка: вызовы persistence API,
// отложенные повторы, истечение typing-индикаторов, переподключение.
// Движок сам горутины не запускает.
type Scheduler interface {
	Go(fn func())
	After(d time.Duration, fn func()) (stop func() bool)
	Now() time.Time
}

type GoScheduler struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	pending map[*pendingTimer]struct{}
	stopped bool
}

type pendingTimer struct {
	t *time.Timer
}

func NewScheduler() *GoScheduler {
	return &GoScheduler{pending: make(map[*pendingTimer]struct{})}
}

func (s *GoScheduler) Go(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// After учитывает таймер в Wait с момента постановки до срабатывания или отмены.
// После Stop новые таймеры не ставятся.
func (s *GoScheduler) After(d time.Duration, fn func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return func() bool { return false }
	}

	p := &pendingTimer{}
	s.wg.Add(1)
	p.t = time.AfterFunc(d, func() {
		if !s.release(p) {
			return
		}
		defer s.wg.Done()
		fn()
	})
	s.pending[p] = struct{}{}

	return func() bool {
		if !s.release(p) {
			return false
		}
		p.t.Stop()
		s.wg.Done()
		return true
	}
}

// release снимает таймер с учета; true - только у первого вызвавшего
func (s *GoScheduler) release(p *pendingTimer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[p]; !ok {
		return false
	}
	delete(s.pending, p)
	return true
}

func (s *GoScheduler) Now() time.Time {
	return time.Now()
}

// Stop отменяет еще не сработавшие таймеры (повторы, истечение typing)
func (s *GoScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for p := range s.pending {
		p.t.Stop()
		delete(s.pending, p)
		s.wg.Done()
	}
}

// Wait дожидается завершения запущенных через Go задач и сработавших таймеров (graceful shutdown)
func (s *GoScheduler) Wait() {
	s.wg.Wait()
}
