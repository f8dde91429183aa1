package msync

import (
	"sync"
	"time"
)

type Nothing struct{}

// Signal is a one-shot wake for a single waiter.
// Set may be called from any goroutine any number of times, only the first call counts.
// Set before Wait is not lost.
type Signal struct {
	once sync.Once
	ch   chan Nothing
}

func NewSignal() *Signal { return &Signal{ch: make(chan Nothing)} }

// Set returns true only for the call that fired the signal.
func (s *Signal) Set() bool {
	fired := false
	s.once.Do(func() {
		close(s.ch)
		fired = true
	})
	return fired
}

func (s *Signal) Closed() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

func (s *Signal) C() <-chan Nothing { return s.ch }
func (s *Signal) Wait()             { <-s.ch }

// WaitTimeout returns false if timeout elapsed before Set.
func (s *Signal) WaitTimeout(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.ch:
		return true
	case <-t.C:
		return false
	}
}
