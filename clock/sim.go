package clock

import (
	"sync"
	"time"
)

// Sim is a simulated Clocks implementation for deterministic tests. It
// advances a virtual uptime on Sleep and on a RecvTimeout call that
// would otherwise block, without actually waiting in real time.
type Sim struct {
	mu     sync.Mutex
	boot   time.Time
	uptime time.Duration
}

var _ Clocks = (*Sim)(nil)

// NewSim creates a simulated clock booted at the given wall-clock instant.
func NewSim(boot time.Time) *Sim {
	return &Sim{boot: boot}
}

// Now returns boot + uptime.
func (s *Sim) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.boot.Add(s.uptime)
}

// Monotonic returns the Unix epoch plus uptime; only differences
// between two calls are meaningful.
func (s *Sim) Monotonic() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return time.Unix(0, 0).UTC().Add(s.uptime)
}

// Sleep advances the virtual clock by d without blocking.
func (s *Sim) Sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uptime += d
}

// RecvTimeout tries a non-blocking receive on ch. If nothing is
// immediately available, it advances the virtual clock by timeout and
// reports RecvTimeout (or RecvDisconnected, if ch was already closed)
// without actually blocking for timeout to elapse in real time.
func (s *Sim) RecvTimeout(ch <-chan any, timeout time.Duration) (any, RecvResult) {
	select {
	case v, ok := <-ch:
		if ok {
			return v, RecvOK
		}

		s.Sleep(timeout)

		return nil, RecvDisconnected
	default:
	}

	s.Sleep(timeout)

	return nil, RecvTimeout
}

// Advance moves the virtual clock forward by d without going through
// Sleep, for tests that want to advance time between two explicit steps.
func (s *Sim) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uptime += d
}
