package clock

import "time"

// Real is the production Clocks implementation backed by the actual
// system clock and goroutine scheduler.
type Real struct{}

var _ Clocks = Real{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Monotonic returns time.Now(); Go's time.Time already carries a
// monotonic reading alongside the wall clock, so differences taken
// between two Monotonic() results are monotonic regardless of wall
// clock adjustments.
func (Real) Monotonic() time.Time { return time.Now() }

// Sleep blocks for d using time.Sleep.
func (Real) Sleep(d time.Duration) { time.Sleep(d) }

// RecvTimeout selects on ch and a timer.
func (Real) RecvTimeout(ch <-chan any, timeout time.Duration) (any, RecvResult) {
	if timeout < 0 {
		timeout = 0
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v, ok := <-ch:
		if !ok {
			return nil, RecvDisconnected
		}

		return v, RecvOK
	case <-timer.C:
		return nil, RecvTimeout
	}
}
