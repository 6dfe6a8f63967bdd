// Package clock provides the Clocks capability used by every
// time-sensitive piece of the recording engine: wall-clock and
// monotonic instants, sleeping, and bounded-wait channel receives. A
// simulated implementation lets tests drive scheduling deterministically.
package clock

import (
	"log"
	"time"
)

// RecvResult is the outcome of a bounded-wait channel receive.
type RecvResult int

const (
	// RecvTimeout means the bound elapsed with nothing received.
	RecvTimeout RecvResult = iota
	// RecvOK means a value was received.
	RecvOK
	// RecvDisconnected means the channel was closed.
	RecvDisconnected
)

// Clocks abstracts the system clocks and blocking primitives so the
// Syncer and Writer retry loops can be driven deterministically in tests.
type Clocks interface {
	// Now returns the current wall-clock instant.
	Now() time.Time
	// Monotonic returns the current monotonic instant. Only differences
	// between two Monotonic() results are meaningful.
	Monotonic() time.Time
	// Sleep blocks the calling goroutine for d.
	Sleep(d time.Duration)
	// RecvTimeout blocks on ch for at most timeout, returning the
	// received value (if any), whether a value was received, and
	// whether the channel was already closed.
	RecvTimeout(ch <-chan any, timeout time.Duration) (any, RecvResult)
}

// RetryForever calls op repeatedly until it succeeds, sleeping exactly
// one second on c between attempts and logging each failure. This is
// the engine's single implementation of the "transient I/O error"
// retry policy.
func RetryForever[T any](c Clocks, op func() (T, error)) T {
	for {
		v, err := op()
		if err == nil {
			return v
		}

		log.Printf("sleeping for 1s after error: %v", err)
		c.Sleep(time.Second)
	}
}

// RetryForeverErr is RetryForever for operations with no result value.
func RetryForeverErr(c Clocks, op func() error) {
	RetryForever(c, func() (struct{}, error) {
		return struct{}{}, op()
	})
}
