// Package lifecycle tracks the process phase and bounds shutdown joins of background loops.
package lifecycle

import (
	"errors"
	"sync/atomic"
	"time"
)

// Phase is the process phase reported by /health.
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseRunning
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

var phase atomic.Int32

// SetPhase records the current phase.
func SetPhase(p Phase) {
	phase.Store(int32(p))
}

// CurrentPhase returns the phase last set.
func CurrentPhase() Phase {
	return Phase(phase.Load())
}

// SetShuttingDown moves the process into (or, for tests, out of) the shutting-down phase.
// Call when SIGTERM/SIGINT is received.
func SetShuttingDown(v bool) {
	if v {
		SetPhase(PhaseShuttingDown)
		return
	}
	SetPhase(PhaseRunning)
}

// IsShuttingDown returns true once shutdown has begun.
func IsShuttingDown() bool {
	return CurrentPhase() == PhaseShuttingDown
}

// ErrStopTimeout is returned when a background loop does not finish within its join timeout.
// The loop is left to finish on its own.
var ErrStopTimeout = errors.New("stop timed out")

// WaitTimeout waits for done to close. A non-positive timeout waits indefinitely.
func WaitTimeout(done <-chan struct{}, timeout time.Duration) error {
	if timeout <= 0 {
		<-done
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}
