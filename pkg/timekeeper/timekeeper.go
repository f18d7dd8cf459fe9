// Package timekeeper provides a restartable elapsed-time tracker for
// measuring phases of work, such as how long a batch spends in settlement.
package timekeeper

import "time"

type Elapsing struct {
	// Now tracks both wallclock and monotonic time, so the delta between
	// checkpoints is immune to clock adjustments.
	checkpoint time.Time
}

func NewElapsing() *Elapsing {
	return &Elapsing{checkpoint: time.Now()}
}

// Report returns the time elapsed since the last checkpoint and starts the
// next interval.
func (e *Elapsing) Report() time.Duration {
	now := time.Now()
	total := now.Sub(e.checkpoint)
	e.checkpoint = now
	return total
}

// Reset discards the current interval.
func (e *Elapsing) Reset() {
	e.checkpoint = time.Now()
}
