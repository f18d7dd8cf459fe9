package timekeeper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestElapsingReport(t *testing.T) {
	e := NewElapsing()
	time.Sleep(10 * time.Millisecond)

	first := e.Report()
	assert.GreaterOrEqual(t, first, 10*time.Millisecond)

	// Report checkpoints, so the next interval starts fresh.
	second := e.Report()
	assert.Less(t, second, first)
}

func TestElapsingReset(t *testing.T) {
	e := NewElapsing()
	time.Sleep(5 * time.Millisecond)
	e.Reset()
	assert.Less(t, e.Report(), 5*time.Millisecond)
}
