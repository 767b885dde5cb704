package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	calls := 0
	deb := NewDebouncer(100*time.Millisecond, clock, func() { calls++ })

	deb.Trigger()
	clock.Advance(40 * time.Millisecond)
	deb.Trigger()
	clock.Advance(40 * time.Millisecond)
	deb.Trigger()

	assert.Equal(t, 0, calls, "nothing fires while the burst is live")

	clock.Advance(99 * time.Millisecond)
	assert.Equal(t, 0, calls)
	clock.Advance(1 * time.Millisecond)
	assert.Equal(t, 1, calls, "exactly one trailing-edge call")
}

func TestDebouncerReArmsAfterFiring(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	calls := 0
	deb := NewDebouncer(100*time.Millisecond, clock, func() { calls++ })

	deb.Trigger()
	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 1, calls)

	deb.Trigger()
	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 2, calls)
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	calls := 0
	deb := NewDebouncer(100*time.Millisecond, clock, func() { calls++ })

	deb.Trigger()
	deb.Stop()
	clock.Advance(time.Second)
	assert.Equal(t, 0, calls)

	deb.Trigger()
	clock.Advance(time.Second)
	assert.Equal(t, 0, calls, "triggers after Stop are ignored")
}
