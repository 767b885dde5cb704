package engine

import "time"

// Clock abstracts timer creation so the debouncer can run against a fake
// clock in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is the controllable handle returned by Clock.AfterFunc.
type Timer interface {
	Reset(d time.Duration) bool
	Stop() bool
}

type realClock struct{}

// NewClock returns the wall clock.
func NewClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{timer: time.AfterFunc(d, fn)}
}

type realTimer struct {
	timer *time.Timer
}

func (t realTimer) Reset(d time.Duration) bool {
	return t.timer.Reset(d)
}

func (t realTimer) Stop() bool {
	return t.timer.Stop()
}
