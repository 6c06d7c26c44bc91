package main

import "time"

// sessionTimer is the stoppable handle returned by a clock. Stop reports
// whether the call prevented the timer from firing.
type sessionTimer interface {
	Stop() bool
}

// clock abstracts the timer source so sessions can be driven by a manual
// clock in tests.
type clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) sessionTimer
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) sessionTimer {
	return time.AfterFunc(d, f)
}
