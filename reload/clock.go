package reload

import "time"

// Timer is a pending wake-up.
type Timer interface {
	// Stop prevents the wake-up from firing. It returns false if the
	// wake-up already fired or was stopped.
	Stop() bool
}

// Clock is the time source of a Coordinator.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
