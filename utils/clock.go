package utils

import "time"

// Clock abstracts wall-clock reads so that TTL and polling logic can run
// against virtual time in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }
