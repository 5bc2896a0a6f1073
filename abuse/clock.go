package abuse

import "time"

// Clock abstracts time lookups so window expiry and ban elapse can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
