package domain

import "time"

// Clock abstracts time for deterministic tests. Components take a Clock in
// their constructors; production wiring passes SystemClock.
type Clock interface {
	Now() time.Time
	NowNanos() int64
}

// SystemClock is the wall-clock Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time  { return time.Now().UTC() }
func (SystemClock) NowNanos() int64 { return time.Now().UnixNano() }
