package commitment

import "time"

// Clock supplies the commitment timestamp in Unix milliseconds.
type Clock interface {
	NowMillis() uint64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) NowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// FixedClock always returns the same instant. Used for reproducible builds
// and tests.
type FixedClock uint64

func (c FixedClock) NowMillis() uint64 {
	return uint64(c)
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() uint64

func (f ClockFunc) NowMillis() uint64 {
	return f()
}
