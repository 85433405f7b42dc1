//go:build linux || darwin

package wallclock

import "golang.org/x/sys/unix"

// monotonic reads CLOCK_MONOTONIC_RAW, which is not slewed by NTP.
type monotonic struct{}

func (monotonic) Ticks() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return uint64(fallbackTicks())
	}
	return uint64(ts.Nano())
}

// osResolutionHz reports the tick rate of the raw monotonic clock. Ticks are
// nanoseconds, so the rate is 1e9 whenever the clock is available.
func osResolutionHz() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGetres(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil || ts.Nano() <= 0 {
		return 0
	}
	return 1e9
}
