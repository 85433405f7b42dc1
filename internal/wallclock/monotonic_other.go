//go:build !(linux || darwin)

package wallclock

type monotonic struct{}

func (monotonic) Ticks() uint64 { return uint64(fallbackTicks()) }

func osResolutionHz() uint64 { return 1e9 }
