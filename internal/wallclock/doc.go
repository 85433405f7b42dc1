// Package wallclock provides the monotonic per-process time source used by
// every timed region. The tick rate is calibrated once at startup from an
// environment override, a build-time constant, or the resolution reported by
// the operating system, in that order.
package wallclock
