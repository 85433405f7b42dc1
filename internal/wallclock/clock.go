package wallclock

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// EnvClockHz declares the tick rate (ticks per second) of the host clock.
// A declared rate is only used if it matches the rate the tick source
// actually runs at.
const EnvClockHz = "COLLBENCH_CLOCK_HZ"

// BuildHz is the build-time tick rate, set with
// -ldflags "-X collbench/internal/wallclock.BuildHz=<hz>". Empty means unset.
// It is subject to the same check as EnvClockHz.
var BuildHz string

// Clock is a monotonic time source reporting seconds.
type Clock interface {
	Now() float64
}

// Source is a raw monotonic tick counter.
type Source interface {
	Ticks() uint64
}

// CalibrationSource names where the tick rate came from.
type CalibrationSource string

const (
	FromEnv   CalibrationSource = "env"
	FromBuild CalibrationSource = "build"
	FromOS    CalibrationSource = "os"
)

// Calibration is the outcome of Calibrate.
type Calibration struct {
	Hz     uint64
	Source CalibrationSource
	// Rejected is a declared rate that did not match the tick source and
	// was ignored. Zero if none was.
	Rejected       uint64
	RejectedSource CalibrationSource
}

// Calibrate picks the tick rate. getenv may be nil, in which case os.Getenv
// is used. osHz reports the native rate of the tick source; zero or a nil
// osHz means nanoseconds. Ticks are never rescaled, so a declared rate from
// the environment or the build is used only if it equals the native rate.
func Calibrate(getenv func(string) string, osHz func() uint64) Calibration {
	if getenv == nil {
		getenv = os.Getenv
	}
	native := uint64(0)
	if osHz != nil {
		native = osHz()
	}
	if native == 0 {
		native = uint64(time.Second / time.Nanosecond)
	}

	cal := Calibration{Hz: native, Source: FromOS}
	for _, declared := range []struct {
		raw  string
		from CalibrationSource
	}{
		{getenv(EnvClockHz), FromEnv},
		{BuildHz, FromBuild},
	} {
		hz, ok := parseHz(declared.raw)
		if !ok {
			continue
		}
		if hz == native {
			cal.Source = declared.from
			return cal
		}
		if cal.Rejected == 0 {
			cal.Rejected = hz
			cal.RejectedSource = declared.from
		}
	}
	return cal
}

func parseHz(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}

// Calibrated converts ticks of a Source to seconds using a fixed rate.
type Calibrated struct {
	src Source
	hz  float64
}

// New creates a clock over src ticking at hz.
func New(src Source, hz uint64) *Calibrated {
	if hz == 0 {
		hz = 1
	}
	return &Calibrated{src: src, hz: float64(hz)}
}

// Now returns the current time in seconds.
func (c *Calibrated) Now() float64 {
	return float64(c.src.Ticks()) / c.hz
}

// Hz returns the tick rate.
func (c *Calibrated) Hz() uint64 {
	return uint64(c.hz)
}

var (
	defaultOnce  sync.Once
	defaultClock *Calibrated
	defaultCal   Calibration
)

// Default returns the process-wide clock, calibrating it on first use.
func Default() Clock {
	defaultOnce.Do(func() {
		defaultCal = Calibrate(nil, osResolutionHz)
		if defaultCal.Rejected != 0 {
			slog.Warn("declared clock rate does not match the tick source, ignoring it",
				"declared_hz", defaultCal.Rejected,
				"from", defaultCal.RejectedSource,
				"native_hz", defaultCal.Hz)
		}
		defaultClock = New(monotonic{}, defaultCal.Hz)
	})
	return defaultClock
}

// DefaultCalibration reports how the process-wide clock was calibrated.
func DefaultCalibration() Calibration {
	Default()
	return defaultCal
}

// Spin busy-waits until c reaches t (seconds) and returns the number of
// polls performed. It yields the processor between polls so that ranks
// sharing a process keep making progress.
func Spin(c Clock, t float64) int {
	n := 0
	for c.Now() < t {
		n++
		runtime.Gosched()
	}
	return n
}
