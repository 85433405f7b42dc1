package wallclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalibrate_DeclaredRates(t *testing.T) {
	osHz := func() uint64 { return 1_000_000_000 }

	tests := []struct {
		name         string
		env          string
		build        string
		wantFrom     CalibrationSource
		wantRejected uint64
		rejectedFrom CalibrationSource
	}{
		{name: "env matching native", env: "1000000000", build: "4000", wantFrom: FromEnv},
		{name: "build matching native", build: "1000000000", wantFrom: FromBuild},
		{name: "nothing declared", wantFrom: FromOS},
		{name: "cpu frequency in env", env: "2400000000", wantFrom: FromOS, wantRejected: 2_400_000_000, rejectedFrom: FromEnv},
		{name: "mismatched env, matching build", env: "3000", build: "1000000000", wantFrom: FromBuild, wantRejected: 3000, rejectedFrom: FromEnv},
		{name: "mismatched build", build: "4000", wantFrom: FromOS, wantRejected: 4000, rejectedFrom: FromBuild},
		{name: "invalid env ignored", env: "abc", wantFrom: FromOS},
		{name: "zero env ignored", env: "0", wantFrom: FromOS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := BuildHz
			BuildHz = tt.build
			defer func() { BuildHz = old }()

			getenv := func(k string) string {
				if k == EnvClockHz {
					return tt.env
				}
				return ""
			}
			cal := Calibrate(getenv, osHz)
			assert.Equal(t, uint64(1_000_000_000), cal.Hz, "the native rate is always used")
			assert.Equal(t, tt.wantFrom, cal.Source)
			assert.Equal(t, tt.wantRejected, cal.Rejected)
			assert.Equal(t, tt.rejectedFrom, cal.RejectedSource)
		})
	}
}

func TestCalibrate_OSZeroFallsBackToNanoseconds(t *testing.T) {
	cal := Calibrate(func(string) string { return "" }, func() uint64 { return 0 })
	assert.Equal(t, uint64(1e9), cal.Hz)
}

func TestCalibrate_DeclaredRateKeepsRealTime(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps")
	}
	getenv := func(k string) string {
		if k == EnvClockHz {
			return "2400000000"
		}
		return ""
	}
	cal := Calibrate(getenv, osResolutionHz)
	c := New(monotonic{}, cal.Hz)

	start := c.Now()
	time.Sleep(100 * time.Millisecond)
	elapsed := c.Now() - start
	assert.GreaterOrEqual(t, elapsed, 0.095)
	assert.Less(t, elapsed, 1.0)
}

func TestDefaultCalibration(t *testing.T) {
	cal := DefaultCalibration()
	assert.NotZero(t, cal.Hz)
	assert.NotEmpty(t, cal.Source)
}

type fixedSource uint64

func (f fixedSource) Ticks() uint64 { return uint64(f) }

func TestCalibrated_Now(t *testing.T) {
	c := New(fixedSource(3_000), 1_000)
	assert.InDelta(t, 3.0, c.Now(), 1e-12)
	assert.Equal(t, uint64(1_000), c.Hz())
}

func TestDefault_Monotonic(t *testing.T) {
	c := Default()
	prev := c.Now()
	for i := 0; i < 1000; i++ {
		now := c.Now()
		if now < prev {
			t.Fatalf("clock went backwards: %v < %v", now, prev)
		}
		prev = now
	}
}

func TestSpin_ReachesTarget(t *testing.T) {
	m := NewManual(0, 0.001)
	polls := Spin(m, 0.01)
	assert.GreaterOrEqual(t, m.Now(), 0.01)
	assert.Greater(t, polls, 0)
}

func TestSkewed(t *testing.T) {
	m := NewManual(10, 0)
	s := Skewed{Base: m, Offset: -2.5}
	assert.InDelta(t, 7.5, s.Now(), 1e-12)
}
