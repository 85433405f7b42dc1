package wallclock

import (
	"sync"
	"time"
)

var processStart = time.Now()

// fallbackTicks is nanoseconds since process start on Go's monotonic clock.
func fallbackTicks() int64 {
	return int64(time.Since(processStart))
}

// Manual is a clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now float64
	// Step is added after every Now call, so spinning on a Manual clock
	// terminates.
	Step float64
}

// NewManual returns a manual clock starting at start seconds.
func NewManual(start, step float64) *Manual {
	return &Manual{now: start, Step: step}
}

func (m *Manual) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.now
	m.now += m.Step
	return t
}

// Advance moves the clock forward by d seconds.
func (m *Manual) Advance(d float64) {
	m.mu.Lock()
	m.now += d
	m.mu.Unlock()
}

// Set moves the clock to t seconds.
func (m *Manual) Set(t float64) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Skewed shifts another clock by a constant offset, modelling a process
// whose clock disagrees with its peers.
type Skewed struct {
	Base   Clock
	Offset float64
}

func (s Skewed) Now() float64 { return s.Base.Now() + s.Offset }
