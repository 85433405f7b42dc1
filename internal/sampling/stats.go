package sampling

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes a sample set.
type Stats struct {
	// Samples is sorted ascending.
	Samples    []float64
	Mean       float64
	Median     float64
	Sum        float64
	SumSquares float64
	StdDev     float64
}

// Summarize sorts a copy of samples and computes its statistics.
func Summarize(samples []float64) Stats {
	s := append([]float64(nil), samples...)
	sort.Float64s(s)
	st := Stats{Samples: s}
	if len(s) == 0 {
		return st
	}
	st.Sum = floats.Sum(s)
	st.SumSquares = floats.Dot(s, s)
	st.Mean = stat.Mean(s, nil)
	st.Median = Median(s)
	if len(s) > 1 {
		st.StdDev = stat.StdDev(s, nil)
	}
	return st
}

// Median returns the middle element of sorted, or the mean of the two
// middle elements when the length is even.
func Median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Compact moves the values of valid trials to the front of every column
// and returns how many trials are valid. A trial is invalid if its error
// is positive. Each invalid slot, front to back, takes the values of the
// last valid trial behind it, so the first valid entries of each column
// hold exactly the valid trials' values.
func Compact(errs []float64, cols ...[]float64) int {
	back := len(errs) - 1
	for back >= 0 && errs[back] > 0 {
		back--
	}
	if back < 0 {
		return 0
	}
	invalid := 0
	for i := range errs {
		if errs[i] <= 0 {
			continue
		}
		invalid++
		if back > i {
			for _, c := range cols {
				c[i] = c[back]
			}
			back--
			for back >= 0 && errs[back] > 0 {
				back--
			}
		}
	}
	return len(errs) - invalid
}
