package sampling

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompact_Property_PreservesValidMultiset(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 500; trial++ {
		n := 1 + rng.Intn(40)
		errs := make([]float64, n)
		col := make([]float64, n)
		var want []float64
		for i := range errs {
			col[i] = rng.Float64()
			if rng.Intn(3) == 0 {
				errs[i] = rng.Float64() + 1e-9
			} else {
				want = append(want, col[i])
			}
		}

		valid := Compact(errs, col)
		got := append([]float64(nil), col[:valid]...)
		sort.Float64s(got)
		sort.Float64s(want)
		assert.Equal(t, len(want), valid, "trial %d", trial)
		assert.Equal(t, want, got, "trial %d errs=%v", trial, errs)
	}
}

func TestSummarize_Property_MedianBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 200; trial++ {
		in := make([]float64, 1+rng.Intn(50))
		for i := range in {
			in[i] = rng.ExpFloat64()
		}
		st := Summarize(in)
		assert.Len(t, st.Samples, len(in))
		assert.True(t, sort.Float64sAreSorted(st.Samples))
		assert.LessOrEqual(t, st.Samples[0], st.Median)
		assert.GreaterOrEqual(t, st.Samples[len(in)-1], st.Median)
		assert.InDelta(t, st.Sum/float64(len(in)), st.Mean, 1e-9)
	}
}
