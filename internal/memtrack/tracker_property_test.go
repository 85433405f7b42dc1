package memtrack

import (
	"math/rand"
	"testing"
)

// TestTracker_Property_LiveSetMatchesOutstanding checks that after random
// interleavings of allocations and frees the counters equal the sum of the
// outstanding sizes, and that peak never decreases.
func TestTracker_Property_LiveSetMatchesOutstanding(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		tr := New()
		tr.Install()

		var live [][]byte
		var lastPeak uint64
		for step := 0; step < 200; step++ {
			if len(live) > 0 && rng.Intn(3) == 0 {
				i := rng.Intn(len(live))
				Release(tr, live[i])
				live = append(live[:i], live[i+1:]...)
			} else {
				live = append(live, Make[byte](tr, 1+rng.Intn(4096)))
			}

			var want uint64
			for _, b := range live {
				want += uint64(len(b))
			}
			snap := tr.Snapshot()
			if snap.Current != want {
				t.Fatalf("trial %d step %d: current=%d want %d", trial, step, snap.Current, want)
			}
			if snap.Live != len(live) {
				t.Fatalf("trial %d step %d: live=%d want %d", trial, step, snap.Live, len(live))
			}
			if snap.Peak < snap.Current {
				t.Fatalf("trial %d step %d: peak %d < current %d", trial, step, snap.Peak, snap.Current)
			}
			if snap.Peak < lastPeak {
				t.Fatalf("trial %d step %d: peak decreased %d -> %d", trial, step, lastPeak, snap.Peak)
			}
			lastPeak = snap.Peak
		}
	}
}
