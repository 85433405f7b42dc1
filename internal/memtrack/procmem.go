package memtrack

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcMemory returns the whole-process memory footprint in bytes, summed
// over every mapping as shared plus private. Where the kernel reports a
// proportional set size, the shared part is taken as Pss minus Private.
// Returns 0 when the platform does not expose memory maps.
func ProcMemory() uint64 {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	maps, err := p.MemoryMaps(true)
	if err != nil || maps == nil {
		return 0
	}

	var shared, private, pss uint64
	for _, m := range *maps {
		shared += m.SharedClean + m.SharedDirty
		private += m.PrivateClean + m.PrivateDirty
		pss += m.Pss
	}
	return combineSmaps(shared, private, pss) * 1024
}

// combineSmaps folds kB totals into one figure.
func combineSmaps(shared, private, pss uint64) uint64 {
	if pss > 0 {
		if pss > private {
			shared = pss - private
		} else {
			shared = 0
		}
	}
	return shared + private
}
