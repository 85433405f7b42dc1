// Package memtrack attributes heap growth to individual call regions.
//
// A Tracker records every allocation made through it (address and size) and
// keeps global current/peak byte counters plus a local pair that can be
// reset to isolate one measured region. Go has no malloc hooks, so buffers
// that should be accounted are allocated with Make and released with
// Release; the tracker itself is installed and uninstalled explicitly.
//
// ProcMemory is the coarse fallback: whole-process Shared/Private/Pss
// accounting read from the kernel's memory maps.
package memtrack
