package operation

import (
	"unsafe"

	"collbench/internal/memtrack"
)

// Buffers are the send and receive buffers shared by all operations of a
// run, with per-rank counts and displacements for the vector collectives.
type Buffers struct {
	Send       []float64
	Recv       []float64
	SendCounts []int
	SendDispls []int
	RecvCounts []int
	RecvDispls []int

	rank int
}

// NewBuffers sizes the buffers for count elements per rank over size ranks,
// and at least minElems elements.
func NewBuffers(rank, size, count, minElems int) *Buffers {
	n := max(minElems, count*size)
	b := &Buffers{
		Send:       make([]float64, n),
		Recv:       make([]float64, n),
		SendCounts: make([]int, size),
		SendDispls: make([]int, size),
		RecvCounts: make([]int, size),
		RecvDispls: make([]int, size),
		rank:       rank,
	}
	for i := 0; i < size; i++ {
		b.SendCounts[i] = count
		b.SendDispls[i] = i * count
		b.RecvCounts[i] = count
		b.RecvDispls[i] = i * count
	}
	b.Reset()
	return b
}

// Reset fills the send buffer with rank+1 and clears the receive buffer.
func (b *Buffers) Reset() {
	v := float64(b.rank + 1)
	for i := range b.Send {
		b.Send[i] = v
	}
	clear(b.Recv)
}

// Bytes returns the memory held by the buffers.
func (b *Buffers) Bytes() uint64 {
	var f float64
	var n int
	return uint64(len(b.Send)+len(b.Recv))*uint64(unsafe.Sizeof(f)) +
		uint64(4*len(b.SendCounts))*uint64(unsafe.Sizeof(n))
}

// Track records every buffer with tr, so Bytes can be subtracted from
// the tracked peak as harness overhead.
func (b *Buffers) Track(tr *memtrack.Tracker) {
	var f float64
	var n int
	for _, s := range [][]float64{b.Send, b.Recv} {
		tr.Record(memtrack.Addr(s), uint64(len(s))*uint64(unsafe.Sizeof(f)))
	}
	for _, s := range b.counts() {
		tr.Record(memtrack.Addr(s), uint64(len(s))*uint64(unsafe.Sizeof(n)))
	}
}

// Untrack frees what Track recorded.
func (b *Buffers) Untrack(tr *memtrack.Tracker) {
	tr.Free(memtrack.Addr(b.Send))
	tr.Free(memtrack.Addr(b.Recv))
	for _, s := range b.counts() {
		tr.Free(memtrack.Addr(s))
	}
}

func (b *Buffers) counts() [][]int {
	return [][]int{b.SendCounts, b.SendDispls, b.RecvCounts, b.RecvDispls}
}

// ElemsForMB returns how many float64s fit in mb megabytes.
func ElemsForMB(mb int) int {
	return mb * 1024 * 1024 / 8
}
