package group

import (
	"context"
	"math"

	"github.com/pkg/errors"
)

// Op combines in into acc element-wise.
type Op func(acc, in []float64)

// Sum adds element-wise.
func Sum(acc, in []float64) {
	for i := range acc {
		acc[i] += in[i]
	}
}

// Max keeps the element-wise maximum.
func Max(acc, in []float64) {
	for i := range acc {
		acc[i] = math.Max(acc[i], in[i])
	}
}

// Min keeps the element-wise minimum.
func Min(acc, in []float64) {
	for i := range acc {
		acc[i] = math.Min(acc[i], in[i])
	}
}

// Barrier blocks until every rank has entered it. It uses the dissemination
// pattern: ceil(log2 P) rounds of empty messages.
func (g *Group) Barrier(ctx context.Context) error {
	p, r := g.Size(), g.rank
	var scratch [0]float64
	for k := 1; k < p; k <<= 1 {
		if err := g.Send(ctx, (r+k)%p, tagBarrier, nil); err != nil {
			return errors.Wrap(err, "barrier")
		}
		if _, err := g.Recv(ctx, (r-k+p)%p, tagBarrier, scratch[:]); err != nil {
			return errors.Wrap(err, "barrier")
		}
	}
	return nil
}

// Bcast copies root's buf to every rank over a binomial tree.
func (g *Group) Bcast(ctx context.Context, buf []float64, root int) error {
	p := g.Size()
	vr := (g.rank - root + p) % p

	mask := 1
	for mask < p {
		if vr&mask != 0 {
			src := (vr - mask + root) % p
			if _, err := g.Recv(ctx, src, tagBcast, buf); err != nil {
				return errors.Wrap(err, "bcast")
			}
			break
		}
		mask <<= 1
	}
	for mask >>= 1; mask > 0; mask >>= 1 {
		if vr+mask < p {
			if err := g.Send(ctx, (vr+mask+root)%p, tagBcast, buf); err != nil {
				return errors.Wrap(err, "bcast")
			}
		}
	}
	return nil
}

// Reduce combines every rank's send with op into root's recv over a
// binomial tree. recv is only written on root.
func (g *Group) Reduce(ctx context.Context, send, recv []float64, op Op, root int) error {
	p := g.Size()
	vr := (g.rank - root + p) % p

	acc := make([]float64, len(send))
	copy(acc, send)
	tmp := make([]float64, len(send))

	for mask := 1; mask < p; mask <<= 1 {
		if vr&mask == 0 {
			child := vr | mask
			if child < p {
				if _, err := g.Recv(ctx, (child+root)%p, tagReduce, tmp); err != nil {
					return errors.Wrap(err, "reduce")
				}
				op(acc, tmp)
			}
			continue
		}
		parent := vr &^ mask
		if err := g.Send(ctx, (parent+root)%p, tagReduce, acc); err != nil {
			return errors.Wrap(err, "reduce")
		}
		return nil
	}
	copy(recv, acc)
	return nil
}

// Allreduce combines every rank's send with op into every rank's recv.
func (g *Group) Allreduce(ctx context.Context, send, recv []float64, op Op) error {
	if err := g.Reduce(ctx, send, recv, op, 0); err != nil {
		return err
	}
	return g.Bcast(ctx, recv[:len(send)], 0)
}

// AllreduceMax is Allreduce of a single value with Max.
func (g *Group) AllreduceMax(ctx context.Context, v float64) (float64, error) {
	out := []float64{0}
	if err := g.Allreduce(ctx, []float64{v}, out, Max); err != nil {
		return 0, err
	}
	return out[0], nil
}

// Gather collects count elements from each rank into root's recv, ordered
// by rank.
func (g *Group) Gather(ctx context.Context, send, recv []float64, count, root int) error {
	counts, displs := Uniform(g.Size(), count)
	return g.Gatherv(ctx, send[:count], recv, counts, displs, root)
}

// Gatherv collects counts[i] elements from rank i into root's recv at
// displs[i].
func (g *Group) Gatherv(ctx context.Context, send, recv []float64, counts, displs []int, root int) error {
	if g.rank != root {
		return errors.Wrap(g.Send(ctx, root, tagGather, send[:counts[g.rank]]), "gather")
	}
	for i := 0; i < g.Size(); i++ {
		dst := recv[displs[i] : displs[i]+counts[i]]
		if i == root {
			copy(dst, send)
			continue
		}
		if _, err := g.Recv(ctx, i, tagGather, dst); err != nil {
			return errors.Wrap(err, "gather")
		}
	}
	return nil
}

// Scatter sends count elements of root's send to each rank, in rank order.
func (g *Group) Scatter(ctx context.Context, send, recv []float64, count, root int) error {
	counts, displs := Uniform(g.Size(), count)
	return g.Scatterv(ctx, send, counts, displs, recv[:count], root)
}

// Scatterv sends counts[i] elements of root's send starting at displs[i]
// to rank i.
func (g *Group) Scatterv(ctx context.Context, send []float64, counts, displs []int, recv []float64, root int) error {
	if g.rank != root {
		_, err := g.Recv(ctx, root, tagScatter, recv)
		return errors.Wrap(err, "scatter")
	}
	for i := 0; i < g.Size(); i++ {
		chunk := send[displs[i] : displs[i]+counts[i]]
		if i == root {
			copy(recv, chunk)
			continue
		}
		if err := g.Send(ctx, i, tagScatter, chunk); err != nil {
			return errors.Wrap(err, "scatter")
		}
	}
	return nil
}

// Allgather collects count elements from each rank into every rank's recv.
func (g *Group) Allgather(ctx context.Context, send, recv []float64, count int) error {
	counts, displs := Uniform(g.Size(), count)
	return g.Allgatherv(ctx, send[:count], recv, counts, displs)
}

// Allgatherv is Gatherv with the result on every rank. Blocks travel
// around a ring, one hop per step.
func (g *Group) Allgatherv(ctx context.Context, send, recv []float64, counts, displs []int) error {
	p, r := g.Size(), g.rank
	copy(recv[displs[r]:displs[r]+counts[r]], send)
	right, left := (r+1)%p, (r-1+p)%p
	for step := 0; step < p-1; step++ {
		out := (r - step + p) % p
		in := (r - step - 1 + p) % p
		if err := g.Send(ctx, right, tagAllgather, recv[displs[out]:displs[out]+counts[out]]); err != nil {
			return errors.Wrap(err, "allgather")
		}
		if _, err := g.Recv(ctx, left, tagAllgather, recv[displs[in]:displs[in]+counts[in]]); err != nil {
			return errors.Wrap(err, "allgather")
		}
	}
	return nil
}

// Alltoall sends the i-th count-sized block of send to rank i and receives
// rank i's block into the i-th block of recv.
func (g *Group) Alltoall(ctx context.Context, send, recv []float64, count int) error {
	counts, displs := Uniform(g.Size(), count)
	return g.Alltoallv(ctx, send, counts, displs, recv, counts, displs)
}

// Alltoallv is Alltoall with per-rank counts and displacements.
func (g *Group) Alltoallv(ctx context.Context, send []float64, sendCounts, sendDispls []int, recv []float64, recvCounts, recvDispls []int) error {
	p, r := g.Size(), g.rank
	for i := 0; i < p; i++ {
		dst := (r + i) % p
		src := (r - i + p) % p
		out := send[sendDispls[dst] : sendDispls[dst]+sendCounts[dst]]
		in := recv[recvDispls[src] : recvDispls[src]+recvCounts[src]]
		if dst == r {
			copy(in, out)
			continue
		}
		if err := g.Send(ctx, dst, tagAlltoall, out); err != nil {
			return errors.Wrap(err, "alltoall")
		}
		if _, err := g.Recv(ctx, src, tagAlltoall, in); err != nil {
			return errors.Wrap(err, "alltoall")
		}
	}
	return nil
}

// Scan computes the inclusive prefix reduction: rank i receives the
// combination of send on ranks 0..i.
func (g *Group) Scan(ctx context.Context, send, recv []float64, op Op) error {
	n := len(send)
	copy(recv[:n], send)
	if g.rank > 0 {
		prefix := make([]float64, n)
		if _, err := g.Recv(ctx, g.rank-1, tagScan, prefix); err != nil {
			return errors.Wrap(err, "scan")
		}
		op(prefix, recv[:n])
		copy(recv[:n], prefix)
	}
	if g.rank < g.Size()-1 {
		return errors.Wrap(g.Send(ctx, g.rank+1, tagScan, recv[:n]), "scan")
	}
	return nil
}

// ReduceScatter reduces send with op and leaves the i-th segment, of
// recvCounts[i] elements, on rank i.
func (g *Group) ReduceScatter(ctx context.Context, send, recv []float64, recvCounts []int, op Op) error {
	total := 0
	displs := make([]int, len(recvCounts))
	for i, c := range recvCounts {
		displs[i] = total
		total += c
	}
	full := make([]float64, total)
	if err := g.Reduce(ctx, send[:total], full, op, 0); err != nil {
		return err
	}
	return g.Scatterv(ctx, full, recvCounts, displs, recv[:recvCounts[g.rank]], 0)
}

// Uniform returns counts and displacements for p blocks of count elements.
func Uniform(p, count int) (counts, displs []int) {
	counts = make([]int, p)
	displs = make([]int, p)
	for i := range counts {
		counts[i] = count
		displs[i] = i * count
	}
	return counts, displs
}
