package group

import (
	"context"

	"github.com/pkg/errors"

	"collbench/internal/memtrack"
)

// ErrTopology is returned for Cartesian dimensions that do not fit the
// group.
var ErrTopology = errors.New("group: invalid topology")

const tagWindow = tagScan + 1

// Window exposes a local buffer of every member for one-sided access.
// Puts are applied at the next Fence.
type Window struct {
	comm    *Group
	base    []float64
	sizes   []float64
	pending [][]float64 // per target: offset, n, data..., offset, n, ...
	freed   bool
}

// CreateWindow collectively exposes base on every rank of g.
func (g *Group) CreateWindow(ctx context.Context, base []float64) (*Window, error) {
	comm, err := g.Dup(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "window")
	}
	sizes := memtrack.Make[float64](g.rec, g.Size())
	if err := comm.Allgather(ctx, []float64{float64(len(base))}, sizes, 1); err != nil {
		memtrack.Release(g.rec, sizes)
		_ = comm.Free()
		return nil, errors.Wrap(err, "window sizes")
	}
	return &Window{
		comm:    comm,
		base:    base,
		sizes:   sizes,
		pending: make([][]float64, g.Size()),
	}, nil
}

// Size returns the number of elements rank exposes.
func (w *Window) Size(rank int) int { return int(w.sizes[rank]) }

// Put writes data into target's window at offset. The write becomes
// visible after the next Fence.
func (w *Window) Put(target, offset int, data []float64) error {
	if w.freed {
		return ErrFreed
	}
	if target < 0 || target >= len(w.sizes) {
		return errors.Wrapf(ErrRank, "put to %d", target)
	}
	if offset < 0 || offset+len(data) > w.Size(target) {
		return errors.Errorf("group: put of %d at %d outside window of %d", len(data), offset, w.Size(target))
	}
	ops := append(w.pending[target], float64(offset), float64(len(data)))
	w.pending[target] = append(ops, data...)
	return nil
}

// Fence completes every Put issued since the previous Fence.
func (w *Window) Fence(ctx context.Context) error {
	if w.freed {
		return ErrFreed
	}
	c := w.comm
	p, r := c.Size(), c.rank
	for i := 1; i < p; i++ {
		dst := (r + i) % p
		if err := c.Send(ctx, dst, tagWindow, w.pending[dst]); err != nil {
			return errors.Wrap(err, "fence")
		}
	}
	w.apply(w.pending[r])
	for i := 1; i < p; i++ {
		src := (r - i + p) % p
		data, err := c.ep.Recv(ctx, c.ranks[src], c.ctxID, tagWindow)
		if err != nil {
			return errors.Wrap(err, "fence")
		}
		w.apply(data)
	}
	for i := range w.pending {
		w.pending[i] = w.pending[i][:0]
	}
	return c.Barrier(ctx)
}

func (w *Window) apply(ops []float64) {
	for len(ops) >= 2 {
		off, n := int(ops[0]), int(ops[1])
		copy(w.base[off:off+n], ops[2:2+n])
		ops = ops[2+n:]
	}
}

// Free collectively releases the window. The exposed buffer is untouched.
func (w *Window) Free(ctx context.Context) error {
	if w.freed {
		return ErrFreed
	}
	if err := w.comm.Barrier(ctx); err != nil {
		return errors.Wrap(err, "window free")
	}
	w.freed = true
	memtrack.Release(w.comm.rec, w.sizes)
	return w.comm.Free()
}

// Cart is a group with a Cartesian process topology in row-major order.
type Cart struct {
	*Group
	dims []int
}

// CreateCart builds a topology of the given dimensions over the first
// prod(dims) ranks of g. Ranks outside the grid get a nil Cart.
func (g *Group) CreateCart(ctx context.Context, dims []int) (*Cart, error) {
	if len(dims) == 0 {
		return nil, errors.Wrap(ErrTopology, "no dims")
	}
	n := 1
	for _, d := range dims {
		if d <= 0 {
			return nil, errors.Wrapf(ErrTopology, "dims %v", dims)
		}
		n *= d
	}
	if n > g.Size() {
		return nil, errors.Wrapf(ErrTopology, "dims %v need %d ranks, group has %d", dims, n, g.Size())
	}
	members := make([]int, n)
	for i := range members {
		members[i] = i
	}
	sub, err := g.Create(ctx, members)
	if err != nil || sub == nil {
		return nil, errors.Wrap(err, "cart")
	}
	c := &Cart{
		Group: sub,
		dims:  memtrack.Make[int](g.rec, len(dims)),
	}
	copy(c.dims, dims)
	return c, nil
}

// Free releases the topology.
func (c *Cart) Free() error {
	if c.freed {
		return ErrFreed
	}
	memtrack.Release(c.rec, c.dims)
	return c.Group.Free()
}

// CartDims splits a power-of-two p into ndims (1 to 3) power-of-two
// dimensions.
func CartDims(p, ndims int) ([]int, error) {
	if p <= 0 || p&(p-1) != 0 {
		return nil, errors.Wrapf(ErrTopology, "%d ranks is not a power of two", p)
	}
	lg := 0
	for v := p; v > 1; v >>= 1 {
		lg++
	}
	switch ndims {
	case 1:
		return []int{p}, nil
	case 2:
		d0 := 1 << (lg / 2)
		return []int{d0, p / d0}, nil
	case 3:
		e := lg / 3
		return []int{1 << e, 1 << e, 1 << (lg - 2*e)}, nil
	}
	return nil, errors.Wrapf(ErrTopology, "%d dimensions", ndims)
}
