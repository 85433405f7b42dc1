package operation

import (
	"context"

	"github.com/pkg/errors"

	"collbench/internal/group"
)

// internalIters is how many resources one lifecycle trial creates.
const internalIters = 1

type release func(ctx context.Context) error

type creator func(ctx context.Context, l *Lifecycle) (release, error)

// Lifecycle creates and releases a group resource in every trial. No
// resource outlives Run, including when creation fails part way.
type Lifecycle struct {
	base
	create creator
	dims   []int
	ndims  int
}

// Init binds the operation to g and b.
func (l *Lifecycle) Init(g *group.Group, b *Buffers) error {
	if err := l.bind(g, b); err != nil {
		return err
	}
	if l.ndims > 0 {
		dims, err := group.CartDims(g.Size(), l.ndims)
		if err != nil {
			return errors.Wrap(err, l.name)
		}
		l.dims = dims
	}
	return nil
}

// Run creates internalIters resources, then releases all of them.
func (l *Lifecycle) Run(ctx context.Context) (int, error) {
	held := make([]release, 0, internalIters)
	var err error
	for i := 0; i < internalIters; i++ {
		var rel release
		if rel, err = l.create(ctx, l); err != nil {
			err = errors.Wrapf(err, "%s: create", l.name)
			break
		}
		held = append(held, rel)
	}
	for _, rel := range held {
		if ferr := rel(ctx); ferr != nil && err == nil {
			err = errors.Wrapf(ferr, "%s: free", l.name)
		}
	}
	if err != nil {
		return 0, err
	}
	return internalIters, nil
}

func newLifecycle(name string, create creator) *Lifecycle {
	return &Lifecycle{base: base{name: name, kind: KindLifecycle}, create: create}
}

func commCreate(ctx context.Context, l *Lifecycle) (release, error) {
	members := make([]int, l.g.Size())
	for i := range members {
		members[i] = i
	}
	sub, err := l.g.Create(ctx, members)
	if err != nil {
		return nil, err
	}
	return func(context.Context) error { return sub.Free() }, nil
}

func commDup(ctx context.Context, l *Lifecycle) (release, error) {
	dup, err := l.g.Dup(ctx)
	if err != nil {
		return nil, err
	}
	return func(context.Context) error { return dup.Free() }, nil
}

// splitGroupSize is the size of the sub-groups MPI_Comm_split forms.
const splitGroupSize = 8

func commSplit(ctx context.Context, l *Lifecycle) (release, error) {
	colors := max(1, l.g.Size()/splitGroupSize)
	r := l.g.Rank()
	sub, err := l.g.Split(ctx, r%colors, r)
	if err != nil {
		return nil, err
	}
	return func(context.Context) error { return sub.Free() }, nil
}

// winCreate exposes the send buffer and completes one access epoch: every
// rank puts its first element into its right neighbour's window.
func winCreate(ctx context.Context, l *Lifecycle) (release, error) {
	win, err := l.g.CreateWindow(ctx, l.b.Send)
	if err != nil {
		return nil, err
	}
	right := (l.g.Rank() + 1) % l.g.Size()
	if err := win.Put(right, 0, l.b.Send[:1]); err != nil {
		_ = win.Free(ctx)
		return nil, err
	}
	if err := win.Fence(ctx); err != nil {
		_ = win.Free(ctx)
		return nil, err
	}
	return win.Free, nil
}

func cartCreate(ctx context.Context, l *Lifecycle) (release, error) {
	cart, err := l.g.CreateCart(ctx, l.dims)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return func(context.Context) error { return nil }, nil
	}
	return func(context.Context) error { return cart.Free() }, nil
}

// CartCreate returns the Cartesian topology lifecycle with ndims (1 to 3)
// power-of-two dimensions.
func CartCreate(ndims int) *Lifecycle {
	l := newLifecycle("MPI_Cart_create", cartCreate)
	l.ndims = ndims
	return l
}
