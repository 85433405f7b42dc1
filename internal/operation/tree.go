package operation

import (
	"context"

	"collbench/internal/group"
	"collbench/internal/mst"
)

// treeTag separates tree traffic from other point-to-point messages.
const treeTag = 100

type treeCall func(ctx context.Context, t *Tree) error

// Tree runs one of the bisection-tree collectives rooted at rank 0.
type Tree struct {
	base
	call treeCall
	m    mst.Messenger
	tmp  []float64
}

// Init binds the operation to g and b.
func (t *Tree) Init(g *group.Group, b *Buffers) error {
	if err := t.bind(g, b); err != nil {
		return err
	}
	t.m = mst.Over(g, treeTag)
	t.tmp = make([]float64, t.count)
	return nil
}

// Run performs the tree collective once.
func (t *Tree) Run(ctx context.Context) (int, error) {
	return 1, t.call(ctx, t)
}

func newTree(name string, count int, call treeCall) *Tree {
	return &Tree{base: base{name: name, kind: KindTree, count: count}, call: call}
}

func bcastAlt(ctx context.Context, t *Tree) error {
	return mst.Bcast(ctx, t.m, t.b.Send[:t.count], 0, 0, t.g.Size()-1)
}

func reduceAlt(ctx context.Context, t *Tree) error {
	n := t.count
	copy(t.b.Recv[:n], t.b.Send[:n])
	return mst.Reduce(ctx, t.m, t.b.Recv[:n], t.tmp, 0, 0, t.g.Size()-1)
}

func gatherAlt(ctx context.Context, t *Tree) error {
	n, p, r := t.count, t.g.Size(), t.g.Rank()
	copy(t.b.Recv[r*n:(r+1)*n], t.b.Send[:n])
	return mst.Gather(ctx, t.m, t.b.Recv[:n*p], n, 0, 0, p-1)
}
