package operation

import (
	"context"

	"collbench/internal/group"
)

type collective func(ctx context.Context, g *group.Group, b *Buffers, count int) error

// Primitive is a single collective call over the shared buffers with a
// uniform per-rank message size. Root-based collectives are rooted at 0.
type Primitive struct {
	base
	call collective
}

func newPrimitive(name string, count int, call collective) *Primitive {
	return &Primitive{base: base{name: name, kind: KindPrimitive, count: count}, call: call}
}

// Init binds the operation to g and b.
func (p *Primitive) Init(g *group.Group, b *Buffers) error {
	return p.bind(g, b)
}

// Run performs the collective once.
func (p *Primitive) Run(ctx context.Context) (int, error) {
	return 1, p.call(ctx, p.g, p.b, p.count)
}

var primitives = []struct {
	name string
	call collective
}{
	{"MPI_Bcast", func(ctx context.Context, g *group.Group, b *Buffers, n int) error {
		return g.Bcast(ctx, b.Send[:n], 0)
	}},
	{"MPI_Gather", func(ctx context.Context, g *group.Group, b *Buffers, n int) error {
		return g.Gather(ctx, b.Send, b.Recv, n, 0)
	}},
	{"MPI_Scatter", func(ctx context.Context, g *group.Group, b *Buffers, n int) error {
		return g.Scatter(ctx, b.Send, b.Recv, n, 0)
	}},
	{"MPI_Allgather", func(ctx context.Context, g *group.Group, b *Buffers, n int) error {
		return g.Allgather(ctx, b.Send, b.Recv, n)
	}},
	{"MPI_Allreduce", func(ctx context.Context, g *group.Group, b *Buffers, n int) error {
		return g.Allreduce(ctx, b.Send[:n], b.Recv, group.Sum)
	}},
	{"MPI_Reduce", func(ctx context.Context, g *group.Group, b *Buffers, n int) error {
		return g.Reduce(ctx, b.Send[:n], b.Recv, group.Sum, 0)
	}},
	{"MPI_Alltoall", func(ctx context.Context, g *group.Group, b *Buffers, n int) error {
		return g.Alltoall(ctx, b.Send, b.Recv, n)
	}},
	{"MPI_Scan", func(ctx context.Context, g *group.Group, b *Buffers, n int) error {
		return g.Scan(ctx, b.Send[:n], b.Recv, group.Sum)
	}},
	{"MPI_Reduce_scatter", func(ctx context.Context, g *group.Group, b *Buffers, n int) error {
		return g.ReduceScatter(ctx, b.Send, b.Recv, b.RecvCounts, group.Sum)
	}},
	{"MPI_Barrier", func(ctx context.Context, g *group.Group, _ *Buffers, _ int) error {
		return g.Barrier(ctx)
	}},
	{"MPI_Gatherv", func(ctx context.Context, g *group.Group, b *Buffers, n int) error {
		return g.Gatherv(ctx, b.Send[:n], b.Recv, b.RecvCounts, b.RecvDispls, 0)
	}},
	{"MPI_Scatterv", func(ctx context.Context, g *group.Group, b *Buffers, n int) error {
		return g.Scatterv(ctx, b.Send, b.SendCounts, b.SendDispls, b.Recv[:n], 0)
	}},
	{"MPI_Allgatherv", func(ctx context.Context, g *group.Group, b *Buffers, n int) error {
		return g.Allgatherv(ctx, b.Send[:n], b.Recv, b.RecvCounts, b.RecvDispls)
	}},
	{"MPI_Alltoallv", func(ctx context.Context, g *group.Group, b *Buffers, _ int) error {
		return g.Alltoallv(ctx, b.Send, b.SendCounts, b.SendDispls, b.Recv, b.RecvCounts, b.RecvDispls)
	}},
}
