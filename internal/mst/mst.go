package mst

import (
	"context"

	"github.com/pkg/errors"

	"collbench/internal/group"
)

// Messenger is the point-to-point capability the tree algorithms need.
type Messenger interface {
	Rank() int
	Send(ctx context.Context, dst int, data []float64) error
	Recv(ctx context.Context, src int, buf []float64) error
}

type groupMessenger struct {
	g   *group.Group
	tag int
}

// Over returns a Messenger that exchanges messages on g with the given tag.
func Over(g *group.Group, tag int) Messenger {
	return &groupMessenger{g: g, tag: tag}
}

func (m *groupMessenger) Rank() int { return m.g.Rank() }

func (m *groupMessenger) Send(ctx context.Context, dst int, data []float64) error {
	return m.g.Send(ctx, dst, m.tag, data)
}

func (m *groupMessenger) Recv(ctx context.Context, src int, buf []float64) error {
	_, err := m.g.Recv(ctx, src, m.tag, buf)
	return err
}

// split returns the bisection point and the representative of the half
// that does not contain root.
func split(root, left, right int) (mid, other int) {
	mid = (left + right) / 2
	other = left
	if root <= mid {
		other = right
	}
	return mid, other
}

// subtree returns the range and root of the half containing rank.
func subtree(rank, root, other, left, mid, right int) (int, int, int) {
	lower := rank <= mid
	rootLower := root <= mid
	switch {
	case lower && rootLower:
		return root, left, mid
	case lower:
		return other, left, mid
	case rootLower:
		return other, mid + 1, right
	default:
		return root, mid + 1, right
	}
}

// Bcast copies root's buf to every rank in [left, right]. The crossing
// message is sent before recursing.
func Bcast(ctx context.Context, m Messenger, buf []float64, root, left, right int) error {
	if left == right {
		return nil
	}
	me := m.Rank()
	mid, other := split(root, left, right)
	if me == root {
		if err := m.Send(ctx, other, buf); err != nil {
			return errors.Wrapf(err, "bcast [%d,%d] to %d", left, right, other)
		}
	}
	if me == other {
		if err := m.Recv(ctx, root, buf); err != nil {
			return errors.Wrapf(err, "bcast [%d,%d] from %d", left, right, root)
		}
	}
	r, l, h := subtree(me, root, other, left, mid, right)
	return Bcast(ctx, m, buf, r, l, h)
}

// Reduce sums buf over [left, right] into root's buf. Each half is reduced
// first; the crossing message then carries the other half's partial sum,
// received into tmp. buf is clobbered on every rank but root.
func Reduce(ctx context.Context, m Messenger, buf, tmp []float64, root, left, right int) error {
	if left == right {
		return nil
	}
	me := m.Rank()
	mid, other := split(root, left, right)
	r, l, h := subtree(me, root, other, left, mid, right)
	if err := Reduce(ctx, m, buf, tmp, r, l, h); err != nil {
		return err
	}
	if me == other {
		if err := m.Send(ctx, root, buf); err != nil {
			return errors.Wrapf(err, "reduce [%d,%d] to %d", left, right, root)
		}
	}
	if me == root {
		if err := m.Recv(ctx, other, tmp[:len(buf)]); err != nil {
			return errors.Wrapf(err, "reduce [%d,%d] from %d", left, right, other)
		}
		for i := range buf {
			buf[i] += tmp[i]
		}
	}
	return nil
}

// Gather collects count elements per rank into root's buf. buf holds
// count elements for every rank of [left, right], indexed by rank, and the
// caller's own block must already be in place. Each crossing message
// carries the whole block of the other half.
func Gather(ctx context.Context, m Messenger, buf []float64, count, root, left, right int) error {
	if left == right {
		return nil
	}
	me := m.Rank()
	mid, other := split(root, left, right)
	r, l, h := subtree(me, root, other, left, mid, right)
	if err := Gather(ctx, m, buf, count, r, l, h); err != nil {
		return err
	}

	lo, hi := left, mid
	if root <= mid {
		lo, hi = mid+1, right
	}
	block := buf[count*lo : count*(hi+1)]
	if me == other {
		if err := m.Send(ctx, root, block); err != nil {
			return errors.Wrapf(err, "gather [%d,%d] to %d", lo, hi, root)
		}
	}
	if me == root {
		if err := m.Recv(ctx, other, block); err != nil {
			return errors.Wrapf(err, "gather [%d,%d] from %d", lo, hi, other)
		}
	}
	return nil
}
