package group

import (
	"context"
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"collbench/internal/memtrack"
	"collbench/internal/transport"
)

var (
	// ErrTruncate is returned when a received message is longer than the
	// receive buffer.
	ErrTruncate = errors.New("group: message truncated")
	// ErrFreed is returned when a resource is used or freed after Free.
	ErrFreed = errors.New("group: resource already freed")
	// ErrRank is returned for a rank outside the group.
	ErrRank = errors.New("group: rank out of range")
)

// MaxUserTag is the largest tag available to point-to-point callers.
// Larger tags are reserved for collectives.
const MaxUserTag = 1<<24 - 1

const (
	tagBarrier = MaxUserTag + 1 + iota
	tagBcast
	tagReduce
	tagGather
	tagScatter
	tagAllgather
	tagAlltoall
	tagScan
)

// Undefined is the Split color for ranks that join no new group.
const Undefined = -1

// Group is an ordered set of ranks bound to one message context.
type Group struct {
	ep      transport.Endpoint
	ctxID   uint64
	ranks   []int // group rank -> world rank
	rank    int
	derived uint64
	freed   bool

	rec      memtrack.Recorder
	counter  *atomic.Int64
	resource bool
}

// Option configures a world group.
type Option func(*Group)

// WithRecorder accounts the group's internal allocations, and those of
// every resource derived from it, with rec.
func WithRecorder(rec memtrack.Recorder) Option {
	return func(g *Group) { g.rec = rec }
}

// New returns the world group of ep.
func New(ep transport.Endpoint, opts ...Option) *Group {
	ranks := make([]int, ep.Size())
	for i := range ranks {
		ranks[i] = i
	}
	g := &Group{
		ep:      ep,
		ranks:   ranks,
		rank:    ep.Rank(),
		counter: new(atomic.Int64),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Rank returns the caller's rank in the group.
func (g *Group) Rank() int { return g.rank }

// Size returns the number of ranks in the group.
func (g *Group) Size() int { return len(g.ranks) }

// WorldRank translates a group rank to a world rank.
func (g *Group) WorldRank(r int) int { return g.ranks[r] }

// Context returns the message context id.
func (g *Group) Context() uint64 { return g.ctxID }

// Endpoint returns the underlying endpoint.
func (g *Group) Endpoint() transport.Endpoint { return g.ep }

// Recorder returns the memory recorder, or nil.
func (g *Group) Recorder() memtrack.Recorder { return g.rec }

// Outstanding returns the number of resources derived from the world group
// that have not been freed yet.
func (g *Group) Outstanding() int64 { return g.counter.Load() }

// Abort tears down every rank of the world.
func (g *Group) Abort(code int, reason error) { g.ep.Abort(code, reason) }

// Send sends data to group rank dst.
func (g *Group) Send(ctx context.Context, dst, tag int, data []float64) error {
	if g.freed {
		return ErrFreed
	}
	if dst < 0 || dst >= len(g.ranks) {
		return errors.Wrapf(ErrRank, "send to %d in group of %d", dst, len(g.ranks))
	}
	if err := g.ep.Send(ctx, g.ranks[dst], g.ctxID, tag, data); err != nil {
		return errors.Wrapf(err, "send to %d", dst)
	}
	return nil
}

// Recv receives a message from group rank src into buf and returns the
// number of elements received.
func (g *Group) Recv(ctx context.Context, src, tag int, buf []float64) (int, error) {
	if g.freed {
		return 0, ErrFreed
	}
	if src < 0 || src >= len(g.ranks) {
		return 0, errors.Wrapf(ErrRank, "recv from %d in group of %d", src, len(g.ranks))
	}
	data, err := g.ep.Recv(ctx, g.ranks[src], g.ctxID, tag)
	if err != nil {
		return 0, errors.Wrapf(err, "recv from %d", src)
	}
	if len(data) > len(buf) {
		return 0, errors.Wrapf(ErrTruncate, "%d elements into buffer of %d", len(data), len(buf))
	}
	return copy(buf, data), nil
}

// deriveContext names a child communicator. Every member computes the same
// id because collectives that create children run in the same order on all
// ranks.
func deriveContext(parent, seq uint64, color int) uint64 {
	var b [24]byte
	binary.LittleEndian.PutUint64(b[0:], parent)
	binary.LittleEndian.PutUint64(b[8:], seq)
	binary.LittleEndian.PutUint64(b[16:], uint64(int64(color)))
	return xxhash.Sum64(b[:])
}

// nextContext agrees on the next child sequence number across the group.
func (g *Group) nextContext(ctx context.Context, color int) (uint64, error) {
	proposal := []float64{float64(g.derived + 1)}
	agreed := make([]float64, 1)
	if err := g.Allreduce(ctx, proposal, agreed, Max); err != nil {
		return 0, errors.Wrap(err, "agree on context")
	}
	g.derived = uint64(agreed[0])
	return deriveContext(g.ctxID, g.derived, color), nil
}

// child builds a derived group over the given parent ranks. The rank table
// is allocated through the recorder so creation cost is attributed.
func (g *Group) child(ctxID uint64, members []int) *Group {
	ranks := memtrack.Make[int](g.rec, len(members))
	rank := -1
	for i, m := range members {
		ranks[i] = g.ranks[m]
		if m == g.rank {
			rank = i
		}
	}
	g.counter.Add(1)
	return &Group{
		ep:       g.ep,
		ctxID:    ctxID,
		ranks:    ranks,
		rank:     rank,
		rec:      g.rec,
		counter:  g.counter,
		resource: true,
	}
}

// Free releases a group obtained from Dup, Create or Split. Freeing the
// world group is a no-op.
func (g *Group) Free() error {
	if !g.resource {
		return nil
	}
	if g.freed {
		return ErrFreed
	}
	g.freed = true
	memtrack.Release(g.rec, g.ranks)
	g.counter.Add(-1)
	return nil
}

// Dup returns a new group with the same members and a fresh context.
func (g *Group) Dup(ctx context.Context) (*Group, error) {
	id, err := g.nextContext(ctx, 0)
	if err != nil {
		return nil, errors.Wrap(err, "dup")
	}
	members := make([]int, g.Size())
	for i := range members {
		members[i] = i
	}
	return g.child(id, members), nil
}

// Create returns a group of the given members, in order. Ranks not listed
// get a nil group. All ranks of g must call Create with the same members.
func (g *Group) Create(ctx context.Context, members []int) (*Group, error) {
	for _, m := range members {
		if m < 0 || m >= g.Size() {
			return nil, errors.Wrapf(ErrRank, "create with member %d", m)
		}
	}
	id, err := g.nextContext(ctx, 0)
	if err != nil {
		return nil, errors.Wrap(err, "create")
	}
	in := false
	for _, m := range members {
		if m == g.rank {
			in = true
			break
		}
	}
	if !in {
		return nil, nil
	}
	return g.child(id, members), nil
}

// Split partitions g by color; within a color ranks are ordered by key,
// then by rank in g. A negative color yields a nil group.
func (g *Group) Split(ctx context.Context, color, key int) (*Group, error) {
	p := g.Size()
	mine := []float64{float64(color), float64(key)}
	all := make([]float64, 2*p)
	if err := g.Allgather(ctx, mine, all, 2); err != nil {
		return nil, errors.Wrap(err, "split exchange")
	}
	id, err := g.nextContext(ctx, 0)
	if err != nil {
		return nil, errors.Wrap(err, "split")
	}
	if color < 0 {
		return nil, nil
	}

	members := make([]int, 0, p)
	for r := 0; r < p; r++ {
		if int(all[2*r]) == color {
			members = append(members, r)
		}
	}
	// stable insertion sort by key keeps rank order for equal keys
	for i := 1; i < len(members); i++ {
		for j := i; j > 0 && all[2*members[j]+1] < all[2*members[j-1]+1]; j-- {
			members[j], members[j-1] = members[j-1], members[j]
		}
	}
	return g.child(deriveContext(id, 0, color), members), nil
}
