package operation

import (
	"context"

	"github.com/pkg/errors"

	"collbench/internal/group"
)

// ErrBufferTooSmall is returned by Init when the shared buffers cannot hold
// the operation's messages.
var ErrBufferTooSmall = errors.New("operation: buffers too small")

// Kind is the variant of an Operation.
type Kind int

const (
	KindPrimitive Kind = iota
	KindLifecycle
	KindTree
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindLifecycle:
		return "lifecycle"
	case KindTree:
		return "tree"
	}
	return "unknown"
}

// Operation is one benchmarked unit.
type Operation interface {
	// Init binds the operation to a group and the shared buffers.
	Init(g *group.Group, b *Buffers) error
	// Run executes one trial and returns how many internal repetitions it
	// performed, for amortization.
	Run(ctx context.Context) (int, error)
	Name() string
	Kind() Kind
	// Result returns the last value stored by SetResult.
	Result() float64
	SetResult(v float64)
}

// base carries the state shared by every variant.
type base struct {
	name   string
	kind   Kind
	count  int
	result float64

	g *group.Group
	b *Buffers
}

func (o *base) Name() string        { return o.name }
func (o *base) Kind() Kind          { return o.kind }
func (o *base) Result() float64     { return o.result }
func (o *base) SetResult(v float64) { o.result = v }

// bind checks that b can hold count elements per rank for every rank.
func (o *base) bind(g *group.Group, b *Buffers) error {
	if need := o.count * g.Size(); need > len(b.Send) || need > len(b.Recv) {
		return errors.Wrapf(ErrBufferTooSmall, "%s needs %d elements, have %d", o.name, need, len(b.Send))
	}
	if len(b.SendCounts) != g.Size() {
		return errors.Wrapf(ErrBufferTooSmall, "%s: counts sized for %d ranks, group has %d", o.name, len(b.SendCounts), g.Size())
	}
	o.g, o.b = g, b
	return nil
}
