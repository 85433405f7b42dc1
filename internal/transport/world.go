package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// World is an in-process fabric: one mailbox per rank, delivery by direct
// enqueue. Ranks are goroutines started by Run.
type World struct {
	size  int
	boxes []*Mailbox

	mu     sync.Mutex
	cancel context.CancelFunc
	sent   []int
}

// NewWorld creates a world of size ranks.
func NewWorld(size int) *World {
	if size <= 0 {
		size = 1
	}
	boxes := make([]*Mailbox, size)
	for i := range boxes {
		boxes[i] = NewMailbox()
	}
	return &World{
		size:  size,
		boxes: boxes,
		sent:  make([]int, size),
	}
}

// Size returns the number of ranks.
func (w *World) Size() int { return w.size }

// Endpoint returns the endpoint of the given rank.
func (w *World) Endpoint(rank int) Endpoint {
	return &localEndpoint{world: w, rank: rank}
}

// Sent returns how many messages rank has sent so far.
func (w *World) Sent(rank int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sent[rank]
}

// Run starts one goroutine per rank and waits for all of them. The first
// error cancels the shared context and aborts the world, so no rank is left
// blocked on a peer that has already returned.
func (w *World) Run(ctx context.Context, fn func(ctx context.Context, ep Endpoint) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < w.size; r++ {
		ep := w.Endpoint(r)
		g.Go(func() error {
			if err := fn(gctx, ep); err != nil {
				w.Abort(1, fmt.Sprintf("rank %d failed: %v", ep.Rank(), err))
				return errors.Wrapf(err, "rank %d", ep.Rank())
			}
			return nil
		})
	}
	return g.Wait()
}

// Abort aborts every rank's mailbox and cancels Run's context.
func (w *World) Abort(code int, reason string) {
	for _, b := range w.boxes {
		b.Abort(code, reason)
	}
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

type localEndpoint struct {
	world *World
	rank  int
}

func (e *localEndpoint) Rank() int { return e.rank }

func (e *localEndpoint) Size() int { return e.world.size }

func (e *localEndpoint) Send(ctx context.Context, dst int, contextID uint64, tag int, data []float64) error {
	if dst < 0 || dst >= e.world.size {
		return errors.Errorf("transport: send to rank %d outside world of %d", dst, e.world.size)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := make([]float64, len(data))
	copy(msg, data)
	if err := e.world.boxes[dst].Put(contextID, e.rank, tag, msg); err != nil {
		return err
	}
	e.world.mu.Lock()
	e.world.sent[e.rank]++
	e.world.mu.Unlock()
	return nil
}

func (e *localEndpoint) Recv(ctx context.Context, src int, contextID uint64, tag int) ([]float64, error) {
	if src < 0 || src >= e.world.size {
		return nil, errors.Errorf("transport: recv from rank %d outside world of %d", src, e.world.size)
	}
	return e.world.boxes[e.rank].Take(ctx, contextID, src, tag)
}

func (e *localEndpoint) Abort(code int, reason error) {
	msg := "aborted"
	if reason != nil {
		msg = reason.Error()
	}
	e.world.Abort(code, msg)
}

func (e *localEndpoint) Close() error { return nil }
