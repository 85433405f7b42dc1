package transport

import (
	"context"

	"github.com/pkg/errors"
)

// ErrAborted is returned by every blocked or subsequent operation once the
// group has been aborted.
var ErrAborted = errors.New("transport: group aborted")

// Endpoint is one rank's attachment to the messaging fabric.
type Endpoint interface {
	// Rank returns this endpoint's rank in the world.
	Rank() int
	// Size returns the number of ranks in the world.
	Size() int
	// Send copies data into dst's mailbox. It returns once the message is
	// buffered at the destination, not when it is received.
	Send(ctx context.Context, dst int, contextID uint64, tag int, data []float64) error
	// Recv blocks until a message from src with the given context and tag
	// arrives. Messages from one source with one tag are received in send order.
	Recv(ctx context.Context, src int, contextID uint64, tag int) ([]float64, error)
	// Abort tears down the whole group. Every rank's pending and future
	// operations fail with ErrAborted.
	Abort(code int, reason error)
	// Close releases local resources.
	Close() error
}

// AbortError carries the code and reason passed to Abort.
type AbortError struct {
	Code   int
	Reason string
}

func (e *AbortError) Error() string {
	return "transport: group aborted: " + e.Reason
}

// Cause lets errors.Cause and errors.Is reach ErrAborted.
func (e *AbortError) Cause() error { return ErrAborted }

func (e *AbortError) Unwrap() error { return ErrAborted }
