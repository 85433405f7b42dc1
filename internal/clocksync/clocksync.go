package clocksync

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"collbench/internal/group"
	"collbench/internal/wallclock"
)

// ErrNotPowerOfTwo is returned, after the group has been aborted, when the
// window strategy is used on a group whose size is not a power of two.
var ErrNotPowerOfTwo = errors.New("clocksync: group size must be a power of two")

// ErrUnknownStrategy is returned by New for an unrecognized strategy name.
var ErrUnknownStrategy = errors.New("clocksync: unknown strategy")

// State is the per-run synchronization state shared by the synchronizer
// and the sampling controller.
type State struct {
	Group *group.Group
	// EstTime is the estimated duration of one trial, in microseconds.
	EstTime float64
	// Window is the spacing between trial start instants, in microseconds.
	// It only grows within a run.
	Window float64
	// Offset is rank 0's clock minus the local clock, in seconds.
	Offset float64
	// Next is the local-clock instant at which the next trial starts.
	Next float64
}

// NewState returns a zeroed state for g.
func NewState(g *group.Group) *State {
	return &State{Group: g}
}

// Reset zeroes everything but the group.
func (s *State) Reset() {
	*s = State{Group: s.Group}
}

// Synchronizer aligns the start of trials across a group.
type Synchronizer interface {
	// Stage1 runs once per group before any measurement.
	Stage1(ctx context.Context) error
	// Stage2 runs before every measurement round.
	Stage2(ctx context.Context, st *State) error
	// Sync returns when the next trial may start. The result is how late,
	// in seconds, the caller was for its target instant.
	Sync(ctx context.Context) (float64, error)
	Name() string
}

// Strategy names a Synchronizer implementation.
type Strategy string

const (
	StrategyBarrier       Strategy = "barrier"
	StrategyWindow        Strategy = "window"
	StrategyDissemination Strategy = "dissemination"
)

// Strategies lists the accepted strategy names.
func Strategies() []Strategy {
	return []Strategy{StrategyBarrier, StrategyWindow, StrategyDissemination}
}

// ParseStrategy converts a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies() {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownStrategy, "%q", s)
}

// Options tune the window strategy.
type Options struct {
	// NotSmaller is how many consecutive round trips that fail to improve
	// on the best one end an offset measurement. Zero means 100.
	NotSmaller int
	// BcastReps is how many broadcasts Stage2 times. Zero means 10.
	BcastReps int
	Logger    *slog.Logger
}

const (
	defaultNotSmaller = 100
	defaultBcastReps  = 10
	// windowFactor scales the estimated trial time into a window.
	windowFactor = 1.25
)

// New builds the synchronizer for strategy over st.
func New(strategy Strategy, st *State, clock wallclock.Clock, opts Options) (Synchronizer, error) {
	if opts.NotSmaller <= 0 {
		opts.NotSmaller = defaultNotSmaller
	}
	if opts.BcastReps <= 0 {
		opts.BcastReps = defaultBcastReps
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch strategy {
	case StrategyBarrier:
		return &Barrier{st: st}, nil
	case StrategyDissemination:
		return &Dissemination{st: st}, nil
	case StrategyWindow:
		return &Window{st: st, clock: clock, opts: opts}, nil
	}
	return nil, errors.Wrapf(ErrUnknownStrategy, "%q", strategy)
}

// Barrier synchronizes with a collective barrier.
type Barrier struct {
	st *State
}

func (b *Barrier) Name() string { return string(StrategyBarrier) }

func (b *Barrier) Stage1(context.Context) error { return nil }

func (b *Barrier) Stage2(_ context.Context, st *State) error {
	b.st = st
	return nil
}

func (b *Barrier) Sync(ctx context.Context) (float64, error) {
	return 0, b.st.Group.Barrier(ctx)
}

// Dissemination synchronizes with ceil(log2 P) rounds of empty messages:
// in round k each rank sends to rank+2^k and receives from rank-2^k.
type Dissemination struct {
	st *State
}

const tagDissemination = group.MaxUserTag

func (d *Dissemination) Name() string { return string(StrategyDissemination) }

func (d *Dissemination) Stage1(context.Context) error { return nil }

func (d *Dissemination) Stage2(_ context.Context, st *State) error {
	d.st = st
	return nil
}

func (d *Dissemination) Sync(ctx context.Context) (float64, error) {
	g := d.st.Group
	p, r := g.Size(), g.Rank()
	var none [0]float64
	for k := 1; k < p; k <<= 1 {
		if err := g.Send(ctx, (r+k)%p, tagDissemination, nil); err != nil {
			return 0, errors.Wrap(err, "dissemination")
		}
		if _, err := g.Recv(ctx, (r-k+p)%p, tagDissemination, none[:]); err != nil {
			return 0, errors.Wrap(err, "dissemination")
		}
	}
	return 0, nil
}
