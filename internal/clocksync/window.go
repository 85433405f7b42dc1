package clocksync

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"collbench/internal/group"
	"collbench/internal/wallclock"
)

const (
	tagProbe = group.MaxUserTag - 1
	tagDiffs = group.MaxUserTag - 2
)

// probe messages carry {flag, timestamp}; flag 0 ends the exchange.
const (
	probeStop = 0
	probeGo   = 1
)

// Window releases trials at evenly spaced instants on a clock shared with
// rank 0.
type Window struct {
	st    *State
	clock wallclock.Clock
	opts  Options
}

func (w *Window) Name() string { return string(StrategyWindow) }

// Stage1 measures every rank's clock offset to rank 0 over a butterfly of
// ceil(log2 P) rounds and resets the window.
func (w *Window) Stage1(ctx context.Context) error {
	g := w.st.Group
	p, r := g.Size(), g.Rank()
	if !IsPowerOfTwo(p) {
		g.Abort(1, errors.Wrapf(ErrNotPowerOfTwo, "%d ranks", p))
		return errors.Wrapf(ErrNotPowerOfTwo, "%d ranks", p)
	}

	diffs := make([]float64, p)
	for dist, round := 1, 1; dist < p; dist, round = dist<<1, round+1 {
		role, peer := RoleOf(r, dist, p)
		items := (1 << (round - 1)) - 1
		switch role {
		case Client:
			diff, n, err := w.measure(ctx, peer)
			if err != nil {
				return errors.Wrapf(err, "round %d: measure offset to %d", round, peer)
			}
			w.opts.Logger.Debug("offset measured", "rank", r, "peer", peer, "round", round, "probes", n, "diff", diff)
			diffs[peer] = diff
			if items > 0 {
				known := make([]float64, items)
				if _, err := g.Recv(ctx, peer, tagDiffs, known); err != nil {
					return errors.Wrapf(err, "round %d: receive offsets", round)
				}
				MergeOffsets(diffs, peer, known)
			}
		case Server:
			if err := w.serve(ctx, peer); err != nil {
				return errors.Wrapf(err, "round %d: serve %d", round, peer)
			}
			if items > 0 {
				if err := g.Send(ctx, peer, tagDiffs, diffs[r+1:r+1+items]); err != nil {
					return errors.Wrapf(err, "round %d: send offsets", round)
				}
			}
		}
	}

	off := make([]float64, 1)
	if err := g.Scatter(ctx, diffs, off, 1, 0); err != nil {
		return errors.Wrap(err, "scatter offsets")
	}
	w.st.Offset = off[0]
	w.st.Window = 0
	return nil
}

// measure ping-pongs with the server at peer until the best round trip
// stops improving, then returns the offset taken at the best round trip
// and the number of probes used.
func (w *Window) measure(ctx context.Context, peer int) (float64, int, error) {
	g := w.st.Group
	est := NewEstimator(w.opts.NotSmaller)
	reply := make([]float64, 1)
	for {
		start := w.clock.Now()
		if err := g.Send(ctx, peer, tagProbe, []float64{probeGo, start}); err != nil {
			return 0, est.Probes(), err
		}
		if _, err := g.Recv(ctx, peer, tagProbe, reply); err != nil {
			return 0, est.Probes(), err
		}
		end := w.clock.Now()
		if est.Observe(Probe{Send: start, Remote: reply[0], Recv: end}) {
			break
		}
	}
	if err := g.Send(ctx, peer, tagProbe, []float64{probeStop, 0}); err != nil {
		return 0, est.Probes(), err
	}
	return est.Offset(), est.Probes(), nil
}

// serve answers probes from the client at peer with the local time until
// the client signals the end.
func (w *Window) serve(ctx context.Context, peer int) error {
	g := w.st.Group
	msg := make([]float64, 2)
	for {
		if _, err := g.Recv(ctx, peer, tagProbe, msg); err != nil {
			return err
		}
		if msg[0] == probeStop {
			return nil
		}
		if err := g.Send(ctx, peer, tagProbe, []float64{w.clock.Now()}); err != nil {
			return err
		}
	}
}

// Stage2 widens the window to cover the estimated trial time, then agrees
// on the first start instant: rank 0 picks its current time plus the time
// a broadcast takes, and every rank converts it to its own clock.
func (w *Window) Stage2(ctx context.Context, st *State) error {
	w.st = st
	g := st.Group

	st.Window = math.Max(st.Window, st.EstTime*windowFactor)
	win := []float64{st.Window}
	if err := g.Bcast(ctx, win, 0); err != nil {
		return errors.Wrap(err, "bcast window")
	}
	st.Window = win[0]

	next := []float64{st.Next}
	start := w.clock.Now()
	for i := 0; i < w.opts.BcastReps; i++ {
		if err := g.Bcast(ctx, next, 0); err != nil {
			return errors.Wrap(err, "time bcast")
		}
	}
	elapsed := []float64{w.clock.Now() - start}
	bcastTime := make([]float64, 1)
	if err := g.Reduce(ctx, elapsed, bcastTime, group.Max, 0); err != nil {
		return errors.Wrap(err, "reduce bcast time")
	}

	next[0] = w.clock.Now() + bcastTime[0]
	if err := g.Bcast(ctx, next, 0); err != nil {
		return errors.Wrap(err, "bcast start")
	}
	st.Next = next[0] - st.Offset
	return nil
}

// Sync waits at a barrier, then spins until Next. If Next has already
// passed it returns how late the caller is. Next then advances by one
// window.
func (w *Window) Sync(ctx context.Context) (float64, error) {
	if err := w.st.Group.Barrier(ctx); err != nil {
		return 0, errors.Wrap(err, "sync barrier")
	}
	var late float64
	if now := w.clock.Now(); now > w.st.Next {
		late = now - w.st.Next
	} else {
		wallclock.Spin(w.clock, w.st.Next)
	}
	w.st.Next += w.st.Window / 1e6
	return late, nil
}
