package sampling

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/pkg/errors"

	"collbench/internal/clocksync"
	"collbench/internal/group"
	"collbench/internal/memtrack"
	"collbench/internal/operation"
	"collbench/internal/wallclock"
)

// ErrSyncUnstable is returned when more rounds were discarded than allowed
// by Options.MaxDiscardedRounds.
var ErrSyncUnstable = errors.New("sampling: too many discarded rounds")

// Class fixes the iteration counts for a family of operations.
type Class struct {
	Name   string
	Warmup int
	Round  int
	Total  int
}

var (
	// PrimitiveClass is used for collectives, direct and tree-based.
	PrimitiveClass = Class{Name: "primitive", Warmup: 10, Round: 20, Total: 400}
	// LifecycleClass is used for resource create/free operations.
	LifecycleClass = Class{Name: "lifecycle", Warmup: 1, Round: 5, Total: 10}
)

const (
	maxInvalidShare = 0.25
	minValid        = 4
)

// Options configure a Controller. Zero values select the defaults.
type Options struct {
	Primitive Class
	Lifecycle Class
	// MaxDiscardedRounds bounds the discarded rounds of one Run; zero means
	// unbounded.
	MaxDiscardedRounds int
	// Tracker measures the memory of lifecycle operations. Nil disables
	// memory sampling.
	Tracker *memtrack.Tracker
	// Out receives the coordinator's report lines.
	Out    io.Writer
	Logger *slog.Logger
}

// Result is the coordinator's outcome of one Run.
type Result struct {
	Name  string
	Class Class
	Stats
	// Memory holds the per-trial memory samples in bytes, for lifecycle
	// operations measured with a tracker.
	Memory *Stats
	// Windows is the window, in microseconds, of every round in order,
	// discarded rounds included.
	Windows   []float64
	Discarded int
}

// Value is the operation's headline number: the median runtime, or the
// mean memory for lifecycle operations measured with a tracker.
func (r *Result) Value() float64 {
	if r.Memory != nil {
		return r.Memory.Mean
	}
	return r.Median
}

// Controller runs operations under a synchronizer.
type Controller struct {
	st    *clocksync.State
	sync  clocksync.Synchronizer
	clock wallclock.Clock
	opts  Options
}

// New returns a controller. st.Group is the group measured over.
func New(st *clocksync.State, sync clocksync.Synchronizer, clock wallclock.Clock, opts Options) *Controller {
	if opts.Primitive.Total == 0 {
		opts.Primitive = PrimitiveClass
	}
	if opts.Lifecycle.Total == 0 {
		opts.Lifecycle = LifecycleClass
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{st: st, sync: sync, clock: clock, opts: opts}
}

// ClassOf returns the class an operation is measured with.
func (c *Controller) ClassOf(op operation.Operation) Class {
	if op.Kind() == operation.KindLifecycle {
		return c.opts.Lifecycle
	}
	return c.opts.Primitive
}

func (c *Controller) coordinator() bool { return c.st.Group.Rank() == 0 }

func (c *Controller) printf(format string, args ...any) {
	if c.coordinator() {
		fmt.Fprintf(c.opts.Out, format+"\n", args...)
	}
}

// trial runs op once and returns the elapsed microseconds per internal
// repetition and the local memory peak per repetition, if tracked.
func (c *Controller) trial(ctx context.Context, op operation.Operation, tracker *memtrack.Tracker) (float64, float64, error) {
	if tracker != nil {
		tracker.StartLocalPeak()
	}
	start := c.clock.Now()
	n, err := op.Run(ctx)
	end := c.clock.Now()
	if err != nil {
		return 0, 0, err
	}
	if n <= 0 {
		n = 1
	}
	var mem float64
	if tracker != nil {
		mem = float64(tracker.LocalPeak())
	}
	return (end - start) * 1e6 / float64(n), mem / float64(n), nil
}

// Run measures op. It returns the result on the coordinator and nil on
// every other rank; op's result is set on the coordinator as well.
func (c *Controller) Run(ctx context.Context, op operation.Operation) (*Result, error) {
	g := c.st.Group
	class := c.ClassOf(op)
	log := c.opts.Logger.With("op", op.Name(), "class", class.Name)

	var tracker *memtrack.Tracker
	if op.Kind() == operation.KindLifecycle {
		tracker = c.opts.Tracker
	}

	if err := c.warmup(ctx, op, class); err != nil {
		return nil, err
	}

	times := make([]float64, class.Round)
	mems := make([]float64, class.Round)
	errs := make([]float64, class.Round)
	maxErrs := make([]float64, class.Round)
	samples := make([]float64, class.Total)
	memSamples := make([]float64, class.Total)

	res := &Result{Name: op.Name(), Class: class}
	total := 0
	for total < class.Total {
		c.printf("%s: starting new round; valid runs = %d, window = %.6f, est. time = %.6f",
			op.Name(), total, c.st.Window, c.st.EstTime)
		if err := c.sync.Stage2(ctx, c.st); err != nil {
			return nil, errors.Wrap(err, "stage 2")
		}
		res.Windows = append(res.Windows, c.st.Window)

		for i := 0; i < class.Round; i++ {
			late, err := c.sync.Sync(ctx)
			if err != nil {
				return nil, errors.Wrap(err, "sync")
			}
			errs[i] = late
			if times[i], mems[i], err = c.trial(ctx, op, tracker); err != nil {
				return nil, errors.Wrapf(err, "%s: trial", op.Name())
			}
		}

		if err := g.Allreduce(ctx, errs, maxErrs, group.Max); err != nil {
			return nil, errors.Wrap(err, "reduce sync errors")
		}
		valid := Compact(maxErrs, times, mems)
		invalid := class.Round - valid
		if float64(invalid) > maxInvalidShare*float64(class.Round) || valid < minValid {
			res.Discarded++
			c.st.Window *= 2
			log.Debug("round discarded", "invalid", invalid, "window", c.st.Window)
			if limit := c.opts.MaxDiscardedRounds; limit > 0 && res.Discarded > limit {
				return nil, errors.Wrapf(ErrSyncUnstable, "%s: %d rounds discarded", op.Name(), res.Discarded)
			}
			continue
		}

		valid = min(valid, class.Total-total)
		if err := g.Reduce(ctx, times[:valid], samples[total:total+valid], group.Max, 0); err != nil {
			return nil, errors.Wrap(err, "reduce times")
		}
		if tracker != nil {
			if err := g.Reduce(ctx, mems[:valid], memSamples[total:total+valid], group.Max, 0); err != nil {
				return nil, errors.Wrap(err, "reduce memory")
			}
		}
		total += valid
		log.Debug("round kept", "valid", valid, "total", total)
	}

	if !c.coordinator() {
		return nil, nil
	}
	res.Stats = Summarize(samples)
	if tracker != nil {
		mem := Summarize(memSamples)
		res.Memory = &mem
	}
	op.SetResult(res.Value())
	c.report(res)
	return res, nil
}

// warmup runs the untimed-for-results trials and sets the estimated trial
// time to the slowest rank's mean.
func (c *Controller) warmup(ctx context.Context, op operation.Operation, class Class) error {
	g := c.st.Group
	var sum float64
	for i := 0; i < class.Warmup; i++ {
		if err := g.Barrier(ctx); err != nil {
			return errors.Wrap(err, "warmup barrier")
		}
		elapsed, _, err := c.trial(ctx, op, nil)
		if err != nil {
			return errors.Wrapf(err, "%s: warmup", op.Name())
		}
		sum += elapsed
	}
	mean := 0.0
	if class.Warmup > 0 {
		mean = sum / float64(class.Warmup)
	}
	est, err := g.AllreduceMax(ctx, mean)
	if err != nil {
		return errors.Wrap(err, "reduce warmup")
	}
	c.st.EstTime = est
	return nil
}

func (c *Controller) report(r *Result) {
	name := r.Name
	c.printf("%s: total runs = %d", name, len(r.Samples))
	c.printf("%s: average runtime = %.6f", name, r.Mean)
	if r.Memory != nil {
		c.printf("%s: average mem consump = %.6f", name, r.Memory.Mean)
		c.printf("%s: median runtime = %.6f", name, r.Median)
		c.printf("%s: median mem consump = %.6f", name, r.Memory.Median)
	} else {
		c.printf("%s: median = %.6f", name, r.Median)
	}
	c.printf("%s: sum = %.6f", name, r.Sum)
	c.printf("%s: sum of squares = %.6f", name, r.SumSquares)
	for i, v := range r.Samples {
		c.printf("%s: v: %.6f", name, v)
		if r.Memory != nil {
			c.printf("%s: memv: %.6f", name, r.Memory.Samples[i])
		}
	}
}
