package bench

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"collbench/internal/clocksync"
	"collbench/internal/config"
	"collbench/internal/group"
	"collbench/internal/memtrack"
	"collbench/internal/metrics"
	"collbench/internal/mst"
	"collbench/internal/operation"
	"collbench/internal/sampling"
	"collbench/internal/transport"
	"collbench/internal/wallclock"
)

// Options configure a run. Config is required.
type Options struct {
	Config *config.Config
	// Out receives the coordinator's report. Nil discards it.
	Out    io.Writer
	Logger *slog.Logger
	// NewSink builds the metric sink once the run id is agreed. Nil
	// disables metrics.
	NewSink func(runID string) metrics.Sink
	// Clock defaults to wallclock.Default.
	Clock wallclock.Clock
	// Primitive and Lifecycle override the sampling classes.
	Primitive sampling.Class
	Lifecycle sampling.Class
}

// Summary is the coordinator's outcome of a run.
type Summary struct {
	RunID   string
	Ranks   int
	Results []*sampling.Result
	// PeakBytes is the tracked peak minus the harness's own buffers.
	PeakBytes uint64
	// ProcBytes is the growth of the process footprint over the run minus
	// the harness's own buffers.
	ProcBytes uint64
	// Allocations counts the tracked allocations of the run.
	Allocations uint64
	// Model is the fitted cost model, set when tree operations ran on two
	// or more ranks.
	Model *mst.Model
}

const bytesPerMB = 1024 * 1024

type runner struct {
	g       *group.Group
	tracker *memtrack.Tracker
	log     *slog.Logger
	out     io.Writer
	sink    metrics.Sink
	allocs  atomic.Uint64
}

func (r *runner) coordinator() bool { return r.g.Rank() == 0 }

func (r *runner) printf(format string, args ...any) {
	if r.coordinator() {
		fmt.Fprintf(r.out, format+"\n", args...)
	}
}

// Run executes the configured benchmark on ep. Every rank of the world must
// call Run with the same configuration. The summary is returned on rank 0
// and is nil elsewhere.
func Run(ctx context.Context, ep transport.Endpoint, opts Options) (*Summary, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("bench: no configuration")
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	defaultClock := opts.Clock == nil
	if defaultClock {
		opts.Clock = wallclock.Default()
	}

	initialProc := memtrack.ProcMemory()
	tracker := memtrack.New()
	tracker.Install()
	defer tracker.Uninstall()

	r := &runner{
		g:       group.New(ep, group.WithRecorder(tracker)),
		tracker: tracker,
		log:     opts.Logger.With("rank", ep.Rank()),
		out:     opts.Out,
		sink:    metrics.Nop{},
	}
	tracker.SetObserver(func(ev memtrack.Event) {
		if !ev.Freed {
			r.allocs.Add(1)
		}
	})

	ops, err := operation.Build(cfg.Ops, cfg.MessageSize)
	if err != nil {
		return nil, err
	}
	strategy, err := clocksync.ParseStrategy(cfg.Sync.Strategy)
	if err != nil {
		return nil, err
	}
	st := clocksync.NewState(r.g)
	sync, err := clocksync.New(strategy, st, opts.Clock, clocksync.Options{
		NotSmaller: cfg.Sync.NotSmaller,
		BcastReps:  cfg.Sync.BcastReps,
		Logger:     r.log,
	})
	if err != nil {
		return nil, err
	}
	if err := sync.Stage1(ctx); err != nil {
		return nil, errors.Wrap(err, "clock sync stage 1")
	}

	runID, err := r.agreeRunID(ctx)
	if err != nil {
		return nil, err
	}
	r.log = r.log.With("run_id", runID)
	if opts.NewSink != nil && r.coordinator() {
		r.sink = opts.NewSink(runID)
	}
	attrs := []any{"strategy", sync.Name(), "ops", len(ops)}
	if defaultClock {
		cal := wallclock.DefaultCalibration()
		attrs = append(attrs, "clock_source", cal.Source, "clock_hz", cal.Hz)
	}
	r.log.Info("clocks synchronized", attrs...)

	r.printf("Running benchmarks...")
	r.printf("Run id: %s", runID)
	r.printf("Max buffer size in: %d MB", cfg.MaxBufferMB)
	r.printf("Message size per process in doubles: %d", cfg.MessageSize)
	r.printf("Sync strategy: %s", sync.Name())
	r.printf("Running on %d ranks", r.g.Size())
	r.printf("Memory consumption before allocating buffers %d", tracker.Current())

	buffers := operation.NewBuffers(r.g.Rank(), r.g.Size(), cfg.MessageSize, operation.ElemsForMB(cfg.MaxBufferMB))
	buffers.Track(tracker)
	defer buffers.Untrack(tracker)
	r.printf("Memory consumption after allocating buffers %d", tracker.Current())

	ctrl := sampling.New(st, sync, opts.Clock, sampling.Options{
		Primitive:          opts.Primitive,
		Lifecycle:          opts.Lifecycle,
		MaxDiscardedRounds: cfg.Sampling.MaxDiscardedRounds,
		Tracker:            tracker,
		Out:                opts.Out,
		Logger:             r.log,
	})

	summary := &Summary{RunID: runID, Ranks: r.g.Size()}
	for _, op := range ops {
		res, err := r.measure(ctx, ctrl, op, buffers)
		if err != nil {
			return nil, err
		}
		if res != nil {
			summary.Results = append(summary.Results, res)
		}
	}
	if summary.Model, err = r.fitModel(ctx, ctrl, buffers, ops, cfg.MessageSize, summary.Results); err != nil {
		return nil, err
	}

	// Ranks leave together so no peer is torn down mid-exchange.
	if err := r.g.Barrier(ctx); err != nil {
		return nil, errors.Wrap(err, "final barrier")
	}

	overhead := buffers.Bytes()
	summary.PeakBytes = subFloor(tracker.Peak(), overhead)
	summary.ProcBytes = subFloor(subFloor(memtrack.ProcMemory(), initialProc), overhead)
	summary.Allocations = r.allocs.Load()
	r.sink.PeakBytes(summary.PeakBytes)

	r.printf("Finished all benchmarks")
	r.printf("Peak memory consumption (MB): %.6f", float64(summary.PeakBytes)/bytesPerMB)
	r.printf("Process memory consumption (MB): %.6f", float64(summary.ProcBytes)/bytesPerMB)
	r.log.Info("run finished",
		"peak", humanize.IBytes(summary.PeakBytes),
		"process", humanize.IBytes(summary.ProcBytes),
		"allocations", humanize.Comma(int64(summary.Allocations)))

	if !r.coordinator() {
		return nil, nil
	}
	return summary, nil
}

// measure runs one operation over freshly reset buffers.
func (r *runner) measure(ctx context.Context, ctrl *sampling.Controller, op operation.Operation, buffers *operation.Buffers) (*sampling.Result, error) {
	r.printf("Starting benchmark: %s", op.Name())
	buffers.Reset()
	allocs := r.allocs.Load()
	if err := op.Init(r.g, buffers); err != nil {
		return nil, errors.Wrapf(err, "%s: init", op.Name())
	}

	res, err := ctrl.Run(ctx, op)
	if err != nil {
		return nil, errors.Wrap(err, op.Name())
	}
	if n := r.g.Outstanding(); n != 0 {
		r.log.Warn("resources left outstanding", "op", op.Name(), "count", n)
	}
	if res != nil {
		r.sink.Record(op.Name(), res.Value())
		r.sink.Discarded(op.Name(), res.Discarded)
		if len(res.Windows) > 0 {
			r.sink.Window(op.Name(), res.Windows[len(res.Windows)-1])
		}
		r.log.Debug("operation measured",
			"op", op.Name(),
			"result", res.Value(),
			"discarded", res.Discarded,
			"allocations", r.allocs.Load()-allocs,
			"peak", humanize.IBytes(r.tracker.Peak()))
	}
	r.printf("Benchmark: %s finished.", op.Name())
	return res, nil
}

// agreeRunID draws a run id on rank 0 and broadcasts it as two words.
func (r *runner) agreeRunID(ctx context.Context) (string, error) {
	words := make([]float64, 2)
	if r.coordinator() {
		id := uuid.New()
		words[0] = math.Float64frombits(binary.BigEndian.Uint64(id[:8]))
		words[1] = math.Float64frombits(binary.BigEndian.Uint64(id[8:]))
	}
	if err := r.g.Bcast(ctx, words, 0); err != nil {
		return "", errors.Wrap(err, "broadcast run id")
	}
	var raw [16]byte
	binary.BigEndian.PutUint64(raw[:8], math.Float64bits(words[0]))
	binary.BigEndian.PutUint64(raw[8:], math.Float64bits(words[1]))
	id, err := uuid.FromBytes(raw[:])
	if err != nil {
		return "", errors.Wrap(err, "decode run id")
	}
	return id.String(), nil
}

func subFloor(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// RunLocal runs n ranks as goroutines of this process over an in-process
// world and returns the coordinator's summary.
func RunLocal(ctx context.Context, n int, opts Options) (*Summary, error) {
	world := transport.NewWorld(n)
	var summary *Summary
	err := world.Run(ctx, func(ctx context.Context, ep transport.Endpoint) error {
		s, err := Run(ctx, ep, opts)
		if err != nil {
			return err
		}
		if ep.Rank() == 0 {
			summary = s
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}
