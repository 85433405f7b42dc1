package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink receives benchmark outcomes.
type Sink interface {
	// Record stores the headline value of an operation.
	Record(op string, value float64)
	// Discarded counts rounds thrown away while measuring op.
	Discarded(op string, rounds int)
	// Window stores the final synchronization window of op, in µs.
	Window(op string, micros float64)
	// PeakBytes stores the peak tracked memory of the run.
	PeakBytes(bytes uint64)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(string, float64) {}
func (Nop) Discarded(string, int) {}
func (Nop) Window(string, float64) {}
func (Nop) PeakBytes(uint64) {}

// Prometheus is a Sink backed by Prometheus collectors.
type Prometheus struct {
	runID     string
	results   *prometheus.GaugeVec
	discarded *prometheus.CounterVec
	windows   *prometheus.GaugeVec
	peak      *prometheus.GaugeVec
}

// NewPrometheus registers the collectors with reg.
func NewPrometheus(reg prometheus.Registerer, runID string) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		runID: runID,
		results: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collbench_operation_result",
			Help: "Headline value of an operation: median runtime in µs, or mean bytes for lifecycle operations.",
		}, []string{"run_id", "op"}),
		discarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collbench_discarded_rounds_total",
			Help: "Measurement rounds discarded because too many trials started late.",
		}, []string{"run_id", "op"}),
		windows: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collbench_sync_window_microseconds",
			Help: "Synchronization window at the end of an operation's measurement.",
		}, []string{"run_id", "op"}),
		peak: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collbench_tracked_peak_bytes",
			Help: "Peak bytes held by tracked allocations.",
		}, []string{"run_id"}),
	}
}

func (p *Prometheus) Record(op string, value float64) {
	p.results.WithLabelValues(p.runID, op).Set(value)
}

func (p *Prometheus) Discarded(op string, rounds int) {
	p.discarded.WithLabelValues(p.runID, op).Add(float64(rounds))
}

func (p *Prometheus) Window(op string, micros float64) {
	p.windows.WithLabelValues(p.runID, op).Set(micros)
}

func (p *Prometheus) PeakBytes(bytes uint64) {
	p.peak.WithLabelValues(p.runID).Set(float64(bytes))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "metrics server on %s", addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
