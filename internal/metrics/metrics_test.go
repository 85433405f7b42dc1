package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "run-1")

	p.Record("MPI_Bcast", 12.5)
	p.Record("MPI_Bcast", 13)
	p.Discarded("MPI_Bcast", 2)
	p.Discarded("MPI_Bcast", 1)
	p.Window("MPI_Bcast", 400)
	p.PeakBytes(4096)

	assert.Equal(t, 13.0, testutil.ToFloat64(p.results.WithLabelValues("run-1", "MPI_Bcast")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.discarded.WithLabelValues("run-1", "MPI_Bcast")))
	assert.Equal(t, 400.0, testutil.ToFloat64(p.windows.WithLabelValues("run-1", "MPI_Bcast")))
	assert.Equal(t, 4096.0, testutil.ToFloat64(p.peak.WithLabelValues("run-1")))
}

func TestHandler_ExposesResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheus(reg, "abc").Record("MPI_Comm_dup", 64)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `collbench_operation_result{op="MPI_Comm_dup",run_id="abc"} 64`)
}

func TestNop(t *testing.T) {
	var s Sink = Nop{}
	s.Record("x", 1)
	s.Discarded("x", 1)
	s.Window("x", 1)
	s.PeakBytes(1)
}
