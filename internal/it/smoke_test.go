package it

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const binaryPath = "./collbench"

func newCluster(t *testing.T) *Cluster {
	t.Helper()
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		t.Skip("Binary not found, skipping integration test. Build with: go build -o internal/it/collbench ./cmd/collbench")
	}
	cluster, err := NewCluster(binaryPath)
	require.NoError(t, err)
	t.Cleanup(cluster.Stop)
	return cluster
}

func TestSmoke_FourRanksWindowSync(t *testing.T) {
	cluster := newCluster(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	require.NoError(t, cluster.Start(ctx, 4, 64, "--sync", "window", "--ops", "bcast,comm_dup", "--max-buffer-mb", "1"))
	require.NoError(t, cluster.Wait(), "every rank should exit cleanly")

	out, err := cluster.Output(0)
	require.NoError(t, err)
	assert.Contains(t, out, "Running on 4 ranks")
	assert.Contains(t, out, "MPI_Bcast: total runs = 400")
	assert.Contains(t, out, "MPI_Comm_dup: total runs = 10")
	assert.Contains(t, out, "Finished all benchmarks")
	assert.Equal(t, 400, strings.Count(out, "MPI_Bcast: v: "))

	// Only the coordinator reports.
	for rank := 1; rank < 4; rank++ {
		other, err := cluster.Output(rank)
		require.NoError(t, err)
		assert.Empty(t, other)
	}
}

func TestSmoke_NonPowerOfTwoAborts(t *testing.T) {
	cluster := newCluster(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	require.NoError(t, cluster.Start(ctx, 3, 8, "--sync", "window", "--max-buffer-mb", "1"))
	assert.Error(t, cluster.Wait())

	out, err := cluster.Output(0)
	require.NoError(t, err)
	assert.NotContains(t, out, "Finished all benchmarks")
}

func TestSmoke_KilledRankAbortsRun(t *testing.T) {
	cluster := newCluster(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	require.NoError(t, cluster.Start(ctx, 4, 1024, "--sync", "barrier", "--ops", "all", "--max-buffer-mb", "1"))
	time.Sleep(2 * time.Second)
	require.NoError(t, cluster.Kill(3))

	assert.Error(t, cluster.Wait())
	require.NoError(t, ctx.Err(), "surviving ranks should exit before the deadline")
}
