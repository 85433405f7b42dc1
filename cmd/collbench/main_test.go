package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collbench/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), err
}

func TestRoot_RequiresMessageSize(t *testing.T) {
	_, err := execute(t)
	assert.Error(t, err)

	_, err = execute(t, "1", "2")
	assert.Error(t, err)
}

func TestRoot_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "non-numeric size", args: []string{"many"}},
		{name: "zero size", args: []string{"0"}},
		{name: "unknown strategy", args: []string{"8", "--sync", "ntp"}},
		{name: "bad peers", args: []string{"8", "--peers", "0=a:1,0=b:2"}},
		{name: "unknown op", args: []string{"8", "--local", "2", "--sync", "barrier", "--ops", "nope", "--max-buffer-mb", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestRoot_LocalRun(t *testing.T) {
	if testing.Short() {
		t.Skip("full sampling run")
	}
	out, err := execute(t, "4", "--local", "2", "--sync", "barrier", "--ops", "barrier", "--max-buffer-mb", "1")
	require.NoError(t, err)

	assert.Contains(t, out, "Running on 2 ranks")
	assert.Contains(t, out, "Message size per process in doubles: 4")
	assert.Contains(t, out, "MPI_Barrier: total runs = 400")
	assert.Contains(t, out, "Finished all benchmarks")
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	body := "sync:\n  strategy: dissemination\nlocal: 8\nlog_level: warn\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--local", "2"}))
	var f flags
	f.configPath = path
	f.local = 2

	cfg, err := loadConfig(cmd, f, "32")
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.MessageSize)
	assert.Equal(t, 2, cfg.Local)
	assert.Equal(t, "dissemination", cfg.Sync.Strategy)
	assert.Equal(t, "warn", cfg.LogLevel)

	_, err = loadConfig(cmd, f, "x")
	assert.ErrorIs(t, err, config.ErrInvalid)
}
