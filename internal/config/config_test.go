package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Peer
		wantErr bool
	}{
		{
			name:  "empty string",
			input: "",
			want:  nil,
		},
		{
			name:  "single peer",
			input: "0=127.0.0.1:50051",
			want: []Peer{
				{Rank: 0, Addr: "127.0.0.1:50051"},
			},
		},
		{
			name:  "multiple peers",
			input: "0=127.0.0.1:50051,1=127.0.0.1:50052,2=127.0.0.1:50053",
			want: []Peer{
				{Rank: 0, Addr: "127.0.0.1:50051"},
				{Rank: 1, Addr: "127.0.0.1:50052"},
				{Rank: 2, Addr: "127.0.0.1:50053"},
			},
		},
		{
			name:  "out of order",
			input: "1=127.0.0.1:50052,0=127.0.0.1:50051",
			want: []Peer{
				{Rank: 0, Addr: "127.0.0.1:50051"},
				{Rank: 1, Addr: "127.0.0.1:50052"},
			},
		},
		{
			name:  "with spaces",
			input: "0 = 127.0.0.1:50051 , 1 = 127.0.0.1:50052",
			want: []Peer{
				{Rank: 0, Addr: "127.0.0.1:50051"},
				{Rank: 1, Addr: "127.0.0.1:50052"},
			},
		},
		{name: "no equals", input: "0127.0.0.1:50051", wantErr: true},
		{name: "empty rank", input: "=127.0.0.1:50051", wantErr: true},
		{name: "empty addr", input: "0=", wantErr: true},
		{name: "non-numeric rank", input: "n1=127.0.0.1:50051", wantErr: true},
		{name: "duplicate rank", input: "0=a:1,0=b:2", wantErr: true},
		{name: "gap in ranks", input: "0=a:1,2=b:2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePeers(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	body := `
message_size: 1024
ops: [bcast, allgather]
sync:
  strategy: Barrier
sampling:
  max_discarded_rounds: 8
log_level: debug
local: 4
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1024, cfg.MessageSize)
	assert.Equal(t, []string{"bcast", "allgather"}, cfg.Ops)
	assert.Equal(t, "barrier", cfg.Sync.Strategy)
	// Unset keys keep their defaults.
	assert.Equal(t, 100, cfg.Sync.NotSmaller)
	assert.Equal(t, 64, cfg.MaxBufferMB)
	assert.Equal(t, 8, cfg.Sampling.MaxDiscardedRounds)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, 4, cfg.Size())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("message_size: [1"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero message size", mutate: func(c *Config) { c.MessageSize = 0 }, wantErr: true},
		{name: "unknown strategy", mutate: func(c *Config) { c.Sync.Strategy = "ntp" }, wantErr: true},
		{name: "negative discard bound", mutate: func(c *Config) { c.Sampling.MaxDiscardedRounds = -1 }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: true},
		{name: "bad metrics addr", mutate: func(c *Config) { c.MetricsAddr = "nope" }, wantErr: true},
		{
			name: "rank outside peers",
			mutate: func(c *Config) {
				c.PeerList = "0=127.0.0.1:1,1=127.0.0.1:2"
				c.Rank = 2
			},
			wantErr: true,
		},
		{
			name: "local with peers",
			mutate: func(c *Config) {
				c.PeerList = "0=127.0.0.1:1"
				c.Local = 2
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidate_ListenDefaultsToOwnPeer(t *testing.T) {
	cfg := Default()
	cfg.PeerList = "0=127.0.0.1:7000,1=127.0.0.1:7001"
	cfg.Rank = 1
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:7001", cfg.ListenAddr)
	assert.Equal(t, 2, cfg.Size())
	assert.Equal(t, []string{"127.0.0.1:7000", "127.0.0.1:7001"}, cfg.Addrs())
}
