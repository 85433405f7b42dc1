package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"collbench/internal/bench"
	"collbench/internal/config"
	"collbench/internal/metrics"
	"collbench/internal/node"
)

// readyTimeout bounds how long a rank waits for its peers to come up.
const readyTimeout = 30 * time.Second

type flags struct {
	configPath  string
	rank        int
	listen      string
	peers       string
	local       int
	sync        string
	ops         []string
	metricsAddr string
	logLevel    string
	maxBufferMB int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "collbench <message-size>",
		Short: "Benchmark collective operations across synchronized ranks",
		Long: `collbench measures the latency of collective communication operations
and the memory cost of communicator lifecycle operations. Every rank starts
each trial at the same globally agreed instant; late starts are discarded.

Ranks run either as goroutines of one process (--local N) or as separate
processes connected over gRPC (--rank, --listen, --peers).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f, args[0])
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return run(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fl.IntVar(&f.rank, "rank", 0, "this process's rank in --peers")
	fl.StringVar(&f.listen, "listen", "", "listen address (defaults to this rank's peer address)")
	fl.StringVar(&f.peers, "peers", "", "comma-separated rank=host:port list of every rank")
	fl.IntVar(&f.local, "local", 0, "run this many ranks inside one process")
	fl.StringVar(&f.sync, "sync", "", "clock sync strategy: barrier, window or dissemination")
	fl.StringSliceVar(&f.ops, "ops", nil, "operations or sets (minimal, all, alt, lifecycle) to run")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fl.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fl.IntVar(&f.maxBufferMB, "max-buffer-mb", 0, "size of each send and receive buffer in MB")
	return cmd
}

// loadConfig layers the file, the positional message size and the flags
// that were set explicitly.
func loadConfig(cmd *cobra.Command, f flags, size string) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}

	n, err := strconv.Atoi(size)
	if err != nil {
		return nil, errors.Wrapf(config.ErrInvalid, "message size %q", size)
	}
	cfg.MessageSize = n

	fl := cmd.Flags()
	if fl.Changed("rank") {
		cfg.Rank = f.rank
	}
	if fl.Changed("listen") {
		cfg.ListenAddr = f.listen
	}
	if fl.Changed("peers") {
		cfg.PeerList = f.peers
	}
	if fl.Changed("local") {
		cfg.Local = f.local
	}
	if fl.Changed("sync") {
		cfg.Sync.Strategy = f.sync
	}
	if fl.Changed("ops") {
		cfg.Ops = f.ops
	}
	if fl.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fl.Changed("max-buffer-mb") {
		cfg.MaxBufferMB = f.maxBufferMB
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	opts := bench.Options{
		Config: cfg,
		Out:    stdout,
		Logger: logger,
	}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts.NewSink = func(runID string) metrics.Sink {
			return metrics.NewPrometheus(reg, runID)
		}
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddr, reg); err != nil {
				logger.Error("metrics server stopped", "err", err)
			}
		}()
	}

	if len(cfg.Peers) == 0 {
		logger.Debug("running in-process", "ranks", cfg.Size())
		_, err := bench.RunLocal(ctx, cfg.Size(), opts)
		return err
	}
	return runNode(ctx, cfg, opts, logger)
}

func runNode(ctx context.Context, cfg *config.Config, opts bench.Options, logger *slog.Logger) error {
	n, err := node.NewNode(cfg.Rank, cfg.Addrs(), logger)
	if err != nil {
		return err
	}
	if err := n.Start(cfg.ListenAddr); err != nil {
		return err
	}
	defer n.Close()

	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	err = n.WaitReady(readyCtx)
	cancel()
	if err != nil {
		return err
	}

	if _, err := bench.Run(ctx, n, opts); err != nil {
		n.Abort(1, err)
		return err
	}
	return nil
}
