package it

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Cluster is a set of collbench processes forming one run.
type Cluster struct {
	binaryPath string
	logDir     string

	mu    sync.Mutex
	ranks []*Rank
}

// Rank is one collbench process of the cluster.
type Rank struct {
	ID      int
	Addr    string
	cmd     *exec.Cmd
	outPath string
	logPath string
	outFile *os.File
	logFile *os.File
}

// NewCluster creates a new test cluster harness.
func NewCluster(binaryPath string) (*Cluster, error) {
	if _, err := os.Stat(binaryPath); err != nil {
		return nil, errors.Wrapf(err, "binary not found at %s, build it first with 'go build -o collbench ./cmd/collbench'", binaryPath)
	}
	logDir := filepath.Join(".local", "it-logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create log directory")
	}
	return &Cluster{binaryPath: binaryPath, logDir: logDir}, nil
}

// freeAddrs reserves n loopback ports. The ports are released before the
// processes bind them, so another process could take one in between.
func freeAddrs(n int) ([]string, error) {
	addrs := make([]string, n)
	for i := range addrs {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, err
		}
		addrs[i] = lis.Addr().String()
		lis.Close()
	}
	return addrs, nil
}

// Start launches size ranks benchmarking messageSize elements, passing args
// to every process.
func (c *Cluster) Start(ctx context.Context, size, messageSize int, args ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	addrs, err := freeAddrs(size)
	if err != nil {
		return errors.Wrap(err, "reserve ports")
	}
	peers := make([]string, size)
	for i, addr := range addrs {
		peers[i] = fmt.Sprintf("%d=%s", i, addr)
	}
	peerStr := strings.Join(peers, ",")

	for i := 0; i < size; i++ {
		r := &Rank{
			ID:      i,
			Addr:    addrs[i],
			outPath: filepath.Join(c.logDir, fmt.Sprintf("rank%d.out", i)),
			logPath: filepath.Join(c.logDir, fmt.Sprintf("rank%d.log", i)),
		}
		if r.outFile, err = os.Create(r.outPath); err != nil {
			c.stopLocked()
			return errors.Wrap(err, "failed to create output file")
		}
		if r.logFile, err = os.Create(r.logPath); err != nil {
			r.outFile.Close()
			c.stopLocked()
			return errors.Wrap(err, "failed to create log file")
		}

		cmdArgs := append([]string{
			fmt.Sprintf("%d", messageSize),
			"--rank", fmt.Sprintf("%d", i),
			"--listen", addrs[i],
			"--peers", peerStr,
		}, args...)
		r.cmd = exec.CommandContext(ctx, c.binaryPath, cmdArgs...)
		r.cmd.Stdout = r.outFile
		r.cmd.Stderr = r.logFile

		if err := r.cmd.Start(); err != nil {
			r.close()
			c.stopLocked()
			return errors.Wrapf(err, "failed to start rank %d", i)
		}
		c.ranks = append(c.ranks, r)
	}
	return nil
}

// Wait waits for every rank to exit and returns the first failure.
func (c *Cluster) Wait() error {
	c.mu.Lock()
	ranks := append([]*Rank(nil), c.ranks...)
	c.mu.Unlock()

	var g errgroup.Group
	for _, r := range ranks {
		g.Go(func() error {
			defer r.close()
			if err := r.cmd.Wait(); err != nil {
				return errors.Wrapf(err, "rank %d", r.ID)
			}
			return nil
		})
	}
	return g.Wait()
}

// Output returns what a rank wrote to stdout so far.
func (c *Cluster) Output(rank int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rank < 0 || rank >= len(c.ranks) {
		return "", errors.Errorf("rank %d not found", rank)
	}
	b, err := os.ReadFile(c.ranks[rank].outPath)
	return string(b), err
}

// Kill kills a specific rank.
func (c *Cluster) Kill(rank int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rank < 0 || rank >= len(c.ranks) {
		return errors.Errorf("rank %d not found", rank)
	}
	r := c.ranks[rank]
	if r.cmd != nil && r.cmd.Process != nil {
		if err := r.cmd.Process.Kill(); err != nil {
			return errors.Wrapf(err, "failed to kill rank %d", rank)
		}
	}
	return nil
}

// Stop kills every rank that is still running.
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Cluster) stopLocked() {
	for _, r := range c.ranks {
		if r.cmd != nil && r.cmd.Process != nil && r.cmd.ProcessState == nil {
			r.cmd.Process.Kill()
		}
	}
	c.ranks = nil
}

func (r *Rank) close() {
	if r.outFile != nil {
		r.outFile.Close()
	}
	if r.logFile != nil {
		r.logFile.Close()
	}
}
