package config

import (
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"collbench/internal/clocksync"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Peer is one participant of a multi-process run.
type Peer struct {
	Rank int
	Addr string
}

// SyncConfig selects and tunes the clock synchronizer.
type SyncConfig struct {
	Strategy   string `yaml:"strategy" validate:"required,oneof=barrier window dissemination"`
	NotSmaller int    `yaml:"not_smaller" validate:"gte=1"`
	BcastReps  int    `yaml:"bcast_reps" validate:"gte=1"`
}

// SamplingConfig bounds the sampling controller.
type SamplingConfig struct {
	// MaxDiscardedRounds stops an operation after this many discarded
	// rounds. Zero keeps doubling the window forever.
	MaxDiscardedRounds int `yaml:"max_discarded_rounds" validate:"gte=0"`
}

// Config holds the run configuration. File values are overridden by flags.
type Config struct {
	// MessageSize is the element count of every collective.
	MessageSize int `yaml:"message_size" validate:"gte=1"`
	// MaxBufferMB sizes the send and receive buffers so every vector
	// collective fits.
	MaxBufferMB int            `yaml:"max_buffer_mb" validate:"gte=1"`
	Ops         []string       `yaml:"ops" validate:"omitempty,dive,required"`
	Sync        SyncConfig     `yaml:"sync"`
	Sampling    SamplingConfig `yaml:"sampling"`
	LogLevel    string         `yaml:"log_level" validate:"oneof=debug info warn error"`
	MetricsAddr string         `yaml:"metrics_addr" validate:"omitempty,hostname_port"`

	// Rank, ListenAddr and Peers describe a multi-process run.
	Rank       int    `yaml:"rank" validate:"gte=0"`
	ListenAddr string `yaml:"listen" validate:"omitempty,hostname_port"`
	Peers      []Peer `yaml:"-"`
	PeerList   string `yaml:"peers"`
	// Local runs this many ranks in one process instead.
	Local int `yaml:"local" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MessageSize: 1,
		MaxBufferMB: 64,
		Sync: SyncConfig{
			Strategy:   string(clocksync.StrategyWindow),
			NotSmaller: 100,
			BcastReps:  10,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML file over the defaults. Validation is left to the
// caller so flags can be applied first.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and the consistency of the run mode,
// parsing PeerList into Peers.
func (c *Config) Validate() error {
	c.Sync.Strategy = strings.ToLower(strings.TrimSpace(c.Sync.Strategy))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	if c.PeerList != "" {
		peers, err := ParsePeers(c.PeerList)
		if err != nil {
			return errors.Wrap(ErrInvalid, err.Error())
		}
		c.Peers = peers
	}
	if c.Local > 0 {
		if len(c.Peers) > 0 {
			return errors.Wrap(ErrInvalid, "local and peers are mutually exclusive")
		}
		return nil
	}
	if len(c.Peers) == 0 {
		return nil
	}
	if c.Rank >= len(c.Peers) {
		return errors.Wrapf(ErrInvalid, "rank %d outside %d peers", c.Rank, len(c.Peers))
	}
	if c.ListenAddr == "" {
		c.ListenAddr = c.Peers[c.Rank].Addr
	}
	return nil
}

// Size is the number of ranks the configuration describes.
func (c *Config) Size() int {
	switch {
	case c.Local > 0:
		return c.Local
	case len(c.Peers) > 0:
		return len(c.Peers)
	default:
		return 1
	}
}

// Addrs returns peer addresses indexed by rank.
func (c *Config) Addrs() []string {
	addrs := make([]string, len(c.Peers))
	for _, p := range c.Peers {
		addrs[p.Rank] = p.Addr
	}
	return addrs
}

// SlogLevel maps LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ParsePeers parses a comma-separated list of rank=addr pairs.
// Format: "0=host1:port1,1=host2:port2". Ranks must be exactly 0..n-1.
func ParsePeers(peersStr string) ([]Peer, error) {
	if strings.TrimSpace(peersStr) == "" {
		return nil, nil
	}

	var peers []Peer
	seen := make(map[int]bool)
	for _, pair := range strings.Split(peersStr, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			return nil, errors.Errorf("invalid peer format: %s (expected rank=addr)", pair)
		}
		id := strings.TrimSpace(parts[0])
		addr := strings.TrimSpace(parts[1])
		if id == "" || addr == "" {
			return nil, errors.Errorf("invalid peer format: %s (empty rank or addr)", pair)
		}
		rank, err := strconv.Atoi(id)
		if err != nil || rank < 0 {
			return nil, errors.Errorf("invalid peer rank: %s", id)
		}
		if seen[rank] {
			return nil, errors.Errorf("duplicate peer rank: %d", rank)
		}
		seen[rank] = true
		peers = append(peers, Peer{Rank: rank, Addr: addr})
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].Rank < peers[j].Rank })
	for i, p := range peers {
		if p.Rank != i {
			return nil, errors.Errorf("peer ranks must be 0..%d, missing %d", len(peers)-1, i)
		}
	}
	return peers, nil
}
