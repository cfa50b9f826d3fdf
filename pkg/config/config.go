// Package config loads the node configuration from a TOML file.
package config

import (
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	logging "github.com/ZentaChain/marp-node/pkg/log"
	"github.com/ZentaChain/marp-node/pkg/protocol"
)

// Duration decodes TOML strings such as "3s" or "1h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type NodeConfig struct {
	Listen       string   `toml:"listen"` // UDP host:port
	DataDir      string   `toml:"data_dir"`
	Workers      int      `toml:"workers"` // concurrent frame handlers
	Timeout      Duration `toml:"timeout"` // per peer exchange
	RecurseDepth uint8    `toml:"recurse_depth"`
}

type P2PConfig struct {
	Enabled      bool     `toml:"enabled"`
	Listen       []string `toml:"listen"`
	Bootstrap    []string `toml:"bootstrap"`
	IdentityFile string   `toml:"identity_file"`
	NAT          bool     `toml:"nat"`
}

type APIConfig struct {
	Enabled   bool   `toml:"enabled"`
	Listen    string `toml:"listen"`
	RateLimit int    `toml:"rate_limit"` // requests per minute per client, 0 disables
	Debug     bool   `toml:"debug"`
}

type CacheConfig struct {
	Size   int      `toml:"size"`
	MaxTTL Duration `toml:"max_ttl"`
}

type AuthorityConfig struct {
	KeyFile string   `toml:"key_file"` // signs published responses when set
	Trusted []string `toml:"trusted"`  // hex public keys
}

type PeerConfig struct {
	Address string `toml:"address"` // host:port or /ip4/.../p2p/<id>
}

type Config struct {
	Node      NodeConfig      `toml:"node"`
	P2P       P2PConfig       `toml:"p2p"`
	API       APIConfig       `toml:"api"`
	Cache     CacheConfig     `toml:"cache"`
	Authority AuthorityConfig `toml:"authority"`
	Log       logging.Config  `toml:"log"`
	Peers     []PeerConfig    `toml:"peers"`
}

func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Listen:       "0.0.0.0:5380",
			DataDir:      "./data",
			Workers:      64,
			Timeout:      Duration{3 * time.Second},
			RecurseDepth: 2,
		},
		P2P: P2PConfig{
			Listen: []string{"/ip4/0.0.0.0/tcp/5381"},
		},
		API: APIConfig{
			Enabled:   true,
			Listen:    "127.0.0.1:8080",
			RateLimit: 600,
		},
		Cache: CacheConfig{
			Size:   4096,
			MaxTTL: Duration{time.Hour},
		},
		Log: logging.DefaultConfig(),
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "config: load %s", path)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	peers := c.Peers[:0]
	for _, p := range c.Peers {
		p.Address = strings.TrimSpace(p.Address)
		if p.Address != "" {
			peers = append(peers, p)
		}
	}
	c.Peers = peers
}

func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Node.Listen); err != nil {
		return errors.Wrapf(err, "config: node.listen %q", c.Node.Listen)
	}
	if c.Node.Workers <= 0 {
		return errors.New("config: node.workers must be positive")
	}
	if c.Node.Timeout.Duration <= 0 {
		return errors.New("config: node.timeout must be positive")
	}
	if c.Node.RecurseDepth > protocol.MaxRecurseDepth {
		return errors.Errorf("config: node.recurse_depth exceeds %d", protocol.MaxRecurseDepth)
	}
	if c.API.Enabled {
		if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
			return errors.Wrapf(err, "config: api.listen %q", c.API.Listen)
		}
	}
	if c.Cache.Size <= 0 {
		return errors.New("config: cache.size must be positive")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "config: log.level")
	}
	return nil
}

// DatabasePath is where the local response store lives.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Node.DataDir, "marp.db")
}

// PeerAddresses lists the configured recursion peers.
func (c *Config) PeerAddresses() []string {
	out := make([]string, len(c.Peers))
	for i, p := range c.Peers {
		out[i] = p.Address
	}
	return out
}
