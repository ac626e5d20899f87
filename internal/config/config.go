// Package config holds the minimal boot-time configuration every shardctl
// process needs before it can open a single network connection: a token, a
// listen URL, and whether it should consider itself an original
// coordinator. The general multi-bot configuration-file subsystem belongs
// to an external management UI, not this package.
package config

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v2"
)

// Configuration is the root configuration object for a single node process.
type Configuration struct {
	// Token is the Discord bot token, required on every node that opens
	// gateway sessions.
	Token string `yaml:"token"`

	// ListenURL is the address this node's CoordinationServer binds to and
	// advertises to peers, e.g. "http://10.0.1.4:8081".
	ListenURL string `yaml:"listen_url"`

	// ClusterURL is the well-known URL used to discover the current
	// coordinator on boot.
	ClusterURL string `yaml:"cluster_url"`

	// OriginalCoordinator marks this node as entitled to reclaim the
	// coordinator role on recovery. Not persisted or inferred; the operator
	// states it at boot.
	OriginalCoordinator bool `yaml:"original_coordinator"`

	Bot struct {
		Intents        int  `yaml:"intents"`
		LargeThreshold int  `yaml:"large_threshold"`
		Compression    bool `yaml:"compression"`
	} `yaml:"bot"`

	Sharding struct {
		AutoSharded bool `yaml:"auto_sharded"`
		ShardCount  int  `yaml:"shard_count"`
	} `yaml:"sharding"`

	// NATS and Redis are optional enrichment sinks; the corresponding
	// component is constructed only when its Enabled flag is set.
	NATS struct {
		Enabled bool   `yaml:"enabled"`
		Cluster string `yaml:"cluster"`
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`

	Redis struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
		Prefix  string `yaml:"prefix"`
	} `yaml:"redis"`

	Logging struct {
		Level    string `yaml:"level"`
		FilePath string `yaml:"file_path"`
	} `yaml:"logging"`
}

// Load reads and parses a Configuration from path.
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("config load read: %w", err)
	}

	cfg := &Configuration{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, xerrors.Errorf("config load unmarshal: %w", err)
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes cfg back to path, used by the daemon to persist operator
// changes made through the (external) management surface.
func Save(cfg *Configuration, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return xerrors.Errorf("config save marshal: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return xerrors.Errorf("config save write: %w", err)
	}

	return nil
}

// Normalize fills in defaults and fails fast on configuration that would
// otherwise surface as a confusing runtime error later.
func (c *Configuration) Normalize() error {
	c.Token = strings.TrimSpace(c.Token)
	if c.Token == "" {
		return xerrors.New("config: missing token")
	}

	if c.ListenURL == "" {
		return xerrors.New("config: missing listen_url")
	}

	if c.ClusterURL == "" {
		c.ClusterURL = c.ListenURL
	}

	if c.Bot.LargeThreshold == 0 {
		c.Bot.LargeThreshold = 250
	}

	if c.Sharding.ShardCount < 1 {
		c.Sharding.ShardCount = 1
	}

	return nil
}

// NewLogger builds the root zerolog.Logger for a process, wiring lumberjack
// rotation when a file path is configured. Every component derives its own
// child logger from this one with logger.With().Str("component", ...).
func NewLogger(c *Configuration) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writer zerolog.ConsoleWriter

	writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}

	if c.Logging.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   c.Logging.FilePath,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}

		return zerolog.New(zerolog.MultiLevelWriter(writer, rotator)).
			Level(level).
			With().Timestamp().Logger()
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
