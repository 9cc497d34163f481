// Package config loads the engine configuration from a YAML file with
// environment-variable overrides and defaults for everything operational.
package config

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/futarchybot/gomarket/pkg/logger"
)

// EngineConfig holds the numeric market parameters, all in basis points
// of 10000 unless noted.
type EngineConfig struct {
	FeeBps         uint64 `yaml:"fee_bps"`
	MaxImpactBps   uint64 `yaml:"max_impact_bps"`
	MinLiquidity   uint64 `yaml:"min_liquidity"`
	BasisPoints    uint64 `yaml:"basis_points"`
	TwapStartDelay uint64 `yaml:"twap_start_delay"` // seconds
	TwapStepMax    uint64 `yaml:"twap_step_max"`
	TwapInitPrice  uint64 `yaml:"twap_init_price"`
	TickSeconds    uint64 `yaml:"tick_seconds"`
	InitialAsset   uint64 `yaml:"initial_asset"`
	InitialStable  uint64 `yaml:"initial_stable"`
}

// ServerConfig is the control-plane HTTP listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// StorageConfig points at the on-disk state.
type StorageConfig struct {
	JournalPath string `yaml:"journal_path"`
	SnapshotDir string `yaml:"snapshot_dir"`
}

// Config is the full application configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Log     logger.Config `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			FeeBps:         30,
			MaxImpactBps:   1000,
			MinLiquidity:   1000,
			BasisPoints:    10_000,
			TwapStartDelay: 60,
			TwapStepMax:    500,
			TwapInitPrice:  10_000,
			TickSeconds:    60,
			InitialAsset:   1_000_000_000,
			InitialStable:  1_000_000_000,
		},
		Server: ServerConfig{
			ListenAddr: ":8090",
		},
		Storage: StorageConfig{
			JournalPath: "data/journal.db",
			SnapshotDir: "data/snapshots",
		},
		Log: logger.Config{
			Level:      "info",
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies env
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config file")
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.ListenAddr = getEnv("GOMARKET_LISTEN_ADDR", c.Server.ListenAddr)
	c.Storage.JournalPath = getEnv("GOMARKET_JOURNAL_PATH", c.Storage.JournalPath)
	c.Storage.SnapshotDir = getEnv("GOMARKET_SNAPSHOT_DIR", c.Storage.SnapshotDir)
	c.Log.Level = getEnv("GOMARKET_LOG_LEVEL", c.Log.Level)
	c.Log.OutputFile = getEnv("GOMARKET_LOG_FILE", c.Log.OutputFile)
	c.Engine.FeeBps = getEnvUint("GOMARKET_FEE_BPS", c.Engine.FeeBps)
	c.Engine.MaxImpactBps = getEnvUint("GOMARKET_MAX_IMPACT_BPS", c.Engine.MaxImpactBps)
	c.Engine.TwapStepMax = getEnvUint("GOMARKET_TWAP_STEP_MAX", c.Engine.TwapStepMax)
	c.Engine.TwapStartDelay = getEnvUint("GOMARKET_TWAP_START_DELAY", c.Engine.TwapStartDelay)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	e := c.Engine
	if e.BasisPoints == 0 {
		return errors.New("engine.basis_points must be positive")
	}
	if e.FeeBps >= e.BasisPoints {
		return errors.New("engine.fee_bps must be below basis_points")
	}
	if e.TwapInitPrice == 0 {
		return errors.New("engine.twap_init_price must be positive")
	}
	if e.InitialAsset == 0 || e.InitialStable == 0 {
		return errors.New("engine initial reserves must be positive")
	}
	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvUint(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
