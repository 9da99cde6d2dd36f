// Package config loads the bot configuration from a JSON or YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"discord-invite-tracker/internal/database"
	"discord-invite-tracker/internal/logging"
	"discord-invite-tracker/internal/redis"
)

// DefaultPaths are tried in order when no path is given.
var DefaultPaths = []string{"config.json", "config.yaml", "config.yml"}

// Duration accepts "10s" style strings in files and the environment.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type CacheConfig struct {
	L1MaxCost     int64    `json:"l1_max_cost" yaml:"l1_max_cost" env:"L1_MAX_COST"`
	L1NumCounters int64    `json:"l1_num_counters" yaml:"l1_num_counters" env:"L1_NUM_COUNTERS"`
	TTL           Duration `json:"ttl" yaml:"ttl" env:"TTL"`
}

type TrackerConfig struct {
	FetchTimeout Duration `json:"fetch_timeout" yaml:"fetch_timeout" env:"FETCH_TIMEOUT"`
	// Workers of 0 uses GOMAXPROCS.
	Workers   int `json:"workers" yaml:"workers" env:"WORKERS"`
	QueueSize int `json:"queue_size" yaml:"queue_size" env:"QUEUE_SIZE"`
	// WarmupConcurrency bounds parallel invite fetches on connect.
	WarmupConcurrency int `json:"warmup_concurrency" yaml:"warmup_concurrency" env:"WARMUP_CONCURRENCY"`
}

type MetricsConfig struct {
	// Addr serves /metrics and pprof. Empty disables the server.
	Addr string `json:"addr" yaml:"addr" env:"ADDR"`
}

type Config struct {
	Token string `json:"token" yaml:"token" env:"DISCORD_TOKEN"`
	// OwnerID is the bot owner. Empty falls back to the application owner.
	OwnerID  string          `json:"owner_id" yaml:"owner_id" env:"BOT_OWNER_ID"`
	Database database.Config `json:"database" yaml:"database" envPrefix:"DATABASE_"`
	Redis    redis.Config    `json:"redis" yaml:"redis" envPrefix:"REDIS_"`
	Cache    CacheConfig     `json:"cache" yaml:"cache" envPrefix:"CACHE_"`
	Tracker  TrackerConfig   `json:"tracker" yaml:"tracker" envPrefix:"TRACKER_"`
	Metrics  MetricsConfig   `json:"metrics" yaml:"metrics" envPrefix:"METRICS_"`
	Log      logging.Config  `json:"log" yaml:"log" envPrefix:"LOG_"`
}

// Load reads path, or the first existing default path when path is empty,
// then applies environment overrides and defaults and validates the
// result. With no file at all the environment alone configures the bot.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase is Load for offline tools that only open the ledger. Only
// the database section is validated, so no token is needed.
func LoadDatabase(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.validateDatabase(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		for _, p := range DefaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		if err := readFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		if c.Database.DSN != "" || c.Database.Postgres.Host != "" {
			c.Database.Driver = database.DriverPostgres
		} else {
			c.Database.Driver = database.DriverSQLite
		}
	}
	if c.Database.Driver == database.DriverSQLite && c.Database.SQLitePath == "" && c.Database.DSN == "" {
		c.Database.SQLitePath = "invite-tracker.db"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = Duration(time.Minute)
	}
	if c.Tracker.FetchTimeout == 0 {
		c.Tracker.FetchTimeout = Duration(10 * time.Second)
	}
	if c.Tracker.QueueSize == 0 {
		c.Tracker.QueueSize = 256
	}
	if c.Tracker.WarmupConcurrency == 0 {
		c.Tracker.WarmupConcurrency = 4
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Token == "" {
		errs = append(errs, errors.New("token is required (DISCORD_TOKEN)"))
	}
	if err := c.validateDatabase(); err != nil {
		errs = append(errs, err)
	}
	if c.Tracker.FetchTimeout < 0 {
		errs = append(errs, errors.New("tracker fetch_timeout must not be negative"))
	}
	if c.Tracker.Workers < 0 || c.Tracker.QueueSize < 0 || c.Tracker.WarmupConcurrency < 0 {
		errs = append(errs, errors.New("tracker workers, queue_size and warmup_concurrency must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case database.DriverPostgres, database.DriverSQLite:
		return nil
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
}
