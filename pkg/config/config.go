// Package config loads orchestrator settings from a YAML file, an optional .env file and the
// environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderAWS  = "aws"
	ProviderFake = "fake"

	DefaultProvider        = ProviderAWS
	DefaultStore           = "file"
	DefaultSnapshotPath    = "all_vpc.json"
	DefaultJournalPath     = "mesh-journal.db"
	DefaultConsulPrefix    = "vpc-mesh/"
	DefaultWatchAttempts   = 10
	DefaultWatchDelay      = 3 * time.Second
	DefaultInitialInterval = time.Second
	DefaultMaxInterval     = 10 * time.Second
	DefaultWaitTimeout     = 10 * time.Minute
	DefaultListen          = ":8080"
	DefaultTokenTTL        = 24 * time.Hour
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
)

// DefaultRegions is the region list used when none is configured.
var DefaultRegions = []string{"eu-central-1", "eu-west-1", "eu-west-2", "eu-west-3", "eu-north-1"}

type Config struct {
	Regions  []string      `yaml:"regions"`
	Provider string        `yaml:"provider"`
	Mesh     MeshConfig    `yaml:"mesh"`
	Wait     WaitConfig    `yaml:"wait"`
	Watch    WatchConfig   `yaml:"watch"`
	Store    StoreConfig   `yaml:"store"`
	Journal  JournalConfig `yaml:"journal"`
	API      APIConfig     `yaml:"api"`
	Log      LogConfig     `yaml:"log"`
	AWS      AWSConfig     `yaml:"aws"`
}

type MeshConfig struct {
	RegionConcurrency int  `yaml:"region_concurrency"`
	EdgeConcurrency   int  `yaml:"edge_concurrency"`
	FailFast          bool `yaml:"fail_fast"`
}

// WaitConfig bounds availability and handshake waits.
type WaitConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Timeout         time.Duration `yaml:"timeout"`
}

// WatchConfig is the route convergence budget.
type WatchConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

type StoreConfig struct {
	Kind         string `yaml:"kind"`
	Path         string `yaml:"path"`
	ConsulAddr   string `yaml:"consul_addr"`
	ConsulPrefix string `yaml:"consul_prefix"`
	MySQLDSN     string `yaml:"mysql_dsn"`
}

type JournalConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

type APIConfig struct {
	Listen    string            `yaml:"listen"`
	JWTSecret string            `yaml:"jwt_secret"`
	TokenTTL  time.Duration     `yaml:"token_ttl"`
	Users     map[string]string `yaml:"users"` // name -> bcrypt hash
	CertFile  string            `yaml:"cert_file"`
	KeyFile   string            `yaml:"key_file"`
	ClientCA  string            `yaml:"client_ca"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AWSConfig struct {
	Profile string `yaml:"profile"`
}

// Load reads path (skipped when empty), the .env file next to it or in the working directory,
// and the environment, then applies defaults and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := loadDotEnv(path); err != nil {
		return Config{}, err
	}
	ApplyEnv(&cfg, os.Getenv)
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func loadDotEnv(configPath string) error {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err != nil {
				return fmt.Errorf("load %s: %w", p, err)
			}
			return nil
		}
	}
	return nil
}

// ApplyEnv overrides file settings with the MESH_*, MYSQL_DSN, CONSUL_HTTP_ADDR and JWT_SECRET
// variables.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("MESH_REGIONS"); v != "" {
		cfg.Regions = splitList(v)
	}
	if v := getenv("MESH_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := getenv("MESH_STORE"); v != "" {
		cfg.Store.Kind = v
	}
	if v := getenv("MESH_SNAPSHOT_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := getenv("MYSQL_DSN"); v != "" {
		cfg.Store.MySQLDSN = v
	}
	if v := getenv("CONSUL_HTTP_ADDR"); v != "" {
		cfg.Store.ConsulAddr = v
	}
	if v := getenv("JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}
	if v := getenv("MESH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if len(cfg.Regions) == 0 {
		cfg.Regions = append([]string(nil), DefaultRegions...)
	}
	if cfg.Provider == "" {
		cfg.Provider = DefaultProvider
	}
	if cfg.Wait.InitialInterval == 0 {
		cfg.Wait.InitialInterval = DefaultInitialInterval
	}
	if cfg.Wait.MaxInterval == 0 {
		cfg.Wait.MaxInterval = DefaultMaxInterval
	}
	if cfg.Wait.Timeout == 0 {
		cfg.Wait.Timeout = DefaultWaitTimeout
	}
	if cfg.Watch.Attempts == 0 {
		cfg.Watch.Attempts = DefaultWatchAttempts
	}
	if cfg.Watch.Delay == 0 {
		cfg.Watch.Delay = DefaultWatchDelay
	}
	if cfg.Store.Kind == "" {
		cfg.Store.Kind = DefaultStore
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultSnapshotPath
	}
	if cfg.Store.ConsulPrefix == "" {
		cfg.Store.ConsulPrefix = DefaultConsulPrefix
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = DefaultJournalPath
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = DefaultListen
	}
	if cfg.API.TokenTTL == 0 {
		cfg.API.TokenTTL = DefaultTokenTTL
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

// Validate reports every invalid setting at once.
func Validate(cfg Config) error {
	var errs []error
	if len(cfg.Regions) == 0 {
		errs = append(errs, errors.New("regions: at least one region is required"))
	}
	if len(cfg.Regions) > 256 {
		errs = append(errs, fmt.Errorf("regions: at most 256 regions, got %d", len(cfg.Regions)))
	}
	seen := map[string]bool{}
	for _, r := range cfg.Regions {
		if r == "" {
			errs = append(errs, errors.New("regions: empty region name"))
			continue
		}
		if seen[r] {
			errs = append(errs, fmt.Errorf("regions: %s listed twice", r))
		}
		seen[r] = true
	}
	switch cfg.Provider {
	case ProviderAWS, ProviderFake:
	default:
		errs = append(errs, fmt.Errorf("provider: unknown provider %q", cfg.Provider))
	}
	switch cfg.Store.Kind {
	case "memory", "file", "consul":
	case "mysql":
		if cfg.Store.MySQLDSN == "" {
			errs = append(errs, errors.New("store.mysql_dsn is required for the mysql store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.kind: unknown store %q", cfg.Store.Kind))
	}
	if cfg.Mesh.RegionConcurrency < 0 || cfg.Mesh.EdgeConcurrency < 0 {
		errs = append(errs, errors.New("mesh: concurrency must not be negative"))
	}
	if cfg.Watch.Attempts < 1 {
		errs = append(errs, errors.New("watch.attempts must be at least 1"))
	}
	if cfg.Watch.Delay < 0 {
		errs = append(errs, errors.New("watch.delay must not be negative"))
	}
	if cfg.Wait.MaxInterval < cfg.Wait.InitialInterval {
		errs = append(errs, errors.New("wait.max_interval must not be below wait.initial_interval"))
	}
	if (cfg.API.CertFile == "") != (cfg.API.KeyFile == "") {
		errs = append(errs, errors.New("api: cert_file and key_file go together"))
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
