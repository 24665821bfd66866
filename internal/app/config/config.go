package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ghalamif/AegisIsolate/internal/adapters/feed"
	"github.com/ghalamif/AegisIsolate/internal/adapters/opcua"
	"github.com/ghalamif/AegisIsolate/internal/adapters/sysfs"
	"github.com/ghalamif/AegisIsolate/internal/app/policy"
	"github.com/ghalamif/AegisIsolate/internal/ports"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Isolation  IsolationConfig  `yaml:"isolation"`
	Journal    JournalConfig    `yaml:"journal"`
	Collectors CollectorsConfig `yaml:"collectors"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// IsolationConfig holds the policy parameters in the same string form the
// environment uses, so both sources go through one parser.
type IsolationConfig struct {
	Enable         string `yaml:"enable"`
	CEThreshold    string `yaml:"ce_threshold"`
	IsolationLimit string `yaml:"isolation_limit"`
	Cycle          string `yaml:"cycle"`

	Units       int    `yaml:"units"` // 0 detects from sysfs
	SysfsRoot   string `yaml:"sysfs_root"`
	Workers     int    `yaml:"workers"`
	EventBuffer int    `yaml:"event_buffer"`
}

type JournalConfig struct {
	Policy    ports.JournalPolicy `yaml:"policy"`
	WAL       WALConfig           `yaml:"wal"`
	Timescale TimescaleConfig     `yaml:"timescale"`
	SQLite    SQLiteConfig        `yaml:"sqlite"`
}

// Enabled reports whether any audit sink is configured.
func (j JournalConfig) Enabled() bool {
	return j.Timescale.ConnString != "" || j.SQLite.Path != ""
}

type WALConfig struct {
	Dir string `yaml:"dir"`
}

type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type CollectorsConfig struct {
	Feed  feed.Config  `yaml:"feed"`
	OPCUA opcua.Config `yaml:"opcua"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration that relies on the environment alone.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Lookup resolves a policy key from the environment first and the file
// second. It satisfies policy.LookupFunc.
func (c IsolationConfig) Lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	var v string
	switch key {
	case policy.EnvEnable:
		v = c.Enable
	case policy.EnvThreshold:
		v = c.CEThreshold
	case policy.EnvIsolationLimit:
		v = c.IsolationLimit
	case policy.EnvCycle:
		v = c.Cycle
	}
	return v, v != ""
}

func (c *Config) applyDefaults() {
	if c.Isolation.SysfsRoot == "" {
		c.Isolation.SysfsRoot = sysfs.DefaultRoot
	}
	if c.Isolation.Workers <= 0 {
		c.Isolation.Workers = 4
	}
	if c.Isolation.EventBuffer <= 0 {
		c.Isolation.EventBuffer = 1024
	}

	p := &c.Journal.Policy
	if p.MaxWALSizeBytes == 0 {
		p.MaxWALSizeBytes = 64 << 20
	}
	if p.MaxQueueLen == 0 {
		p.MaxQueueLen = 4096
	}
	if p.MaxBatchSize == 0 {
		p.MaxBatchSize = 256
	}
	if p.IdleSleep == 0 {
		p.IdleSleep = 50 * time.Millisecond
	}
	if p.MaxSinkRetries == 0 {
		p.MaxSinkRetries = 5
	}
	if p.OnQueueFull == "" {
		p.OnQueueFull = "block"
	}
	if p.OnWALFull == "" {
		p.OnWALFull = "block"
	}
	if c.Journal.WAL.Dir == "" {
		c.Journal.WAL.Dir = "./data/wal"
	}
	if c.Journal.Timescale.Table == "" {
		c.Journal.Timescale.Table = "isolation_events"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Collectors.OPCUA.Endpoint != "" {
		c.Collectors.OPCUA.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	if c.Isolation.Units < 0 {
		return fmt.Errorf("isolation.units must be >= 0")
	}
	if c.Collectors.OPCUA.Endpoint != "" {
		if err := c.Collectors.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	}
	switch c.Journal.Policy.OnWALFull {
	case "block", "drop":
	default:
		return fmt.Errorf("journal.policy.on_wal_full must be block or drop, got %q", c.Journal.Policy.OnWALFull)
	}
	switch c.Journal.Policy.OnQueueFull {
	case "block", "drop", "reject":
	default:
		return fmt.Errorf("journal.policy.on_queue_full must be block, drop or reject, got %q", c.Journal.Policy.OnQueueFull)
	}
	if c.Journal.Policy.MaxBatchSize <= 0 || c.Journal.Policy.MaxQueueLen <= 0 {
		return fmt.Errorf("journal.policy batch and queue sizes must be > 0")
	}
	if c.Journal.Enabled() && c.Journal.WAL.Dir == "" {
		return fmt.Errorf("journal.wal.dir is required")
	}
	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	return nil
}
