package aegisisolate

import (
	"github.com/ghalamif/AegisIsolate/internal/adapters/feed"
	"github.com/ghalamif/AegisIsolate/internal/adapters/opcua"
	"github.com/ghalamif/AegisIsolate/internal/app/config"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// IsolationConfig holds the policy switch and parameters.
	IsolationConfig = config.IsolationConfig
	// JournalConfig configures the audit journal and its sinks.
	JournalConfig = config.JournalConfig
	// JournalPolicy bounds the journal WAL and buffer.
	JournalPolicy = ports.JournalPolicy
	// FeedConfig points the line-delimited JSON collector at a file or pipe.
	FeedConfig = feed.Config
	// OPCUAConfig holds connection + node details.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig maps an error counter tag to a unit.
	OPCUANodeConfig = opcua.NodeConfig
	// TimescaleConfig configures the Postgres sink.
	TimescaleConfig = config.TimescaleConfig
	// SQLiteConfig configures the embedded sink.
	SQLiteConfig = config.SQLiteConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// WALConfig configures on-disk durability.
	WALConfig = config.WALConfig
	// LogConfig selects log level, format and output.
	LogConfig = config.LogConfig
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns a configuration that takes the policy from the environment.
func DefaultConfig() *Config {
	return config.Default()
}
