package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghalamif/AegisIsolate/internal/app/policy"
	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
isolation:
  enable: "yes"
  ce_threshold: "20"
journal:
  policy:
    max_queue_len: 1000
  sqlite:
    path: /var/lib/aegis/isolation.db
collectors:
  opcua:
    endpoint: opc.tcp://localhost:4840
    nodes:
      - node_id: "ns=2;s=cpu0.ce"
        unit: 0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Journal.Policy.IdleSleep != 50*time.Millisecond {
		t.Fatalf("expected IdleSleep default 50ms, got %s", cfg.Journal.Policy.IdleSleep)
	}
	if cfg.Journal.Policy.MaxQueueLen != 1000 || cfg.Journal.Policy.MaxBatchSize != 256 {
		t.Fatalf("unexpected journal policy: %+v", cfg.Journal.Policy)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Fatalf("expected default metrics addr :9100, got %s", cfg.Metrics.Addr)
	}
	if cfg.Journal.WAL.Dir != "./data/wal" {
		t.Fatalf("expected default wal dir ./data/wal, got %s", cfg.Journal.WAL.Dir)
	}
	if cfg.Isolation.SysfsRoot != "/sys/devices/system/cpu" || cfg.Isolation.Workers != 4 {
		t.Fatalf("unexpected isolation defaults: %+v", cfg.Isolation)
	}
	if !cfg.Journal.Enabled() {
		t.Fatalf("sqlite path must enable the journal")
	}
	if cfg.Collectors.OPCUA.Nodes[0].Kind != "corrected" {
		t.Fatalf("expected node kind default corrected, got %s", cfg.Collectors.OPCUA.Nodes[0].Kind)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"negative units": "isolation:\n  units: -1\n",
		"wal policy":     "journal:\n  policy:\n    on_wal_full: spill\n",
		"opcua nodes":    "collectors:\n  opcua:\n    endpoint: opc.tcp://x\n",
		"bad yaml":       "isolation: [",
	}
	for name, data := range cases {
		if _, err := Load(writeConfig(t, data)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLookupPrefersEnvironment(t *testing.T) {
	iso := IsolationConfig{Enable: "yes", CEThreshold: "30", Cycle: "12h"}

	t.Setenv(policy.EnvThreshold, "40")

	if v, ok := iso.Lookup(policy.EnvThreshold); !ok || v != "40" {
		t.Fatalf("expected environment value 40, got %q ok=%v", v, ok)
	}
	if v, ok := iso.Lookup(policy.EnvCycle); !ok || v != "12h" {
		t.Fatalf("expected file value 12h, got %q ok=%v", v, ok)
	}
	if _, ok := iso.Lookup(policy.EnvIsolationLimit); ok {
		t.Fatalf("unset key must report absent")
	}
}

func TestLookupFeedsPolicy(t *testing.T) {
	iso := IsolationConfig{Enable: "YES", CEThreshold: "25", IsolationLimit: "2", Cycle: "1h"}
	s := policy.Load(iso.Lookup, 4, nopObs{})
	if !s.Enabled {
		t.Fatalf("expected engine enabled")
	}
	pol := s.Policy()
	if pol.Threshold != 25 || pol.IsolationLimit != 2 || pol.Cycle != time.Hour {
		t.Fatalf("unexpected resolved policy: %+v", pol)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Journal.Enabled() {
		t.Fatalf("journal must be off without a sink")
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log defaults: %+v", cfg.Log)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

type nopObs struct{}

func (nopObs) LogInfo(string, ...ports.Field)                            {}
func (nopObs) LogWarn(string, ...ports.Field)                            {}
func (nopObs) LogError(string, error, ...ports.Field)                    {}
func (nopObs) LogCritical(string, error, ...ports.Field)                 {}
func (nopObs) IncCounter(string, float64)                                {}
func (nopObs) ObserveLatency(string, float64)                            {}
func (nopObs) SetGauge(string, float64)                                  {}
func (nopObs) RecordDLQ(ports.WALEntryID, *domain.IsolationEvent, error) {}
