package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromObsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPromObs(reg, nil)

	obs.IncCounter(ports.MetricOfflineAttempts, 3)
	if got := testutil.ToFloat64(obs.counters[ports.MetricOfflineAttempts]); got != 3 {
		t.Fatalf("expected attempts counter 3, got %f", got)
	}

	obs.IncCounter(ports.MetricJournalDropped, 2)
	if got := testutil.ToFloat64(obs.counters[ports.MetricJournalDropped]); got != 2 {
		t.Fatalf("expected journal drop counter 2, got %f", got)
	}

	obs.SetGauge(ports.MetricUnitsOffline, 4)
	if got := testutil.ToFloat64(obs.gauges[ports.MetricUnitsOffline]); got != 4 {
		t.Fatalf("expected offline gauge 4, got %f", got)
	}

	obs.ObserveLatency(ports.MetricOfflineLatency, 0.01)
	hCollector := obs.histos[ports.MetricOfflineLatency].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 sample, got %d", samples)
	}

	obs.RecordDLQ(1, nil, nil)
	if got := testutil.ToFloat64(obs.counters[ports.MetricDLQ]); got != 1 {
		t.Fatalf("expected dlq counter 1, got %f", got)
	}

	// Unknown names are ignored.
	obs.IncCounter("not_a_metric", 1)
	obs.SetGauge("not_a_metric", 1)

	if n, err := testutil.GatherAndCount(reg); err != nil || n != len(ports.MetricCatalog) {
		t.Fatalf("expected %d registered metrics, got %d err=%v", len(ports.MetricCatalog), n, err)
	}
}

func TestPromObsServesEveryCatalogName(t *testing.T) {
	obs := NewPromObs(prometheus.NewRegistry(), nil)

	seen := make(map[string]bool)
	for _, m := range ports.MetricCatalog {
		if seen[m.Name] {
			t.Fatalf("metric %s listed twice", m.Name)
		}
		seen[m.Name] = true

		var ok bool
		switch m.Kind {
		case ports.CounterMetric:
			_, ok = obs.counters[m.Name]
		case ports.GaugeMetric:
			_, ok = obs.gauges[m.Name]
		case ports.LatencyMetric:
			_, ok = obs.histos[m.Name]
		}
		if !ok {
			t.Fatalf("metric %s has no collector for its kind", m.Name)
		}
	}

	// Names reported by the controller, policy loader, dispatcher and journal.
	for _, name := range []string{
		ports.MetricErrorsRecorded, ports.MetricGuardBlocked, ports.MetricUnitsOffline,
		ports.MetricOfflineLatency, ports.MetricConfigErrors, ports.MetricDispatched,
		ports.MetricEventsPersisted, ports.MetricQueueLength, ports.MetricWALSize,
		ports.MetricSinkLatency,
	} {
		if !seen[name] {
			t.Fatalf("metric %s is reported but not in the catalog", name)
		}
	}
}

func TestPromObsLogsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := NewPromObs(prometheus.NewRegistry(), logger)

	obs.LogWarn("isolation_limit_reached", ports.F("unit", 3), ports.F("limit", uint64(2)))
	obs.LogError("unit_offline_write_failed", errors.New("EBUSY"), ports.F("unit", 1))
	obs.RecordDLQ(7, &domain.IsolationEvent{UnitID: 5, Outcome: domain.OutcomeIsolated}, errors.New("sink down"))

	out := buf.String()
	for _, want := range []string{
		"level=WARN msg=isolation_limit_reached unit=3 limit=2",
		"msg=unit_offline_write_failed unit=1 err=EBUSY",
		"msg=isolation_event_dlq wal_id=7 unit=5 outcome=isolated",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in log output:\n%s", want, out)
		}
	}
}

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "warn", Format: "json", Output: "stdout"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info must be disabled at warn level")
	}
	if !logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error must be enabled at warn level")
	}

	path := t.TempDir() + "/logs/isolate.log"
	if _, err := NewLogger(LogConfig{Output: path}); err != nil {
		t.Fatalf("file logger: %v", err)
	}
}
