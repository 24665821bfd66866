package observability

import (
	"log/slog"

	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// PromObs logs through slog and keeps Prometheus collectors keyed by metric
// name. Unknown names are ignored.
type PromObs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// latencyStart is the first histogram bucket per latency metric; sysfs writes
// are sub-millisecond, sink writes are not.
var latencyStart = map[string]float64{
	ports.MetricOfflineLatency: 0.0005,
	ports.MetricSinkLatency:    0.001,
}

// NewPromObs registers one collector per entry of ports.MetricCatalog on reg,
// or on the default registerer when reg is nil. A nil logger discards log
// output.
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &PromObs{
		log:      logger,
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
		histos:   make(map[string]prometheus.Observer),
	}
	for _, m := range ports.MetricCatalog {
		switch m.Kind {
		case ports.CounterMetric:
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: m.Name, Help: m.Help})
			reg.MustRegister(c)
			p.counters[m.Name] = c
		case ports.GaugeMetric:
			g := prometheus.NewGauge(prometheus.GaugeOpts{Name: m.Name, Help: m.Help})
			reg.MustRegister(g)
			p.gauges[m.Name] = g
		case ports.LatencyMetric:
			first, ok := latencyStart[m.Name]
			if !ok {
				first = 0.001
			}
			h := prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    m.Name,
				Help:    m.Help,
				Buckets: prometheus.ExponentialBuckets(first, 2, 12),
			})
			reg.MustRegister(h)
			p.histos[m.Name] = h
		}
	}
	return p
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.log.Warn(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), "err", err)...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), "err", err, "critical", true)...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDLQ(id ports.WALEntryID, ev *domain.IsolationEvent, err error) {
	p.IncCounter(ports.MetricDLQ, 1)
	fields := []ports.Field{ports.F("wal_id", uint64(id))}
	if ev != nil {
		fields = append(fields, ports.F("unit", ev.UnitID), ports.F("outcome", ev.Outcome.String()))
	}
	p.LogError("isolation_event_dlq", err, fields...)
}

var _ ports.Observability = (*PromObs)(nil)
