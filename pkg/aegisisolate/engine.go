package aegisisolate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ghalamif/AegisIsolate/internal/adapters/feed"
	"github.com/ghalamif/AegisIsolate/internal/adapters/observability"
	"github.com/ghalamif/AegisIsolate/internal/adapters/opcua"
	"github.com/ghalamif/AegisIsolate/internal/adapters/queue"
	"github.com/ghalamif/AegisIsolate/internal/adapters/sink"
	"github.com/ghalamif/AegisIsolate/internal/adapters/sysfs"
	"github.com/ghalamif/AegisIsolate/internal/adapters/wal"
	"github.com/ghalamif/AegisIsolate/internal/app/isolation"
	"github.com/ghalamif/AegisIsolate/internal/app/pipeline"
	"github.com/ghalamif/AegisIsolate/internal/app/policy"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

// EngineOption customizes the dependencies used by Engine.
type EngineOption func(*engineOverrides)

type engineOverrides struct {
	collectors    []Collector
	sink          Sink
	wal           WAL
	buffer        EventBuffer
	observability Observability
	units         UnitController
	queueFactory  QueueFactory
}

// WithCollector adds a collector. Collectors given as options replace the
// ones described in the configuration.
func WithCollector(col Collector) EngineOption {
	return func(o *engineOverrides) {
		if col != nil {
			o.collectors = append(o.collectors, col)
		}
	}
}

// WithSink injects an audit sink and enables the journal.
func WithSink(s Sink) EngineOption {
	return func(o *engineOverrides) {
		o.sink = s
	}
}

// WithWAL lets callers bring their own journal WAL.
func WithWAL(w WAL) EngineOption {
	return func(o *engineOverrides) {
		o.wal = w
	}
}

// WithEventBuffer swaps the in-memory buffer between the WAL and the sink.
func WithEventBuffer(b EventBuffer) EngineOption {
	return func(o *engineOverrides) {
		o.buffer = b
	}
}

// WithObservability plugs in a custom logging and metrics backend.
func WithObservability(obs Observability) EngineOption {
	return func(o *engineOverrides) {
		o.observability = obs
	}
}

// WithUnitController replaces the sysfs CPU controller, for example with a
// simulator or a controller for another kind of processing unit.
func WithUnitController(ctl UnitController) EngineOption {
	return func(o *engineOverrides) {
		o.units = ctl
	}
}

// WithQueueFactory replaces the per-unit sliding window implementation.
func WithQueueFactory(f QueueFactory) EngineOption {
	return func(o *engineOverrides) {
		o.queueFactory = f
	}
}

// unitCounter is implemented by controllers that can enumerate their units.
type unitCounter interface {
	CountUnits() (int, error)
}

// Engine wires collectors → dispatch → isolation controller → journal → sink
// and exposes lifecycle hooks for embedding the engine inside any Go service.
type Engine struct {
	cfg        *Config
	obs        ports.Observability
	units      ports.UnitController
	settings   policy.Settings
	registry   *isolation.Registry
	controller *isolation.Controller
	journal    *pipeline.Journal
	sink       ports.Sink
	wal        ports.WAL
	buffer     ports.EventBuffer
	collectors []ports.Collector
	promReg    *prometheus.Registry
	db         *sql.DB
	closeSink  func() error

	events       chan *ClassifiedError
	cancel       context.CancelFunc
	dispatchDone chan error
	metricsSrv   *http.Server
}

// NewEngine bootstraps the default adapters (sysfs CPU controller, sliding
// windows, file WAL journal, Timescale or SQLite sink, feed and OPC UA
// collectors, Prometheus observability). EngineOption values override any of
// them.
//
// A policy that is switched off or a registry that cannot be built leaves the
// engine running in the disabled state: every submission is rejected and no
// unit is ever touched.
func NewEngine(cfg *Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides engineOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	e := &Engine{cfg: cfg, promReg: prometheus.NewRegistry()}
	e.promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	e.obs = overrides.observability
	if e.obs == nil {
		logger, err := observability.NewLogger(observability.LogConfig(cfg.Log))
		if err != nil {
			return nil, err
		}
		e.obs = observability.NewPromObs(e.promReg, logger)
	}

	e.units = overrides.units
	if e.units == nil {
		e.units = sysfs.NewCPUController(cfg.Isolation.SysfsRoot)
	}

	unitCount, err := e.unitCount()
	if err != nil {
		e.obs.LogCritical("unit_discovery_failed", err)
	}
	e.settings = policy.Load(cfg.Isolation.Lookup, unitCount, e.obs)

	newQueue := overrides.queueFactory
	if newQueue == nil {
		newQueue = func() ports.EventQueue { return queue.NewWindowQueue() }
	}

	if e.settings.Enabled {
		e.registry, err = isolation.NewRegistry(unitCount, e.units, newQueue)
		if err != nil {
			e.obs.LogCritical("isolation_init_failed", err, ports.F("units", unitCount))
		}
	}
	if e.registry == nil {
		e.controller = isolation.NewDisabledController(e.obs)
	} else {
		if err := e.buildJournal(&overrides); err != nil {
			e.closeResources()
			return nil, err
		}
		var copts []isolation.Option
		if e.journal != nil {
			copts = append(copts, isolation.WithRecorder(e.journal))
		}
		e.controller = isolation.NewController(e.registry, e.units, e.settings.Policy(), e.obs, copts...)
		pol := e.controller.Policy()
		e.obs.LogInfo("isolation_ready",
			ports.F("units", unitCount),
			ports.F("threshold", pol.Threshold),
			ports.F("isolation_limit", pol.IsolationLimit),
			ports.F("cycle", pol.Cycle.String()))
	}

	e.collectors = overrides.collectors
	if len(e.collectors) == 0 {
		if err := e.buildCollectors(); err != nil {
			if e.wal != nil {
				_ = e.wal.Close()
			}
			e.closeResources()
			return nil, err
		}
	}

	return e, nil
}

func (e *Engine) unitCount() (int, error) {
	if e.cfg.Isolation.Units > 0 {
		return e.cfg.Isolation.Units, nil
	}
	if uc, ok := e.units.(unitCounter); ok {
		return uc.CountUnits()
	}
	return 0, fmt.Errorf("unit count not configured and controller cannot enumerate units")
}

func (e *Engine) buildJournal(o *engineOverrides) error {
	jc := e.cfg.Journal
	if o.sink == nil && !jc.Enabled() {
		return nil
	}

	e.sink = o.sink
	if e.sink == nil {
		switch {
		case jc.Timescale.ConnString != "":
			db, err := sql.Open("postgres", jc.Timescale.ConnString)
			if err != nil {
				return err
			}
			e.db = db
			ts := sink.NewTimescaleSink(db, jc.Timescale.Table)
			if err := ts.EnsureTable(); err != nil {
				return fmt.Errorf("timescale sink: %w", err)
			}
			e.sink = ts
		default:
			lite, err := sink.OpenSQLiteSink(jc.SQLite.Path)
			if err != nil {
				return err
			}
			e.sink = lite
			e.closeSink = lite.Close
		}
	}

	e.wal = o.wal
	if e.wal == nil {
		fw, err := wal.NewFileWAL(jc.WAL.Dir)
		if err != nil {
			return err
		}
		e.wal = fw
	}

	e.buffer = o.buffer
	if e.buffer == nil {
		e.buffer = queue.NewMemQueue(jc.Policy.MaxQueueLen)
	}

	e.journal = pipeline.NewJournal(e.wal, e.buffer, e.sink, jc.Policy, e.obs)
	return nil
}

func (e *Engine) buildCollectors() error {
	cc := e.cfg.Collectors
	if cc.Feed.Path != "" {
		col, err := feed.NewCollector(cc.Feed, e.obs)
		if err != nil {
			return err
		}
		e.collectors = append(e.collectors, col)
	}
	if cc.OPCUA.Endpoint != "" {
		col, err := opcua.NewCollector(cc.OPCUA, e.obs)
		if err != nil {
			return err
		}
		e.collectors = append(e.collectors, col)
	}
	return nil
}

// Start launches the journal, the dispatch workers, every collector and the
// HTTP server. It returns immediately; call Run to block on a context instead.
func (e *Engine) Start() error {
	if e == nil {
		return fmt.Errorf("engine is nil")
	}

	if e.journal != nil {
		e.journal.Start()
		if _, err := e.journal.Replay(); err != nil {
			e.obs.LogError("journal_replay_failed", err)
		}
	}

	e.events = make(chan *ClassifiedError, e.cfg.Isolation.EventBuffer)
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.dispatchDone = make(chan error, 1)
	go func() {
		e.dispatchDone <- pipeline.RunDispatch(ctx, e.events, e.controller, e.cfg.Isolation.Workers, e.obs)
	}()

	for i, col := range e.collectors {
		if err := col.Start(e.events); err != nil {
			for _, started := range e.collectors[:i] {
				_ = started.Stop()
			}
			cancel()
			return fmt.Errorf("collector %s: %w", col.Name(), err)
		}
		e.obs.LogInfo("collector_started", ports.F("collector", col.Name()))
	}

	e.startHTTP()
	return nil
}

// Run starts the engine and blocks until the provided context is cancelled.
// Upon cancellation it attempts a graceful shutdown.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// Submit hands one classified error straight to the controller, bypassing
// the collectors and the dispatch workers.
func (e *Engine) Submit(ce *ClassifiedError) (Outcome, error) {
	return e.controller.Submit(ce)
}

// Enabled reports whether the engine will act on submissions.
func (e *Engine) Enabled() bool { return e.controller.Enabled() }

// Policy returns the resolved isolation policy.
func (e *Engine) Policy() IsolationPolicy { return e.controller.Policy() }

// Units returns a snapshot of every unit the engine tracks.
func (e *Engine) Units() []UnitSnapshot { return e.registry.Snapshots() }

// Unit returns a snapshot of one unit.
func (e *Engine) Unit(id int) (UnitSnapshot, bool) { return e.registry.Snapshot(id) }

// Shutdown stops the collectors and dispatch workers, disables the
// controller, releases every unit window, then drains the journal and closes
// the HTTP server and the sink connection.
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error

	for _, col := range e.collectors {
		if err := col.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("collector %s: %w", col.Name(), err))
		}
	}

	if e.cancel != nil {
		e.cancel()
		select {
		case err := <-e.dispatchDone:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}

	e.controller.Disable()
	e.registry.Teardown()

	if e.journal != nil {
		if err := e.journal.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if e.metricsSrv != nil {
		if err := e.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	if err := e.closeResources(); err != nil {
		errs = append(errs, err)
	}

	e.obs.LogInfo("isolation_stopped")
	return errors.Join(errs...)
}

func (e *Engine) closeResources() error {
	var errs []error
	if e.closeSink != nil {
		errs = append(errs, e.closeSink())
		e.closeSink = nil
	}
	if e.db != nil {
		errs = append(errs, e.db.Close())
		e.db = nil
	}
	return errors.Join(errs...)
}

func (e *Engine) startHTTP() {
	if e.cfg.Metrics.Addr == "" || e.cfg.Metrics.Addr == "off" {
		return
	}
	e.metricsSrv = &http.Server{
		Addr:              e.cfg.Metrics.Addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := e.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.obs.LogError("metrics_server_exited", err, ports.F("addr", e.cfg.Metrics.Addr))
		}
	}()
}
