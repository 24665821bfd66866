package aegisisolate

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrFlowNil           = errors.New("aegisisolate: flow is nil")
	ErrFlowTwoSinks      = errors.New("aegisisolate: flow has more than one audit sink")
	ErrFlowJournalNoSink = errors.New("aegisisolate: WAL or buffer override without an audit sink")
)

// Flow builds an Engine in three steps. Conf fixes the configuration,
// StreamIN says where classified errors come from and which units and policy
// they act on, StreamOUT says where isolation events are journaled. Misuse is
// collected along the way and reported by StreamOUT.
type Flow struct {
	cfg  *Config
	opts []EngineOption
	errs []error

	sinks     int
	overrides int // WAL and buffer overrides
}

// flowStep is one builder instruction: a config edit, an engine override, or
// a misuse to report.
type flowStep struct {
	edit     func(*Config)
	option   EngineOption
	sink     bool
	override bool
	err      error
}

type (
	FlowOption      struct{ step flowStep }
	StreamInOption  struct{ step flowStep }
	StreamOutOption struct{ step flowStep }
)

// Conf loads YAML from disk and returns a Flow over it.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig starts a Flow from a copy of cfg; StreamIN edits never reach
// the caller's Config.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	own := *cfg
	f := &Flow{cfg: &own}
	for _, opt := range opts {
		f.apply(opt.step)
	}
	return f, nil
}

// Config returns the Flow's own configuration.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		f.apply(opt.step)
	}
	return f
}

// StreamOUT applies the audit-side steps, checks the journal wiring and
// builds the Engine.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Engine, error) {
	if f == nil {
		return nil, ErrFlowNil
	}
	for _, opt := range opts {
		f.apply(opt.step)
	}
	if err := f.check(); err != nil {
		return nil, err
	}
	return NewEngine(f.cfg, f.opts...)
}

// Run builds the Engine and runs it until ctx is done.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	eng, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return eng.Run(ctx)
}

func (f *Flow) apply(s flowStep) {
	if s.err != nil {
		f.errs = append(f.errs, s.err)
		return
	}
	if s.edit != nil {
		s.edit(f.cfg)
	}
	if s.option != nil {
		f.opts = append(f.opts, s.option)
	}
	if s.sink {
		f.sinks++
	}
	if s.override {
		f.overrides++
	}
}

func (f *Flow) check() error {
	errs := append([]error(nil), f.errs...)
	if f.sinks > 1 {
		errs = append(errs, ErrFlowTwoSinks)
	}
	if f.overrides > 0 && f.sinks == 0 && !f.cfg.Journal.Enabled() {
		errs = append(errs, ErrFlowJournalNoSink)
	}
	return errors.Join(errs...)
}

// WithFlowOptions passes raw EngineOption values through Conf.
func WithFlowOptions(opts ...EngineOption) FlowOption {
	return FlowOption{flowStep{option: func(o *engineOverrides) {
		for _, opt := range opts {
			if opt != nil {
				opt(o)
			}
		}
	}}}
}

// StreamInCollector adds a source of classified errors.
func StreamInCollector(col Collector) StreamInOption {
	if col == nil {
		return StreamInOption{flowStep{err: errors.New("aegisisolate: nil collector")}}
	}
	return StreamInOption{flowStep{option: WithCollector(col)}}
}

// StreamInFeed reads decoder lines from path ("-" for stdin).
func StreamInFeed(path string) StreamInOption {
	return StreamInOption{flowStep{edit: func(c *Config) { c.Collectors.Feed.Path = path }}}
}

// StreamInUnits pins the number of processing units instead of counting them.
func StreamInUnits(n int) StreamInOption {
	if n <= 0 {
		return StreamInOption{flowStep{err: fmt.Errorf("aegisisolate: unit count %d must be positive", n)}}
	}
	return StreamInOption{flowStep{edit: func(c *Config) { c.Isolation.Units = n }}}
}

// StreamInPolicy sets the corrected-error threshold, the isolation limit and
// the cycle in their textual form ("18", "2", "24h"). Empty values keep the
// configured ones; the environment still wins when policy is loaded.
func StreamInPolicy(threshold, limit, cycle string) StreamInOption {
	return StreamInOption{flowStep{edit: func(c *Config) {
		if threshold != "" {
			c.Isolation.CEThreshold = threshold
		}
		if limit != "" {
			c.Isolation.IsolationLimit = limit
		}
		if cycle != "" {
			c.Isolation.Cycle = cycle
		}
	}}}
}

// StreamInUnitController swaps the sysfs CPU controller.
func StreamInUnitController(ctl UnitController) StreamInOption {
	if ctl == nil {
		return StreamInOption{flowStep{err: errors.New("aegisisolate: nil unit controller")}}
	}
	return StreamInOption{flowStep{option: WithUnitController(ctl)}}
}

// StreamInQueueFactory swaps the per-unit sliding window.
func StreamInQueueFactory(qf QueueFactory) StreamInOption {
	if qf == nil {
		return StreamInOption{flowStep{err: errors.New("aegisisolate: nil queue factory")}}
	}
	return StreamInOption{flowStep{option: WithQueueFactory(qf)}}
}

// StreamOutSink journals isolation events to s. A Flow takes one sink.
func StreamOutSink(s Sink) StreamOutOption {
	if s == nil {
		return StreamOutOption{flowStep{err: errors.New("aegisisolate: nil sink")}}
	}
	return StreamOutOption{flowStep{option: WithSink(s), sink: true}}
}

// StreamOutCallback journals isolation events to fn.
func StreamOutCallback(name string, fn EventBatchSink) StreamOutOption {
	return StreamOutOption{flowStep{option: WithSink(NewCallbackSink(name, fn)), sink: true}}
}

func StreamOutWAL(w WAL) StreamOutOption {
	if w == nil {
		return StreamOutOption{flowStep{err: errors.New("aegisisolate: nil WAL")}}
	}
	return StreamOutOption{flowStep{option: WithWAL(w), override: true}}
}

func StreamOutBuffer(b EventBuffer) StreamOutOption {
	if b == nil {
		return StreamOutOption{flowStep{err: errors.New("aegisisolate: nil event buffer")}}
	}
	return StreamOutOption{flowStep{option: WithEventBuffer(b), override: true}}
}

// StreamOutObservability replaces the Prometheus logger and metrics.
func StreamOutObservability(obs Observability) StreamOutOption {
	return StreamOutOption{flowStep{option: WithObservability(obs)}}
}
