package aegisisolate

import (
	base "github.com/ghalamif/AegisIsolate/pkg/aegisisolate"
)

// Re-exported errors for convenience.
var (
	ErrDisabled          = base.ErrDisabled
	ErrUnitOutOfRange    = base.ErrUnitOutOfRange
	ErrUnknownKind       = base.ErrUnknownKind
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
	ErrFlowNil           = base.ErrFlowNil
	ErrFlowTwoSinks      = base.ErrFlowTwoSinks
	ErrFlowJournalNoSink = base.ErrFlowJournalNoSink
)

// Error kinds and outcomes.
const (
	Corrected   = base.Corrected
	Uncorrected = base.Uncorrected

	OutcomeRejected        = base.OutcomeRejected
	OutcomeIgnored         = base.OutcomeIgnored
	OutcomeNoAction        = base.OutcomeNoAction
	OutcomeGuarded         = base.OutcomeGuarded
	OutcomeIsolated        = base.OutcomeIsolated
	OutcomeIsolationFailed = base.OutcomeIsolationFailed
)

// Type aliases so consumers can import github.com/ghalamif/AegisIsolate directly.
type (
	Config          = base.Config
	IsolationConfig = base.IsolationConfig
	JournalConfig   = base.JournalConfig
	JournalPolicy   = base.JournalPolicy
	FeedConfig      = base.FeedConfig
	OPCUAConfig     = base.OPCUAConfig
	OPCUANodeConfig = base.OPCUANodeConfig
	TimescaleConfig = base.TimescaleConfig
	SQLiteConfig    = base.SQLiteConfig
	MetricsConfig   = base.MetricsConfig
	WALConfig       = base.WALConfig
	LogConfig       = base.LogConfig
	Flow            = base.Flow
	FlowOption      = base.FlowOption
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Engine          = base.Engine
	EngineOption    = base.EngineOption
	ClassifiedError = base.ClassifiedError
	ErrorKind       = base.ErrorKind
	Outcome         = base.Outcome
	UnitState       = base.UnitState
	UnitSnapshot    = base.UnitSnapshot
	IsolationEvent  = base.IsolationEvent
	IsolationPolicy = base.IsolationPolicy
	EventBatchSink  = base.EventBatchSink
	Collector       = base.Collector
	UnitController  = base.UnitController
	EventQueue      = base.EventQueue
	QueueFactory    = base.QueueFactory
	EventBuffer     = base.EventBuffer
	QueuedEvent     = base.QueuedEvent
	Sink            = base.Sink
	WAL             = base.WAL
	Observability   = base.Observability
	Field           = base.Field
	WALEntryID      = base.WALEntryID
	WALStats        = base.WALStats
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...EngineOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInCollector(col Collector) StreamInOption {
	return base.StreamInCollector(col)
}

func StreamInUnitController(ctl UnitController) StreamInOption {
	return base.StreamInUnitController(ctl)
}

func StreamInQueueFactory(qf QueueFactory) StreamInOption {
	return base.StreamInQueueFactory(qf)
}

func StreamInFeed(path string) StreamInOption {
	return base.StreamInFeed(path)
}

func StreamInUnits(n int) StreamInOption {
	return base.StreamInUnits(n)
}

func StreamInPolicy(threshold, limit, cycle string) StreamInOption {
	return base.StreamInPolicy(threshold, limit, cycle)
}

func StreamOutSink(s Sink) StreamOutOption {
	return base.StreamOutSink(s)
}

func StreamOutWAL(w WAL) StreamOutOption {
	return base.StreamOutWAL(w)
}

func StreamOutBuffer(b EventBuffer) StreamOutOption {
	return base.StreamOutBuffer(b)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn EventBatchSink) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Engine and options.
func NewEngine(cfg *Config, opts ...EngineOption) (*Engine, error) {
	return base.NewEngine(cfg, opts...)
}

func WithCollector(col Collector) EngineOption {
	return base.WithCollector(col)
}

func WithSink(s Sink) EngineOption {
	return base.WithSink(s)
}

func WithWAL(w WAL) EngineOption {
	return base.WithWAL(w)
}

func WithEventBuffer(b EventBuffer) EngineOption {
	return base.WithEventBuffer(b)
}

func WithObservability(obs Observability) EngineOption {
	return base.WithObservability(obs)
}

func WithUnitController(ctl UnitController) EngineOption {
	return base.WithUnitController(ctl)
}

func WithQueueFactory(f QueueFactory) EngineOption {
	return base.WithQueueFactory(f)
}

// Sink adapters.
func NewCallbackSink(name string, fn EventBatchSink) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan []IsolationEvent, func()) {
	return base.NewChannelSink(name, buffer)
}
