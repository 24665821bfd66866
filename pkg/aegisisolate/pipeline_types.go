package aegisisolate

import (
	"github.com/ghalamif/AegisIsolate/internal/app/isolation"
	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

// ClassifiedError is one hardware error already attributed to a processing unit.
type ClassifiedError = domain.ClassifiedError

// ErrorKind distinguishes corrected from uncorrected errors.
type ErrorKind = domain.ErrorKind

// Outcome reports what the engine did with a submission.
type Outcome = domain.Outcome

// UnitState is the online state of a processing unit.
type UnitState = domain.UnitState

// UnitSnapshot is a point-in-time view of one unit's counters.
type UnitSnapshot = domain.UnitSnapshot

// IsolationEvent is the audit record written for every offline attempt.
type IsolationEvent = domain.IsolationEvent

// IsolationPolicy is the resolved threshold, limit and cycle.
type IsolationPolicy = ports.IsolationPolicy

// Collector streams classified errors from a decoder (feed, OPC UA, etc.) into the engine.
type Collector = ports.Collector

// UnitController switches processing units online and offline.
type UnitController = ports.UnitController

// EventQueue is the per-unit sliding window of corrected errors.
type EventQueue = ports.EventQueue

// QueueFactory builds one EventQueue per unit.
type QueueFactory = isolation.QueueFactory

// EventBuffer is the bounded queue between the journal WAL and the sink.
type EventBuffer = ports.EventBuffer

// QueuedEvent is an item buffered inside the EventBuffer.
type QueuedEvent = ports.QueuedEvent

// Sink persists batches of isolation events.
type Sink = ports.Sink

// Observability emits logs and metrics for the engine.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// WAL abstracts the journal write-ahead log.
type WAL = ports.WAL

// WALStats exposes WAL metadata for observability.
type WALStats = ports.WALStats

// WALEntryID uniquely identifies a WAL entry.
type WALEntryID = ports.WALEntryID

const (
	Corrected   = domain.Corrected
	Uncorrected = domain.Uncorrected
)

const (
	OutcomeRejected        = domain.OutcomeRejected
	OutcomeIgnored         = domain.OutcomeIgnored
	OutcomeNoAction        = domain.OutcomeNoAction
	OutcomeGuarded         = domain.OutcomeGuarded
	OutcomeIsolated        = domain.OutcomeIsolated
	OutcomeIsolationFailed = domain.OutcomeIsolationFailed
)

const (
	UnitOffline       = domain.UnitOffline
	UnitOnline        = domain.UnitOnline
	UnitOfflineFailed = domain.UnitOfflineFailed
	UnitUnknown       = domain.UnitUnknown
)

var (
	ErrDisabled       = isolation.ErrDisabled
	ErrUnitOutOfRange = isolation.ErrUnitOutOfRange
	ErrUnknownKind    = isolation.ErrUnknownKind
)
