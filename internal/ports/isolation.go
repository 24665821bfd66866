package ports

import (
	"time"

	"github.com/ghalamif/AegisIsolate/internal/domain"
)

type IsolationPolicy struct {
	Threshold      uint64
	IsolationLimit uint64
	Cycle          time.Duration
}

// Submitter is the inbound entry point of the isolation engine.
type Submitter interface {
	Submit(e *domain.ClassifiedError) (domain.Outcome, error)
}

// UnitController queries and switches the online state of processing units.
type UnitController interface {
	Status(unit int) domain.UnitState
	SetOnline(unit int, online bool) error
	OnlineCount() (int, error)
}

// EventRecorder receives audit events for every offline attempt.
type EventRecorder interface {
	Record(ev *domain.IsolationEvent) error
}
