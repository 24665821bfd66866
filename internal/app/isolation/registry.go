package isolation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

// ErrInit marks a registry that could not be constructed. The engine runs
// disabled when it sees this error.
var ErrInit = errors.New("isolation: registry init failed")

// QueueFactory builds the sample window for one unit.
type QueueFactory func() ports.EventQueue

type unitRecord struct {
	mu sync.Mutex

	id               int
	correctedTotal   uint64
	uncorrectedTotal uint64
	queue            ports.EventQueue
	state            domain.UnitState
}

func (u *unitRecord) snapshotLocked() domain.UnitSnapshot {
	return domain.UnitSnapshot{
		ID:               u.id,
		State:            u.state,
		CorrectedTotal:   u.correctedTotal,
		UncorrectedTotal: u.uncorrectedTotal,
		WindowSamples:    u.queue.Len(),
	}
}

// Registry holds one record per monitored unit, addressed 0..N-1. The
// registry lock only guards the slice against Teardown; per-unit state is
// guarded by the unit's own mutex.
type Registry struct {
	mu    sync.RWMutex
	units []*unitRecord
	count int
}

func NewRegistry(unitCount int, ctl ports.UnitController, newQueue QueueFactory) (*Registry, error) {
	if unitCount <= 0 {
		return nil, fmt.Errorf("%w: unit count %d", ErrInit, unitCount)
	}
	if ctl == nil {
		return nil, fmt.Errorf("%w: unit controller is nil", ErrInit)
	}
	if newQueue == nil {
		return nil, fmt.Errorf("%w: queue factory is nil", ErrInit)
	}

	units := make([]*unitRecord, unitCount)
	for i := range units {
		q := newQueue()
		if q == nil {
			return nil, fmt.Errorf("%w: queue for unit %d", ErrInit, i)
		}
		units[i] = &unitRecord{
			id:    i,
			queue: q,
			state: ctl.Status(i),
		}
	}
	return &Registry{units: units, count: unitCount}, nil
}

// Len is the number of units the registry was built for.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return r.count
}

// HardLimit is the largest isolation count the registry allows, leaving at
// least one unit online.
func (r *Registry) HardLimit() uint64 {
	if n := r.Len(); n > 1 {
		return uint64(n - 1)
	}
	return 0
}

// acquire locks unit id and returns it with the matching release func.
func (r *Registry) acquire(id int) (*unitRecord, func(), bool) {
	if r == nil {
		return nil, nil, false
	}
	r.mu.RLock()
	if id < 0 || id >= len(r.units) {
		r.mu.RUnlock()
		return nil, nil, false
	}
	u := r.units[id]
	u.mu.Lock()
	return u, func() {
		u.mu.Unlock()
		r.mu.RUnlock()
	}, true
}

func (r *Registry) Snapshot(id int) (domain.UnitSnapshot, bool) {
	u, release, ok := r.acquire(id)
	if !ok {
		return domain.UnitSnapshot{}, false
	}
	defer release()
	return u.snapshotLocked(), true
}

func (r *Registry) Snapshots() []domain.UnitSnapshot {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UnitSnapshot, 0, len(r.units))
	for _, u := range r.units {
		u.mu.Lock()
		out = append(out, u.snapshotLocked())
		u.mu.Unlock()
	}
	return out
}

// Teardown releases every window. It is safe on a nil or already torn down
// registry.
func (r *Registry) Teardown() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.units {
		u.mu.Lock()
		u.queue.Clear()
		u.correctedTotal = 0
		u.uncorrectedTotal = 0
		u.mu.Unlock()
	}
	r.units = nil
}
