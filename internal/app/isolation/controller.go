// Package isolation accumulates classified hardware errors per processing unit
// and offlines units that cross the configured policy.
package isolation

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

var (
	ErrDisabled       = errors.New("isolation: engine disabled")
	ErrNilError       = errors.New("isolation: nil classified error")
	ErrUnknownKind    = errors.New("isolation: unknown error kind")
	ErrUnitOutOfRange = errors.New("isolation: unit id out of range")
)

// Option customizes a Controller.
type Option func(*Controller)

// WithRecorder sends an audit event for every offline attempt to rec.
func WithRecorder(rec ports.EventRecorder) Option {
	return func(c *Controller) {
		c.rec = rec
	}
}

// WithClock replaces the time source used for samples submitted without a
// timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller is the isolation control loop. Submissions for different units
// run concurrently; submissions for one unit are serialized by its record lock.
type Controller struct {
	reg *Registry
	ctl ports.UnitController
	pol ports.IsolationPolicy
	obs ports.Observability
	rec ports.EventRecorder
	now func() time.Time

	enabled atomic.Bool

	// guardMu serializes the live offline-count query with the in-flight
	// reservation count so concurrent units cannot overshoot the limit.
	guardMu sync.Mutex
	pending int
}

func NewController(reg *Registry, ctl ports.UnitController, pol ports.IsolationPolicy, obs ports.Observability, opts ...Option) *Controller {
	c := &Controller{
		reg: reg,
		ctl: ctl,
		pol: pol,
		obs: obs,
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.enabled.Store(reg != nil && ctl != nil)
	return c
}

// NewDisabledController returns a controller that rejects every submission.
func NewDisabledController(obs ports.Observability) *Controller {
	return &Controller{obs: obs, now: time.Now}
}

func (c *Controller) Enabled() bool { return c.enabled.Load() }

// Disable turns every later submission into a rejected no-op.
func (c *Controller) Disable() { c.enabled.Store(false) }

func (c *Controller) Policy() ports.IsolationPolicy { return c.pol }

// Submit records one classified error and, when the policy qualifies the
// unit, attempts to offline it.
func (c *Controller) Submit(e *domain.ClassifiedError) (domain.Outcome, error) {
	outcome, ev, err := c.submit(e)
	if ev != nil && c.rec != nil {
		if rerr := c.rec.Record(ev); rerr != nil {
			c.obs.LogError("isolation_event_record_failed", rerr, ports.F("unit", ev.UnitID))
		}
	}
	return outcome, err
}

func (c *Controller) submit(e *domain.ClassifiedError) (domain.Outcome, *domain.IsolationEvent, error) {
	if !c.enabled.Load() {
		return c.reject(e, ErrDisabled)
	}
	if e == nil {
		return c.reject(e, ErrNilError)
	}
	if !e.Kind.Valid() {
		return c.reject(e, ErrUnknownKind)
	}

	u, release, ok := c.reg.acquire(e.UnitID)
	if !ok {
		return c.reject(e, ErrUnitOutOfRange)
	}
	defer release()

	c.obs.LogInfo("unit_error_received",
		ports.F("unit", u.id),
		ports.F("kind", e.Kind.String()),
		ports.F("magnitude", e.Magnitude),
		ports.F("source", e.Source))

	c.refreshState(u)
	if u.state != domain.UnitOnline {
		c.obs.IncCounter(ports.MetricIgnored, 1)
		c.obs.LogInfo("unit_not_online_ignored",
			ports.F("unit", u.id),
			ports.F("state", u.state.String()))
		return domain.OutcomeIgnored, nil, nil
	}

	c.record(u, e)

	if c.guardTripped(false) {
		c.obs.IncCounter(ports.MetricGuardBlocked, 1)
		c.obs.LogWarn("isolation_limit_reached",
			ports.F("unit", u.id),
			ports.F("limit", c.pol.IsolationLimit))
		return domain.OutcomeGuarded, nil, nil
	}

	reason, qualified := c.evaluate(u, e.Kind)
	if !qualified {
		c.obs.LogInfo("isolation_no_action", ports.F("unit", u.id))
		return domain.OutcomeNoAction, nil, nil
	}

	if c.guardTripped(true) {
		c.obs.IncCounter(ports.MetricGuardBlocked, 1)
		c.obs.LogWarn("isolation_limit_reached",
			ports.F("unit", u.id),
			ports.F("limit", c.pol.IsolationLimit),
			ports.F("in_flight", true))
		return domain.OutcomeGuarded, nil, nil
	}
	ok = c.offline(u)
	c.releaseReservation()

	ev := &domain.IsolationEvent{
		UnitID:           u.id,
		Kind:             e.Kind,
		State:            u.state,
		CorrectedTotal:   u.correctedTotal,
		UncorrectedTotal: u.uncorrectedTotal,
		Threshold:        c.pol.Threshold,
		Cycle:            c.pol.Cycle,
		Timestamp:        c.now(),
		Reason:           reason,
	}

	if !ok {
		ev.Outcome = domain.OutcomeIsolationFailed
		c.obs.LogWarn("unit_offline_failed",
			ports.F("unit", u.id),
			ports.F("state", u.state.String()))
		return domain.OutcomeIsolationFailed, ev, nil
	}

	// TODO: the counters are unreachable until the unit is re-onlined by an
	// operator; decide whether they should survive that transition instead.
	u.queue.Clear()
	u.correctedTotal = 0
	u.uncorrectedTotal = 0

	ev.Outcome = domain.OutcomeIsolated
	c.obs.LogInfo("unit_offline_succeeded",
		ports.F("unit", u.id),
		ports.F("state", u.state.String()))
	return domain.OutcomeIsolated, ev, nil
}

func (c *Controller) reject(e *domain.ClassifiedError, err error) (domain.Outcome, *domain.IsolationEvent, error) {
	c.obs.IncCounter(ports.MetricRejected, 1)
	fields := []ports.Field{}
	if e != nil {
		fields = append(fields, ports.F("unit", e.UnitID), ports.F("kind", e.Kind.String()))
	}
	if errors.Is(err, ErrDisabled) {
		c.obs.LogInfo("submission_dropped_disabled", fields...)
	} else {
		fields = append(fields, ports.F("units", c.reg.Len()))
		c.obs.LogError("submission_rejected", err, fields...)
	}
	return domain.OutcomeRejected, nil, err
}

func (c *Controller) refreshState(u *unitRecord) {
	prev := u.state
	u.state = c.ctl.Status(u.id)
	if prev != u.state {
		c.obs.LogInfo("unit_state_changed",
			ports.F("unit", u.id),
			ports.F("from", prev.String()),
			ports.F("to", u.state.String()))
	}
}

func (c *Controller) record(u *unitRecord, e *domain.ClassifiedError) {
	c.obs.IncCounter(ports.MetricErrorsRecorded, 1)

	switch e.Kind {
	case domain.Corrected:
		ts := e.Time
		if ts.IsZero() {
			ts = c.now()
		}
		if tail, ok := u.queue.PeekTail(); ok && ts.Before(tail.Timestamp) {
			c.obs.LogWarn("sample_time_regressed",
				ports.F("unit", u.id),
				ports.F("time", ts),
				ports.F("tail", tail.Timestamp))
			ts = tail.Timestamp
		}
		u.queue.Push(domain.Sample{Timestamp: ts, Magnitude: e.Magnitude})
		u.correctedTotal += e.Magnitude
	case domain.Uncorrected:
		u.uncorrectedTotal++
	}
}

func (c *Controller) evaluate(u *unitRecord, kind domain.ErrorKind) (string, bool) {
	switch kind {
	case domain.Corrected:
		u.correctedTotal -= u.queue.EvictOlderThan(c.pol.Cycle)
		c.obs.LogInfo("unit_corrected_in_cycle",
			ports.F("unit", u.id),
			ports.F("count", u.correctedTotal),
			ports.F("cycle", c.pol.Cycle.String()))
		if u.correctedTotal >= c.pol.Threshold {
			c.obs.LogWarn("corrected_threshold_exceeded",
				ports.F("unit", u.id),
				ports.F("count", u.correctedTotal),
				ports.F("threshold", c.pol.Threshold))
			return "corrected errors reached threshold", true
		}
	case domain.Uncorrected:
		if u.uncorrectedTotal > 0 {
			c.obs.LogWarn("uncorrected_error_occurred",
				ports.F("unit", u.id),
				ports.F("count", u.uncorrectedTotal))
			return "uncorrected error occurred", true
		}
	}
	return "", false
}

// guardTripped reports whether the number of offline units, re-derived from
// the operating environment plus in-flight attempts, has reached the
// isolation limit. With reserve set, a passing check takes a slot that must
// be returned through releaseReservation.
func (c *Controller) guardTripped(reserve bool) bool {
	c.guardMu.Lock()
	defer c.guardMu.Unlock()

	online, err := c.ctl.OnlineCount()
	if err != nil {
		c.obs.LogError("online_count_failed", err)
		return true
	}
	offline := c.reg.Len() - online
	if offline < 0 {
		offline = 0
	}
	c.obs.SetGauge(ports.MetricUnitsOffline, float64(offline))

	if uint64(offline+c.pending) >= c.pol.IsolationLimit {
		return true
	}
	if reserve {
		c.pending++
	}
	return false
}

func (c *Controller) releaseReservation() {
	c.guardMu.Lock()
	c.pending--
	c.guardMu.Unlock()
}

// offline writes the unit's control file and verifies the result. The state
// stays OfflineFailed unless the unit reads back as offline.
func (c *Controller) offline(u *unitRecord) bool {
	start := time.Now()
	defer func() {
		c.obs.ObserveLatency(ports.MetricOfflineLatency, time.Since(start).Seconds())
	}()

	c.obs.IncCounter(ports.MetricOfflineAttempts, 1)
	c.obs.LogInfo("unit_offline_attempt", ports.F("unit", u.id))
	u.state = domain.UnitOfflineFailed

	if err := c.ctl.SetOnline(u.id, false); err != nil {
		c.obs.IncCounter(ports.MetricOfflineFailed, 1)
		c.obs.LogError("unit_offline_write_failed", err, ports.F("unit", u.id))
		return false
	}

	if st := c.ctl.Status(u.id); st == domain.UnitOffline {
		u.state = st
		c.obs.IncCounter(ports.MetricOfflineSucceeded, 1)
		return true
	}
	c.obs.IncCounter(ports.MetricOfflineFailed, 1)
	return false
}

var _ ports.Submitter = (*Controller)(nil)
