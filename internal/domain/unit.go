package domain

import (
	"fmt"
	"time"
)

// UnitState mirrors the values exposed by the kernel online control file:
// 0 is offline and 1 is online.
type UnitState int

const (
	UnitOffline UnitState = iota
	UnitOnline
	UnitOfflineFailed
	UnitUnknown
)

var unitStateNames = [...]string{
	UnitOffline:       "offline",
	UnitOnline:        "online",
	UnitOfflineFailed: "offline-failed",
	UnitUnknown:       "unknown",
}

func (s UnitState) String() string {
	if s < 0 || int(s) >= len(unitStateNames) {
		return unitStateNames[UnitUnknown]
	}
	return unitStateNames[s]
}

func (s UnitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *UnitState) UnmarshalText(b []byte) error {
	for i, name := range unitStateNames {
		if name == string(b) {
			*s = UnitState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown unit state %q", b)
}

// Outcome is what the controller did with one submission.
type Outcome uint8

const (
	OutcomeRejected Outcome = iota
	OutcomeIgnored
	OutcomeNoAction
	OutcomeGuarded
	OutcomeIsolated
	OutcomeIsolationFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeNoAction:
		return "no_action"
	case OutcomeGuarded:
		return "guarded"
	case OutcomeIsolated:
		return "isolated"
	case OutcomeIsolationFailed:
		return "isolation_failed"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	for c := OutcomeRejected; c <= OutcomeIsolationFailed; c++ {
		if c.String() == string(b) {
			*o = c
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// IsolationEvent is the audit record written for every offline attempt.
type IsolationEvent struct {
	UnitID           int           `json:"unit"`
	Kind             ErrorKind     `json:"kind"`
	Outcome          Outcome       `json:"outcome"`
	State            UnitState     `json:"state"`
	CorrectedTotal   uint64        `json:"corrected_total"`
	UncorrectedTotal uint64        `json:"uncorrected_total"`
	Threshold        uint64        `json:"threshold"`
	Cycle            time.Duration `json:"cycle"`
	Timestamp        time.Time     `json:"ts"`
	Reason           string        `json:"reason,omitempty"`
}

// UnitSnapshot is a point-in-time copy of one unit record.
type UnitSnapshot struct {
	ID               int       `json:"id"`
	State            UnitState `json:"state"`
	CorrectedTotal   uint64    `json:"corrected_total"`
	UncorrectedTotal uint64    `json:"uncorrected_total"`
	WindowSamples    int       `json:"window_samples"`
}
