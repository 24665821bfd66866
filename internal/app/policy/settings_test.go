package policy

import (
	"testing"
	"time"
)

func lookupMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadDisabledByDefault(t *testing.T) {
	s := Load(lookupMap(nil), 4, &recordingObs{})
	if s.Enabled {
		t.Fatalf("engine must be disabled when %s is unset", EnvEnable)
	}

	s = Load(lookupMap(map[string]string{EnvEnable: "true"}), 4, &recordingObs{})
	if s.Enabled {
		t.Fatalf("only \"yes\" enables the engine")
	}

	for _, raw := range []string{" yes", "yes\n", "y"} {
		if Load(lookupMap(map[string]string{EnvEnable: raw}), 4, &recordingObs{}).Enabled {
			t.Fatalf("switch value %q must not enable the engine", raw)
		}
	}
}

func TestLoadEnabledResolvesParams(t *testing.T) {
	s := Load(lookupMap(map[string]string{
		EnvEnable:         "YES",
		EnvThreshold:      "5",
		EnvIsolationLimit: "2",
		EnvCycle:          "10s",
	}), 4, &recordingObs{})

	if !s.Enabled {
		t.Fatalf("expected engine enabled")
	}
	pol := s.Policy()
	if pol.Threshold != 5 || pol.IsolationLimit != 2 || pol.Cycle != 10*time.Second {
		t.Fatalf("unexpected policy: %+v", pol)
	}
}

func TestIsolationLimitClampsToUnitsMinusOne(t *testing.T) {
	s := Defaults(4)
	if s.IsolationLimit.Limit != 3 || s.IsolationLimit.Value != 0 {
		t.Fatalf("expected limit 3 value 0, got %+v", s.IsolationLimit)
	}

	s = Load(lookupMap(map[string]string{
		EnvEnable:         "yes",
		EnvIsolationLimit: "64",
	}), 4, &recordingObs{})
	if s.IsolationLimit.Value != 3 {
		t.Fatalf("expected isolation limit clamped to 3, got %d", s.IsolationLimit.Value)
	}
}

func TestDefaultsPolicy(t *testing.T) {
	pol := Defaults(8).Policy()
	if pol.Threshold != DefaultThreshold || pol.Cycle != 24*time.Hour || pol.IsolationLimit != 0 {
		t.Fatalf("unexpected default policy: %+v", pol)
	}
}
