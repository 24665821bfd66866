package policy

import (
	"strings"
	"time"

	"github.com/ghalamif/AegisIsolate/internal/ports"
)

// Environment keys read at startup.
const (
	EnvEnable         = "CPU_ISOLATION_ENABLE"
	EnvThreshold      = "CPU_CE_THRESHOLD"
	EnvIsolationLimit = "CPU_ISOLATION_LIMIT"
	EnvCycle          = "CPU_ISOLATION_CYCLE"
)

const (
	DefaultThreshold = 18
	ThresholdLimit   = 10000
	DefaultCycle     = secondsPerDay
	CycleLimit       = secondsPerMonth
)

// LookupFunc resolves a configuration key, reporting whether it was set.
type LookupFunc func(key string) (string, bool)

// Settings is the resolved, read-only isolation policy.
type Settings struct {
	Enabled        bool
	Threshold      Param
	IsolationLimit Param
	Cycle          Param
}

// Defaults returns the compiled-in parameters for unitCount units. The
// isolation limit is capped at unitCount-1 so one unit always stays online.
func Defaults(unitCount int) Settings {
	var hard uint64
	if unitCount > 1 {
		hard = uint64(unitCount - 1)
	}
	return Settings{
		Threshold: Param{
			Name:  EnvThreshold,
			Value: DefaultThreshold,
			Limit: ThresholdLimit,
		},
		IsolationLimit: Param{
			Name:  EnvIsolationLimit,
			Value: 0,
			Limit: hard,
		},
		Cycle: Param{
			Name:  EnvCycle,
			Units: CycleUnits,
			Value: DefaultCycle,
			Limit: CycleLimit,
		},
	}
}

// Load resolves the enable switch and the three parameters through lookup.
// Parameters are only parsed when the engine is enabled.
func Load(lookup LookupFunc, unitCount int, obs ports.Observability) Settings {
	s := Defaults(unitCount)

	raw, ok := lookup(EnvEnable)
	s.Enabled = ok && strings.EqualFold(raw, "yes")
	if !s.Enabled {
		obs.LogWarn("isolation_disabled", ports.F("switch", EnvEnable), ports.F("value", raw))
		return s
	}
	obs.LogInfo("isolation_enabled")

	for _, p := range []*Param{&s.Threshold, &s.IsolationLimit, &s.Cycle} {
		raw, ok := lookup(p.Name)
		p.Load(raw, ok, obs)
	}
	return s
}

// Policy converts the settings into the value handed to the controller.
func (s Settings) Policy() ports.IsolationPolicy {
	return ports.IsolationPolicy{
		Threshold:      s.Threshold.Value,
		IsolationLimit: s.IsolationLimit.Value,
		Cycle:          time.Duration(s.Cycle.Value) * time.Second,
	}
}
