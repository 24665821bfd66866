// Package policy parses the numeric isolation parameters from their
// environment-style string form.
package policy

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ghalamif/AegisIsolate/internal/ports"
)

var (
	ErrEmptyValue   = errors.New("policy: empty value")
	ErrInvalidDigit = errors.New("policy: invalid digit")
	ErrOutOfRange   = errors.New("policy: value out of range")
	ErrUnknownUnit  = errors.New("policy: unknown unit")
)

// ConfigError reports a raw parameter string that could not be parsed.
type ConfigError struct {
	Param string
	Raw   string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s=%q: %v", e.Param, e.Raw, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Unit is a case-insensitive suffix and the multiplier it applies.
type Unit struct {
	Suffix     string
	Multiplier uint64
}

const (
	secondsPerMinute = 60
	secondsPerHour   = 60 * secondsPerMinute
	secondsPerDay    = 24 * secondsPerHour
	secondsPerMonth  = 30 * secondsPerDay
)

// CycleUnits are the suffixes accepted by the aggregation cycle.
var CycleUnits = []Unit{
	{Suffix: "d", Multiplier: secondsPerDay},
	{Suffix: "h", Multiplier: secondsPerHour},
	{Suffix: "m", Multiplier: secondsPerMinute},
	{Suffix: "s", Multiplier: 1},
}

// Param is one named numeric policy value with a hard upper bound.
type Param struct {
	Name  string
	Units []Unit
	Value uint64
	Limit uint64
}

// Parse converts raw into a value. An optional single trailing letter is
// looked up in the parameter's unit table; everything before it must be
// decimal digits.
func (p *Param) Parse(raw string) (uint64, error) {
	if raw == "" {
		return 0, p.fail(raw, ErrEmptyValue)
	}

	digits, suffix := raw, ""
	if last := raw[len(raw)-1]; isAlpha(last) {
		digits, suffix = raw[:len(raw)-1], raw[len(raw)-1:]
		if digits == "" {
			return 0, p.fail(raw, ErrEmptyValue)
		}
	}

	var value uint64
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return 0, p.fail(raw, ErrInvalidDigit)
		}
		d := uint64(c - '0')
		if value > (math.MaxUint64-d)/10 {
			return 0, p.fail(raw, ErrOutOfRange)
		}
		value = value*10 + d
	}

	if suffix == "" {
		return value, nil
	}

	for _, u := range p.Units {
		if !strings.EqualFold(u.Suffix, suffix) {
			continue
		}
		if u.Multiplier != 0 && value > math.MaxUint64/u.Multiplier {
			return 0, p.fail(raw, ErrOutOfRange)
		}
		return value * u.Multiplier, nil
	}
	return 0, p.fail(raw, fmt.Errorf("%w %q", ErrUnknownUnit, suffix))
}

// Load applies raw to the parameter. A missing or malformed value keeps the
// compiled-in default; a parsed value above Limit is clamped.
func (p *Param) Load(raw string, present bool, obs ports.Observability) {
	if !present {
		obs.LogInfo("policy_param_default",
			ports.F("param", p.Name),
			ports.F("value", p.Value))
		return
	}

	v, err := p.Parse(raw)
	if err != nil {
		obs.LogWarn("policy_param_invalid",
			ports.F("param", p.Name),
			ports.F("raw", raw),
			ports.F("error", err.Error()),
			ports.F("default", p.Value))
		obs.IncCounter(ports.MetricConfigErrors, 1)
		return
	}

	p.Value = v
	p.clamp(obs)
}

func (p *Param) clamp(obs ports.Observability) {
	if p.Value <= p.Limit {
		return
	}
	obs.LogWarn("policy_param_clamped",
		ports.F("param", p.Name),
		ports.F("value", p.Value),
		ports.F("limit", p.Limit))
	p.Value = p.Limit
}

func (p *Param) fail(raw string, err error) error {
	return &ConfigError{Param: p.Name, Raw: raw, Err: err}
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
