package domain

import (
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies a hardware error as corrected or uncorrected.
type ErrorKind uint8

const (
	Corrected ErrorKind = iota + 1
	Uncorrected
)

func (k ErrorKind) String() string {
	switch k {
	case Corrected:
		return "corrected"
	case Uncorrected:
		return "uncorrected"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the known kinds.
func (k ErrorKind) Valid() bool {
	return k == Corrected || k == Uncorrected
}

func (k ErrorKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown error kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *ErrorKind) UnmarshalText(b []byte) error {
	parsed, err := ParseErrorKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseErrorKind accepts the long names as well as the CE/UCE shorthands.
func ParseErrorKind(s string) (ErrorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "corrected", "ce":
		return Corrected, nil
	case "uncorrected", "uce", "ue":
		return Uncorrected, nil
	default:
		return 0, fmt.Errorf("unknown error kind %q", s)
	}
}

// ClassifiedError is a hardware error already attributed to one processing unit
// by an upstream decoder.
type ClassifiedError struct {
	UnitID    int       `json:"unit"`
	Kind      ErrorKind `json:"kind"`
	Magnitude uint64    `json:"magnitude,omitempty"`
	Time      time.Time `json:"time"`
	Source    string    `json:"source,omitempty"`
}
