package domain

import "time"

// Sample is one corrected-error observation batch held in a unit's time window.
type Sample struct {
	Timestamp time.Time `json:"ts"`
	Magnitude uint64    `json:"magnitude"`
}
