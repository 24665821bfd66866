package ports

import "github.com/ghalamif/AegisIsolate/internal/domain"

// Collector delivers classified errors produced by an external decoder.
type Collector interface {
	Start(out chan<- *domain.ClassifiedError) error
	Stop() error
	Name() string
}
