package ports

import "github.com/ghalamif/AegisIsolate/internal/domain"

type Sink interface {
	WriteBatch(events []*domain.IsolationEvent) error
	Name() string
}
