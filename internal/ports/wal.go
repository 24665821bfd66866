package ports

import "github.com/ghalamif/AegisIsolate/internal/domain"

type WALEntryID uint64

type WAL interface {
	Append(ev *domain.IsolationEvent) (WALEntryID, error)
	Iterate(from WALEntryID, fn func(id WALEntryID, ev *domain.IsolationEvent) error) error
	Commit(upto WALEntryID) error
	TruncateCommitted() error
	Stats() WALStats
	Close() error
}

type WALStats struct {
	OldestUncommitted WALEntryID
	LatestAppended    WALEntryID
	SizeBytes         int64
}
