package ports

import "time"

// JournalPolicy bounds the isolation audit journal.
type JournalPolicy struct {
	MaxWALSizeBytes int64         `yaml:"max_wal_size_bytes"`
	MaxQueueLen     int           `yaml:"max_queue_len"`
	MaxBatchSize    int           `yaml:"max_batch_size"`
	IdleSleep       time.Duration `yaml:"idle_sleep"`
	MaxSinkRetries  int           `yaml:"max_sink_retries"`

	OnWALFull   string `yaml:"on_wal_full"`   // "block", "drop"
	OnQueueFull string `yaml:"on_queue_full"` // "reject", "block", "drop"
}
