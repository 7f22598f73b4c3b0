package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": JSON document at Path (default)
//   - "sqlite": SQLite database file at Path
//   - "memory": process memory only, nothing survives a restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DestinationRecord is the persisted form of one destination, keyed by
// destination id in the stored map.
//
// Tag is nil when no mention tag was configured.
type DestinationRecord struct {
	ChatID     int64   `json:"chat_id"`
	ThreadID   int     `json:"thread_id"`
	Tag        *string `json:"tag"`
	Credential string  `json:"credential"`
}
