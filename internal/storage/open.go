package storage

import (
	"context"
	"fmt"
	"strings"

	logx "patchwatch/pkg/logx"
)

// Store persists the full destination map.
//
// SaveDestinations replaces everything previously stored; it must either fully
// succeed or leave the previous state intact.
type Store interface {
	LoadDestinations(ctx context.Context) (map[string]DestinationRecord, error)
	SaveDestinations(ctx context.Context, all map[string]DestinationRecord) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "none":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

func cloneRecords(in map[string]DestinationRecord) map[string]DestinationRecord {
	out := make(map[string]DestinationRecord, len(in))
	for k, v := range in {
		if v.Tag != nil {
			tag := *v.Tag
			v.Tag = &tag
		}
		out[k] = v
	}
	return out
}
