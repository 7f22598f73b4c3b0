package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "patchwatch/pkg/logx"
)

// fileStore keeps all destinations in a single JSON document:
//
//	{ "<id>": {"chat_id": 1, "thread_id": 0, "tag": null, "credential": "..."} }
//
// Saves write a sibling temp file, fsync it and rename it over the target.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	// leftovers of an interrupted save are never the committed state
	_ = os.Remove(path + ".tmp")
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) LoadDestinations(ctx context.Context) (map[string]DestinationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]DestinationRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]DestinationRecord{}
	if len(bytes.TrimSpace(b)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return out, nil
}

func (s *fileStore) SaveDestinations(ctx context.Context, all map[string]DestinationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if all == nil {
		all = map[string]DestinationRecord{}
	}
	b, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := writeFileAtomic(s.path, append(b, '\n'), 0o600); err != nil {
		return err
	}
	s.log.Debug("destinations saved", logx.String("path", s.path), logx.Int("count", len(all)))
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	// Persist the rename itself; not supported on every platform.
	if d, err := os.Open(filepath.Dir(path)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
