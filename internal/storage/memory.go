package storage

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu     sync.Mutex
	data   map[string]DestinationRecord
	closed bool
}

// NewMemory returns a Store that keeps destinations in process memory.
func NewMemory() Store {
	return &memoryStore{data: map[string]DestinationRecord{}}
}

func (s *memoryStore) LoadDestinations(ctx context.Context) (map[string]DestinationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return cloneRecords(s.data), nil
}

func (s *memoryStore) SaveDestinations(ctx context.Context, all map[string]DestinationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data = cloneRecords(all)
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
