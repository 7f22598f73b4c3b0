// Package registry holds the set of delivery destinations.
//
// Reads are served from an immutable snapshot swapped on every mutation, so a
// delivery cycle iterating All() never observes a half-applied change. Every
// mutation persists the complete set before the new snapshot is published.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"

	"patchwatch/internal/storage"
	kit "patchwatch/internal/transport"
	logx "patchwatch/pkg/logx"
)

// Destination is one subscriber chat with its own formatting credential.
type Destination struct {
	ID         string
	Target     kit.ChatTarget
	Tag        string // mention prepended to the header; empty means none
	Credential string
}

// ConfigError reports a destination that cannot be stored as given.
type ConfigError struct {
	ID     string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.ID == "" {
		return "invalid destination: " + e.Reason
	}
	return fmt.Sprintf("invalid destination %s: %s", e.ID, e.Reason)
}

// IsConfigError reports whether err is (or wraps) a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

type snapshot struct {
	byID   map[string]Destination
	sorted []Destination
}

type Registry struct {
	store storage.Store
	log   logx.Logger

	writeMu sync.Mutex
	snap    atomic.Pointer[snapshot]
}

func New(store storage.Store, log logx.Logger) *Registry {
	if store == nil {
		store = storage.NewMemory()
	}
	r := &Registry{store: store, log: log.With(logx.String("comp", "registry"))}
	r.snap.Store(newSnapshot(nil))
	return r
}

// Load replaces the in-memory set with the persisted one.
func (r *Registry) Load(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	recs, err := r.store.LoadDestinations(ctx)
	if err != nil {
		return fmt.Errorf("load destinations: %w", err)
	}
	byID := make(map[string]Destination, len(recs))
	for id, rec := range recs {
		if strings.TrimSpace(rec.Credential) == "" {
			r.log.Warn("skipping stored destination without credential", logx.String("id", id))
			continue
		}
		byID[id] = fromRecord(id, rec)
	}
	r.snap.Store(newSnapshot(byID))
	r.log.Info("destinations loaded", logx.Int("count", len(byID)))
	return nil
}

// Put creates or overwrites the destination with d.ID.
// A missing credential yields *ConfigError and leaves the registry unchanged.
func (r *Registry) Put(ctx context.Context, d Destination) error {
	d.ID = strings.TrimSpace(d.ID)
	d.Credential = strings.TrimSpace(d.Credential)
	d.Tag = strings.TrimSpace(d.Tag)
	if d.ID == "" {
		return &ConfigError{Reason: "id is required"}
	}
	if d.Credential == "" {
		return &ConfigError{ID: d.ID, Reason: "credential is required"}
	}
	if d.Target.ChatID == 0 {
		return &ConfigError{ID: d.ID, Reason: "target chat is required"}
	}

	return r.mutate(ctx, func(m map[string]Destination) bool {
		m[d.ID] = d
		return true
	})
}

// Remove deletes the destination with id. Unknown ids are a no-op.
func (r *Registry) Remove(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	return r.mutate(ctx, func(m map[string]Destination) bool {
		if _, ok := m[id]; !ok {
			return false
		}
		delete(m, id)
		return true
	})
}

func (r *Registry) mutate(ctx context.Context, fn func(m map[string]Destination) bool) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next := lo.Assign(r.snap.Load().byID)
	if !fn(next) {
		return nil
	}
	recs := lo.MapEntries(next, func(id string, d Destination) (string, storage.DestinationRecord) {
		return id, toRecord(d)
	})
	if err := r.store.SaveDestinations(ctx, recs); err != nil {
		return fmt.Errorf("persist destinations: %w", err)
	}
	r.snap.Store(newSnapshot(next))
	return nil
}

func (r *Registry) Get(id string) (Destination, bool) {
	d, ok := r.snap.Load().byID[strings.TrimSpace(id)]
	return d, ok
}

// All returns every destination sorted by id. The slice is a copy.
func (r *Registry) All() []Destination {
	return append([]Destination(nil), r.snap.Load().sorted...)
}

func (r *Registry) Len() int { return len(r.snap.Load().byID) }

func (r *Registry) Close() error { return r.store.Close() }

func newSnapshot(byID map[string]Destination) *snapshot {
	if byID == nil {
		byID = map[string]Destination{}
	}
	sorted := lo.Values(byID)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &snapshot{byID: byID, sorted: sorted}
}

func toRecord(d Destination) storage.DestinationRecord {
	rec := storage.DestinationRecord{
		ChatID:     d.Target.ChatID,
		ThreadID:   d.Target.ThreadID,
		Credential: d.Credential,
	}
	if d.Tag != "" {
		tag := d.Tag
		rec.Tag = &tag
	}
	return rec
}

func fromRecord(id string, rec storage.DestinationRecord) Destination {
	d := Destination{
		ID:         id,
		Target:     kit.ChatTarget{ChatID: rec.ChatID, ThreadID: rec.ThreadID},
		Credential: rec.Credential,
	}
	if rec.Tag != nil {
		d.Tag = *rec.Tag
	}
	return d
}
