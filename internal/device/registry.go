package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides receiver management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups, so
// command handlers can resolve a receiver address without touching SQLite.
//
// The cache is populated on startup via RefreshCache() and kept in sync by
// RecordSighting, Delete, and Prune.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]Receiver // Cached receivers by UUID
	cacheMu sync.RWMutex        // Protects cache
	logger  Logger
}

// NewRegistry creates a new receiver registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]Receiver),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all receivers from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	receivers, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("refreshing receiver cache: %w", err)
	}

	r.cacheMu.Lock()
	r.cache = make(map[string]Receiver, len(receivers))
	for _, receiver := range receivers {
		r.cache[receiver.UUID] = receiver
	}
	r.cacheMu.Unlock()

	r.logger.Info("receiver cache refreshed", "count", len(receivers))
	return nil
}

// RecordSighting persists a sighting and updates the cache. The first-seen
// timestamp of an already known receiver is preserved.
func (r *Registry) RecordSighting(ctx context.Context, receiver Receiver) error {
	if !receiver.Valid() {
		return ErrInvalidReceiver
	}

	if receiver.LastSeen.IsZero() {
		receiver.LastSeen = time.Now().UTC()
	}

	r.cacheMu.RLock()
	known, exists := r.cache[receiver.UUID]
	r.cacheMu.RUnlock()
	if exists {
		receiver.FirstSeen = known.FirstSeen
	} else if receiver.FirstSeen.IsZero() {
		receiver.FirstSeen = receiver.LastSeen
	}

	if err := r.repo.Upsert(ctx, &receiver); err != nil {
		return fmt.Errorf("recording sighting: %w", err)
	}

	r.cacheMu.Lock()
	r.cache[receiver.UUID] = receiver
	r.cacheMu.Unlock()

	if !exists {
		r.logger.Info("new receiver discovered",
			"uuid", receiver.UUID,
			"name", receiver.Name,
			"address", receiver.IPAddress,
		)
	} else {
		r.logger.Debug("receiver sighting refreshed",
			"uuid", receiver.UUID,
			"address", receiver.IPAddress,
		)
	}
	return nil
}

// Get retrieves a receiver by UUID from the cache.
// Returns ErrReceiverNotFound if the receiver is not known.
func (r *Registry) Get(uuid string) (Receiver, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	receiver, ok := r.cache[uuid]
	if !ok {
		return Receiver{}, ErrReceiverNotFound
	}
	return receiver, nil
}

// List returns all cached receivers, most recently seen first.
func (r *Registry) List() []Receiver {
	r.cacheMu.RLock()
	receivers := make([]Receiver, 0, len(r.cache))
	for _, receiver := range r.cache {
		receivers = append(receivers, receiver)
	}
	r.cacheMu.RUnlock()

	sortByLastSeen(receivers)
	return receivers
}

// Count returns the number of known receivers.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Delete removes a receiver from the repository and the cache.
func (r *Registry) Delete(ctx context.Context, uuid string) error {
	if err := r.repo.Delete(ctx, uuid); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, uuid)
	r.cacheMu.Unlock()

	r.logger.Info("receiver removed", "uuid", uuid)
	return nil
}

// Prune removes receivers not seen since the cutoff from the repository and
// the cache. Returns how many were removed.
func (r *Registry) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	removed, err := r.repo.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	r.cacheMu.Lock()
	for uuid, receiver := range r.cache {
		if receiver.LastSeen.Before(cutoff) {
			delete(r.cache, uuid)
		}
	}
	r.cacheMu.Unlock()

	if removed > 0 {
		r.logger.Info("stale receivers pruned", "count", removed)
	}
	return removed, nil
}

// sortByLastSeen orders receivers most recently seen first, name as the
// tie-break.
func sortByLastSeen(receivers []Receiver) {
	sort.Slice(receivers, func(i, j int) bool {
		if !receivers[i].LastSeen.Equal(receivers[j].LastSeen) {
			return receivers[i].LastSeen.After(receivers[j].LastSeen)
		}
		return receivers[i].Name < receivers[j].Name
	})
}
