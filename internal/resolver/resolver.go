package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Anyawb/lendrisk/internal/access"
	"github.com/Anyawb/lendrisk/internal/batch"
	"github.com/Anyawb/lendrisk/internal/ledger"
	"github.com/Anyawb/lendrisk/internal/observability"
)

// cacheEntry is one cached module address. An entry is valid only while
// now - ResolvedAt <= maxAge; expired entries force a registry fallback.
type cacheEntry struct {
	Address    string
	ResolvedAt time.Time
}

// Resolver is a TTL-bounded address cache in front of the authoritative
// registry. Lookup paths never mutate the cache; only Resolve (the
// privileged in-process path) and the admin calls write entries.
type Resolver struct {
	mu       sync.RWMutex
	cache    map[ledger.ModuleKey]cacheEntry
	registry ledger.Registry
	ctrl     *access.Controller
	maxAge   time.Duration
	maxBatch int
	metrics  *observability.Metrics
	now      func() time.Time
}

func New(registry ledger.Registry, ctrl *access.Controller, maxAge time.Duration, maxBatch int, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		cache:    make(map[ledger.ModuleKey]cacheEntry),
		registry: registry,
		ctrl:     ctrl,
		maxAge:   maxAge,
		maxBatch: maxBatch,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Resolve returns the address for a module key, refreshing the cache from
// the registry when the entry is missing or stale. This is the privileged
// path used by the engine; external read paths use Lookup.
func (r *Resolver) Resolve(ctx context.Context, key ledger.ModuleKey) (string, error) {
	if addr, ok := r.freshEntry(key); ok {
		return addr, nil
	}

	addr, err := r.fallback(ctx, key)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{Address: addr, ResolvedAt: r.now()}
	size := len(r.cache)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ResolverEntries.Set(float64(size))
	}
	return addr, nil
}

// Lookup returns the address without any cache mutation: a fresh cache
// entry is served, otherwise the registry is consulted directly.
func (r *Resolver) Lookup(ctx context.Context, key ledger.ModuleKey) (string, error) {
	if addr, ok := r.freshEntry(key); ok {
		return addr, nil
	}
	return r.fallback(ctx, key)
}

// LookupSoft is the soft variant of Lookup: an unregistered module yields
// an empty address instead of an error.
func (r *Resolver) LookupSoft(ctx context.Context, key ledger.ModuleKey) string {
	addr, err := r.Lookup(ctx, key)
	if err != nil {
		return ""
	}
	return addr
}

// Set writes a cache entry. Caller must hold the resolver-admin role.
func (r *Resolver) Set(caller uuid.UUID, key ledger.ModuleKey, addr string) error {
	if err := r.ctrl.Require(access.RoleResolverAdmin, caller); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{Address: addr, ResolvedAt: r.now()}
	size := len(r.cache)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ResolverEntries.Set(float64(size))
	}
	return nil
}

// BatchSet writes several entries from parallel key/address arrays.
// Length mismatch or an oversized batch fails before any entry is written.
func (r *Resolver) BatchSet(caller uuid.UUID, keys []ledger.ModuleKey, addrs []string) error {
	if err := r.ctrl.Require(access.RoleResolverAdmin, caller); err != nil {
		return err
	}
	if err := batch.ValidateParallel(len(keys), len(addrs), r.maxBatch); err != nil {
		return err
	}

	now := r.now()
	r.mu.Lock()
	for i, key := range keys {
		r.cache[key] = cacheEntry{Address: addrs[i], ResolvedAt: now}
	}
	size := len(r.cache)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ResolverEntries.Set(float64(size))
	}
	return nil
}

// Remove drops a cache entry. The next Resolve for the key falls back to
// the registry.
func (r *Resolver) Remove(caller uuid.UUID, key ledger.ModuleKey) error {
	if err := r.ctrl.Require(access.RoleResolverAdmin, caller); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, key)
	size := len(r.cache)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ResolverEntries.Set(float64(size))
	}
	return nil
}

// Entry exposes a cache entry for introspection and tests.
func (r *Resolver) Entry(key ledger.ModuleKey) (addr string, resolvedAt time.Time, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[key]
	return entry.Address, entry.ResolvedAt, ok
}

// MaxAge returns the configured staleness bound.
func (r *Resolver) MaxAge() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxAge
}

// SetMaxAge changes the staleness bound. Caller must hold the param-admin
// role.
func (r *Resolver) SetMaxAge(caller uuid.UUID, maxAge time.Duration) error {
	if err := r.ctrl.Require(access.RoleParamAdmin, caller); err != nil {
		return err
	}
	r.mu.Lock()
	r.maxAge = maxAge
	r.mu.Unlock()
	return nil
}

// SetClock overrides the time source. Test hook.
func (r *Resolver) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *Resolver) freshEntry(key ledger.ModuleKey) (string, bool) {
	r.mu.RLock()
	entry, ok := r.cache[key]
	maxAge := r.maxAge
	now := r.now()
	r.mu.RUnlock()

	module := string(key)
	if !ok {
		if r.metrics != nil {
			r.metrics.ResolverMisses.WithLabelValues(module).Inc()
		}
		return "", false
	}
	if now.Sub(entry.ResolvedAt) > maxAge {
		if r.metrics != nil {
			r.metrics.ResolverExpired.WithLabelValues(module).Inc()
		}
		return "", false
	}
	if r.metrics != nil {
		r.metrics.ResolverHits.WithLabelValues(module).Inc()
	}
	return entry.Address, true
}

func (r *Resolver) fallback(ctx context.Context, key ledger.ModuleKey) (string, error) {
	addr, err := r.registry.Resolve(ctx, key)
	if r.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "not_registered"
		}
		r.metrics.ResolverFallbacks.WithLabelValues(string(key), outcome).Inc()
	}
	if err != nil {
		return "", err
	}
	return addr, nil
}
