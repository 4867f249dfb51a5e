package resolver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Anyawb/lendrisk/internal/access"
	"github.com/Anyawb/lendrisk/internal/batch"
	"github.com/Anyawb/lendrisk/internal/ledger"
	"github.com/Anyawb/lendrisk/internal/resolver"
)

func newResolver(t *testing.T, maxAge time.Duration) (*resolver.Resolver, *ledger.MemoryRegistry, uuid.UUID) {
	t.Helper()
	owner := uuid.New()
	ctrl, err := access.NewController(owner, uuid.New())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	registry := ledger.NewMemoryRegistry()
	return resolver.New(registry, ctrl, maxAge, 50, nil), registry, owner
}

// ============================================================================
// Test: Resolve (write-through path)
// ============================================================================

func TestResolve_CachesRegistryAnswer(t *testing.T) {
	r, registry, _ := newResolver(t, time.Minute)
	registry.Register(ledger.ModuleCollateralLedger, "mod:a")

	addr, err := r.Resolve(context.Background(), ledger.ModuleCollateralLedger)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if addr != "mod:a" {
		t.Fatalf("got %q, want mod:a", addr)
	}

	// A fresh entry is served even after the registry moves on.
	registry.Register(ledger.ModuleCollateralLedger, "mod:b")
	addr, err = r.Resolve(context.Background(), ledger.ModuleCollateralLedger)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if addr != "mod:a" {
		t.Errorf("fresh cache entry should win, got %q", addr)
	}
}

func TestResolve_ExpiredEntryRefreshes(t *testing.T) {
	r, registry, _ := newResolver(t, time.Minute)
	registry.Register(ledger.ModuleDebtLedger, "mod:old")

	now := time.Now()
	r.SetClock(func() time.Time { return now })

	if _, err := r.Resolve(context.Background(), ledger.ModuleDebtLedger); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	registry.Register(ledger.ModuleDebtLedger, "mod:new")
	r.SetClock(func() time.Time { return now.Add(2 * time.Minute) })

	addr, err := r.Resolve(context.Background(), ledger.ModuleDebtLedger)
	if err != nil {
		t.Fatalf("resolve after expiry: %v", err)
	}
	if addr != "mod:new" {
		t.Errorf("expired entry should fall back to the registry, got %q", addr)
	}

	// The refresh rewrites the cache entry.
	entryAddr, _, ok := r.Entry(ledger.ModuleDebtLedger)
	if !ok || entryAddr != "mod:new" {
		t.Errorf("cache entry not refreshed: %q ok=%v", entryAddr, ok)
	}
}

func TestResolve_NotRegistered(t *testing.T) {
	r, _, _ := newResolver(t, time.Minute)
	_, err := r.Resolve(context.Background(), ledger.ModuleViewCache)
	if !errors.Is(err, ledger.ErrModuleNotRegistered) {
		t.Errorf("got %v, want ErrModuleNotRegistered", err)
	}
}

// ============================================================================
// Test: Lookup (read-only path)
// ============================================================================

func TestLookup_NeverMutatesCache(t *testing.T) {
	r, registry, _ := newResolver(t, time.Minute)
	registry.Register(ledger.ModulePriceFeed, "mod:feed")

	addr, err := r.Lookup(context.Background(), ledger.ModulePriceFeed)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if addr != "mod:feed" {
		t.Fatalf("got %q, want mod:feed", addr)
	}

	if _, _, ok := r.Entry(ledger.ModulePriceFeed); ok {
		t.Error("lookup must not populate the cache")
	}
}

func TestLookup_ServesFreshEntry(t *testing.T) {
	r, registry, owner := newResolver(t, time.Minute)
	if err := r.Set(owner, ledger.ModulePriceFeed, "mod:pinned"); err != nil {
		t.Fatalf("set: %v", err)
	}
	registry.Register(ledger.ModulePriceFeed, "mod:registry")

	addr, err := r.Lookup(context.Background(), ledger.ModulePriceFeed)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if addr != "mod:pinned" {
		t.Errorf("fresh cache entry should win, got %q", addr)
	}
}

func TestLookupSoft_UnregisteredYieldsEmpty(t *testing.T) {
	r, _, _ := newResolver(t, time.Minute)
	if addr := r.LookupSoft(context.Background(), ledger.ModuleViewCache); addr != "" {
		t.Errorf("got %q, want empty", addr)
	}
}

// ============================================================================
// Test: Admin writes
// ============================================================================

func TestSet_RequiresResolverAdmin(t *testing.T) {
	r, _, _ := newResolver(t, time.Minute)
	err := r.Set(uuid.New(), ledger.ModuleViewCache, "mod:x")
	if !errors.Is(err, access.ErrMissingRole) {
		t.Errorf("got %v, want ErrMissingRole", err)
	}
}

func TestBatchSet_LengthMismatch(t *testing.T) {
	r, _, owner := newResolver(t, time.Minute)
	err := r.BatchSet(owner,
		[]ledger.ModuleKey{ledger.ModuleViewCache, ledger.ModulePriceFeed},
		[]string{"mod:only-one"},
	)
	if !errors.Is(err, batch.ErrArrayLengthMismatch) {
		t.Errorf("got %v, want ErrArrayLengthMismatch", err)
	}
	if _, _, ok := r.Entry(ledger.ModuleViewCache); ok {
		t.Error("failed batch must not write any entry")
	}
}

func TestBatchSet_WritesAllEntries(t *testing.T) {
	r, _, owner := newResolver(t, time.Minute)
	err := r.BatchSet(owner,
		[]ledger.ModuleKey{ledger.ModuleViewCache, ledger.ModulePriceFeed},
		[]string{"mod:cache", "mod:feed"},
	)
	if err != nil {
		t.Fatalf("batch set: %v", err)
	}
	for key, want := range map[ledger.ModuleKey]string{
		ledger.ModuleViewCache: "mod:cache",
		ledger.ModulePriceFeed: "mod:feed",
	} {
		addr, _, ok := r.Entry(key)
		if !ok || addr != want {
			t.Errorf("%s: got %q ok=%v, want %q", key, addr, ok, want)
		}
	}
}

func TestRemove_ForcesRegistryFallback(t *testing.T) {
	r, registry, owner := newResolver(t, time.Minute)
	if err := r.Set(owner, ledger.ModuleDebtLedger, "mod:stale"); err != nil {
		t.Fatalf("set: %v", err)
	}
	registry.Register(ledger.ModuleDebtLedger, "mod:live")

	if err := r.Remove(owner, ledger.ModuleDebtLedger); err != nil {
		t.Fatalf("remove: %v", err)
	}

	addr, err := r.Resolve(context.Background(), ledger.ModuleDebtLedger)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if addr != "mod:live" {
		t.Errorf("got %q, want mod:live", addr)
	}
}

func TestSetMaxAge_RequiresParamAdmin(t *testing.T) {
	r, _, owner := newResolver(t, time.Minute)
	if err := r.SetMaxAge(uuid.New(), time.Hour); !errors.Is(err, access.ErrMissingRole) {
		t.Errorf("got %v, want ErrMissingRole", err)
	}
	if err := r.SetMaxAge(owner, time.Hour); err != nil {
		t.Fatalf("owner set max age: %v", err)
	}
	if r.MaxAge() != time.Hour {
		t.Errorf("max age: got %v, want 1h", r.MaxAge())
	}
}
