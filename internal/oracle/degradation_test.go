package oracle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Anyawb/lendrisk/internal/fixedpoint"
	"github.com/Anyawb/lendrisk/internal/ledger"
	"github.com/Anyawb/lendrisk/internal/oracle"
)

func newPolicy() *oracle.Policy {
	return oracle.NewPolicy(nil, zerolog.Nop())
}

func baseConfig() oracle.Config {
	return oracle.Config{
		MaxPriceAge:     time.Minute,
		SettlementAsset: "USDT",
	}
}

// ============================================================================
// Test: tier 1, live feed
// ============================================================================

func TestValueOf_LiveFeed(t *testing.T) {
	p := newPolicy()
	feed := ledger.NewStaticPriceFeed()
	// 2.0 at price scale 1e8.
	feed.SetQuote("WETH", ledger.PriceQuote{Price: 200_000_000, Timestamp: time.Now(), Decimals: 8})

	res, err := p.ValueOf(context.Background(), feed, "WETH", 10_000_000, baseConfig())
	if err != nil {
		t.Fatalf("value of: %v", err)
	}
	if res.Tier != oracle.TierLiveFeed {
		t.Errorf("tier: got %s, want live_feed", res.Tier)
	}
	// 10 units at price 2.0 -> value 20 (value scale).
	if res.Value != 20_000_000 {
		t.Errorf("value: got %d, want 20_000_000", res.Value)
	}
}

func TestValueOf_SanityBounds(t *testing.T) {
	p := newPolicy()
	feed := ledger.NewStaticPriceFeed()
	cfg := baseConfig()
	cfg.MinPrice = 100_000_000
	cfg.MaxPrice = 300_000_000

	// Below the floor: rejected, nothing cached, so valuation fails outright.
	feed.SetQuote("WETH", ledger.PriceQuote{Price: 50_000_000, Timestamp: time.Now(), Decimals: 8})
	_, err := p.ValueOf(context.Background(), feed, "WETH", 1_000_000, cfg)
	if !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Errorf("got %v, want ErrPriceUnavailable", err)
	}
}

// ============================================================================
// Test: tier 2, cached last-good price
// ============================================================================

func TestValueOf_CachedAfterZeroPrice(t *testing.T) {
	p := newPolicy()
	feed := ledger.NewStaticPriceFeed()

	// Prime the cache with a healthy quote.
	feed.SetQuote("WETH", ledger.PriceQuote{Price: 200_000_000, Timestamp: time.Now(), Decimals: 8})
	if _, err := p.ValueOf(context.Background(), feed, "WETH", 1_000_000, baseConfig()); err != nil {
		t.Fatalf("prime: %v", err)
	}

	// Feed degrades to a zero price; the cached quote must carry the call.
	feed.SetQuote("WETH", ledger.PriceQuote{Price: 0, Timestamp: time.Now(), Decimals: 8})
	res, err := p.ValueOf(context.Background(), feed, "WETH", 5_000_000, baseConfig())
	if err != nil {
		t.Fatalf("value of: %v", err)
	}
	if res.Tier != oracle.TierCachedFeed {
		t.Errorf("tier: got %s, want cached_feed", res.Tier)
	}
	if res.Value != 10_000_000 {
		t.Errorf("value: got %d, want 10_000_000", res.Value)
	}
}

func TestValueOf_CachedAfterStalePrice(t *testing.T) {
	p := newPolicy()
	feed := ledger.NewStaticPriceFeed()
	now := time.Now()
	p.SetClock(func() time.Time { return now })

	feed.SetQuote("WETH", ledger.PriceQuote{Price: 100_000_000, Timestamp: now, Decimals: 8})
	if _, err := p.ValueOf(context.Background(), feed, "WETH", 1_000_000, baseConfig()); err != nil {
		t.Fatalf("prime: %v", err)
	}

	// The feed keeps serving the old timestamp; two minutes later it is stale.
	p.SetClock(func() time.Time { return now.Add(2 * time.Minute) })
	res, err := p.ValueOf(context.Background(), feed, "WETH", 1_000_000, baseConfig())
	if err != nil {
		t.Fatalf("value of: %v", err)
	}
	if res.Tier != oracle.TierCachedFeed {
		t.Errorf("tier: got %s, want cached_feed", res.Tier)
	}
}

// ============================================================================
// Test: tier 3, default unit price
// ============================================================================

func TestValueOf_DefaultUnitPrice(t *testing.T) {
	p := newPolicy()
	feed := ledger.NewStaticPriceFeed()
	cfg := baseConfig()
	cfg.DefaultUnitPrice = fixedpoint.PriceConfig.Scale // 1.0

	// Zero price, never primed, not the settlement asset: tier 3 applies.
	feed.SetQuote("WBTC", ledger.PriceQuote{Price: 0, Timestamp: time.Now(), Decimals: 8})
	res, err := p.ValueOf(context.Background(), feed, "WBTC", 7_000_000, cfg)
	if err != nil {
		t.Fatalf("value of: %v", err)
	}
	if res.Tier != oracle.TierDefaultUnit {
		t.Errorf("tier: got %s, want default_unit", res.Tier)
	}
	if res.Value != 7_000_000 {
		t.Errorf("unit price should value amount at par, got %d", res.Value)
	}
}

// ============================================================================
// Test: tier 4, settlement par
// ============================================================================

func TestValueOf_SettlementPar(t *testing.T) {
	p := newPolicy()
	feed := ledger.NewStaticPriceFeed() // no quote at all

	res, err := p.ValueOf(context.Background(), feed, "USDT", 42_000_000, baseConfig())
	if err != nil {
		t.Fatalf("value of: %v", err)
	}
	if res.Tier != oracle.TierSettlementPar {
		t.Errorf("tier: got %s, want settlement_par", res.Tier)
	}
	if res.Value != 42_000_000 {
		t.Errorf("par value should equal amount, got %d", res.Value)
	}
}

func TestValueOf_AllTiersExhausted(t *testing.T) {
	p := newPolicy()
	feed := ledger.NewStaticPriceFeed()

	_, err := p.ValueOf(context.Background(), feed, "WBTC", 1_000_000, baseConfig())
	if !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Errorf("got %v, want ErrPriceUnavailable", err)
	}
}

// ============================================================================
// Test: CheckFeedHealth
// ============================================================================

func TestCheckFeedHealth_Statuses(t *testing.T) {
	p := newPolicy()
	now := time.Now()
	p.SetClock(func() time.Time { return now })
	cfg := baseConfig()

	feed := ledger.NewStaticPriceFeed()

	// Unavailable: no quote.
	healthy, status := p.CheckFeedHealth(context.Background(), feed, "WETH", cfg)
	if healthy || status != oracle.FeedUnavailable {
		t.Errorf("got healthy=%v status=%s, want Unavailable", healthy, status)
	}

	// Zero price.
	feed.SetQuote("WETH", ledger.PriceQuote{Price: 0, Timestamp: now, Decimals: 8})
	healthy, status = p.CheckFeedHealth(context.Background(), feed, "WETH", cfg)
	if healthy || status != oracle.FeedZeroPrice {
		t.Errorf("got healthy=%v status=%s, want ZeroPrice", healthy, status)
	}

	// Stale.
	feed.SetQuote("WETH", ledger.PriceQuote{Price: 100_000_000, Timestamp: now.Add(-2 * time.Minute), Decimals: 8})
	healthy, status = p.CheckFeedHealth(context.Background(), feed, "WETH", cfg)
	if healthy || status != oracle.FeedStalePrice {
		t.Errorf("got healthy=%v status=%s, want StalePrice", healthy, status)
	}

	// Healthy.
	feed.SetQuote("WETH", ledger.PriceQuote{Price: 100_000_000, Timestamp: now, Decimals: 8})
	healthy, status = p.CheckFeedHealth(context.Background(), feed, "WETH", cfg)
	if !healthy || status != oracle.FeedHealthy {
		t.Errorf("got healthy=%v status=%s, want Healthy", healthy, status)
	}
}
