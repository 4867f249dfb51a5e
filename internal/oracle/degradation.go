package oracle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Anyawb/lendrisk/internal/fixedpoint"
	"github.com/Anyawb/lendrisk/internal/ledger"
	"github.com/Anyawb/lendrisk/internal/observability"
)

// ErrPriceUnavailable is returned when every valuation tier is exhausted.
var ErrPriceUnavailable = errors.New("price unavailable on all tiers")

// Tier identifies which fallback level served a valuation.
type Tier int

const (
	TierLiveFeed Tier = iota
	TierCachedFeed
	TierDefaultUnit
	TierSettlementPar
)

func (t Tier) String() string {
	switch t {
	case TierLiveFeed:
		return "live_feed"
	case TierCachedFeed:
		return "cached_feed"
	case TierDefaultUnit:
		return "default_unit"
	case TierSettlementPar:
		return "settlement_par"
	default:
		return "unknown"
	}
}

// FeedStatus is the fixed detail enumeration reported by CheckFeedHealth.
type FeedStatus string

const (
	FeedHealthy     FeedStatus = "Healthy"
	FeedZeroPrice   FeedStatus = "ZeroPrice"
	FeedStalePrice  FeedStatus = "StalePrice"
	FeedUnavailable FeedStatus = "Unavailable"
)

// Config carries the degradation parameters for one valuation call path.
type Config struct {
	// MaxPriceAge is the feed's staleness bound.
	MaxPriceAge time.Duration

	// MinPrice/MaxPrice are sanity bounds at price scale 1e8.
	// Zero disables the corresponding bound.
	MinPrice int64
	MaxPrice int64

	// DefaultUnitPrice (price scale) serves tier 3 when non-zero.
	DefaultUnitPrice int64

	// SettlementAsset is valued at fixed par when every feed tier fails.
	SettlementAsset string
}

// PriceResult is the per-call valuation outcome. Never persisted.
type PriceResult struct {
	Value int64 // value scale 1e6
	Price int64 // price scale 1e8
	Tier  Tier
}

// Policy implements the tiered fallback valuation strategy. The last
// accepted live price per asset is retained as the tier-2 fallback.
type Policy struct {
	mu       sync.RWMutex
	lastGood map[string]ledger.PriceQuote
	metrics  *observability.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

func NewPolicy(metrics *observability.Metrics, log zerolog.Logger) *Policy {
	return &Policy{
		lastGood: make(map[string]ledger.PriceQuote),
		metrics:  metrics,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (p *Policy) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// ValueOf values amount units of asset. Tier order, first success wins:
// live feed, last-known-good cached price, default unit price, settlement
// par. Every downgrade is logged and counted so oracle health is
// observable.
func (p *Policy) ValueOf(ctx context.Context, feed ledger.PriceFeed, asset string, amount int64, cfg Config) (PriceResult, error) {
	quote, err := feed.GetPrice(ctx, asset)
	if err == nil {
		if reason := p.rejectLive(quote, cfg); reason == "" {
			p.mu.Lock()
			p.lastGood[asset] = quote
			p.mu.Unlock()
			return p.result(asset, quote.Price, quote.Decimals, amount, TierLiveFeed), nil
		} else {
			p.log.Warn().Str("asset", asset).Str("reason", reason).
				Int64("price", quote.Price).Msg("live price rejected")
		}
	} else {
		p.log.Warn().Str("asset", asset).Err(err).Msg("price feed call failed")
	}

	p.mu.RLock()
	cached, ok := p.lastGood[asset]
	p.mu.RUnlock()
	if ok {
		return p.result(asset, cached.Price, cached.Decimals, amount, TierCachedFeed), nil
	}

	if cfg.DefaultUnitPrice > 0 {
		return p.result(asset, cfg.DefaultUnitPrice, fixedpoint.PriceConfig.DecimalPrecision, amount, TierDefaultUnit), nil
	}

	if asset != "" && asset == cfg.SettlementAsset {
		// Par value: fixed 1.0-equivalent, so the value equals the amount.
		if p.metrics != nil {
			p.metrics.OracleTierUsed.WithLabelValues(asset, TierSettlementPar.String()).Inc()
		}
		p.log.Warn().Str("asset", asset).Str("tier", TierSettlementPar.String()).
			Msg("valuation degraded")
		return PriceResult{
			Value: amount,
			Price: fixedpoint.PriceConfig.Scale,
			Tier:  TierSettlementPar,
		}, nil
	}

	return PriceResult{}, ErrPriceUnavailable
}

// CheckFeedHealth probes the live feed for an asset and reports a boolean
// plus a detail from the fixed enumeration.
func (p *Policy) CheckFeedHealth(ctx context.Context, feed ledger.PriceFeed, asset string, cfg Config) (bool, FeedStatus) {
	quote, err := feed.GetPrice(ctx, asset)

	status := FeedHealthy
	switch {
	case err != nil:
		status = FeedUnavailable
	case quote.Price == 0:
		status = FeedZeroPrice
	case cfg.MaxPriceAge > 0 && p.clock().Sub(quote.Timestamp) > cfg.MaxPriceAge:
		status = FeedStalePrice
	}

	healthy := status == FeedHealthy
	if p.metrics != nil {
		v := 0.0
		if healthy {
			v = 1.0
		}
		p.metrics.OracleFeedHealth.WithLabelValues(asset).Set(v)
	}
	return healthy, status
}

// rejectLive returns a non-empty reason when the live quote must not be
// used: zero price, stale timestamp, or a price outside the sanity bounds.
func (p *Policy) rejectLive(quote ledger.PriceQuote, cfg Config) string {
	if quote.Price <= 0 {
		return "zero_price"
	}
	if cfg.MaxPriceAge > 0 && p.clock().Sub(quote.Timestamp) > cfg.MaxPriceAge {
		return "stale_price"
	}
	if cfg.MinPrice > 0 && quote.Price < cfg.MinPrice {
		return "below_sanity_bound"
	}
	if cfg.MaxPrice > 0 && quote.Price > cfg.MaxPrice {
		return "above_sanity_bound"
	}
	return ""
}

func (p *Policy) result(asset string, price int64, decimals int, amount int64, tier Tier) PriceResult {
	if p.metrics != nil {
		p.metrics.OracleTierUsed.WithLabelValues(asset, tier.String()).Inc()
	}
	if tier != TierLiveFeed {
		p.log.Warn().Str("asset", asset).Str("tier", tier.String()).
			Msg("valuation degraded")
	}

	scale := int64(1)
	for i := 0; i < decimals; i++ {
		scale *= 10
	}
	return PriceResult{
		Value: fixedpoint.MulDiv(amount, price, scale, fixedpoint.RoundDown),
		Price: price,
		Tier:  tier,
	}
}

func (p *Policy) clock() time.Time {
	p.mu.RLock()
	now := p.now
	p.mu.RUnlock()
	return now()
}
