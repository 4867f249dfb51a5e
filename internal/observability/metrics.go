package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the liquidation core.
type Metrics struct {
	// --- Liquidation engine ---
	LiquidationsExecuted *prometheus.CounterVec
	LiquidationsRejected *prometheus.CounterVec
	LiquidationDuration  *prometheus.HistogramVec
	CollateralSeized     *prometheus.CounterVec
	DebtReduced          *prometheus.CounterVec
	BonusPaid            *prometheus.CounterVec
	SeizeRollbacks       prometheus.Counter
	CacheSyncFailures    *prometheus.CounterVec
	BatchEntries         *prometheus.HistogramVec

	// --- Risk assessor ---
	RiskQueries       *prometheus.CounterVec
	LiquidatableReads prometheus.Counter

	// --- Module resolver ---
	ResolverHits      *prometheus.CounterVec
	ResolverMisses    *prometheus.CounterVec
	ResolverExpired   *prometheus.CounterVec
	ResolverFallbacks *prometheus.CounterVec
	ResolverEntries   prometheus.Gauge

	// --- Price degradation ---
	OracleTierUsed   *prometheus.CounterVec
	OracleFeedHealth *prometheus.GaugeVec

	// --- Access control ---
	RoleGrants      *prometheus.CounterVec
	RoleRevocations *prometheus.CounterVec
	AuthFailures    *prometheus.CounterVec
	KeeperRotations prometheus.Counter

	// --- Persistence ---
	PersistRowsWritten prometheus.Counter
	PersistBatchDur    prometheus.Histogram
	PersistErrors      *prometheus.CounterVec
	PersistRetry       prometheus.Counter

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.00001, 0.00005, 0.0001, 0.00025, 0.0005,
		0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
	}

	return &Metrics{
		LiquidationsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_liquidations_executed_total",
			Help: "Liquidations fully applied",
		}, []string{"collateral_asset", "debt_asset"}),

		LiquidationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_liquidations_rejected_total",
			Help: "Liquidations rejected (validation, auth, ledger, discovery)",
		}, []string{"reason"}),

		LiquidationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_liquidation_duration_seconds",
			Help:    "End-to-end liquidation call duration",
			Buckets: latencyBuckets,
		}, []string{"outcome"}),

		CollateralSeized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_collateral_seized_total",
			Help: "Collateral seized (value scale)",
		}, []string{"asset"}),

		DebtReduced: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_debt_reduced_total",
			Help: "Debt cancelled (value scale)",
		}, []string{"asset"}),

		BonusPaid: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_liquidation_bonus_total",
			Help: "Bonus credited to liquidators (value scale)",
		}, []string{"asset"}),

		SeizeRollbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_seize_rollbacks_total",
			Help: "Compensating collateral restores after a failed debt reduce",
		}),

		CacheSyncFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_cache_sync_failures_total",
			Help: "Best-effort view cache pushes that failed",
		}, []string{"reason"}),

		BatchEntries: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_batch_entries",
			Help:    "Entries per batch call",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}, []string{"operation"}),

		RiskQueries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_risk_queries_total",
			Help: "Health factor / risk score reads",
		}, []string{"kind"}),

		LiquidatableReads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_liquidatable_reads_total",
			Help: "IsLiquidatable checks",
		}),

		ResolverHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_resolver_cache_hits_total",
			Help: "Module lookups served from the fresh cache",
		}, []string{"module"}),

		ResolverMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_resolver_cache_misses_total",
			Help: "Module lookups with no cache entry",
		}, []string{"module"}),

		ResolverExpired: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_resolver_cache_expired_total",
			Help: "Module lookups whose cache entry exceeded max age",
		}, []string{"module"}),

		ResolverFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_resolver_registry_fallbacks_total",
			Help: "Authoritative registry lookups",
		}, []string{"module", "outcome"}),

		ResolverEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_resolver_cache_entries",
			Help: "Current module cache size",
		}),

		OracleTierUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_oracle_tier_used_total",
			Help: "Valuation tier that served each price request",
		}, []string{"asset", "tier"}),

		OracleFeedHealth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_oracle_feed_healthy",
			Help: "1 if the live feed for the asset is healthy",
		}, []string{"asset"}),

		RoleGrants: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_role_grants_total",
			Help: "Role grants",
		}, []string{"role"}),

		RoleRevocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_role_revocations_total",
			Help: "Role revocations and renouncements",
		}, []string{"role"}),

		AuthFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_auth_failures_total",
			Help: "Authorization failures",
		}, []string{"operation"}),

		KeeperRotations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_keeper_rotations_total",
			Help: "Keeper rotations via SetKeeper",
		}),

		PersistRowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_rows_written_total",
			Help: "History rows written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_retry_total",
			Help: "Persistence retries",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_http_requests_total",
			Help: "HTTP API requests by method, route and status",
		}, []string{"method", "route", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_http_request_duration_seconds",
			Help:    "HTTP API request latency by method and route",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"method", "route"}),
	}
}
