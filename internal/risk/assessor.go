package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/Anyawb/lendrisk/internal/access"
	"github.com/Anyawb/lendrisk/internal/batch"
	"github.com/Anyawb/lendrisk/internal/fixedpoint"
	"github.com/Anyawb/lendrisk/internal/ledger"
	"github.com/Anyawb/lendrisk/internal/observability"
	"github.com/Anyawb/lendrisk/internal/resolver"
)

// ErrInvalidAccount is returned for zero/empty account identifiers.
var ErrInvalidAccount = errors.New("invalid account")

// HealthFactorMax is the health factor of a position with zero debt.
const HealthFactorMax = math.MaxInt64

// Risk score tiers as a step function of loan-to-value (ratio scale 1e6).
const (
	ltvTier80 = 800_000
	ltvTier60 = 600_000
	ltvTier40 = 400_000
	ltvTier20 = 200_000
)

// Assessor computes health factor and risk score from ledger-reported
// aggregate values. It performs no price lookups: the ledgers report
// already valuation-adjusted aggregates, so every read here is pure
// arithmetic and calling it twice without an intervening mutation returns
// identical results.
type Assessor struct {
	resolver  *resolver.Resolver
	directory *ledger.Directory
	ctrl      *access.Controller
	maxBatch  int
	metrics   *observability.Metrics

	mu        sync.RWMutex
	threshold int64 // liquidation threshold, ratio scale 1e6
}

func NewAssessor(
	res *resolver.Resolver,
	dir *ledger.Directory,
	ctrl *access.Controller,
	threshold int64,
	maxBatch int,
	metrics *observability.Metrics,
) *Assessor {
	return &Assessor{
		resolver:  res,
		directory: dir,
		ctrl:      ctrl,
		threshold: threshold,
		maxBatch:  maxBatch,
		metrics:   metrics,
	}
}

// HealthFactor returns aggregate collateral value * 1e6 / aggregate debt
// value. Zero debt yields HealthFactorMax; zero collateral with non-zero
// debt yields 0.
func (a *Assessor) HealthFactor(ctx context.Context, account uuid.UUID) (int64, error) {
	if account == uuid.Nil {
		return 0, fmt.Errorf("%w: zero account", ErrInvalidAccount)
	}
	if a.metrics != nil {
		a.metrics.RiskQueries.WithLabelValues("health_factor").Inc()
	}

	collateral, debt, err := a.aggregates(ctx, account)
	if err != nil {
		return 0, err
	}
	return healthFactor(collateral, debt), nil
}

// RiskScore returns an integer in [0,100] derived from loan-to-value.
func (a *Assessor) RiskScore(ctx context.Context, account uuid.UUID) (int64, error) {
	if account == uuid.Nil {
		return 0, fmt.Errorf("%w: zero account", ErrInvalidAccount)
	}
	if a.metrics != nil {
		a.metrics.RiskQueries.WithLabelValues("risk_score").Inc()
	}

	collateral, debt, err := a.aggregates(ctx, account)
	if err != nil {
		return 0, err
	}
	return riskScore(collateral, debt), nil
}

// IsLiquidatable reports whether the account's health factor is below the
// configured liquidation threshold.
func (a *Assessor) IsLiquidatable(ctx context.Context, account uuid.UUID) (bool, error) {
	hf, err := a.HealthFactor(ctx, account)
	if err != nil {
		return false, err
	}
	if a.metrics != nil {
		a.metrics.LiquidatableReads.Inc()
	}
	return hf < a.Threshold(), nil
}

// BatchHealthFactor computes health factors for a bounded batch. A zero
// account entry yields a zero result instead of aborting the batch.
func (a *Assessor) BatchHealthFactor(ctx context.Context, accounts []uuid.UUID) ([]int64, error) {
	if err := batch.ValidateSize(len(accounts), a.maxBatch); err != nil {
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.BatchEntries.WithLabelValues("health_factor").Observe(float64(len(accounts)))
	}

	out := make([]int64, len(accounts))
	for i, account := range accounts {
		if account == uuid.Nil {
			continue
		}
		collateral, debt, err := a.aggregates(ctx, account)
		if err != nil {
			return nil, err
		}
		out[i] = healthFactor(collateral, debt)
	}
	return out, nil
}

// BatchRiskScore computes risk scores for a bounded batch with the same
// zero-entry semantics as BatchHealthFactor.
func (a *Assessor) BatchRiskScore(ctx context.Context, accounts []uuid.UUID) ([]int64, error) {
	if err := batch.ValidateSize(len(accounts), a.maxBatch); err != nil {
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.BatchEntries.WithLabelValues("risk_score").Observe(float64(len(accounts)))
	}

	out := make([]int64, len(accounts))
	for i, account := range accounts {
		if account == uuid.Nil {
			continue
		}
		collateral, debt, err := a.aggregates(ctx, account)
		if err != nil {
			return nil, err
		}
		out[i] = riskScore(collateral, debt)
	}
	return out, nil
}

// Threshold returns the liquidation threshold (ratio scale 1e6).
func (a *Assessor) Threshold() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.threshold
}

// SetThreshold changes the liquidation threshold. Caller must hold the
// param-admin role.
func (a *Assessor) SetThreshold(caller uuid.UUID, threshold int64) error {
	if err := a.ctrl.Require(access.RoleParamAdmin, caller); err != nil {
		return err
	}
	if threshold <= 0 {
		return fmt.Errorf("threshold must be > 0, got %d", threshold)
	}
	a.mu.Lock()
	a.threshold = threshold
	a.mu.Unlock()
	return nil
}

// aggregates reads the valuation-adjusted totals from both ledgers.
// Read paths use Lookup so a plain query never mutates the module cache.
func (a *Assessor) aggregates(ctx context.Context, account uuid.UUID) (collateral, debt int64, err error) {
	collateralAddr, err := a.resolver.Lookup(ctx, ledger.ModuleCollateralLedger)
	if err != nil {
		return 0, 0, err
	}
	collateralLedger, err := a.directory.Collateral(collateralAddr)
	if err != nil {
		return 0, 0, err
	}

	debtAddr, err := a.resolver.Lookup(ctx, ledger.ModuleDebtLedger)
	if err != nil {
		return 0, 0, err
	}
	debtLedger, err := a.directory.Debt(debtAddr)
	if err != nil {
		return 0, 0, err
	}

	collateral, err = collateralLedger.TotalValue(ctx, account)
	if err != nil {
		return 0, 0, err
	}
	debt, err = debtLedger.TotalValue(ctx, account)
	if err != nil {
		return 0, 0, err
	}
	return collateral, debt, nil
}

func healthFactor(collateral, debt int64) int64 {
	if debt == 0 {
		return HealthFactorMax
	}
	if collateral == 0 {
		return 0
	}
	return fixedpoint.Ratio(collateral, debt, fixedpoint.RatioConfig.Scale)
}

func riskScore(collateral, debt int64) int64 {
	if debt == 0 {
		return 0
	}
	if collateral == 0 {
		return 100
	}

	ltv := fixedpoint.Ratio(debt, collateral, fixedpoint.RatioConfig.Scale)
	switch {
	case ltv >= ltvTier80:
		return 100
	case ltv >= ltvTier60:
		return 80
	case ltv >= ltvTier40:
		return 60
	case ltv >= ltvTier20:
		return 40
	default:
		return 20
	}
}
