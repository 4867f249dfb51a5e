package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Anyawb/lendrisk/internal/access"
	"github.com/Anyawb/lendrisk/internal/batch"
	"github.com/Anyawb/lendrisk/internal/event"
	"github.com/Anyawb/lendrisk/internal/fixedpoint"
	"github.com/Anyawb/lendrisk/internal/ledger"
	"github.com/Anyawb/lendrisk/internal/observability"
	"github.com/Anyawb/lendrisk/internal/resolver"
	"github.com/Anyawb/lendrisk/internal/risk"
)

var (
	// ErrZeroAddress is returned when a required account or asset
	// identifier is empty.
	ErrZeroAddress = errors.New("zero address")

	// ErrAmountIsZero is returned when a seize or reduce amount is not
	// positive.
	ErrAmountIsZero = errors.New("amount is zero")

	// ErrPositionHealthy is returned when the target position's health
	// factor is at or above the liquidation threshold.
	ErrPositionHealthy = errors.New("position not liquidatable")

	// ErrInvalidBonusRate is returned for a bonus rate outside [0, 10000]
	// basis points.
	ErrInvalidBonusRate = errors.New("invalid bonus rate")
)

// Request is one liquidation request from an authorized liquidator.
type Request struct {
	Liquidator      uuid.UUID
	Account         uuid.UUID
	CollateralAsset string
	DebtAsset       string
	SeizeAmount     int64
	ReduceAmount    int64
}

// Receipt reports a completed liquidation.
type Receipt struct {
	LiquidationID uuid.UUID `json:"liquidation_id"`
	SeizedAmount  int64     `json:"seized_amount"`
	ReducedAmount int64     `json:"reduced_amount"`
	Bonus         int64     `json:"bonus"`
	CacheSynced   bool      `json:"cache_synced"`
	Timestamp     time.Time `json:"timestamp"`
}

// BatchReceipt reports a batch liquidation with per-entry outcomes.
// Committed entries are never rolled back by a later entry's failure.
type BatchReceipt struct {
	Receipts []*Receipt
	Report   batch.Report
}

// Engine executes the liquidation state machine:
//
//	Requested -> Authorized -> LedgerUpdating -> CacheSyncing -> Completed
//
// with Rejected terminal from the first two phases. The seize+reduce pair
// inside LedgerUpdating is one rollback unit; the cache push in
// CacheSyncing is outside it and strictly best-effort.
type Engine struct {
	mu sync.Mutex // serializes state-mutating liquidation calls

	ctrl      *access.Controller
	resolver  *resolver.Resolver
	directory *ledger.Directory
	assessor  *risk.Assessor

	bonusRateBps int64
	maxBatch     int

	metrics *observability.Metrics
	log     zerolog.Logger
	events  chan<- event.Event
	now     func() time.Time
}

func New(
	ctrl *access.Controller,
	res *resolver.Resolver,
	dir *ledger.Directory,
	assessor *risk.Assessor,
	bonusRateBps int64,
	maxBatch int,
	metrics *observability.Metrics,
	log zerolog.Logger,
	events chan<- event.Event,
) *Engine {
	return &Engine{
		ctrl:         ctrl,
		resolver:     res,
		directory:    dir,
		assessor:     assessor,
		bonusRateBps: bonusRateBps,
		maxBatch:     maxBatch,
		metrics:      metrics,
		log:          log,
		events:       events,
		now:          time.Now,
	}
}

// Liquidate runs the full machine for one request. The caller either sees
// the liquidation fully applied or not applied at all.
func (e *Engine) Liquidate(ctx context.Context, req Request) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.liquidate(ctx, req)
}

// BatchLiquidate runs the machine per entry inside one call. One entry's
// failure does not roll back committed siblings; each entry's own
// seize+reduce remains atomic and each entry's cache push is independently
// best-effort.
func (e *Engine) BatchLiquidate(ctx context.Context, reqs []Request) (*BatchReceipt, error) {
	if err := batch.ValidateSize(len(reqs), e.maxBatch); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.BatchEntries.WithLabelValues("liquidate").Observe(float64(len(reqs)))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := &BatchReceipt{Receipts: make([]*Receipt, len(reqs))}
	updates := make([]ledger.LiquidationUpdate, 0, len(reqs))
	for i, req := range reqs {
		receipt, err := e.liquidate(ctx, req)
		out.Report.Append(i, err)
		out.Receipts[i] = receipt
		if err == nil {
			updates = append(updates, ledger.LiquidationUpdate{
				Account:         req.Account,
				CollateralAsset: req.CollateralAsset,
				DebtAsset:       req.DebtAsset,
				SeizedAmount:    req.SeizeAmount,
				ReducedAmount:   req.ReduceAmount,
				Liquidator:      req.Liquidator,
				Bonus:           receipt.Bonus,
				Timestamp:       receipt.Timestamp,
			})
		}
	}
	e.syncBatchCache(ctx, updates)
	return out, nil
}

// BonusRateBps returns the current liquidation bonus rate.
func (e *Engine) BonusRateBps() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bonusRateBps
}

// SetBonusRate changes the bonus rate. Caller must hold the param-admin
// role; the rate is bounded to [0, 10000] bps.
func (e *Engine) SetBonusRate(caller uuid.UUID, rateBps int64) error {
	if err := e.ctrl.Require(access.RoleParamAdmin, caller); err != nil {
		if e.metrics != nil {
			e.metrics.AuthFailures.WithLabelValues("set_bonus_rate").Inc()
		}
		return err
	}
	if rateBps < 0 || rateBps > fixedpoint.BpsDenominator {
		return fmt.Errorf("%w: %d bps", ErrInvalidBonusRate, rateBps)
	}

	e.mu.Lock()
	old := e.bonusRateBps
	e.bonusRateBps = rateBps
	e.mu.Unlock()

	e.emit(&event.ParamUpdated{
		Name:      "bonus_rate_bps",
		OldValue:  old,
		NewValue:  rateBps,
		UpdatedBy: caller,
		Timestamp: e.now(),
	})
	e.log.Info().Int64("old_bps", old).Int64("new_bps", rateBps).
		Stringer("caller", caller).Msg("bonus rate updated")
	return nil
}

func (e *Engine) liquidate(ctx context.Context, req Request) (*Receipt, error) {
	start := e.now()
	phase := PhaseRequested

	// Requested: validate before any state is touched.
	if err := validateRequest(req); err != nil {
		return nil, e.reject(start, phase, err)
	}

	// Authorized: caller must hold the liquidation role.
	if err := e.ctrl.Require(access.RoleLiquidator, req.Liquidator); err != nil {
		if e.metrics != nil {
			e.metrics.AuthFailures.WithLabelValues("liquidate").Inc()
		}
		return nil, e.reject(start, phase, err)
	}
	phase = e.advance(phase, PhaseAuthorized)

	// Eligibility pre-check through the risk assessor.
	liquidatable, err := e.assessor.IsLiquidatable(ctx, req.Account)
	if err != nil {
		return nil, e.reject(start, phase, err)
	}
	if !liquidatable {
		return nil, e.reject(start, phase, fmt.Errorf("%w: account %s", ErrPositionHealthy, req.Account))
	}

	// LedgerUpdating: resolve both ledger modules, then seize and reduce
	// as one rollback unit.
	phase = e.advance(phase, PhaseLedgerUpdating)
	collateralLedger, debtLedger, err := e.resolveLedgers(ctx)
	if err != nil {
		return nil, e.reject(start, phase, err)
	}

	if err := collateralLedger.Seize(ctx, req.Account, req.CollateralAsset, req.SeizeAmount); err != nil {
		return nil, e.reject(start, phase, err)
	}

	if err := debtLedger.ForceReduce(ctx, req.Account, req.DebtAsset, req.ReduceAmount); err != nil {
		// Compensating rollback: restore the seized collateral so the
		// two-step ledger update stays all-or-nothing.
		if e.metrics != nil {
			e.metrics.SeizeRollbacks.Inc()
		}
		if rbErr := collateralLedger.Deposit(ctx, req.Account, req.CollateralAsset, req.SeizeAmount); rbErr != nil {
			e.log.Error().Err(rbErr).Stringer("account", req.Account).
				Int64("amount", req.SeizeAmount).
				Msg("seize rollback failed; collateral conservation broken")
			return nil, e.reject(start, phase, fmt.Errorf("debt reduce failed (%v) and seize rollback failed: %w", err, rbErr))
		}
		return nil, e.reject(start, phase, err)
	}

	bonus := fixedpoint.BpsOf(req.ReduceAmount, e.bonusRateBps)
	liquidationID := uuid.New()
	completedAt := e.now()

	// CacheSyncing: advisory push, outside the rollback unit.
	phase = e.advance(phase, PhaseCacheSyncing)
	cacheSynced := e.syncCache(ctx, liquidationID, ledger.LiquidationUpdate{
		Account:         req.Account,
		CollateralAsset: req.CollateralAsset,
		DebtAsset:       req.DebtAsset,
		SeizedAmount:    req.SeizeAmount,
		ReducedAmount:   req.ReduceAmount,
		Liquidator:      req.Liquidator,
		Bonus:           bonus,
		Timestamp:       completedAt,
	})

	// Completed.
	phase = e.advance(phase, PhaseCompleted)
	e.emit(&event.LiquidationExecuted{
		LiquidationID:   liquidationID,
		Account:         req.Account,
		Liquidator:      req.Liquidator,
		CollateralAsset: req.CollateralAsset,
		DebtAsset:       req.DebtAsset,
		SeizedAmount:    req.SeizeAmount,
		ReducedAmount:   req.ReduceAmount,
		Bonus:           bonus,
		CacheSynced:     cacheSynced,
		Timestamp:       completedAt,
	})

	if e.metrics != nil {
		e.metrics.LiquidationsExecuted.WithLabelValues(req.CollateralAsset, req.DebtAsset).Inc()
		e.metrics.CollateralSeized.WithLabelValues(req.CollateralAsset).Add(float64(req.SeizeAmount))
		e.metrics.DebtReduced.WithLabelValues(req.DebtAsset).Add(float64(req.ReduceAmount))
		e.metrics.BonusPaid.WithLabelValues(req.DebtAsset).Add(float64(bonus))
		e.metrics.LiquidationDuration.WithLabelValues("completed").Observe(e.now().Sub(start).Seconds())
	}

	e.log.Info().
		Stringer("liquidation_id", liquidationID).
		Stringer("phase", phase).
		Stringer("account", req.Account).
		Stringer("liquidator", req.Liquidator).
		Int64("seized", req.SeizeAmount).
		Int64("reduced", req.ReduceAmount).
		Int64("bonus", bonus).
		Bool("cache_synced", cacheSynced).
		Msg("liquidation executed")

	return &Receipt{
		LiquidationID: liquidationID,
		SeizedAmount:  req.SeizeAmount,
		ReducedAmount: req.ReduceAmount,
		Bonus:         bonus,
		CacheSynced:   cacheSynced,
		Timestamp:     completedAt,
	}, nil
}

func (e *Engine) resolveLedgers(ctx context.Context) (ledger.CollateralLedger, ledger.DebtLedger, error) {
	collateralAddr, err := e.resolver.Resolve(ctx, ledger.ModuleCollateralLedger)
	if err != nil {
		return nil, nil, err
	}
	collateralLedger, err := e.directory.Collateral(collateralAddr)
	if err != nil {
		return nil, nil, err
	}

	debtAddr, err := e.resolver.Resolve(ctx, ledger.ModuleDebtLedger)
	if err != nil {
		return nil, nil, err
	}
	debtLedger, err := e.directory.Debt(debtAddr)
	if err != nil {
		return nil, nil, err
	}
	return collateralLedger, debtLedger, nil
}

// syncCache pushes the post-liquidation delta to the read cache. Any
// failure (unresolvable module, unbound address, downstream error) is
// converted into a CacheUpdateFailed diagnostic and never aborts the
// caller's transition.
func (e *Engine) syncCache(ctx context.Context, liquidationID uuid.UUID, upd ledger.LiquidationUpdate) bool {
	addr := e.resolver.LookupSoft(ctx, ledger.ModuleViewCache)
	if addr == "" {
		e.cacheFailure(liquidationID, "module_unresolvable")
		return false
	}

	cache, err := e.directory.ViewCache(addr)
	if err != nil {
		e.cacheFailure(liquidationID, "address_unbound")
		return false
	}

	if err := cache.PushLiquidationUpdate(ctx, upd); err != nil {
		e.log.Warn().Err(err).Stringer("liquidation_id", liquidationID).
			Msg("view cache push failed")
		e.cacheFailure(liquidationID, "push_failed")
		return false
	}
	return true
}

// syncBatchCache pushes the aggregate delta of a batch's committed entries
// so batch-oriented consumers get one message per call, alongside the
// per-entry pushes. Best-effort like the per-entry path.
func (e *Engine) syncBatchCache(ctx context.Context, upds []ledger.LiquidationUpdate) {
	if len(upds) == 0 {
		return
	}

	addr := e.resolver.LookupSoft(ctx, ledger.ModuleViewCache)
	if addr == "" {
		return
	}
	cache, err := e.directory.ViewCache(addr)
	if err != nil {
		return
	}

	if err := cache.PushBatchLiquidationUpdate(ctx, upds); err != nil {
		if e.metrics != nil {
			e.metrics.CacheSyncFailures.WithLabelValues("batch_push_failed").Inc()
		}
		e.log.Warn().Err(err).Int("entries", len(upds)).
			Msg("batch view cache push failed")
	}
}

func (e *Engine) cacheFailure(liquidationID uuid.UUID, reason string) {
	if e.metrics != nil {
		e.metrics.CacheSyncFailures.WithLabelValues(reason).Inc()
	}
	e.emit(&event.CacheUpdateFailed{
		LiquidationID: liquidationID,
		Reason:        reason,
		Timestamp:     e.now(),
	})
	e.log.Warn().Stringer("liquidation_id", liquidationID).
		Str("reason", reason).Msg("cache update failed; continuing")
}

// advance asserts a legal phase edge. An illegal edge is a programming
// error inside the engine itself, not a caller-visible condition.
func (e *Engine) advance(from, to Phase) Phase {
	if !from.CanTransitionTo(to) {
		e.log.Error().Stringer("from", from).Stringer("to", to).
			Msg("illegal liquidation phase transition")
	}
	return to
}

func (e *Engine) reject(start time.Time, from Phase, err error) error {
	e.advance(from, PhaseRejected)
	if e.metrics != nil {
		e.metrics.LiquidationsRejected.WithLabelValues(rejectReason(err)).Inc()
		e.metrics.LiquidationDuration.WithLabelValues("rejected").Observe(e.now().Sub(start).Seconds())
	}
	return err
}

// emit sends a notification without blocking: the engine never stalls on a
// slow event consumer.
func (e *Engine) emit(evt event.Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- evt:
	default:
		e.log.Warn().Str("event_type", evt.EventType().String()).
			Msg("event channel full; notification dropped")
	}
}

func validateRequest(req Request) error {
	if req.Liquidator == uuid.Nil || req.Account == uuid.Nil {
		return fmt.Errorf("%w: liquidator and account must be non-zero", ErrZeroAddress)
	}
	if req.CollateralAsset == "" || req.DebtAsset == "" {
		return fmt.Errorf("%w: collateral and debt assets must be non-empty", ErrZeroAddress)
	}
	if req.SeizeAmount <= 0 || req.ReduceAmount <= 0 {
		return fmt.Errorf("%w: seize=%d reduce=%d", ErrAmountIsZero, req.SeizeAmount, req.ReduceAmount)
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrZeroAddress):
		return "zero_address"
	case errors.Is(err, ErrAmountIsZero):
		return "amount_zero"
	case errors.Is(err, access.ErrMissingRole):
		return "missing_role"
	case errors.Is(err, ErrPositionHealthy):
		return "position_healthy"
	case errors.Is(err, ledger.ErrModuleNotRegistered):
		return "module_not_registered"
	case errors.Is(err, ledger.ErrUnknownModuleAddress):
		return "unknown_module_address"
	case errors.Is(err, ledger.ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ledger.ErrInsufficientDebt):
		return "insufficient_debt"
	default:
		return "internal"
	}
}
