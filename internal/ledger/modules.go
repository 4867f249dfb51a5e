package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ModuleKey is the stable identifier a module is registered under.
type ModuleKey string

const (
	ModuleCollateralLedger ModuleKey = "collateral_ledger"
	ModuleDebtLedger       ModuleKey = "debt_ledger"
	ModuleViewCache        ModuleKey = "view_cache"
	ModulePriceFeed        ModuleKey = "price_feed"
)

var (
	// ErrInsufficientCollateral is returned by a seize larger than the balance.
	ErrInsufficientCollateral = errors.New("insufficient collateral")

	// ErrInsufficientDebt is returned by a force-reduce larger than the balance.
	ErrInsufficientDebt = errors.New("insufficient debt")

	// ErrModuleNotRegistered is returned when the registry holds no address
	// for the requested module key.
	ErrModuleNotRegistered = errors.New("module not registered")

	// ErrUnknownModuleAddress is returned when an address resolved through
	// the registry is not bound to a client in the directory.
	ErrUnknownModuleAddress = errors.New("unknown module address")
)

// CollateralLedger is the external ledger owning collateral balances.
// Balances are fixed-point int64 at value scale (1e6) and never go negative:
// a seize or withdraw larger than the balance fails without side effects.
type CollateralLedger interface {
	Seize(ctx context.Context, account uuid.UUID, asset string, amount int64) error
	Deposit(ctx context.Context, account uuid.UUID, asset string, amount int64) error
	Withdraw(ctx context.Context, account uuid.UUID, asset string, amount int64) error
	BalanceOf(ctx context.Context, account uuid.UUID, asset string) (int64, error)

	// TotalValue reports the valuation-adjusted aggregate collateral value
	// for the account across all assets.
	TotalValue(ctx context.Context, account uuid.UUID) (int64, error)
}

// DebtLedger is the external ledger owning debt balances.
type DebtLedger interface {
	Borrow(ctx context.Context, account uuid.UUID, asset string, amount int64) error
	ForceReduce(ctx context.Context, account uuid.UUID, asset string, amount int64) error
	BalanceOf(ctx context.Context, account uuid.UUID, asset string) (int64, error)
	TotalValue(ctx context.Context, account uuid.UUID) (int64, error)
}

// Registry is the authoritative module-address source of truth, consulted
// by the resolver on cache miss.
type Registry interface {
	Resolve(ctx context.Context, key ModuleKey) (string, error)
}

// PriceQuote is a single price observation from a feed.
type PriceQuote struct {
	Price     int64 // fixed-point at 10^Decimals
	Timestamp time.Time
	Decimals  int
}

// PriceFeed is the external price oracle.
type PriceFeed interface {
	GetPrice(ctx context.Context, asset string) (PriceQuote, error)
}

// LiquidationUpdate is the post-liquidation delta pushed to the read cache.
type LiquidationUpdate struct {
	Account         uuid.UUID
	CollateralAsset string
	DebtAsset       string
	SeizedAmount    int64
	ReducedAmount   int64
	Liquidator      uuid.UUID
	Bonus           int64
	Timestamp       time.Time
}

// ViewCache is the downstream read-side cache. Pushes are best-effort:
// callers must tolerate errors from every method.
type ViewCache interface {
	PushLiquidationUpdate(ctx context.Context, upd LiquidationUpdate) error
	PushBatchLiquidationUpdate(ctx context.Context, upds []LiquidationUpdate) error
}
