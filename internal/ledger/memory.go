package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// balanceKey identifies one (account, asset) position balance.
type balanceKey struct {
	Account uuid.UUID
	Asset   string
}

// MemoryCollateralLedger is an in-process CollateralLedger. It backs the
// standalone service mode and the test suite; in a deployment the engine
// talks to the real collateral module through the same interface.
type MemoryCollateralLedger struct {
	mu       sync.Mutex
	balances map[balanceKey]int64
}

func NewMemoryCollateralLedger() *MemoryCollateralLedger {
	return &MemoryCollateralLedger{balances: make(map[balanceKey]int64)}
}

func (l *MemoryCollateralLedger) Seize(_ context.Context, account uuid.UUID, asset string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey{Account: account, Asset: asset}
	if l.balances[key] < amount {
		return fmt.Errorf("%w: have %d, seize %d", ErrInsufficientCollateral, l.balances[key], amount)
	}
	l.balances[key] -= amount
	return nil
}

func (l *MemoryCollateralLedger) Deposit(_ context.Context, account uuid.UUID, asset string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey{Account: account, Asset: asset}
	l.balances[key] += amount
	return nil
}

func (l *MemoryCollateralLedger) Withdraw(_ context.Context, account uuid.UUID, asset string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey{Account: account, Asset: asset}
	if l.balances[key] < amount {
		return fmt.Errorf("%w: have %d, withdraw %d", ErrInsufficientCollateral, l.balances[key], amount)
	}
	l.balances[key] -= amount
	return nil
}

func (l *MemoryCollateralLedger) BalanceOf(_ context.Context, account uuid.UUID, asset string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey{Account: account, Asset: asset}], nil
}

// TotalValue sums balances across assets. The in-memory ledger carries
// already valuation-adjusted amounts, so the sum is the aggregate value.
func (l *MemoryCollateralLedger) TotalValue(_ context.Context, account uuid.UUID) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for key, bal := range l.balances {
		if key.Account == account {
			total += bal
		}
	}
	return total, nil
}

// MemoryDebtLedger is an in-process DebtLedger.
type MemoryDebtLedger struct {
	mu       sync.Mutex
	balances map[balanceKey]int64
}

func NewMemoryDebtLedger() *MemoryDebtLedger {
	return &MemoryDebtLedger{balances: make(map[balanceKey]int64)}
}

func (l *MemoryDebtLedger) Borrow(_ context.Context, account uuid.UUID, asset string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey{Account: account, Asset: asset}
	l.balances[key] += amount
	return nil
}

func (l *MemoryDebtLedger) ForceReduce(_ context.Context, account uuid.UUID, asset string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey{Account: account, Asset: asset}
	if l.balances[key] < amount {
		return fmt.Errorf("%w: have %d, reduce %d", ErrInsufficientDebt, l.balances[key], amount)
	}
	l.balances[key] -= amount
	return nil
}

func (l *MemoryDebtLedger) BalanceOf(_ context.Context, account uuid.UUID, asset string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey{Account: account, Asset: asset}], nil
}

func (l *MemoryDebtLedger) TotalValue(_ context.Context, account uuid.UUID) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for key, bal := range l.balances {
		if key.Account == account {
			total += bal
		}
	}
	return total, nil
}

// MemoryRegistry is an in-process authoritative registry.
type MemoryRegistry struct {
	entries map[ModuleKey]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[ModuleKey]string)}
}

func (r *MemoryRegistry) Register(key ModuleKey, addr string) {
	r.entries[key] = addr
}

func (r *MemoryRegistry) Deregister(key ModuleKey) {
	delete(r.entries, key)
}

func (r *MemoryRegistry) Resolve(_ context.Context, key ModuleKey) (string, error) {
	addr, ok := r.entries[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrModuleNotRegistered, key)
	}
	return addr, nil
}

// StaticPriceFeed serves fixed quotes, keyed by asset.
type StaticPriceFeed struct {
	quotes map[string]PriceQuote
}

func NewStaticPriceFeed() *StaticPriceFeed {
	return &StaticPriceFeed{quotes: make(map[string]PriceQuote)}
}

func (f *StaticPriceFeed) SetQuote(asset string, quote PriceQuote) {
	f.quotes[asset] = quote
}

func (f *StaticPriceFeed) GetPrice(_ context.Context, asset string) (PriceQuote, error) {
	quote, ok := f.quotes[asset]
	if !ok {
		return PriceQuote{}, fmt.Errorf("no quote for asset %q", asset)
	}
	return quote, nil
}

// MemoryViewCache records pushed updates. Used in tests and as the
// standalone-mode stand-in for the real read cache.
type MemoryViewCache struct {
	Updates []LiquidationUpdate
	Batches [][]LiquidationUpdate
}

func NewMemoryViewCache() *MemoryViewCache {
	return &MemoryViewCache{}
}

func (c *MemoryViewCache) PushLiquidationUpdate(_ context.Context, upd LiquidationUpdate) error {
	if upd.Timestamp.IsZero() {
		upd.Timestamp = time.Now()
	}
	c.Updates = append(c.Updates, upd)
	return nil
}

func (c *MemoryViewCache) PushBatchLiquidationUpdate(_ context.Context, upds []LiquidationUpdate) error {
	c.Batches = append(c.Batches, upds)
	return nil
}
