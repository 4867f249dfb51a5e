package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/Anyawb/lendrisk/internal/ledger"
)

// ============================================================================
// Test: MemoryCollateralLedger
// ============================================================================

func TestCollateralLedger_SeizeInsufficient(t *testing.T) {
	l := ledger.NewMemoryCollateralLedger()
	account := uuid.New()
	ctx := context.Background()

	if err := l.Deposit(ctx, account, "WETH", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	err := l.Seize(ctx, account, "WETH", 101)
	if !errors.Is(err, ledger.ErrInsufficientCollateral) {
		t.Errorf("got %v, want ErrInsufficientCollateral", err)
	}

	bal, _ := l.BalanceOf(ctx, account, "WETH")
	if bal != 100 {
		t.Errorf("failed seize must not change the balance, got %d", bal)
	}
}

func TestCollateralLedger_TotalValueAcrossAssets(t *testing.T) {
	l := ledger.NewMemoryCollateralLedger()
	account := uuid.New()
	other := uuid.New()
	ctx := context.Background()

	l.Deposit(ctx, account, "WETH", 100)
	l.Deposit(ctx, account, "WBTC", 250)
	l.Deposit(ctx, other, "WETH", 999)

	total, err := l.TotalValue(ctx, account)
	if err != nil {
		t.Fatalf("total value: %v", err)
	}
	if total != 350 {
		t.Errorf("got %d, want 350", total)
	}
}

// ============================================================================
// Test: MemoryDebtLedger
// ============================================================================

func TestDebtLedger_ForceReduceInsufficient(t *testing.T) {
	l := ledger.NewMemoryDebtLedger()
	account := uuid.New()
	ctx := context.Background()

	l.Borrow(ctx, account, "USDT", 50)
	err := l.ForceReduce(ctx, account, "USDT", 51)
	if !errors.Is(err, ledger.ErrInsufficientDebt) {
		t.Errorf("got %v, want ErrInsufficientDebt", err)
	}
}

func TestDebtLedger_BorrowAndReduce(t *testing.T) {
	l := ledger.NewMemoryDebtLedger()
	account := uuid.New()
	ctx := context.Background()

	l.Borrow(ctx, account, "USDT", 100)
	if err := l.ForceReduce(ctx, account, "USDT", 40); err != nil {
		t.Fatalf("force reduce: %v", err)
	}
	bal, _ := l.BalanceOf(ctx, account, "USDT")
	if bal != 60 {
		t.Errorf("got %d, want 60", bal)
	}
}

// ============================================================================
// Test: Directory
// ============================================================================

func TestDirectory_UnknownAddress(t *testing.T) {
	d := ledger.NewDirectory()
	_, err := d.Collateral("mod:missing")
	if !errors.Is(err, ledger.ErrUnknownModuleAddress) {
		t.Errorf("got %v, want ErrUnknownModuleAddress", err)
	}
}

func TestDirectory_BindAndGet(t *testing.T) {
	d := ledger.NewDirectory()
	l := ledger.NewMemoryCollateralLedger()
	d.BindCollateral("mod:collateral", l)

	got, err := d.Collateral("mod:collateral")
	if err != nil {
		t.Fatalf("collateral: %v", err)
	}
	if got != ledger.CollateralLedger(l) {
		t.Error("directory should return the bound client")
	}
}

// ============================================================================
// Test: MemoryRegistry
// ============================================================================

func TestRegistry_ResolveUnregistered(t *testing.T) {
	r := ledger.NewMemoryRegistry()
	_, err := r.Resolve(context.Background(), ledger.ModuleViewCache)
	if !errors.Is(err, ledger.ErrModuleNotRegistered) {
		t.Errorf("got %v, want ErrModuleNotRegistered", err)
	}
}

func TestRegistry_Deregister(t *testing.T) {
	r := ledger.NewMemoryRegistry()
	r.Register(ledger.ModulePriceFeed, "mod:feed")
	r.Deregister(ledger.ModulePriceFeed)
	if _, err := r.Resolve(context.Background(), ledger.ModulePriceFeed); err == nil {
		t.Error("deregistered module should not resolve")
	}
}
