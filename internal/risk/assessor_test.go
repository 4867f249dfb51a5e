package risk_test

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
	"github.com/Anyawb/lendrisk/internal/risk"
)

type fixture struct {
	assessor   *risk.Assessor
	collateral *ledger.MemoryCollateralLedger
	debt       *ledger.MemoryDebtLedger
	owner      uuid.UUID
}

func newFixture(t *testing.T, threshold int64) *fixture {
	t.Helper()

	owner := uuid.New()
	ctrl, err := access.NewController(owner, uuid.New())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	registry := ledger.NewMemoryRegistry()
	registry.Register(ledger.ModuleCollateralLedger, "mod:collateral")
	registry.Register(ledger.ModuleDebtLedger, "mod:debt")

	collateral := ledger.NewMemoryCollateralLedger()
	debt := ledger.NewMemoryDebtLedger()
	directory := ledger.NewDirectory()
	directory.BindCollateral("mod:collateral", collateral)
	directory.BindDebt("mod:debt", debt)

	res := resolver.New(registry, ctrl, time.Minute, 50, nil)
	return &fixture{
		assessor:   risk.NewAssessor(res, directory, ctrl, threshold, 50, nil),
		collateral: collateral,
		debt:       debt,
		owner:      owner,
	}
}

func (f *fixture) fund(t *testing.T, account uuid.UUID, collateral, debt int64) {
	t.Helper()
	ctx := context.Background()
	if collateral > 0 {
		if err := f.collateral.Deposit(ctx, account, "WETH", collateral); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	if debt > 0 {
		if err := f.debt.Borrow(ctx, account, "USDT", debt); err != nil {
			t.Fatalf("borrow: %v", err)
		}
	}
}

// ============================================================================
// Test: HealthFactor
// ============================================================================

func TestHealthFactor_ZeroDebt(t *testing.T) {
	f := newFixture(t, 1_000_000)
	account := uuid.New()
	f.fund(t, account, 100_000_000, 0)

	hf, err := f.assessor.HealthFactor(context.Background(), account)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf != risk.HealthFactorMax {
		t.Errorf("zero debt should yield HealthFactorMax, got %d", hf)
	}
}

func TestHealthFactor_ZeroCollateralWithDebt(t *testing.T) {
	f := newFixture(t, 1_000_000)
	account := uuid.New()
	f.fund(t, account, 0, 50_000_000)

	hf, err := f.assessor.HealthFactor(context.Background(), account)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf != 0 {
		t.Errorf("zero collateral with debt should yield 0, got %d", hf)
	}
}

func TestHealthFactor_Ratio(t *testing.T) {
	f := newFixture(t, 1_000_000)
	account := uuid.New()
	// 150 collateral / 100 debt -> 1.5 at 1e6 scale
	f.fund(t, account, 150_000_000, 100_000_000)

	hf, err := f.assessor.HealthFactor(context.Background(), account)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf != 1_500_000 {
		t.Errorf("got %d, want 1_500_000", hf)
	}
}

func TestHealthFactor_ExtremeRatioSaturates(t *testing.T) {
	f := newFixture(t, 1_000_000)
	account := uuid.New()
	f.fund(t, account, 1_000_000_000_000_000_000, 1)

	hf, err := f.assessor.HealthFactor(context.Background(), account)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf != risk.HealthFactorMax {
		t.Errorf("got %d, want HealthFactorMax", hf)
	}
}

func TestHealthFactor_ZeroAccount(t *testing.T) {
	f := newFixture(t, 1_000_000)
	_, err := f.assessor.HealthFactor(context.Background(), uuid.Nil)
	if !errors.Is(err, risk.ErrInvalidAccount) {
		t.Errorf("got %v, want ErrInvalidAccount", err)
	}
}

func TestHealthFactor_ReadIsIdempotent(t *testing.T) {
	f := newFixture(t, 1_000_000)
	account := uuid.New()
	f.fund(t, account, 120_000_000, 80_000_000)

	first, err := f.assessor.HealthFactor(context.Background(), account)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := f.assessor.HealthFactor(context.Background(), account)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if first != second {
		t.Errorf("repeated reads differ: %d vs %d", first, second)
	}
}

// ============================================================================
// Test: RiskScore
// ============================================================================

func TestRiskScore_Tiers(t *testing.T) {
	cases := []struct {
		name       string
		collateral int64
		debt       int64
		want       int64
	}{
		{"no debt", 100_000_000, 0, 0},
		{"no collateral", 0, 10_000_000, 100},
		{"ltv 90%", 100_000_000, 90_000_000, 100},
		{"ltv 80% boundary", 100_000_000, 80_000_000, 100},
		{"ltv 70%", 100_000_000, 70_000_000, 80},
		{"ltv 50%", 100_000_000, 50_000_000, 60},
		{"ltv 30%", 100_000_000, 30_000_000, 40},
		{"ltv 10%", 100_000_000, 10_000_000, 20},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 1_000_000)
			account := uuid.New()
			f.fund(t, account, tc.collateral, tc.debt)

			score, err := f.assessor.RiskScore(context.Background(), account)
			if err != nil {
				t.Fatalf("risk score: %v", err)
			}
			if score != tc.want {
				t.Errorf("got %d, want %d", score, tc.want)
			}
		})
	}
}

// ============================================================================
// Test: IsLiquidatable
// ============================================================================

func TestIsLiquidatable_BelowThreshold(t *testing.T) {
	f := newFixture(t, 1_000_000)
	account := uuid.New()
	f.fund(t, account, 80_000_000, 100_000_000) // HF 0.8

	liq, err := f.assessor.IsLiquidatable(context.Background(), account)
	if err != nil {
		t.Fatalf("is liquidatable: %v", err)
	}
	if !liq {
		t.Error("HF 0.8 below threshold 1.0 should be liquidatable")
	}
}

func TestIsLiquidatable_AtThreshold(t *testing.T) {
	f := newFixture(t, 1_000_000)
	account := uuid.New()
	f.fund(t, account, 100_000_000, 100_000_000) // HF exactly 1.0

	liq, err := f.assessor.IsLiquidatable(context.Background(), account)
	if err != nil {
		t.Fatalf("is liquidatable: %v", err)
	}
	if liq {
		t.Error("HF exactly at the threshold must not be liquidatable")
	}
}

func TestIsLiquidatable_UnfundedAccount(t *testing.T) {
	f := newFixture(t, 1_000_000)

	// No balances at all: zero debt, so the position is maximally healthy.
	liq, err := f.assessor.IsLiquidatable(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("is liquidatable: %v", err)
	}
	if liq {
		t.Error("account with no debt should never be liquidatable")
	}
}

// ============================================================================
// Test: Batch reads
// ============================================================================

func TestBatchHealthFactor_ZeroEntrySkipped(t *testing.T) {
	f := newFixture(t, 1_000_000)
	funded := uuid.New()
	f.fund(t, funded, 150_000_000, 100_000_000)

	out, err := f.assessor.BatchHealthFactor(context.Background(), []uuid.UUID{funded, uuid.Nil})
	if err != nil {
		t.Fatalf("batch health factor: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d results, want 2", len(out))
	}
	if out[0] != 1_500_000 {
		t.Errorf("entry 0: got %d, want 1_500_000", out[0])
	}
	if out[1] != 0 {
		t.Errorf("zero entry should yield 0, got %d", out[1])
	}
}

func TestBatchHealthFactor_Empty(t *testing.T) {
	f := newFixture(t, 1_000_000)
	_, err := f.assessor.BatchHealthFactor(context.Background(), nil)
	if !errors.Is(err, batch.ErrEmptyBatch) {
		t.Errorf("got %v, want ErrEmptyBatch", err)
	}
}

func TestBatchRiskScore_ZeroEntrySkipped(t *testing.T) {
	f := newFixture(t, 1_000_000)
	funded := uuid.New()
	f.fund(t, funded, 0, 10_000_000)

	out, err := f.assessor.BatchRiskScore(context.Background(), []uuid.UUID{uuid.Nil, funded})
	if err != nil {
		t.Fatalf("batch risk score: %v", err)
	}
	if out[0] != 0 {
		t.Errorf("zero entry should yield 0, got %d", out[0])
	}
	if out[1] != 100 {
		t.Errorf("entry 1: got %d, want 100", out[1])
	}
}

// ============================================================================
// Test: Threshold parameter
// ============================================================================

func TestSetThreshold_Gated(t *testing.T) {
	f := newFixture(t, 1_000_000)

	if err := f.assessor.SetThreshold(uuid.New(), 1_200_000); !errors.Is(err, access.ErrMissingRole) {
		t.Errorf("got %v, want ErrMissingRole", err)
	}
	if err := f.assessor.SetThreshold(f.owner, 1_200_000); err != nil {
		t.Fatalf("owner set threshold: %v", err)
	}
	if f.assessor.Threshold() != 1_200_000 {
		t.Errorf("threshold: got %d, want 1_200_000", f.assessor.Threshold())
	}
}

func TestSetThreshold_NonPositive(t *testing.T) {
	f := newFixture(t, 1_000_000)
	if err := f.assessor.SetThreshold(f.owner, 0); err == nil {
		t.Error("zero threshold should be rejected")
	}
}

// Threshold updates race liquidatability reads in production (admin API vs
// liquidation path); both sides must go through the assessor's lock.
func TestSetThreshold_ConcurrentReads(t *testing.T) {
	f := newFixture(t, 1_000_000)
	account := uuid.New()
	f.fund(t, account, 150_000_000, 100_000_000)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			target := int64(1_000_000 + (i%2)*1_000_000)
			if err := f.assessor.SetThreshold(f.owner, target); err != nil {
				t.Errorf("set threshold: %v", err)
				return
			}
		}
	}()

	ctx := context.Background()
	for i := 0; i < 200; i++ {
		if _, err := f.assessor.IsLiquidatable(ctx, account); err != nil {
			t.Fatalf("is liquidatable: %v", err)
		}
		_ = f.assessor.Threshold()
	}
	<-done

	got := f.assessor.Threshold()
	if got != 1_000_000 && got != 2_000_000 {
		t.Errorf("threshold: got %d, want one of the written values", got)
	}
}
