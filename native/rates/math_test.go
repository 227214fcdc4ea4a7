package rates

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func TestRpowIdentity(t *testing.T) {
	if got := Rpow(Ray(), 1_000_000); got.Cmp(Ray()) != 0 {
		t.Fatalf("rpow of unit factor drifted: %s", got)
	}
	if got := Rpow(Ray(), 0); got.Cmp(Ray()) != 0 {
		t.Fatalf("rpow with zero exponent: %s", got)
	}
}

func TestRayMulRoundsUp(t *testing.T) {
	// 1 × 1 at ray scale is far below one ray unit; ceiling keeps the dust.
	got := RayMul(uint256.NewInt(1), uint256.NewInt(1))
	if !got.Eq(uint256.NewInt(1)) {
		t.Fatalf("expected ceiling to 1, got %s", got)
	}
	exact := RayMul(Ray(), Ray())
	if exact.Cmp(Ray()) != 0 {
		t.Fatalf("exact product must not round: %s", exact)
	}
}

func TestAnnualRateToRayPerSecond(t *testing.T) {
	factor := AnnualRateToRay(WadScale) // 100% annual
	delta := new(uint256.Int).Sub(factor, Ray())
	expected := new(uint256.Int).Div(Ray(), uint256.NewInt(SecondsPerYear))
	if delta.Cmp(expected) != 0 {
		t.Fatalf("unexpected per-second increment: got %s want %s", delta, expected)
	}
	if got := AnnualRateToRay(0); got.Cmp(Ray()) != 0 {
		t.Fatalf("zero rate must be the unit factor, got %s", got)
	}
}

func TestCompoundedDebtOneYear(t *testing.T) {
	principal := big.NewInt(1_000_000_000) // 1000 units at 6 decimals
	debt := CompoundedDebt(principal, 60_000, SecondsPerYear)

	// Per-second compounding of the additive approximation lands between the
	// simple annual rate and the continuous-compounding limit e^0.06.
	lower := big.NewInt(1_060_000_000)
	upper := big.NewInt(1_062_000_000)
	if debt.Cmp(lower) < 0 || debt.Cmp(upper) > 0 {
		t.Fatalf("compounded debt out of range: %s", debt)
	}
}

func TestCompoundedDebtNoElapsed(t *testing.T) {
	principal := big.NewInt(500)
	if got := CompoundedDebt(principal, 80_000, 0); got.Cmp(principal) != 0 {
		t.Fatalf("zero elapsed must return the principal, got %s", got)
	}
	if got := CompoundedDebt(nil, 80_000, 10); got.Sign() != 0 {
		t.Fatalf("nil principal must be zero, got %s", got)
	}
}

func TestUtilization(t *testing.T) {
	if got := Utilization(big.NewInt(0), big.NewInt(100)); got != 0 {
		t.Fatalf("no borrow must be zero utilization, got %d", got)
	}
	if got := Utilization(big.NewInt(50), big.NewInt(0)); got != 0 {
		t.Fatalf("no liquidity must be zero utilization, got %d", got)
	}
	if got := Utilization(big.NewInt(500), big.NewInt(1000)); got != 500_000 {
		t.Fatalf("expected 50%% utilization, got %d", got)
	}
}

func TestBorrowRateComposition(t *testing.T) {
	// Break-even above base: break-even wins, jump added proportionally.
	got := BorrowRate(500_000, 10_000, 30_000, 20_000)
	if got != 30_000+10_000 {
		t.Fatalf("unexpected borrow rate: %d", got)
	}
	// Base above break-even.
	got = BorrowRate(0, 50_000, 30_000, 20_000)
	if got != 50_000 {
		t.Fatalf("expected base rate floor, got %d", got)
	}
}

func TestSupplyRateFloorsAtZero(t *testing.T) {
	if got := SupplyRate(100_000, 10_000, 5_000); got != 0 {
		t.Fatalf("expected zero supply rate, got %d", got)
	}
	if got := SupplyRate(1_000_000, 60_000, 10_000); got != 50_000 {
		t.Fatalf("unexpected supply rate: %d", got)
	}
}

func TestBreakEvenRate(t *testing.T) {
	// Pool owes suppliers 100 against 1000 borrowed: 10% annual.
	got := BreakEvenRate(big.NewInt(1100), big.NewInt(1000), big.NewInt(1000))
	if got != 100_000 {
		t.Fatalf("unexpected break-even rate: %d", got)
	}
	if got := BreakEvenRate(big.NewInt(900), big.NewInt(1000), big.NewInt(1000)); got != 0 {
		t.Fatalf("surplus pool must have zero break-even, got %d", got)
	}
}
