package rates

import "math/big"

// Utilization returns WAD × totalBorrow / totalSupplied, defined as zero when
// either side is zero. Division floors, matching the rate curve convention.
func Utilization(totalBorrow, totalSupplied *big.Int) uint64 {
	if totalBorrow == nil || totalBorrow.Sign() == 0 {
		return 0
	}
	if totalSupplied == nil || totalSupplied.Sign() == 0 {
		return 0
	}
	util := new(big.Int).Mul(totalBorrow, big.NewInt(WadScale))
	util.Quo(util, totalSupplied)
	if !util.IsUint64() {
		return ^uint64(0)
	}
	return util.Uint64()
}

// BorrowRate composes the annual borrow rate for a collateral tier:
// max(breakEven, baseRate) + tierJumpRate × utilization / WAD. All inputs and
// the result are WAD-scaled annual rates.
func BorrowRate(utilizationWad, baseRateWad, breakEvenWad, tierJumpWad uint64) uint64 {
	rate := breakEvenWad
	if baseRateWad > rate {
		rate = baseRateWad
	}
	return rate + tierJumpWad*utilizationWad/WadScale
}

// SupplyRate derives the supplier-facing annual rate from the borrow rate and
// utilization, with the protocol profit target removed. Floors at zero.
func SupplyRate(utilizationWad, borrowRateWad, profitTargetWad uint64) uint64 {
	gross := borrowRateWad * utilizationWad / WadScale
	if gross <= profitTargetWad {
		return 0
	}
	return gross - profitTargetWad
}

// BreakEvenRate annualizes the rate a pool must charge so suppliers recover
// accrued obligations: WAD × (totalBase deficit) / totalBorrow, zero when the
// pool already holds at least the supplied liquidity.
func BreakEvenRate(totalSuppliedLiquidity, totalBase, totalBorrow *big.Int) uint64 {
	if totalBorrow == nil || totalBorrow.Sign() == 0 {
		return 0
	}
	if totalSuppliedLiquidity == nil || totalBase == nil {
		return 0
	}
	deficit := new(big.Int).Sub(totalSuppliedLiquidity, totalBase)
	if deficit.Sign() <= 0 {
		return 0
	}
	rate := deficit.Mul(deficit, big.NewInt(WadScale))
	rate.Quo(rate, totalBorrow)
	if !rate.IsUint64() {
		return ^uint64(0)
	}
	return rate.Uint64()
}
