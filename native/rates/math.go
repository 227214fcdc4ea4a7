package rates

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Fixed-point scales. Protocol percentages, rates and prices use WAD (1e6 =
// 100%); compounding runs internally at RAY (1e27) precision.
const (
	WadScale       = 1_000_000
	SecondsPerYear = 31_536_000
)

var (
	wad = uint256.NewInt(WadScale)
	ray = mustUint256("1000000000000000000000000000") // 1e27
	// wadToRay lifts a WAD value into RAY scale.
	wadToRay = mustUint256("1000000000000000000000") // 1e21
)

func mustUint256(value string) *uint256.Int {
	v, err := uint256.FromDecimal(value)
	if err != nil {
		panic("invalid uint256 constant: " + value)
	}
	return v
}

// Ray returns a copy of the RAY unit value.
func Ray() *uint256.Int { return new(uint256.Int).Set(ray) }

// RayMul multiplies two ray-scaled values rounding the result up. Compounding
// applies this rounding on every step, so the direction must never change.
func RayMul(a, b *uint256.Int) *uint256.Int {
	if a == nil || b == nil || a.IsZero() || b.IsZero() {
		return uint256.NewInt(0)
	}
	product := new(uint256.Int).Mul(a, b)
	quot, rem := new(uint256.Int).DivMod(product, ray, new(uint256.Int))
	if !rem.IsZero() {
		quot.AddUint64(quot, 1)
	}
	return quot
}

// RayDiv divides two ray-scaled values rounding the result down.
func RayDiv(a, b *uint256.Int) *uint256.Int {
	if a == nil || b == nil || b.IsZero() {
		return uint256.NewInt(0)
	}
	numerator := new(uint256.Int).Mul(a, ray)
	return numerator.Div(numerator, b)
}

// Rpow raises a ray-scaled base to the n-th power via binary exponentiation.
func Rpow(base *uint256.Int, n uint64) *uint256.Int {
	result := Ray()
	if base == nil || n == 0 {
		return result
	}
	factor := new(uint256.Int).Set(base)
	for n > 0 {
		if n&1 == 1 {
			result = RayMul(result, factor)
		}
		n >>= 1
		if n > 0 {
			factor = RayMul(factor, factor)
		}
	}
	return result
}

// AnnualRateToRay converts a WAD-scaled annual rate into a per-second ray
// growth factor: RAY + rateRay/secondsPerYear. The additive first-order
// approximation is the protocol's compounding primitive and must be preserved
// exactly; a mathematically exact (1+r)^(1/n) root would change every accrued
// debt value.
func AnnualRateToRay(annualRateWad uint64) *uint256.Int {
	if annualRateWad == 0 {
		return Ray()
	}
	rateRay := new(uint256.Int).Mul(uint256.NewInt(annualRateWad), wadToRay)
	perSecond := rateRay.Div(rateRay, uint256.NewInt(SecondsPerYear))
	return perSecond.Add(perSecond, ray)
}

// AccrueInterest compounds a principal at the supplied per-second ray factor
// over the elapsed seconds: principal × factor^elapsed / RAY.
func AccrueInterest(principal *uint256.Int, perSecondFactor *uint256.Int, elapsed uint64) *uint256.Int {
	if principal == nil || principal.IsZero() {
		return uint256.NewInt(0)
	}
	if elapsed == 0 {
		return new(uint256.Int).Set(principal)
	}
	growth := Rpow(perSecondFactor, elapsed)
	scaled := new(uint256.Int).Mul(principal, growth)
	return scaled.Div(scaled, ray)
}

// CompoundedDebt computes the debt grown from principal at a WAD annual rate
// over elapsed seconds, operating on big.Int at the package edge.
func CompoundedDebt(principal *big.Int, annualRateWad uint64, elapsed uint64) *big.Int {
	if principal == nil || principal.Sign() <= 0 {
		return big.NewInt(0)
	}
	p, overflow := uint256.FromBig(principal)
	if overflow {
		return new(big.Int).Set(principal)
	}
	grown := AccrueInterest(p, AnnualRateToRay(annualRateWad), elapsed)
	return grown.ToBig()
}
