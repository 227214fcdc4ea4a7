package lending

import (
	"math/big"

	"lendmesh/native/assets"
)

// thresholdScale is the per-mille basis of borrow/liquidation thresholds.
const thresholdScale = 1000

// maxHealthFactor is returned for debt-free positions.
var maxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// riskMetrics aggregates the collateral valuation of one position in base
// asset units.
type riskMetrics struct {
	CollateralValue  *big.Int
	CreditLimit      *big.Int
	LiquidationLevel *big.Int
	// Tier is the riskiest tier across held assets; it selects the borrow
	// rate premium and the liquidation fee.
	Tier assets.Tier
}

// assetValue converts a collateral amount into base units at full precision:
// amount × price × 10^baseDecimals / (basePrice × 10^assetDecimals), with the
// threshold ratio folded into the same division when requested.
func assetValue(amount, price, basePrice *big.Int, assetDecimals, baseDecimals uint8, thresholdPerMille uint64) *big.Int {
	num := new(big.Int).Mul(amount, price)
	num.Mul(num, pow10(baseDecimals))
	den := new(big.Int).Mul(basePrice, pow10(assetDecimals))
	if thresholdPerMille > 0 {
		num.Mul(num, new(big.Int).SetUint64(thresholdPerMille))
		den.Mul(den, big.NewInt(thresholdScale))
	}
	if den.Sign() == 0 {
		return big.NewInt(0)
	}
	return num.Quo(num, den)
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// computeMetrics walks the collateral book and prices every holding through
// the asset module.
func computeMetrics(book *CollateralBook, view AssetsView, basePrice *big.Int, baseDecimals uint8) (riskMetrics, error) {
	metrics := riskMetrics{
		CollateralValue:  big.NewInt(0),
		CreditLimit:      big.NewInt(0),
		LiquidationLevel: big.NewInt(0),
		Tier:             assets.TierStable,
	}
	if book == nil {
		return metrics, nil
	}
	for _, entry := range book.Entries() {
		params, err := view.Params(entry.Symbol)
		if err != nil {
			return riskMetrics{}, err
		}
		metrics.CollateralValue.Add(metrics.CollateralValue,
			assetValue(entry.Amount, params.Price, basePrice, params.Decimals, baseDecimals, 0))
		metrics.CreditLimit.Add(metrics.CreditLimit,
			assetValue(entry.Amount, params.Price, basePrice, params.Decimals, baseDecimals, params.BorrowThreshold))
		metrics.LiquidationLevel.Add(metrics.LiquidationLevel,
			assetValue(entry.Amount, params.Price, basePrice, params.Decimals, baseDecimals, params.LiquidationThreshold))
		if params.Tier.RiskierThan(metrics.Tier) {
			metrics.Tier = params.Tier
		}
	}
	return metrics, nil
}

// healthFactor is liquidationLevel × 10^baseDecimals / debt; debt-free
// positions report the maximum value.
func healthFactor(liquidationLevel, debt *big.Int, baseDecimals uint8) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor)
	}
	hf := new(big.Int).Mul(liquidationLevel, pow10(baseDecimals))
	return hf.Quo(hf, debt)
}

// liquidatable iff the health factor dropped below parity and debt is
// outstanding.
func liquidatable(hf *big.Int, debt *big.Int, baseDecimals uint8) bool {
	if debt == nil || debt.Sign() == 0 {
		return false
	}
	return hf.Cmp(pow10(baseDecimals)) < 0
}
