package assets

import (
	"errors"
	"math/big"
	"strings"

	"lendmesh/native/oracle"
)

// Collateral tiers ordered from lowest to highest risk. The ordering is load
// bearing: a position's tier is the riskiest tier across its held assets.
type Tier uint8

const (
	TierStable Tier = iota
	TierCrossA
	TierCrossB
	TierIsolated
)

func (t Tier) String() string {
	switch t {
	case TierStable:
		return "STABLE"
	case TierCrossA:
		return "CROSS_A"
	case TierCrossB:
		return "CROSS_B"
	case TierIsolated:
		return "ISOLATED"
	default:
		return "UNKNOWN"
	}
}

// RiskierThan reports whether t carries more risk than other.
func (t Tier) RiskierThan(other Tier) bool { return t > other }

// ParseTier maps the wire name back to a tier.
func ParseTier(s string) (Tier, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STABLE":
		return TierStable, nil
	case "CROSS_A":
		return TierCrossA, nil
	case "CROSS_B":
		return TierCrossB, nil
	case "ISOLATED":
		return TierIsolated, nil
	default:
		return 0, errTierUnknown
	}
}

// Threshold bounds on the 0–1000 per-mille scale, and WAD-scale caps for the
// per-tier rate parameters.
const (
	maxLiquidationThreshold = 990
	minThresholdSpread      = 10
	maxAssetDecimals        = 18

	maxJumpRateWad       = 250_000 // 25%
	maxLiquidationFeeWad = 100_000 // 10%
)

var (
	errSymbolEmpty         = errors.New("asset registry: symbol must not be empty")
	errDecimals            = errors.New("asset registry: decimals out of range")
	errLiquidationBound    = errors.New("asset registry: liquidation threshold above maximum")
	errThresholdSpread     = errors.New("asset registry: borrow threshold too close to liquidation threshold")
	errSupplyThreshold     = errors.New("asset registry: max supply threshold must be positive")
	errIsolationCap        = errors.New("asset registry: isolation debt cap must be set exactly for isolated assets")
	errJumpRateBound       = errors.New("asset registry: tier jump rate above maximum")
	errLiquidationFeeBound = errors.New("asset registry: tier liquidation fee above maximum")
	errTierUnknown         = errors.New("asset registry: unknown collateral tier")
)

// AssetConfig describes a listable collateral asset. Thresholds use the
// 0–1000 per-mille scale; caps are denominated in the asset's native units.
type AssetConfig struct {
	Symbol               string
	Active               bool
	Decimals             uint8
	BorrowThreshold      uint64
	LiquidationThreshold uint64
	MaxSupplyThreshold   *big.Int
	IsolationDebtCap     *big.Int
	Tier                 Tier
	Oracle               oracle.AssetSources
}

// Validate enforces the listing rules. Configs are re-validated on every
// update, not just at first listing.
func (c AssetConfig) Validate() error {
	if c.Symbol == "" {
		return errSymbolEmpty
	}
	if c.Decimals == 0 || c.Decimals > maxAssetDecimals {
		return errDecimals
	}
	if c.LiquidationThreshold > maxLiquidationThreshold {
		return errLiquidationBound
	}
	if c.BorrowThreshold+minThresholdSpread > c.LiquidationThreshold {
		return errThresholdSpread
	}
	if c.MaxSupplyThreshold == nil || c.MaxSupplyThreshold.Sign() <= 0 {
		return errSupplyThreshold
	}
	if c.Tier > TierIsolated {
		return errTierUnknown
	}
	isolated := c.Tier == TierIsolated
	capSet := c.IsolationDebtCap != nil && c.IsolationDebtCap.Sign() > 0
	if isolated != capSet {
		return errIsolationCap
	}
	return c.Oracle.Validate()
}

// Clone returns a deep copy of the configuration.
func (c AssetConfig) Clone() AssetConfig {
	clone := c
	if c.MaxSupplyThreshold != nil {
		clone.MaxSupplyThreshold = new(big.Int).Set(c.MaxSupplyThreshold)
	}
	if c.IsolationDebtCap != nil {
		clone.IsolationDebtCap = new(big.Int).Set(c.IsolationDebtCap)
	}
	return clone
}

// TierRates holds the WAD-scaled borrow-rate jump premium and liquidation fee
// for one collateral tier.
type TierRates struct {
	JumpRate       uint64
	LiquidationFee uint64
}

func (r TierRates) Validate() error {
	if r.JumpRate > maxJumpRateWad {
		return errJumpRateBound
	}
	if r.LiquidationFee > maxLiquidationFeeWad {
		return errLiquidationFeeBound
	}
	return nil
}

// DefaultTierRates returns the shipped per-tier rate schedule.
func DefaultTierRates() map[Tier]TierRates {
	return map[Tier]TierRates{
		TierStable:   {JumpRate: 50_000, LiquidationFee: 10_000},
		TierCrossA:   {JumpRate: 80_000, LiquidationFee: 20_000},
		TierCrossB:   {JumpRate: 120_000, LiquidationFee: 30_000},
		TierIsolated: {JumpRate: 150_000, LiquidationFee: 40_000},
	}
}
