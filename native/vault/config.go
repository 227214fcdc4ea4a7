package vault

import (
	"errors"
	"math/big"
)

// Validation floors and caps for the protocol configuration. Rates are
// WAD-scaled (1e6 = 100%) except the flash loan fee, which is basis points.
const (
	minProfitTargetWad     = 2_500  // 0.25%
	minBorrowRateWad       = 10_000 // 1%
	minRewardIntervalSecs  = 90 * 24 * 60 * 60
	minFlashLoanFeeBps     = 1
	maxFlashLoanFeeBps     = 100
	maxRewardTokens        = 10_000
	minRewardableSupply    = 20_000
	minLiquidatorThreshold = 10
)

var (
	errProfitTarget        = errors.New("protocol config: profit target below minimum")
	errBorrowRate          = errors.New("protocol config: base borrow rate below minimum")
	errRewardAmount        = errors.New("protocol config: reward amount above cap")
	errRewardInterval      = errors.New("protocol config: reward interval below minimum")
	errRewardableSupply    = errors.New("protocol config: rewardable supply below minimum")
	errLiquidatorThreshold = errors.New("protocol config: liquidator threshold below minimum")
	errFlashLoanFee        = errors.New("protocol config: flash loan fee out of range")
)

// ProtocolConfig carries the manager-mutable economic parameters. The vault
// caches a copy to keep hot paths off cross-module reads; the core re-syncs
// the cache explicitly after every change.
type ProtocolConfig struct {
	// ProfitTargetRate is the annual protocol profit target, WAD-scaled.
	ProfitTargetRate uint64
	// BorrowRate is the minimum annual borrow rate, WAD-scaled.
	BorrowRate uint64
	// RewardAmount is the governance token reward per interval, whole tokens.
	RewardAmount *big.Int
	// RewardInterval is the seconds between supplier reward eligibility.
	RewardInterval uint64
	// RewardableSupply is the minimum base-asset supply for reward
	// eligibility, expressed in whole base units.
	RewardableSupply *big.Int
	// LiquidatorThreshold is the governance token holding required to
	// liquidate, whole tokens.
	LiquidatorThreshold *big.Int
	// FlashLoanFee in basis points.
	FlashLoanFee uint64
}

// Validate enforces the documented parameter bounds.
func (c ProtocolConfig) Validate() error {
	if c.ProfitTargetRate < minProfitTargetWad {
		return errProfitTarget
	}
	if c.BorrowRate < minBorrowRateWad {
		return errBorrowRate
	}
	if c.RewardAmount != nil && c.RewardAmount.Cmp(big.NewInt(maxRewardTokens)) > 0 {
		return errRewardAmount
	}
	if c.RewardInterval < minRewardIntervalSecs {
		return errRewardInterval
	}
	if c.RewardableSupply == nil || c.RewardableSupply.Cmp(big.NewInt(minRewardableSupply)) < 0 {
		return errRewardableSupply
	}
	if c.LiquidatorThreshold == nil || c.LiquidatorThreshold.Cmp(big.NewInt(minLiquidatorThreshold)) < 0 {
		return errLiquidatorThreshold
	}
	if c.FlashLoanFee < minFlashLoanFeeBps || c.FlashLoanFee > maxFlashLoanFeeBps {
		return errFlashLoanFee
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c ProtocolConfig) Clone() ProtocolConfig {
	clone := ProtocolConfig{
		ProfitTargetRate: c.ProfitTargetRate,
		BorrowRate:       c.BorrowRate,
		RewardInterval:   c.RewardInterval,
		FlashLoanFee:     c.FlashLoanFee,
	}
	if c.RewardAmount != nil {
		clone.RewardAmount = new(big.Int).Set(c.RewardAmount)
	}
	if c.RewardableSupply != nil {
		clone.RewardableSupply = new(big.Int).Set(c.RewardableSupply)
	}
	if c.LiquidatorThreshold != nil {
		clone.LiquidatorThreshold = new(big.Int).Set(c.LiquidatorThreshold)
	}
	return clone
}

// DefaultProtocolConfig returns the shipped defaults.
func DefaultProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		ProfitTargetRate:    10_000, // 1%
		BorrowRate:          60_000, // 6%
		RewardAmount:        big.NewInt(1_000),
		RewardInterval:      180 * 24 * 60 * 60,
		RewardableSupply:    big.NewInt(100_000),
		LiquidatorThreshold: big.NewInt(20),
		FlashLoanFee:        9,
	}
}
