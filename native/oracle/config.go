package oracle

import (
	"errors"
	"fmt"
	"time"
)

// SourceType identifies an oracle price source implementation.
type SourceType uint8

const (
	SourceChainlink SourceType = iota
	SourceUniswapTwap
)

func (s SourceType) String() string {
	switch s {
	case SourceChainlink:
		return "chainlink"
	case SourceUniswapTwap:
		return "uniswap_twap"
	default:
		return "unknown"
	}
}

// Bounds applied to the global configuration.
const (
	minFreshness  = 15 * time.Minute
	maxFreshness  = 24 * time.Hour
	minVolatility = 5 * time.Minute
	maxVolatility = 4 * time.Hour

	minVolatilityPct = 5
	maxVolatilityPct = 30
	minBreakerPct    = 25
	maxBreakerPct    = 70

	minTwapPeriod = 900 * time.Second
	maxTwapPeriod = 1800 * time.Second
)

var (
	errFreshnessRange  = errors.New("oracle config: freshness threshold out of range")
	errVolatilityRange = errors.New("oracle config: volatility threshold out of range")
	errVolatilityPct   = errors.New("oracle config: volatility percentage out of range")
	errBreakerPct      = errors.New("oracle config: circuit breaker threshold out of range")
	errTwapPeriod      = errors.New("oracle config: twap period out of range")
)

// Config is the global oracle policy shared by every asset: how old a quote
// may be, when an aged quote is additionally screened for volatility, and how
// far two sources may disagree before the breaker trips.
type Config struct {
	FreshnessThreshold  time.Duration
	VolatilityThreshold time.Duration
	// VolatilityPct is the max allowed round-over-round change, whole percent.
	VolatilityPct uint64
	// CircuitBreakerPct is the max allowed inter-oracle deviation, whole percent.
	CircuitBreakerPct uint64
}

// Validate enforces the documented operational bounds.
func (c Config) Validate() error {
	if c.FreshnessThreshold < minFreshness || c.FreshnessThreshold > maxFreshness {
		return errFreshnessRange
	}
	if c.VolatilityThreshold < minVolatility || c.VolatilityThreshold > maxVolatility {
		return errVolatilityRange
	}
	if c.VolatilityPct < minVolatilityPct || c.VolatilityPct > maxVolatilityPct {
		return errVolatilityPct
	}
	if c.CircuitBreakerPct < minBreakerPct || c.CircuitBreakerPct > maxBreakerPct {
		return errBreakerPct
	}
	return nil
}

// DefaultConfig mirrors the shipped production policy.
func DefaultConfig() Config {
	return Config{
		FreshnessThreshold:  8 * time.Hour,
		VolatilityThreshold: time.Hour,
		VolatilityPct:       20,
		CircuitBreakerPct:   50,
	}
}

// AssetSources wires the per-asset oracle sources. At least one source must be
// active, the primary type must be among the active sources, and the minimum
// oracle count must be satisfiable by what is active.
type AssetSources struct {
	ChainlinkActive bool
	Chainlink       RoundFeed

	TwapActive bool
	Twap       TwapPool
	TwapPeriod time.Duration

	Primary        SourceType
	MinOracleCount int
}

func (a AssetSources) activeCount() int {
	count := 0
	if a.ChainlinkActive {
		count++
	}
	if a.TwapActive {
		count++
	}
	return count
}

// Validate checks internal consistency of the source wiring.
func (a AssetSources) Validate() error {
	if a.ChainlinkActive && a.Chainlink == nil {
		return fmt.Errorf("oracle config: chainlink source active without feed")
	}
	if a.TwapActive {
		if a.Twap == nil {
			return fmt.Errorf("oracle config: twap source active without pool")
		}
		if a.TwapPeriod < minTwapPeriod || a.TwapPeriod > maxTwapPeriod {
			return errTwapPeriod
		}
	}
	active := a.activeCount()
	if active == 0 {
		return ErrNoActiveSource
	}
	switch a.Primary {
	case SourceChainlink:
		if !a.ChainlinkActive {
			return ErrPrimaryInactive
		}
	case SourceUniswapTwap:
		if !a.TwapActive {
			return ErrPrimaryInactive
		}
	default:
		return fmt.Errorf("oracle config: unknown primary source %d", a.Primary)
	}
	minCount := a.MinOracleCount
	if minCount <= 0 {
		minCount = 1
	}
	if active < minCount {
		return ErrOracleCount
	}
	return nil
}
