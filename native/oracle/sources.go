package oracle

import (
	"math/big"
	"time"
)

// RoundData carries one Chainlink-style oracle round. Answers are WAD-scaled
// (1e6) quote-asset prices.
type RoundData struct {
	RoundID         uint64
	Answer          *big.Int
	UpdatedAt       time.Time
	AnsweredInRound uint64
}

// RoundFeed is the AggregatorV3-shaped read surface consumed by the engine.
type RoundFeed interface {
	LatestRound() (RoundData, error)
	// Round returns the data recorded for a specific historical round.
	Round(roundID uint64) (RoundData, error)
}

// TwapPool exposes the Uniswap-V3-shaped observation surface: cumulative tick
// readings at two points in time plus the token metadata needed to normalize
// the derived ratio.
type TwapPool interface {
	// TickCumulatives returns the cumulative tick at (now − window) and now.
	TickCumulatives(window time.Duration) (older, newer int64, err error)
	// TokenDecimals is the decimal count of the priced asset token.
	TokenDecimals() uint8
	// QuoteDecimals is the decimal count of the pool's quote-side token.
	QuoteDecimals() uint8
	// QuotesDirectly reports whether the pool is paired with the protocol's
	// quote asset. When false the engine composes through the reference pool.
	QuotesDirectly() bool
	// TokenBalance returns the pool's current balance of the priced token,
	// used for the deposit pool-liquidity limit.
	TokenBalance() (*big.Int, error)
}
