package oracle

import "errors"

var (
	errNotConfigured = errors.New("oracle engine: not configured")

	// ErrAssetUnknown indicates no oracle sources were registered for the asset.
	ErrAssetUnknown = errors.New("oracle engine: asset not registered")
	// ErrCircuitBroken blocks price reads while the per-asset breaker is set.
	ErrCircuitBroken = errors.New("oracle engine: circuit breaker active")
	// ErrNoActiveSource fires when every configured source is disabled.
	ErrNoActiveSource = errors.New("oracle engine: no active oracle source")
	// ErrPrimaryInactive fires when the primary source type is not active.
	ErrPrimaryInactive = errors.New("oracle engine: primary oracle source inactive")
	// ErrOracleCount fires when active sources cannot satisfy the minimum count.
	ErrOracleCount = errors.New("oracle engine: insufficient active oracle sources")
	// ErrInvalidPrice rejects non-positive oracle answers.
	ErrInvalidPrice = errors.New("oracle engine: invalid oracle price")
	// ErrStaleRound rejects answers carried over from an older round.
	ErrStaleRound = errors.New("oracle engine: answer from stale round")
	// ErrStalePrice rejects answers older than the freshness threshold.
	ErrStalePrice = errors.New("oracle engine: oracle price stale")
	// ErrVolatilePrice rejects aged answers that moved beyond the volatility
	// percentage since the previous round.
	ErrVolatilePrice = errors.New("oracle engine: oracle price volatile")
)
