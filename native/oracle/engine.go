package oracle

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"lendmesh/native/rates"
)

// Engine resolves WAD-scaled prices per asset from up to two oracle sources
// and maintains the per-asset circuit breaker. Breaker state is derived: any
// caller may re-evaluate it and it toggles both on and off as conditions
// change.
type Engine struct {
	mu     sync.RWMutex
	cfg    Config
	assets map[string]AssetSources
	broken map[string]bool

	// reference composes non-quote-paired pools into the protocol quote asset.
	reference TwapPool
	refPeriod time.Duration
	now       func() time.Time
}

// NewEngine constructs an oracle engine with the supplied global policy.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:    cfg,
		assets: make(map[string]AssetSources),
		broken: make(map[string]bool),
		now:    time.Now,
	}, nil
}

// SetNowFunc overrides the clock, used by tests for deterministic staleness.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

// SetReferencePool wires the ETH/quote reference pool used when a TWAP pool is
// not paired directly with the protocol quote asset.
func (e *Engine) SetReferencePool(pool TwapPool, period time.Duration) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.reference = pool
	e.refPeriod = period
	e.mu.Unlock()
}

// RegisterAsset wires (or rewires) the oracle sources for an asset. The
// sources are re-validated on every update.
func (e *Engine) RegisterAsset(asset string, sources AssetSources) error {
	if e == nil {
		return errNotConfigured
	}
	if err := sources.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.assets[asset] = sources
	e.mu.Unlock()
	return nil
}

func (e *Engine) sources(asset string) (AssetSources, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	src, ok := e.assets[asset]
	if !ok {
		return AssetSources{}, ErrAssetUnknown
	}
	return src, nil
}

// IsCircuitBroken reports the stored breaker flag for the asset.
func (e *Engine) IsCircuitBroken(asset string) bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.broken[asset]
}

// Price resolves the current WAD-scaled price for the asset. With a single
// active source the validated source price is returned directly. With both
// sources active the result is the floor mean of the two validated prices, so
// neither source can unilaterally move the reported price.
func (e *Engine) Price(asset string) (*big.Int, error) {
	if e == nil {
		return nil, errNotConfigured
	}
	src, err := e.sources(asset)
	if err != nil {
		return nil, err
	}
	if e.IsCircuitBroken(asset) {
		return nil, ErrCircuitBroken
	}

	var prices []*big.Int
	if src.ChainlinkActive {
		price, err := e.chainlinkPrice(src.Chainlink)
		if err != nil {
			return nil, err
		}
		prices = append(prices, price)
	}
	if src.TwapActive {
		price, err := e.uniswapPrice(src)
		if err != nil {
			return nil, err
		}
		prices = append(prices, price)
	}
	switch len(prices) {
	case 1:
		return prices[0], nil
	case 2:
		mean := new(big.Int).Add(prices[0], prices[1])
		return mean.Rsh(mean, 1), nil
	default:
		return nil, ErrNoActiveSource
	}
}

// chainlinkPrice validates and returns the latest feed answer. A price is
// rejected as volatile only when it is simultaneously aged past the
// volatility threshold AND moved beyond the volatility percentage since the
// previous round; the two gates compose as a joint AND, not independently.
func (e *Engine) chainlinkPrice(feed RoundFeed) (*big.Int, error) {
	if feed == nil {
		return nil, ErrNoActiveSource
	}
	latest, err := feed.LatestRound()
	if err != nil {
		return nil, fmt.Errorf("oracle engine: latest round: %w", err)
	}
	if latest.Answer == nil || latest.Answer.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if latest.AnsweredInRound < latest.RoundID {
		return nil, ErrStaleRound
	}
	e.mu.RLock()
	nowFn := e.now
	cfg := e.cfg
	e.mu.RUnlock()

	age := nowFn().Sub(latest.UpdatedAt)
	if age > cfg.FreshnessThreshold {
		return nil, ErrStalePrice
	}
	if age >= cfg.VolatilityThreshold && latest.RoundID > 0 {
		change, ok := e.roundChangePct(feed, latest)
		if ok && change >= cfg.VolatilityPct {
			return nil, ErrVolatilePrice
		}
	}
	return new(big.Int).Set(latest.Answer), nil
}

// roundChangePct returns the whole-percent price change versus the previous
// round. The first round of a feed has nothing to compare against.
func (e *Engine) roundChangePct(feed RoundFeed, latest RoundData) (uint64, bool) {
	prev, err := feed.Round(latest.RoundID - 1)
	if err != nil || prev.Answer == nil || prev.Answer.Sign() <= 0 {
		return 0, false
	}
	diff := new(big.Int).Sub(latest.Answer, prev.Answer)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(100))
	diff.Quo(diff, prev.Answer)
	if !diff.IsUint64() {
		return ^uint64(0), true
	}
	return diff.Uint64(), true
}

func (e *Engine) uniswapPrice(src AssetSources) (*big.Int, error) {
	price, err := twapPrice(src.Twap, src.TwapPeriod)
	if err != nil {
		return nil, err
	}
	if src.Twap.QuotesDirectly() {
		return price, nil
	}
	e.mu.RLock()
	reference := e.reference
	refPeriod := e.refPeriod
	e.mu.RUnlock()
	if reference == nil {
		return nil, fmt.Errorf("oracle engine: reference pool required for %s composition", SourceUniswapTwap)
	}
	if refPeriod <= 0 {
		refPeriod = src.TwapPeriod
	}
	refPrice, err := twapPrice(reference, refPeriod)
	if err != nil {
		return nil, fmt.Errorf("oracle engine: reference pool: %w", err)
	}
	composed := new(big.Int).Mul(price, refPrice)
	return composed.Quo(composed, big.NewInt(rates.WadScale)), nil
}

// CheckPriceDeviation computes the whole-percent deviation between the two
// active sources without mutating breaker state. The deviation is measured
// against the smaller price: |p1−p2|×100/min(p1,p2).
func (e *Engine) CheckPriceDeviation(asset string) (bool, uint64, error) {
	if e == nil {
		return false, 0, errNotConfigured
	}
	src, err := e.sources(asset)
	if err != nil {
		return false, 0, err
	}
	if !src.ChainlinkActive || !src.TwapActive {
		return false, 0, ErrOracleCount
	}
	clPrice, err := e.chainlinkRawPrice(src.Chainlink)
	if err != nil {
		return false, 0, err
	}
	twPrice, err := e.uniswapPrice(src)
	if err != nil {
		return false, 0, err
	}
	deviation := deviationPct(clPrice, twPrice)
	e.mu.RLock()
	threshold := e.cfg.CircuitBreakerPct
	e.mu.RUnlock()
	return deviation >= threshold, deviation, nil
}

// chainlinkRawPrice reads the latest answer with only sanity validation.
// Breaker evaluation must still see prices the full validation would reject,
// otherwise a stuck feed could never trip the breaker.
func (e *Engine) chainlinkRawPrice(feed RoundFeed) (*big.Int, error) {
	if feed == nil {
		return nil, ErrNoActiveSource
	}
	latest, err := feed.LatestRound()
	if err != nil {
		return nil, fmt.Errorf("oracle engine: latest round: %w", err)
	}
	if latest.Answer == nil || latest.Answer.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return new(big.Int).Set(latest.Answer), nil
}

func deviationPct(a, b *big.Int) uint64 {
	if a == nil || b == nil || a.Sign() <= 0 || b.Sign() <= 0 {
		return 0
	}
	minPrice := a
	if b.Cmp(a) < 0 {
		minPrice = b
	}
	diff := new(big.Int).Sub(a, b)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(100))
	diff.Quo(diff, minPrice)
	if !diff.IsUint64() {
		return ^uint64(0)
	}
	return diff.Uint64()
}

// EvaluateCircuitBreaker re-derives the breaker flag for the asset and stores
// the result. Callable by anyone and idempotent: evaluating twice with no
// intervening price change yields the same (triggered, deviation) pair. The
// breaker resets automatically once conditions normalize.
func (e *Engine) EvaluateCircuitBreaker(asset string) (bool, uint64, error) {
	if e == nil {
		return false, 0, errNotConfigured
	}
	src, err := e.sources(asset)
	if err != nil {
		return false, 0, err
	}

	var (
		triggered bool
		deviation uint64
	)
	switch {
	case src.ChainlinkActive && src.TwapActive:
		triggered, deviation, err = e.CheckPriceDeviation(asset)
		if err != nil {
			return false, 0, err
		}
	case src.ChainlinkActive:
		triggered, deviation, err = e.evaluateSingleFeed(src.Chainlink)
		if err != nil {
			return false, 0, err
		}
	default:
		// TWAP-only assets have no round history to compare; the breaker
		// stays clear.
	}

	e.mu.Lock()
	e.broken[asset] = triggered
	e.mu.Unlock()
	return triggered, deviation, nil
}

// evaluateSingleFeed applies the round-over-round volatility rule: the feed
// trips only when the latest answer is both aged past the volatility window
// and moved at least the volatility percentage.
func (e *Engine) evaluateSingleFeed(feed RoundFeed) (bool, uint64, error) {
	if feed == nil {
		return false, 0, ErrNoActiveSource
	}
	latest, err := feed.LatestRound()
	if err != nil {
		return false, 0, fmt.Errorf("oracle engine: latest round: %w", err)
	}
	if latest.Answer == nil || latest.Answer.Sign() <= 0 {
		return false, 0, ErrInvalidPrice
	}
	if latest.RoundID == 0 {
		return false, 0, nil
	}
	change, ok := e.roundChangePct(feed, latest)
	if !ok {
		return false, 0, nil
	}
	e.mu.RLock()
	cfg := e.cfg
	nowFn := e.now
	e.mu.RUnlock()
	age := nowFn().Sub(latest.UpdatedAt)
	triggered := change >= cfg.VolatilityPct && age >= cfg.VolatilityThreshold
	return triggered, change, nil
}

// PoolLiquidity returns the TWAP pool's balance of the priced token when that
// oracle path is active. The second return reports whether a limit applies.
func (e *Engine) PoolLiquidity(asset string) (*big.Int, bool, error) {
	if e == nil {
		return nil, false, errNotConfigured
	}
	src, err := e.sources(asset)
	if err != nil {
		return nil, false, err
	}
	if !src.TwapActive || src.Twap == nil {
		return nil, false, nil
	}
	balance, err := src.Twap.TokenBalance()
	if err != nil {
		return nil, false, fmt.Errorf("oracle engine: pool balance: %w", err)
	}
	return balance, true, nil
}
