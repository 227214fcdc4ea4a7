package oracle

import (
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"lendmesh/native/rates"
)

// tickBase is 1.0001 at ray scale, the Uniswap V3 price step per tick.
var tickBase = func() *uint256.Int {
	base := rates.Ray()
	step := new(uint256.Int).Div(base, uint256.NewInt(10_000))
	return base.Add(base, step)
}()

// averageTick converts a cumulative tick delta into the mean tick over the
// window, rounding toward negative infinity as the pool contract does.
func averageTick(older, newer int64, windowSeconds int64) int64 {
	if windowSeconds <= 0 {
		return 0
	}
	delta := newer - older
	tick := delta / windowSeconds
	if delta < 0 && delta%windowSeconds != 0 {
		tick--
	}
	return tick
}

// tickRatioRay computes 1.0001^tick at ray scale. Negative ticks invert the
// positive-power ratio.
func tickRatioRay(tick int64) *uint256.Int {
	if tick == 0 {
		return rates.Ray()
	}
	abs := tick
	if abs < 0 {
		abs = -abs
	}
	ratio := rates.Rpow(tickBase, uint64(abs))
	if tick < 0 {
		ratio = rates.RayDiv(rates.Ray(), ratio)
	}
	return ratio
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// twapPrice derives a WAD-scaled price for the pool's priced token over the
// window. The raw tick ratio is quote-raw-units per token-raw-unit, so the
// result is normalized across the two token decimal counts before scaling to
// 1e6.
func twapPrice(pool TwapPool, window time.Duration) (*big.Int, error) {
	if pool == nil {
		return nil, ErrNoActiveSource
	}
	older, newer, err := pool.TickCumulatives(window)
	if err != nil {
		return nil, fmt.Errorf("oracle engine: observe pool: %w", err)
	}
	seconds := int64(window / time.Second)
	ratio := tickRatioRay(averageTick(older, newer, seconds))
	if ratio.IsZero() {
		return nil, ErrInvalidPrice
	}

	price := ratio.ToBig()
	price.Mul(price, pow10(pool.TokenDecimals()))
	price.Mul(price, big.NewInt(rates.WadScale))
	price.Quo(price, pow10(pool.QuoteDecimals()))
	price.Quo(price, rates.Ray().ToBig())
	if price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return price, nil
}
