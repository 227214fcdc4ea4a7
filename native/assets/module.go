package assets

import (
	"errors"
	"math/big"

	"lendmesh/crypto"
	nativecommon "lendmesh/native/common"
	"lendmesh/native/oracle"
)

const moduleName = "assets"

// At most 3% of the backing Uniswap pool may enter the protocol in a single
// supply, to keep the TWAP manipulable only at prohibitive cost.
const poolLiquidityPct = 3

var (
	ErrAssetNotListed     = errors.New("asset registry: asset not listed")
	ErrAssetInactive      = errors.New("asset registry: asset not active")
	ErrSupplyCapExceeded  = errors.New("asset registry: supply cap exceeded")
	ErrPoolLiquidityLimit = errors.New("asset registry: amount exceeds pool liquidity limit")
)

// Module tracks the listable collateral assets for one market: per-asset
// configuration, per-tier rate schedule and protocol-wide supply capacity.
// It fronts the oracle engine for price reads so the ledger deals in one
// parameter bundle.
type Module struct {
	oracle *oracle.Engine
	roles  nativecommon.RoleView
	pauses nativecommon.PauseView

	assets    map[string]AssetConfig
	order     []string
	tierRates map[Tier]TierRates
	supplied  map[string]*big.Int
}

// NewModule constructs an asset module bound to the market's oracle engine.
func NewModule(oracleEngine *oracle.Engine) *Module {
	return &Module{
		oracle:    oracleEngine,
		assets:    make(map[string]AssetConfig),
		tierRates: DefaultTierRates(),
		supplied:  make(map[string]*big.Int),
	}
}

func (m *Module) SetRoles(r nativecommon.RoleView) {
	if m == nil {
		return
	}
	m.roles = r
}

func (m *Module) SetPauses(p nativecommon.PauseView) {
	if m == nil {
		return
	}
	m.pauses = p
}

// UpdateAsset lists a new asset or replaces the configuration of an existing
// one. Listing is permanent: assets can be deactivated but never removed.
func (m *Module) UpdateAsset(caller crypto.Address, cfg AssetConfig) error {
	if m == nil {
		return ErrAssetNotListed
	}
	if err := nativecommon.Guard(m.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(m.roles, nativecommon.RoleManager, caller); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if m.oracle != nil {
		if err := m.oracle.RegisterAsset(cfg.Symbol, cfg.Oracle); err != nil {
			return err
		}
	}
	if _, exists := m.assets[cfg.Symbol]; !exists {
		m.order = append(m.order, cfg.Symbol)
	}
	m.assets[cfg.Symbol] = cfg.Clone()
	return nil
}

// UpdateTierRates replaces the rate schedule for one tier.
func (m *Module) UpdateTierRates(caller crypto.Address, tier Tier, rates TierRates) error {
	if m == nil {
		return errTierUnknown
	}
	if err := nativecommon.Guard(m.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(m.roles, nativecommon.RoleManager, caller); err != nil {
		return err
	}
	if tier > TierIsolated {
		return errTierUnknown
	}
	if err := rates.Validate(); err != nil {
		return err
	}
	m.tierRates[tier] = rates
	return nil
}

// Asset returns a copy of the configuration for the symbol.
func (m *Module) Asset(symbol string) (AssetConfig, error) {
	if m == nil {
		return AssetConfig{}, ErrAssetNotListed
	}
	cfg, ok := m.assets[symbol]
	if !ok {
		return AssetConfig{}, ErrAssetNotListed
	}
	return cfg.Clone(), nil
}

// IsActive reports whether the asset is listed and currently active.
func (m *Module) IsActive(symbol string) bool {
	if m == nil {
		return false
	}
	cfg, ok := m.assets[symbol]
	return ok && cfg.Active
}

// ListAssets returns the listed symbols in listing order.
func (m *Module) ListAssets() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// TierRate returns the rate schedule for the tier.
func (m *Module) TierRate(tier Tier) TierRates {
	if m == nil {
		return TierRates{}
	}
	return m.tierRates[tier]
}

// CalculationParams bundles everything the risk math needs for one asset in a
// single read: current oracle price plus the threshold configuration.
type CalculationParams struct {
	Price                *big.Int
	BorrowThreshold      uint64
	LiquidationThreshold uint64
	Decimals             uint8
	Tier                 Tier
}

// Params resolves the oracle price and returns the calculation bundle for an
// active asset.
func (m *Module) Params(symbol string) (CalculationParams, error) {
	cfg, err := m.Asset(symbol)
	if err != nil {
		return CalculationParams{}, err
	}
	if !cfg.Active {
		return CalculationParams{}, ErrAssetInactive
	}
	price, err := m.oracle.Price(symbol)
	if err != nil {
		return CalculationParams{}, err
	}
	return CalculationParams{
		Price:                price,
		BorrowThreshold:      cfg.BorrowThreshold,
		LiquidationThreshold: cfg.LiquidationThreshold,
		Decimals:             cfg.Decimals,
		Tier:                 cfg.Tier,
	}, nil
}

// TotalSupplied returns the protocol-wide supplied amount for the asset.
func (m *Module) TotalSupplied(symbol string) *big.Int {
	if m == nil {
		return big.NewInt(0)
	}
	total, ok := m.supplied[symbol]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(total)
}

// CheckSupplyLimit verifies a prospective supply against the asset's capacity
// cap and, when a Uniswap source backs the asset, the 3% pool liquidity rule.
func (m *Module) CheckSupplyLimit(symbol string, amount *big.Int) error {
	cfg, err := m.Asset(symbol)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(m.TotalSupplied(symbol), amount)
	if next.Cmp(cfg.MaxSupplyThreshold) > 0 {
		return ErrSupplyCapExceeded
	}
	if m.oracle == nil {
		return nil
	}
	liquidity, hasPool, err := m.oracle.PoolLiquidity(symbol)
	if err != nil {
		return err
	}
	if !hasPool {
		return nil
	}
	limit := new(big.Int).Mul(liquidity, big.NewInt(poolLiquidityPct))
	limit.Quo(limit, big.NewInt(100))
	if amount.Cmp(limit) > 0 {
		return ErrPoolLiquidityLimit
	}
	return nil
}

// RecordSupply adds to the tracked supplied amount after a successful
// collateral supply.
func (m *Module) RecordSupply(symbol string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	m.supplied[symbol] = new(big.Int).Add(m.TotalSupplied(symbol), amount)
}

// ReleaseSupply subtracts from the tracked supplied amount after a withdrawal
// or seizure, flooring at zero.
func (m *Module) ReleaseSupply(symbol string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	next := new(big.Int).Sub(m.TotalSupplied(symbol), amount)
	if next.Sign() < 0 {
		next = big.NewInt(0)
	}
	m.supplied[symbol] = next
}
