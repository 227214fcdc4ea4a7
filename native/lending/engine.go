package lending

import (
	"encoding/binary"
	"errors"
	"math/big"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"lendmesh/core/events"
	"lendmesh/core/types"
	"lendmesh/crypto"
	"lendmesh/native/assets"
	nativecommon "lendmesh/native/common"
	"lendmesh/native/rates"
	"lendmesh/native/vault"
)

const moduleName = "lending"

var (
	errNilState            = errors.New("lending engine: state not configured")
	errInvalidAmount       = errors.New("lending engine: amount must be positive")
	errInsufficientBalance = errors.New("lending engine: insufficient balance")

	ErrPositionNotFound  = errors.New("lending engine: position not found")
	ErrPositionNotActive = errors.New("lending engine: position not active")
	ErrPositionLimit     = errors.New("lending engine: position limit reached")
	ErrAssetCapReached   = errors.New("lending engine: collateral asset cap reached")
	ErrIsolationMode     = errors.New("lending engine: isolation mode violation")
	ErrIsolationDebtCap  = errors.New("lending engine: isolation debt cap exceeded")
	ErrCreditLimit       = errors.New("lending engine: credit limit exceeded")
	ErrCollateralShort   = errors.New("lending engine: insufficient collateral")
	ErrNotLiquidatable   = errors.New("lending engine: position not liquidatable")
	ErrGovTokenThreshold = errors.New("lending engine: liquidator below governance threshold")
	ErrSlippageExceeded  = errors.New("lending engine: slippage bound exceeded")
	ErrDebtOutstanding   = errors.New("lending engine: debt must be cleared")
	// ErrSameBlockOperation trips the MEV guard on borrow and repay paths.
	ErrSameBlockOperation = errors.New("lending engine: operation already executed this block")
)

type ledgerState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// AssetsView is the asset-module surface the ledger consumes.
type AssetsView interface {
	Params(symbol string) (assets.CalculationParams, error)
	Asset(symbol string) (assets.AssetConfig, error)
	IsActive(symbol string) bool
	CheckSupplyLimit(symbol string, amount *big.Int) error
	RecordSupply(symbol string, amount *big.Int)
	ReleaseSupply(symbol string, amount *big.Int)
	TierRate(tier assets.Tier) assets.TierRates
}

// Engine is the position and debt ledger for one market. Collateral sits in
// per-position custody addresses; base liquidity moves through the market's
// vault under the protocol role.
type Engine struct {
	state  ledgerState
	assets AssetsView
	vault  *vault.Vault

	roles   nativecommon.RoleView
	pauses  nativecommon.PauseView
	emitter events.Emitter
	now     func() time.Time

	moduleAddress crypto.Address
	baseAsset     string
	baseDecimals  uint8

	positions map[string][]*Position
}

// NewEngine constructs the ledger. The module address is the engine's
// identity toward the vault and must hold the protocol role there.
func NewEngine(moduleAddr crypto.Address, baseAsset string, baseDecimals uint8) *Engine {
	return &Engine{
		emitter:       events.NoopEmitter{},
		now:           time.Now,
		moduleAddress: moduleAddr,
		baseAsset:     baseAsset,
		baseDecimals:  baseDecimals,
		positions:     make(map[string][]*Position),
	}
}

func (e *Engine) SetState(state ledgerState) { e.state = state }

func (e *Engine) SetAssets(view AssetsView) {
	if e == nil {
		return
	}
	e.assets = view
}

func (e *Engine) SetVault(v *vault.Vault) {
	if e == nil {
		return
	}
	e.vault = v
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) SetRoles(r nativecommon.RoleView) {
	if e == nil {
		return
	}
	e.roles = r
}

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetNowFunc(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// ModuleAddress returns the engine's identity toward the vault.
func (e *Engine) ModuleAddress() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.moduleAddress
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.assets == nil || e.vault == nil {
		return errNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

// custodyAddress derives the deterministic per-position collateral address.
func custodyAddress(owner crypto.Address, id uint64) crypto.Address {
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], id)
	digest := gethcrypto.Keccak256(owner.Bytes(), idBytes[:])
	return crypto.NewAddress(crypto.ModulePrefix, digest[12:])
}

// --- position access ---

func (e *Engine) position(owner crypto.Address, id uint64) (*Position, error) {
	list := e.positions[string(owner.Bytes())]
	if id >= uint64(len(list)) {
		return nil, ErrPositionNotFound
	}
	return list[id], nil
}

func (e *Engine) activePosition(owner crypto.Address, id uint64) (*Position, error) {
	pos, err := e.position(owner, id)
	if err != nil {
		return nil, err
	}
	if pos.Status != StatusActive {
		return nil, ErrPositionNotActive
	}
	return pos, nil
}

// PositionCount returns the length of the owner's append-only list, including
// closed and liquidated entries.
func (e *Engine) PositionCount(owner crypto.Address) uint64 {
	if e == nil {
		return 0
	}
	return uint64(len(e.positions[string(owner.Bytes())]))
}

// GetPosition returns a deep copy for read APIs.
func (e *Engine) GetPosition(owner crypto.Address, id uint64) (*Position, error) {
	if e == nil {
		return nil, ErrPositionNotFound
	}
	pos, err := e.position(owner, id)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// --- lifecycle ---

// CreatePosition opens a new position against a listed, active asset.
// Isolated-tier assets force isolation mode; an isolated position
// pre-registers its single permitted collateral asset.
func (e *Engine) CreatePosition(owner crypto.Address, asset string, isolated bool) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	cfg, err := e.assets.Asset(asset)
	if err != nil {
		return 0, err
	}
	if !cfg.Active {
		return 0, assets.ErrAssetInactive
	}
	if cfg.Tier == assets.TierIsolated && !isolated {
		return 0, ErrIsolationMode
	}
	key := string(owner.Bytes())
	if len(e.positions[key]) >= MaxPositionsPerUser {
		return 0, ErrPositionLimit
	}
	id := uint64(len(e.positions[key]))
	pos := &Position{
		Owner:          owner,
		ID:             id,
		CustodyAddress: custodyAddress(owner, id),
		IsIsolated:     isolated,
		Status:         StatusActive,
		Debt:           big.NewInt(0),
		LastAccrual:    e.now().Unix(),
		Collateral:     NewCollateralBook(),
	}
	if isolated {
		pos.IsolatedAsset = asset
	}
	e.positions[key] = append(e.positions[key], pos)
	e.emitter.Emit(positionCreatedEvent{Owner: owner, ID: id, IsIsolated: isolated})
	return id, nil
}

// SupplyCollateral moves collateral from the owner into the position's
// custody address.
func (e *Engine) SupplyCollateral(owner crypto.Address, id uint64, asset string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	pos, err := e.activePosition(owner, id)
	if err != nil {
		return err
	}
	cfg, err := e.assets.Asset(asset)
	if err != nil {
		return err
	}
	if !cfg.Active {
		return assets.ErrAssetInactive
	}
	if pos.IsIsolated {
		if asset != pos.IsolatedAsset {
			return ErrIsolationMode
		}
	} else if cfg.Tier == assets.TierIsolated {
		return ErrIsolationMode
	}
	if pos.Collateral.Amount(asset).Sign() == 0 && pos.Collateral.Len() >= MaxCollateralAssets {
		return ErrAssetCapReached
	}
	if err := e.assets.CheckSupplyLimit(asset, amount); err != nil {
		return err
	}
	if err := e.transfer(owner, pos.CustodyAddress, asset, amount); err != nil {
		return err
	}
	pos.Collateral.Add(asset, amount)
	e.assets.RecordSupply(asset, amount)
	e.emitter.Emit(collateralSuppliedEvent{Owner: owner, ID: id, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

// WithdrawCollateral releases collateral back to the owner, provided the
// remaining credit limit still covers the debt with interest.
func (e *Engine) WithdrawCollateral(owner crypto.Address, id uint64, asset string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	pos, err := e.activePosition(owner, id)
	if err != nil {
		return err
	}
	if pos.Collateral.Amount(asset).Cmp(amount) < 0 {
		return ErrCollateralShort
	}

	// Check the post-withdraw credit limit against debt with interest before
	// moving anything.
	remaining := pos.Collateral.Clone()
	remaining.Sub(asset, amount)
	basePrice, err := e.basePrice()
	if err != nil {
		return err
	}
	metrics, err := computeMetrics(remaining, e.assets, basePrice, e.baseDecimals)
	if err != nil {
		return err
	}
	debt, _, err := e.currentState(pos)
	if err != nil {
		return err
	}
	if debt.Sign() > 0 && metrics.CreditLimit.Cmp(debt) < 0 {
		return ErrCreditLimit
	}

	if err := e.transfer(pos.CustodyAddress, owner, asset, amount); err != nil {
		return err
	}
	pos.Collateral.Sub(asset, amount)
	e.assets.ReleaseSupply(asset, amount)
	e.emitter.Emit(collateralWithdrawnEvent{Owner: owner, ID: id, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

// --- debt ---

// currentState prices the collateral book and compounds the debt to now
// without mutating the position. Mutating operations commit the returned
// debt only after every check and transfer succeeded.
func (e *Engine) currentState(pos *Position) (*big.Int, riskMetrics, error) {
	basePrice, err := e.basePrice()
	if err != nil {
		return nil, riskMetrics{}, err
	}
	metrics, err := computeMetrics(pos.Collateral, e.assets, basePrice, e.baseDecimals)
	if err != nil {
		return nil, riskMetrics{}, err
	}
	if pos.Debt.Sign() == 0 {
		return big.NewInt(0), metrics, nil
	}
	elapsed := e.now().Unix() - pos.LastAccrual
	if elapsed <= 0 {
		return new(big.Int).Set(pos.Debt), metrics, nil
	}
	rate := e.vault.BorrowRate(e.assets.TierRate(metrics.Tier).JumpRate)
	return rates.CompoundedDebt(pos.Debt, rate, uint64(elapsed)), metrics, nil
}

// sameBlockGuard rejects a second debt operation on the position within one
// block. The accrual clock only advances when the operation commits.
func (e *Engine) sameBlockGuard(pos *Position) error {
	if pos.LastAccrual >= e.now().Unix() {
		return ErrSameBlockOperation
	}
	return nil
}

// checkSlippage enforces |actual − expected| × 10000 > expected × maxBps ⇒
// revert. A zero expectation or bound disables the check.
func checkSlippage(actual, expected *big.Int, maxBps uint64) error {
	if expected == nil || expected.Sign() == 0 || maxBps == 0 {
		return nil
	}
	diff := new(big.Int).Sub(actual, expected)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(10_000))
	bound := new(big.Int).Mul(expected, new(big.Int).SetUint64(maxBps))
	if diff.Cmp(bound) > 0 {
		return ErrSlippageExceeded
	}
	return nil
}

// Borrow draws base liquidity from the vault against the position's credit
// limit. expectedCreditLimit and maxSlippageBps bound oracle movement between
// quote and execution.
func (e *Engine) Borrow(owner crypto.Address, id uint64, amount, expectedCreditLimit *big.Int, maxSlippageBps uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	pos, err := e.activePosition(owner, id)
	if err != nil {
		return err
	}
	if err := e.sameBlockGuard(pos); err != nil {
		return err
	}
	debt, metrics, err := e.currentState(pos)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(debt, amount)

	if pos.IsIsolated {
		cfg, err := e.assets.Asset(pos.IsolatedAsset)
		if err != nil {
			return err
		}
		if cfg.IsolationDebtCap != nil && next.Cmp(cfg.IsolationDebtCap) > 0 {
			return ErrIsolationDebtCap
		}
	}
	if err := checkSlippage(metrics.CreditLimit, expectedCreditLimit, maxSlippageBps); err != nil {
		return err
	}
	if next.Cmp(metrics.CreditLimit) > 0 {
		return ErrCreditLimit
	}

	if err := e.vault.Borrow(e.moduleAddress, amount, owner); err != nil {
		return err
	}
	pos.Debt = next
	pos.LastAccrual = e.now().Unix()
	e.emitter.Emit(borrowEvent{Owner: owner, ID: id, Amount: new(big.Int).Set(amount)})
	return nil
}

// Repay returns base liquidity to the vault, capped at the outstanding debt
// with interest. expectedDebt and maxSlippageBps bound accrual drift between
// quote and execution.
func (e *Engine) Repay(owner crypto.Address, id uint64, amount, expectedDebt *big.Int, maxSlippageBps uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	pos, err := e.activePosition(owner, id)
	if err != nil {
		return err
	}
	if err := e.sameBlockGuard(pos); err != nil {
		return err
	}
	debt, _, err := e.currentState(pos)
	if err != nil {
		return err
	}
	if err := checkSlippage(debt, expectedDebt, maxSlippageBps); err != nil {
		return err
	}
	pay := new(big.Int).Set(amount)
	if pay.Cmp(debt) > 0 {
		pay = new(big.Int).Set(debt)
	}
	if pay.Sign() == 0 {
		return nil
	}
	if err := e.vault.Repay(e.moduleAddress, pay, owner, owner); err != nil {
		return err
	}
	pos.Debt = new(big.Int).Sub(debt, pay)
	pos.LastAccrual = e.now().Unix()
	e.emitter.Emit(repayEvent{Owner: owner, ID: id, Amount: pay})
	return nil
}

// Liquidate seizes an undercollateralized position. The liquidator pays debt
// plus the tier liquidation fee in base asset and receives all custody
// collateral.
func (e *Engine) Liquidate(liquidator, owner crypto.Address, id uint64, expectedCost *big.Int, maxSlippageBps uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	pos, err := e.activePosition(owner, id)
	if err != nil {
		return err
	}

	threshold := e.vault.ProtocolConfig().LiquidatorThreshold
	liqAcc, err := e.state.GetAccount(liquidator)
	if err != nil {
		return err
	}
	if liqAcc == nil || liqAcc.GovernanceTokens == nil || liqAcc.GovernanceTokens.Cmp(threshold) < 0 {
		return ErrGovTokenThreshold
	}

	debt, metrics, err := e.currentState(pos)
	if err != nil {
		return err
	}
	hf := healthFactor(metrics.LiquidationLevel, debt, e.baseDecimals)
	if !liquidatable(hf, debt, e.baseDecimals) {
		return ErrNotLiquidatable
	}

	fee := new(big.Int).Mul(debt, new(big.Int).SetUint64(e.assets.TierRate(metrics.Tier).LiquidationFee))
	fee.Quo(fee, big.NewInt(rates.WadScale))
	totalCost := new(big.Int).Add(debt, fee)
	if err := checkSlippage(totalCost, expectedCost, maxSlippageBps); err != nil {
		return err
	}

	if err := e.vault.Repay(e.moduleAddress, debt, liquidator, owner); err != nil {
		return err
	}
	if err := e.vault.CollectFee(e.moduleAddress, liquidator, fee); err != nil {
		return err
	}
	if err := e.sweepCollateral(pos, liquidator); err != nil {
		return err
	}
	pos.Debt = big.NewInt(0)
	pos.LastAccrual = e.now().Unix()
	pos.Status = StatusLiquidated
	e.emitter.Emit(liquidatedEvent{Owner: owner, ID: id, Liquidator: liquidator, TotalCost: totalCost})
	return nil
}

// ExitPosition repays the full outstanding debt (capped at what is owed),
// sweeps all collateral back to the owner and closes the position. The
// expected debt and slippage bound protect the exit against interest accrued
// between quote and execution, same as borrow and repay.
func (e *Engine) ExitPosition(owner crypto.Address, id uint64, repayAmount, expectedDebt *big.Int, maxSlippageBps uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	pos, err := e.activePosition(owner, id)
	if err != nil {
		return err
	}
	if err := e.sameBlockGuard(pos); err != nil {
		return err
	}
	debt, _, err := e.currentState(pos)
	if err != nil {
		return err
	}
	if err := checkSlippage(debt, expectedDebt, maxSlippageBps); err != nil {
		return err
	}
	if debt.Sign() > 0 {
		pay := big.NewInt(0)
		if repayAmount != nil {
			pay = new(big.Int).Set(repayAmount)
		}
		if pay.Cmp(debt) > 0 {
			pay = new(big.Int).Set(debt)
		}
		if pay.Cmp(debt) < 0 {
			return ErrDebtOutstanding
		}
		if err := e.vault.Repay(e.moduleAddress, pay, owner, owner); err != nil {
			return err
		}
	}
	if err := e.sweepCollateral(pos, owner); err != nil {
		return err
	}
	pos.Debt = big.NewInt(0)
	pos.LastAccrual = e.now().Unix()
	pos.Status = StatusClosed
	e.emitter.Emit(positionClosedEvent{Owner: owner, ID: id})
	return nil
}

// sweepCollateral empties the custody address to the recipient in insertion
// order and releases the tracked supply.
func (e *Engine) sweepCollateral(pos *Position, to crypto.Address) error {
	for _, entry := range pos.Collateral.Entries() {
		if err := e.transfer(pos.CustodyAddress, to, entry.Symbol, entry.Amount); err != nil {
			return err
		}
		e.assets.ReleaseSupply(entry.Symbol, entry.Amount)
	}
	pos.Collateral = NewCollateralBook()
	return nil
}

// --- read API ---

// HealthFactor recomputes the position's health factor at current prices.
func (e *Engine) HealthFactor(owner crypto.Address, id uint64) (*big.Int, error) {
	if e == nil || e.assets == nil || e.vault == nil {
		return nil, errNilState
	}
	pos, err := e.position(owner, id)
	if err != nil {
		return nil, err
	}
	debt, metrics, err := e.currentState(pos)
	if err != nil {
		return nil, err
	}
	return healthFactor(metrics.LiquidationLevel, debt, e.baseDecimals), nil
}

// CreditLimit returns the position's current borrow capacity in base units.
func (e *Engine) CreditLimit(owner crypto.Address, id uint64) (*big.Int, error) {
	metrics, err := e.positionMetrics(owner, id)
	if err != nil {
		return nil, err
	}
	return metrics.CreditLimit, nil
}

// CollateralValue returns the position's total collateral value in base units.
func (e *Engine) CollateralValue(owner crypto.Address, id uint64) (*big.Int, error) {
	metrics, err := e.positionMetrics(owner, id)
	if err != nil {
		return nil, err
	}
	return metrics.CollateralValue, nil
}

// DebtWithInterest returns the outstanding debt compounded to now without
// mutating the position.
func (e *Engine) DebtWithInterest(owner crypto.Address, id uint64) (*big.Int, error) {
	if e == nil || e.assets == nil || e.vault == nil {
		return nil, errNilState
	}
	pos, err := e.position(owner, id)
	if err != nil {
		return nil, err
	}
	debt, _, err := e.currentState(pos)
	if err != nil {
		return nil, err
	}
	return debt, nil
}

func (e *Engine) positionMetrics(owner crypto.Address, id uint64) (riskMetrics, error) {
	if e == nil || e.assets == nil {
		return riskMetrics{}, errNilState
	}
	pos, err := e.position(owner, id)
	if err != nil {
		return riskMetrics{}, err
	}
	basePrice, err := e.basePrice()
	if err != nil {
		return riskMetrics{}, err
	}
	return computeMetrics(pos.Collateral, e.assets, basePrice, e.baseDecimals)
}

func (e *Engine) basePrice() (*big.Int, error) {
	params, err := e.assets.Params(e.baseAsset)
	if err != nil {
		return nil, err
	}
	return params.Price, nil
}

func (e *Engine) transfer(from, to crypto.Address, asset string, amount *big.Int) error {
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	if fromAcc == nil || fromAcc.Balance(asset).Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	if toAcc == nil {
		toAcc = &types.Account{}
	}
	fromAcc.SetBalance(asset, new(big.Int).Sub(fromAcc.Balance(asset), amount))
	toAcc.SetBalance(asset, new(big.Int).Add(toAcc.Balance(asset), amount))
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}
