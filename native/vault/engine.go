package vault

import (
	"errors"
	"math/big"
	"time"

	"lendmesh/core/events"
	"lendmesh/core/types"
	"lendmesh/crypto"
	nativecommon "lendmesh/native/common"
	"lendmesh/native/rates"
)

var (
	errNilState              = errors.New("liquidity vault: state not configured")
	errInvalidAmount         = errors.New("liquidity vault: amount must be positive")
	errInsufficientBalance   = errors.New("liquidity vault: insufficient balance")
	errInsufficientShares    = errors.New("liquidity vault: insufficient shares")
	errInsufficientLiquidity = errors.New("liquidity vault: insufficient liquidity")

	// ErrSameBlockOperation trips the MEV guard: a second share or borrow
	// operation for the same address within one block always reverts.
	ErrSameBlockOperation = errors.New("liquidity vault: operation already executed this block")
	// ErrFlashLoanFailed covers both a failing callback and a post-call
	// balance below principal plus fee.
	ErrFlashLoanFailed = errors.New("liquidity vault: flash loan not repaid")
)

const moduleName = "vault"

type vaultState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// FlashBorrower receives flash-loaned liquidity and must return principal
// plus fee to the vault before the callback ends.
type FlashBorrower interface {
	OnFlashLoan(initiator crypto.Address, asset string, amount, fee *big.Int, data []byte) error
}

// Vault implements the tokenized-share liquidity pool for one market's base
// asset: deposit/mint/withdraw/redeem share accounting with
// protocol-fee-by-dilution, role-gated borrow/repay for the core ledger, and
// fee-verified flash loans.
type Vault struct {
	state         vaultState
	moduleAddress crypto.Address
	feeRecipient  crypto.Address
	baseAsset     string
	baseDecimals  uint8

	cfg     ProtocolConfig
	roles   nativecommon.RoleView
	pauses  nativecommon.PauseView
	emitter events.Emitter
	now     func() time.Time

	totalShares            *big.Int
	shares                 map[string]*big.Int
	totalBase              *big.Int
	totalSuppliedLiquidity *big.Int
	totalBorrow            *big.Int
	feeRealized            *big.Int
	borrowPrincipal        map[string]*big.Int
	lastOp                 map[string]int64
	lastDeposit            map[string]int64
}

// NewVault constructs a vault for the given base asset. The module address
// custodies pooled liquidity; the fee recipient collects realized protocol
// fee shares.
func NewVault(moduleAddr, feeRecipient crypto.Address, baseAsset string, baseDecimals uint8, cfg ProtocolConfig) *Vault {
	return &Vault{
		moduleAddress:          moduleAddr,
		feeRecipient:           feeRecipient,
		baseAsset:              baseAsset,
		baseDecimals:           baseDecimals,
		cfg:                    cfg.Clone(),
		emitter:                events.NoopEmitter{},
		now:                    time.Now,
		totalShares:            big.NewInt(0),
		shares:                 make(map[string]*big.Int),
		totalBase:              big.NewInt(0),
		totalSuppliedLiquidity: big.NewInt(0),
		totalBorrow:            big.NewInt(0),
		feeRealized:            big.NewInt(0),
		borrowPrincipal:        make(map[string]*big.Int),
		lastOp:                 make(map[string]int64),
		lastDeposit:            make(map[string]int64),
	}
}

// SetState wires the vault to the external account persistence layer.
func (v *Vault) SetState(state vaultState) { v.state = state }

func (v *Vault) SetPauses(p nativecommon.PauseView) {
	if v == nil {
		return
	}
	v.pauses = p
}

func (v *Vault) SetRoles(r nativecommon.RoleView) {
	if v == nil {
		return
	}
	v.roles = r
}

func (v *Vault) SetEmitter(emitter events.Emitter) {
	if v == nil {
		return
	}
	if emitter == nil {
		v.emitter = events.NoopEmitter{}
		return
	}
	v.emitter = emitter
}

// SetNowFunc overrides the clock used for the same-block guards and reward
// eligibility.
func (v *Vault) SetNowFunc(now func() time.Time) {
	if v == nil || now == nil {
		return
	}
	v.now = now
}

// SetProtocolConfig replaces the cached protocol configuration. The core must
// call this after every manager update; the vault never re-reads on its own.
func (v *Vault) SetProtocolConfig(cfg ProtocolConfig) error {
	if v == nil {
		return errNilState
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	v.cfg = cfg.Clone()
	return nil
}

// ProtocolConfig returns a copy of the cached configuration.
func (v *Vault) ProtocolConfig() ProtocolConfig {
	if v == nil {
		return ProtocolConfig{}
	}
	return v.cfg.Clone()
}

// BaseAsset returns the vault's underlying asset symbol.
func (v *Vault) BaseAsset() string {
	if v == nil {
		return ""
	}
	return v.baseAsset
}

// --- aggregates ---

// TotalAssets returns the base value backing all shares: cash held plus
// outstanding borrows.
func (v *Vault) TotalAssets() *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Add(v.totalBase, v.totalBorrow)
}

func (v *Vault) TotalBase() *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v.totalBase)
}

func (v *Vault) TotalBorrow() *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v.totalBorrow)
}

func (v *Vault) TotalSuppliedLiquidity() *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v.totalSuppliedLiquidity)
}

func (v *Vault) TotalShares() *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v.totalShares)
}

// SharesOf returns the share balance held by the address.
func (v *Vault) SharesOf(addr crypto.Address) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	bal, ok := v.shares[string(addr.Bytes())]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// Utilization returns WAD × totalBorrow / totalSuppliedLiquidity.
func (v *Vault) Utilization() uint64 {
	if v == nil {
		return 0
	}
	return rates.Utilization(v.totalBorrow, v.totalSuppliedLiquidity)
}

// BorrowRate composes the annual borrow rate for a collateral tier from the
// pool's break-even-plus-target rate, the configured base rate and the tier
// jump premium.
func (v *Vault) BorrowRate(tierJumpWad uint64) uint64 {
	if v == nil {
		return 0
	}
	util := v.Utilization()
	breakEven := rates.BreakEvenRate(v.totalSuppliedLiquidity, v.TotalAssets(), v.totalBorrow)
	return rates.BorrowRate(util, v.cfg.BorrowRate, breakEven+v.cfg.ProfitTargetRate, tierJumpWad)
}

// SupplyRate is the supplier-facing annual rate at current utilization.
func (v *Vault) SupplyRate() uint64 {
	if v == nil {
		return 0
	}
	util := v.Utilization()
	return rates.SupplyRate(util, v.BorrowRate(0), v.cfg.ProfitTargetRate)
}

// --- share conversion ---

// pendingFeeTarget is the base value still owed to the protocol:
// totalSuppliedLiquidity × profitTargetRate, flat, net of what earlier
// realizations already minted. The pool only owes it once total assets
// actually cover supplied principal plus the full target.
func (v *Vault) pendingFeeTarget() *big.Int {
	if v.totalSuppliedLiquidity.Sign() == 0 {
		return big.NewInt(0)
	}
	target := new(big.Int).Mul(v.totalSuppliedLiquidity, new(big.Int).SetUint64(v.cfg.ProfitTargetRate))
	target.Quo(target, big.NewInt(rates.WadScale))
	if target.Sign() == 0 {
		return big.NewInt(0)
	}
	threshold := new(big.Int).Add(v.totalSuppliedLiquidity, target)
	if v.TotalAssets().Cmp(threshold) < 0 {
		return big.NewInt(0)
	}
	owed := new(big.Int).Sub(target, v.feeRealized)
	if owed.Sign() <= 0 {
		return big.NewInt(0)
	}
	return owed
}

// virtualFeeShares computes the protocol fee shares that the exchange rate
// must already account for, before they are actually minted. Two redeemers in
// the same block therefore see the same fee-adjusted rate even though only the
// first realizes the mint.
func (v *Vault) virtualFeeShares() *big.Int {
	if v.totalShares.Sign() == 0 || v.totalBase.Sign() == 0 {
		return big.NewInt(0)
	}
	target := v.pendingFeeTarget()
	if target.Sign() == 0 {
		return big.NewInt(0)
	}
	feeShares := new(big.Int).Mul(target, v.totalShares)
	return feeShares.Quo(feeShares, v.TotalAssets())
}

// ConvertToShares maps a base amount to shares at the fee-adjusted rate.
func (v *Vault) ConvertToShares(assets *big.Int) *big.Int {
	if v == nil || assets == nil || assets.Sign() <= 0 {
		return big.NewInt(0)
	}
	if v.totalShares.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	supply := new(big.Int).Add(v.totalShares, v.virtualFeeShares())
	out := new(big.Int).Mul(assets, supply)
	return out.Quo(out, v.TotalAssets())
}

// ConvertToAssets maps shares to the base amount at the fee-adjusted rate.
func (v *Vault) ConvertToAssets(shares *big.Int) *big.Int {
	if v == nil || shares == nil || shares.Sign() <= 0 {
		return big.NewInt(0)
	}
	supply := new(big.Int).Add(v.totalShares, v.virtualFeeShares())
	if supply.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(shares, v.TotalAssets())
	return out.Quo(out, supply)
}

// realizeFee mints the pending virtual fee shares to the fee recipient. Only
// withdraw and redeem trigger realization; the calculation is identical to
// the virtual adjustment so the exchange rate does not move.
func (v *Vault) realizeFee() {
	feeShares := v.virtualFeeShares()
	if feeShares.Sign() == 0 {
		return
	}
	v.feeRealized = new(big.Int).Add(v.feeRealized, v.pendingFeeTarget())
	v.creditShares(v.feeRecipient, feeShares)
	v.totalShares = new(big.Int).Add(v.totalShares, feeShares)
	v.emitter.Emit(feeRealizedEvent{Shares: new(big.Int).Set(feeShares)})
}

func (v *Vault) creditShares(addr crypto.Address, amount *big.Int) {
	key := string(addr.Bytes())
	bal, ok := v.shares[key]
	if !ok {
		bal = big.NewInt(0)
	}
	v.shares[key] = new(big.Int).Add(bal, amount)
}

// --- same-block guard ---

// sameBlockGuard rejects a second share operation for the address within one
// block. The slot is only consumed by recordBlockOp once the operation
// commits, so a failed call never locks out a legitimate retry.
func (v *Vault) sameBlockGuard(addr crypto.Address) error {
	if last, ok := v.lastOp[string(addr.Bytes())]; ok && last >= v.now().Unix() {
		return ErrSameBlockOperation
	}
	return nil
}

func (v *Vault) recordBlockOp(addr crypto.Address) {
	v.lastOp[string(addr.Bytes())] = v.now().Unix()
}

// --- account plumbing ---

func (v *Vault) loadAccount(addr crypto.Address) (*types.Account, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	acc, err := v.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, errInsufficientBalance
	}
	return acc, nil
}

func (v *Vault) transferBase(from, to crypto.Address, amount *big.Int) error {
	fromAcc, err := v.loadAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance(v.baseAsset).Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	toAcc, err := v.state.GetAccount(to)
	if err != nil {
		return err
	}
	if toAcc == nil {
		toAcc = &types.Account{}
	}
	fromAcc.SetBalance(v.baseAsset, new(big.Int).Sub(fromAcc.Balance(v.baseAsset), amount))
	toAcc.SetBalance(v.baseAsset, new(big.Int).Add(toAcc.Balance(v.baseAsset), amount))
	if err := v.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return v.state.PutAccount(to, toAcc)
}

// --- share operations ---

// Deposit moves base liquidity from the sender into the pool and mints shares
// to the receiver at the current fee-adjusted rate.
func (v *Vault) Deposit(sender, receiver crypto.Address, assets *big.Int) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(v.pauses, moduleName); err != nil {
		return nil, err
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if err := v.sameBlockGuard(receiver); err != nil {
		return nil, err
	}

	minted := v.ConvertToShares(assets)
	if minted.Sign() == 0 {
		return nil, errInvalidAmount
	}
	if err := v.transferBase(sender, v.moduleAddress, assets); err != nil {
		return nil, err
	}

	v.creditShares(receiver, minted)
	v.totalShares = new(big.Int).Add(v.totalShares, minted)
	v.totalBase = new(big.Int).Add(v.totalBase, assets)
	v.totalSuppliedLiquidity = new(big.Int).Add(v.totalSuppliedLiquidity, assets)
	v.lastDeposit[string(receiver.Bytes())] = v.now().Unix()
	v.recordBlockOp(receiver)

	return minted, nil
}

// Mint deposits exactly enough base liquidity to mint the requested shares.
func (v *Vault) Mint(sender, receiver crypto.Address, shares *big.Int) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(v.pauses, moduleName); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if err := v.sameBlockGuard(receiver); err != nil {
		return nil, err
	}

	var assets *big.Int
	if v.totalShares.Sign() == 0 {
		assets = new(big.Int).Set(shares)
	} else {
		supply := new(big.Int).Add(v.totalShares, v.virtualFeeShares())
		assets = new(big.Int).Mul(shares, v.TotalAssets())
		assets = ceilQuo(assets, supply)
	}
	if assets.Sign() == 0 {
		return nil, errInvalidAmount
	}
	if err := v.transferBase(sender, v.moduleAddress, assets); err != nil {
		return nil, err
	}

	v.creditShares(receiver, shares)
	v.totalShares = new(big.Int).Add(v.totalShares, shares)
	v.totalBase = new(big.Int).Add(v.totalBase, assets)
	v.totalSuppliedLiquidity = new(big.Int).Add(v.totalSuppliedLiquidity, assets)
	v.lastDeposit[string(receiver.Bytes())] = v.now().Unix()
	v.recordBlockOp(receiver)

	return assets, nil
}

// Withdraw burns whatever shares are required to release the requested base
// amount to the receiver. Pending protocol fee shares are realized first.
func (v *Vault) Withdraw(owner, receiver crypto.Address, assets *big.Int) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(v.pauses, moduleName); err != nil {
		return nil, err
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if err := v.sameBlockGuard(owner); err != nil {
		return nil, err
	}

	v.realizeFee()

	if v.totalShares.Sign() == 0 {
		return nil, errInsufficientShares
	}
	burned := new(big.Int).Mul(assets, v.totalShares)
	burned = ceilQuo(burned, v.TotalAssets())
	out, err := v.redeemShares(owner, receiver, burned, assets)
	if err != nil {
		return nil, err
	}
	v.recordBlockOp(owner)
	return out, nil
}

// Redeem burns the requested shares and releases the corresponding base
// amount to the receiver. Pending protocol fee shares are realized first.
func (v *Vault) Redeem(owner, receiver crypto.Address, shares *big.Int) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(v.pauses, moduleName); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if err := v.sameBlockGuard(owner); err != nil {
		return nil, err
	}

	v.realizeFee()

	if v.totalShares.Sign() == 0 {
		return nil, errInsufficientShares
	}
	assets := new(big.Int).Mul(shares, v.TotalAssets())
	assets.Quo(assets, v.totalShares)
	if _, err := v.redeemShares(owner, receiver, shares, assets); err != nil {
		return nil, err
	}
	v.recordBlockOp(owner)
	return assets, nil
}

func (v *Vault) redeemShares(owner, receiver crypto.Address, burn, assets *big.Int) (*big.Int, error) {
	key := string(owner.Bytes())
	bal, ok := v.shares[key]
	if !ok || bal.Cmp(burn) < 0 {
		return nil, errInsufficientShares
	}
	if v.totalBase.Cmp(assets) < 0 {
		return nil, errInsufficientLiquidity
	}
	if err := v.transferBase(v.moduleAddress, receiver, assets); err != nil {
		return nil, err
	}

	v.shares[key] = new(big.Int).Sub(bal, burn)
	v.totalShares = new(big.Int).Sub(v.totalShares, burn)
	v.totalBase = new(big.Int).Sub(v.totalBase, assets)
	supplied := new(big.Int).Sub(v.totalSuppliedLiquidity, assets)
	if supplied.Sign() < 0 {
		supplied = big.NewInt(0)
	}
	v.totalSuppliedLiquidity = supplied
	return new(big.Int).Set(burn), nil
}

// --- protocol borrow/repay ---

// Borrow releases pooled liquidity to the receiver. Restricted to the core
// ledger via the protocol role.
func (v *Vault) Borrow(caller crypto.Address, amount *big.Int, receiver crypto.Address) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(v.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(v.roles, nativecommon.RoleProtocol, caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if v.totalBase.Cmp(amount) < 0 {
		return errInsufficientLiquidity
	}
	if err := v.transferBase(v.moduleAddress, receiver, amount); err != nil {
		return err
	}
	v.totalBase = new(big.Int).Sub(v.totalBase, amount)
	v.totalBorrow = new(big.Int).Add(v.totalBorrow, amount)
	key := string(receiver.Bytes())
	principal, ok := v.borrowPrincipal[key]
	if !ok {
		principal = big.NewInt(0)
	}
	v.borrowPrincipal[key] = new(big.Int).Add(principal, amount)
	return nil
}

// Repay returns liquidity paid by sender against the borrower's principal.
// Sender and borrower differ during liquidation. The principal portion
// shrinks the aggregate borrow; anything beyond outstanding principal is
// accrued interest and stays in totalBase as supplier yield.
func (v *Vault) Repay(caller crypto.Address, amount *big.Int, sender, borrower crypto.Address) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(v.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(v.roles, nativecommon.RoleProtocol, caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := v.transferBase(sender, v.moduleAddress, amount); err != nil {
		return err
	}
	v.totalBase = new(big.Int).Add(v.totalBase, amount)

	key := string(borrower.Bytes())
	principal, ok := v.borrowPrincipal[key]
	if !ok {
		principal = big.NewInt(0)
	}
	principalPortion := new(big.Int).Set(amount)
	if principalPortion.Cmp(principal) > 0 {
		principalPortion = new(big.Int).Set(principal)
	}
	v.borrowPrincipal[key] = new(big.Int).Sub(principal, principalPortion)
	borrow := new(big.Int).Sub(v.totalBorrow, principalPortion)
	if borrow.Sign() < 0 {
		borrow = big.NewInt(0)
	}
	v.totalBorrow = borrow
	return nil
}

// CollectFee transfers realized protocol revenue (e.g. the liquidation fee)
// from the payer into the pool. It grows totalBase without touching shares.
// Restricted to the core ledger via the protocol role; a zero amount is inert.
func (v *Vault) CollectFee(caller, payer crypto.Address, amount *big.Int) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(v.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(v.roles, nativecommon.RoleProtocol, caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if err := v.transferBase(payer, v.moduleAddress, amount); err != nil {
		return err
	}
	v.totalBase = new(big.Int).Add(v.totalBase, amount)
	return nil
}

// --- flash loans ---

// FlashLoan transfers the amount to the borrower, invokes the callback and
// verifies that principal plus fee actually returned to the pool. The balance
// check defends against callbacks that lie about success.
func (v *Vault) FlashLoan(borrower FlashBorrower, beneficiary crypto.Address, amount *big.Int, data []byte) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(v.pauses, moduleName); err != nil {
		return err
	}
	if borrower == nil || amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if v.totalBase.Cmp(amount) < 0 {
		return errInsufficientLiquidity
	}

	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(v.cfg.FlashLoanFee))
	fee.Quo(fee, big.NewInt(10_000))

	moduleAcc, err := v.loadAccount(v.moduleAddress)
	if err != nil {
		return err
	}
	before := new(big.Int).Set(moduleAcc.Balance(v.baseAsset))

	if err := v.transferBase(v.moduleAddress, beneficiary, amount); err != nil {
		return err
	}
	if err := borrower.OnFlashLoan(beneficiary, v.baseAsset, amount, fee, data); err != nil {
		if rErr := v.revertFlashLoan(beneficiary, before); rErr != nil {
			return rErr
		}
		return ErrFlashLoanFailed
	}

	moduleAcc, err = v.loadAccount(v.moduleAddress)
	if err != nil {
		return err
	}
	required := new(big.Int).Add(before, fee)
	if moduleAcc.Balance(v.baseAsset).Cmp(required) < 0 {
		if rErr := v.revertFlashLoan(beneficiary, before); rErr != nil {
			return rErr
		}
		return ErrFlashLoanFailed
	}

	// The fee is realized value held in the pool, not a share-price lever.
	v.totalBase = new(big.Int).Add(v.totalBase, fee)
	v.emitter.Emit(flashLoanEvent{Amount: new(big.Int).Set(amount), Fee: fee})
	return nil
}

// revertFlashLoan restores the pool account to its pre-loan balance after a
// failed loan, reclaiming whatever the beneficiary still holds (or refunding
// any partial repayment) so a rejected callback leaves no value behind.
func (v *Vault) revertFlashLoan(beneficiary crypto.Address, before *big.Int) error {
	moduleAcc, err := v.loadAccount(v.moduleAddress)
	if err != nil {
		return err
	}
	diff := new(big.Int).Sub(before, moduleAcc.Balance(v.baseAsset))
	switch diff.Sign() {
	case 1:
		return v.transferBase(beneficiary, v.moduleAddress, diff)
	case -1:
		return v.transferBase(v.moduleAddress, beneficiary, diff.Neg(diff))
	}
	return nil
}

// --- supplier rewards ---

// IsRewardable reports whether the supplier currently qualifies for the
// governance reward: enough supplied value, held for at least the reward
// interval.
func (v *Vault) IsRewardable(addr crypto.Address) bool {
	if v == nil {
		return false
	}
	key := string(addr.Bytes())
	last, ok := v.lastDeposit[key]
	if !ok {
		return false
	}
	if v.now().Unix()-last < int64(v.cfg.RewardInterval) {
		return false
	}
	value := v.ConvertToAssets(v.SharesOf(addr))
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(v.baseDecimals)), nil)
	required := new(big.Int).Mul(v.cfg.RewardableSupply, scale)
	return value.Cmp(required) >= 0
}

func ceilQuo(numerator, denominator *big.Int) *big.Int {
	if denominator == nil || denominator.Sign() == 0 {
		return big.NewInt(0)
	}
	quot, rem := new(big.Int).QuoRem(numerator, denominator, new(big.Int))
	if rem.Sign() != 0 {
		quot.Add(quot, big.NewInt(1))
	}
	return quot
}
