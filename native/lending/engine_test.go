package lending

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"lendmesh/core/types"
	"lendmesh/crypto"
	"lendmesh/native/assets"
	nativecommon "lendmesh/native/common"
	"lendmesh/native/oracle"
	"lendmesh/native/vault"
)

type memState struct {
	accounts map[string]*types.Account
}

func newMemState() *memState {
	return &memState{accounts: make(map[string]*types.Account)}
}

func (m *memState) GetAccount(addr crypto.Address) (*types.Account, error) {
	key := string(addr.Bytes())
	acc, ok := m.accounts[key]
	if !ok {
		acc = &types.Account{}
		m.accounts[key] = acc
	}
	return acc, nil
}

func (m *memState) PutAccount(addr crypto.Address, account *types.Account) error {
	m.accounts[string(addr.Bytes())] = account
	return nil
}

type priceFeed struct {
	answer  *big.Int
	updated time.Time
}

func (f *priceFeed) LatestRound() (oracle.RoundData, error) {
	return oracle.RoundData{RoundID: 1, Answer: new(big.Int).Set(f.answer), UpdatedAt: f.updated, AnsweredInRound: 1}, nil
}

func (f *priceFeed) Round(uint64) (oracle.RoundData, error) {
	return oracle.RoundData{}, errors.New("no history")
}

func accountAddr(tag byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = tag
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func moduleAddr(tag byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = tag
	return crypto.NewAddress(crypto.ModulePrefix, raw)
}

type fixture struct {
	state     *memState
	roles     *nativecommon.RoleSet
	assetsMod *assets.Module
	vlt       *vault.Vault
	eng       *Engine

	manager   crypto.Address
	supplier  crypto.Address
	owner     crypto.Address
	tokenFeed *priceFeed
	nowUnix   int64
}

func million(n int64) *big.Int { return big.NewInt(n * 1_000_000) }

func wholeTokens(n int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), pow10(decimals))
}

func chainlinkSource(feed oracle.RoundFeed) oracle.AssetSources {
	return oracle.AssetSources{
		ChainlinkActive: true,
		Chainlink:       feed,
		Primary:         oracle.SourceChainlink,
		MinOracleCount:  1,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fix := &fixture{
		state:    newMemState(),
		roles:    nativecommon.NewRoleSet(),
		manager:  accountAddr(0x01),
		supplier: accountAddr(0x02),
		owner:    accountAddr(0x03),
		nowUnix:  1_700_000_000,
	}
	clock := func() time.Time { return time.Unix(fix.nowUnix, 0) }

	oracleEng, err := oracle.NewEngine(oracle.DefaultConfig())
	if err != nil {
		t.Fatalf("oracle engine: %v", err)
	}
	oracleEng.SetNowFunc(clock)

	fix.roles.Grant(nativecommon.RoleManager, fix.manager)
	fix.assetsMod = assets.NewModule(oracleEng)
	fix.assetsMod.SetRoles(fix.roles)

	usdcFeed := &priceFeed{answer: big.NewInt(1_000_000), updated: clock()}
	if err := fix.assetsMod.UpdateAsset(fix.manager, assets.AssetConfig{
		Symbol:               "USDC",
		Active:               true,
		Decimals:             6,
		BorrowThreshold:      800,
		LiquidationThreshold: 850,
		MaxSupplyThreshold:   wholeTokens(1_000_000_000, 6),
		Tier:                 assets.TierStable,
		Oracle:               chainlinkSource(usdcFeed),
	}); err != nil {
		t.Fatalf("list USDC: %v", err)
	}

	fix.tokenFeed = &priceFeed{answer: big.NewInt(1_000_000), updated: clock()}
	if err := fix.assetsMod.UpdateAsset(fix.manager, assets.AssetConfig{
		Symbol:               "WETH",
		Active:               true,
		Decimals:             18,
		BorrowThreshold:      900,
		LiquidationThreshold: 950,
		MaxSupplyThreshold:   wholeTokens(1_000_000_000, 18),
		Tier:                 assets.TierStable,
		Oracle:               chainlinkSource(fix.tokenFeed),
	}); err != nil {
		t.Fatalf("list WETH: %v", err)
	}

	vaultAddr := moduleAddr(0xa0)
	fix.vlt = vault.NewVault(vaultAddr, accountAddr(0xfe), "USDC", 6, vault.DefaultProtocolConfig())
	fix.vlt.SetState(fix.state)
	fix.vlt.SetRoles(fix.roles)
	fix.vlt.SetNowFunc(clock)

	engineAddr := moduleAddr(0xa1)
	fix.eng = NewEngine(engineAddr, "USDC", 6)
	fix.eng.SetState(fix.state)
	fix.eng.SetAssets(fix.assetsMod)
	fix.eng.SetVault(fix.vlt)
	fix.eng.SetNowFunc(clock)
	fix.roles.Grant(nativecommon.RoleProtocol, engineAddr)

	fix.fund(fix.supplier, "USDC", million(10_000))
	if _, err := fix.vlt.Deposit(fix.supplier, fix.supplier, million(10_000)); err != nil {
		t.Fatalf("seed vault: %v", err)
	}
	fix.advance(1)
	return fix
}

func (f *fixture) fund(addr crypto.Address, asset string, amount *big.Int) {
	acc, _ := f.state.GetAccount(addr)
	acc.SetBalance(asset, new(big.Int).Set(amount))
}

func (f *fixture) balance(addr crypto.Address, asset string) *big.Int {
	acc, _ := f.state.GetAccount(addr)
	return acc.Balance(asset)
}

func (f *fixture) advance(seconds int64) { f.nowUnix += seconds }

// openFunded creates a position holding 1000 WETH at price 1.00.
func (f *fixture) openFunded(t *testing.T) uint64 {
	t.Helper()
	id, err := f.eng.CreatePosition(f.owner, "WETH", false)
	if err != nil {
		t.Fatalf("create position: %v", err)
	}
	f.fund(f.owner, "WETH", wholeTokens(1000, 18))
	if err := f.eng.SupplyCollateral(f.owner, id, "WETH", wholeTokens(1000, 18)); err != nil {
		t.Fatalf("supply collateral: %v", err)
	}
	return id
}

func TestCollateralValuation(t *testing.T) {
	fix := newFixture(t)
	id := fix.openFunded(t)

	value, err := fix.eng.CollateralValue(fix.owner, id)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	if value.Cmp(million(1000)) != 0 {
		t.Fatalf("collateral value = %s, want 1000e6", value)
	}
	limit, err := fix.eng.CreditLimit(fix.owner, id)
	if err != nil {
		t.Fatalf("credit limit: %v", err)
	}
	if limit.Cmp(million(900)) != 0 {
		t.Fatalf("credit limit = %s, want 900e6", limit)
	}
	metrics, err := fix.eng.positionMetrics(fix.owner, id)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics.LiquidationLevel.Cmp(million(950)) != 0 {
		t.Fatalf("liquidation level = %s, want 950e6", metrics.LiquidationLevel)
	}
}

func TestBorrowCreditLimitBoundary(t *testing.T) {
	fix := newFixture(t)
	id := fix.openFunded(t)
	fix.advance(1)

	over := new(big.Int).Add(million(900), big.NewInt(1))
	if err := fix.eng.Borrow(fix.owner, id, over, nil, 0); !errors.Is(err, ErrCreditLimit) {
		t.Fatalf("over-limit borrow err = %v, want ErrCreditLimit", err)
	}
	// A failed borrow must not consume the block's debt operation.
	if err := fix.eng.Borrow(fix.owner, id, million(900), nil, 0); err != nil {
		t.Fatalf("at-limit borrow: %v", err)
	}
	if got := fix.balance(fix.owner, "USDC"); got.Cmp(million(900)) != 0 {
		t.Fatalf("owner USDC = %s, want 900e6", got)
	}
	if got := fix.vlt.TotalBorrow(); got.Cmp(million(900)) != 0 {
		t.Fatalf("vault total borrow = %s", got)
	}
}

func TestBorrowSameBlockGuard(t *testing.T) {
	fix := newFixture(t)
	id := fix.openFunded(t)
	fix.advance(1)

	if err := fix.eng.Borrow(fix.owner, id, million(100), nil, 0); err != nil {
		t.Fatalf("first borrow: %v", err)
	}
	if err := fix.eng.Borrow(fix.owner, id, big.NewInt(1), nil, 0); !errors.Is(err, ErrSameBlockOperation) {
		t.Fatalf("second same-block borrow err = %v, want ErrSameBlockOperation", err)
	}
	if err := fix.eng.Repay(fix.owner, id, million(1), nil, 0); !errors.Is(err, ErrSameBlockOperation) {
		t.Fatalf("same-block repay err = %v, want ErrSameBlockOperation", err)
	}
	fix.advance(1)
	if err := fix.eng.Borrow(fix.owner, id, million(100), nil, 0); err != nil {
		t.Fatalf("next-block borrow: %v", err)
	}
}

func TestHealthFactorAndLiquidation(t *testing.T) {
	fix := newFixture(t)
	id := fix.openFunded(t)
	fix.advance(1)
	if err := fix.eng.Borrow(fix.owner, id, million(900), nil, 0); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// 950e6 × 1e6 / 900e6 at zero elapsed time.
	hf, err := fix.eng.HealthFactor(fix.owner, id)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf.Cmp(big.NewInt(1_055_555)) != 0 {
		t.Fatalf("health factor = %s, want 1055555", hf)
	}

	liquidator := accountAddr(0x09)
	fix.fund(liquidator, "USDC", million(1_000))
	liqAcc, _ := fix.state.GetAccount(liquidator)
	liqAcc.GovernanceTokens = big.NewInt(20)

	fix.advance(1)
	if err := fix.eng.Liquidate(liquidator, fix.owner, id, nil, 0); !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("healthy liquidation err = %v, want ErrNotLiquidatable", err)
	}

	// Price drop pushes the liquidation level below the debt.
	fix.tokenFeed.answer = big.NewInt(894_737)
	fix.tokenFeed.updated = time.Unix(fix.nowUnix, 0)

	hf, err = fix.eng.HealthFactor(fix.owner, id)
	if err != nil {
		t.Fatalf("health factor after drop: %v", err)
	}
	if hf.Cmp(big.NewInt(1_000_000)) >= 0 {
		t.Fatalf("health factor = %s, want < 1e6", hf)
	}

	if err := fix.eng.Liquidate(liquidator, fix.owner, id, nil, 0); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	pos, err := fix.eng.GetPosition(fix.owner, id)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Status != StatusLiquidated {
		t.Fatalf("status = %s, want LIQUIDATED", pos.Status)
	}
	if pos.Debt.Sign() != 0 || pos.Collateral.Len() != 0 {
		t.Fatalf("terminal position must have zero debt and empty custody")
	}
	if got := fix.balance(liquidator, "WETH"); got.Cmp(wholeTokens(1000, 18)) != 0 {
		t.Fatalf("liquidator WETH = %s, want 1000e18", got)
	}
	if got := fix.vlt.TotalBorrow(); got.Sign() != 0 {
		t.Fatalf("vault total borrow after liquidation = %s", got)
	}

	// Terminal states never reactivate.
	if err := fix.eng.SupplyCollateral(fix.owner, id, "WETH", big.NewInt(1)); !errors.Is(err, ErrPositionNotActive) {
		t.Fatalf("supply on liquidated position err = %v", err)
	}
}

func TestLiquidatorGovernanceThreshold(t *testing.T) {
	fix := newFixture(t)
	id := fix.openFunded(t)
	fix.advance(1)
	if err := fix.eng.Borrow(fix.owner, id, million(900), nil, 0); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	fix.tokenFeed.answer = big.NewInt(800_000)
	fix.tokenFeed.updated = time.Unix(fix.nowUnix, 0)
	fix.advance(1)

	liquidator := accountAddr(0x09)
	fix.fund(liquidator, "USDC", million(1_000))
	liqAcc, _ := fix.state.GetAccount(liquidator)
	liqAcc.GovernanceTokens = big.NewInt(19)
	if err := fix.eng.Liquidate(liquidator, fix.owner, id, nil, 0); !errors.Is(err, ErrGovTokenThreshold) {
		t.Fatalf("err = %v, want ErrGovTokenThreshold", err)
	}
}

func TestIsolationMode(t *testing.T) {
	fix := newFixture(t)
	if err := fix.assetsMod.UpdateAsset(fix.manager, assets.AssetConfig{
		Symbol:               "GAME",
		Active:               true,
		Decimals:             18,
		BorrowThreshold:      500,
		LiquidationThreshold: 700,
		MaxSupplyThreshold:   wholeTokens(1_000_000_000, 18),
		IsolationDebtCap:     million(100),
		Tier:                 assets.TierIsolated,
		Oracle:               chainlinkSource(&priceFeed{answer: big.NewInt(1_000_000), updated: time.Unix(fix.nowUnix, 0)}),
	}); err != nil {
		t.Fatalf("list GAME: %v", err)
	}

	if _, err := fix.eng.CreatePosition(fix.owner, "GAME", false); !errors.Is(err, ErrIsolationMode) {
		t.Fatalf("cross position on isolated asset err = %v", err)
	}
	id, err := fix.eng.CreatePosition(fix.owner, "GAME", true)
	if err != nil {
		t.Fatalf("create isolated: %v", err)
	}

	fix.fund(fix.owner, "WETH", wholeTokens(1, 18))
	if err := fix.eng.SupplyCollateral(fix.owner, id, "WETH", wholeTokens(1, 18)); !errors.Is(err, ErrIsolationMode) {
		t.Fatalf("foreign collateral err = %v", err)
	}

	fix.fund(fix.owner, "GAME", wholeTokens(1000, 18))
	if err := fix.eng.SupplyCollateral(fix.owner, id, "GAME", wholeTokens(1000, 18)); err != nil {
		t.Fatalf("supply GAME: %v", err)
	}

	fix.advance(1)
	over := new(big.Int).Add(million(100), big.NewInt(1))
	if err := fix.eng.Borrow(fix.owner, id, over, nil, 0); !errors.Is(err, ErrIsolationDebtCap) {
		t.Fatalf("over-cap borrow err = %v, want ErrIsolationDebtCap", err)
	}
	if err := fix.eng.Borrow(fix.owner, id, million(100), nil, 0); err != nil {
		t.Fatalf("at-cap borrow: %v", err)
	}

	// Isolated assets never enter cross positions either.
	cross, err := fix.eng.CreatePosition(fix.owner, "WETH", false)
	if err != nil {
		t.Fatalf("create cross: %v", err)
	}
	if err := fix.eng.SupplyCollateral(fix.owner, cross, "GAME", wholeTokens(1, 18)); !errors.Is(err, ErrIsolationMode) {
		t.Fatalf("isolated asset in cross position err = %v", err)
	}
}

func TestWithdrawGuardedByDebt(t *testing.T) {
	fix := newFixture(t)
	id := fix.openFunded(t)
	fix.advance(1)
	if err := fix.eng.Borrow(fix.owner, id, million(900), nil, 0); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	fix.advance(1)
	if err := fix.eng.WithdrawCollateral(fix.owner, id, "WETH", wholeTokens(1, 18)); !errors.Is(err, ErrCreditLimit) {
		t.Fatalf("withdraw at limit err = %v, want ErrCreditLimit", err)
	}

	fix.fund(fix.owner, "USDC", million(1_000))
	if err := fix.eng.Repay(fix.owner, id, million(1_000), nil, 0); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := fix.eng.WithdrawCollateral(fix.owner, id, "WETH", wholeTokens(1000, 18)); err != nil {
		t.Fatalf("withdraw after repay: %v", err)
	}
	if got := fix.balance(fix.owner, "WETH"); got.Cmp(wholeTokens(1000, 18)) != 0 {
		t.Fatalf("owner WETH = %s", got)
	}
}

func TestExitPosition(t *testing.T) {
	fix := newFixture(t)
	id := fix.openFunded(t)
	fix.advance(1)
	if err := fix.eng.Borrow(fix.owner, id, million(500), nil, 0); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	fix.advance(60)

	if err := fix.eng.ExitPosition(fix.owner, id, million(100), nil, 0); !errors.Is(err, ErrDebtOutstanding) {
		t.Fatalf("partial exit err = %v, want ErrDebtOutstanding", err)
	}

	// Cover principal plus accrued interest; the repay is capped at what is
	// actually owed.
	fix.fund(fix.owner, "USDC", million(600))
	if err := fix.eng.ExitPosition(fix.owner, id, million(600), nil, 0); err != nil {
		t.Fatalf("exit: %v", err)
	}
	pos, err := fix.eng.GetPosition(fix.owner, id)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Status != StatusClosed {
		t.Fatalf("status = %s, want CLOSED", pos.Status)
	}
	if got := fix.balance(fix.owner, "WETH"); got.Cmp(wholeTokens(1000, 18)) != 0 {
		t.Fatalf("collateral not swept back: %s", got)
	}
	if err := fix.eng.Borrow(fix.owner, id, big.NewInt(1), nil, 0); !errors.Is(err, ErrPositionNotActive) {
		t.Fatalf("borrow on closed position err = %v", err)
	}
}

func TestBorrowSlippageBound(t *testing.T) {
	fix := newFixture(t)
	id := fix.openFunded(t)
	fix.advance(1)

	// Actual credit limit 900e6 vs expectation 1000e6 at a 1% bound.
	err := fix.eng.Borrow(fix.owner, id, million(100), million(1_000), 100)
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("err = %v, want ErrSlippageExceeded", err)
	}
	if err := fix.eng.Borrow(fix.owner, id, million(100), million(900), 100); err != nil {
		t.Fatalf("borrow with matching expectation: %v", err)
	}
}

func TestExitPositionSlippageBound(t *testing.T) {
	fix := newFixture(t)
	id := fix.openFunded(t)
	fix.advance(1)
	if err := fix.eng.Borrow(fix.owner, id, million(500), nil, 0); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	fix.advance(60)
	fix.fund(fix.owner, "USDC", million(100))

	// The quoted debt is far below what is actually owed; a 1% bound rejects
	// the exit before any transfer happens.
	err := fix.eng.ExitPosition(fix.owner, id, million(600), million(100), 100)
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("err = %v, want ErrSlippageExceeded", err)
	}

	// A quote near the accrued debt passes the same bound.
	if err := fix.eng.ExitPosition(fix.owner, id, million(600), million(500), 100); err != nil {
		t.Fatalf("exit with matching expectation: %v", err)
	}
}

func TestCollateralAssetCap(t *testing.T) {
	fix := newFixture(t)
	id, err := fix.eng.CreatePosition(fix.owner, "WETH", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < MaxCollateralAssets; i++ {
		symbol := "TKN" + string(rune('A'+i))
		if err := fix.assetsMod.UpdateAsset(fix.manager, assets.AssetConfig{
			Symbol:               symbol,
			Active:               true,
			Decimals:             18,
			BorrowThreshold:      700,
			LiquidationThreshold: 800,
			MaxSupplyThreshold:   wholeTokens(1_000_000, 18),
			Tier:                 assets.TierCrossA,
			Oracle:               chainlinkSource(&priceFeed{answer: big.NewInt(1_000_000), updated: time.Unix(fix.nowUnix, 0)}),
		}); err != nil {
			t.Fatalf("list %s: %v", symbol, err)
		}
		fix.fund(fix.owner, symbol, wholeTokens(1, 18))
		if err := fix.eng.SupplyCollateral(fix.owner, id, symbol, wholeTokens(1, 18)); err != nil {
			t.Fatalf("supply %s: %v", symbol, err)
		}
	}
	fix.fund(fix.owner, "WETH", wholeTokens(1, 18))
	if err := fix.eng.SupplyCollateral(fix.owner, id, "WETH", wholeTokens(1, 18)); !errors.Is(err, ErrAssetCapReached) {
		t.Fatalf("21st asset err = %v, want ErrAssetCapReached", err)
	}
}

func TestPositionListAppendOnly(t *testing.T) {
	fix := newFixture(t)
	first, err := fix.eng.CreatePosition(fix.owner, "WETH", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fix.advance(1)
	if err := fix.eng.ExitPosition(fix.owner, first, nil, nil, 0); err != nil {
		t.Fatalf("exit empty position: %v", err)
	}
	second, err := fix.eng.CreatePosition(fix.owner, "WETH", false)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second != first+1 {
		t.Fatalf("position IDs must never be reused: got %d after %d", second, first)
	}
	if got := fix.eng.PositionCount(fix.owner); got != 2 {
		t.Fatalf("position count = %d, want 2 (closed entries included)", got)
	}
}
