package assets

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"lendmesh/crypto"
	nativecommon "lendmesh/native/common"
	"lendmesh/native/oracle"
)

type stubFeed struct {
	round oracle.RoundData
}

func (f *stubFeed) LatestRound() (oracle.RoundData, error) { return f.round, nil }
func (f *stubFeed) Round(uint64) (oracle.RoundData, error) {
	return oracle.RoundData{}, errors.New("no history")
}

type stubPool struct {
	tick    int64
	balance *big.Int
}

func (p *stubPool) TickCumulatives(window time.Duration) (int64, int64, error) {
	secs := int64(window / time.Second)
	return 0, p.tick * secs, nil
}
func (p *stubPool) TokenDecimals() uint8 { return 6 }
func (p *stubPool) QuoteDecimals() uint8 { return 6 }
func (p *stubPool) QuotesDirectly() bool { return true }
func (p *stubPool) TokenBalance() (*big.Int, error) {
	return new(big.Int).Set(p.balance), nil
}

func testAddr(tag byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = tag
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func chainlinkOnly(now time.Time) oracle.AssetSources {
	return oracle.AssetSources{
		ChainlinkActive: true,
		Chainlink:       &stubFeed{round: oracle.RoundData{RoundID: 1, Answer: big.NewInt(1_000_000), UpdatedAt: now, AnsweredInRound: 1}},
		Primary:         oracle.SourceChainlink,
		MinOracleCount:  1,
	}
}

func validConfig(symbol string, now time.Time) AssetConfig {
	return AssetConfig{
		Symbol:               symbol,
		Active:               true,
		Decimals:             6,
		BorrowThreshold:      800,
		LiquidationThreshold: 850,
		MaxSupplyThreshold:   big.NewInt(1_000_000_000),
		Tier:                 TierStable,
		Oracle:               chainlinkOnly(now),
	}
}

func newTestModule(t *testing.T) (*Module, *nativecommon.RoleSet, crypto.Address, time.Time) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	engine, err := oracle.NewEngine(oracle.DefaultConfig())
	if err != nil {
		t.Fatalf("oracle engine: %v", err)
	}
	engine.SetNowFunc(func() time.Time { return now })
	mod := NewModule(engine)
	roles := nativecommon.NewRoleSet()
	manager := testAddr(0x01)
	roles.Grant(nativecommon.RoleManager, manager)
	mod.SetRoles(roles)
	return mod, roles, manager, now
}

func TestAssetConfigValidation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cases := []struct {
		name   string
		mutate func(*AssetConfig)
		want   error
	}{
		{"liq threshold at cap", func(c *AssetConfig) {
			c.LiquidationThreshold = 990
			c.BorrowThreshold = 980
		}, nil},
		{"liq threshold above cap", func(c *AssetConfig) {
			c.LiquidationThreshold = 991
			c.BorrowThreshold = 900
		}, errLiquidationBound},
		{"spread exactly ten points", func(c *AssetConfig) {
			c.LiquidationThreshold = 850
			c.BorrowThreshold = 840
		}, nil},
		{"spread nine points", func(c *AssetConfig) {
			c.LiquidationThreshold = 850
			c.BorrowThreshold = 841
		}, errThresholdSpread},
		{"isolated without cap", func(c *AssetConfig) {
			c.Tier = TierIsolated
		}, errIsolationCap},
		{"isolated with cap", func(c *AssetConfig) {
			c.Tier = TierIsolated
			c.IsolationDebtCap = big.NewInt(1_000_000)
		}, nil},
		{"cap on non-isolated", func(c *AssetConfig) {
			c.IsolationDebtCap = big.NewInt(1)
		}, errIsolationCap},
		{"zero supply cap", func(c *AssetConfig) {
			c.MaxSupplyThreshold = big.NewInt(0)
		}, errSupplyThreshold},
		{"zero decimals", func(c *AssetConfig) {
			c.Decimals = 0
		}, errDecimals},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig("TKN", now)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestUpdateAssetDeactivateOnly(t *testing.T) {
	mod, _, manager, now := newTestModule(t)
	cfg := validConfig("WETH", now)
	if err := mod.UpdateAsset(manager, cfg); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !mod.IsActive("WETH") {
		t.Fatalf("asset should be active after listing")
	}

	cfg.Active = false
	if err := mod.UpdateAsset(manager, cfg); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if mod.IsActive("WETH") {
		t.Fatalf("asset should be inactive")
	}
	if _, err := mod.Asset("WETH"); err != nil {
		t.Fatalf("deactivated asset must stay listed: %v", err)
	}
	if got := mod.ListAssets(); len(got) != 1 || got[0] != "WETH" {
		t.Fatalf("listing order = %v", got)
	}

	if _, err := mod.Params("WETH"); !errors.Is(err, ErrAssetInactive) {
		t.Fatalf("params on inactive asset err = %v", err)
	}
}

func TestUpdateAssetRequiresManager(t *testing.T) {
	mod, _, _, now := newTestModule(t)
	outsider := testAddr(0x99)
	err := mod.UpdateAsset(outsider, validConfig("WETH", now))
	if !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestSupplyCapAndTracking(t *testing.T) {
	mod, _, manager, now := newTestModule(t)
	cfg := validConfig("WETH", now)
	cfg.MaxSupplyThreshold = big.NewInt(1_000)
	if err := mod.UpdateAsset(manager, cfg); err != nil {
		t.Fatalf("list: %v", err)
	}

	if err := mod.CheckSupplyLimit("WETH", big.NewInt(1_000)); err != nil {
		t.Fatalf("at-cap supply rejected: %v", err)
	}
	mod.RecordSupply("WETH", big.NewInt(600))
	if err := mod.CheckSupplyLimit("WETH", big.NewInt(401)); !errors.Is(err, ErrSupplyCapExceeded) {
		t.Fatalf("over-cap err = %v", err)
	}
	mod.ReleaseSupply("WETH", big.NewInt(200))
	if err := mod.CheckSupplyLimit("WETH", big.NewInt(600)); err != nil {
		t.Fatalf("post-release supply rejected: %v", err)
	}
	if got := mod.TotalSupplied("WETH"); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("total supplied = %s", got)
	}
}

func TestPoolLiquidityLimit(t *testing.T) {
	mod, _, manager, now := newTestModule(t)
	pool := &stubPool{tick: 0, balance: big.NewInt(1_000_000_000)}
	cfg := validConfig("WETH", now)
	cfg.Oracle = oracle.AssetSources{
		TwapActive:     true,
		Twap:           pool,
		TwapPeriod:     900 * time.Second,
		Primary:        oracle.SourceUniswapTwap,
		MinOracleCount: 1,
	}
	if err := mod.UpdateAsset(manager, cfg); err != nil {
		t.Fatalf("list: %v", err)
	}

	// 3% of 1e9 pool balance.
	if err := mod.CheckSupplyLimit("WETH", big.NewInt(30_000_000)); err != nil {
		t.Fatalf("at-limit supply rejected: %v", err)
	}
	if err := mod.CheckSupplyLimit("WETH", big.NewInt(30_000_001)); !errors.Is(err, ErrPoolLiquidityLimit) {
		t.Fatalf("over-limit err = %v", err)
	}
}

func TestTierRates(t *testing.T) {
	mod, _, manager, _ := newTestModule(t)
	if got := mod.TierRate(TierIsolated); got.JumpRate == 0 {
		t.Fatalf("default isolated rates missing")
	}
	err := mod.UpdateTierRates(manager, TierCrossA, TierRates{JumpRate: 250_001, LiquidationFee: 10_000})
	if !errors.Is(err, errJumpRateBound) {
		t.Fatalf("jump rate bound err = %v", err)
	}
	err = mod.UpdateTierRates(manager, TierCrossA, TierRates{JumpRate: 100_000, LiquidationFee: 100_001})
	if !errors.Is(err, errLiquidationFeeBound) {
		t.Fatalf("liquidation fee bound err = %v", err)
	}
	if err := mod.UpdateTierRates(manager, TierCrossA, TierRates{JumpRate: 100_000, LiquidationFee: 25_000}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := mod.TierRate(TierCrossA); got.JumpRate != 100_000 || got.LiquidationFee != 25_000 {
		t.Fatalf("tier rates = %+v", got)
	}
}
