package registry

import (
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

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
	acc, ok := m.accounts[string(addr.Bytes())]
	if !ok {
		acc = &types.Account{}
		m.accounts[string(addr.Bytes())] = acc
	}
	return acc, nil
}

func (m *memState) PutAccount(addr crypto.Address, account *types.Account) error {
	m.accounts[string(addr.Bytes())] = account
	return nil
}

func testAddr(tag byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = tag
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func setupRegistryTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func testConfig(roles *nativecommon.RoleSet) Config {
	now := int64(1_700_000_000)
	return Config{
		State:        newMemState(),
		Roles:        roles,
		FeeRecipient: testAddr(0xfe),
		Protocol:     vault.DefaultProtocolConfig(),
		Now:          func() time.Time { return time.Unix(now, 0) },
	}
}

func TestCreateMarketOncePerPair(t *testing.T) {
	db := setupRegistryTestDB(t)
	roles := nativecommon.NewRoleSet()
	reg, err := NewRegistry(db, testConfig(roles))
	require.NoError(t, err)

	owner := testAddr(0x01)
	market, err := reg.CreateMarket(owner, "USDC", 6, "USDC Prime", "lmUSDC")
	require.NoError(t, err)
	require.NotNil(t, market.Core)
	require.NotNil(t, market.Vault)
	require.NotNil(t, market.Assets)
	require.NotNil(t, market.Feed)
	require.True(t, market.Active)

	_, err = reg.CreateMarket(owner, "USDC", 6, "duplicate", "dup")
	require.ErrorIs(t, err, ErrMarketExists)

	// Same owner, different base asset is a distinct market.
	_, err = reg.CreateMarket(owner, "DAI", 18, "DAI Prime", "lmDAI")
	require.NoError(t, err)

	info, err := reg.GetMarketInfo(owner, "USDC")
	require.NoError(t, err)
	require.Equal(t, market.ID, info.ID)
	require.Equal(t, "USDC Prime", info.Name)
	require.Equal(t, uint8(6), info.BaseDecimals)
	require.Equal(t, market.Core.ModuleAddress().String(), info.CoreAddress.String())

	require.True(t, reg.IsMarketActive(owner, "USDC"))
	require.False(t, reg.IsMarketActive(owner, "WBTC"))
	_, err = reg.GetMarketInfo(owner, "WBTC")
	require.ErrorIs(t, err, ErrMarketNotFound)
}

func TestCreateMarketGrantsProtocolRole(t *testing.T) {
	db := setupRegistryTestDB(t)
	roles := nativecommon.NewRoleSet()
	reg, err := NewRegistry(db, testConfig(roles))
	require.NoError(t, err)

	market, err := reg.CreateMarket(testAddr(0x01), "USDC", 6, "USDC Prime", "lmUSDC")
	require.NoError(t, err)
	require.True(t, roles.HasRole(nativecommon.RoleProtocol, market.Core.ModuleAddress()))

	// The bundle shares one account ledger: a supplier funded there can
	// deposit into the market's vault directly.
	supplier := testAddr(0x02)
	supplierAcc, err := reg.cfg.State.GetAccount(supplier)
	require.NoError(t, err)
	supplierAcc.SetBalance("USDC", big.NewInt(1_000_000))
	_, err = market.Vault.Deposit(supplier, supplier, big.NewInt(1_000_000))
	require.NoError(t, err)
}

func TestEnumerationAndDeactivation(t *testing.T) {
	db := setupRegistryTestDB(t)
	roles := nativecommon.NewRoleSet()
	manager := testAddr(0x0a)
	roles.Grant(nativecommon.RoleManager, manager)
	reg, err := NewRegistry(db, testConfig(roles))
	require.NoError(t, err)

	alice := testAddr(0x01)
	bob := testAddr(0x02)
	_, err = reg.CreateMarket(alice, "USDC", 6, "a-usdc", "aU")
	require.NoError(t, err)
	_, err = reg.CreateMarket(alice, "DAI", 18, "a-dai", "aD")
	require.NoError(t, err)
	_, err = reg.CreateMarket(bob, "USDC", 6, "b-usdc", "bU")
	require.NoError(t, err)

	owners := reg.Owners()
	require.Len(t, owners, 2)
	require.Len(t, reg.MarketsOf(alice), 2)
	require.Len(t, reg.MarketsOf(bob), 1)
	require.Len(t, reg.Markets(), 3)

	// Deactivation is manager-gated and never deletes the row.
	err = reg.SetMarketActive(alice, alice, "USDC", false)
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)
	require.NoError(t, reg.SetMarketActive(manager, alice, "USDC", false))
	require.False(t, reg.IsMarketActive(alice, "USDC"))
	_, err = reg.GetMarketInfo(alice, "USDC")
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&MarketRecord{}).Count(&count).Error)
	require.Equal(t, int64(3), count)
}

func TestMarketCallsSerialized(t *testing.T) {
	db := setupRegistryTestDB(t)
	roles := nativecommon.NewRoleSet()
	manager := testAddr(0x0a)
	roles.Grant(nativecommon.RoleManager, manager)
	reg, err := NewRegistry(db, testConfig(roles))
	require.NoError(t, err)

	market, err := reg.CreateMarket(testAddr(0x01), "USDC", 6, "USDC Prime", "lmUSDC")
	require.NoError(t, err)
	require.NoError(t, market.Assets.UpdateAsset(manager, assets.AssetConfig{
		Symbol:               "USDC",
		Active:               true,
		Decimals:             6,
		BorrowThreshold:      800,
		LiquidationThreshold: 850,
		MaxSupplyThreshold:   big.NewInt(1_000_000_000_000),
		Tier:                 assets.TierStable,
		Oracle: oracle.AssetSources{
			ChainlinkActive: true,
			Chainlink:       market.Feed,
			Primary:         oracle.SourceChainlink,
			MinOracleCount:  1,
		},
	}))

	// Concurrent callers funnel through the shared call lock, so every open
	// lands on the engine's append-only list without clobbering a neighbor.
	const callers = 16
	owner := testAddr(0x02)
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			market.Lock()
			defer market.Unlock()
			_, errs[i] = market.Core.CreatePosition(owner, "USDC", false)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	require.Equal(t, uint64(callers), market.Core.PositionCount(owner))
}

func TestRegistryRebuildFromRows(t *testing.T) {
	db := setupRegistryTestDB(t)
	roles := nativecommon.NewRoleSet()
	cfg := testConfig(roles)
	reg, err := NewRegistry(db, cfg)
	require.NoError(t, err)

	owner := testAddr(0x01)
	created, err := reg.CreateMarket(owner, "USDC", 6, "USDC Prime", "lmUSDC")
	require.NoError(t, err)

	// A fresh registry over the same database rebuilds the market on the same
	// deterministic module addresses.
	rebuilt, err := NewRegistry(db, testConfig(nativecommon.NewRoleSet()))
	require.NoError(t, err)
	info, err := rebuilt.GetMarketInfo(owner, "USDC")
	require.NoError(t, err)
	require.Equal(t, created.ID, info.ID)
	require.Equal(t, created.Core.ModuleAddress().String(), info.CoreAddress.String())
	require.True(t, rebuilt.IsMarketActive(owner, "USDC"))
}
