package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"lendmesh/core/events"
	"lendmesh/core/types"
	"lendmesh/crypto"
	"lendmesh/native/assets"
	nativecommon "lendmesh/native/common"
	"lendmesh/native/lending"
	"lendmesh/native/oracle"
	"lendmesh/native/por"
	"lendmesh/native/vault"
)

const moduleName = "registry"

// defaultPoRHeartbeat bounds how often a market's reserve feed records a round.
const defaultPoRHeartbeat = time.Hour

var (
	// ErrMarketExists rejects a second market for the same (owner, base asset).
	ErrMarketExists = errors.New("market registry: market already exists")
	// ErrMarketNotFound is returned for unknown (owner, base asset) pairs.
	ErrMarketNotFound = errors.New("market registry: market not found")

	errNilDB        = errors.New("market registry: database not configured")
	errInvalidInput = errors.New("market registry: owner and base asset are required")
)

// StateStore is the shared account ledger every market bundle operates on.
type StateStore interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// Market bundles the per-market engine instances created by CreateMarket.
type Market struct {
	ID           uuid.UUID
	Owner        crypto.Address
	BaseAsset    string
	BaseDecimals uint8
	Name         string
	Symbol       string
	CreatedAt    time.Time
	Active       bool

	Core   *lending.Engine
	Vault  *vault.Vault
	Assets *assets.Module
	Oracle *oracle.Engine
	Feed   *por.Feed

	// calls serializes engine invocations. All markets share it: every bundle
	// mutates the same account ledger, so calls execute one at a time the way
	// transactions apply in global block order.
	calls *sync.Mutex
}

// Lock serializes an engine call against every other market call.
func (m *Market) Lock() {
	if m == nil || m.calls == nil {
		return
	}
	m.calls.Lock()
}

// Unlock releases the shared call lock.
func (m *Market) Unlock() {
	if m == nil || m.calls == nil {
		return
	}
	m.calls.Unlock()
}

// MarketInfo is the read-only projection served to callers.
type MarketInfo struct {
	ID           uuid.UUID
	Owner        crypto.Address
	BaseAsset    string
	BaseDecimals uint8
	Name         string
	Symbol       string
	CoreAddress  crypto.Address
	VaultAddress crypto.Address
	FeedAddress  crypto.Address
	Active       bool
	CreatedAt    time.Time
}

// Config carries the collaborators shared by every market the registry
// deploys.
type Config struct {
	State        StateStore
	Roles        *nativecommon.RoleSet
	Pauses       nativecommon.PauseView
	Emitter      events.Emitter
	FeeRecipient crypto.Address
	Protocol     vault.ProtocolConfig
	PoRHeartbeat time.Duration
	Now          func() time.Time
}

// Registry maps (owner, base asset) to a deployed market bundle. Rows are
// persisted; live engines are rebuilt from them on startup with deterministic
// module addresses derived from the market ID.
type Registry struct {
	mu     sync.RWMutex
	callMu sync.Mutex

	db      *gorm.DB
	cfg     Config
	markets map[string]*Market
}

// NewRegistry migrates the schema and rebuilds every persisted market.
func NewRegistry(db *gorm.DB, cfg Config) (*Registry, error) {
	if db == nil {
		return nil, errNilDB
	}
	if cfg.State == nil || cfg.Roles == nil {
		return nil, errors.New("market registry: state and roles are required")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NoopEmitter{}
	}
	if cfg.PoRHeartbeat <= 0 {
		cfg.PoRHeartbeat = defaultPoRHeartbeat
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := cfg.Protocol.Validate(); err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("market registry: migrate: %w", err)
	}
	r := &Registry{db: db, cfg: cfg, markets: make(map[string]*Market)}

	var rows []MarketRecord
	if err := db.Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("market registry: load: %w", err)
	}
	for _, row := range rows {
		owner, err := crypto.DecodeAddress(row.Owner)
		if err != nil {
			return nil, fmt.Errorf("market registry: corrupt owner %q: %w", row.Owner, err)
		}
		market := r.buildMarket(row.ID, owner, row.BaseAsset, row.BaseDecimals, row.Name, row.Symbol)
		market.CreatedAt = row.CreatedAt
		market.Active = row.Active
		r.markets[marketKey(owner, row.BaseAsset)] = market
	}
	return r, nil
}

func marketKey(owner crypto.Address, baseAsset string) string {
	return string(owner.Bytes()) + "/" + baseAsset
}

// moduleAddress derives a market-scoped module address from the market ID and
// a domain tag, so rebuilt markets land on the same addresses.
func moduleAddress(id uuid.UUID, domain string) crypto.Address {
	digest := gethcrypto.Keccak256(id[:], []byte(domain))
	return crypto.NewAddress(crypto.ModulePrefix, digest[12:])
}

// buildMarket constructs and cross-wires one bundle. The core engine's module
// address is granted the protocol role so it may move vault liquidity and push
// reserve rounds.
func (r *Registry) buildMarket(id uuid.UUID, owner crypto.Address, baseAsset string, baseDecimals uint8, name, symbol string) *Market {
	oracleEng, err := oracle.NewEngine(oracle.DefaultConfig())
	if err != nil {
		// DefaultConfig always validates.
		panic(err)
	}
	oracleEng.SetNowFunc(r.cfg.Now)

	assetsMod := assets.NewModule(oracleEng)
	assetsMod.SetRoles(r.cfg.Roles)
	assetsMod.SetPauses(r.cfg.Pauses)

	vaultAddr := moduleAddress(id, "vault")
	vlt := vault.NewVault(vaultAddr, r.cfg.FeeRecipient, baseAsset, baseDecimals, r.cfg.Protocol)
	vlt.SetState(r.cfg.State)
	vlt.SetRoles(r.cfg.Roles)
	vlt.SetPauses(r.cfg.Pauses)
	vlt.SetEmitter(r.cfg.Emitter)
	vlt.SetNowFunc(r.cfg.Now)

	coreAddr := moduleAddress(id, "core")
	core := lending.NewEngine(coreAddr, baseAsset, baseDecimals)
	core.SetState(r.cfg.State)
	core.SetAssets(assetsMod)
	core.SetVault(vlt)
	core.SetRoles(r.cfg.Roles)
	core.SetPauses(r.cfg.Pauses)
	core.SetEmitter(r.cfg.Emitter)
	core.SetNowFunc(r.cfg.Now)

	feed := por.NewFeed(fmt.Sprintf("%s reserves", baseAsset), baseDecimals, r.cfg.PoRHeartbeat)
	feed.SetRoles(r.cfg.Roles)
	feed.SetPauses(r.cfg.Pauses)
	feed.SetNowFunc(r.cfg.Now)

	r.cfg.Roles.Grant(nativecommon.RoleProtocol, coreAddr)
	r.cfg.Roles.Grant(nativecommon.RoleProtocol, vaultAddr)

	return &Market{
		ID:           id,
		Owner:        owner,
		BaseAsset:    baseAsset,
		BaseDecimals: baseDecimals,
		Name:         name,
		Symbol:       symbol,
		Core:         core,
		Vault:        vlt,
		Assets:       assetsMod,
		Oracle:       oracleEng,
		Feed:         feed,
		calls:        &r.callMu,
	}
}

// CreateMarket deploys and persists a new bundle for (owner, baseAsset).
// Exactly one market may exist per pair.
func (r *Registry) CreateMarket(owner crypto.Address, baseAsset string, baseDecimals uint8, name, symbol string) (*Market, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}
	if err := nativecommon.Guard(r.cfg.Pauses, moduleName); err != nil {
		return nil, err
	}
	if owner.IsZero() || baseAsset == "" {
		return nil, errInvalidInput
	}
	if baseDecimals == 0 || baseDecimals > 18 {
		return nil, errors.New("market registry: base decimals must be 1-18")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := marketKey(owner, baseAsset)
	if _, ok := r.markets[key]; ok {
		return nil, ErrMarketExists
	}

	id := uuid.New()
	now := r.cfg.Now()
	market := r.buildMarket(id, owner, baseAsset, baseDecimals, name, symbol)
	market.CreatedAt = now
	market.Active = true

	row := MarketRecord{
		ID:           id,
		Owner:        owner.String(),
		BaseAsset:    baseAsset,
		Name:         name,
		Symbol:       symbol,
		BaseDecimals: baseDecimals,
		CoreAddress:  market.Core.ModuleAddress().String(),
		VaultAddress: moduleAddress(id, "vault").String(),
		FeedAddress:  moduleAddress(id, "feed").String(),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.db.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("market registry: persist: %w", err)
	}
	r.markets[key] = market
	return market, nil
}

// Market returns the live bundle for the pair.
func (r *Registry) Market(owner crypto.Address, baseAsset string) (*Market, error) {
	if r == nil {
		return nil, ErrMarketNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	market, ok := r.markets[marketKey(owner, baseAsset)]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return market, nil
}

// GetMarketInfo returns the read-only projection for the pair.
func (r *Registry) GetMarketInfo(owner crypto.Address, baseAsset string) (MarketInfo, error) {
	market, err := r.Market(owner, baseAsset)
	if err != nil {
		return MarketInfo{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return MarketInfo{
		ID:           market.ID,
		Owner:        market.Owner,
		BaseAsset:    market.BaseAsset,
		BaseDecimals: market.BaseDecimals,
		Name:         market.Name,
		Symbol:       market.Symbol,
		CoreAddress:  market.Core.ModuleAddress(),
		VaultAddress: moduleAddress(market.ID, "vault"),
		FeedAddress:  moduleAddress(market.ID, "feed"),
		Active:       market.Active,
		CreatedAt:    market.CreatedAt,
	}, nil
}

// IsMarketActive reports whether the pair maps to an active market.
func (r *Registry) IsMarketActive(owner crypto.Address, baseAsset string) bool {
	market, err := r.Market(owner, baseAsset)
	if err != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return market.Active
}

// SetMarketActive flips the market's active flag. Manager-gated; markets are
// never deleted.
func (r *Registry) SetMarketActive(caller, owner crypto.Address, baseAsset string, active bool) error {
	if err := nativecommon.RequireRole(r.cfg.Roles, nativecommon.RoleManager, caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	market, ok := r.markets[marketKey(owner, baseAsset)]
	if !ok {
		return ErrMarketNotFound
	}
	if market.Active == active {
		return nil
	}
	err := r.db.Model(&MarketRecord{}).
		Where("id = ?", market.ID).
		Updates(map[string]any{"active": active, "updated_at": r.cfg.Now()}).Error
	if err != nil {
		return fmt.Errorf("market registry: persist: %w", err)
	}
	market.Active = active
	return nil
}

// Owners enumerates addresses owning at least one market, in creation order.
func (r *Registry) Owners() []crypto.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	owners := make([]crypto.Address, 0, len(r.markets))
	for _, market := range r.sortedLocked() {
		key := string(market.Owner.Bytes())
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		owners = append(owners, market.Owner)
	}
	return owners
}

// MarketsOf enumerates the owner's markets in creation order.
func (r *Registry) MarketsOf(owner crypto.Address) []MarketInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var infos []MarketInfo
	for _, market := range r.sortedLocked() {
		if !market.Owner.Equal(owner) {
			continue
		}
		infos = append(infos, MarketInfo{
			ID:           market.ID,
			Owner:        market.Owner,
			BaseAsset:    market.BaseAsset,
			BaseDecimals: market.BaseDecimals,
			Name:         market.Name,
			Symbol:       market.Symbol,
			CoreAddress:  market.Core.ModuleAddress(),
			VaultAddress: moduleAddress(market.ID, "vault"),
			FeedAddress:  moduleAddress(market.ID, "feed"),
			Active:       market.Active,
			CreatedAt:    market.CreatedAt,
		})
	}
	return infos
}

// Markets enumerates every market in creation order.
func (r *Registry) Markets() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

func (r *Registry) sortedLocked() []*Market {
	out := make([]*Market, 0, len(r.markets))
	for _, market := range r.markets {
		out = append(out, market)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
