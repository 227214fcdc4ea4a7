package gateway

import (
	"errors"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lendmesh/crypto"
	"lendmesh/native/assets"
	"lendmesh/native/oracle"
	"lendmesh/native/registry"
	"lendmesh/observability"
)

var errPausesNotConfigured = errors.New("gateway: pause switch not configured")

// createMarket deploys a new (owner, base asset) bundle. Admin-scoped.
func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner        string `json:"owner"`
		BaseAsset    string `json:"baseAsset"`
		BaseDecimals uint8  `json:"baseDecimals"`
		Name         string `json:"name"`
		Symbol       string `json:"symbol"`
	}
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	owner, err := crypto.DecodeAddress(req.Owner)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	market, err := s.registry.CreateMarket(owner, req.BaseAsset, req.BaseDecimals, req.Name, req.Symbol)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	info, err := s.registry.GetMarketInfo(market.Owner, market.BaseAsset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, marketInfoPayload(info))
}

// setPause flips the kill switch for one module or the "all" wildcard.
// Admin-scoped.
func (s *Server) setPause(w http.ResponseWriter, r *http.Request) {
	if s.pauses == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errPausesNotConfigured)
		return
	}
	var req struct {
		Module string `json:"module"`
		Paused bool   `json:"paused"`
	}
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.Module == "" {
		writeBadRequest(w, errors.New("gateway: module is required"))
		return
	}
	s.pauses.SetPaused(req.Module, req.Paused)
	observability.Markets().SetPause(s.pauses.Engaged())
	writeJSON(w, http.StatusOK, map[string]any{
		"module": req.Module,
		"paused": s.pauses.IsPaused(req.Module),
	})
}

// updateAsset lists or re-configures a collateral asset on the market. The
// market's reserve feed backs the listing's price source; richer oracle
// wiring happens in-process. Admin-scoped.
func (s *Server) updateAsset(w http.ResponseWriter, r *http.Request) {
	market, err := s.market(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req struct {
		Caller               string `json:"caller"`
		Symbol               string `json:"symbol"`
		Active               bool   `json:"active"`
		Decimals             uint8  `json:"decimals"`
		BorrowThreshold      uint64 `json:"borrowThreshold"`
		LiquidationThreshold uint64 `json:"liquidationThreshold"`
		MaxSupplyThreshold   string `json:"maxSupplyThreshold"`
		IsolationDebtCap     string `json:"isolationDebtCap"`
		Tier                 string `json:"tier"`
	}
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	maxSupply, err := parseBig(req.MaxSupplyThreshold)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	debtCap, err := parseBig(req.IsolationDebtCap)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	tier, err := assets.ParseTier(req.Tier)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	cfg := assets.AssetConfig{
		Symbol:               req.Symbol,
		Active:               req.Active,
		Decimals:             req.Decimals,
		BorrowThreshold:      req.BorrowThreshold,
		LiquidationThreshold: req.LiquidationThreshold,
		MaxSupplyThreshold:   maxSupply,
		IsolationDebtCap:     debtCap,
		Tier:                 tier,
		Oracle: oracle.AssetSources{
			ChainlinkActive: true,
			Chainlink:       market.Feed,
			Primary:         oracle.SourceChainlink,
			MinOracleCount:  1,
		},
	}
	market.Lock()
	err = market.Assets.UpdateAsset(caller, cfg)
	market.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"symbol": req.Symbol, "status": "listed"})
}

// evaluateBreaker re-runs the inter-oracle deviation check for the symbol and
// publishes the breaker gauge.
func (s *Server) evaluateBreaker(w http.ResponseWriter, r *http.Request) {
	market, err := s.market(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	symbol := chi.URLParam(r, "symbol")
	market.Lock()
	broken, deviation, err := market.Oracle.EvaluateCircuitBreaker(symbol)
	market.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	observability.Markets().SetBreaker(symbol, broken)
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":       symbol,
		"broken":       broken,
		"deviationPct": deviation,
	})
}

// updateReserves pushes a proof-of-reserves round onto the market's feed.
// Write-scoped; the feed itself enforces the protocol role.
func (s *Server) updateReserves(w http.ResponseWriter, r *http.Request) {
	market, err := s.market(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req struct {
		Caller string `json:"caller"`
		Amount string `json:"amount"`
	}
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	market.Lock()
	err = market.Feed.UpdateReserves(caller, amount)
	market.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- vault share routes ---

func (s *Server) vaultDeposit(w http.ResponseWriter, r *http.Request) {
	market, sender, receiver, amount, err := s.vaultRequest(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	market.Lock()
	shares, err := market.Vault.Deposit(sender, receiver, amount)
	market.Unlock()
	s.recordOperation(market, "vault_deposit", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares": bigString(shares)})
}

func (s *Server) vaultMint(w http.ResponseWriter, r *http.Request) {
	market, sender, receiver, shares, err := s.vaultRequest(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	market.Lock()
	assets, err := market.Vault.Mint(sender, receiver, shares)
	market.Unlock()
	s.recordOperation(market, "vault_mint", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"assets": bigString(assets)})
}

func (s *Server) vaultWithdraw(w http.ResponseWriter, r *http.Request) {
	market, owner, receiver, amount, err := s.vaultRequest(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	market.Lock()
	burned, err := market.Vault.Withdraw(owner, receiver, amount)
	market.Unlock()
	s.recordOperation(market, "vault_withdraw", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares": bigString(burned)})
}

func (s *Server) vaultRedeem(w http.ResponseWriter, r *http.Request) {
	market, owner, receiver, shares, err := s.vaultRequest(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	market.Lock()
	assets, err := market.Vault.Redeem(owner, receiver, shares)
	market.Unlock()
	s.recordOperation(market, "vault_redeem", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"assets": bigString(assets)})
}

// vaultRequest decodes the shared share-route body. The receiver defaults to
// the acting address.
func (s *Server) vaultRequest(r *http.Request) (*registry.Market, crypto.Address, crypto.Address, *big.Int, error) {
	market, err := s.market(r)
	if err != nil {
		return nil, crypto.Address{}, crypto.Address{}, nil, err
	}
	var req struct {
		Address  string `json:"address"`
		Receiver string `json:"receiver"`
		Amount   string `json:"amount"`
	}
	if err := decodeRequest(r, &req); err != nil {
		return nil, crypto.Address{}, crypto.Address{}, nil, err
	}
	addr, err := crypto.DecodeAddress(req.Address)
	if err != nil {
		return nil, crypto.Address{}, crypto.Address{}, nil, err
	}
	receiver := addr
	if req.Receiver != "" {
		receiver, err = crypto.DecodeAddress(req.Receiver)
		if err != nil {
			return nil, crypto.Address{}, crypto.Address{}, nil, err
		}
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		return nil, crypto.Address{}, crypto.Address{}, nil, err
	}
	return market, addr, receiver, amount, nil
}
