package gateway

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"lendmesh/crypto"
	"lendmesh/native/assets"
	"lendmesh/native/lending"
	"lendmesh/native/registry"
	"lendmesh/observability"
)

var errInvalidLimit = errors.New("gateway: limit must be a non-negative integer")

// recordOperation feeds the market metrics after an engine mutation. Vault
// gauges are only refreshed on success so a rejected call cannot skew them.
func (s *Server) recordOperation(market *registry.Market, op string, err error) {
	label := market.Owner.String() + "/" + market.BaseAsset
	observability.Markets().RecordOperation(label, op, err)
	if err == nil {
		market.Lock()
		utilization := new(big.Int).SetUint64(market.Vault.Utilization())
		totalBorrow := market.Vault.TotalBorrow()
		market.Unlock()
		observability.Markets().RecordVault(label, utilization, totalBorrow)
	}
}

type marketPayload struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	BaseAsset    string `json:"baseAsset"`
	BaseDecimals uint8  `json:"baseDecimals"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	CoreAddress  string `json:"coreAddress"`
	VaultAddress string `json:"vaultAddress"`
	FeedAddress  string `json:"feedAddress"`
	Active       bool   `json:"active"`
	CreatedAt    int64  `json:"createdAt"`
}

func marketInfoPayload(info registry.MarketInfo) marketPayload {
	return marketPayload{
		ID:           info.ID.String(),
		Owner:        info.Owner.String(),
		BaseAsset:    info.BaseAsset,
		BaseDecimals: info.BaseDecimals,
		Name:         info.Name,
		Symbol:       info.Symbol,
		CoreAddress:  info.CoreAddress.String(),
		VaultAddress: info.VaultAddress.String(),
		FeedAddress:  info.FeedAddress.String(),
		Active:       info.Active,
		CreatedAt:    info.CreatedAt.Unix(),
	}
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(w, errInvalidLimit)
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, s.events.Recent(limit))
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.registry.Markets()
	payload := make([]marketPayload, 0, len(markets))
	for _, market := range markets {
		info, err := s.registry.GetMarketInfo(market.Owner, market.BaseAsset)
		if err != nil {
			continue
		}
		payload = append(payload, marketInfoPayload(info))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	owner, err := crypto.DecodeAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	info, err := s.registry.GetMarketInfo(owner, chi.URLParam(r, "base"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marketInfoPayload(info))
}

func (s *Server) getVault(w http.ResponseWriter, r *http.Request) {
	market, err := s.market(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	market.Lock()
	defer market.Unlock()
	vlt := market.Vault
	borrowRates := make(map[string]uint64, 4)
	for _, tier := range []assets.Tier{assets.TierStable, assets.TierCrossA, assets.TierCrossB, assets.TierIsolated} {
		borrowRates[tier.String()] = vlt.BorrowRate(market.Assets.TierRate(tier).JumpRate)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"baseAsset":              vlt.BaseAsset(),
		"totalAssets":            bigString(vlt.TotalAssets()),
		"totalBase":              bigString(vlt.TotalBase()),
		"totalBorrow":            bigString(vlt.TotalBorrow()),
		"totalSuppliedLiquidity": bigString(vlt.TotalSuppliedLiquidity()),
		"totalShares":            bigString(vlt.TotalShares()),
		"utilization":            vlt.Utilization(),
		"supplyRate":             vlt.SupplyRate(),
		"borrowRates":            borrowRates,
	})
}

func (s *Server) getPrice(w http.ResponseWriter, r *http.Request) {
	market, err := s.market(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	symbol := chi.URLParam(r, "symbol")
	market.Lock()
	defer market.Unlock()
	params, err := market.Assets.Params(symbol)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":               symbol,
		"price":                bigString(params.Price),
		"decimals":             params.Decimals,
		"borrowThreshold":      params.BorrowThreshold,
		"liquidationThreshold": params.LiquidationThreshold,
		"tier":                 params.Tier.String(),
	})
}

func (s *Server) getReserves(w http.ResponseWriter, r *http.Request) {
	market, err := s.market(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	market.Lock()
	defer market.Unlock()
	round, err := market.Feed.LatestRound()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"description": market.Feed.Description(),
		"decimals":    market.Feed.Decimals(),
		"version":     market.Feed.Version(),
		"roundId":     round.RoundID,
		"answer":      bigString(round.Answer),
		"updatedAt":   round.UpdatedAt.Unix(),
	})
}

type positionPayload struct {
	ID              uint64            `json:"id"`
	Owner           string            `json:"owner"`
	Status          string            `json:"status"`
	IsIsolated      bool              `json:"isIsolated"`
	IsolatedAsset   string            `json:"isolatedAsset,omitempty"`
	CustodyAddress  string            `json:"custodyAddress"`
	Collateral      map[string]string `json:"collateral"`
	Debt            string            `json:"debt"`
	HealthFactor    string            `json:"healthFactor,omitempty"`
	CreditLimit     string            `json:"creditLimit,omitempty"`
	CollateralValue string            `json:"collateralValue,omitempty"`
}

func (s *Server) positionPayload(market *registry.Market, owner crypto.Address, pos *lending.Position) positionPayload {
	collateral := make(map[string]string, pos.Collateral.Len())
	for _, entry := range pos.Collateral.Entries() {
		collateral[entry.Symbol] = bigString(entry.Amount)
	}
	payload := positionPayload{
		ID:             pos.ID,
		Owner:          owner.String(),
		Status:         pos.Status.String(),
		IsIsolated:     pos.IsIsolated,
		IsolatedAsset:  pos.IsolatedAsset,
		CustodyAddress: pos.CustodyAddress.String(),
		Collateral:     collateral,
		Debt:           bigString(pos.Debt),
	}
	// Pricing reads can fail independently of position lookup (stale oracle,
	// tripped breaker); serve the ledger view without derived values then.
	if hf, err := market.Core.HealthFactor(owner, pos.ID); err == nil {
		payload.HealthFactor = bigString(hf)
	}
	if limit, err := market.Core.CreditLimit(owner, pos.ID); err == nil {
		payload.CreditLimit = bigString(limit)
	}
	if value, err := market.Core.CollateralValue(owner, pos.ID); err == nil {
		payload.CollateralValue = bigString(value)
	}
	if debt, err := market.Core.DebtWithInterest(owner, pos.ID); err == nil {
		payload.Debt = bigString(debt)
	}
	return payload
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request) {
	market, err := s.market(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	market.Lock()
	defer market.Unlock()
	count := market.Core.PositionCount(addr)
	positions := make([]positionPayload, 0, count)
	for id := uint64(0); id < count; id++ {
		pos, err := market.Core.GetPosition(addr, id)
		if err != nil {
			continue
		}
		positions = append(positions, s.positionPayload(market, addr, pos))
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	market, addr, id, err := s.positionRef(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	market.Lock()
	defer market.Unlock()
	pos, err := market.Core.GetPosition(addr, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.positionPayload(market, addr, pos))
}

func (s *Server) positionRef(r *http.Request) (*registry.Market, crypto.Address, uint64, error) {
	market, err := s.market(r)
	if err != nil {
		return nil, crypto.Address{}, 0, err
	}
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "addr"))
	if err != nil {
		return nil, crypto.Address{}, 0, err
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return nil, crypto.Address{}, 0, err
	}
	return market, addr, id, nil
}

// --- mutating routes ---

func (s *Server) createPosition(w http.ResponseWriter, r *http.Request) {
	market, err := s.market(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req struct {
		Owner    string `json:"owner"`
		Asset    string `json:"asset"`
		Isolated bool   `json:"isolated"`
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
	market.Lock()
	id, err := market.Core.CreatePosition(owner, req.Asset, req.Isolated)
	market.Unlock()
	s.recordOperation(market, "create_position", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) supplyCollateral(w http.ResponseWriter, r *http.Request) {
	market, addr, id, err := s.positionRef(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	market.Lock()
	err = market.Core.SupplyCollateral(addr, id, req.Asset, amount)
	market.Unlock()
	s.recordOperation(market, "supply", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withdrawCollateral(w http.ResponseWriter, r *http.Request) {
	market, addr, id, err := s.positionRef(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	market.Lock()
	err = market.Core.WithdrawCollateral(addr, id, req.Asset, amount)
	market.Unlock()
	s.recordOperation(market, "withdraw", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	market, addr, id, err := s.positionRef(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req struct {
		Amount              string `json:"amount"`
		ExpectedCreditLimit string `json:"expectedCreditLimit"`
		MaxSlippageBps      uint64 `json:"maxSlippageBps"`
	}
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	expected, err := parseBig(req.ExpectedCreditLimit)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	market.Lock()
	err = market.Core.Borrow(addr, id, amount, expected, req.MaxSlippageBps)
	market.Unlock()
	s.recordOperation(market, "borrow", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	market, addr, id, err := s.positionRef(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req struct {
		Amount         string `json:"amount"`
		ExpectedDebt   string `json:"expectedDebt"`
		MaxSlippageBps uint64 `json:"maxSlippageBps"`
	}
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	expected, err := parseBig(req.ExpectedDebt)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	market.Lock()
	err = market.Core.Repay(addr, id, amount, expected, req.MaxSlippageBps)
	market.Unlock()
	s.recordOperation(market, "repay", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) exitPosition(w http.ResponseWriter, r *http.Request) {
	market, addr, id, err := s.positionRef(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req struct {
		RepayAmount    string `json:"repayAmount"`
		ExpectedDebt   string `json:"expectedDebt"`
		MaxSlippageBps uint64 `json:"maxSlippageBps"`
	}
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	repayAmount, err := parseBig(req.RepayAmount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	expected, err := parseBig(req.ExpectedDebt)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	market.Lock()
	err = market.Core.ExitPosition(addr, id, repayAmount, expected, req.MaxSlippageBps)
	market.Unlock()
	s.recordOperation(market, "exit", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	market, addr, id, err := s.positionRef(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req struct {
		Liquidator     string `json:"liquidator"`
		ExpectedCost   string `json:"expectedCost"`
		MaxSlippageBps uint64 `json:"maxSlippageBps"`
	}
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	liquidator, err := crypto.DecodeAddress(req.Liquidator)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	expected, err := parseBig(req.ExpectedCost)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	market.Lock()
	err = market.Core.Liquidate(liquidator, addr, id, expected, req.MaxSlippageBps)
	market.Unlock()
	s.recordOperation(market, "liquidate", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "liquidated"})
}
