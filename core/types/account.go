package types

import "math/big"

// Account tracks the token balances held by a lendmesh participant. Balances
// are keyed by asset symbol and denominated in the asset's native decimals to
// match on-chain precision.
type Account struct {
	Nonce    uint64              `json:"nonce"`
	Balances map[string]*big.Int `json:"balances"`
	// GovernanceTokens records the caller's governance holdings used to gate
	// liquidation rights.
	GovernanceTokens *big.Int `json:"governanceTokens"`
}

// Balance returns the tracked balance for the asset, treating missing entries
// as zero. The returned value is the live map entry, not a copy.
func (a *Account) Balance(asset string) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	bal, ok := a.Balances[asset]
	if !ok || bal == nil {
		bal = big.NewInt(0)
		a.Balances[asset] = bal
	}
	return bal
}

// SetBalance records the balance for the asset, replacing any prior entry.
func (a *Account) SetBalance(asset string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Balances[asset] = amount
}
