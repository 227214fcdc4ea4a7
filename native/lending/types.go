package lending

import (
	"math/big"

	"lendmesh/crypto"
)

// PositionStatus tracks the lifecycle of a borrowing position. CLOSED and
// LIQUIDATED are terminal; a position never returns to ACTIVE.
type PositionStatus uint8

const (
	StatusActive PositionStatus = iota
	StatusClosed
	StatusLiquidated
)

func (s PositionStatus) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusClosed:
		return "CLOSED"
	case StatusLiquidated:
		return "LIQUIDATED"
	default:
		return "UNKNOWN"
	}
}

const (
	// MaxCollateralAssets caps the distinct assets held by one position.
	MaxCollateralAssets = 20
	// MaxPositionsPerUser caps the append-only per-user position list.
	MaxPositionsPerUser = 1000
)

// CollateralEntry is one asset held by a position.
type CollateralEntry struct {
	Symbol string
	Amount *big.Int
}

// CollateralBook is an insertion-ordered symbol→amount map. Order matters for
// deterministic seizure and sweep.
type CollateralBook struct {
	entries []CollateralEntry
	index   map[string]int
}

func NewCollateralBook() *CollateralBook {
	return &CollateralBook{index: make(map[string]int)}
}

// Amount returns the held amount for the symbol, zero when absent.
func (b *CollateralBook) Amount(symbol string) *big.Int {
	if b == nil {
		return big.NewInt(0)
	}
	i, ok := b.index[symbol]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(b.entries[i].Amount)
}

// Add increases the held amount, inserting the symbol at the tail on first
// touch.
func (b *CollateralBook) Add(symbol string, amount *big.Int) {
	if b == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	if i, ok := b.index[symbol]; ok {
		b.entries[i].Amount = new(big.Int).Add(b.entries[i].Amount, amount)
		return
	}
	b.index[symbol] = len(b.entries)
	b.entries = append(b.entries, CollateralEntry{Symbol: symbol, Amount: new(big.Int).Set(amount)})
}

// Sub decreases the held amount, dropping the entry when it reaches zero.
// Returns false when the book holds less than requested.
func (b *CollateralBook) Sub(symbol string, amount *big.Int) bool {
	if b == nil || amount == nil || amount.Sign() <= 0 {
		return false
	}
	i, ok := b.index[symbol]
	if !ok || b.entries[i].Amount.Cmp(amount) < 0 {
		return false
	}
	rest := new(big.Int).Sub(b.entries[i].Amount, amount)
	if rest.Sign() == 0 {
		b.remove(i)
		return true
	}
	b.entries[i].Amount = rest
	return true
}

func (b *CollateralBook) remove(i int) {
	delete(b.index, b.entries[i].Symbol)
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	for j := i; j < len(b.entries); j++ {
		b.index[b.entries[j].Symbol] = j
	}
}

// Entries returns a copy of the held assets in insertion order.
func (b *CollateralBook) Entries() []CollateralEntry {
	if b == nil {
		return nil
	}
	out := make([]CollateralEntry, len(b.entries))
	for i, e := range b.entries {
		out[i] = CollateralEntry{Symbol: e.Symbol, Amount: new(big.Int).Set(e.Amount)}
	}
	return out
}

// Len returns the number of distinct assets held.
func (b *CollateralBook) Len() int {
	if b == nil {
		return 0
	}
	return len(b.entries)
}

// Clone deep-copies the book.
func (b *CollateralBook) Clone() *CollateralBook {
	clone := NewCollateralBook()
	if b == nil {
		return clone
	}
	for _, e := range b.entries {
		clone.Add(e.Symbol, e.Amount)
	}
	return clone
}

// Position is one borrowing position. Positions are append-only per user; the
// ID is the index in the owner's list and is never reused.
type Position struct {
	Owner          crypto.Address
	ID             uint64
	CustodyAddress crypto.Address
	IsIsolated     bool
	IsolatedAsset  string
	Status         PositionStatus
	// Debt is the outstanding principal including interest realized at the
	// last accrual.
	Debt        *big.Int
	LastAccrual int64
	Collateral  *CollateralBook
}

// Clone deep-copies the position for read APIs.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Debt = new(big.Int).Set(p.Debt)
	clone.Collateral = p.Collateral.Clone()
	return &clone
}
