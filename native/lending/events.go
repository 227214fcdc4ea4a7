package lending

import (
	"math/big"

	"lendmesh/crypto"
)

type positionCreatedEvent struct {
	Owner      crypto.Address
	ID         uint64
	IsIsolated bool
}

func (positionCreatedEvent) EventType() string { return "lending.position_created" }

type collateralSuppliedEvent struct {
	Owner  crypto.Address
	ID     uint64
	Asset  string
	Amount *big.Int
}

func (collateralSuppliedEvent) EventType() string { return "lending.collateral_supplied" }

type collateralWithdrawnEvent struct {
	Owner  crypto.Address
	ID     uint64
	Asset  string
	Amount *big.Int
}

func (collateralWithdrawnEvent) EventType() string { return "lending.collateral_withdrawn" }

type borrowEvent struct {
	Owner  crypto.Address
	ID     uint64
	Amount *big.Int
}

func (borrowEvent) EventType() string { return "lending.borrow" }

type repayEvent struct {
	Owner  crypto.Address
	ID     uint64
	Amount *big.Int
}

func (repayEvent) EventType() string { return "lending.repay" }

type liquidatedEvent struct {
	Owner      crypto.Address
	ID         uint64
	Liquidator crypto.Address
	TotalCost  *big.Int
}

func (liquidatedEvent) EventType() string { return "lending.position_liquidated" }

type positionClosedEvent struct {
	Owner crypto.Address
	ID    uint64
}

func (positionClosedEvent) EventType() string { return "lending.position_closed" }
