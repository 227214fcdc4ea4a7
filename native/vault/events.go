package vault

import "math/big"

type feeRealizedEvent struct {
	Shares *big.Int
}

func (feeRealizedEvent) EventType() string { return "vault.fee_realized" }

type flashLoanEvent struct {
	Amount *big.Int
	Fee    *big.Int
}

func (flashLoanEvent) EventType() string { return "vault.flash_loan" }
