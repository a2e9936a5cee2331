package ledger

import (
	"fmt"
	"math/big"
)

// InsufficientFundsError is returned by coin selection when the confirmed,
// spendable outputs of a ledger cannot cover the requested amount. Shortfall
// is the exact amount still missing after consuming every eligible output.
type InsufficientFundsError struct {
	Ledger    Ledger
	Requested *big.Int
	Shortfall *big.Int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on %s ledger: %s centagons requested, short %s",
		e.Ledger, e.Requested, e.Shortfall)
}
