// Package ledger holds the client's view of its own spendable value: the
// unspent outputs it owns on each sidechain ledger, the coin selection used
// to cover a payment, and the state transitions applied when transactions
// settle remotely.
package ledger

import "math/big"

// MicrogonsPerCentagon is the conversion factor between the coarse ledger
// unit (centagons) and the micropayment unit (microgons).
const MicrogonsPerCentagon = 10_000

var microgonsPerCentagon = big.NewInt(MicrogonsPerCentagon)

// Ledger identifies which value ledger an output lives on.
type Ledger uint8

const (
	LedgerShares Ledger = iota
	LedgerStable
)

func (l Ledger) String() string {
	switch l {
	case LedgerShares:
		return "shares"
	case LedgerStable:
		return "stable"
	}
	return "unknown"
}

// CentagonsToMicrogons converts a centagon amount to microgons.
func CentagonsToMicrogons(centagons *big.Int) *big.Int {
	return new(big.Int).Mul(centagons, microgonsPerCentagon)
}

// MicrogonsToCentagons converts microgons to centagons, rounding up so a
// funding amount expressed in centagons always covers the microgons asked
// for.
func MicrogonsToCentagons(microgons *big.Int) *big.Int {
	quo, rem := new(big.Int).QuoRem(microgons, microgonsPerCentagon, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}
