package transaction

import (
	"fmt"
	"math/big"

	"github.com/pkg/errors"
)

// ErrInvalidSources is returned when a source is added without a signer
// capable of authorizing it.
var ErrInvalidSources = errors.New("transaction source added without an authorized signer")

// ErrFinalized is returned when a builder is used after Finalize.
var ErrFinalized = errors.New("transaction is already finalized")

// CoinageClaimBelowMinimumError is returned when a computed or requested
// claim amount is under the policy floor.
type CoinageClaimBelowMinimumError struct {
	Minimum *big.Int
	Actual  *big.Int
}

func (e *CoinageClaimBelowMinimumError) Error() string {
	return fmt.Sprintf("coinage claim of %s centagons is below the %s centagon minimum", e.Actual, e.Minimum)
}

// SourceNotFoundError is returned when no local signing capability exists
// for a referenced address.
type SourceNotFoundError struct {
	Address string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("no signing capability for address %s", e.Address)
}
