package funding

import (
	"fmt"
	"math/big"

	"github.com/pkg/errors"
)

// NeedsBatchFundingError signals that the locally tracked fund cannot
// cover a reservation and a refunding pass is required. It is a recovery
// trigger, not a hard failure.
type NeedsBatchFundingError struct {
	BatchSlug       string
	MicrogonsNeeded *big.Int
}

func (e *NeedsBatchFundingError) Error() string {
	return fmt.Sprintf("batch %s needs funding for %s microgons", e.BatchSlug, e.MicrogonsNeeded)
}

type temporary interface {
	Temporary() bool
}

// IsRetryable reports whether an error is classified as transient
// (connection resets, gateway errors) rather than fatal (validation,
// insufficient funds, signature and identity errors). Errors without a
// classification are treated as fatal.
func IsRetryable(err error) bool {
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}
