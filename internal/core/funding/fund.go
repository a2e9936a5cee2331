// Package funding maintains the client's prepaid micronote credit: one
// active fund per batch, optimistically debited locally so that
// authorizing a micronote does not need a settlement round trip.
package funding

import (
	"math/big"
	"time"
)

// Batch is a time-boxed micropayment window published by the sidechain.
// Trust in a batch is established by the signature chain check in the
// sidechain client before the batch reaches this package.
type Batch struct {
	BatchSlug                    string    `json:"batchSlug"`
	StopNewNotesTime             time.Time `json:"stopNewNotesTime"`
	MinimumFundingCentagons      *big.Int  `json:"minimumFundingCentagons"`
	MicronoteBatchAddress        string    `json:"micronoteBatchAddress"`
	MicronoteBatchPublicKey      []byte    `json:"micronoteBatchPublicKey"`
	SidechainPublicKey           []byte    `json:"sidechainPublicKey"`
	SidechainValidationSignature []byte    `json:"sidechainValidationSignature"`
}

// RemainingOpenTime is how long the batch still accepts new notes.
func (b Batch) RemainingOpenTime(now time.Time) time.Duration {
	return b.StopNewNotesTime.Sub(now)
}

// MicronoteFund is prepaid credit settled against one batch. The remaining
// balance is tracked locally and debited optimistically; the remote ledger
// holds the settled total.
type MicronoteFund struct {
	FundsID                   uint64   `json:"fundsId"`
	BatchSlug                 string   `json:"batchSlug"`
	MicrogonsRemaining        *big.Int `json:"microgonsRemaining"`
	AllowedRecipientAddresses []string `json:"allowedRecipientAddresses,omitempty"`
}

// Reservation is a slice of a fund's balance set aside for one micronote.
type Reservation struct {
	FundsID   uint64
	Batch     Batch
	Microgons *big.Int
}
