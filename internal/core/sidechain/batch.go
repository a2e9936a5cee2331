package sidechain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/meridianlabs/sidechain-client/internal/core/funding"
	"github.com/meridianlabs/sidechain-client/internal/core/keyring"
	"github.com/meridianlabs/sidechain-client/internal/core/transaction"
)

// VerifyBatch establishes trust in a batch descriptor before any fund
// operation touches it: the batch key must be endorsed by the sidechain
// key, and the batch address must belong to the batch key. A batch that
// fails either check is discarded, never retried.
func VerifyBatch(batch funding.Batch) error {
	if len(batch.MicronoteBatchPublicKey) == 0 || len(batch.SidechainPublicKey) == 0 {
		return &InvalidSignatureError{Subject: "batch " + batch.BatchSlug}
	}

	endorsement := chainhash.DoubleHashH(batch.MicronoteBatchPublicKey)
	if !transaction.VerifySignature(batch.SidechainPublicKey, endorsement, batch.SidechainValidationSignature) {
		return &InvalidSignatureError{Subject: "batch " + batch.BatchSlug}
	}

	if keyring.AddressForPublicKey(batch.MicronoteBatchPublicKey) != batch.MicronoteBatchAddress {
		return &InvalidSignatureError{Subject: "batch address " + batch.BatchSlug}
	}
	return nil
}
