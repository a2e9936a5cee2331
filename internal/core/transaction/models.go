// Package transaction assembles, signs and hashes sidechain transactions
// against the wallet's unspent-output ledger.
package transaction

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/meridianlabs/sidechain-client/internal/core/ledger"
)

// CurrentVersion is the transaction wire version this client produces.
const CurrentVersion uint16 = 1

type Type uint8

const (
	TypeTransfer Type = iota
	TypeBondPurchase
	TypeBondRedemption
	TypeCoinageClaim
)

func (t Type) String() string {
	switch t {
	case TypeTransfer:
		return "transfer"
	case TypeBondPurchase:
		return "bondPurchase"
	case TypeBondRedemption:
		return "bondRedemption"
	case TypeCoinageClaim:
		return "coinageClaim"
	}
	return "unknown"
}

// Output is one destination of a transaction.
type Output struct {
	Address          string   `json:"address"`
	Amount           *big.Int `json:"centagons"`
	IsBond           bool     `json:"isBond,omitempty"`
	IsBurned         bool     `json:"isBurned,omitempty"`
	IsSidechained    bool     `json:"isSidechained,omitempty"`
	SidechainAddress string   `json:"sidechainAddress,omitempty"`
}

// SignatureSettings describes how many of the attached signatures the
// ledger must verify for the source to be authorized.
type SignatureSettings struct {
	RequiredSignatures uint32 `json:"requiredSignatures"`
}

// SourceSignature is one signer's proof over the source hash.
type SourceSignature struct {
	PublicKey []byte `json:"publicKey"`
	Signature []byte `json:"signature"`
}

// SignatureBundle is the result of a signer capability invocation.
type SignatureBundle struct {
	Settings SignatureSettings
	Signers  []SourceSignature
}

// Source is one input of a transaction: either a spend of a referenced
// unspent output, or a coinage claim tagged with the claim height and
// coinage hash instead of an output index.
type Source struct {
	SourceOutputIndex     *uint32           `json:"sourceOutputIndex,omitempty"`
	SourceTransactionHash *chainhash.Hash   `json:"sourceTransactionHash,omitempty"`
	SourceLedger          *ledger.Ledger    `json:"sourceLedger,omitempty"`
	BlockClaimHeight      *uint64           `json:"blockClaimHeight,omitempty"`
	CoinageHash           *chainhash.Hash   `json:"coinageHash,omitempty"`
	SignatureSettings     SignatureSettings `json:"signatureSettings"`
	Signers               []SourceSignature `json:"signers"`
}

// Transaction is a fully assembled sidechain transaction. TransactionHash
// is computed last over the whole structure and never mutated afterward.
type Transaction struct {
	Version              uint16         `json:"version"`
	Type                 Type           `json:"type"`
	Time                 time.Time      `json:"time"`
	ExpiresAtBlockHeight uint64         `json:"expiresAtBlockHeight,omitempty"`
	Outputs              []Output       `json:"outputs"`
	Sources              []Source       `json:"sources"`
	TransactionHash      chainhash.Hash `json:"transactionHash"`
}

// SpentRefs lists the ledger identities consumed by the transaction's
// sources, in source order. Coinage-claim sources without an output index
// are skipped.
func (t *Transaction) SpentRefs() []ledger.OutputRef {
	refs := make([]ledger.OutputRef, 0, len(t.Sources))
	for _, src := range t.Sources {
		if src.SourceTransactionHash == nil || src.SourceOutputIndex == nil {
			continue
		}
		refs = append(refs, ledger.OutputRef{
			TransactionHash: *src.SourceTransactionHash,
			OutputIndex:     *src.SourceOutputIndex,
		})
	}
	return refs
}

// SettledOutputs converts the transaction's outputs into the shape the
// ledger store records once the remote ledger settles the transaction.
func (t *Transaction) SettledOutputs() []ledger.SettledOutput {
	settled := make([]ledger.SettledOutput, 0, len(t.Outputs))
	for i, out := range t.Outputs {
		settled = append(settled, ledger.SettledOutput{
			Index:    uint32(i),
			Address:  out.Address,
			Amount:   new(big.Int).Set(out.Amount),
			IsBond:   out.IsBond,
			IsBurned: out.IsBurned,
		})
	}
	return settled
}

// ClaimRecords lists the (output, coinage) pairs consumed by a settled
// coinage claim.
func (t *Transaction) ClaimRecords() []ledger.CoinageClaimRecord {
	var records []ledger.CoinageClaimRecord
	for _, src := range t.Sources {
		if src.CoinageHash == nil || src.SourceTransactionHash == nil {
			continue
		}
		var index uint32
		if src.SourceOutputIndex != nil {
			index = *src.SourceOutputIndex
		}
		records = append(records, ledger.CoinageClaimRecord{
			Source: ledger.OutputRef{
				TransactionHash: *src.SourceTransactionHash,
				OutputIndex:     index,
			},
			CoinageHash: *src.CoinageHash,
		})
	}
	return records
}
