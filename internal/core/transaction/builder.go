package transaction

import (
	"math/big"
	"time"
)

// Builder assembles a transaction in two phases: outputs and sources are
// added while the builder is open, then Finalize signs every pending
// source against the complete output set and seals the transaction hash.
// Finalization is irreversible.
type Builder struct {
	tx        *Transaction
	pending   []pendingSource
	finalized bool
}

type pendingSource struct {
	source  Source
	address string
	amount  *big.Int
	signer  Signer
}

func NewBuilder(txType Type, now time.Time) *Builder {
	return &Builder{
		tx: &Transaction{
			Version: CurrentVersion,
			Type:    txType,
			Time:    now.UTC(),
		},
	}
}

// ExpiresAt sets the block height after which the ledger must reject the
// transaction. Zero means no expiry.
func (b *Builder) ExpiresAt(blockHeight uint64) *Builder {
	b.tx.ExpiresAtBlockHeight = blockHeight
	return b
}

// AddOutput appends a destination. An output is sidechained when it names
// an explicit sidechain address or is flagged as such.
func (b *Builder) AddOutput(out Output) error {
	if b.finalized {
		return ErrFinalized
	}
	out.IsSidechained = out.IsSidechained || out.SidechainAddress != ""
	out.Amount = new(big.Int).Set(out.Amount)
	b.tx.Outputs = append(b.tx.Outputs, out)
	return nil
}

// AddSource registers an input pending signature. Signing is deferred to
// Finalize so the signature payload can commit to the complete, final
// output set. The address and amount are those of the referenced output
// (or coinage allocation) and become part of the signed payload.
func (b *Builder) AddSource(src Source, address string, amount *big.Int, signer Signer) error {
	if b.finalized {
		return ErrFinalized
	}
	if signer == nil {
		return ErrInvalidSources
	}
	b.pending = append(b.pending, pendingSource{
		source:  src,
		address: address,
		amount:  new(big.Int).Set(amount),
		signer:  signer,
	})
	return nil
}

// Finalize signs every pending source over the source hash, appends the
// signed sources, computes the transaction hash over the whole structure
// and returns the sealed transaction.
func (b *Builder) Finalize() (*Transaction, error) {
	if b.finalized {
		return nil, ErrFinalized
	}
	if len(b.pending) == 0 {
		return nil, ErrInvalidSources
	}

	keySet := keySetForType(b.tx.Type)
	for _, pending := range b.pending {
		payload := SourceHash(b.tx.Version, b.tx.Type, b.tx.Outputs, pending.source, pending.address, pending.amount)
		bundle, err := pending.signer.Sign(payload, keySet)
		if err != nil {
			return nil, err
		}
		src := pending.source
		src.SignatureSettings = bundle.Settings
		src.Signers = bundle.Signers
		b.tx.Sources = append(b.tx.Sources, src)
	}

	b.tx.TransactionHash = Hash(b.tx)
	b.finalized = true
	return b.tx, nil
}
