package ledger

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// OutputRef is the identity of an unspent output: the transaction that
// produced it and its index within that transaction's output list.
type OutputRef struct {
	TransactionHash chainhash.Hash
	OutputIndex     uint32
}

func (r OutputRef) String() string {
	return fmt.Sprintf("%s:%d", r.TransactionHash, r.OutputIndex)
}

// BlockRef records one block that confirmed an output.
type BlockRef struct {
	Height uint64
	Hash   chainhash.Hash
}

// UnspentOutput is one output the wallet owns. Identity fields are fixed at
// creation; only the confirmation history grows, and only through the store.
type UnspentOutput struct {
	SourceTransactionHash chainhash.Hash
	SourceOutputIndex     uint32
	SourceLedger          Ledger
	Amount                *big.Int
	Address               string
	IsBond                bool
	IsBurned              bool

	confirmedBlocks []BlockRef
}

// Ref returns the output's identity.
func (o *UnspentOutput) Ref() OutputRef {
	return OutputRef{TransactionHash: o.SourceTransactionHash, OutputIndex: o.SourceOutputIndex}
}

// IsConfirmed reports whether at least one block has confirmed the output.
func (o *UnspentOutput) IsConfirmed() bool {
	return len(o.confirmedBlocks) > 0
}

// ConfirmedBlocks returns a copy of the confirmation history in the order
// the confirmations were recorded.
func (o *UnspentOutput) ConfirmedBlocks() []BlockRef {
	blocks := make([]BlockRef, len(o.confirmedBlocks))
	copy(blocks, o.confirmedBlocks)
	return blocks
}

func (o *UnspentOutput) appendConfirmation(block BlockRef) {
	o.confirmedBlocks = append(o.confirmedBlocks, block)
}
