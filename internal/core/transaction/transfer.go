package transaction

import (
	"math/big"
	"time"

	"github.com/meridianlabs/sidechain-client/internal/core/ledger"
)

// Recipient is one destination of a transfer.
type Recipient struct {
	Address          string
	Centagons        *big.Int
	IsBurned         bool
	IsSidechained    bool
	SidechainAddress string
}

// BuildTransfer selects covering inputs on the given ledger, pays each
// recipient, returns any change to the wallet's change address and signs
// every selected input. The fee is consumed on top of the recipient total.
func BuildTransfer(store *ledger.UnspentOutputStore, signers SignerSource, l ledger.Ledger, recipients []Recipient, fee *big.Int, now time.Time) (*Transaction, error) {
	total := new(big.Int).Set(fee)
	for _, r := range recipients {
		total.Add(total, r.Centagons)
	}

	selected, change, err := store.CoveringOutputs(l, total)
	if err != nil {
		return nil, err
	}

	builder := NewBuilder(TypeTransfer, now)
	for _, r := range recipients {
		if err := builder.AddOutput(Output{
			Address:          r.Address,
			Amount:           r.Centagons,
			IsBurned:         r.IsBurned,
			IsSidechained:    r.IsSidechained,
			SidechainAddress: r.SidechainAddress,
		}); err != nil {
			return nil, err
		}
	}
	if change.Sign() > 0 {
		if err := builder.AddOutput(Output{Address: store.ChangeAddress(), Amount: change}); err != nil {
			return nil, err
		}
	}

	if err := addSpendSources(builder, signers, selected); err != nil {
		return nil, err
	}
	return builder.Finalize()
}

func addSpendSources(builder *Builder, signers SignerSource, outputs []*ledger.UnspentOutput) error {
	for _, out := range outputs {
		signer, err := signers.SignerFor(out.Address)
		if err != nil {
			return &SourceNotFoundError{Address: out.Address}
		}
		if err := builder.AddSource(sourceForOutput(out), out.Address, out.Amount, signer); err != nil {
			return err
		}
	}
	return nil
}

func sourceForOutput(out *ledger.UnspentOutput) Source {
	hash := out.SourceTransactionHash
	index := out.SourceOutputIndex
	l := out.SourceLedger
	return Source{
		SourceTransactionHash: &hash,
		SourceOutputIndex:     &index,
		SourceLedger:          &l,
	}
}
