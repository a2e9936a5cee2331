package transaction

import (
	"math/big"
	"time"

	"github.com/meridianlabs/sidechain-client/internal/core/ledger"
)

// BuildBondPurchase converts stable-ledger value into a bond-flagged
// output at the given address. When expireAfterBlocks is non-zero the
// transaction carries an expiry of currentHeight + expireAfterBlocks.
func BuildBondPurchase(store *ledger.UnspentOutputStore, signers SignerSource, bondAddress string, amount, fee *big.Int, currentHeight, expireAfterBlocks uint64, now time.Time) (*Transaction, error) {
	total := new(big.Int).Add(amount, fee)
	selected, change, err := store.CoveringOutputs(ledger.LedgerStable, total)
	if err != nil {
		return nil, err
	}

	builder := NewBuilder(TypeBondPurchase, now)
	if expireAfterBlocks > 0 {
		builder.ExpiresAt(currentHeight + expireAfterBlocks)
	}
	if err := builder.AddOutput(Output{Address: bondAddress, Amount: amount, IsBond: true}); err != nil {
		return nil, err
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

// BuildBondRedemption spends bond outputs back into spendable stable
// value. Bond change stays bond-flagged at the wallet's change address.
func BuildBondRedemption(store *ledger.UnspentOutputStore, signers SignerSource, recipientAddress string, amount, fee *big.Int, now time.Time) (*Transaction, error) {
	total := new(big.Int).Add(amount, fee)
	selected, change, err := store.CoveringBonds(total)
	if err != nil {
		return nil, err
	}

	builder := NewBuilder(TypeBondRedemption, now)
	if err := builder.AddOutput(Output{Address: recipientAddress, Amount: amount}); err != nil {
		return nil, err
	}
	if change.Sign() > 0 {
		if err := builder.AddOutput(Output{Address: store.ChangeAddress(), Amount: change, IsBond: true}); err != nil {
			return nil, err
		}
	}

	if err := addSpendSources(builder, signers, selected); err != nil {
		return nil, err
	}
	return builder.Finalize()
}
