package transaction

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/meridianlabs/sidechain-client/internal/core/ledger"
)

// MinimumShareholderClaimCentagons is the policy floor below which a
// shareholder coinage claim is rejected.
const MinimumShareholderClaimCentagons = 100

// CoinagePeriod describes one reward period published by the ledger
// authority. TotalSharesAtHeight is supplied by the remote service, which
// is authoritative for the snapshot semantics at that height.
type CoinagePeriod struct {
	CoinageHash         chainhash.Hash
	BlockHeight         uint64
	TotalCentagons      *big.Int
	TotalSharesAtHeight *big.Int
}

// CoinageGrant is a direct allocation claimable by a single address.
type CoinageGrant struct {
	Address               string
	CoinageHash           chainhash.Hash
	BlockHeight           uint64
	AllocatedCentagons    *big.Int
	MinimumClaimCentagons *big.Int
}

// BuildShareholderClaim claims the wallet's pro-rata portion of each
// coinage period across every confirmed share output that has not already
// claimed it. The per-pair portion is ownedAmount / totalShares × reward,
// computed in arbitrary-precision decimal and floored to an integer only
// after summing.
func BuildShareholderClaim(store *ledger.UnspentOutputStore, signers SignerSource, periods []CoinagePeriod, claimAddress string, now time.Time) (*Transaction, error) {
	builder := NewBuilder(TypeCoinageClaim, now)

	sum := decimal.Zero
	var sourceCount int
	for _, out := range store.ConfirmedOutputs(ledger.LedgerShares) {
		owned := decimal.NewFromBigInt(out.Amount, 0)
		for _, period := range periods {
			if period.TotalSharesAtHeight == nil || period.TotalSharesAtHeight.Sign() == 0 {
				return nil, errors.Errorf("coinage period %s has no share total", period.CoinageHash)
			}
			if store.HasClaimedCoinage(out.Ref(), period.CoinageHash) {
				continue
			}

			reward := decimal.NewFromBigInt(period.TotalCentagons, 0)
			totalShares := decimal.NewFromBigInt(period.TotalSharesAtHeight, 0)
			sum = sum.Add(owned.Mul(reward).Div(totalShares))

			signer, err := signers.SignerFor(out.Address)
			if err != nil {
				return nil, &SourceNotFoundError{Address: out.Address}
			}
			src := sourceForOutput(out)
			height := period.BlockHeight
			coinage := period.CoinageHash
			src.BlockClaimHeight = &height
			src.CoinageHash = &coinage
			if err := builder.AddSource(src, out.Address, out.Amount, signer); err != nil {
				return nil, err
			}
			sourceCount++
		}
	}

	total := sum.Floor().BigInt()
	if sourceCount == 0 || total.Cmp(big.NewInt(MinimumShareholderClaimCentagons)) < 0 {
		return nil, &CoinageClaimBelowMinimumError{
			Minimum: big.NewInt(MinimumShareholderClaimCentagons),
			Actual:  total,
		}
	}

	if err := builder.AddOutput(Output{Address: claimAddress, Amount: total}); err != nil {
		return nil, err
	}
	return builder.Finalize()
}

// BuildGrantClaim claims part of a grant's allocation directly. The wallet
// must hold the signing capability for the grant's address.
func BuildGrantClaim(signers SignerSource, grant CoinageGrant, amount *big.Int, recipientAddress string, now time.Time) (*Transaction, error) {
	if amount.Cmp(grant.AllocatedCentagons) > 0 {
		return nil, errors.Errorf("grant claim of %s centagons exceeds the %s centagon allocation",
			amount, grant.AllocatedCentagons)
	}
	if grant.MinimumClaimCentagons != nil && amount.Cmp(grant.MinimumClaimCentagons) < 0 {
		return nil, &CoinageClaimBelowMinimumError{
			Minimum: new(big.Int).Set(grant.MinimumClaimCentagons),
			Actual:  new(big.Int).Set(amount),
		}
	}

	signer, err := signers.SignerFor(grant.Address)
	if err != nil {
		return nil, &SourceNotFoundError{Address: grant.Address}
	}

	if recipientAddress == "" {
		recipientAddress = grant.Address
	}

	builder := NewBuilder(TypeCoinageClaim, now)
	if err := builder.AddOutput(Output{Address: recipientAddress, Amount: amount}); err != nil {
		return nil, err
	}

	height := grant.BlockHeight
	coinage := grant.CoinageHash
	src := Source{
		BlockClaimHeight: &height,
		CoinageHash:      &coinage,
	}
	if err := builder.AddSource(src, grant.Address, amount, signer); err != nil {
		return nil, err
	}
	return builder.Finalize()
}
