package ledger

import (
	"math/big"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"
)

// SettledOutput is one output of a transaction the remote ledger has
// settled, in the shape the store needs to apply a state transition.
type SettledOutput struct {
	Index    uint32
	Address  string
	Amount   *big.Int
	IsBond   bool
	IsBurned bool
}

// CoinageClaimRecord identifies one (output, coinage) pair consumed by a
// settled coinage claim.
type CoinageClaimRecord struct {
	Source      OutputRef
	CoinageHash chainhash.Hash
}

// UnspentOutputStore owns every unspent output the wallet can spend,
// partitioned into disjoint share, stable and bond sets. All mutation goes
// through the store's methods so that coin selection and spend recording
// stay atomic with respect to each other.
type UnspentOutputStore struct {
	mu            sync.RWMutex
	changeAddress string
	shares        map[OutputRef]*UnspentOutput
	stables       map[OutputRef]*UnspentOutput
	bonds         map[OutputRef]*UnspentOutput
	coinageClaims map[OutputRef]map[chainhash.Hash]struct{}
	logger        *zap.Logger
}

func NewUnspentOutputStore(changeAddress string, logger *zap.Logger) *UnspentOutputStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnspentOutputStore{
		changeAddress: changeAddress,
		shares:        make(map[OutputRef]*UnspentOutput),
		stables:       make(map[OutputRef]*UnspentOutput),
		bonds:         make(map[OutputRef]*UnspentOutput),
		coinageClaims: make(map[OutputRef]map[chainhash.Hash]struct{}),
		logger:        logger,
	}
}

func (s *UnspentOutputStore) ChangeAddress() string {
	return s.changeAddress
}

// AddUnspentOutput registers an output the wallet owns, placing it in the
// bond set when flagged and otherwise in its ledger's set. An output whose
// identity is already tracked is left untouched.
func (s *UnspentOutputStore) AddUnspentOutput(out *UnspentOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(out)
}

func (s *UnspentOutputStore) addLocked(out *UnspentOutput) {
	ref := out.Ref()
	if s.lookupLocked(ref) != nil {
		s.logger.Warn("ignoring duplicate unspent output", zap.Stringer("ref", ref))
		return
	}
	s.setFor(out)[ref] = out
}

func (s *UnspentOutputStore) setFor(out *UnspentOutput) map[OutputRef]*UnspentOutput {
	if out.IsBond {
		return s.bonds
	}
	if out.SourceLedger == LedgerShares {
		return s.shares
	}
	return s.stables
}

func (s *UnspentOutputStore) lookupLocked(ref OutputRef) *UnspentOutput {
	for _, set := range []map[OutputRef]*UnspentOutput{s.shares, s.stables, s.bonds} {
		if out, ok := set[ref]; ok {
			return out
		}
	}
	return nil
}

func (s *UnspentOutputStore) removeLocked(refs []OutputRef) {
	for _, ref := range refs {
		for _, set := range []map[OutputRef]*UnspentOutput{s.shares, s.stables, s.bonds} {
			delete(set, ref)
		}
		delete(s.coinageClaims, ref)
	}
}

// CoveringOutputs selects confirmed, unburned, non-bond outputs from the
// given ledger whose amounts sum to at least the requested amount. Outputs
// are consumed smallest-first to retire dust and keep the wallet compact.
// The second return value is the change left over after covering the
// amount; zero means an exact match.
func (s *UnspentOutputStore) CoveringOutputs(l Ledger, amount *big.Int) ([]*UnspentOutput, *big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.stables
	if l == LedgerShares {
		set = s.shares
	}
	return s.selectCovering(set, l, amount, false)
}

// CoveringBonds selects confirmed, unburned bond outputs to cover a bond
// redemption amount, smallest-first like regular selection.
func (s *UnspentOutputStore) CoveringBonds(amount *big.Int) ([]*UnspentOutput, *big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectCovering(s.bonds, LedgerStable, amount, true)
}

func (s *UnspentOutputStore) selectCovering(set map[OutputRef]*UnspentOutput, l Ledger, amount *big.Int, wantBonds bool) ([]*UnspentOutput, *big.Int, error) {
	eligible := make([]*UnspentOutput, 0, len(set))
	for _, out := range set {
		if !out.IsConfirmed() || out.IsBurned || out.IsBond != wantBonds {
			continue
		}
		eligible = append(eligible, out)
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].Amount.Cmp(eligible[j].Amount) < 0
	})

	total := new(big.Int)
	selected := make([]*UnspentOutput, 0, len(eligible))
	for _, out := range eligible {
		if total.Cmp(amount) >= 0 {
			break
		}
		selected = append(selected, out)
		total.Add(total, out.Amount)
	}

	if total.Cmp(amount) < 0 {
		return nil, nil, &InsufficientFundsError{
			Ledger:    l,
			Requested: new(big.Int).Set(amount),
			Shortfall: new(big.Int).Sub(amount, total),
		}
	}

	// Drop any small output made redundant once a larger one tipped the
	// running total over the target, so the selection stays minimal.
	pruned := selected[:0]
	without := new(big.Int)
	for _, out := range selected {
		without.Sub(total, out.Amount)
		if without.Cmp(amount) >= 0 {
			total.Set(without)
			continue
		}
		pruned = append(pruned, out)
	}
	return pruned, total.Sub(total, amount), nil
}

// ConfirmedOutputs returns the confirmed, unburned, non-bond outputs of a
// ledger; callers must treat them as read-only.
func (s *UnspentOutputStore) ConfirmedOutputs(l Ledger) []*UnspentOutput {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.stables
	if l == LedgerShares {
		set = s.shares
	}
	outputs := make([]*UnspentOutput, 0, len(set))
	for _, out := range set {
		if out.IsConfirmed() && !out.IsBurned {
			outputs = append(outputs, out)
		}
	}
	sort.Slice(outputs, func(i, j int) bool {
		return outputs[i].Ref().String() < outputs[j].Ref().String()
	})
	return outputs
}

// Balance sums the confirmed, unburned, non-bond outputs of a ledger.
func (s *UnspentOutputStore) Balance(l Ledger) *big.Int {
	total := new(big.Int)
	for _, out := range s.ConfirmedOutputs(l) {
		total.Add(total, out.Amount)
	}
	return total
}

// RecordConfirmedBlock appends a confirmation entry to every referenced
// output the store still holds and returns how many were updated.
func (s *UnspentOutputStore) RecordConfirmedBlock(block BlockRef, refs ...OutputRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int
	for _, ref := range refs {
		out := s.lookupLocked(ref)
		if out == nil {
			s.logger.Debug("confirmation for untracked output", zap.Stringer("ref", ref))
			continue
		}
		out.appendConfirmation(block)
		updated++
	}
	return updated
}

// RecordTransfer applies a settled transfer: consumed inputs leave the
// store, outputs paying the wallet's change address re-enter the ledger
// set, and outputs paying anyone else are returned without being stored.
func (s *UnspentOutputStore) RecordTransfer(txHash chainhash.Hash, l Ledger, spent []OutputRef, outputs []SettledOutput) []SettledOutput {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(spent)
	var transferred []SettledOutput
	for _, out := range outputs {
		if out.Address != s.changeAddress {
			transferred = append(transferred, out)
			continue
		}
		s.addLocked(&UnspentOutput{
			SourceTransactionHash: txHash,
			SourceOutputIndex:     out.Index,
			SourceLedger:          l,
			Amount:                new(big.Int).Set(out.Amount),
			Address:               out.Address,
			IsBond:                out.IsBond,
			IsBurned:              out.IsBurned,
		})
	}
	return transferred
}

// RecordBondPurchase consumes the stable inputs of a settled bond purchase
// and stores its bond-flagged outputs in the bond set plus any change back
// on the stable ledger.
func (s *UnspentOutputStore) RecordBondPurchase(txHash chainhash.Hash, spent []OutputRef, outputs []SettledOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(spent)
	for _, out := range outputs {
		if !out.IsBond && out.Address != s.changeAddress {
			continue
		}
		s.addLocked(&UnspentOutput{
			SourceTransactionHash: txHash,
			SourceOutputIndex:     out.Index,
			SourceLedger:          LedgerStable,
			Amount:                new(big.Int).Set(out.Amount),
			Address:               out.Address,
			IsBond:                out.IsBond,
			IsBurned:              out.IsBurned,
		})
	}
}

// RecordBondRedemption consumes redeemed bond outputs and returns their
// value to the stable ledger, minus anything paid to other parties, which
// is returned like a transfer.
func (s *UnspentOutputStore) RecordBondRedemption(txHash chainhash.Hash, spent []OutputRef, outputs []SettledOutput) []SettledOutput {
	return s.RecordTransfer(txHash, LedgerStable, spent, outputs)
}

// RecordCoinageClaim marks every claimed (output, coinage) pair so it can
// never be claimed again, and stores the minted reward outputs on the
// shares ledger.
func (s *UnspentOutputStore) RecordCoinageClaim(txHash chainhash.Hash, claims []CoinageClaimRecord, outputs []SettledOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, claim := range claims {
		hashes, ok := s.coinageClaims[claim.Source]
		if !ok {
			hashes = make(map[chainhash.Hash]struct{})
			s.coinageClaims[claim.Source] = hashes
		}
		hashes[claim.CoinageHash] = struct{}{}
	}

	for _, out := range outputs {
		if out.Address != s.changeAddress {
			continue
		}
		s.addLocked(&UnspentOutput{
			SourceTransactionHash: txHash,
			SourceOutputIndex:     out.Index,
			SourceLedger:          LedgerShares,
			Amount:                new(big.Int).Set(out.Amount),
			Address:               out.Address,
			IsBurned:              out.IsBurned,
		})
	}
}

// HasClaimedCoinage reports whether the coinage hash is already recorded
// against the output's identity.
func (s *UnspentOutputStore) HasClaimedCoinage(ref OutputRef, coinageHash chainhash.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hashes, ok := s.coinageClaims[ref]
	if !ok {
		return false
	}
	_, claimed := hashes[coinageHash]
	return claimed
}
