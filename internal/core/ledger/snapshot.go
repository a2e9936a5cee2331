package ledger

import (
	"compress/gzip"
	"context"
	"encoding/gob"
	"errors"
	"math/big"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Snapshot is the serializable state of an UnspentOutputStore. Micronote
// fund records are deliberately absent: the funding ledger is rebuilt from
// the remote service on restart.
type Snapshot struct {
	ChangeAddress string
	Outputs       []SnapshotOutput
	CoinageClaims map[OutputRef][]chainhash.Hash
}

type SnapshotOutput struct {
	Ref             OutputRef
	Ledger          Ledger
	Amount          *big.Int
	Address         string
	IsBond          bool
	IsBurned        bool
	ConfirmedBlocks []BlockRef
}

// Snapshot captures the store's current contents.
func (s *UnspentOutputStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ChangeAddress: s.changeAddress,
		CoinageClaims: make(map[OutputRef][]chainhash.Hash, len(s.coinageClaims)),
	}
	for _, set := range []map[OutputRef]*UnspentOutput{s.shares, s.stables, s.bonds} {
		for ref, out := range set {
			snap.Outputs = append(snap.Outputs, SnapshotOutput{
				Ref:             ref,
				Ledger:          out.SourceLedger,
				Amount:          new(big.Int).Set(out.Amount),
				Address:         out.Address,
				IsBond:          out.IsBond,
				IsBurned:        out.IsBurned,
				ConfirmedBlocks: out.ConfirmedBlocks(),
			})
		}
	}
	for ref, hashes := range s.coinageClaims {
		claimed := make([]chainhash.Hash, 0, len(hashes))
		for hash := range hashes {
			claimed = append(claimed, hash)
		}
		snap.CoinageClaims[ref] = claimed
	}
	return snap
}

// Restore replaces the store's contents with a previously captured
// snapshot.
func (s *UnspentOutputStore) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shares = make(map[OutputRef]*UnspentOutput)
	s.stables = make(map[OutputRef]*UnspentOutput)
	s.bonds = make(map[OutputRef]*UnspentOutput)
	s.coinageClaims = make(map[OutputRef]map[chainhash.Hash]struct{})
	if snap.ChangeAddress != "" {
		s.changeAddress = snap.ChangeAddress
	}

	for _, out := range snap.Outputs {
		restored := &UnspentOutput{
			SourceTransactionHash: out.Ref.TransactionHash,
			SourceOutputIndex:     out.Ref.OutputIndex,
			SourceLedger:          out.Ledger,
			Amount:                new(big.Int).Set(out.Amount),
			Address:               out.Address,
			IsBond:                out.IsBond,
			IsBurned:              out.IsBurned,
			confirmedBlocks:       out.ConfirmedBlocks,
		}
		s.addLocked(restored)
	}
	for ref, hashes := range snap.CoinageClaims {
		set := make(map[chainhash.Hash]struct{}, len(hashes))
		for _, hash := range hashes {
			set[hash] = struct{}{}
		}
		s.coinageClaims[ref] = set
	}
}

// SnapshotStore persists ledger snapshots to a gzip-compressed gob file,
// written atomically via a temp file and rename.
type SnapshotStore struct {
	filepath string
}

func NewSnapshotStore(filepath string) SnapshotStore {
	return SnapshotStore{filepath: filepath}
}

func (s SnapshotStore) Put(_ context.Context, snap Snapshot) (err error) {
	// Temp file lives next to the destination so the rename stays on one
	// filesystem.
	file, err := os.CreateTemp(filepath.Dir(s.filepath), "sidechain-ledger")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(file.Name())
		}
	}()

	writer, err := gzip.NewWriterLevel(file, gzip.BestCompression)
	if err != nil {
		return err
	}
	if err = gob.NewEncoder(writer).Encode(snap); err != nil {
		return err
	}

	if err = writer.Close(); err != nil {
		return err
	}
	if err = file.Close(); err != nil {
		return err
	}
	return os.Rename(file.Name(), s.filepath)
}

func (s SnapshotStore) Get(_ context.Context) (Snapshot, error) {
	file, err := os.Open(s.filepath)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	defer file.Close()

	reader, err := gzip.NewReader(file)
	if err != nil {
		return Snapshot{}, err
	}
	defer reader.Close()

	var snap Snapshot
	if err := gob.NewDecoder(reader).Decode(&snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
