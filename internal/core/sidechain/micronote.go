package sidechain

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Micronote is a signed authorization to pay microgons out of a batch
// fund. The signature is the batch key's commitment over the note hash.
type Micronote struct {
	ID          uint64   `json:"id"`
	BatchSlug   string   `json:"batchSlug"`
	FundsID     uint64   `json:"fundsId"`
	Microgons   *big.Int `json:"microgons"`
	BlockHeight uint64   `json:"blockHeight"`
	IsAuditable bool     `json:"isAuditable"`
	Signature   []byte   `json:"signature"`
}

// Hash is the canonical digest the batch key signs.
func (m *Micronote) Hash() chainhash.Hash {
	var buf bytes.Buffer
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], m.ID)
	buf.Write(scratch[:])
	buf.WriteString(m.BatchSlug)
	binary.BigEndian.PutUint64(scratch[:], m.FundsID)
	buf.Write(scratch[:])
	if m.Microgons != nil {
		buf.Write(m.Microgons.Bytes())
	}
	binary.BigEndian.PutUint64(scratch[:], m.BlockHeight)
	buf.Write(scratch[:])
	return chainhash.DoubleHashH(buf.Bytes())
}
