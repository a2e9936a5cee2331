package transaction

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// The canonical encoding writes every field in a fixed order with
// length-prefixed variable-size values, so the resulting hash is stable
// across processes for identical content.

type canonicalWriter struct {
	buf bytes.Buffer
}

func (w *canonicalWriter) writeUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *canonicalWriter) writeBool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *canonicalWriter) writeBytes(v []byte) {
	w.writeUint64(uint64(len(v)))
	w.buf.Write(v)
}

func (w *canonicalWriter) writeString(v string) {
	w.writeBytes([]byte(v))
}

func (w *canonicalWriter) writeBigInt(v *big.Int) {
	if v == nil {
		w.writeBytes(nil)
		return
	}
	w.writeBytes(v.Bytes())
}

func (w *canonicalWriter) hash() chainhash.Hash {
	return chainhash.DoubleHashH(w.buf.Bytes())
}

func (w *canonicalWriter) writeOutput(out Output, includeMetadata bool) {
	w.writeString(out.Address)
	w.writeBigInt(out.Amount)
	w.writeBool(out.IsBond)
	w.writeBool(out.IsBurned)
	if includeMetadata {
		w.writeBool(out.IsSidechained)
		w.writeString(out.SidechainAddress)
	}
}

func (w *canonicalWriter) writeSourceIdentity(src Source) {
	if src.SourceLedger != nil {
		w.writeBool(true)
		w.writeUint64(uint64(*src.SourceLedger))
	} else {
		w.writeBool(false)
	}
	if src.SourceTransactionHash != nil {
		w.writeBytes(src.SourceTransactionHash[:])
	} else {
		w.writeBytes(nil)
	}
	if src.SourceOutputIndex != nil {
		w.writeBool(true)
		w.writeUint64(uint64(*src.SourceOutputIndex))
	} else {
		w.writeBool(false)
	}
	if src.BlockClaimHeight != nil {
		w.writeBool(true)
		w.writeUint64(*src.BlockClaimHeight)
	} else {
		w.writeBool(false)
	}
	if src.CoinageHash != nil {
		w.writeBytes(src.CoinageHash[:])
	} else {
		w.writeBytes(nil)
	}
}

// SourceHash computes the payload a signer must commit to for one source:
// the transaction's version and type, the complete final output list
// (spendable fields only), the source's identity, and the referenced
// output's own address and amount. Committing to all outputs before any
// signature exists prevents output tampering after signing.
func SourceHash(version uint16, txType Type, outputs []Output, src Source, sourceAddress string, sourceAmount *big.Int) chainhash.Hash {
	var w canonicalWriter
	w.writeUint64(uint64(version))
	w.writeUint64(uint64(txType))
	w.writeUint64(uint64(len(outputs)))
	for _, out := range outputs {
		w.writeOutput(out, false)
	}
	w.writeSourceIdentity(src)
	w.writeString(sourceAddress)
	w.writeBigInt(sourceAmount)
	return w.hash()
}

// Hash computes the transaction hash over the fully populated structure,
// signatures included, excluding only the hash field itself. Committing to
// the signatures stops a signed source being swapped into a different
// transaction.
func Hash(tx *Transaction) chainhash.Hash {
	var w canonicalWriter
	w.writeUint64(uint64(tx.Version))
	w.writeUint64(uint64(tx.Type))
	w.writeUint64(uint64(tx.Time.UnixMilli()))
	w.writeUint64(tx.ExpiresAtBlockHeight)
	w.writeUint64(uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		w.writeOutput(out, true)
	}
	w.writeUint64(uint64(len(tx.Sources)))
	for _, src := range tx.Sources {
		w.writeSourceIdentity(src)
		w.writeUint64(uint64(src.SignatureSettings.RequiredSignatures))
		w.writeUint64(uint64(len(src.Signers)))
		for _, sig := range src.Signers {
			w.writeBytes(sig.PublicKey)
			w.writeBytes(sig.Signature)
		}
	}
	return w.hash()
}

// VerifySignature checks a DER signature over a hash against a compressed
// secp256k1 public key.
func VerifySignature(publicKey []byte, hash chainhash.Hash, signature []byte) bool {
	pub, err := btcec.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(hash[:], pub)
}
