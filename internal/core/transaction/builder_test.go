package transaction

import (
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/sidechain-client/internal/core/ledger"
)

type testSigner struct {
	address string
	key     *btcec.PrivateKey
}

func newTestSigner(t *testing.T, address string) testSigner {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return testSigner{address: address, key: key}
}

func (s testSigner) Address() string { return s.address }

func (s testSigner) Sign(hash chainhash.Hash, _ KeySet) (SignatureBundle, error) {
	sig := ecdsa.Sign(s.key, hash[:])
	return SignatureBundle{
		Settings: SignatureSettings{RequiredSignatures: 1},
		Signers: []SourceSignature{{
			PublicKey: s.key.PubKey().SerializeCompressed(),
			Signature: sig.Serialize(),
		}},
	}, nil
}

type testSigners map[string]Signer

func (m testSigners) SignerFor(address string) (Signer, error) {
	signer, ok := m[address]
	if !ok {
		return nil, errors.Errorf("no signer for %s", address)
	}
	return signer, nil
}

func testOutputRef(b byte, index uint32) (chainhash.Hash, uint32) {
	var h chainhash.Hash
	h[0] = b
	return h, index
}

func spendSource(b byte, index uint32) Source {
	hash, idx := testOutputRef(b, index)
	l := ledger.LedgerStable
	return Source{SourceTransactionHash: &hash, SourceOutputIndex: &idx, SourceLedger: &l}
}

var fixedTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func buildSigned(t *testing.T, outputAmount int64) *Transaction {
	t.Helper()
	signer := testSigner{address: "addr-a", key: fixedKey(t)}
	builder := NewBuilder(TypeTransfer, fixedTime)
	require.NoError(t, builder.AddOutput(Output{Address: "addr-b", Amount: big.NewInt(outputAmount)}))
	require.NoError(t, builder.AddSource(spendSource(1, 0), "addr-a", big.NewInt(100), signer))
	tx, err := builder.Finalize()
	require.NoError(t, err)
	return tx
}

// fixedKey derives the same private key every call, so signing (RFC 6979
// deterministic ECDSA) and hashing are reproducible across builds.
func fixedKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	var raw [32]byte
	raw[31] = 7
	key, _ := btcec.PrivKeyFromBytes(raw[:])
	return key
}

func TestFinalizeDeterministicHash(t *testing.T) {
	first := buildSigned(t, 90)
	second := buildSigned(t, 90)
	require.Equal(t, first.TransactionHash, second.TransactionHash)

	changed := buildSigned(t, 91)
	require.NotEqual(t, first.TransactionHash, changed.TransactionHash)
}

func TestFinalizeHashCommitsToSignatures(t *testing.T) {
	tx := buildSigned(t, 90)
	rehash := Hash(tx)
	require.Equal(t, tx.TransactionHash, rehash)

	tx.Sources[0].Signers[0].Signature[4] ^= 0x01
	require.NotEqual(t, tx.TransactionHash, Hash(tx))
}

func TestSourceSignatureVerifies(t *testing.T) {
	tx := buildSigned(t, 90)
	src := tx.Sources[0]
	payload := SourceHash(tx.Version, tx.Type, tx.Outputs, Source{
		SourceTransactionHash: src.SourceTransactionHash,
		SourceOutputIndex:     src.SourceOutputIndex,
		SourceLedger:          src.SourceLedger,
	}, "addr-a", big.NewInt(100))

	require.True(t, VerifySignature(src.Signers[0].PublicKey, payload, src.Signers[0].Signature))

	// a signature over one output set must not verify against another
	tampered := append([]Output{}, tx.Outputs...)
	tampered[0].Amount = big.NewInt(9_000)
	otherPayload := SourceHash(tx.Version, tx.Type, tampered, Source{
		SourceTransactionHash: src.SourceTransactionHash,
		SourceOutputIndex:     src.SourceOutputIndex,
		SourceLedger:          src.SourceLedger,
	}, "addr-a", big.NewInt(100))
	require.False(t, VerifySignature(src.Signers[0].PublicKey, otherPayload, src.Signers[0].Signature))
}

func TestAddSourceRequiresSigner(t *testing.T) {
	builder := NewBuilder(TypeTransfer, fixedTime)
	err := builder.AddSource(spendSource(1, 0), "addr-a", big.NewInt(10), nil)
	require.ErrorIs(t, err, ErrInvalidSources)
}

func TestFinalizeWithoutSources(t *testing.T) {
	builder := NewBuilder(TypeTransfer, fixedTime)
	require.NoError(t, builder.AddOutput(Output{Address: "addr-b", Amount: big.NewInt(5)}))
	_, err := builder.Finalize()
	require.ErrorIs(t, err, ErrInvalidSources)
}

func TestFinalizeIsIrreversible(t *testing.T) {
	signer := newTestSigner(t, "addr-a")
	builder := NewBuilder(TypeTransfer, fixedTime)
	require.NoError(t, builder.AddOutput(Output{Address: "addr-b", Amount: big.NewInt(5)}))
	require.NoError(t, builder.AddSource(spendSource(1, 0), "addr-a", big.NewInt(5), signer))
	_, err := builder.Finalize()
	require.NoError(t, err)

	_, err = builder.Finalize()
	require.ErrorIs(t, err, ErrFinalized)
	require.ErrorIs(t, builder.AddOutput(Output{Address: "x", Amount: big.NewInt(1)}), ErrFinalized)
	require.ErrorIs(t, builder.AddSource(spendSource(1, 1), "addr-a", big.NewInt(1), signer), ErrFinalized)
}

func TestAddOutputDerivesSidechained(t *testing.T) {
	builder := NewBuilder(TypeTransfer, fixedTime)
	require.NoError(t, builder.AddOutput(Output{Address: "a", Amount: big.NewInt(1), SidechainAddress: "side-addr"}))
	require.NoError(t, builder.AddOutput(Output{Address: "b", Amount: big.NewInt(1), IsSidechained: true}))
	require.NoError(t, builder.AddOutput(Output{Address: "c", Amount: big.NewInt(1)}))

	require.True(t, builder.tx.Outputs[0].IsSidechained)
	require.True(t, builder.tx.Outputs[1].IsSidechained)
	require.False(t, builder.tx.Outputs[2].IsSidechained)
}

func TestClaimTypeUsesClaimKeys(t *testing.T) {
	require.Equal(t, KeySetClaim, keySetForType(TypeCoinageClaim))
	require.Equal(t, KeySetTransfer, keySetForType(TypeTransfer))
	require.Equal(t, KeySetTransfer, keySetForType(TypeBondPurchase))
}
