package arithenc

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeBoundedLoss(t *testing.T) {
	values := []int64{0, 1, 2, 3, 7, 100, 1_000, 10_001, 999_999, 1_048_575, 1_048_576, 5_000_000, 123_456_789}
	for _, v := range values {
		value := big.NewInt(v)
		enc, err := Encode(value)
		require.NoError(t, err)

		decoded := Decode(enc)
		diff := new(big.Int).Sub(decoded, value)
		require.True(t, diff.Sign() >= 0, "decoded %s below input %d", decoded, v)
		require.True(t, diff.Cmp(big.NewInt(1000)) < 0, "loss %s too large for input %d", diff, v)
	}
}

func TestEncodeDecodeBoundedLossRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10_000; i++ {
		value := big.NewInt(rng.Int63n(500_000_000))
		enc, err := Encode(value)
		require.NoError(t, err)

		decoded := Decode(enc)
		diff := new(big.Int).Sub(decoded, value)
		require.True(t, diff.Sign() >= 0)
		require.True(t, diff.Cmp(big.NewInt(1000)) < 0, "loss %s too large for input %s", diff, value)
	}
}

func TestReEncodeIsStable(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10_000; i++ {
		enc, err := Encode(big.NewInt(rng.Int63()))
		require.NoError(t, err)

		again, err := Encode(Decode(enc))
		require.NoError(t, err)
		require.Equal(t, enc.PowerOf2, again.PowerOf2)
		require.Equal(t, enc.Multiplier, again.Multiplier)
	}
}

func TestEncodeExactPowersOfTwo(t *testing.T) {
	for exp := uint(0); exp < 40; exp++ {
		value := new(big.Int).Lsh(big.NewInt(1), exp)
		enc, err := Encode(value)
		require.NoError(t, err)
		require.Equal(t, uint16(exp+1), enc.PowerOf2)
		require.Equal(t, uint32(500_000), enc.Multiplier)
		require.Equal(t, value.String(), Decode(enc).String())
	}
}

func TestEncodeRejectsNegative(t *testing.T) {
	_, err := Encode(big.NewInt(-1))
	require.Error(t, err)

	_, err = Encode(nil)
	require.Error(t, err)
}

func TestEncodeZero(t *testing.T) {
	enc, err := Encode(big.NewInt(0))
	require.NoError(t, err)
	require.Zero(t, enc.PowerOf2)
	require.Zero(t, enc.Multiplier)
	require.Zero(t, Decode(enc).Sign())
}
