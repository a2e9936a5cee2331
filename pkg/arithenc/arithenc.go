package arithenc

import (
	"math/big"

	"github.com/pkg/errors"
)

// multiplierScale is the fixed-point scale applied to the mantissa.
const multiplierScale = 1_000_000

var scale = big.NewInt(multiplierScale)

// Encoding is a compact power-of-two representation of a large integer:
// value ≈ 2^PowerOf2 * Multiplier / 1e6. The codec is lossy with a bounded
// error: Decode(Encode(v)) is never below v and overshoots by less than
// 1000 units for settings-sized values.
type Encoding struct {
	PowerOf2   uint16 `json:"powerOf2"`
	Multiplier uint32 `json:"multiplier"`
}

// Encode compresses a non-negative integer into an Encoding.
func Encode(value *big.Int) (Encoding, error) {
	if value == nil || value.Sign() < 0 {
		return Encoding{}, errors.New("arithenc: value must be a non-negative integer")
	}
	if value.Sign() == 0 {
		return Encoding{}, nil
	}

	powerOf2 := uint(value.BitLen())

	// multiplier = ceil(1e6 * value / 2^powerOf2), so the decoded value
	// can only round up, never below the input.
	numerator := new(big.Int).Mul(value, scale)
	quo, rem := new(big.Int).QuoRem(numerator, pow2(powerOf2), new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}

	// A full-scale mantissa decodes to 2^powerOf2 exactly, which has a
	// longer bit length than the input. Carry into the exponent so that
	// re-encoding the decoded value reproduces the same encoding.
	if quo.Int64() == multiplierScale {
		powerOf2++
		quo.SetInt64(multiplierScale / 2)
	}

	return Encoding{
		PowerOf2:   uint16(powerOf2),
		Multiplier: uint32(quo.Uint64()),
	}, nil
}

// Decode expands an Encoding back into an integer using floor division.
func Decode(e Encoding) *big.Int {
	value := new(big.Int).SetUint64(uint64(e.Multiplier))
	value.Lsh(value, uint(e.PowerOf2))
	return value.Quo(value, scale)
}

func pow2(exp uint) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), exp)
}
