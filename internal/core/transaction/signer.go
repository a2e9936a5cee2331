package transaction

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// KeySet selects which of an address's signing keys authorize an
// operation. Coinage claims are signed with the claim keys, everything
// else with the transfer keys.
type KeySet uint8

const (
	KeySetTransfer KeySet = iota
	KeySetClaim
)

// Signer is the capability the builder needs to authorize spending one
// address's outputs. Key management lives behind this interface.
type Signer interface {
	Address() string
	Sign(hash chainhash.Hash, keySet KeySet) (SignatureBundle, error)
}

// SignerSource resolves the signer capability for an address. It returns
// a SourceNotFoundError when the wallet holds no keys for the address.
type SignerSource interface {
	SignerFor(address string) (Signer, error)
}

func keySetForType(t Type) KeySet {
	if t == TypeCoinageClaim {
		return KeySetClaim
	}
	return KeySetTransfer
}
