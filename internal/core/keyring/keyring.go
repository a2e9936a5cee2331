// Package keyring implements the wallet's signing capability: secp256k1
// key pairs derived from a BIP39 mnemonic, one transfer and one claim key
// per address.
package keyring

import (
	"crypto/sha512"
	"encoding/binary"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/darwayne/errutil"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"

	"github.com/meridianlabs/sidechain-client/internal/core/transaction"
)

// AddressVersion is the base58check version byte for sidechain addresses.
const AddressVersion = 63

const derivationSalt = "sidechain-client-key"

// Keyring holds the derived signing keys for a fixed number of wallet
// addresses. The first derived address doubles as the change address.
type Keyring struct {
	mu        sync.RWMutex
	addresses []string
	byAddress map[string]*addressKeys
}

type addressKeys struct {
	address     string
	transferKey *btcec.PrivateKey
	claimKey    *btcec.PrivateKey
}

var _ transaction.Signer = (*addressKeys)(nil)
var _ transaction.SignerSource = (*Keyring)(nil)

// NewMnemonic generates a fresh 24-word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// FromMnemonic derives count addresses (and their transfer/claim key
// pairs) from a BIP39 mnemonic and passphrase.
func FromMnemonic(mnemonic, passphrase string, count int) (*Keyring, error) {
	if count < 1 {
		return nil, errors.New("keyring requires at least one address")
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, errors.Wrap(err, "invalid mnemonic")
	}

	k := &Keyring{byAddress: make(map[string]*addressKeys, count)}
	for i := 0; i < count; i++ {
		keys := &addressKeys{
			transferKey: deriveKey(seed, "transfer", uint32(i)),
			claimKey:    deriveKey(seed, "claim", uint32(i)),
		}
		keys.address = AddressForPublicKey(keys.transferKey.PubKey().SerializeCompressed())
		k.addresses = append(k.addresses, keys.address)
		k.byAddress[keys.address] = keys
	}
	return k, nil
}

// deriveKey hashes the salted seed with the key-set label and index; the
// digest is interpreted mod N as a private key.
func deriveKey(seed []byte, label string, index uint32) *btcec.PrivateKey {
	hasher := sha512.New()
	hasher.Write([]byte(derivationSalt))
	hasher.Write(seed)
	hasher.Write([]byte(label))
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)
	hasher.Write(idx[:])

	key, _ := btcec.PrivKeyFromBytes(hasher.Sum(nil)[:32])
	return key
}

// AddressForPublicKey renders the sidechain address of a compressed
// public key: base58check over its hash160.
func AddressForPublicKey(publicKey []byte) string {
	return base58.CheckEncode(btcutil.Hash160(publicKey), AddressVersion)
}

// Addresses lists the derived addresses in derivation order.
func (k *Keyring) Addresses() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	addresses := make([]string, len(k.addresses))
	copy(addresses, k.addresses)
	return addresses
}

// ChangeAddress is the wallet's own address for change outputs.
func (k *Keyring) ChangeAddress() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.addresses[0]
}

// SignerFor returns the signing capability for an address.
func (k *Keyring) SignerFor(address string) (transaction.Signer, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	keys, ok := k.byAddress[address]
	if !ok {
		return nil, errutil.NewNotFound("no signing key for address " + address)
	}
	return keys, nil
}

// Identity returns the signer for the wallet's primary address, used to
// authenticate remote calls.
func (k *Keyring) Identity() transaction.Signer {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.byAddress[k.addresses[0]]
}

func (a *addressKeys) Address() string { return a.address }

func (a *addressKeys) Sign(hash chainhash.Hash, keySet transaction.KeySet) (transaction.SignatureBundle, error) {
	key := a.transferKey
	if keySet == transaction.KeySetClaim {
		key = a.claimKey
	}
	sig := ecdsa.Sign(key, hash[:])
	return transaction.SignatureBundle{
		Settings: transaction.SignatureSettings{RequiredSignatures: 1},
		Signers: []transaction.SourceSignature{{
			PublicKey: key.PubKey().SerializeCompressed(),
			Signature: sig.Serialize(),
		}},
	}, nil
}
