package ledger

import (
	"encoding/hex"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	bip39 "github.com/tyler-smith/go-bip39"
)

// ss58Network is the SS58 address format of the target chain.
const ss58Network = 29

// Keyring wraps an sr25519 keypair derived from a mnemonic. The mnemonic is
// retained in memory so freshly generated accounts can be encrypted at rest;
// it is never logged or serialized.
type Keyring struct {
	pair     signature.KeyringPair
	mnemonic string
}

// Generate creates a fresh 12-word mnemonic and its keypair.
func Generate() (Keyring, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return Keyring{}, fmt.Errorf("ledger: entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return Keyring{}, fmt.Errorf("ledger: mnemonic: %w", err)
	}
	return FromMnemonic(mnemonic)
}

// FromMnemonic derives the keypair for an existing mnemonic. The derivation
// is deterministic: the same mnemonic always yields the same address.
func FromMnemonic(mnemonic string) (Keyring, error) {
	pair, err := signature.KeyringPairFromSecret(mnemonic, ss58Network)
	if err != nil {
		return Keyring{}, fmt.Errorf("ledger: derive keypair: %w", err)
	}
	return Keyring{pair: pair, mnemonic: mnemonic}, nil
}

// Address returns the SS58 address.
func (k Keyring) Address() string { return k.pair.Address }

// PublicKeyHex returns the 0x-prefixed public key.
func (k Keyring) PublicKeyHex() string {
	return "0x" + hex.EncodeToString(k.pair.PublicKey)
}

// Mnemonic returns the recovery phrase. Callers must hand it to the
// custodian before persisting anything.
func (k Keyring) Mnemonic() string { return k.mnemonic }

// Zero reports whether the keyring is unset.
func (k Keyring) Zero() bool { return len(k.pair.PublicKey) == 0 }
