package keyring

import (
	"crypto/hmac"
	"crypto/sha512"
	"fmt"

	"github.com/cosmos/go-bip39"
)

const (
	mnemonicEntropySize = 256
	seedSize            = 32
)

var masterKeyTag = []byte("ed25519 seed")

// NewMnemonic returns a fresh 24 word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropySize)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// SeedFromMnemonic derives the Ed25519 seed of a validator key. The result
// is deterministic for a given mnemonic and password.
func SeedFromMnemonic(mnemonic, password string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	bip39Seed, err := bip39.NewSeedWithErrorChecking(mnemonic, password)
	if err != nil {
		return nil, err
	}

	hasher := hmac.New(sha512.New, masterKeyTag)
	hasher.Write(bip39Seed)
	return hasher.Sum(nil)[:seedSize], nil
}
