package types

import (
	"github.com/cometbft/cometbft/crypto/ed25519"
)

// VerifySignature checks an Ed25519 signature of msg by pk.
func VerifySignature(pk PublicKey, msg []byte, sig Signature) bool {
	return ed25519.PubKey(pk[:]).VerifySignature(msg, sig[:])
}

// Signer produces Ed25519 signatures for a single identity.
type Signer interface {
	PublicKey() PublicKey
	Sign(msg []byte) (Signature, error)
}
