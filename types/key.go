package types

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mr-tron/base58"
)

const (
	PublicKeySize = 32
	SignatureSize = 64
	HashSize      = 32
)

// PublicKey is an Ed25519 public key, which is also a ledger account address.
type PublicKey [PublicKeySize]byte

func NewPublicKey(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("invalid public key length %d", len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

func NewPublicKeyFromBase58(s string) (PublicKey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("invalid base58 public key %q: %w", s, err)
	}
	return NewPublicKey(b)
}

func (pk PublicKey) Bytes() []byte {
	return pk[:]
}

func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

func (pk PublicKey) Compare(other PublicKey) int {
	return bytes.Compare(pk[:], other[:])
}

func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

func (pk *PublicKey) UnmarshalText(text []byte) error {
	v, err := NewPublicKeyFromBase58(string(text))
	if err != nil {
		return err
	}
	*pk = v
	return nil
}

type Signature [SignatureSize]byte

func NewSignature(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != SignatureSize {
		return sig, fmt.Errorf("invalid signature length %d", len(b))
	}
	copy(sig[:], b)
	return sig, nil
}

func (s Signature) Bytes() []byte {
	return s[:]
}

func (s Signature) IsZero() bool {
	return s == Signature{}
}

func (s Signature) String() string {
	return base58.Encode(s[:])
}

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signature) UnmarshalText(text []byte) error {
	b, err := base58.Decode(string(text))
	if err != nil {
		return fmt.Errorf("invalid base58 signature: %w", err)
	}
	v, err := NewSignature(b)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Hash is a 32 byte digest (block hash, state root, merkle node).
type Hash [HashSize]byte

func NewHash(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hexutil.Encode(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	b, err := hexutil.Decode(string(text))
	if err != nil {
		return fmt.Errorf("invalid hex hash: %w", err)
	}
	v, err := NewHash(b)
	if err != nil {
		return err
	}
	*h = v
	return nil
}
