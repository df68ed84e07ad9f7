package store

import (
	"encoding/binary"

	"github.com/minio/sha256-simd"

	"github.com/xencat/bridge-verifier/types"
)

// Domain tags of the derived record keys. Each scheme hashes its own tag, so
// keys of different schemes never share a preimage.
const (
	redemptionTag       = "verified_burn_v3"
	legacyRedemptionTag = "verified_burn_v2"
	processedBurnTag    = "processed_burn_v3"
)

func deriveKey(tag string, parts ...[]byte) []byte {
	h := sha256.New()
	h.Write([]byte(tag))
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func uint64Bytes(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

// RedemptionKey locates the RedemptionMarker of an asset-aware claim.
func RedemptionKey(asset types.AssetID, user types.PublicKey, nonce uint64) []byte {
	return deriveKey(redemptionTag, []byte{byte(asset)}, user[:], uint64Bytes(nonce))
}

// LegacyRedemptionKey locates the RedemptionMarker of a legacy claim.
func LegacyRedemptionKey(user types.PublicKey, nonce uint64) []byte {
	return deriveKey(legacyRedemptionTag, user[:], uint64Bytes(nonce))
}

// ProcessedBurnKey locates the mint-side ProcessedBurn record.
func ProcessedBurnKey(asset types.AssetID, nonce uint64, user types.PublicKey) []byte {
	return deriveKey(processedBurnTag, []byte{byte(asset)}, uint64Bytes(nonce), user[:])
}

func balanceKey(asset types.AssetID, user types.PublicKey) []byte {
	k := make([]byte, 0, 1+types.PublicKeySize)
	k = append(k, byte(asset))
	return append(k, user[:]...)
}

func versionKey(version uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, version)
}
