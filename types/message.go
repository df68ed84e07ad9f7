package types

import (
	"encoding/binary"

	"github.com/minio/sha256-simd"
)

// DomainSeparator prefixes every attestation message.
const DomainSeparator = "XENCAT_X1_BRIDGE_V1"

// AttestationMessage is the digest a validator signs for an asset-aware
// attestation:
// sha256(domain || asset || version || nonce || amount || user)
func AttestationMessage(asset AssetID, nonce uint64, user PublicKey, amount, version uint64) []byte {
	buf := make([]byte, 0, len(DomainSeparator)+1+8*3+PublicKeySize)
	buf = append(buf, DomainSeparator...)
	buf = append(buf, byte(asset))
	buf = binary.LittleEndian.AppendUint64(buf, version)
	buf = binary.LittleEndian.AppendUint64(buf, nonce)
	buf = binary.LittleEndian.AppendUint64(buf, amount)
	buf = append(buf, user[:]...)

	sum := sha256.Sum256(buf)
	return sum[:]
}

// LegacyAttestationMessage is the message of the asset-unaware scheme:
// sha256(domain || version || nonce || amount || user)
func LegacyAttestationMessage(nonce uint64, user PublicKey, amount, version uint64) []byte {
	buf := make([]byte, 0, len(DomainSeparator)+8*3+PublicKeySize)
	buf = append(buf, DomainSeparator...)
	buf = binary.LittleEndian.AppendUint64(buf, version)
	buf = binary.LittleEndian.AppendUint64(buf, nonce)
	buf = binary.LittleEndian.AppendUint64(buf, amount)
	buf = append(buf, user[:]...)

	sum := sha256.Sum256(buf)
	return sum[:]
}
