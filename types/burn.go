package types

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// BurnRecordSize is the size of a serialized burn record on the source ledger.
const BurnRecordSize = PublicKeySize + 8 + 8 + 8 + 1 + HashSize + 1

// BurnRecord is the immutable record a burn leaves on the source ledger.
type BurnRecord struct {
	User       PublicKey `json:"user"`
	Amount     uint64    `json:"amount"`
	Nonce      uint64    `json:"nonce"`
	Timestamp  uint64    `json:"timestamp"`
	AssetID    AssetID   `json:"asset_id"`
	RecordHash Hash      `json:"record_hash"`
	Bump       uint8     `json:"bump"`
}

func NewBurnRecord(asset AssetID, user PublicKey, amount, nonce, timestamp uint64) *BurnRecord {
	r := &BurnRecord{
		User:      user,
		Amount:    amount,
		Nonce:     nonce,
		Timestamp: timestamp,
		AssetID:   asset,
	}
	r.RecordHash = r.ComputeHash()
	return r
}

// ComputeHash returns keccak256(user || amount || nonce || asset).
func (r *BurnRecord) ComputeHash() Hash {
	buf := make([]byte, 0, PublicKeySize+8+8+1)
	buf = append(buf, r.User[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, r.Amount)
	buf = binary.LittleEndian.AppendUint64(buf, r.Nonce)
	buf = append(buf, byte(r.AssetID))

	var h Hash
	copy(h[:], crypto.Keccak256(buf))
	return h
}

func (r *BurnRecord) Marshal() []byte {
	buf := make([]byte, 0, BurnRecordSize)
	buf = append(buf, r.User[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, r.Amount)
	buf = binary.LittleEndian.AppendUint64(buf, r.Nonce)
	buf = binary.LittleEndian.AppendUint64(buf, r.Timestamp)
	buf = append(buf, byte(r.AssetID))
	buf = append(buf, r.RecordHash[:]...)
	buf = append(buf, r.Bump)
	return buf
}

func (r *BurnRecord) Unmarshal(data []byte) error {
	if len(data) != BurnRecordSize {
		return fmt.Errorf("invalid burn record length %d, expected %d", len(data), BurnRecordSize)
	}

	off := 0
	copy(r.User[:], data[off:off+PublicKeySize])
	off += PublicKeySize
	r.Amount = binary.LittleEndian.Uint64(data[off:])
	off += 8
	r.Nonce = binary.LittleEndian.Uint64(data[off:])
	off += 8
	r.Timestamp = binary.LittleEndian.Uint64(data[off:])
	off += 8
	r.AssetID = AssetID(data[off])
	off++
	copy(r.RecordHash[:], data[off:off+HashSize])
	off += HashSize
	r.Bump = data[off]

	return nil
}

func ParseBurnRecord(data []byte) (*BurnRecord, error) {
	r := new(BurnRecord)
	if err := r.Unmarshal(data); err != nil {
		return nil, err
	}
	return r, nil
}
