package store

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/fxamacker/cbor/v2"
	"github.com/lightningnetwork/lnd/kvdb"

	"github.com/xencat/bridge-verifier/types"
)

var (
	// key: RedemptionKey or LegacyRedemptionKey
	// value: cbor encoded RedemptionMarker
	redemptionBucketName = []byte("redemptions")
)

// RedemptionMarker records that a burn was verified. Its existence is what
// prevents a second verification of the same (asset, user, nonce).
type RedemptionMarker struct {
	AssetID             types.AssetID   `cbor:"1,keyasint"`
	User                types.PublicKey `cbor:"2,keyasint"`
	BurnNonce           uint64          `cbor:"3,keyasint"`
	Amount              uint64          `cbor:"4,keyasint"`
	ValidatorSetVersion uint64          `cbor:"5,keyasint"`
	VerifiedAt          int64           `cbor:"6,keyasint"`
	Legacy              bool            `cbor:"7,keyasint"`
}

func (m *RedemptionMarker) key() []byte {
	if m.Legacy {
		return LegacyRedemptionKey(m.User, m.BurnNonce)
	}
	return RedemptionKey(m.AssetID, m.User, m.BurnNonce)
}

type RedemptionStore struct {
	db kvdb.Backend
}

func NewRedemptionStore(db kvdb.Backend) (*RedemptionStore, error) {
	s := &RedemptionStore{db}
	if err := s.initBuckets(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *RedemptionStore) initBuckets() error {
	return kvdb.Batch(s.db, func(tx kvdb.RwTx) error {
		_, err := tx.CreateTopLevelBucket(redemptionBucketName)
		return err
	})
}

// CreateMarker stores the marker if no marker exists under its key and
// returns types.ErrAlreadyRedeemed otherwise. Check and insert happen in the
// same write transaction, so of two concurrent calls exactly one succeeds.
func (s *RedemptionStore) CreateMarker(m *RedemptionMarker) error {
	k := m.key()
	v, err := cbor.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode redemption marker: %w", err)
	}

	return kvdb.Batch(s.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(redemptionBucketName)
		if bucket == nil {
			return ErrCorruptedBridgeDb
		}

		if bucket.Get(k) != nil {
			return fmt.Errorf("%w: asset %d, user %s, nonce %d",
				types.ErrAlreadyRedeemed, m.AssetID, m.User, m.BurnNonce)
		}

		return bucket.Put(k, v)
	})
}

func (s *RedemptionStore) GetMarker(asset types.AssetID, user types.PublicKey, nonce uint64) (*RedemptionMarker, error) {
	return s.getMarker(RedemptionKey(asset, user, nonce))
}

func (s *RedemptionStore) GetLegacyMarker(user types.PublicKey, nonce uint64) (*RedemptionMarker, error) {
	return s.getMarker(LegacyRedemptionKey(user, nonce))
}

func (s *RedemptionStore) getMarker(k []byte) (*RedemptionMarker, error) {
	var m *RedemptionMarker
	err := s.db.View(func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(redemptionBucketName)
		if bucket == nil {
			return ErrCorruptedBridgeDb
		}

		var err error
		m, err = readMarker(bucket, k)
		return err
	}, func() {})

	if err != nil {
		return nil, err
	}

	return m, nil
}

func readMarker(bucket walletdb.ReadBucket, k []byte) (*RedemptionMarker, error) {
	v := bucket.Get(k)
	if v == nil {
		return nil, ErrMarkerNotFound
	}

	m := new(RedemptionMarker)
	if err := cbor.Unmarshal(v, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedBridgeDb, err)
	}

	return m, nil
}

// IsRedeemed reports whether a marker exists for the asset-aware claim.
func (s *RedemptionStore) IsRedeemed(asset types.AssetID, user types.PublicKey, nonce uint64) (bool, error) {
	_, err := s.GetMarker(asset, user, nonce)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrMarkerNotFound):
		return false, nil
	default:
		return false, err
	}
}
