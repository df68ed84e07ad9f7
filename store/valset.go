package store

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/lightningnetwork/lnd/kvdb"

	"github.com/xencat/bridge-verifier/valset"
)

var (
	// key: version as uint64 BE
	// value: cbor encoded valset.Snapshot
	snapshotBucketName = []byte("valsets")

	// key: latestVersionKey or historyKey
	valsetMetaBucketName = []byte("valsetmeta")

	latestVersionKey = []byte("latest")
	historyKey       = []byte("history")
)

// ValidatorSetStore persists validator set snapshots and the update history
// for the valset registry.
type ValidatorSetStore struct {
	db kvdb.Backend
}

var _ valset.Store = (*ValidatorSetStore)(nil)

func NewValidatorSetStore(db kvdb.Backend) (*ValidatorSetStore, error) {
	s := &ValidatorSetStore{db}
	if err := s.initBuckets(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *ValidatorSetStore) initBuckets() error {
	return kvdb.Batch(s.db, func(tx kvdb.RwTx) error {
		if _, err := tx.CreateTopLevelBucket(snapshotBucketName); err != nil {
			return err
		}
		_, err := tx.CreateTopLevelBucket(valsetMetaBucketName)
		return err
	})
}

func (s *ValidatorSetStore) CommitSnapshot(snap *valset.Snapshot, history *valset.History) error {
	snapBytes, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode validator set %d: %w", snap.Version, err)
	}
	historyBytes, err := cbor.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to encode validator set history: %w", err)
	}

	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		snapshots := tx.ReadWriteBucket(snapshotBucketName)
		meta := tx.ReadWriteBucket(valsetMetaBucketName)
		if snapshots == nil || meta == nil {
			return ErrCorruptedBridgeDb
		}

		vk := versionKey(snap.Version)
		if snapshots.Get(vk) != nil {
			return fmt.Errorf("validator set %d already exists", snap.Version)
		}
		if err := snapshots.Put(vk, snapBytes); err != nil {
			return err
		}
		if err := meta.Put(latestVersionKey, vk); err != nil {
			return err
		}
		return meta.Put(historyKey, historyBytes)
	}, func() {})
}

func (s *ValidatorSetStore) GetSnapshot(version uint64) (*valset.Snapshot, error) {
	var snap *valset.Snapshot
	err := s.db.View(func(tx kvdb.RTx) error {
		snapshots := tx.ReadBucket(snapshotBucketName)
		if snapshots == nil {
			return ErrCorruptedBridgeDb
		}

		var err error
		snap, err = decodeSnapshot(snapshots.Get(versionKey(version)))
		return err
	}, func() {})

	if err != nil {
		return nil, err
	}

	return snap, nil
}

func (s *ValidatorSetStore) LatestSnapshot() (*valset.Snapshot, error) {
	var snap *valset.Snapshot
	err := s.db.View(func(tx kvdb.RTx) error {
		snapshots := tx.ReadBucket(snapshotBucketName)
		meta := tx.ReadBucket(valsetMetaBucketName)
		if snapshots == nil || meta == nil {
			return ErrCorruptedBridgeDb
		}

		vk := meta.Get(latestVersionKey)
		if vk == nil {
			return valset.ErrSnapshotNotFound
		}
		if len(vk) != 8 {
			return ErrCorruptedBridgeDb
		}

		var err error
		snap, err = decodeSnapshot(snapshots.Get(vk))
		if err == nil && snap.Version != binary.BigEndian.Uint64(vk) {
			return ErrCorruptedBridgeDb
		}
		return err
	}, func() {})

	if err != nil {
		return nil, err
	}

	return snap, nil
}

func (s *ValidatorSetStore) GetHistory() (*valset.History, error) {
	var h *valset.History
	err := s.db.View(func(tx kvdb.RTx) error {
		meta := tx.ReadBucket(valsetMetaBucketName)
		if meta == nil {
			return ErrCorruptedBridgeDb
		}

		v := meta.Get(historyKey)
		if v == nil {
			return valset.ErrSnapshotNotFound
		}

		h = new(valset.History)
		if err := cbor.Unmarshal(v, h); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptedBridgeDb, err)
		}
		return nil
	}, func() {})

	if err != nil {
		return nil, err
	}

	return h, nil
}

func decodeSnapshot(v []byte) (*valset.Snapshot, error) {
	if v == nil {
		return nil, valset.ErrSnapshotNotFound
	}

	snap := new(valset.Snapshot)
	if err := cbor.Unmarshal(v, snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedBridgeDb, err)
	}

	return snap, nil
}
