package store

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/fxamacker/cbor/v2"
	"github.com/lightningnetwork/lnd/kvdb"

	"github.com/xencat/bridge-verifier/types"
)

var (
	// key: ProcessedBurnKey
	// value: cbor encoded ProcessedBurn
	processedBucketName = []byte("processed")

	// key: asset || user
	// value: balance as uint64 LE
	balanceBucketName = []byte("balances")

	// key: asset
	// value: cbor encoded MintStats
	mintStatsBucketName = []byte("mintstats")
)

// ProcessedBurn is the mint-side record of a redeemed burn.
type ProcessedBurn struct {
	AssetID     types.AssetID   `cbor:"1,keyasint"`
	User        types.PublicKey `cbor:"2,keyasint"`
	BurnNonce   uint64          `cbor:"3,keyasint"`
	Amount      uint64          `cbor:"4,keyasint"`
	ProcessedAt int64           `cbor:"5,keyasint"`
}

type MintStats struct {
	Mints       uint64 `cbor:"1,keyasint"`
	TotalMinted uint64 `cbor:"2,keyasint"`
	LastNonce   uint64 `cbor:"3,keyasint"`
}

type MintStore struct {
	db kvdb.Backend
}

func NewMintStore(db kvdb.Backend) (*MintStore, error) {
	s := &MintStore{db}
	if err := s.initBuckets(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *MintStore) initBuckets() error {
	return kvdb.Batch(s.db, func(tx kvdb.RwTx) error {
		for _, name := range [][]byte{processedBucketName, balanceBucketName, mintStatsBucketName} {
			if _, err := tx.CreateTopLevelBucket(name); err != nil {
				return err
			}
		}

		return nil
	})
}

// RecordMint writes the processed record, credits the user and updates the
// asset stats in a single transaction. A burn that was already processed
// fails with types.ErrAlreadyProcessed and changes nothing.
func (s *MintStore) RecordMint(p *ProcessedBurn) error {
	k := ProcessedBurnKey(p.AssetID, p.BurnNonce, p.User)
	v, err := cbor.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode processed burn: %w", err)
	}

	return kvdb.Batch(s.db, func(tx kvdb.RwTx) error {
		processed := tx.ReadWriteBucket(processedBucketName)
		balances := tx.ReadWriteBucket(balanceBucketName)
		stats := tx.ReadWriteBucket(mintStatsBucketName)
		if processed == nil || balances == nil || stats == nil {
			return ErrCorruptedBridgeDb
		}

		if processed.Get(k) != nil {
			return fmt.Errorf("%w: asset %d, user %s, nonce %d",
				types.ErrAlreadyProcessed, p.AssetID, p.User, p.BurnNonce)
		}

		bk := balanceKey(p.AssetID, p.User)
		balance, carry := bits.Add64(readBalance(balances, bk), p.Amount, 0)
		if carry != 0 {
			return fmt.Errorf("%w: user %s", ErrBalanceOverflow, p.User)
		}

		st, err := readStats(stats, p.AssetID)
		if err != nil {
			return err
		}
		st.TotalMinted, carry = bits.Add64(st.TotalMinted, p.Amount, 0)
		if carry != 0 {
			return fmt.Errorf("%w: asset %d supply", ErrBalanceOverflow, p.AssetID)
		}
		st.Mints++
		st.LastNonce = p.BurnNonce

		stBytes, err := cbor.Marshal(st)
		if err != nil {
			return err
		}

		if err := processed.Put(k, v); err != nil {
			return err
		}
		if err := balances.Put(bk, binary.LittleEndian.AppendUint64(nil, balance)); err != nil {
			return err
		}
		return stats.Put([]byte{byte(p.AssetID)}, stBytes)
	})
}

func (s *MintStore) GetProcessed(asset types.AssetID, nonce uint64, user types.PublicKey) (*ProcessedBurn, error) {
	var p *ProcessedBurn
	err := s.db.View(func(tx kvdb.RTx) error {
		processed := tx.ReadBucket(processedBucketName)
		if processed == nil {
			return ErrCorruptedBridgeDb
		}

		v := processed.Get(ProcessedBurnKey(asset, nonce, user))
		if v == nil {
			return ErrProcessedBurnNotFound
		}

		p = new(ProcessedBurn)
		if err := cbor.Unmarshal(v, p); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptedBridgeDb, err)
		}
		return nil
	}, func() {})

	if err != nil {
		return nil, err
	}

	return p, nil
}

func (s *MintStore) Balance(asset types.AssetID, user types.PublicKey) (uint64, error) {
	var balance uint64
	err := s.db.View(func(tx kvdb.RTx) error {
		balances := tx.ReadBucket(balanceBucketName)
		if balances == nil {
			return ErrCorruptedBridgeDb
		}

		balance = readBalance(balances, balanceKey(asset, user))
		return nil
	}, func() {
		balance = 0
	})

	return balance, err
}

func (s *MintStore) Stats(asset types.AssetID) (*MintStats, error) {
	var st *MintStats
	err := s.db.View(func(tx kvdb.RTx) error {
		stats := tx.ReadBucket(mintStatsBucketName)
		if stats == nil {
			return ErrCorruptedBridgeDb
		}

		var err error
		st, err = readStats(stats, asset)
		return err
	}, func() {})

	if err != nil {
		return nil, err
	}

	return st, nil
}

func readBalance(bucket walletdb.ReadBucket, k []byte) uint64 {
	v := bucket.Get(k)
	if len(v) != 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(v)
}

func readStats(bucket walletdb.ReadBucket, asset types.AssetID) (*MintStats, error) {
	st := new(MintStats)
	v := bucket.Get([]byte{byte(asset)})
	if v == nil {
		return st, nil
	}
	if err := cbor.Unmarshal(v, st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedBridgeDb, err)
	}
	return st, nil
}
