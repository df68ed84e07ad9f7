package clientcontroller

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/xencat/bridge-verifier/merkle"
	"github.com/xencat/bridge-verifier/types"
)

// MemLedger is an in-memory source ledger. Burns land in the open slot; a
// slot is committed when the ledger advances past it, and its state root
// covers every burn made up to and including that slot.
type MemLedger struct {
	mu sync.RWMutex

	start     uint64
	slot      uint64
	nextNonce uint64
	burns     map[uint64]*BurnEntry
	leaves    []types.Hash
	// number of leaves under the state root of each committed slot
	leavesAt    map[uint64]int
	commitments map[uint64]*types.BlockCommitment

	clock func() time.Time
}

var _ SourceLedger = (*MemLedger)(nil)

func NewMemLedger(startSlot uint64) *MemLedger {
	return &MemLedger{
		start:       startSlot,
		slot:        startSlot,
		burns:       make(map[uint64]*BurnEntry),
		leavesAt:    make(map[uint64]int),
		commitments: make(map[uint64]*types.BlockCommitment),
		clock:       time.Now,
	}
}

// Burn records a burn in the open slot and returns it.
func (l *MemLedger) Burn(asset types.AssetID, user types.PublicKey, amount uint64) (*types.BurnRecord, error) {
	if !asset.Known() {
		return nil, fmt.Errorf("%w: %d", types.ErrUnknownAsset, asset)
	}
	if amount == 0 {
		return nil, fmt.Errorf("burn amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec := types.NewBurnRecord(asset, user, amount, l.nextNonce, uint64(l.clock().Unix()))
	raw := rec.Marshal()
	l.burns[rec.Nonce] = &BurnEntry{Raw: raw, Slot: l.slot}
	l.leaves = append(l.leaves, merkle.LeafHash(raw))
	l.nextNonce++

	return rec, nil
}

// AdvanceSlots commits the open slot and the n-1 empty slots after it.
func (l *MemLedger) AdvanceSlots(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := uint64(0); i < n; i++ {
		l.leavesAt[l.slot] = len(l.leaves)
		l.slot++
	}
}

func (l *MemLedger) FinalizedSlot(_ context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.slot == l.start {
		return 0, fmt.Errorf("no slot is finalized yet")
	}
	return l.slot - 1, nil
}

func (l *MemLedger) GetBurn(_ context.Context, nonce uint64) (*BurnEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b, ok := l.burns[nonce]
	if !ok {
		return nil, fmt.Errorf("%w: nonce %d", types.ErrBurnNotFound, nonce)
	}
	return &BurnEntry{Raw: append([]byte(nil), b.Raw...), Slot: b.Slot}, nil
}

func (l *MemLedger) GetCommitment(_ context.Context, slot uint64) (*types.BlockCommitment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.commitments[slot]; ok {
		return c, nil
	}

	n, ok := l.leavesAt[slot]
	if !ok {
		return nil, fmt.Errorf("%w: slot %d", types.ErrCommitmentUnavailable, slot)
	}

	root := merkle.NewFromHashes(l.leaves[:n]).Root()
	c := &types.BlockCommitment{
		Slot:      slot,
		BlockHash: blockHash(slot, root),
		StateRoot: root,
	}
	l.commitments[slot] = c
	return c, nil
}

func (l *MemLedger) GetStateLeaves(_ context.Context, slot uint64) ([]types.Hash, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n, ok := l.leavesAt[slot]
	if !ok {
		return nil, fmt.Errorf("%w: slot %d", types.ErrCommitmentUnavailable, slot)
	}
	return append([]types.Hash(nil), l.leaves[:n]...), nil
}

func (l *MemLedger) Close() error {
	return nil
}

func blockHash(slot uint64, root types.Hash) types.Hash {
	var h types.Hash
	copy(h[:], crypto.Keccak256(binary.LittleEndian.AppendUint64(nil, slot), root[:]))
	return h
}
