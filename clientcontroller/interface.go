package clientcontroller

import (
	"context"

	"github.com/xencat/bridge-verifier/types"
)

// BurnEntry is a raw burn record together with the slot of the block that
// created it.
type BurnEntry struct {
	Raw  []byte
	Slot uint64
}

//go:generate mockgen -source=interface.go -package mocks -destination ../testutil/mocks/source_ledger.go

// SourceLedger is read access to the ledger burns happen on.
type SourceLedger interface {
	// FinalizedSlot returns the latest finalized slot.
	FinalizedSlot(ctx context.Context) (uint64, error)

	// GetBurn returns types.ErrBurnNotFound if no burn has the nonce.
	GetBurn(ctx context.Context, nonce uint64) (*BurnEntry, error)

	// GetCommitment returns types.ErrCommitmentUnavailable if the block at
	// slot is not committed yet.
	GetCommitment(ctx context.Context, slot uint64) (*types.BlockCommitment, error)

	// GetStateLeaves returns the leaf hashes under the state root of slot,
	// in tree order.
	GetStateLeaves(ctx context.Context, slot uint64) ([]types.Hash, error)

	Close() error
}
