package verifier

import (
	"context"

	"github.com/xencat/bridge-verifier/types"
)

//go:generate mockgen -source=slot_provider.go -package mocks -destination ../testutil/mocks/slot_provider.go

// SlotProvider is the engine's view of the finalized source ledger.
type SlotProvider interface {
	CurrentSlot(ctx context.Context) (uint64, error)
	Commitment(ctx context.Context, slot uint64) (*types.BlockCommitment, error)
}
