package assembler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xencat/bridge-verifier/clientcontroller"
	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/merkle"
	"github.com/xencat/bridge-verifier/types"
)

var (
	ErrLeafNotCommitted  = errors.New("burn record is not under the committed state root")
	ErrStateRootMismatch = errors.New("state leaves do not hash to the committed state root")
)

// Inclusion is everything the source ledger tells about a burn: the record,
// the block that committed it and the path from its leaf to the state root.
type Inclusion struct {
	Record     *types.BurnRecord
	Raw        []byte
	Commitment *types.BlockCommitment
	Path       []types.Hash
}

// Assembler turns a burn nonce into a BurnProof.
type Assembler struct {
	cfg      *config.SourceConfig
	ledger   clientcontroller.SourceLedger
	maxDepth int

	group  singleflight.Group
	logger *zap.Logger
}

func New(cfg *config.SourceConfig, ledger clientcontroller.SourceLedger, maxDepth int, logger *zap.Logger) *Assembler {
	if maxDepth <= 0 {
		maxDepth = merkle.MaxDepth
	}
	return &Assembler{
		cfg:      cfg,
		ledger:   ledger,
		maxDepth: maxDepth,
		logger:   logger,
	}
}

// Assemble builds the proof of the burn with the given nonce, bound to the
// validator set version and carrying the votes.
func (a *Assembler) Assemble(ctx context.Context, nonce, version uint64, votes []types.ValidatorVote) (*types.BurnProof, error) {
	inc, err := a.Inclusion(ctx, nonce)
	if err != nil {
		return nil, err
	}

	rec := inc.Record
	return &types.BurnProof{
		BurnNonce:           rec.Nonce,
		User:                rec.User,
		Amount:              rec.Amount,
		AssetID:             rec.AssetID,
		ValidatorSetVersion: version,
		BurnRecordRaw:       append([]byte(nil), inc.Raw...),
		Slot:                inc.Commitment.Slot,
		BlockHash:           inc.Commitment.BlockHash,
		StateRoot:           inc.Commitment.StateRoot,
		MerkleProof:         append([]types.Hash(nil), inc.Path...),
		ValidatorVotes:      append([]types.ValidatorVote(nil), votes...),
	}, nil
}

// Inclusion fetches the burn and proves it against the commitment of its
// slot. Concurrent calls for the same nonce share one ledger round trip. The
// shared call outlives the cancellation of any single caller and is bounded
// by the source timeouts instead.
func (a *Assembler) Inclusion(ctx context.Context, nonce uint64) (*Inclusion, error) {
	ch := a.group.DoChan(strconv.FormatUint(nonce, 10), func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.flightTimeout())
		defer cancel()
		return a.inclusion(fctx, nonce)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			a.logger.Debug("shared inclusion proof", zap.Uint64("nonce", nonce))
		}
		return res.Val.(*Inclusion), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flightTimeout covers the burn and leaves requests plus every commitment
// attempt with its delay.
func (a *Assembler) flightTimeout() time.Duration {
	attempts := time.Duration(a.cfg.CommitmentAttempts)
	return a.cfg.Timeout*(attempts+2) + a.cfg.CommitmentDelay*attempts*attempts
}

func (a *Assembler) inclusion(ctx context.Context, nonce uint64) (*Inclusion, error) {
	entry, err := a.ledger.GetBurn(ctx, nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to get the burn with nonce %d: %w", nonce, err)
	}

	rec, err := types.ParseBurnRecord(entry.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBurnRecordMismatch, err)
	}
	if rec.Nonce != nonce {
		return nil, fmt.Errorf("%w: ledger returned nonce %d for %d", types.ErrBurnRecordMismatch, rec.Nonce, nonce)
	}

	commitment, err := a.commitment(ctx, entry.Slot)
	if err != nil {
		return nil, err
	}

	leaves, err := a.ledger.GetStateLeaves(ctx, entry.Slot)
	if err != nil {
		return nil, types.Expected(fmt.Errorf("failed to get the state leaves of slot %d: %w", entry.Slot, err))
	}

	tree := merkle.NewFromHashes(leaves)
	if tree.Root() != commitment.StateRoot {
		return nil, fmt.Errorf("%w at slot %d", ErrStateRootMismatch, entry.Slot)
	}

	idx, ok := tree.IndexOf(merkle.LeafHash(entry.Raw))
	if !ok {
		return nil, fmt.Errorf("%w: nonce %d, slot %d", ErrLeafNotCommitted, nonce, entry.Slot)
	}

	path, err := tree.Proof(idx)
	if err != nil {
		return nil, err
	}
	if len(path) > a.maxDepth {
		return nil, fmt.Errorf("%w: %d > %d", merkle.ErrPathTooLong, len(path), a.maxDepth)
	}

	a.logger.Debug(
		"assembled inclusion proof",
		zap.Uint64("nonce", nonce),
		zap.Uint64("slot", entry.Slot),
		zap.Int("depth", len(path)),
	)

	return &Inclusion{
		Record:     rec,
		Raw:        entry.Raw,
		Commitment: commitment,
		Path:       path,
	}, nil
}

// commitment waits a few rounds for the commitment of a freshly produced
// block before giving up.
func (a *Assembler) commitment(ctx context.Context, slot uint64) (*types.BlockCommitment, error) {
	var c *types.BlockCommitment
	err := retry.Do(func() error {
		var err error
		c, err = a.ledger.GetCommitment(ctx, slot)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(a.cfg.CommitmentAttempts),
		retry.Delay(a.cfg.CommitmentDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, types.ErrCommitmentUnavailable)
		}),
		retry.OnRetry(func(n uint, err error) {
			a.logger.Debug(
				"commitment is not available yet",
				zap.Uint64("slot", slot),
				zap.Uint("attempt", n+1),
				zap.Uint("max_attempts", a.cfg.CommitmentAttempts),
				zap.Error(err),
			)
		}))
	if err != nil {
		if errors.Is(err, types.ErrCommitmentUnavailable) {
			return nil, types.Expected(err)
		}
		return nil, fmt.Errorf("failed to get the commitment of slot %d: %w", slot, err)
	}
	if c.Slot != slot {
		return nil, fmt.Errorf("ledger returned the commitment of slot %d, requested %d", c.Slot, slot)
	}

	return c, nil
}
