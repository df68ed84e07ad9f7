package verifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/merkle"
	"github.com/xencat/bridge-verifier/metrics"
	"github.com/xencat/bridge-verifier/store"
	"github.com/xencat/bridge-verifier/types"
	"github.com/xencat/bridge-verifier/valset"
)

// ValidatorSets returns the active validator set.
type ValidatorSets interface {
	Current() (*valset.Snapshot, error)
}

// MarkerStore creates redemption markers once per key.
type MarkerStore interface {
	CreateMarker(m *store.RedemptionMarker) error
}

// Result describes an accepted proof.
type Result struct {
	Claim               types.Claim `json:"claim"`
	ValidatorSetVersion uint64      `json:"validator_set_version"`
	Slot                uint64      `json:"slot"`
	AttestedStake       uint64      `json:"attested_stake"`
	Signers             int         `json:"signers"`
	// Rejected counts the votes that did not contribute stake.
	Rejected int  `json:"rejected"`
	Legacy   bool `json:"legacy,omitempty"`
}

type Engine struct {
	cfg     *config.VerifierConfig
	sets    ValidatorSets
	slots   SlotProvider
	markers MarkerStore

	metrics *metrics.BridgeMetrics
	logger  *zap.Logger
	clock   func() time.Time
}

func NewEngine(
	cfg *config.VerifierConfig,
	sets ValidatorSets,
	slots SlotProvider,
	markers MarkerStore,
	metrics *metrics.BridgeMetrics,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		cfg:     cfg,
		sets:    sets,
		slots:   slots,
		markers: markers,
		metrics: metrics,
		logger:  logger,
		clock:   time.Now,
	}
}

// Verify runs every check against the proof and, if all pass, records the
// redemption of (asset, user, nonce). A failure leaves no trace.
func (e *Engine) Verify(ctx context.Context, asset types.AssetID, burnNonce uint64, proof *types.BurnProof) (*Result, error) {
	res, err := e.verify(ctx, asset, false, burnNonce, proof, true)
	e.record(asset, res, err)
	return res, err
}

// VerifyLegacy verifies a proof of the asset-unaware scheme. Votes sign the
// legacy message, the record must be a XENCAT burn, and the marker lives in
// the legacy key space.
func (e *Engine) VerifyLegacy(ctx context.Context, burnNonce uint64, proof *types.BurnProof) (*Result, error) {
	res, err := e.verify(ctx, types.AssetXENCAT, true, burnNonce, proof, true)
	e.record(types.AssetXENCAT, res, err)
	return res, err
}

// Check runs the checks of Verify, or VerifyLegacy if legacy is set, without
// recording a redemption. A proof that passes may still be redeemed already.
func (e *Engine) Check(ctx context.Context, asset types.AssetID, legacy bool, burnNonce uint64, proof *types.BurnProof) (*Result, error) {
	if legacy {
		asset = types.AssetXENCAT
	}
	return e.verify(ctx, asset, legacy, burnNonce, proof, false)
}

func (e *Engine) verify(ctx context.Context, asset types.AssetID, legacy bool, burnNonce uint64, proof *types.BurnProof, commit bool) (*Result, error) {
	if !asset.Known() {
		return nil, fmt.Errorf("%w: %d", types.ErrUnknownAsset, asset)
	}
	if proof == nil {
		return nil, fmt.Errorf("%w: empty proof", types.ErrBurnRecordMismatch)
	}
	if proof.BurnNonce != burnNonce {
		return nil, fmt.Errorf("%w: proof nonce %d, claimed %d", types.ErrBurnRecordMismatch, proof.BurnNonce, burnNonce)
	}
	if !legacy && proof.AssetID != asset {
		return nil, fmt.Errorf("%w: proof asset %d, claimed %d", types.ErrBurnRecordMismatch, proof.AssetID, asset)
	}

	claim := types.Claim{AssetID: asset, BurnNonce: burnNonce, User: proof.User, Amount: proof.Amount}

	// version
	snap, err := e.sets.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to get the active validator set: %w", err)
	}
	if proof.ValidatorSetVersion != snap.Version {
		return nil, fmt.Errorf("%w: proof version %d, active version %d",
			types.ErrStaleValidatorSetVersion, proof.ValidatorSetVersion, snap.Version)
	}

	// finality
	if err := e.checkFinality(ctx, proof.Slot); err != nil {
		return nil, err
	}

	// signatures, dedup and threshold
	var msg []byte
	if legacy {
		msg = types.LegacyAttestationMessage(burnNonce, proof.User, proof.Amount, proof.ValidatorSetVersion)
	} else {
		msg = types.AttestationMessage(asset, burnNonce, proof.User, proof.Amount, proof.ValidatorSetVersion)
	}
	t, err := e.tally(snap, msg, proof.ValidatorVotes)
	if err != nil {
		return nil, err
	}
	if !snap.ThresholdMet(t.stake, t.signers) {
		err := fmt.Errorf("%w: %d distinct signers with stake %d, need %s of %d",
			types.ErrInsufficientStake, t.signers, t.stake, snap.Threshold, snap.Total)
		if len(t.rejected) > 0 {
			err = errors.Join(append([]error{err}, t.rejected...)...)
		}
		return nil, err
	}

	// merkle
	if err := e.checkInclusion(ctx, proof); err != nil {
		return nil, err
	}

	// content
	if err := checkContent(asset, legacy, burnNonce, proof); err != nil {
		return nil, err
	}

	res := &Result{
		Claim:               claim,
		ValidatorSetVersion: snap.Version,
		Slot:                proof.Slot,
		AttestedStake:       t.stake,
		Signers:             t.signers,
		Rejected:            len(t.rejected),
		Legacy:              legacy,
	}
	if !commit {
		return res, nil
	}

	// replay guard
	marker := &store.RedemptionMarker{
		AssetID:             asset,
		User:                proof.User,
		BurnNonce:           burnNonce,
		Amount:              proof.Amount,
		ValidatorSetVersion: snap.Version,
		VerifiedAt:          e.clock().Unix(),
		Legacy:              legacy,
	}
	if err := e.markers.CreateMarker(marker); err != nil {
		return nil, err
	}

	e.logger.Info("verified burn",
		zap.String("claim", claim.String()),
		zap.Uint64("amount", proof.Amount),
		zap.Uint64("valset_version", snap.Version),
		zap.Uint64("attested_stake", t.stake),
		zap.Int("signers", t.signers),
		zap.Bool("legacy", legacy),
	)

	return res, nil
}

func (e *Engine) checkFinality(ctx context.Context, slot uint64) error {
	current, err := e.slots.CurrentSlot(ctx)
	if err != nil {
		return types.Expected(fmt.Errorf("failed to query the finalized slot: %w", err))
	}
	if slot > current || current-slot < e.cfg.MinFinalityDepth {
		return fmt.Errorf("%w: burn slot %d, finalized slot %d, depth %d",
			types.ErrInsufficientFinality, slot, current, e.cfg.MinFinalityDepth)
	}
	return nil
}

type voteTally struct {
	stake    uint64
	signers  int
	rejected []error
}

func (e *Engine) tally(snap *valset.Snapshot, msg []byte, votes []types.ValidatorVote) (*voteTally, error) {
	t := &voteTally{}
	present := make(map[types.PublicKey]struct{}, len(votes))
	counted := make(map[types.PublicKey]struct{}, len(votes))

	for i := range votes {
		v := &votes[i]

		if _, dup := present[v.Validator]; dup && !e.cfg.AllowDuplicateVotes {
			return nil, fmt.Errorf("%w: %s", types.ErrDuplicateValidator, v.Validator)
		}
		present[v.Validator] = struct{}{}
		if _, dup := counted[v.Validator]; dup {
			continue
		}

		setStake, ok := snap.StakeOf(v.Validator)
		if !ok {
			t.reject(e.logger, fmt.Errorf("%w: %s", types.ErrValidatorNotInSet, v.Validator))
			continue
		}
		if v.Stake != setStake {
			t.reject(e.logger, fmt.Errorf("%w: %s claims stake %d, set stake %d",
				types.ErrValidatorNotInSet, v.Validator, v.Stake, setStake))
			continue
		}
		if !types.VerifySignature(v.Validator, msg, v.Signature) {
			t.reject(e.logger, fmt.Errorf("%w: %s", types.ErrInvalidValidatorSignature, v.Validator))
			continue
		}

		counted[v.Validator] = struct{}{}
		// distinct members of a snapshot never sum past its total
		t.stake += setStake
		t.signers++
	}

	return t, nil
}

func (t *voteTally) reject(logger *zap.Logger, err error) {
	logger.Debug("dropped vote", zap.Error(err))
	t.rejected = append(t.rejected, err)
}

func (e *Engine) checkInclusion(ctx context.Context, proof *types.BurnProof) error {
	if len(proof.MerkleProof) > e.cfg.MaxMerkleDepth {
		return fmt.Errorf("%w: path of %d siblings exceeds %d",
			types.ErrInvalidMerkleProof, len(proof.MerkleProof), e.cfg.MaxMerkleDepth)
	}

	commitment, err := e.slots.Commitment(ctx, proof.Slot)
	if err != nil {
		if errors.Is(err, types.ErrCommitmentUnavailable) {
			return types.Expected(err)
		}
		return types.Expected(fmt.Errorf("%w: slot %d: %v", types.ErrCommitmentUnavailable, proof.Slot, err))
	}
	if commitment.BlockHash != proof.BlockHash {
		return fmt.Errorf("%w: block hash %s is not the finalized block %s at slot %d",
			types.ErrInvalidMerkleProof, proof.BlockHash, commitment.BlockHash, proof.Slot)
	}
	if commitment.StateRoot != proof.StateRoot {
		return fmt.Errorf("%w: state root %s is not committed at slot %d",
			types.ErrInvalidMerkleProof, proof.StateRoot, proof.Slot)
	}

	if err := merkle.Verify(proof.BurnRecordRaw, proof.MerkleProof, proof.StateRoot); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidMerkleProof, err)
	}
	return nil
}

func checkContent(asset types.AssetID, legacy bool, burnNonce uint64, proof *types.BurnProof) error {
	rec, err := types.ParseBurnRecord(proof.BurnRecordRaw)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrBurnRecordMismatch, err)
	}

	switch {
	case rec.Amount != proof.Amount:
		return fmt.Errorf("%w: record amount %d, claimed %d", types.ErrBurnRecordMismatch, rec.Amount, proof.Amount)
	case rec.User != proof.User:
		return fmt.Errorf("%w: record user %s, claimed %s", types.ErrBurnRecordMismatch, rec.User, proof.User)
	case rec.Nonce != burnNonce:
		return fmt.Errorf("%w: record nonce %d, claimed %d", types.ErrBurnRecordMismatch, rec.Nonce, burnNonce)
	case rec.AssetID != asset:
		return fmt.Errorf("%w: record asset %d, claimed %d", types.ErrBurnRecordMismatch, rec.AssetID, asset)
	case rec.RecordHash != rec.ComputeHash():
		return fmt.Errorf("%w: record hash does not match its fields", types.ErrBurnRecordMismatch)
	}

	if legacy && proof.AssetID != 0 && proof.AssetID != asset {
		return fmt.Errorf("%w: legacy proof for asset %d", types.ErrBurnRecordMismatch, proof.AssetID)
	}
	return nil
}

func (e *Engine) record(asset types.AssetID, res *Result, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordVerification(asset.String(), ResultLabel(err))
	if res != nil {
		e.metrics.RecordAttestedStake(asset.String(), res.AttestedStake)
	}
}

// ResultLabel classifies a verification or mint outcome for metrics and logs.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case types.IsIdempotent(err):
		return "duplicate"
	case types.IsRetryable(err):
		return "retryable"
	default:
		return "rejected"
	}
}
