package verifier_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/metrics"
	"github.com/xencat/bridge-verifier/store"
	"github.com/xencat/bridge-verifier/testutil"
	"github.com/xencat/bridge-verifier/testutil/mocks"
	"github.com/xencat/bridge-verifier/types"
	"github.com/xencat/bridge-verifier/valset"
	"github.com/xencat/bridge-verifier/verifier"
)

const currentSlot = uint64(1000)

type testEnv struct {
	engine  *verifier.Engine
	slots   *mocks.MockSlotProvider
	markers *store.RedemptionStore
	reg     *valset.Registry
	signers []*testutil.TestSigner
	vals    []types.ValidatorStake
	cfg     *config.VerifierConfig
}

func newTestEnv(t *testing.T, r *rand.Rand, stakes []uint64, th valset.Threshold, n int) *testEnv {
	reg, err := valset.NewRegistry(valset.DefaultConfig(), valset.NewMemStore(), zap.NewNop())
	require.NoError(t, err)
	signers, vals := testutil.GenValidators(r, n, stakes)
	_, err = reg.Rotate(valset.Rotation{Validators: vals, Threshold: th})
	require.NoError(t, err)

	markers, err := store.NewRedemptionStore(testutil.MakeTestBackend(r, t))
	require.NoError(t, err)

	slots := testutil.PrepareMockedSlotProvider(t, currentSlot)

	cfg := config.DefaultVerifierConfig()
	engine := verifier.NewEngine(&cfg, reg, slots, markers, metrics.NewBridgeMetrics(), zap.NewNop())

	return &testEnv{
		engine:  engine,
		slots:   slots,
		markers: markers,
		reg:     reg,
		signers: signers,
		vals:    vals,
		cfg:     &cfg,
	}
}

// proof returns a finalized proof for rec carrying votes of the given signers
func (env *testEnv) proof(t *testing.T, r *rand.Rand, rec *types.BurnRecord, slot uint64, idx ...int) *types.BurnProof {
	proof, commitment := testutil.GenBurnProof(t, r, rec, 1, slot)
	env.slots.EXPECT().Commitment(gomock.Any(), slot).Return(commitment, nil).AnyTimes()

	signers := make([]*testutil.TestSigner, 0, len(idx))
	vals := make([]types.ValidatorStake, 0, len(idx))
	for _, i := range idx {
		signers = append(signers, env.signers[i])
		vals = append(vals, env.vals[i])
	}
	proof.ValidatorVotes = testutil.SignVotes(t, signers, vals, rec, 1)
	return proof
}

func all(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// FuzzVerify tests a valid proof is accepted exactly once
func FuzzVerify(f *testing.F) {
	testutil.AddRandomSeedsToFuzzer(f, 10)
	f.Fuzz(func(t *testing.T, seed int64) {
		r := rand.New(rand.NewSource(seed))
		n := int(r.Int31n(7)) + 1
		env := newTestEnv(t, r, nil, valset.TwoThirds(), n)

		asset := types.AssetXENCAT
		if r.Intn(2) == 1 {
			asset = types.AssetDGN
		}
		rec := testutil.GenBurnRecord(r, asset)
		proof := env.proof(t, r, rec, currentSlot-env.cfg.MinFinalityDepth, all(n)...)

		res, err := env.engine.Verify(context.Background(), asset, rec.Nonce, proof)
		require.NoError(t, err)
		require.Equal(t, n, res.Signers)
		require.Equal(t, rec.Amount, res.Claim.Amount)

		redeemed, err := env.markers.IsRedeemed(asset, rec.User, rec.Nonce)
		require.NoError(t, err)
		require.True(t, redeemed)

		_, err = env.engine.Verify(context.Background(), asset, rec.Nonce, proof)
		require.ErrorIs(t, err, types.ErrAlreadyRedeemed)
		require.True(t, types.IsIdempotent(err))
	})
}

func TestStakeThresholdBoundary(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	// total 1,000,000, two thirds rounds up to 666,667
	env := newTestEnv(t, r, []uint64{333_333, 333_334, 333_333}, valset.TwoThirds(), 3)
	ctx := context.Background()

	rec := testutil.GenBurnRecord(r, types.AssetXENCAT)
	_, err := env.engine.Verify(ctx, rec.AssetID, rec.Nonce, env.proof(t, r, rec, 900, 0, 2))
	require.ErrorIs(t, err, types.ErrInsufficientStake)
	require.False(t, types.IsRetryable(err))

	redeemed, err := env.markers.IsRedeemed(rec.AssetID, rec.User, rec.Nonce)
	require.NoError(t, err)
	require.False(t, redeemed)

	res, err := env.engine.Verify(ctx, rec.AssetID, rec.Nonce, env.proof(t, r, rec, 901, 0, 1))
	require.NoError(t, err)
	require.Equal(t, uint64(666_667), res.AttestedStake)
}

func TestCountThreshold(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	env := newTestEnv(t, r, []uint64{1, 1, 1, 1, 1}, valset.CountOf(3), 5)
	ctx := context.Background()

	rec := testutil.GenBurnRecord(r, types.AssetDGN)
	_, err := env.engine.Verify(ctx, rec.AssetID, rec.Nonce, env.proof(t, r, rec, 900, 1, 4))
	require.ErrorIs(t, err, types.ErrInsufficientStake)

	_, err = env.engine.Verify(ctx, rec.AssetID, rec.Nonce, env.proof(t, r, rec, 901, 1, 3, 4))
	require.NoError(t, err)
}

func TestCrossNonceReplay(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	env := newTestEnv(t, r, nil, valset.TwoThirds(), 4)
	ctx := context.Background()

	recA := testutil.GenBurnRecord(r, types.AssetXENCAT)
	proofA := env.proof(t, r, recA, 900, all(4)...)

	recB := types.NewBurnRecord(recA.AssetID, recA.User, recA.Amount, recA.Nonce+1, recA.Timestamp)
	proofB := env.proof(t, r, recB, 901)
	proofB.ValidatorVotes = proofA.ValidatorVotes

	_, err := env.engine.Verify(ctx, recB.AssetID, recB.Nonce, proofB)
	require.ErrorIs(t, err, types.ErrInsufficientStake)
	require.ErrorIs(t, err, types.ErrInvalidValidatorSignature)

	// the same votes do not carry over to the other asset either
	recC := types.NewBurnRecord(types.AssetDGN, recA.User, recA.Amount, recA.Nonce, recA.Timestamp)
	proofC := env.proof(t, r, recC, 902)
	proofC.ValidatorVotes = proofA.ValidatorVotes

	_, err = env.engine.Verify(ctx, recC.AssetID, recC.Nonce, proofC)
	require.ErrorIs(t, err, types.ErrInvalidValidatorSignature)

	_, err = env.engine.Verify(ctx, recA.AssetID, recA.Nonce, proofA)
	require.NoError(t, err)
}

func TestDuplicateVotes(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	env := newTestEnv(t, r, []uint64{10, 10, 10}, valset.TwoThirds(), 3)
	ctx := context.Background()

	rec := testutil.GenBurnRecord(r, types.AssetXENCAT)
	proof := env.proof(t, r, rec, 900, 0, 0)

	_, err := env.engine.Verify(ctx, rec.AssetID, rec.Nonce, proof)
	require.ErrorIs(t, err, types.ErrDuplicateValidator)

	// when tolerated, the repeated vote still counts once
	env.cfg.AllowDuplicateVotes = true
	_, err = env.engine.Verify(ctx, rec.AssetID, rec.Nonce, proof)
	require.ErrorIs(t, err, types.ErrInsufficientStake)

	proof = env.proof(t, r, rec, 901, 0, 1, 1, 0)
	res, err := env.engine.Verify(ctx, rec.AssetID, rec.Nonce, proof)
	require.NoError(t, err)
	require.Equal(t, uint64(20), res.AttestedStake)
	require.Equal(t, 2, res.Signers)
}

func TestFinalityBoundary(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	env := newTestEnv(t, r, nil, valset.TwoThirds(), 3)
	ctx := context.Background()
	depth := env.cfg.MinFinalityDepth

	rec := testutil.GenBurnRecord(r, types.AssetXENCAT)

	_, err := env.engine.Verify(ctx, rec.AssetID, rec.Nonce, env.proof(t, r, rec, currentSlot-depth+1, all(3)...))
	require.ErrorIs(t, err, types.ErrInsufficientFinality)
	require.True(t, types.IsRetryable(err))

	_, err = env.engine.Verify(ctx, rec.AssetID, rec.Nonce, env.proof(t, r, rec, currentSlot+5, all(3)...))
	require.ErrorIs(t, err, types.ErrInsufficientFinality)

	_, err = env.engine.Verify(ctx, rec.AssetID, rec.Nonce, env.proof(t, r, rec, currentSlot-depth, all(3)...))
	require.NoError(t, err)
}

func TestStaleValidatorSetVersion(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	env := newTestEnv(t, r, nil, valset.TwoThirds(), 3)
	ctx := context.Background()

	rec := testutil.GenBurnRecord(r, types.AssetXENCAT)
	proof := env.proof(t, r, rec, 900, all(3)...)

	proof.ValidatorSetVersion = 2
	_, err := env.engine.Verify(ctx, rec.AssetID, rec.Nonce, proof)
	require.ErrorIs(t, err, types.ErrStaleValidatorSetVersion)
	proof.ValidatorSetVersion = 1

	_, err = env.reg.Rotate(valset.Rotation{Validators: env.vals, Threshold: valset.TwoThirds()})
	require.NoError(t, err)

	_, err = env.engine.Verify(ctx, rec.AssetID, rec.Nonce, proof)
	require.ErrorIs(t, err, types.ErrStaleValidatorSetVersion)
}

func TestMembershipAndStakeClaims(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	env := newTestEnv(t, r, []uint64{10, 10, 10}, valset.TwoThirds(), 3)
	ctx := context.Background()

	rec := testutil.GenBurnRecord(r, types.AssetXENCAT)
	proof := env.proof(t, r, rec, 900, 0, 1)

	outsiders, outsiderVals := testutil.GenValidators(r, 1, []uint64{10})
	extra := testutil.SignVotes(t, outsiders, outsiderVals, rec, 1)

	// an inflated stake claim drops the vote
	inflated := proof.ValidatorVotes[1]
	inflated.Stake = 20
	tampered := *proof
	tampered.ValidatorVotes = []types.ValidatorVote{proof.ValidatorVotes[0], inflated, extra[0]}

	_, err := env.engine.Verify(ctx, rec.AssetID, rec.Nonce, &tampered)
	require.ErrorIs(t, err, types.ErrInsufficientStake)
	require.ErrorIs(t, err, types.ErrValidatorNotInSet)

	proof.ValidatorVotes = append(proof.ValidatorVotes, extra...)
	res, err := env.engine.Verify(ctx, rec.AssetID, rec.Nonce, proof)
	require.NoError(t, err)
	require.Equal(t, 2, res.Signers)
	require.Equal(t, 1, res.Rejected)
}

func TestInclusionAndContentChecks(t *testing.T) {
	r := rand.New(rand.NewSource(8))
	env := newTestEnv(t, r, nil, valset.TwoThirds(), 3)
	ctx := context.Background()

	rec := testutil.GenBurnRecord(r, types.AssetXENCAT)
	proof := env.proof(t, r, rec, 900, all(3)...)

	wrongRoot := *proof
	wrongRoot.StateRoot = testutil.GenRandomHash(r)
	_, err := env.engine.Verify(ctx, rec.AssetID, rec.Nonce, &wrongRoot)
	require.ErrorIs(t, err, types.ErrInvalidMerkleProof)

	wrongBlock := *proof
	wrongBlock.BlockHash = testutil.GenRandomHash(r)
	_, err = env.engine.Verify(ctx, rec.AssetID, rec.Nonce, &wrongBlock)
	require.ErrorIs(t, err, types.ErrInvalidMerkleProof)

	badPath := *proof
	badPath.MerkleProof = append([]types.Hash{testutil.GenRandomHash(r)}, proof.MerkleProof...)
	_, err = env.engine.Verify(ctx, rec.AssetID, rec.Nonce, &badPath)
	require.ErrorIs(t, err, types.ErrInvalidMerkleProof)

	// a record committed with a different amount than the one attested
	cheap := types.NewBurnRecord(rec.AssetID, rec.User, 1, rec.Nonce, rec.Timestamp)
	cheapProof := env.proof(t, r, cheap, 901)
	cheapProof.Amount = rec.Amount
	cheapProof.ValidatorVotes = testutil.SignVotes(t, env.signers, env.vals, rec, 1)
	_, err = env.engine.Verify(ctx, rec.AssetID, rec.Nonce, cheapProof)
	require.ErrorIs(t, err, types.ErrBurnRecordMismatch)

	// asset of the call must match the proof
	_, err = env.engine.Verify(ctx, types.AssetDGN, rec.Nonce, proof)
	require.ErrorIs(t, err, types.ErrBurnRecordMismatch)
	_, err = env.engine.Verify(ctx, types.AssetID(9), rec.Nonce, proof)
	require.ErrorIs(t, err, types.ErrUnknownAsset)

	redeemed, err := env.markers.IsRedeemed(rec.AssetID, rec.User, rec.Nonce)
	require.NoError(t, err)
	require.False(t, redeemed)

	_, err = env.engine.Verify(ctx, rec.AssetID, rec.Nonce, proof)
	require.NoError(t, err)
}

func TestVerifyLegacy(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	env := newTestEnv(t, r, nil, valset.TwoThirds(), 3)
	ctx := context.Background()

	rec := testutil.GenBurnRecord(r, types.AssetXENCAT)
	proof := env.proof(t, r, rec, 900)
	proof.ValidatorVotes = testutil.SignLegacyVotes(t, env.signers, env.vals, rec, 1)

	// legacy votes do not verify under the asset-aware message
	_, err := env.engine.Verify(ctx, rec.AssetID, rec.Nonce, proof)
	require.ErrorIs(t, err, types.ErrInvalidValidatorSignature)

	res, err := env.engine.VerifyLegacy(ctx, rec.Nonce, proof)
	require.NoError(t, err)
	require.True(t, res.Legacy)

	_, err = env.engine.VerifyLegacy(ctx, rec.Nonce, proof)
	require.ErrorIs(t, err, types.ErrAlreadyRedeemed)

	_, err = env.markers.GetLegacyMarker(rec.User, rec.Nonce)
	require.NoError(t, err)
	redeemed, err := env.markers.IsRedeemed(rec.AssetID, rec.User, rec.Nonce)
	require.NoError(t, err)
	require.False(t, redeemed)
}

func TestConcurrentVerify(t *testing.T) {
	r := rand.New(rand.NewSource(10))
	env := newTestEnv(t, r, nil, valset.TwoThirds(), 4)

	rec := testutil.GenBurnRecord(r, types.AssetDGN)
	proof := env.proof(t, r, rec, 900, all(4)...)

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.engine.Verify(context.Background(), rec.AssetID, rec.Nonce, proof)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, types.ErrAlreadyRedeemed)
	}
	require.Equal(t, 1, succeeded)
}

func TestCheckDoesNotRedeem(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	env := newTestEnv(t, r, nil, valset.TwoThirds(), 4)
	ctx := context.Background()

	rec := testutil.GenBurnRecord(r, types.AssetDGN)
	proof := env.proof(t, r, rec, currentSlot-env.cfg.MinFinalityDepth, all(4)...)

	res, err := env.engine.Check(ctx, types.AssetDGN, false, rec.Nonce, proof)
	require.NoError(t, err)
	require.Equal(t, 4, res.Signers)

	redeemed, err := env.markers.IsRedeemed(types.AssetDGN, rec.User, rec.Nonce)
	require.NoError(t, err)
	require.False(t, redeemed)

	// the same proof still redeems once
	_, err = env.engine.Verify(ctx, types.AssetDGN, rec.Nonce, proof)
	require.NoError(t, err)

	// a failing check reports the same error as Verify would
	_, err = env.engine.Check(ctx, types.AssetXENCAT, false, rec.Nonce, proof)
	require.ErrorIs(t, err, types.ErrBurnRecordMismatch)
}
