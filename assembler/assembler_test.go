package assembler_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/assembler"
	"github.com/xencat/bridge-verifier/clientcontroller"
	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/merkle"
	"github.com/xencat/bridge-verifier/testutil"
	"github.com/xencat/bridge-verifier/testutil/mocks"
	"github.com/xencat/bridge-verifier/types"
)

func testSourceConfig() *config.SourceConfig {
	cfg := config.DefaultSourceConfig()
	cfg.CommitmentAttempts = 2
	cfg.CommitmentDelay = time.Millisecond
	return &cfg
}

func FuzzAssemble(f *testing.F) {
	testutil.AddRandomSeedsToFuzzer(f, 10)

	f.Fuzz(func(t *testing.T, seed int64) {
		r := rand.New(rand.NewSource(seed))
		ctx := context.Background()

		ledger := clientcontroller.NewMemLedger(uint64(r.Int63n(1000)) + 1)
		var records []*types.BurnRecord
		numSlots := int(r.Int31n(5)) + 1
		for i := 0; i < numSlots; i++ {
			for j := int(r.Int31n(6)); j >= 0; j-- {
				asset := types.AssetXENCAT
				if r.Intn(2) == 0 {
					asset = types.AssetDGN
				}
				rec, err := ledger.Burn(asset, testutil.GenRandomPublicKey(r), uint64(r.Int63n(1e12))+1)
				require.NoError(t, err)
				records = append(records, rec)
			}
			ledger.AdvanceSlots(1)
		}

		rec := records[r.Intn(len(records))]
		version := uint64(r.Int63n(100)) + 1
		signers, stakes := testutil.GenValidators(r, 3, nil)
		votes := testutil.SignVotes(t, signers, stakes, rec, version)

		a := assembler.New(testSourceConfig(), ledger, merkle.MaxDepth, zap.NewNop())
		proof, err := a.Assemble(ctx, rec.Nonce, version, votes)
		require.NoError(t, err)

		require.Equal(t, rec.Nonce, proof.BurnNonce)
		require.Equal(t, rec.User, proof.User)
		require.Equal(t, rec.Amount, proof.Amount)
		require.Equal(t, rec.AssetID, proof.AssetID)
		require.Equal(t, version, proof.ValidatorSetVersion)
		require.Equal(t, rec.Marshal(), proof.BurnRecordRaw)
		require.Equal(t, votes, proof.ValidatorVotes)

		commitment, err := ledger.GetCommitment(ctx, proof.Slot)
		require.NoError(t, err)
		require.Equal(t, commitment.BlockHash, proof.BlockHash)
		require.Equal(t, commitment.StateRoot, proof.StateRoot)
		require.NoError(t, merkle.Verify(proof.BurnRecordRaw, proof.MerkleProof, proof.StateRoot))
	})
}

func TestAssembleErrors(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	ctx := context.Background()

	ledger := clientcontroller.NewMemLedger(1)
	committed, err := ledger.Burn(types.AssetXENCAT, testutil.GenRandomPublicKey(r), 10)
	require.NoError(t, err)
	ledger.AdvanceSlots(1)
	pending, err := ledger.Burn(types.AssetXENCAT, testutil.GenRandomPublicKey(r), 20)
	require.NoError(t, err)

	a := assembler.New(testSourceConfig(), ledger, merkle.MaxDepth, zap.NewNop())

	_, err = a.Assemble(ctx, committed.Nonce, 1, nil)
	require.NoError(t, err)

	_, err = a.Assemble(ctx, pending.Nonce+1, 1, nil)
	require.ErrorIs(t, err, types.ErrBurnNotFound)
	require.False(t, types.IsRetryable(err))

	// the burn is in a block that is not committed yet
	_, err = a.Assemble(ctx, pending.Nonce, 1, nil)
	require.ErrorIs(t, err, types.ErrCommitmentUnavailable)
	require.True(t, types.IsExpected(err))
	require.True(t, types.IsRetryable(err))

	ledger.AdvanceSlots(1)
	proof, err := a.Assemble(ctx, pending.Nonce, 1, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2), proof.Slot)
}

func TestAssembleRejectsInconsistentLedger(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	ctx := context.Background()
	ctl := gomock.NewController(t)

	rec := testutil.GenBurnRecord(r, types.AssetXENCAT)
	other := testutil.GenBurnRecord(r, types.AssetXENCAT)
	slot := uint64(r.Int63n(1000))

	otherLeaves := []types.Hash{merkle.LeafHash(other.Marshal())}
	recLeaves := []types.Hash{merkle.LeafHash(rec.Marshal())}

	cases := []struct {
		name       string
		entry      *clientcontroller.BurnEntry
		leaves     []types.Hash
		commitment *types.BlockCommitment
		expected   error
	}{
		{
			name:       "record not under the root",
			entry:      &clientcontroller.BurnEntry{Raw: rec.Marshal(), Slot: slot},
			leaves:     otherLeaves,
			commitment: &types.BlockCommitment{Slot: slot, StateRoot: merkle.NewFromHashes(otherLeaves).Root()},
			expected:   assembler.ErrLeafNotCommitted,
		},
		{
			name:       "leaves do not hash to the root",
			entry:      &clientcontroller.BurnEntry{Raw: rec.Marshal(), Slot: slot},
			leaves:     recLeaves,
			commitment: &types.BlockCommitment{Slot: slot, StateRoot: testutil.GenRandomHash(r)},
			expected:   assembler.ErrStateRootMismatch,
		},
		{
			name:       "ledger returns another nonce",
			entry:      &clientcontroller.BurnEntry{Raw: other.Marshal(), Slot: slot},
			leaves:     otherLeaves,
			commitment: &types.BlockCommitment{Slot: slot, StateRoot: merkle.NewFromHashes(otherLeaves).Root()},
			expected:   types.ErrBurnRecordMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger := mocks.NewMockSourceLedger(ctl)
			ledger.EXPECT().GetBurn(gomock.Any(), rec.Nonce).Return(tc.entry, nil).AnyTimes()
			ledger.EXPECT().GetCommitment(gomock.Any(), slot).Return(tc.commitment, nil).AnyTimes()
			ledger.EXPECT().GetStateLeaves(gomock.Any(), slot).Return(tc.leaves, nil).AnyTimes()

			a := assembler.New(testSourceConfig(), ledger, merkle.MaxDepth, zap.NewNop())
			_, err := a.Assemble(ctx, rec.Nonce, 1, nil)
			require.ErrorIs(t, err, tc.expected)
			require.False(t, types.IsRetryable(err))
		})
	}
}

func TestConcurrentAssemble(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	ctx := context.Background()

	ledger := clientcontroller.NewMemLedger(1)
	rec, err := ledger.Burn(types.AssetDGN, testutil.GenRandomPublicKey(r), 42)
	require.NoError(t, err)
	ledger.AdvanceSlots(1)

	a := assembler.New(testSourceConfig(), ledger, merkle.MaxDepth, zap.NewNop())

	const callers = 20
	proofs := make([]*types.BurnProof, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			proofs[i], errs[i] = a.Assemble(ctx, rec.Nonce, uint64(i+1), nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		// shared inclusion data must not leak the version of another caller
		require.Equal(t, uint64(i+1), proofs[i].ValidatorSetVersion)
		require.Equal(t, proofs[0].MerkleProof, proofs[i].MerkleProof)
	}
}

func TestCancelledCallerDoesNotFailSharedInclusion(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	ctrl := gomock.NewController(t)

	mem := clientcontroller.NewMemLedger(1)
	rec, err := mem.Burn(types.AssetXENCAT, testutil.GenRandomPublicKey(r), 9)
	require.NoError(t, err)
	mem.AdvanceSlots(1)

	entered := make(chan struct{})
	var enteredOnce sync.Once
	release := make(chan struct{})
	ledger := mocks.NewMockSourceLedger(ctrl)
	ledger.EXPECT().GetBurn(gomock.Any(), rec.Nonce).DoAndReturn(
		func(ctx context.Context, nonce uint64) (*clientcontroller.BurnEntry, error) {
			enteredOnce.Do(func() { close(entered) })
			<-release
			return mem.GetBurn(ctx, nonce)
		}).AnyTimes()
	ledger.EXPECT().GetCommitment(gomock.Any(), gomock.Any()).DoAndReturn(mem.GetCommitment).AnyTimes()
	ledger.EXPECT().GetStateLeaves(gomock.Any(), gomock.Any()).DoAndReturn(mem.GetStateLeaves).AnyTimes()

	a := assembler.New(testSourceConfig(), ledger, merkle.MaxDepth, zap.NewNop())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := a.Inclusion(firstCtx, rec.Nonce)
		firstErr <- err
	}()
	<-entered

	secondInc := make(chan *assembler.Inclusion, 1)
	secondErr := make(chan error, 1)
	go func() {
		inc, err := a.Inclusion(context.Background(), rec.Nonce)
		secondInc <- inc
		secondErr <- err
	}()
	// let the second caller join the running flight
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	require.NoError(t, <-secondErr)
	require.Equal(t, rec.Nonce, (<-secondInc).Record.Nonce)
}
