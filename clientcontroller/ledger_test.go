package clientcontroller_test

import (
	"context"
	"math/rand"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/clientcontroller"
	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/merkle"
	"github.com/xencat/bridge-verifier/testutil"
	"github.com/xencat/bridge-verifier/types"
)

func TestMemLedgerCommitments(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	ctx := context.Background()

	l := clientcontroller.NewMemLedger(10)
	_, err := l.FinalizedSlot(ctx)
	require.Error(t, err)

	user := testutil.GenRandomPublicKey(r)
	rec0, err := l.Burn(types.AssetXENCAT, user, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(0), rec0.Nonce)

	// the open slot has no commitment yet
	_, err = l.GetCommitment(ctx, 10)
	require.ErrorIs(t, err, types.ErrCommitmentUnavailable)

	l.AdvanceSlots(1)
	rec1, err := l.Burn(types.AssetDGN, user, 7)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rec1.Nonce)
	l.AdvanceSlots(3)

	finalized, err := l.FinalizedSlot(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(13), finalized)

	entry, err := l.GetBurn(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(11), entry.Slot)
	require.Equal(t, rec1.Marshal(), entry.Raw)

	_, err = l.GetBurn(ctx, 2)
	require.ErrorIs(t, err, types.ErrBurnNotFound)

	c10, err := l.GetCommitment(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, merkle.NewFromHashes([]types.Hash{merkle.LeafHash(rec0.Marshal())}).Root(), c10.StateRoot)

	// later slots cover earlier burns
	leaves, err := l.GetStateLeaves(ctx, 12)
	require.NoError(t, err)
	require.Len(t, leaves, 2)
	c12, err := l.GetCommitment(ctx, 12)
	require.NoError(t, err)
	tree := merkle.NewFromHashes(leaves)
	require.Equal(t, tree.Root(), c12.StateRoot)
	require.NotEqual(t, c10.BlockHash, c12.BlockHash)

	idx, ok := tree.IndexOf(merkle.LeafHash(rec0.Marshal()))
	require.True(t, ok)
	path, err := tree.Proof(idx)
	require.NoError(t, err)
	require.NoError(t, merkle.Verify(rec0.Marshal(), path, c12.StateRoot))

	_, err = l.Burn(types.AssetID(9), user, 1)
	require.ErrorIs(t, err, types.ErrUnknownAsset)
	_, err = l.Burn(types.AssetXENCAT, user, 0)
	require.Error(t, err)
}

func FuzzRPCSourceLedger(f *testing.F) {
	testutil.AddRandomSeedsToFuzzer(f, 10)

	f.Fuzz(func(t *testing.T, seed int64) {
		r := rand.New(rand.NewSource(seed))
		ctx := context.Background()

		mem := clientcontroller.NewMemLedger(uint64(r.Int63n(1000)))
		numBurns := int(r.Int31n(8)) + 1
		for i := 0; i < numBurns; i++ {
			_, err := mem.Burn(types.AssetXENCAT, testutil.GenRandomPublicKey(r), uint64(r.Int63n(1e9))+1)
			require.NoError(t, err)
			mem.AdvanceSlots(uint64(r.Int31n(3)) + 1)
		}

		srv, err := clientcontroller.NewLedgerServer(mem)
		require.NoError(t, err)
		defer srv.Stop()

		var client *rpc.Client
		if r.Intn(2) == 0 {
			client = rpc.DialInProc(srv)
		} else {
			httpSrv := httptest.NewServer(srv)
			defer httpSrv.Close()
			cfg := config.DefaultSourceConfig()
			cfg.RPCAddr = httpSrv.URL
			l, err := clientcontroller.NewRPCSourceLedger(ctx, &cfg, zap.NewNop())
			require.NoError(t, err)
			defer l.Close()
			checkLedgersMatch(t, r, ctx, mem, l, numBurns)
			return
		}
		l := clientcontroller.NewRPCSourceLedgerWithClient(client, time.Second, zap.NewNop())
		defer l.Close()
		checkLedgersMatch(t, r, ctx, mem, l, numBurns)
	})
}

func checkLedgersMatch(t *testing.T, r *rand.Rand, ctx context.Context, expected, actual clientcontroller.SourceLedger, numBurns int) {
	expectedSlot, err := expected.FinalizedSlot(ctx)
	require.NoError(t, err)
	actualSlot, err := actual.FinalizedSlot(ctx)
	require.NoError(t, err)
	require.Equal(t, expectedSlot, actualSlot)

	nonce := uint64(r.Intn(numBurns))
	expectedBurn, err := expected.GetBurn(ctx, nonce)
	require.NoError(t, err)
	actualBurn, err := actual.GetBurn(ctx, nonce)
	require.NoError(t, err)
	require.Equal(t, expectedBurn, actualBurn)

	expectedCommitment, err := expected.GetCommitment(ctx, expectedBurn.Slot)
	require.NoError(t, err)
	actualCommitment, err := actual.GetCommitment(ctx, expectedBurn.Slot)
	require.NoError(t, err)
	require.Equal(t, expectedCommitment, actualCommitment)

	expectedLeaves, err := expected.GetStateLeaves(ctx, expectedSlot)
	require.NoError(t, err)
	actualLeaves, err := actual.GetStateLeaves(ctx, expectedSlot)
	require.NoError(t, err)
	require.Equal(t, expectedLeaves, actualLeaves)

	// ledger answers keep their meaning across the wire
	_, err = actual.GetBurn(ctx, uint64(numBurns))
	require.ErrorIs(t, err, types.ErrBurnNotFound)
	_, err = actual.GetCommitment(ctx, expectedSlot+1)
	require.ErrorIs(t, err, types.ErrCommitmentUnavailable)
}
