package testutil

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xencat/bridge-verifier/merkle"
	"github.com/xencat/bridge-verifier/types"
)

// GenBurnProof commits rec together with a few random records into a state
// root at slot and returns the proof for rec without votes, plus the
// commitment a finalized ledger would report.
func GenBurnProof(t *testing.T, r *rand.Rand, rec *types.BurnRecord, version, slot uint64) (*types.BurnProof, *types.BlockCommitment) {
	n := int(r.Int31n(16)) + 1
	idx := int(r.Int31n(int32(n)))

	leaves := make([][]byte, n)
	for i := range leaves {
		if i == idx {
			leaves[i] = rec.Marshal()
			continue
		}
		leaves[i] = GenBurnRecord(r, types.AssetXENCAT).Marshal()
	}

	tree := merkle.New(leaves)
	path, err := tree.Proof(idx)
	require.NoError(t, err)

	commitment := &types.BlockCommitment{
		Slot:      slot,
		BlockHash: GenRandomHash(r),
		StateRoot: tree.Root(),
	}

	return &types.BurnProof{
		BurnNonce:           rec.Nonce,
		User:                rec.User,
		Amount:              rec.Amount,
		AssetID:             rec.AssetID,
		ValidatorSetVersion: version,
		BurnRecordRaw:       rec.Marshal(),
		Slot:                slot,
		BlockHash:           commitment.BlockHash,
		StateRoot:           commitment.StateRoot,
		MerkleProof:         path,
	}, commitment
}
