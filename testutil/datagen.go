package testutil

import (
	"encoding/hex"
	"math/rand"
	"testing"
	"time"

	"github.com/cometbft/cometbft/crypto/ed25519"
	"github.com/stretchr/testify/require"

	"github.com/xencat/bridge-verifier/types"
)

func GenRandomByteArray(r *rand.Rand, length uint64) []byte {
	newHeaderBytes := make([]byte, length)
	r.Read(newHeaderBytes)
	return newHeaderBytes
}

func GenRandomHexStr(r *rand.Rand, length uint64) string {
	randBytes := GenRandomByteArray(r, length)
	return hex.EncodeToString(randBytes)
}

func AddRandomSeedsToFuzzer(f *testing.F, num uint) {
	// Seed based on the current time
	r := rand.New(rand.NewSource(time.Now().Unix()))
	var idx uint
	for idx = 0; idx < num; idx++ {
		f.Add(r.Int63())
	}
}

func GenRandomPublicKey(r *rand.Rand) types.PublicKey {
	var pk types.PublicKey
	r.Read(pk[:])
	return pk
}

func GenRandomHash(r *rand.Rand) types.Hash {
	var h types.Hash
	r.Read(h[:])
	return h
}

// TestSigner is an in-memory Ed25519 signer.
type TestSigner struct {
	sk ed25519.PrivKey
	pk types.PublicKey
}

func NewTestSigner(r *rand.Rand) *TestSigner {
	sk := ed25519.GenPrivKeyFromSecret(GenRandomByteArray(r, 32))
	pk, err := types.NewPublicKey(sk.PubKey().Bytes())
	if err != nil {
		panic(err)
	}
	return &TestSigner{sk: sk, pk: pk}
}

func (s *TestSigner) PublicKey() types.PublicKey {
	return s.pk
}

func (s *TestSigner) Sign(msg []byte) (types.Signature, error) {
	sig, err := s.sk.Sign(msg)
	if err != nil {
		return types.Signature{}, err
	}
	return types.NewSignature(sig)
}

// GenValidators creates n signers with the given stakes. If stakes is nil,
// each validator gets a random stake in [1, 1000].
func GenValidators(r *rand.Rand, n int, stakes []uint64) ([]*TestSigner, []types.ValidatorStake) {
	signers := make([]*TestSigner, n)
	vals := make([]types.ValidatorStake, n)
	for i := 0; i < n; i++ {
		signers[i] = NewTestSigner(r)
		stake := uint64(r.Int63n(1000) + 1)
		if stakes != nil {
			stake = stakes[i]
		}
		vals[i] = types.ValidatorStake{Identity: signers[i].PublicKey(), Stake: stake}
	}
	return signers, vals
}

func GenBurnRecord(r *rand.Rand, asset types.AssetID) *types.BurnRecord {
	return types.NewBurnRecord(
		asset,
		GenRandomPublicKey(r),
		uint64(r.Int63n(1_000_000_000)+1),
		uint64(r.Int63n(1_000_000)),
		uint64(time.Now().Unix()),
	)
}

// SignVotes returns one vote per signer over the asset-aware message.
func SignVotes(t *testing.T, signers []*TestSigner, stakes []types.ValidatorStake, rec *types.BurnRecord, version uint64) []types.ValidatorVote {
	msg := types.AttestationMessage(rec.AssetID, rec.Nonce, rec.User, rec.Amount, version)
	votes := make([]types.ValidatorVote, len(signers))
	for i, s := range signers {
		sig, err := s.Sign(msg)
		require.NoError(t, err)
		votes[i] = types.ValidatorVote{
			Validator: s.PublicKey(),
			Stake:     stakes[i].Stake,
			Signature: sig,
			Timestamp: uint64(time.Now().Unix()),
		}
	}
	return votes
}

// SignLegacyVotes returns one vote per signer over the legacy message.
func SignLegacyVotes(t *testing.T, signers []*TestSigner, stakes []types.ValidatorStake, rec *types.BurnRecord, version uint64) []types.ValidatorVote {
	msg := types.LegacyAttestationMessage(rec.Nonce, rec.User, rec.Amount, version)
	votes := make([]types.ValidatorVote, len(signers))
	for i, s := range signers {
		sig, err := s.Sign(msg)
		require.NoError(t, err)
		votes[i] = types.ValidatorVote{
			Validator: s.PublicKey(),
			Stake:     stakes[i].Stake,
			Signature: sig,
			Timestamp: uint64(time.Now().Unix()),
		}
	}
	return votes
}
