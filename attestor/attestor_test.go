package attestor_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/attestor"
	"github.com/xencat/bridge-verifier/clientcontroller"
	"github.com/xencat/bridge-verifier/metrics"
	"github.com/xencat/bridge-verifier/testutil"
	"github.com/xencat/bridge-verifier/types"
	"github.com/xencat/bridge-verifier/valset"
)

type testEnv struct {
	attestor *attestor.Attestor
	ledger   *clientcontroller.MemLedger
	signer   *testutil.TestSigner
}

func newTestEnv(t *testing.T, r *rand.Rand) *testEnv {
	reg, err := valset.NewRegistry(valset.DefaultConfig(), valset.NewMemStore(), zap.NewNop())
	require.NoError(t, err)
	signers, vals := testutil.GenValidators(r, 4, nil)
	_, err = reg.Rotate(valset.Rotation{Validators: vals, Threshold: valset.TwoThirds()})
	require.NoError(t, err)

	ledger := clientcontroller.NewMemLedger(1)
	ledger.AdvanceSlots(1)
	a := attestor.New(ledger, signers[0], reg, metrics.NewAttestorMetrics(), zap.NewNop())

	return &testEnv{attestor: a, ledger: ledger, signer: signers[0]}
}

func requestFor(rec *types.BurnRecord) *types.AttestationRequest {
	return &types.AttestationRequest{
		BurnNonce:           rec.Nonce,
		User:                rec.User,
		ExpectedAmount:      rec.Amount,
		ValidatorSetVersion: 1,
	}
}

func FuzzAttest(f *testing.F) {
	testutil.AddRandomSeedsToFuzzer(f, 10)

	f.Fuzz(func(t *testing.T, seed int64) {
		r := rand.New(rand.NewSource(seed))
		ctx := context.Background()
		env := newTestEnv(t, r)

		asset := types.AssetXENCAT
		if r.Intn(2) == 0 {
			asset = types.AssetDGN
		}
		rec, err := env.ledger.Burn(asset, testutil.GenRandomPublicKey(r), uint64(r.Int63n(1e12))+1)
		require.NoError(t, err)
		env.ledger.AdvanceSlots(1)

		req := requestFor(rec)
		resp, err := env.attestor.Attest(ctx, req)
		require.NoError(t, err)

		respAsset, vote, err := resp.Validate(req)
		require.NoError(t, err)
		require.Equal(t, asset, respAsset)
		require.Equal(t, env.signer.PublicKey(), vote.Validator)

		msg := types.AttestationMessage(asset, rec.Nonce, rec.User, rec.Amount, 1)
		require.True(t, types.VerifySignature(vote.Validator, msg, vote.Signature))
		// the signature binds the asset
		other := types.AttestationMessage(types.AssetXENCAT+types.AssetDGN-asset, rec.Nonce, rec.User, rec.Amount, 1)
		require.False(t, types.VerifySignature(vote.Validator, other, vote.Signature))
	})
}

func TestAttestRejections(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	ctx := context.Background()
	env := newTestEnv(t, r)

	rec, err := env.ledger.Burn(types.AssetXENCAT, testutil.GenRandomPublicKey(r), 500)
	require.NoError(t, err)

	// not finalized yet
	_, err = env.attestor.Attest(ctx, requestFor(rec))
	require.ErrorIs(t, err, types.ErrInsufficientFinality)
	require.True(t, types.IsRetryable(err))
	env.ledger.AdvanceSlots(1)

	req := requestFor(rec)
	req.ExpectedAmount++
	_, err = env.attestor.Attest(ctx, req)
	require.ErrorIs(t, err, types.ErrBurnRecordMismatch)

	req = requestFor(rec)
	req.User = testutil.GenRandomPublicKey(r)
	_, err = env.attestor.Attest(ctx, req)
	require.ErrorIs(t, err, types.ErrBurnRecordMismatch)

	req = requestFor(rec)
	req.BurnNonce++
	_, err = env.attestor.Attest(ctx, req)
	require.ErrorIs(t, err, types.ErrBurnNotFound)

	req = requestFor(rec)
	req.ValidatorSetVersion = 2
	_, err = env.attestor.Attest(ctx, req)
	require.ErrorIs(t, err, types.ErrStaleValidatorSetVersion)

	req = requestFor(rec)
	req.ExpectedAmount = 0
	_, err = env.attestor.Attest(ctx, req)
	require.ErrorIs(t, err, types.ErrMalformedAttestation)

	_, err = env.attestor.Attest(ctx, requestFor(rec))
	require.NoError(t, err)
}

func TestAttestNonMember(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	reg, err := valset.NewRegistry(valset.DefaultConfig(), valset.NewMemStore(), zap.NewNop())
	require.NoError(t, err)
	_, vals := testutil.GenValidators(r, 3, nil)
	_, err = reg.Rotate(valset.Rotation{Validators: vals, Threshold: valset.TwoThirds()})
	require.NoError(t, err)

	ledger := clientcontroller.NewMemLedger(1)
	rec, err := ledger.Burn(types.AssetXENCAT, testutil.GenRandomPublicKey(r), 1)
	require.NoError(t, err)
	ledger.AdvanceSlots(1)

	a := attestor.New(ledger, testutil.NewTestSigner(r), reg, metrics.NewAttestorMetrics(), zap.NewNop())
	_, err = a.Attest(context.Background(), requestFor(rec))
	require.ErrorIs(t, err, types.ErrValidatorNotInSet)
}

func TestAttestHandler(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	env := newTestEnv(t, r)

	rec, err := env.ledger.Burn(types.AssetDGN, testutil.GenRandomPublicKey(r), 77)
	require.NoError(t, err)
	env.ledger.AdvanceSlots(1)

	router := mux.NewRouter()
	env.attestor.Register(router.PathPrefix("/api/v1").Subrouter())
	srv := httptest.NewServer(router)
	defer srv.Close()

	post := func(body []byte) *http.Response {
		resp, err := http.Post(srv.URL+types.AttestationPath, "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		return resp
	}

	body, err := json.Marshal(requestFor(rec))
	require.NoError(t, err)
	resp := post(body)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ar types.AttestationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ar))
	asset, _, err := ar.Validate(requestFor(rec))
	require.NoError(t, err)
	require.Equal(t, types.AssetDGN, asset)

	cases := []struct {
		body   []byte
		status int
	}{
		{[]byte("not json"), http.StatusBadRequest},
		{mustMarshal(t, &types.AttestationRequest{BurnNonce: rec.Nonce + 1, User: rec.User, ExpectedAmount: 1, ValidatorSetVersion: 1}), http.StatusNotFound},
		{mustMarshal(t, &types.AttestationRequest{BurnNonce: rec.Nonce, User: rec.User, ExpectedAmount: 1, ValidatorSetVersion: 1}), http.StatusUnprocessableEntity},
		{mustMarshal(t, &types.AttestationRequest{BurnNonce: rec.Nonce, User: rec.User, ExpectedAmount: 77, ValidatorSetVersion: 9}), http.StatusConflict},
	}
	for _, tc := range cases {
		resp := post(tc.body)
		require.Equal(t, tc.status, resp.StatusCode)
		resp.Body.Close()
	}
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
