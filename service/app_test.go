package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/assembler"
	"github.com/xencat/bridge-verifier/attestor"
	"github.com/xencat/bridge-verifier/clientcontroller"
	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/metrics"
	"github.com/xencat/bridge-verifier/service"
	"github.com/xencat/bridge-verifier/testutil"
	"github.com/xencat/bridge-verifier/types"
	"github.com/xencat/bridge-verifier/valset"
)

const finalityDepth = 2

type testEnv struct {
	app     *service.BridgeApp
	cfg     *config.Config
	ledger  *clientcontroller.MemLedger
	signers []*testutil.TestSigner
	vals    []types.ValidatorStake
}

// newTestEnv runs a bridge app over an in-memory ledger with n validator nodes
// attesting over HTTP
func newTestEnv(t *testing.T, r *rand.Rand, n int) *testEnv {
	ledger := clientcontroller.NewMemLedger(1)
	ledger.AdvanceSlots(1)
	signers, vals := testutil.GenValidators(r, n, nil)
	rot := valset.Rotation{Validators: vals, Threshold: valset.TwoThirds()}

	cfg := config.DefaultConfigWithHome(t.TempDir())
	cfg.VerifierConfig.MinFinalityDepth = finalityDepth
	cfg.SourceConfig.PollInterval = 10 * time.Millisecond
	cfg.SourceConfig.CommitmentDelay = 10 * time.Millisecond
	cfg.CollectorConfig.CallTimeout = time.Second
	cfg.CollectorConfig.BatchTimeout = 3 * time.Second
	cfg.CollectorConfig.RetryAttempts = 1

	for _, s := range signers {
		reg, err := valset.NewRegistry(valset.DefaultConfig(), valset.NewMemStore(), zap.NewNop())
		require.NoError(t, err)
		_, err = reg.Rotate(rot)
		require.NoError(t, err)

		att := attestor.New(ledger, s, reg, metrics.NewAttestorMetrics(), zap.NewNop())
		srv := httptest.NewServer(service.NewRESTServer("", zap.NewNop(), att).Handler)
		t.Cleanup(srv.Close)
		cfg.CollectorConfig.Endpoints = append(cfg.CollectorConfig.Endpoints, config.EndpointFor(s.PublicKey(), srv.URL))
	}

	app, err := service.NewBridgeApp(&cfg, ledger, testutil.MakeTestBackend(r, t), nil, zap.NewNop())
	require.NoError(t, err)
	_, err = app.Rotate(rot)
	require.NoError(t, err)
	require.NoError(t, app.Start())
	t.Cleanup(func() {
		require.NoError(t, app.Stop())
	})

	return &testEnv{app: app, cfg: &cfg, ledger: ledger, signers: signers, vals: vals}
}

// finalize advances the ledger until slot is deep enough and waits for the
// poller to see it
func (env *testEnv) finalize(t *testing.T, slot uint64) {
	target := slot + finalityDepth
	for {
		s, err := env.ledger.FinalizedSlot(context.Background())
		if err == nil && s >= target {
			break
		}
		env.ledger.AdvanceSlots(1)
	}
	require.Eventually(t, func() bool {
		s, err := env.app.Poller().CurrentSlot(context.Background())
		return err == nil && s >= target
	}, 5*time.Second, 10*time.Millisecond)
}

func (env *testEnv) burn(t *testing.T, r *rand.Rand, asset types.AssetID) (*types.BurnRecord, uint64) {
	rec, err := env.ledger.Burn(asset, testutil.GenRandomPublicKey(r), uint64(r.Int63n(1e9))+1)
	require.NoError(t, err)
	entry, err := env.ledger.GetBurn(context.Background(), rec.Nonce)
	require.NoError(t, err)
	return rec, entry.Slot
}

func redeemRequest(rec *types.BurnRecord) *service.RedeemRequest {
	return &service.RedeemRequest{AssetID: rec.AssetID, BurnNonce: rec.Nonce, User: rec.User, Amount: rec.Amount}
}

// FuzzRedeem tests that a finalized burn is minted exactly once
func FuzzRedeem(f *testing.F) {
	testutil.AddRandomSeedsToFuzzer(f, 3)
	f.Fuzz(func(t *testing.T, seed int64) {
		r := rand.New(rand.NewSource(seed))
		ctx := context.Background()
		env := newTestEnv(t, r, int(r.Int31n(4))+3)

		rec, slot := env.burn(t, r, types.AssetXENCAT)

		// nobody attests a burn that is not finalized
		_, err := env.app.Redeem(ctx, redeemRequest(rec))
		require.ErrorIs(t, err, types.ErrInsufficientAttestations)
		require.True(t, types.IsRetryable(err))

		env.finalize(t, slot)

		res, err := env.app.Redeem(ctx, redeemRequest(rec))
		require.NoError(t, err)
		require.Equal(t, rec.Amount, res.Minted)
		require.Equal(t, uint64(1), res.ValidatorSetVersion)

		balance, err := env.app.Minter().Balance(types.AssetXENCAT, rec.User)
		require.NoError(t, err)
		require.Equal(t, rec.Amount, balance)

		_, err = env.app.Redeem(ctx, redeemRequest(rec))
		require.ErrorIs(t, err, types.ErrAlreadyProcessed)
		require.True(t, types.IsIdempotent(err))
	})
}

func TestRedeemRejections(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	ctx := context.Background()
	env := newTestEnv(t, r, 4)

	rec, slot := env.burn(t, r, types.AssetXENCAT)
	dgn, _ := env.burn(t, r, types.AssetDGN)
	env.finalize(t, slot)

	// the node only mints XENCAT
	_, err := env.app.Redeem(ctx, redeemRequest(dgn))
	require.ErrorIs(t, err, types.ErrAssetNotMintable)

	// validators refuse to attest a wrong amount
	req := redeemRequest(rec)
	req.Amount++
	_, err = env.app.Redeem(ctx, req)
	require.ErrorIs(t, err, types.ErrInsufficientAttestations)

	req = redeemRequest(rec)
	req.AssetID = 9
	_, err = env.app.Redeem(ctx, req)
	require.ErrorIs(t, err, types.ErrUnknownAsset)

	_, err = env.app.Redeem(ctx, redeemRequest(rec))
	require.NoError(t, err)
}

func TestRedeemWaitsForFinalityDepth(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	ctx := context.Background()
	env := newTestEnv(t, r, 3)

	rec, slot := env.burn(t, r, types.AssetXENCAT)
	env.ledger.AdvanceSlots(1)
	require.Eventually(t, func() bool {
		s, err := env.app.Poller().CurrentSlot(ctx)
		return err == nil && s >= slot
	}, 5*time.Second, 10*time.Millisecond)

	// attested but not deep enough for the engine
	_, err := env.app.Redeem(ctx, redeemRequest(rec))
	require.ErrorIs(t, err, types.ErrInsufficientFinality)
	require.True(t, types.IsRetryable(err))

	env.finalize(t, slot)
	_, err = env.app.Redeem(ctx, redeemRequest(rec))
	require.NoError(t, err)
}

func TestSubmitLegacyProof(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	ctx := context.Background()
	env := newTestEnv(t, r, 4)

	rec, slot := env.burn(t, r, types.AssetXENCAT)
	env.finalize(t, slot)

	asm := assembler.New(env.cfg.SourceConfig, env.ledger, env.cfg.VerifierConfig.MaxMerkleDepth, zap.NewNop())
	proof, err := asm.Assemble(ctx, rec.Nonce, 1, testutil.SignLegacyVotes(t, env.signers, env.vals, rec, 1))
	require.NoError(t, err)

	// asset-aware checks fail on legacy signatures
	_, err = env.app.CheckProof(ctx, types.AssetXENCAT, false, proof)
	require.ErrorIs(t, err, types.ErrInsufficientStake)

	res, err := env.app.CheckProof(ctx, types.AssetXENCAT, true, proof)
	require.NoError(t, err)
	require.True(t, res.Legacy)

	redemption, err := env.app.SubmitProof(ctx, types.AssetXENCAT, true, proof)
	require.NoError(t, err)
	require.Equal(t, rec.Amount, redemption.Minted)

	// legacy and asset-aware redemptions of one burn mint once
	_, err = env.app.Redeem(ctx, redeemRequest(rec))
	require.ErrorIs(t, err, types.ErrAlreadyProcessed)
}

func TestRESTAPI(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	env := newTestEnv(t, r, 3)

	srv := httptest.NewServer(service.NewRESTServer("", zap.NewNop(), env.app).Handler)
	defer srv.Close()

	rec, slot := env.burn(t, r, types.AssetXENCAT)
	env.finalize(t, slot)

	body, err := json.Marshal(redeemRequest(rec))
	require.NoError(t, err)
	post := func() *http.Response {
		resp, err := http.Post(srv.URL+"/api/v1/redeem", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		return resp
	}

	resp := post()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var redemption service.Redemption
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&redemption))
	resp.Body.Close()
	require.Equal(t, rec.Amount, redemption.Minted)

	resp = post()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	get := func(path string, v interface{}) int {
		resp, err := http.Get(srv.URL + "/api/v1" + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		if v != nil && resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
		}
		return resp.StatusCode
	}

	var status service.Status
	require.Equal(t, http.StatusOK, get("/status", &status))
	require.Equal(t, uint64(1), status.ValidatorSetVersion)
	require.Equal(t, 3, status.Validators)
	require.GreaterOrEqual(t, status.FinalizedSlot, slot+finalityDepth)

	var balance struct {
		Balance uint64 `json:"balance"`
	}
	require.Equal(t, http.StatusOK, get(fmt.Sprintf("/balances/XENCAT/%s", rec.User), &balance))
	require.Equal(t, rec.Amount, balance.Balance)
	require.Equal(t, http.StatusBadRequest, get(fmt.Sprintf("/balances/GOLD/%s", rec.User), nil))

	var stats struct {
		Mints       uint64 `json:"mints"`
		TotalMinted uint64 `json:"total_minted"`
	}
	require.Equal(t, http.StatusOK, get("/stats/xencat", &stats))
	require.Equal(t, uint64(1), stats.Mints)
	require.Equal(t, rec.Amount, stats.TotalMinted)

	var set struct {
		Version    uint64                 `json:"version"`
		Validators []types.ValidatorStake `json:"validators"`
	}
	require.Equal(t, http.StatusOK, get("/validator-set", &set))
	require.Equal(t, uint64(1), set.Version)
	require.Len(t, set.Validators, 3)

	var history []valset.UpdateRecord
	require.Equal(t, http.StatusOK, get("/validator-set/history", &history))
	require.Len(t, history, 1)
}

func TestValidatorSetUpdateAPI(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	env := newTestEnv(t, r, 3)

	srv := httptest.NewServer(service.NewRESTServer("", zap.NewNop(), env.app).Handler)
	defer srv.Close()

	_, newVals := testutil.GenValidators(r, 4, nil)
	upd := &valset.FlatUpdate{Validators: newVals, Threshold: valset.TwoThirds(), Slot: 9}
	msg := valset.UpdateMessage(1, newVals, upd.Threshold)

	post := func() *http.Response {
		body, err := json.Marshal(upd)
		require.NoError(t, err)
		resp, err := http.Post(srv.URL+"/api/v1/validator-set/updates", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		return resp
	}

	approve := func(s *testutil.TestSigner) {
		sig, err := s.Sign(msg)
		require.NoError(t, err)
		upd.Approvals = append(upd.Approvals, valset.Approval{Validator: s.PublicKey(), Signature: sig})
	}

	// the lightest validator alone holds at most a third of the stake
	lightest := 0
	for i, v := range env.vals {
		if v.Stake < env.vals[lightest].Stake {
			lightest = i
		}
	}
	approve(env.signers[lightest])
	resp := post()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	for i, s := range env.signers {
		if i != lightest {
			approve(s)
		}
	}
	resp = post()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Version uint64 `json:"version"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Equal(t, uint64(2), out.Version)

	snap, err := env.app.Registry().Current()
	require.NoError(t, err)
	require.Equal(t, uint64(2), snap.Version)
	require.Len(t, snap.Members(), 4)

	// approvals of version 1 do not authorise another update
	resp = post()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{types.ErrAlreadyRedeemed, http.StatusConflict},
		{types.Expected(types.ErrCommitmentUnavailable), http.StatusServiceUnavailable},
		{types.ErrInsufficientFinality, http.StatusServiceUnavailable},
		{types.ErrUnknownAsset, http.StatusBadRequest},
		{types.ErrNotRedeemed, http.StatusNotFound},
		{types.ErrStaleValidatorSetVersion, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", types.ErrInsufficientStake), http.StatusUnprocessableEntity},
		{types.ErrAssetNotMintable, http.StatusUnprocessableEntity},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.status, service.StatusCode(tc.err), tc.err.Error())
	}
}
