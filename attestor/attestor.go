package attestor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/clientcontroller"
	"github.com/xencat/bridge-verifier/metrics"
	"github.com/xencat/bridge-verifier/types"
	"github.com/xencat/bridge-verifier/valset"
)

const maxRequestSize = 1 << 12

// ValidatorSets returns the active validator set.
type ValidatorSets interface {
	Current() (*valset.Snapshot, error)
}

// Attestor signs burns it has checked on the source ledger. It runs on a
// validator node.
type Attestor struct {
	ledger clientcontroller.SourceLedger
	signer types.Signer
	sets   ValidatorSets

	metrics *metrics.AttestorMetrics
	logger  *zap.Logger
	clock   func() time.Time
}

func New(
	ledger clientcontroller.SourceLedger,
	signer types.Signer,
	sets ValidatorSets,
	metrics *metrics.AttestorMetrics,
	logger *zap.Logger,
) *Attestor {
	return &Attestor{
		ledger:  ledger,
		signer:  signer,
		sets:    sets,
		metrics: metrics,
		logger:  logger,
		clock:   time.Now,
	}
}

// Attest checks that the requested burn exists in a finalized block with the
// expected user and amount, and signs it for the requested validator set
// version.
func (a *Attestor) Attest(ctx context.Context, req *types.AttestationRequest) (*types.AttestationResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	set, err := a.sets.Current()
	if err != nil {
		return nil, types.Expected(err)
	}
	if set.Version != req.ValidatorSetVersion {
		return nil, fmt.Errorf("%w: requested %d, active %d",
			types.ErrStaleValidatorSetVersion, req.ValidatorSetVersion, set.Version)
	}
	if _, ok := set.StakeOf(a.signer.PublicKey()); !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrValidatorNotInSet, a.signer.PublicKey())
	}

	entry, err := a.ledger.GetBurn(ctx, req.BurnNonce)
	if err != nil {
		return nil, err
	}
	rec, err := types.ParseBurnRecord(entry.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBurnRecordMismatch, err)
	}

	switch {
	case !rec.AssetID.Known():
		return nil, fmt.Errorf("%w: %d", types.ErrUnknownAsset, rec.AssetID)
	case rec.Nonce != req.BurnNonce:
		return nil, fmt.Errorf("%w: nonce %d, requested %d", types.ErrBurnRecordMismatch, rec.Nonce, req.BurnNonce)
	case rec.User != req.User:
		return nil, fmt.Errorf("%w: user %s, requested %s", types.ErrBurnRecordMismatch, rec.User, req.User)
	case rec.Amount != req.ExpectedAmount:
		return nil, fmt.Errorf("%w: amount %d, requested %d", types.ErrBurnRecordMismatch, rec.Amount, req.ExpectedAmount)
	}

	finalized, err := a.ledger.FinalizedSlot(ctx)
	if err != nil {
		return nil, types.Expected(fmt.Errorf("failed to get the finalized slot: %w", err))
	}
	if entry.Slot > finalized {
		return nil, types.Expected(fmt.Errorf("%w: burn at slot %d, finalized %d",
			types.ErrInsufficientFinality, entry.Slot, finalized))
	}

	msg := types.AttestationMessage(rec.AssetID, rec.Nonce, rec.User, rec.Amount, req.ValidatorSetVersion)
	sig, err := a.signer.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to sign the attestation: %w", err)
	}

	a.metrics.SignedAttestationsCounter.WithLabelValues(rec.AssetID.String()).Inc()
	a.metrics.LastSignedNonce.Set(float64(rec.Nonce))
	a.logger.Info("signed attestation",
		zap.Stringer("asset", rec.AssetID),
		zap.Uint64("nonce", rec.Nonce),
		zap.Stringer("user", rec.User),
		zap.Uint64("amount", rec.Amount),
		zap.Uint64("version", req.ValidatorSetVersion),
	)

	return types.NewAttestationResponse(
		a.signer.PublicKey(),
		rec.AssetID,
		rec.Nonce,
		rec.Amount,
		req.ValidatorSetVersion,
		sig,
		uint64(a.clock().Unix()),
	), nil
}

// Register adds the attestation endpoint to an /api/v1 router.
func (a *Attestor) Register(r *mux.Router) {
	r.HandleFunc("/attest", a.handleAttest).Methods(http.MethodPost)
}

func (a *Attestor) handleAttest(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req types.AttestationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&req); err != nil {
		a.reject(w, "bad_request", http.StatusBadRequest, fmt.Errorf("failed to parse attestation request: %w", err))
		return
	}

	resp, err := a.Attest(r.Context(), &req)
	if err != nil {
		reason, status := classify(err)
		a.reject(w, reason, status, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.logger.Warn("failed to write attestation response", zap.Error(err))
	}
}

func (a *Attestor) reject(w http.ResponseWriter, reason string, status int, err error) {
	a.metrics.RejectedRequestsCounter.WithLabelValues(reason).Inc()
	a.logger.Debug("rejected attestation request", zap.String("reason", reason), zap.Error(err))
	http.Error(w, err.Error(), status)
}

// classify maps an error to a metric label and an HTTP status. Liveness
// failures answer 503 so that the caller retries.
func classify(err error) (string, int) {
	switch {
	case errors.Is(err, types.ErrMalformedAttestation):
		return "malformed", http.StatusBadRequest
	case errors.Is(err, types.ErrBurnNotFound):
		return "not_found", http.StatusNotFound
	case errors.Is(err, types.ErrBurnRecordMismatch), errors.Is(err, types.ErrUnknownAsset):
		return "mismatch", http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrStaleValidatorSetVersion):
		return "stale_version", http.StatusConflict
	case errors.Is(err, types.ErrValidatorNotInSet):
		return "not_member", http.StatusConflict
	case errors.Is(err, types.ErrInsufficientFinality):
		return "not_finalized", http.StatusServiceUnavailable
	case types.IsExpected(err):
		return "unavailable", http.StatusServiceUnavailable
	default:
		return "internal", http.StatusInternalServerError
	}
}
