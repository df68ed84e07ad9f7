package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/types"
	"github.com/xencat/bridge-verifier/valset"
	"github.com/xencat/bridge-verifier/verifier"
)

const (
	headerContentType = "Content-Type"
	applicationJson   = "application/json"

	maxBodySize = 1 << 20
)

var allowedCORSHeaders = []string{"Accept", "Accept-Language", "Content-Language", "Origin", headerContentType}

type (
	// Registrar registers HTTP handlers on the /api/v1 router.
	Registrar interface {
		Register(r *mux.Router)
	}

	// RegistrarFunc is an adapter to allow the use of ordinary functions as Registrar.
	RegistrarFunc func(r *mux.Router)
)

func (f RegistrarFunc) Register(r *mux.Router) {
	f(r)
}

// NewRESTServer builds the API server. Every registrar is mounted under
// /api/v1.
func NewRESTServer(addr string, logger *zap.Logger, registrars ...Registrar) *http.Server {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(http.NotFound)
	apiV1Router := r.PathPrefix("/api/v1").Subrouter()
	apiV1Router.Use(handlers.CORS(handlers.AllowedHeaders(allowedCORSHeaders)))

	for _, registrar := range registrars {
		registrar.Register(apiV1Router)
	}

	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{logger}))

	return &http.Server{
		Addr:              addr,
		ReadTimeout:       3 * time.Second,
		ReadHeaderTimeout: time.Second,
		// a redemption waits for the attestation batch
		WriteTimeout: time.Minute,
		IdleTimeout:  30 * time.Second,
		Handler:      recovery(http.MaxBytesHandler(r, maxBodySize)),
	}
}

type recoveryLogger struct {
	logger *zap.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("recovered from a panic in an API handler", zap.String("panic", fmt.Sprint(v...)))
}

// Register mounts the bridge endpoints.
func (app *BridgeApp) Register(r *mux.Router) {
	r.HandleFunc("/redeem", app.handleRedeem).Methods(http.MethodPost)
	r.HandleFunc("/proofs", app.handleSubmitProof).Methods(http.MethodPost)
	r.HandleFunc("/proofs/check", app.handleCheckProof).Methods(http.MethodPost)
	r.HandleFunc("/status", app.handleStatus).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/balances/{asset}/{user}", app.handleBalance).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/stats/{asset}", app.handleStats).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/validator-set", app.handleValidatorSet).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/validator-set/history", app.handleHistory).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/validator-set/updates", app.handleUpdateValidatorSet).Methods(http.MethodPost)
}

var errMalformedRequest = errors.New("malformed request")

type errorResponse struct {
	Error  string `json:"error"`
	Result string `json:"result"`
}

type validatorSetResponse struct {
	Version    uint64                 `json:"version"`
	Shape      string                 `json:"shape"`
	Threshold  string                 `json:"threshold"`
	TotalStake uint64                 `json:"total_stake"`
	CreatedAt  int64                  `json:"created_at"`
	Validators []types.ValidatorStake `json:"validators"`
}

type balanceResponse struct {
	Asset   string          `json:"asset"`
	User    types.PublicKey `json:"user"`
	Balance uint64          `json:"balance"`
}

type statsResponse struct {
	Asset       string `json:"asset"`
	Mints       uint64 `json:"mints"`
	TotalMinted uint64 `json:"total_minted"`
	LastNonce   uint64 `json:"last_nonce"`
}

func (app *BridgeApp) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		app.writeError(w, fmt.Errorf("%w: %v", types.ErrMalformedAttestation, err))
		return
	}

	res, err := app.Redeem(r.Context(), &req)
	if err != nil {
		app.writeError(w, err)
		return
	}
	app.writeJSON(w, http.StatusOK, res)
}

// proofParams reads the asset and legacy query parameters.
func proofParams(r *http.Request) (types.AssetID, bool, error) {
	q := r.URL.Query()
	legacy, _ := strconv.ParseBool(q.Get("legacy"))
	if legacy {
		return types.AssetXENCAT, true, nil
	}
	asset, err := types.AssetFromName(q.Get("asset"))
	return asset, false, err
}

func (app *BridgeApp) decodeProof(w http.ResponseWriter, r *http.Request) (types.AssetID, bool, *types.BurnProof, bool) {
	asset, legacy, err := proofParams(r)
	if err != nil {
		app.writeError(w, err)
		return 0, false, nil, false
	}
	var proof types.BurnProof
	if err := json.NewDecoder(r.Body).Decode(&proof); err != nil {
		app.writeError(w, fmt.Errorf("%w: %v", types.ErrBurnRecordMismatch, err))
		return 0, false, nil, false
	}
	return asset, legacy, &proof, true
}

func (app *BridgeApp) handleSubmitProof(w http.ResponseWriter, r *http.Request) {
	asset, legacy, proof, ok := app.decodeProof(w, r)
	if !ok {
		return
	}
	res, err := app.SubmitProof(r.Context(), asset, legacy, proof)
	if err != nil {
		app.writeError(w, err)
		return
	}
	app.writeJSON(w, http.StatusOK, res)
}

func (app *BridgeApp) handleCheckProof(w http.ResponseWriter, r *http.Request) {
	asset, legacy, proof, ok := app.decodeProof(w, r)
	if !ok {
		return
	}
	res, err := app.CheckProof(r.Context(), asset, legacy, proof)
	if err != nil {
		app.writeError(w, err)
		return
	}
	app.writeJSON(w, http.StatusOK, res)
}

func (app *BridgeApp) handleStatus(w http.ResponseWriter, r *http.Request) {
	app.writeJSON(w, http.StatusOK, app.Status(r.Context()))
}

func (app *BridgeApp) handleBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	asset, err := types.AssetFromName(vars["asset"])
	if err != nil {
		app.writeError(w, err)
		return
	}
	var user types.PublicKey
	if err := user.UnmarshalText([]byte(vars["user"])); err != nil {
		app.writeError(w, fmt.Errorf("%w: %v", types.ErrMalformedAttestation, err))
		return
	}

	balance, err := app.minter.Balance(asset, user)
	if err != nil {
		app.writeError(w, err)
		return
	}
	app.writeJSON(w, http.StatusOK, &balanceResponse{Asset: asset.String(), User: user, Balance: balance})
}

func (app *BridgeApp) handleStats(w http.ResponseWriter, r *http.Request) {
	asset, err := types.AssetFromName(mux.Vars(r)["asset"])
	if err != nil {
		app.writeError(w, err)
		return
	}
	stats, err := app.minter.Stats(asset)
	if err != nil {
		app.writeError(w, err)
		return
	}
	app.writeJSON(w, http.StatusOK, &statsResponse{
		Asset:       asset.String(),
		Mints:       stats.Mints,
		TotalMinted: stats.TotalMinted,
		LastNonce:   stats.LastNonce,
	})
}

func (app *BridgeApp) handleValidatorSet(w http.ResponseWriter, r *http.Request) {
	snap, err := app.registry.Current()
	if err != nil {
		app.writeError(w, err)
		return
	}
	app.writeJSON(w, http.StatusOK, &validatorSetResponse{
		Version:    snap.Version,
		Shape:      snap.Shape.String(),
		Threshold:  snap.Threshold.String(),
		TotalStake: snap.TotalStake(),
		CreatedAt:  snap.CreatedAt,
		Validators: snap.Members(),
	})
}

type updateResponse struct {
	Version uint64 `json:"version"`
}

func (app *BridgeApp) handleUpdateValidatorSet(w http.ResponseWriter, r *http.Request) {
	var upd valset.FlatUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		app.writeError(w, fmt.Errorf("%w: %v", errMalformedRequest, err))
		return
	}
	version, err := app.UpdateValidatorSet(&upd)
	if err != nil {
		app.writeError(w, err)
		return
	}
	app.writeJSON(w, http.StatusOK, &updateResponse{Version: version})
}

func (app *BridgeApp) handleHistory(w http.ResponseWriter, _ *http.Request) {
	app.writeJSON(w, http.StatusOK, app.registry.History())
}

func (app *BridgeApp) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set(headerContentType, applicationJson)
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		app.logger.Warn("failed to write API response", zap.Error(err))
	}
}

func (app *BridgeApp) writeError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	if status == http.StatusInternalServerError {
		app.logger.Error("API request failed", zap.Error(err))
	} else {
		app.logger.Debug("API request rejected", zap.Error(err))
	}
	app.writeJSON(w, status, &errorResponse{Error: err.Error(), Result: verifier.ResultLabel(err)})
}

// StatusCode maps a pipeline error to an HTTP status. Retryable errors answer
// 503 and redeemed burns 409.
func StatusCode(err error) int {
	switch {
	case types.IsIdempotent(err):
		return http.StatusConflict
	case types.IsRetryable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, valset.ErrRegistryUninitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrMalformedAttestation),
		errors.Is(err, types.ErrUnknownAsset),
		errors.Is(err, errMalformedRequest):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotRedeemed), errors.Is(err, types.ErrBurnNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrStaleValidatorSetVersion),
		errors.Is(err, valset.ErrEpochNotAdvanced),
		errors.Is(err, valset.ErrRotationTooSoon):
		return http.StatusConflict
	case errors.Is(err, valset.ErrInvalidThreshold),
		errors.Is(err, valset.ErrEmptyValidatorSet),
		errors.Is(err, valset.ErrDuplicateIdentity),
		errors.Is(err, valset.ErrZeroIdentity),
		errors.Is(err, valset.ErrZeroStake),
		errors.Is(err, valset.ErrStakeOverflow):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrInsufficientStake),
		errors.Is(err, types.ErrDuplicateValidator),
		errors.Is(err, types.ErrInvalidValidatorSignature),
		errors.Is(err, types.ErrValidatorNotInSet),
		errors.Is(err, types.ErrInvalidMerkleProof),
		errors.Is(err, types.ErrBurnRecordMismatch),
		errors.Is(err, types.ErrAssetNotMintable),
		errors.Is(err, valset.ErrInsufficientApprovals),
		errors.Is(err, valset.ErrBelowLivenessFloor):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
