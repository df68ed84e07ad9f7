package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/kvdb"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/assembler"
	"github.com/xencat/bridge-verifier/attestor"
	"github.com/xencat/bridge-verifier/clientcontroller"
	"github.com/xencat/bridge-verifier/collector"
	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/metrics"
	"github.com/xencat/bridge-verifier/mint"
	"github.com/xencat/bridge-verifier/store"
	"github.com/xencat/bridge-verifier/types"
	"github.com/xencat/bridge-verifier/valset"
	"github.com/xencat/bridge-verifier/verifier"
)

// RedeemRequest asks the bridge to redeem a burn of the source ledger.
type RedeemRequest struct {
	AssetID   types.AssetID   `json:"asset_id"`
	BurnNonce uint64          `json:"burn_nonce"`
	User      types.PublicKey `json:"user"`
	Amount    uint64          `json:"amount"`
}

// Redemption is the outcome of a redeemed burn.
type Redemption struct {
	Claim               types.Claim `json:"claim"`
	ValidatorSetVersion uint64      `json:"validator_set_version"`
	Slot                uint64      `json:"slot,omitempty"`
	AttestedStake       uint64      `json:"attested_stake,omitempty"`
	Signers             int         `json:"signers,omitempty"`
	Minted              uint64      `json:"minted"`
	// Resumed is set when the burn was verified before and only minted now.
	Resumed bool `json:"resumed,omitempty"`
	Legacy  bool `json:"legacy,omitempty"`
}

// BridgeApp wires the redemption pipeline: attestations are collected from
// the validators, assembled into a proof, verified and minted.
type BridgeApp struct {
	isStarted *atomic.Bool
	stopOnce  sync.Once

	cfg    *config.Config
	db     kvdb.Backend
	ledger clientcontroller.SourceLedger

	registry  *valset.Registry
	markers   *store.RedemptionStore
	poller    *SlotPoller
	collector *collector.Collector
	assembler *assembler.Assembler
	engine    *verifier.Engine
	minter    *mint.Controller
	// attestor is nil unless the node is a validator
	attestor *attestor.Attestor

	metrics *metrics.BridgeMetrics
	logger  *zap.Logger
}

// NewBridgeAppFromConfig connects the source ledger named in the config.
func NewBridgeAppFromConfig(
	ctx context.Context,
	cfg *config.Config,
	db kvdb.Backend,
	signer types.Signer,
	logger *zap.Logger,
) (*BridgeApp, error) {
	ledger, err := clientcontroller.NewRPCSourceLedger(ctx, cfg.SourceConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the source ledger at %s: %w", cfg.SourceConfig.RPCAddr, err)
	}

	logger.Info("successfully connected to the source ledger", zap.String("address", cfg.SourceConfig.RPCAddr))

	return NewBridgeApp(cfg, ledger, db, signer, logger)
}

// NewBridgeApp builds the app over an open database. signer is required when
// the attestor is enabled.
func NewBridgeApp(
	cfg *config.Config,
	ledger clientcontroller.SourceLedger,
	db kvdb.Backend,
	signer types.Signer,
	logger *zap.Logger,
) (*BridgeApp, error) {
	bm := metrics.NewBridgeMetrics()

	setStore, err := store.NewValidatorSetStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initiate validator set store: %w", err)
	}
	registry, err := valset.NewRegistry(cfg.RegistryConfig.RegistryParams(), setStore, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load validator set registry: %w", err)
	}
	markers, err := store.NewRedemptionStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initiate redemption store: %w", err)
	}
	mintStore, err := store.NewMintStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initiate mint store: %w", err)
	}

	assets, err := cfg.MintConfig.MintableAssets()
	if err != nil {
		return nil, err
	}
	minter, err := mint.NewController(assets, markers, mintStore, registry, bm, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create mint controller: %w", err)
	}

	poller, err := NewSlotPoller(logger, cfg.SourceConfig, ledger, bm)
	if err != nil {
		return nil, fmt.Errorf("failed to create slot poller: %w", err)
	}

	col, err := collector.New(cfg.CollectorConfig, bm, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create attestation collector: %w", err)
	}

	var att *attestor.Attestor
	if cfg.AttestorConfig.Enabled {
		if signer == nil {
			return nil, fmt.Errorf("the attestor is enabled but no validator key is loaded")
		}
		att = attestor.New(ledger, signer, registry, metrics.NewAttestorMetrics(), logger)
	}

	return &BridgeApp{
		isStarted: atomic.NewBool(false),
		cfg:       cfg,
		db:        db,
		ledger:    ledger,
		registry:  registry,
		markers:   markers,
		poller:    poller,
		collector: col,
		assembler: assembler.New(cfg.SourceConfig, ledger, cfg.VerifierConfig.MaxMerkleDepth, logger),
		engine:    verifier.NewEngine(cfg.VerifierConfig, registry, poller, markers, bm, logger),
		minter:    minter,
		attestor:  att,
		metrics:   bm,
		logger:    logger,
	}, nil
}

func (app *BridgeApp) Start() error {
	if app.isStarted.Swap(true) {
		return fmt.Errorf("the bridge app is already started")
	}

	app.logger.Info("starting the bridge app")

	if snap, err := app.registry.Current(); err == nil {
		app.metrics.RecordActiveValsetVersion(snap.Version)
	} else {
		app.logger.Warn("no validator set is registered, redemptions fail until one is rotated in")
	}

	if err := app.poller.Start(); err != nil {
		return fmt.Errorf("failed to start the slot poller: %w", err)
	}

	app.logger.Info("the bridge app is successfully started")

	return nil
}

func (app *BridgeApp) Stop() error {
	var stopErr error
	app.stopOnce.Do(func() {
		app.logger.Info("stopping the bridge app")

		if app.poller.IsRunning() {
			if err := app.poller.Stop(); err != nil {
				stopErr = err
			}
		}
		app.collector.Stop()
		if err := app.ledger.Close(); err != nil {
			stopErr = errors.Join(stopErr, err)
		}

		app.isStarted.Store(false)
		app.logger.Info("the bridge app is successfully stopped")
	})
	return stopErr
}

func (app *BridgeApp) Registry() *valset.Registry {
	return app.registry
}

func (app *BridgeApp) Minter() *mint.Controller {
	return app.minter
}

func (app *BridgeApp) Poller() *SlotPoller {
	return app.poller
}

// Attestor returns nil when the node does not attest.
func (app *BridgeApp) Attestor() *attestor.Attestor {
	return app.attestor
}

// Redeem runs the whole pipeline for one burn. A burn that was verified but
// not minted, for example because the process stopped in between, is only
// minted. A burn minted before fails with types.ErrAlreadyProcessed.
func (app *BridgeApp) Redeem(ctx context.Context, req *RedeemRequest) (*Redemption, error) {
	if !req.AssetID.Known() {
		return nil, fmt.Errorf("%w: %d", types.ErrUnknownAsset, req.AssetID)
	}
	if !app.minter.IsMintable(req.AssetID) {
		return nil, fmt.Errorf("%w: %s", types.ErrAssetNotMintable, req.AssetID)
	}

	processed, err := app.minter.IsProcessed(req.AssetID, req.BurnNonce, req.User)
	if err != nil {
		return nil, err
	}
	if processed {
		return nil, fmt.Errorf("%w: asset %s, user %s, nonce %d",
			types.ErrAlreadyProcessed, req.AssetID, req.User, req.BurnNonce)
	}

	claim := types.Claim{AssetID: req.AssetID, BurnNonce: req.BurnNonce, User: req.User, Amount: req.Amount}

	redeemed, err := app.markers.IsRedeemed(req.AssetID, req.User, req.BurnNonce)
	if err != nil {
		return nil, err
	}
	if redeemed {
		return app.resume(ctx, claim)
	}

	set, err := app.registry.Current()
	if err != nil {
		return nil, types.Expected(fmt.Errorf("failed to get the active validator set: %w", err))
	}

	col, err := app.collector.Collect(ctx, set, &collector.Claim{
		AssetID: req.AssetID,
		Request: types.AttestationRequest{
			BurnNonce:           req.BurnNonce,
			User:                req.User,
			ExpectedAmount:      req.Amount,
			ValidatorSetVersion: set.Version,
		},
	})
	if err != nil {
		return nil, err
	}

	proof, err := app.assembler.Assemble(ctx, req.BurnNonce, set.Version, col.Votes)
	if err != nil {
		return nil, err
	}

	res, err := app.engine.Verify(ctx, req.AssetID, req.BurnNonce, proof)
	if err != nil {
		return nil, err
	}

	minted, err := app.minter.Mint(ctx, mint.Request{BurnNonce: req.BurnNonce, AssetID: req.AssetID, User: req.User})
	if err != nil {
		return nil, fmt.Errorf("verified %s but failed to mint: %w", claim.String(), err)
	}

	return &Redemption{
		Claim:               res.Claim,
		ValidatorSetVersion: res.ValidatorSetVersion,
		Slot:                res.Slot,
		AttestedStake:       res.AttestedStake,
		Signers:             res.Signers,
		Minted:              minted,
	}, nil
}

func (app *BridgeApp) resume(ctx context.Context, claim types.Claim) (*Redemption, error) {
	marker, err := app.markers.GetMarker(claim.AssetID, claim.User, claim.BurnNonce)
	if err != nil {
		return nil, err
	}
	if marker.Amount != claim.Amount {
		return nil, fmt.Errorf("%w: verified amount %d, claimed %d",
			types.ErrBurnRecordMismatch, marker.Amount, claim.Amount)
	}

	app.logger.Info("resuming a verified redemption", zap.String("claim", claim.String()))

	minted, err := app.minter.Mint(ctx, mint.Request{BurnNonce: claim.BurnNonce, AssetID: claim.AssetID, User: claim.User})
	if err != nil {
		return nil, err
	}
	return &Redemption{
		Claim:               claim,
		ValidatorSetVersion: marker.ValidatorSetVersion,
		Minted:              minted,
		Resumed:             true,
	}, nil
}

// SubmitProof verifies and mints an externally assembled proof. Legacy proofs
// carry votes over the asset-unaware message.
func (app *BridgeApp) SubmitProof(ctx context.Context, asset types.AssetID, legacy bool, proof *types.BurnProof) (*Redemption, error) {
	if proof == nil {
		return nil, fmt.Errorf("%w: empty proof", types.ErrBurnRecordMismatch)
	}
	if legacy {
		asset = types.AssetXENCAT
	}
	if !app.minter.IsMintable(asset) {
		return nil, fmt.Errorf("%w: %s", types.ErrAssetNotMintable, asset)
	}

	var (
		res *verifier.Result
		err error
	)
	if legacy {
		res, err = app.engine.VerifyLegacy(ctx, proof.BurnNonce, proof)
	} else {
		res, err = app.engine.Verify(ctx, asset, proof.BurnNonce, proof)
	}
	if err != nil {
		return nil, err
	}

	minted, err := app.minter.Mint(ctx, mint.Request{
		BurnNonce: proof.BurnNonce,
		AssetID:   asset,
		User:      proof.User,
		Legacy:    legacy,
	})
	if err != nil {
		return nil, fmt.Errorf("verified %s but failed to mint: %w", res.Claim.String(), err)
	}

	return &Redemption{
		Claim:               res.Claim,
		ValidatorSetVersion: res.ValidatorSetVersion,
		Slot:                res.Slot,
		AttestedStake:       res.AttestedStake,
		Signers:             res.Signers,
		Minted:              minted,
		Legacy:              legacy,
	}, nil
}

// CheckProof runs every verification check without redeeming.
func (app *BridgeApp) CheckProof(ctx context.Context, asset types.AssetID, legacy bool, proof *types.BurnProof) (*verifier.Result, error) {
	if proof == nil {
		return nil, fmt.Errorf("%w: empty proof", types.ErrBurnRecordMismatch)
	}
	return app.engine.Check(ctx, asset, legacy, proof.BurnNonce, proof)
}

// Status summarizes the node for the status endpoint.
type Status struct {
	FinalizedSlot       uint64   `json:"finalized_slot"`
	ValidatorSetVersion uint64   `json:"validator_set_version"`
	Validators          int      `json:"validators"`
	TotalStake          uint64   `json:"total_stake"`
	Threshold           string   `json:"threshold"`
	MintableAssets      []string `json:"mintable_assets"`
	Attestor            bool     `json:"attestor"`
	InflightAttestation int64    `json:"inflight_attestations"`
}

func (app *BridgeApp) Status(ctx context.Context) *Status {
	st := &Status{
		MintableAssets:      app.cfg.MintConfig.Assets,
		Attestor:            app.attestor != nil,
		InflightAttestation: app.collector.Inflight(),
	}
	if slot, err := app.poller.CurrentSlot(ctx); err == nil {
		st.FinalizedSlot = slot
	}
	if snap, err := app.registry.Current(); err == nil {
		st.ValidatorSetVersion = snap.Version
		st.Validators = len(snap.Members())
		st.TotalStake = snap.TotalStake()
		st.Threshold = snap.Threshold.String()
	}
	return st
}

// Rotate replaces the active validator set and updates the version gauge.
func (app *BridgeApp) Rotate(rot valset.Rotation) (uint64, error) {
	version, err := app.registry.Rotate(rot)
	if err != nil {
		return 0, err
	}
	app.metrics.RecordActiveValsetVersion(version)
	return version, nil
}

func (app *BridgeApp) RotateTiered(rot valset.TieredRotation) (uint64, error) {
	version, err := app.registry.RotateTiered(rot)
	if err != nil {
		return 0, err
	}
	app.metrics.RecordActiveValsetVersion(version)
	return version, nil
}

// UpdateValidatorSet activates a flat set approved by the active validators.
func (app *BridgeApp) UpdateValidatorSet(upd *valset.FlatUpdate) (uint64, error) {
	version, err := app.registry.UpdateWithApprovals(upd)
	if err != nil {
		return 0, err
	}
	app.metrics.RecordActiveValsetVersion(version)
	return version, nil
}
