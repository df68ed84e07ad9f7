package mint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/metrics"
	"github.com/xencat/bridge-verifier/store"
	"github.com/xencat/bridge-verifier/types"
	"github.com/xencat/bridge-verifier/valset"
)

// Request asks to mint the amount of a verified burn.
type Request struct {
	BurnNonce uint64
	AssetID   types.AssetID
	User      types.PublicKey
	// Legacy selects a marker of the asset-unaware scheme.
	Legacy bool
}

type MarkerReader interface {
	GetMarker(asset types.AssetID, user types.PublicKey, nonce uint64) (*store.RedemptionMarker, error)
	GetLegacyMarker(user types.PublicKey, nonce uint64) (*store.RedemptionMarker, error)
}

type Ledger interface {
	RecordMint(p *store.ProcessedBurn) error
	GetProcessed(asset types.AssetID, nonce uint64, user types.PublicKey) (*store.ProcessedBurn, error)
	Balance(asset types.AssetID, user types.PublicKey) (uint64, error)
	Stats(asset types.AssetID) (*store.MintStats, error)
}

// Snapshots gives access to committed validator set versions.
type Snapshots interface {
	Snapshot(version uint64) (*valset.Snapshot, error)
}

// Controller credits verified burns to users, once per burn, for the assets
// it is configured to mint.
type Controller struct {
	assets  map[types.AssetID]struct{}
	markers MarkerReader
	ledger  Ledger
	sets    Snapshots

	metrics *metrics.BridgeMetrics
	logger  *zap.Logger
	clock   func() time.Time
}

func NewController(
	assets []types.AssetID,
	markers MarkerReader,
	ledger Ledger,
	sets Snapshots,
	metrics *metrics.BridgeMetrics,
	logger *zap.Logger,
) (*Controller, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("no mintable assets configured")
	}

	set := make(map[types.AssetID]struct{}, len(assets))
	for _, a := range assets {
		if !a.Known() {
			return nil, fmt.Errorf("%w: %d", types.ErrUnknownAsset, a)
		}
		set[a] = struct{}{}
	}

	return &Controller{
		assets:  set,
		markers: markers,
		ledger:  ledger,
		sets:    sets,
		metrics: metrics,
		logger:  logger,
		clock:   time.Now,
	}, nil
}

func (c *Controller) IsMintable(asset types.AssetID) bool {
	_, ok := c.assets[asset]
	return ok
}

// Mint credits the amount recorded in the redemption marker of the request
// and returns it. A burn that was minted before fails with
// types.ErrAlreadyProcessed.
func (c *Controller) Mint(ctx context.Context, req Request) (uint64, error) {
	amount, err := c.mint(ctx, req)
	if c.metrics != nil {
		label := "success"
		switch {
		case errors.Is(err, types.ErrAlreadyProcessed):
			label = "duplicate"
		case err != nil:
			label = "rejected"
		}
		c.metrics.RecordMint(req.AssetID.String(), label, amount)
	}
	return amount, err
}

func (c *Controller) mint(_ context.Context, req Request) (uint64, error) {
	if !req.AssetID.Known() {
		return 0, fmt.Errorf("%w: %d", types.ErrUnknownAsset, req.AssetID)
	}
	if !c.IsMintable(req.AssetID) {
		return 0, fmt.Errorf("%w: %s", types.ErrAssetNotMintable, req.AssetID)
	}
	if req.Legacy && req.AssetID != types.AssetXENCAT {
		return 0, fmt.Errorf("%w: legacy burns are %s only", types.ErrAssetNotMintable, types.AssetXENCAT)
	}

	var (
		marker *store.RedemptionMarker
		err    error
	)
	if req.Legacy {
		marker, err = c.markers.GetLegacyMarker(req.User, req.BurnNonce)
	} else {
		marker, err = c.markers.GetMarker(req.AssetID, req.User, req.BurnNonce)
	}
	switch {
	case errors.Is(err, store.ErrMarkerNotFound):
		return 0, fmt.Errorf("%w: asset %s, user %s, nonce %d", types.ErrNotRedeemed, req.AssetID, req.User, req.BurnNonce)
	case err != nil:
		return 0, fmt.Errorf("failed to read redemption marker: %w", err)
	}

	if _, err := c.sets.Snapshot(marker.ValidatorSetVersion); err != nil {
		return 0, fmt.Errorf("%w: marker references validator set %d: %v",
			types.ErrStaleValidatorSetVersion, marker.ValidatorSetVersion, err)
	}

	// legacy and asset-aware redemptions of one burn share the processed key
	if err := c.ledger.RecordMint(&store.ProcessedBurn{
		AssetID:     req.AssetID,
		User:        req.User,
		BurnNonce:   req.BurnNonce,
		Amount:      marker.Amount,
		ProcessedAt: c.clock().Unix(),
	}); err != nil {
		return 0, err
	}

	c.logger.Info("minted",
		zap.Stringer("asset", req.AssetID),
		zap.String("user", req.User.String()),
		zap.Uint64("nonce", req.BurnNonce),
		zap.Uint64("amount", marker.Amount),
	)

	return marker.Amount, nil
}

func (c *Controller) Balance(asset types.AssetID, user types.PublicKey) (uint64, error) {
	return c.ledger.Balance(asset, user)
}

func (c *Controller) Stats(asset types.AssetID) (*store.MintStats, error) {
	return c.ledger.Stats(asset)
}

// IsProcessed reports whether the burn was already minted.
func (c *Controller) IsProcessed(asset types.AssetID, nonce uint64, user types.PublicKey) (bool, error) {
	_, err := c.ledger.GetProcessed(asset, nonce, user)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrProcessedBurnNotFound):
		return false, nil
	default:
		return false, err
	}
}
