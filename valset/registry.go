package valset

import (
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/types"
)

const (
	DefaultLivenessFloorBps    = 1500
	DefaultMinRotationInterval = time.Hour
	DefaultSnapshotCacheSize   = 16
)

type Config struct {
	// LivenessFloorBps is the minimum share, in basis points, of the full
	// population stake that a new set must carry.
	LivenessFloorBps    uint64
	MinRotationInterval time.Duration
	// MinTrackedStake is the minimum total stake of a tiered config.
	MinTrackedStake uint64
	HistorySize     int
	CacheSize       int
}

func DefaultConfig() Config {
	return Config{
		LivenessFloorBps:    DefaultLivenessFloorBps,
		MinRotationInterval: DefaultMinRotationInterval,
		HistorySize:         DefaultHistorySize,
		CacheSize:           DefaultSnapshotCacheSize,
	}
}

// Store persists snapshots together with the update history.
type Store interface {
	// CommitSnapshot writes the snapshot and the history atomically.
	CommitSnapshot(snap *Snapshot, history *History) error
	GetSnapshot(version uint64) (*Snapshot, error)
	// LatestSnapshot returns ErrSnapshotNotFound when nothing was committed.
	LatestSnapshot() (*Snapshot, error)
	GetHistory() (*History, error)
}

// Rotation is an authority-driven replacement of the active set.
type Rotation struct {
	Validators []types.ValidatorStake `json:"validators"`
	Threshold  Threshold              `json:"threshold"`
	// Population is the total stake of the full known validator population.
	// Zero means the set is the whole population.
	Population uint64 `json:"population"`
	Slot       uint64 `json:"slot"`
}

type TieredRotation struct {
	Config     TieredConfig `json:"config"`
	Threshold  Threshold    `json:"threshold"`
	Population uint64       `json:"population"`
	Slot       uint64       `json:"slot"`
}

// Registry holds the versioned validator set. Rotation produces a new
// immutable snapshot; older snapshots stay readable but inactive.
type Registry struct {
	mu sync.RWMutex

	cfg     Config
	store   Store
	current *Snapshot
	history *History
	cache   *lru.Cache[uint64, *Snapshot]

	logger *zap.Logger
	clock  func() time.Time
}

func NewRegistry(cfg Config, store Store, logger *zap.Logger) (*Registry, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultSnapshotCacheSize
	}
	cache, err := lru.New[uint64, *Snapshot](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}

	r := &Registry{
		cfg:    cfg,
		store:  store,
		cache:  cache,
		logger: logger,
		clock:  time.Now,
	}

	latest, err := store.LatestSnapshot()
	switch {
	case err == nil:
		r.current = latest
		cache.Add(latest.Version, latest)
	case errors.Is(err, ErrSnapshotNotFound):
	default:
		return nil, fmt.Errorf("failed to load the latest validator set: %w", err)
	}

	history, err := store.GetHistory()
	switch {
	case err == nil:
		r.history = history
	case errors.Is(err, ErrSnapshotNotFound):
		r.history = NewHistory(cfg.HistorySize)
	default:
		return nil, fmt.Errorf("failed to load validator set history: %w", err)
	}

	if r.current != nil {
		logger.Info("loaded validator set",
			zap.Uint64("version", r.current.Version),
			zap.Stringer("shape", r.current.Shape),
			zap.Uint64("total_stake", r.current.Total),
		)
	}

	return r, nil
}

// SetClock overrides the time source.
func (r *Registry) SetClock(clock func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
}

func (r *Registry) Current() (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.current == nil {
		return nil, ErrRegistryUninitialized
	}
	return r.current, nil
}

// IsActive reports whether version is the active version. Superseded
// versions are readable through Snapshot but never active.
func (r *Registry) IsActive(version uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.current != nil && r.current.Version == version
}

// Snapshot returns the snapshot of any committed version.
func (r *Registry) Snapshot(version uint64) (*Snapshot, error) {
	r.mu.RLock()
	cur := r.current
	r.mu.RUnlock()

	if cur != nil && cur.Version == version {
		return cur, nil
	}
	if s, ok := r.cache.Get(version); ok {
		return s, nil
	}

	s, err := r.store.GetSnapshot(version)
	if err != nil {
		return nil, err
	}
	r.cache.Add(version, s)
	return s, nil
}

// History returns the retained update records, oldest first.
func (r *Registry) History() []UpdateRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.history.Ordered()
}

// Latest returns the record of the last update.
func (r *Registry) Latest() (UpdateRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.history.Latest()
}

func (r *Registry) nextVersion() uint64 {
	if r.current == nil {
		return 1
	}
	return r.current.Version + 1
}

// Rotate replaces the active set with a flat weighted set.
func (r *Registry) Rotate(rot Rotation) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	snap, err := NewFlatSnapshot(r.nextVersion(), rot.Validators, rot.Threshold, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("invalid validator set: %w", err)
	}
	if err := r.checkLiveness(snap.Total, rot.Population); err != nil {
		return 0, err
	}

	return snap.Version, r.commit(snap, UpdateRecord{Slot: rot.Slot, Timestamp: now.Unix()})
}

// RotateTiered replaces the active set with a tiered config. When the active
// set is tiered too, the epoch must advance and the minimum rotation interval
// must have elapsed.
func (r *Registry) RotateTiered(rot TieredRotation) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	cfg := rot.Config
	if err := cfg.Validate(r.cfg.MinTrackedStake); err != nil {
		return 0, fmt.Errorf("invalid tiered config: %w", err)
	}

	if r.current != nil && r.current.Shape == ShapeTiered {
		prev := r.current.Tiered
		if cfg.Epoch <= prev.Epoch {
			return 0, fmt.Errorf("%w: %d <= %d", ErrEpochNotAdvanced, cfg.Epoch, prev.Epoch)
		}
		elapsed := now.Sub(time.Unix(prev.LastUpdate, 0))
		if elapsed < r.cfg.MinRotationInterval {
			return 0, fmt.Errorf("%w: %v elapsed, %v required", ErrRotationTooSoon, elapsed, r.cfg.MinRotationInterval)
		}
	}

	if err := r.checkLiveness(cfg.TotalTrackedStake, rot.Population); err != nil {
		return 0, err
	}

	cfg.LastUpdate = now.Unix()
	snap, err := NewTieredSnapshot(r.nextVersion(), &cfg, rot.Threshold, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("invalid validator set: %w", err)
	}

	return snap.Version, r.commit(snap, UpdateRecord{Epoch: cfg.Epoch, Slot: rot.Slot, Timestamp: now.Unix()})
}

// UpdateWithApprovals activates a new flat set approved by at least the
// threshold of the active set.
func (r *Registry) UpdateWithApprovals(upd *FlatUpdate) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return 0, ErrRegistryUninitialized
	}

	now := r.clock()
	snap, err := NewFlatSnapshot(r.nextVersion(), upd.Validators, upd.Threshold, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("invalid validator set: %w", err)
	}

	msg := UpdateMessage(r.current.Version, upd.Validators, upd.Threshold)
	stake, count, err := tallyApprovals(r.current, msg, upd.Approvals)
	if err != nil {
		return 0, err
	}
	if !r.current.ThresholdMet(stake, count) {
		return 0, fmt.Errorf("%w: %d approvers with stake %d, need %s of %d",
			ErrInsufficientApprovals, count, stake, r.current.Threshold, r.current.Total)
	}

	return snap.Version, r.commit(snap, UpdateRecord{
		Slot:          upd.Slot,
		Timestamp:     now.Unix(),
		ApproverCount: uint16(count),
		ApproverStake: stake,
	})
}

func (r *Registry) checkLiveness(setStake, population uint64) error {
	if population == 0 {
		return nil
	}
	if population < setStake {
		return fmt.Errorf("%w: %d < %d", ErrInvalidPopulation, population, setStake)
	}
	if !meetsLivenessFloor(setStake, population, r.cfg.LivenessFloorBps) {
		return fmt.Errorf("%w: %d of %d, floor %d bps", ErrBelowLivenessFloor, setStake, population, r.cfg.LivenessFloorBps)
	}
	return nil
}

// commit must be called with the write lock held.
func (r *Registry) commit(snap *Snapshot, rec UpdateRecord) error {
	rec.Version = snap.Version
	rec.Shape = snap.Shape
	rec.SetHash = snap.Hash()
	rec.TotalStake = snap.Total
	rec.ValidatorCount = uint16(len(snap.Validators))

	history := r.history.clone()
	history.Add(rec)

	if err := r.store.CommitSnapshot(snap, history); err != nil {
		return fmt.Errorf("failed to persist validator set %d: %w", snap.Version, err)
	}

	r.current = snap
	r.history = history
	r.cache.Add(snap.Version, snap)

	r.logger.Info("activated validator set",
		zap.Uint64("version", snap.Version),
		zap.Stringer("shape", snap.Shape),
		zap.Int("validators", len(snap.Validators)),
		zap.Uint64("total_stake", snap.Total),
		zap.Stringer("threshold", snap.Threshold),
	)

	return nil
}
