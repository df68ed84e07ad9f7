package valset

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sort"
	"sync"

	"github.com/minio/sha256-simd"

	"github.com/xencat/bridge-verifier/types"
)

// Shape tags which validator set variant a snapshot holds.
type Shape uint8

const (
	ShapeFlat Shape = iota + 1
	ShapeTiered
)

func (s Shape) String() string {
	switch s {
	case ShapeFlat:
		return "flat"
	case ShapeTiered:
		return "tiered"
	default:
		return "unknown"
	}
}

// StakeTable is the capability the threshold logic works against. Both the
// flat and the tiered shapes implement it through Snapshot.
type StakeTable interface {
	StakeOf(identity types.PublicKey) (uint64, bool)
	TotalStake() uint64
	Members() []types.ValidatorStake
}

// Snapshot is an immutable, versioned validator set.
type Snapshot struct {
	Version    uint64
	Shape      Shape
	Validators []types.ValidatorStake
	Total      uint64
	Threshold  Threshold
	Tiered     *TieredConfig
	CreatedAt  int64

	indexOnce sync.Once
	index     map[types.PublicKey]uint64
}

var _ StakeTable = (*Snapshot)(nil)

func newSnapshot(version uint64, shape Shape, vals []types.ValidatorStake, th Threshold, createdAt int64) (*Snapshot, error) {
	total, err := validateMembers(vals)
	if err != nil {
		return nil, err
	}
	if err := th.Validate(len(vals)); err != nil {
		return nil, err
	}

	members := make([]types.ValidatorStake, len(vals))
	copy(members, vals)

	return &Snapshot{
		Version:    version,
		Shape:      shape,
		Validators: members,
		Total:      total,
		Threshold:  th,
		CreatedAt:  createdAt,
	}, nil
}

// NewFlatSnapshot builds a flat weighted snapshot.
func NewFlatSnapshot(version uint64, vals []types.ValidatorStake, th Threshold, createdAt int64) (*Snapshot, error) {
	return newSnapshot(version, ShapeFlat, vals, th, createdAt)
}

// NewTieredSnapshot builds a snapshot over the primary and fallback
// validators of a tiered config.
func NewTieredSnapshot(version uint64, cfg *TieredConfig, th Threshold, createdAt int64) (*Snapshot, error) {
	s, err := newSnapshot(version, ShapeTiered, cfg.All(), th, createdAt)
	if err != nil {
		return nil, err
	}
	c := *cfg
	s.Tiered = &c
	return s, nil
}

func validateMembers(vals []types.ValidatorStake) (uint64, error) {
	if len(vals) == 0 {
		return 0, ErrEmptyValidatorSet
	}

	seen := make(map[types.PublicKey]struct{}, len(vals))
	var total uint64
	for _, v := range vals {
		if v.Identity.IsZero() {
			return 0, ErrZeroIdentity
		}
		if v.Stake == 0 {
			return 0, fmt.Errorf("%w: %s", ErrZeroStake, v.Identity)
		}
		if _, ok := seen[v.Identity]; ok {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateIdentity, v.Identity)
		}
		seen[v.Identity] = struct{}{}

		var carry uint64
		total, carry = bits.Add64(total, v.Stake, 0)
		if carry != 0 {
			return 0, ErrStakeOverflow
		}
	}

	return total, nil
}

func (s *Snapshot) buildIndex() {
	s.index = make(map[types.PublicKey]uint64, len(s.Validators))
	for _, v := range s.Validators {
		s.index[v.Identity] = v.Stake
	}
}

func (s *Snapshot) StakeOf(identity types.PublicKey) (uint64, bool) {
	s.indexOnce.Do(s.buildIndex)
	stake, ok := s.index[identity]
	return stake, ok
}

func (s *Snapshot) TotalStake() uint64 {
	return s.Total
}

func (s *Snapshot) Members() []types.ValidatorStake {
	out := make([]types.ValidatorStake, len(s.Validators))
	copy(out, s.Validators)
	return out
}

// ThresholdMet reports whether distinct signers with the given stake reach
// the snapshot's threshold.
func (s *Snapshot) ThresholdMet(stake uint64, signers int) bool {
	return s.Threshold.Met(stake, signers, s.Total)
}

// Hash returns sha256 over the identities in ascending order, each followed
// by its stake.
func (s *Snapshot) Hash() types.Hash {
	return hashValidators(s.Validators)
}

func hashValidators(vals []types.ValidatorStake) types.Hash {
	sorted := make([]types.ValidatorStake, len(vals))
	copy(sorted, vals)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Identity.Compare(sorted[j].Identity) < 0
	})

	h := sha256.New()
	for _, v := range sorted {
		h.Write(v.Identity[:])
		h.Write(binary.LittleEndian.AppendUint64(nil, v.Stake))
	}

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func appendUint64(b []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(b, v)
}
