package valset

import "errors"

var (
	ErrRegistryUninitialized = errors.New("validator set registry is not initialized")
	ErrSnapshotNotFound      = errors.New("validator set snapshot not found")
	ErrInvalidThreshold      = errors.New("invalid threshold")
	ErrEmptyValidatorSet     = errors.New("validator set is empty")
	ErrDuplicateIdentity     = errors.New("duplicate validator identity")
	ErrZeroIdentity          = errors.New("zero validator identity")
	ErrZeroStake             = errors.New("validator stake must be positive")
	ErrStakeOverflow         = errors.New("total stake overflows")
	ErrBelowLivenessFloor    = errors.New("validator set stake share is below the liveness floor")
	ErrInvalidPopulation     = errors.New("population stake is smaller than the validator set stake")
	ErrEpochNotAdvanced      = errors.New("rotation epoch must advance")
	ErrRotationTooSoon       = errors.New("minimum rotation interval has not elapsed")
	ErrNotSortedByStake      = errors.New("validators are not sorted by stake descending")
	ErrTotalStakeTooLow      = errors.New("tracked stake is below the minimum")
	ErrShapeMismatch         = errors.New("operation does not apply to the active validator set shape")
	ErrInsufficientApprovals = errors.New("validator set update lacks threshold approvals")
)
