package valset

import (
	"fmt"
	"math/bits"

	"github.com/xencat/bridge-verifier/types"
)

const (
	NumPrimary  = 3
	NumFallback = 4
)

// TieredConfig tracks the top validators of a much larger population: the
// primary tier is queried first and the fallback tier covers for it.
type TieredConfig struct {
	Epoch             uint64                            `json:"epoch"`
	LastUpdate        int64                             `json:"last_update"`
	Primary           [NumPrimary]types.ValidatorStake  `json:"primary"`
	Fallback          [NumFallback]types.ValidatorStake `json:"fallback"`
	TotalTrackedStake uint64                            `json:"total_tracked_stake"`
}

func (c *TieredConfig) All() []types.ValidatorStake {
	all := make([]types.ValidatorStake, 0, NumPrimary+NumFallback)
	all = append(all, c.Primary[:]...)
	all = append(all, c.Fallback[:]...)
	return all
}

// IsPrimary reports whether identity is in the primary tier.
func (c *TieredConfig) IsPrimary(identity types.PublicKey) bool {
	for _, v := range c.Primary {
		if v.Identity == identity {
			return true
		}
	}
	return false
}

// Validate checks the structural rules of a tiered config: positive stakes,
// stake descending across both tiers, no duplicates, and a tracked total that
// equals the sum and reaches minTotal.
func (c *TieredConfig) Validate(minTotal uint64) error {
	all := c.All()

	var total uint64
	seen := make(map[types.PublicKey]struct{}, len(all))
	for i, v := range all {
		if v.Identity.IsZero() {
			return ErrZeroIdentity
		}
		if v.Stake == 0 {
			return fmt.Errorf("%w: %s", ErrZeroStake, v.Identity)
		}
		if _, ok := seen[v.Identity]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateIdentity, v.Identity)
		}
		seen[v.Identity] = struct{}{}
		if i > 0 && all[i-1].Stake < v.Stake {
			return fmt.Errorf("%w: position %d", ErrNotSortedByStake, i)
		}

		var carry uint64
		total, carry = bits.Add64(total, v.Stake, 0)
		if carry != 0 {
			return ErrStakeOverflow
		}
	}

	if c.TotalTrackedStake != total {
		return fmt.Errorf("tracked stake %d does not match the sum %d", c.TotalTrackedStake, total)
	}
	if total < minTotal {
		return fmt.Errorf("%w: %d < %d", ErrTotalStakeTooLow, total, minTotal)
	}

	return nil
}
