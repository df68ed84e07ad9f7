package valset

import (
	"fmt"

	"github.com/holiman/uint256"
)

type ThresholdKind uint8

const (
	// ThresholdFraction requires ceil(total * Numerator / Denominator) stake.
	ThresholdFraction ThresholdKind = iota + 1
	// ThresholdCount requires Count distinct valid signers.
	ThresholdCount
)

type Threshold struct {
	Kind        ThresholdKind `json:"kind"`
	Numerator   uint64        `json:"numerator,omitempty"`
	Denominator uint64        `json:"denominator,omitempty"`
	Count       uint64        `json:"count,omitempty"`
}

func TwoThirds() Threshold {
	return Threshold{Kind: ThresholdFraction, Numerator: 2, Denominator: 3}
}

func Fraction(num, den uint64) Threshold {
	return Threshold{Kind: ThresholdFraction, Numerator: num, Denominator: den}
}

func CountOf(n uint64) Threshold {
	return Threshold{Kind: ThresholdCount, Count: n}
}

func (th Threshold) Validate(validatorCount int) error {
	switch th.Kind {
	case ThresholdFraction:
		if th.Denominator == 0 || th.Numerator == 0 {
			return fmt.Errorf("%w: zero fraction term", ErrInvalidThreshold)
		}
		if th.Numerator > th.Denominator {
			return fmt.Errorf("%w: fraction %d/%d exceeds one", ErrInvalidThreshold, th.Numerator, th.Denominator)
		}
	case ThresholdCount:
		if th.Count == 0 {
			return fmt.Errorf("%w: zero signer count", ErrInvalidThreshold)
		}
		if th.Count > uint64(validatorCount) {
			return fmt.Errorf("%w: %d signers required out of %d validators", ErrInvalidThreshold, th.Count, validatorCount)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidThreshold, th.Kind)
	}
	return nil
}

// RequiredStake returns the minimum stake that satisfies a fraction threshold
// over total, rounding up. It returns 0 for count thresholds.
func (th Threshold) RequiredStake(total uint64) uint64 {
	if th.Kind != ThresholdFraction || th.Denominator == 0 {
		return 0
	}
	x := new(uint256.Int).Mul(uint256.NewInt(total), uint256.NewInt(th.Numerator))
	den := uint256.NewInt(th.Denominator)
	q := new(uint256.Int).Div(x, den)
	if !new(uint256.Int).Mod(x, den).IsZero() {
		q.AddUint64(q, 1)
	}
	return q.Uint64()
}

// Met reports whether the given distinct signer stake and count reach the
// threshold of a set whose total stake is total.
func (th Threshold) Met(stake uint64, signers int, total uint64) bool {
	switch th.Kind {
	case ThresholdFraction:
		return stake >= th.RequiredStake(total)
	case ThresholdCount:
		return uint64(signers) >= th.Count
	default:
		return false
	}
}

// Bytes is the canonical encoding used in update approvals.
func (th Threshold) Bytes() []byte {
	b := make([]byte, 0, 25)
	b = append(b, byte(th.Kind))
	b = appendUint64(b, th.Numerator)
	b = appendUint64(b, th.Denominator)
	b = appendUint64(b, th.Count)
	return b
}

func (th Threshold) String() string {
	if th.Kind == ThresholdCount {
		return fmt.Sprintf("%d signers", th.Count)
	}
	return fmt.Sprintf("%d/%d stake", th.Numerator, th.Denominator)
}

// meetsLivenessFloor reports whether stake/population >= floorBps/10000.
func meetsLivenessFloor(stake, population, floorBps uint64) bool {
	lhs := new(uint256.Int).Mul(uint256.NewInt(stake), uint256.NewInt(10_000))
	rhs := new(uint256.Int).Mul(uint256.NewInt(population), uint256.NewInt(floorBps))
	return !lhs.Lt(rhs)
}
