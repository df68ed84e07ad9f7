package valset

import (
	"fmt"

	"github.com/minio/sha256-simd"

	"github.com/xencat/bridge-verifier/types"
)

const validatorUpdateTag = "VALIDATOR_UPDATE"

// Approval is a current validator's signature over an update message.
type Approval struct {
	Validator types.PublicKey `json:"validator"`
	Signature types.Signature `json:"signature"`
}

// FlatUpdate replaces the active set with a new flat set, authorised by the
// current validators instead of the rotation authority.
type FlatUpdate struct {
	Validators []types.ValidatorStake `json:"validators"`
	Threshold  Threshold              `json:"threshold"`
	Approvals  []Approval             `json:"approvals"`
	Slot       uint64                 `json:"slot"`
}

// UpdateMessage is the digest current validators sign to approve a new set:
// sha256("VALIDATOR_UPDATE" || version || (identity || stake)... || threshold)
func UpdateMessage(currentVersion uint64, vals []types.ValidatorStake, th Threshold) []byte {
	buf := make([]byte, 0, len(validatorUpdateTag)+8+len(vals)*(types.PublicKeySize+8)+25)
	buf = append(buf, validatorUpdateTag...)
	buf = appendUint64(buf, currentVersion)
	for _, v := range vals {
		buf = append(buf, v.Identity[:]...)
		buf = appendUint64(buf, v.Stake)
	}
	buf = append(buf, th.Bytes()...)

	sum := sha256.Sum256(buf)
	return sum[:]
}

// tallyApprovals checks approvals against the active snapshot and returns the
// approving stake and signer count.
func tallyApprovals(current *Snapshot, msg []byte, approvals []Approval) (uint64, int, error) {
	seen := make(map[types.PublicKey]struct{}, len(approvals))
	var stake uint64
	for _, a := range approvals {
		if _, ok := seen[a.Validator]; ok {
			return 0, 0, fmt.Errorf("%w: approver %s", types.ErrDuplicateValidator, a.Validator)
		}
		seen[a.Validator] = struct{}{}

		s, ok := current.StakeOf(a.Validator)
		if !ok {
			return 0, 0, fmt.Errorf("%w: approver %s", types.ErrValidatorNotInSet, a.Validator)
		}
		if !types.VerifySignature(a.Validator, msg, a.Signature) {
			return 0, 0, fmt.Errorf("%w: approver %s", types.ErrInvalidValidatorSignature, a.Validator)
		}
		stake += s
	}

	return stake, len(seen), nil
}
