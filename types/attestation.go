package types

import (
	"fmt"
)

// AttestationPath is the route validator nodes serve attestations on.
const AttestationPath = "/api/v1/attest"

// ValidatorStake is a validator identity with its voting weight.
type ValidatorStake struct {
	Identity PublicKey `json:"identity"`
	Stake    uint64    `json:"stake"`
}

// ValidatorVote is a signed attestation of a single validator.
type ValidatorVote struct {
	Validator PublicKey `json:"validator"`
	Stake     uint64    `json:"stake"`
	Signature Signature `json:"signature"`
	Timestamp uint64    `json:"timestamp"`
}

// BurnProof is the bundle submitted for verification.
type BurnProof struct {
	BurnNonce           uint64          `json:"burn_nonce"`
	User                PublicKey       `json:"user"`
	Amount              uint64          `json:"amount"`
	AssetID             AssetID         `json:"asset_id"`
	ValidatorSetVersion uint64          `json:"validator_set_version"`
	BurnRecordRaw       []byte          `json:"burn_record_raw"`
	Slot                uint64          `json:"slot"`
	BlockHash           Hash            `json:"block_hash"`
	StateRoot           Hash            `json:"state_root"`
	MerkleProof         []Hash          `json:"merkle_proof"`
	ValidatorVotes      []ValidatorVote `json:"validator_votes"`
}

// Claim identifies a burn that is being redeemed.
type Claim struct {
	AssetID   AssetID   `json:"asset_id"`
	BurnNonce uint64    `json:"burn_nonce"`
	User      PublicKey `json:"user"`
	Amount    uint64    `json:"amount"`
}

func (c *Claim) String() string {
	return fmt.Sprintf("%s/%s/%d", c.AssetID, c.User, c.BurnNonce)
}

// AttestationRequest is sent to a validator node.
type AttestationRequest struct {
	BurnNonce           uint64    `json:"burn_nonce"`
	User                PublicKey `json:"user"`
	ExpectedAmount      uint64    `json:"expected_amount"`
	ValidatorSetVersion uint64    `json:"validator_set_version"`
}

func (r *AttestationRequest) Validate() error {
	if r.User.IsZero() {
		return fmt.Errorf("%w: empty user", ErrMalformedAttestation)
	}
	if r.ExpectedAmount == 0 {
		return fmt.Errorf("%w: zero amount", ErrMalformedAttestation)
	}
	if r.ValidatorSetVersion == 0 {
		return fmt.Errorf("%w: zero validator set version", ErrMalformedAttestation)
	}
	return nil
}

// AttestationResponse is a validator's signed answer. Pointer fields make a
// missing field distinguishable from a zero value.
type AttestationResponse struct {
	Validator           *PublicKey `json:"validator"`
	AssetID             *uint8     `json:"asset_id"`
	AssetName           string     `json:"asset_name"`
	BurnNonce           *uint64    `json:"burn_nonce"`
	Amount              *uint64    `json:"amount"`
	ValidatorSetVersion *uint64    `json:"validator_set_version"`
	Signature           *Signature `json:"signature"`
	Timestamp           *uint64    `json:"timestamp"`
}

// Validate checks the response against the request it answers and converts it
// into a vote. The signature itself is not checked here.
func (r *AttestationResponse) Validate(req *AttestationRequest) (AssetID, *ValidatorVote, error) {
	switch {
	case r.Validator == nil:
		return 0, nil, fmt.Errorf("%w: missing validator", ErrMalformedAttestation)
	case r.AssetID == nil:
		return 0, nil, fmt.Errorf("%w: missing asset id", ErrMalformedAttestation)
	case r.BurnNonce == nil:
		return 0, nil, fmt.Errorf("%w: missing burn nonce", ErrMalformedAttestation)
	case r.Amount == nil:
		return 0, nil, fmt.Errorf("%w: missing amount", ErrMalformedAttestation)
	case r.ValidatorSetVersion == nil:
		return 0, nil, fmt.Errorf("%w: missing validator set version", ErrMalformedAttestation)
	case r.Signature == nil:
		return 0, nil, fmt.Errorf("%w: missing signature", ErrMalformedAttestation)
	case r.Timestamp == nil:
		return 0, nil, fmt.Errorf("%w: missing timestamp", ErrMalformedAttestation)
	}

	asset, err := AssetFromID(*r.AssetID)
	if err != nil {
		return 0, nil, err
	}
	if r.AssetName != "" && r.AssetName != asset.String() {
		return 0, nil, fmt.Errorf("%w: asset name %s does not match id %d", ErrMalformedAttestation, r.AssetName, *r.AssetID)
	}

	if *r.BurnNonce != req.BurnNonce {
		return 0, nil, fmt.Errorf("%w: nonce %d, requested %d", ErrMalformedAttestation, *r.BurnNonce, req.BurnNonce)
	}
	if *r.Amount != req.ExpectedAmount {
		return 0, nil, fmt.Errorf("%w: amount %d, requested %d", ErrMalformedAttestation, *r.Amount, req.ExpectedAmount)
	}
	if *r.ValidatorSetVersion != req.ValidatorSetVersion {
		return 0, nil, fmt.Errorf("%w: version %d, requested %d", ErrMalformedAttestation, *r.ValidatorSetVersion, req.ValidatorSetVersion)
	}

	return asset, &ValidatorVote{
		Validator: *r.Validator,
		Signature: *r.Signature,
		Timestamp: *r.Timestamp,
	}, nil
}

// NewAttestationResponse builds a complete response.
func NewAttestationResponse(validator PublicKey, asset AssetID, nonce, amount, version uint64, sig Signature, ts uint64) *AttestationResponse {
	a := uint8(asset)
	return &AttestationResponse{
		Validator:           &validator,
		AssetID:             &a,
		AssetName:           asset.String(),
		BurnNonce:           &nonce,
		Amount:              &amount,
		ValidatorSetVersion: &version,
		Signature:           &sig,
		Timestamp:           &ts,
	}
}
