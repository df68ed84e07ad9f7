package types

import (
	"errors"
)

var (
	ErrInvalidValidatorSignature = errors.New("invalid validator signature")
	ErrValidatorNotInSet         = errors.New("validator is not in the active validator set")
	ErrDuplicateValidator        = errors.New("duplicate validator in attestation")
	ErrInsufficientStake         = errors.New("attested stake is below the threshold")
	ErrStaleValidatorSetVersion  = errors.New("validator set version does not match the active version")
	ErrInsufficientFinality      = errors.New("burn block has not reached the finality depth")
	ErrInvalidMerkleProof        = errors.New("merkle inclusion proof is invalid")
	ErrBurnRecordMismatch        = errors.New("burn record does not match the claim")
	ErrAlreadyRedeemed           = errors.New("burn has already been redeemed")
	ErrUnknownAsset              = errors.New("unknown asset")
	ErrAssetNotMintable          = errors.New("asset is not mintable by this controller")

	ErrInsufficientAttestations = errors.New("insufficient attestations")
	ErrBurnNotFound             = errors.New("burn record not found")
	ErrCommitmentUnavailable    = errors.New("state commitment unavailable")
	ErrNotRedeemed              = errors.New("no redemption marker for the burn")
	ErrAlreadyProcessed         = errors.New("burn has already been minted")
	ErrMalformedAttestation     = errors.New("malformed attestation")
)

// ExpectedError marks failures that are caused by liveness rather than by an
// invalid claim. Callers may retry them later.
type ExpectedError struct {
	error
}

func (e ExpectedError) Error() string {
	if e.error == nil {
		return "expected error"
	}
	return e.error.Error()
}

func (e ExpectedError) Unwrap() error {
	return e.error
}

// Is adds support for errors.Is usage on isExpected
func (ExpectedError) Is(err error) bool {
	_, isExpected := err.(ExpectedError)
	return isExpected
}

// Expected wraps an error in ExpectedError struct
func Expected(err error) error {
	return ExpectedError{err}
}

// IsExpected checks if error is an instance of ExpectedError
func IsExpected(err error) bool {
	return errors.Is(err, ExpectedError{})
}

var retryableErrors = []error{
	ErrInsufficientAttestations,
	ErrCommitmentUnavailable,
	ErrInsufficientFinality,
}

// IsRetryable reports whether the claim may succeed if submitted again later.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsExpected(err) {
		return true
	}
	for _, e := range retryableErrors {
		if errors.Is(err, e) {
			return true
		}
	}

	return false
}

// IsIdempotent reports whether the claim has already been honored, which the
// caller can treat as a no-op.
func IsIdempotent(err error) bool {
	return errors.Is(err, ErrAlreadyRedeemed) || errors.Is(err, ErrAlreadyProcessed)
}
