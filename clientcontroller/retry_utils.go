package clientcontroller

import (
	"errors"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/xencat/bridge-verifier/types"
)

var (
	RtyAttNum = uint(5)
	RtyAtt    = retry.Attempts(RtyAttNum)
	RtyDel    = retry.Delay(time.Millisecond * 400)
	RtyErr    = retry.LastErrorOnly(true)
)

// these errors are considered unrecoverable because they are answers of the
// ledger rather than failures to reach it
var unrecoverableErrors = []error{
	types.ErrBurnNotFound,
	types.ErrUnknownAsset,
	types.ErrBurnRecordMismatch,
}

// IsUnrecoverable returns true when the error is in the unrecoverableErrors list
func IsUnrecoverable(err error) bool {
	for _, e := range unrecoverableErrors {
		if errors.Is(err, e) {
			return true
		}
	}

	return false
}
