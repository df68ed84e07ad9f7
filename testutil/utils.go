package testutil

import (
	"testing"

	"github.com/golang/mock/gomock"

	"github.com/xencat/bridge-verifier/testutil/mocks"
)

// PrepareMockedSlotProvider returns a slot provider fixed at currentSlot.
// Commitments are left to the caller.
func PrepareMockedSlotProvider(t *testing.T, currentSlot uint64) *mocks.MockSlotProvider {
	ctl := gomock.NewController(t)
	slots := mocks.NewMockSlotProvider(ctl)
	slots.EXPECT().CurrentSlot(gomock.Any()).Return(currentSlot, nil).AnyTimes()
	return slots
}

// PrepareMockedSourceLedger returns a source ledger finalized at slot.
func PrepareMockedSourceLedger(t *testing.T, finalized uint64) *mocks.MockSourceLedger {
	ctl := gomock.NewController(t)
	ledger := mocks.NewMockSourceLedger(ctl)
	ledger.EXPECT().FinalizedSlot(gomock.Any()).Return(finalized, nil).AnyTimes()
	ledger.EXPECT().Close().Return(nil).AnyTimes()
	return ledger
}
