package valset

import (
	"github.com/xencat/bridge-verifier/types"
)

const DefaultHistorySize = 100

// UpdateRecord is the audit entry written for every activated snapshot.
type UpdateRecord struct {
	Version        uint64     `json:"version"`
	Shape          Shape      `json:"shape"`
	Epoch          uint64     `json:"epoch,omitempty"`
	Slot           uint64     `json:"slot"`
	Timestamp      int64      `json:"timestamp"`
	SetHash        types.Hash `json:"set_hash"`
	TotalStake     uint64     `json:"total_stake"`
	ValidatorCount uint16     `json:"validator_count"`
	ApproverCount  uint16     `json:"approver_count,omitempty"`
	ApproverStake  uint64     `json:"approver_stake,omitempty"`
}

// History is a ring buffer of the most recent update records.
type History struct {
	Records      []UpdateRecord
	CurrentIndex uint32
	TotalUpdates uint64
	Size         uint32
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{Size: uint32(size)}
}

func (h *History) Add(rec UpdateRecord) {
	idx := h.CurrentIndex
	if uint32(len(h.Records)) < h.Size {
		h.Records = append(h.Records, rec)
	} else {
		h.Records[idx] = rec
	}
	h.CurrentIndex = (idx + 1) % h.Size
	h.TotalUpdates++
}

func (h *History) Latest() (UpdateRecord, bool) {
	if len(h.Records) == 0 {
		return UpdateRecord{}, false
	}
	idx := h.CurrentIndex
	if idx == 0 {
		idx = uint32(len(h.Records))
	}
	return h.Records[idx-1], true
}

func (h *History) ByVersion(version uint64) (UpdateRecord, bool) {
	for _, r := range h.Records {
		if r.Version == version {
			return r, true
		}
	}
	return UpdateRecord{}, false
}

// Ordered returns the retained records from oldest to newest.
func (h *History) Ordered() []UpdateRecord {
	out := make([]UpdateRecord, 0, len(h.Records))
	if uint32(len(h.Records)) < h.Size {
		return append(out, h.Records...)
	}
	out = append(out, h.Records[h.CurrentIndex:]...)
	return append(out, h.Records[:h.CurrentIndex]...)
}

func (h *History) clone() *History {
	c := *h
	c.Records = append([]UpdateRecord(nil), h.Records...)
	return &c
}
