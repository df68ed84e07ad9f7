package types

// BlockCommitment identifies a finalized source ledger block and the state
// root committed in it.
type BlockCommitment struct {
	Slot      uint64 `json:"slot"`
	BlockHash Hash   `json:"block_hash"`
	StateRoot Hash   `json:"state_root"`
}
