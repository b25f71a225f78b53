// Package ledger implements the stamping ledger: a first-seen registry of
// content hashes with per-byte fees, an immutable owner who may change the
// price and withdraw held value, and saturating aggregate counters.
package ledger

import "timelock.mini/tlm/internal/types"

// DefaultPricePerByte is the starting fee rate used by New.
const DefaultPricePerByte = 1000

// Meta is the scalar part of the ledger state.
type Meta struct {
	Owner        types.AccountID `json:"owner"`
	PricePerByte types.Amount    `json:"price_per_byte"`
	TotalHashes  uint32          `json:"total_hashes"`
	TotalVolume  types.Amount    `json:"total_volume"`
	LastUpdated  types.Timestamp `json:"last_updated"`
}

// Snapshot is the full persisted state used to restore a ledger. Accounts
// is only filled by the journal; Ledger.Snapshot leaves it empty.
type Snapshot struct {
	Meta     Meta                             `json:"meta"`
	Records  map[types.Hash]types.Timestamp   `json:"records"`
	Balance  types.Amount                     `json:"balance"`
	Accounts map[types.AccountID]types.Amount `json:"accounts,omitempty"`
}

// State is the ledger's long-lived data. Keys in Records are never
// overwritten or removed.
type State struct {
	Meta
	Records map[types.Hash]types.Timestamp
}

func newState(owner types.AccountID, price types.Amount, now types.Timestamp) State {
	return State{
		Meta: Meta{
			Owner:        owner,
			PricePerByte: price,
			LastUpdated:  now,
		},
		Records: make(map[types.Hash]types.Timestamp),
	}
}

func saturatingInc(n uint32) uint32 {
	if n == ^uint32(0) {
		return n
	}
	return n + 1
}
