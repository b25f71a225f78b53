package ledger

import (
	"context"

	"timelock.mini/tlm/internal/types"
)

// Clock supplies the platform timestamp for the current call.
type Clock interface {
	Now() types.Timestamp
}

// Treasury holds the value received by the ledger and the spendable funds
// of each account. Funds reports whether attached value must be covered by
// those funds; Receive then debits the payer.
type Treasury interface {
	Balance() types.Amount
	Receive(from types.AccountID, amount types.Amount)
	Transfer(to types.AccountID, amount types.Amount) error
	Funds(account types.AccountID) (types.Amount, bool)
	Deposit(account types.AccountID, amount types.Amount)
}

// EventSink receives events after a call has committed. Emit must not block.
type EventSink interface {
	Emit(types.Event)
}

// Journal durably records the effects of one mutating call. Commit is all
// or nothing; it may assign Seq on the change's events.
type Journal interface {
	Commit(ctx context.Context, change *Change) error
}

// Env injects the host collaborators. Clock and Treasury are required;
// Events and Journal are optional.
type Env struct {
	Clock    Clock
	Treasury Treasury
	Events   EventSink
	Journal  Journal
}

// Call carries the identity and attached value of one invocation.
type Call struct {
	Caller types.AccountID
	Value  types.Amount
}

// Record is the persisted detail of a registration. The in-memory ledger
// only keeps Hash -> Timestamp; the rest is for audit queries.
type Record struct {
	Seq       uint64          `json:"seq,omitempty"`
	Hash      types.Hash      `json:"hash"`
	Timestamp types.Timestamp `json:"timestamp"`
	Submitter types.AccountID `json:"submitter"`
	FileSize  uint64          `json:"file_size"`
	Payment   types.Amount    `json:"payment"`
}

// Withdrawal is the persisted detail of a successful withdraw.
type Withdrawal struct {
	To     types.AccountID `json:"to"`
	Amount types.Amount    `json:"amount"`
	At     types.Timestamp `json:"at"`
}

// AccountFunds is the spendable balance of one account after a call.
type AccountFunds struct {
	Account types.AccountID `json:"account"`
	Balance types.Amount    `json:"balance"`
}

// Change is everything one successful mutating call writes. Meta, Balance
// and Accounts are the values after the call.
type Change struct {
	Op         types.TxType
	Meta       Meta
	Balance    types.Amount
	Accounts   []AccountFunds
	Record     *Record
	Withdrawal *Withdrawal
	Events     []types.Event
}

type discardSink struct{}

func (discardSink) Emit(types.Event) {}
