package ledger

import (
	"context"
	"log"
	"sync"

	"timelock.mini/tlm/internal/types"
)

// Ledger serializes every call behind one mutex. Mutations are journaled
// before they are applied in memory, so a failed call leaves no trace.
type Ledger struct {
	mu    sync.Mutex
	env   Env
	state State
}

// New creates a ledger owned by caller at DefaultPricePerByte.
func New(env Env, caller types.AccountID) *Ledger {
	return NewWithPrice(env, caller, types.NewAmount(DefaultPricePerByte))
}

// NewWithPrice creates a ledger owned by caller. The price is not validated:
// zero and 2^128-1 are both accepted.
func NewWithPrice(env Env, caller types.AccountID, price types.Amount) *Ledger {
	env = env.withDefaults()
	return &Ledger{
		env:   env,
		state: newState(caller, price, env.Clock.Now()),
	}
}

// Restore rebuilds a ledger from a persisted snapshot. The treasury is not
// touched; callers seed it with snap.Balance themselves.
func Restore(env Env, snap Snapshot) *Ledger {
	records := make(map[types.Hash]types.Timestamp, len(snap.Records))
	for h, ts := range snap.Records {
		records[h] = ts
	}
	return &Ledger{
		env:   env.withDefaults(),
		state: State{Meta: snap.Meta, Records: records},
	}
}

func (e Env) withDefaults() Env {
	if e.Events == nil {
		e.Events = discardSink{}
	}
	return e
}

// RequiredPayment is price*size, saturating at 2^128-1.
func RequiredPayment(price types.Amount, fileSize uint64) types.Amount {
	return price.SaturatingMul(fileSize)
}

// StampHash registers hash at the current clock time. Validation order is
// fixed: duplicate hash, then zero size, then payment, then (on a funded
// treasury) the caller's funds. The whole attached value is kept,
// overpayment included.
func (l *Ledger) StampHash(ctx context.Context, call Call, hash types.Hash, fileSize uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.state.Records[hash]; exists {
		return ErrHashAlreadyExists
	}
	if fileSize == 0 {
		return ErrInvalidFileSize
	}
	required := RequiredPayment(l.state.PricePerByte, fileSize)
	if call.Value.Less(required) {
		return ErrInsufficientPayment
	}
	var accounts []AccountFunds
	if funds, enforced := l.env.Treasury.Funds(call.Caller); enforced {
		rest, ok := funds.CheckedSub(call.Value)
		if !ok {
			return ErrInsufficientFunds
		}
		accounts = append(accounts, AccountFunds{Account: call.Caller, Balance: rest})
	}

	now := l.env.Clock.Now()
	meta := l.state.Meta
	meta.TotalHashes = saturatingInc(meta.TotalHashes)
	meta.TotalVolume = meta.TotalVolume.SaturatingAdd(call.Value)
	meta.LastUpdated = now

	change := &Change{
		Op:       types.TxStampHash,
		Meta:     meta,
		Balance:  l.env.Treasury.Balance().SaturatingAdd(call.Value),
		Accounts: accounts,
		Record: &Record{
			Hash:      hash,
			Timestamp: now,
			Submitter: call.Caller,
			FileSize:  fileSize,
			Payment:   call.Value,
		},
		Events: []types.Event{
			types.NewHashStampedEvent(hash, now, call.Caller),
			types.NewPaymentReceivedEvent(now, call.Caller, call.Value, fileSize),
		},
	}
	if err := l.commit(ctx, change); err != nil {
		return err
	}

	l.state.Records[hash] = now
	l.state.Meta = meta
	l.env.Treasury.Receive(call.Caller, call.Value)
	l.emit(change.Events)
	return nil
}

// SetPricePerByte replaces the fee rate. Only the owner may call it and no
// bounds are enforced.
func (l *Ledger) SetPricePerByte(ctx context.Context, caller types.AccountID, newPrice types.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.state.Owner {
		return ErrOnlyOwner
	}

	oldPrice := l.state.PricePerByte
	meta := l.state.Meta
	meta.PricePerByte = newPrice
	change := &Change{
		Op:      types.TxSetPrice,
		Meta:    meta,
		Balance: l.env.Treasury.Balance(),
		Events: []types.Event{
			types.NewPriceUpdatedEvent(l.env.Clock.Now(), oldPrice, newPrice),
		},
	}
	if err := l.commit(ctx, change); err != nil {
		return err
	}

	l.state.Meta = meta
	l.emit(change.Events)
	return nil
}

// Withdraw moves amount from the held balance to the owner. A refused
// transfer returns ErrTransferFailed.
func (l *Ledger) Withdraw(ctx context.Context, caller types.AccountID, amount types.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.state.Owner {
		return ErrOnlyOwner
	}
	if err := l.env.Treasury.Transfer(caller, amount); err != nil {
		return wrap(CodeTransferFailed, "transfer failed", err)
	}

	now := l.env.Clock.Now()
	change := &Change{
		Op:         types.TxWithdraw,
		Meta:       l.state.Meta,
		Balance:    l.env.Treasury.Balance(),
		Withdrawal: &Withdrawal{To: caller, Amount: amount, At: now},
		Events: []types.Event{
			types.NewWithdrawnEvent(now, caller, amount),
		},
	}
	if err := l.commit(ctx, change); err != nil {
		// Undo the transfer so the held balance matches the journal.
		l.env.Treasury.Receive(caller, amount)
		return err
	}

	l.emit(change.Events)
	return nil
}

// Deposit credits to with amount of spendable funds. Only the owner may call
// it; the value is assumed to have been received off-node.
func (l *Ledger) Deposit(ctx context.Context, caller, to types.AccountID, amount types.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.state.Owner {
		return ErrOnlyOwner
	}

	funds, _ := l.env.Treasury.Funds(to)
	after := funds.SaturatingAdd(amount)
	change := &Change{
		Op:       types.TxDeposit,
		Meta:     l.state.Meta,
		Balance:  l.env.Treasury.Balance(),
		Accounts: []AccountFunds{{Account: to, Balance: after}},
		Events: []types.Event{
			types.NewDepositedEvent(l.env.Clock.Now(), to, amount, after),
		},
	}
	if err := l.commit(ctx, change); err != nil {
		return err
	}

	l.env.Treasury.Deposit(to, amount)
	l.emit(change.Events)
	return nil
}

func (l *Ledger) commit(ctx context.Context, change *Change) error {
	if l.env.Journal == nil {
		return nil
	}
	if err := l.env.Journal.Commit(ctx, change); err != nil {
		log.Printf("ERROR: journal commit for %s failed: %v", change.Op, err)
		return wrap(CodeStorage, "commit "+string(change.Op), err)
	}
	return nil
}

func (l *Ledger) emit(events []types.Event) {
	for _, ev := range events {
		l.env.Events.Emit(ev)
	}
}

// GetTimestamp returns the registration time of hash and whether it exists.
func (l *Ledger) GetTimestamp(hash types.Hash) (types.Timestamp, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts, ok := l.state.Records[hash]
	return ts, ok
}

func (l *Ledger) VerifyHash(hash types.Hash) bool {
	_, ok := l.GetTimestamp(hash)
	return ok
}

func (l *Ledger) GetPricePerByte() types.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.PricePerByte
}

// Quote is the fee required to stamp a file of fileSize bytes right now.
func (l *Ledger) Quote(fileSize uint64) types.Amount {
	return RequiredPayment(l.GetPricePerByte(), fileSize)
}

func (l *Ledger) GetStats() types.Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return types.Stats{
		TotalHashes: l.state.TotalHashes,
		TotalVolume: l.state.TotalVolume,
		LastUpdated: l.state.LastUpdated,
	}
}

func (l *Ledger) GetOwner() types.AccountID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Owner
}

// GetBalance reports the value held by the treasury.
func (l *Ledger) GetBalance() types.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.env.Treasury.Balance()
}

// GetFunds reports the spendable funds of account and whether stamps must
// be paid from them.
func (l *Ledger) GetFunds(account types.AccountID) (types.Amount, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.env.Treasury.Funds(account)
}

// Snapshot copies the current state for persistence.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	records := make(map[types.Hash]types.Timestamp, len(l.state.Records))
	for h, ts := range l.state.Records {
		records[h] = ts
	}
	return Snapshot{
		Meta:    l.state.Meta,
		Records: records,
		Balance: l.env.Treasury.Balance(),
	}
}
