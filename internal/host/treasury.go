package host

import (
	"errors"
	"fmt"
	"sync"

	"timelock.mini/tlm/internal/types"
)

// ErrInsufficientFunds is returned when a transfer exceeds the held balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Payout is one completed outbound transfer.
type Payout struct {
	To     types.AccountID
	Amount types.Amount
}

// Treasury tracks the value held on behalf of the ledger and the spendable
// funds of each account. Outbound transfers are recorded as payouts;
// settling them off-node is left to the operator, as is collecting the
// off-node payments that back deposits.
type Treasury struct {
	mu       sync.Mutex
	balance  types.Amount
	payouts  []Payout
	funded   bool
	accounts map[types.AccountID]types.Amount
}

// NewTreasury returns a treasury that accepts whatever value a caller
// declares. Account funds are tracked but never enforced.
func NewTreasury() *Treasury {
	return &Treasury{accounts: make(map[types.AccountID]types.Amount)}
}

// NewFundedTreasury returns a treasury where attached value is paid out of
// the caller's deposited funds.
func NewFundedTreasury() *Treasury {
	t := NewTreasury()
	t.funded = true
	return t
}

// Funds returns the spendable balance of account and whether attached value
// must be covered by it.
func (t *Treasury) Funds(account types.AccountID) (types.Amount, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accounts[account], t.funded
}

// Deposit credits account, saturating at 2^128-1.
func (t *Treasury) Deposit(account types.AccountID, amount types.Amount) {
	t.mu.Lock()
	t.accounts[account] = t.accounts[account].SaturatingAdd(amount)
	t.mu.Unlock()
}

// SeedAccount sets the funds of account, used when restoring from storage.
func (t *Treasury) SeedAccount(account types.AccountID, amount types.Amount) {
	t.mu.Lock()
	t.accounts[account] = amount
	t.mu.Unlock()
}

// Seed sets the balance, used when restoring from storage.
func (t *Treasury) Seed(amount types.Amount) {
	t.mu.Lock()
	t.balance = amount
	t.mu.Unlock()
}

func (t *Treasury) Balance() types.Amount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance
}

// Receive credits amount to the held balance, saturating at 2^128-1. A
// funded treasury also debits it from the payer, who must have been
// checked with Funds first.
func (t *Treasury) Receive(from types.AccountID, amount types.Amount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balance = t.balance.SaturatingAdd(amount)
	if t.funded {
		rest, ok := t.accounts[from].CheckedSub(amount)
		if !ok {
			rest = types.Amount{}
		}
		t.accounts[from] = rest
	}
}

func (t *Treasury) Transfer(to types.AccountID, amount types.Amount) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rest, ok := t.balance.CheckedSub(amount)
	if !ok {
		return fmt.Errorf("transfer %s to %s with balance %s: %w", amount, to.Short(), t.balance, ErrInsufficientFunds)
	}
	t.balance = rest
	t.payouts = append(t.payouts, Payout{To: to, Amount: amount})
	return nil
}

// Payouts returns the transfers made since the treasury was created.
func (t *Treasury) Payouts() []Payout {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Payout, len(t.payouts))
	copy(out, t.payouts)
	return out
}
