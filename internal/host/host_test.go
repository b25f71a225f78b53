package host

import (
	"errors"
	"testing"
	"time"

	"timelock.mini/tlm/internal/types"
)

func TestSystemClockNeverGoesBackwards(t *testing.T) {
	readings := []time.Time{
		time.UnixMilli(5_000),
		time.UnixMilli(4_000),
		time.UnixMilli(6_000),
	}
	i := 0
	c := &SystemClock{now: func() time.Time {
		r := readings[i]
		i++
		return r
	}}

	want := []types.Timestamp{5_000, 5_000, 6_000}
	for n, w := range want {
		if got := c.Now(); got != w {
			t.Fatalf("reading %d: got %d want %d", n, got, w)
		}
	}
}

func TestSystemClockFloor(t *testing.T) {
	c := &SystemClock{now: func() time.Time { return time.UnixMilli(100) }}
	c.Floor(500)
	if got := c.Now(); got != 500 {
		t.Fatalf("expected floor to hold, got %d", got)
	}
}

func TestManualClockAdvance(t *testing.T) {
	c := NewManualClock(1_000)
	if got := c.Advance(2 * time.Second); got != 3_000 {
		t.Fatalf("got %d want 3000", got)
	}
	c.Set(10)
	if c.Now() != 10 {
		t.Fatalf("Set did not take effect")
	}
}

func TestTreasuryTransfer(t *testing.T) {
	tr := NewTreasury()
	tr.Receive("alice", types.NewAmount(100))

	err := tr.Transfer("owner", types.NewAmount(101))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if tr.Balance().Cmp(types.NewAmount(100)) != 0 {
		t.Fatalf("failed transfer changed balance to %s", tr.Balance())
	}

	if err := tr.Transfer("owner", types.NewAmount(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if tr.Balance().Cmp(types.NewAmount(60)) != 0 {
		t.Fatalf("balance = %s, want 60", tr.Balance())
	}
	payouts := tr.Payouts()
	if len(payouts) != 1 || payouts[0].To != "owner" {
		t.Fatalf("unexpected payouts %+v", payouts)
	}
}

func TestTreasuryReceiveSaturates(t *testing.T) {
	tr := NewTreasury()
	tr.Seed(types.MaxAmount())
	tr.Receive("alice", types.NewAmount(1))
	if tr.Balance().Cmp(types.MaxAmount()) != 0 {
		t.Fatalf("expected saturation, got %s", tr.Balance())
	}
}

func TestFundedTreasuryDebitsPayer(t *testing.T) {
	tr := NewFundedTreasury()
	if funds, enforced := tr.Funds("alice"); !enforced || !funds.IsZero() {
		t.Fatalf("new account: funds %s enforced %v", funds, enforced)
	}

	tr.Deposit("alice", types.NewAmount(500))
	tr.Receive("alice", types.NewAmount(200))

	if funds, _ := tr.Funds("alice"); funds.Cmp(types.NewAmount(300)) != 0 {
		t.Fatalf("alice funds = %s, want 300", funds)
	}
	if tr.Balance().Cmp(types.NewAmount(200)) != 0 {
		t.Fatalf("held balance = %s, want 200", tr.Balance())
	}
}

func TestUnfundedTreasuryLeavesAccountsAlone(t *testing.T) {
	tr := NewTreasury()
	tr.SeedAccount("alice", types.NewAmount(10))
	tr.Receive("alice", types.NewAmount(50))

	funds, enforced := tr.Funds("alice")
	if enforced {
		t.Fatal("declared-value treasury must not enforce funds")
	}
	if funds.Cmp(types.NewAmount(10)) != 0 {
		t.Fatalf("alice funds = %s, want 10", funds)
	}
}
