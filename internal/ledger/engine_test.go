package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"timelock.mini/tlm/internal/host"
	"timelock.mini/tlm/internal/types"
)

const (
	owner types.AccountID = "owner"
	alice types.AccountID = "alice"
	t0    types.Timestamp = 1_700_000_000_000
)

type recordingSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *recordingSink) Emit(ev types.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) kinds() []types.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

type fakeJournal struct {
	fail    error
	changes []*Change
}

func (j *fakeJournal) Commit(_ context.Context, c *Change) error {
	if j.fail != nil {
		return j.fail
	}
	for i := range c.Events {
		c.Events[i].Seq = uint64(len(j.changes)*10 + i + 1)
	}
	j.changes = append(j.changes, c)
	return nil
}

type fixture struct {
	ledger   *Ledger
	clock    *host.ManualClock
	treasury *host.Treasury
	sink     *recordingSink
	journal  *fakeJournal
}

func setupTest(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:    host.NewManualClock(t0),
		treasury: host.NewTreasury(),
		sink:     &recordingSink{},
		journal:  &fakeJournal{},
	}
	f.ledger = New(Env{
		Clock:    f.clock,
		Treasury: f.treasury,
		Events:   f.sink,
		Journal:  f.journal,
	}, owner)
	return f
}

func hashOf(b byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func pay(n uint64) Call {
	return Call{Caller: alice, Value: types.NewAmount(n)}
}

func TestConstruction(t *testing.T) {
	f := setupTest(t)
	if got := f.ledger.GetPricePerByte(); got.Cmp(types.NewAmount(1000)) != 0 {
		t.Fatalf("default price = %s", got)
	}
	if f.ledger.GetOwner() != owner {
		t.Fatalf("owner = %s", f.ledger.GetOwner())
	}
	stats := f.ledger.GetStats()
	if stats.TotalHashes != 0 || !stats.TotalVolume.IsZero() || stats.LastUpdated != t0 {
		t.Fatalf("unexpected initial stats %+v", stats)
	}

	for _, price := range []types.Amount{types.NewAmount(0), types.MaxAmount()} {
		l := NewWithPrice(Env{Clock: f.clock, Treasury: host.NewTreasury()}, owner, price)
		if l.GetPricePerByte().Cmp(price) != 0 {
			t.Errorf("explicit price %s not kept", price)
		}
	}
}

// Walks the documented scenarios in order against one ledger.
func TestScenarios(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	h1, h2, h3 := hashOf(1), hashOf(2), hashOf(3)

	t1 := f.clock.Advance(time.Second)
	if err := f.ledger.StampHash(ctx, pay(100_000), h1, 100); err != nil {
		t.Fatalf("stamp H1: %v", err)
	}
	stats := f.ledger.GetStats()
	if stats.TotalHashes != 1 || stats.TotalVolume.Cmp(types.NewAmount(100_000)) != 0 || stats.LastUpdated != t1 {
		t.Fatalf("stats after H1 = %+v", stats)
	}

	f.clock.Advance(time.Second)
	if err := f.ledger.StampHash(ctx, pay(50_000), h1, 50); !errors.Is(err, ErrHashAlreadyExists) {
		t.Fatalf("restamp H1: expected HashAlreadyExists, got %v", err)
	}
	if got := f.ledger.GetStats(); got != stats {
		t.Fatalf("stats changed after failed restamp: %+v", got)
	}

	if err := f.ledger.StampHash(ctx, pay(9_999), h2, 10); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("underpaid H2: expected InsufficientPayment, got %v", err)
	}

	if err := f.ledger.StampHash(ctx, pay(1_000_000), h3, 0); !errors.Is(err, ErrInvalidFileSize) {
		t.Fatalf("zero size H3: expected InvalidFileSize, got %v", err)
	}

	if err := f.ledger.SetPricePerByte(ctx, alice, types.NewAmount(2000)); !errors.Is(err, ErrOnlyOwner) {
		t.Fatalf("non-owner set price: expected OnlyOwner, got %v", err)
	}
	if got := f.ledger.GetPricePerByte(); got.Cmp(types.NewAmount(1000)) != 0 {
		t.Fatalf("price changed by non-owner: %s", got)
	}

	if err := f.ledger.SetPricePerByte(ctx, owner, types.NewAmount(2000)); err != nil {
		t.Fatalf("owner set price: %v", err)
	}
	if err := f.ledger.StampHash(ctx, pay(19_999), h2, 10); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("expected new rate to apply, got %v", err)
	}
	if err := f.ledger.StampHash(ctx, pay(20_000), h2, 10); err != nil {
		t.Fatalf("stamp H2 at new rate: %v", err)
	}
}

func TestValidationOrder(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	h := hashOf(9)
	if err := f.ledger.StampHash(ctx, pay(1000), h, 1); err != nil {
		t.Fatalf("stamp: %v", err)
	}

	// Duplicate wins over zero size and missing payment.
	if err := f.ledger.StampHash(ctx, pay(0), h, 0); !errors.Is(err, ErrHashAlreadyExists) {
		t.Fatalf("expected HashAlreadyExists first, got %v", err)
	}
	// Zero size wins over missing payment.
	if err := f.ledger.StampHash(ctx, pay(0), hashOf(10), 0); !errors.Is(err, ErrInvalidFileSize) {
		t.Fatalf("expected InvalidFileSize before payment check, got %v", err)
	}
}

func TestPaymentSufficiency(t *testing.T) {
	cases := []struct {
		name  string
		price types.Amount
		size  uint64
		value types.Amount
		ok    bool
	}{
		{"exact", types.NewAmount(1000), 10, types.NewAmount(10_000), true},
		{"one short", types.NewAmount(1000), 10, types.NewAmount(9_999), false},
		{"overpay", types.NewAmount(1000), 1, types.NewAmount(5_000), true},
		{"free", types.NewAmount(0), 1 << 40, types.NewAmount(0), true},
		{"saturated fee met by max", types.MaxAmount(), 2, types.MaxAmount(), true},
		{"saturated fee", types.MaxAmount(), 2, types.MustParseAmount("340282366920938463463374607431768211454"), false},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := host.NewManualClock(t0)
			l := NewWithPrice(Env{Clock: clock, Treasury: host.NewTreasury()}, owner, tc.price)
			err := l.StampHash(context.Background(), Call{Caller: alice, Value: tc.value}, hashOf(byte(i)), tc.size)
			if tc.ok && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInsufficientPayment) {
				t.Fatalf("expected InsufficientPayment, got %v", err)
			}
		})
	}
}

func TestOverpaymentIsRetained(t *testing.T) {
	f := setupTest(t)
	if err := f.ledger.StampHash(context.Background(), pay(7_500), hashOf(1), 5); err != nil {
		t.Fatalf("stamp: %v", err)
	}
	if got := f.ledger.GetStats().TotalVolume; got.Cmp(types.NewAmount(7_500)) != 0 {
		t.Fatalf("total volume = %s, want full attached value", got)
	}
	if got := f.ledger.GetBalance(); got.Cmp(types.NewAmount(7_500)) != 0 {
		t.Fatalf("balance = %s", got)
	}
}

func TestReadAfterWrite(t *testing.T) {
	f := setupTest(t)
	h := hashOf(4)
	if _, ok := f.ledger.GetTimestamp(h); ok {
		t.Fatal("expected absent hash")
	}
	if f.ledger.VerifyHash(h) {
		t.Fatal("expected VerifyHash false before stamping")
	}

	want := f.clock.Advance(42 * time.Millisecond)
	if err := f.ledger.StampHash(context.Background(), pay(1000), h, 1); err != nil {
		t.Fatalf("stamp: %v", err)
	}
	f.clock.Advance(time.Hour)

	ts, ok := f.ledger.GetTimestamp(h)
	if !ok || ts != want {
		t.Fatalf("GetTimestamp = %d,%v want %d", ts, ok, want)
	}
	if !f.ledger.VerifyHash(h) {
		t.Fatal("expected VerifyHash true")
	}
}

func TestStampEmitsEvents(t *testing.T) {
	f := setupTest(t)
	h := hashOf(5)
	if err := f.ledger.StampHash(context.Background(), pay(3000), h, 3); err != nil {
		t.Fatalf("stamp: %v", err)
	}

	kinds := f.sink.kinds()
	if len(kinds) != 2 || kinds[0] != types.EventHashStamped || kinds[1] != types.EventPaymentReceived {
		t.Fatalf("unexpected events %v", kinds)
	}
	stamped := f.sink.events[0].HashStamped
	if stamped.Hash != h || stamped.Submitter != alice || stamped.Timestamp != t0 {
		t.Fatalf("hash stamped body %+v", stamped)
	}
	paid := f.sink.events[1].PaymentReceived
	if paid.From != alice || paid.FileSize != 3 || paid.Amount.Cmp(types.NewAmount(3000)) != 0 {
		t.Fatalf("payment body %+v", paid)
	}
	if f.sink.events[0].Seq == 0 {
		t.Fatal("expected journal to assign sequence numbers before emission")
	}

	if err := f.ledger.StampHash(context.Background(), pay(0), hashOf(6), 1); err == nil {
		t.Fatal("expected failure")
	}
	if len(f.sink.kinds()) != 2 {
		t.Fatal("failed call emitted events")
	}
}

func TestJournalFailureLeavesNoEffect(t *testing.T) {
	f := setupTest(t)
	f.journal.fail = errors.New("disk full")
	before := f.ledger.Snapshot()

	err := f.ledger.StampHash(context.Background(), pay(1000), hashOf(1), 1)
	if CodeOf(err) != CodeStorage {
		t.Fatalf("expected storage error, got %v", err)
	}
	if f.ledger.VerifyHash(hashOf(1)) {
		t.Fatal("hash recorded despite failed commit")
	}
	if f.ledger.GetStats() != (types.Stats{TotalVolume: before.Meta.TotalVolume, LastUpdated: before.Meta.LastUpdated}) {
		t.Fatalf("stats changed: %+v", f.ledger.GetStats())
	}
	if !f.ledger.GetBalance().IsZero() || len(f.sink.kinds()) != 0 {
		t.Fatal("treasury or events touched by failed commit")
	}
}

func TestSetPriceEvent(t *testing.T) {
	f := setupTest(t)
	if err := f.ledger.SetPricePerByte(context.Background(), owner, types.MaxAmount()); err != nil {
		t.Fatalf("set price: %v", err)
	}
	ev := f.sink.events[0]
	if ev.Kind != types.EventPriceUpdated || ev.PriceUpdated.OldPrice.Cmp(types.NewAmount(1000)) != 0 ||
		ev.PriceUpdated.NewPrice.Cmp(types.MaxAmount()) != 0 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if err := f.ledger.SetPricePerByte(context.Background(), owner, types.NewAmount(0)); err != nil {
		t.Fatalf("zero price rejected: %v", err)
	}
}

func TestWithdraw(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	if err := f.ledger.StampHash(ctx, pay(5000), hashOf(1), 5); err != nil {
		t.Fatalf("stamp: %v", err)
	}

	if err := f.ledger.Withdraw(ctx, alice, types.NewAmount(1)); !errors.Is(err, ErrOnlyOwner) {
		t.Fatalf("non-owner withdraw: expected OnlyOwner, got %v", err)
	}

	err := f.ledger.Withdraw(ctx, owner, types.NewAmount(5001))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected TransferFailed, got %v", err)
	}
	if !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("transfer failure should also match InsufficientPayment: %v", err)
	}
	if !errors.Is(err, host.ErrInsufficientFunds) {
		t.Fatalf("expected host cause to be wrapped: %v", err)
	}

	if err := f.ledger.Withdraw(ctx, owner, types.NewAmount(2000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := f.ledger.GetBalance(); got.Cmp(types.NewAmount(3000)) != 0 {
		t.Fatalf("balance after withdraw = %s", got)
	}
	if got := f.ledger.GetStats().TotalVolume; got.Cmp(types.NewAmount(5000)) != 0 {
		t.Fatalf("withdraw must not change total volume, got %s", got)
	}
	last := f.journal.changes[len(f.journal.changes)-1]
	if last.Withdrawal == nil || last.Balance.Cmp(types.NewAmount(3000)) != 0 {
		t.Fatalf("journaled withdrawal %+v", last)
	}
}

func TestWithdrawJournalFailureRestoresBalance(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	if err := f.ledger.StampHash(ctx, pay(1000), hashOf(1), 1); err != nil {
		t.Fatalf("stamp: %v", err)
	}
	f.journal.fail = errors.New("locked")
	if err := f.ledger.Withdraw(ctx, owner, types.NewAmount(600)); CodeOf(err) != CodeStorage {
		t.Fatalf("expected storage error, got %v", err)
	}
	if got := f.ledger.GetBalance(); got.Cmp(types.NewAmount(1000)) != 0 {
		t.Fatalf("balance = %s, want 1000", got)
	}
}

func TestTotalHashesSaturates(t *testing.T) {
	clock := host.NewManualClock(t0)
	l := Restore(Env{Clock: clock, Treasury: host.NewTreasury()}, Snapshot{
		Meta: Meta{
			Owner:        owner,
			PricePerByte: types.NewAmount(0),
			TotalHashes:  ^uint32(0),
			TotalVolume:  types.MaxAmount(),
		},
	})
	if err := l.StampHash(context.Background(), Call{Caller: alice, Value: types.NewAmount(10)}, hashOf(1), 1); err != nil {
		t.Fatalf("stamp: %v", err)
	}
	stats := l.GetStats()
	if stats.TotalHashes != ^uint32(0) || stats.TotalVolume.Cmp(types.MaxAmount()) != 0 {
		t.Fatalf("counters wrapped: %+v", stats)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	if err := f.ledger.StampHash(ctx, pay(2000), hashOf(1), 2); err != nil {
		t.Fatalf("stamp: %v", err)
	}
	snap := f.ledger.Snapshot()

	tr := host.NewTreasury()
	tr.Seed(snap.Balance)
	restored := Restore(Env{Clock: f.clock, Treasury: tr}, snap)
	if !restored.VerifyHash(hashOf(1)) || restored.GetOwner() != owner {
		t.Fatal("restored ledger lost state")
	}
	if restored.GetStats() != f.ledger.GetStats() {
		t.Fatalf("stats differ: %+v vs %+v", restored.GetStats(), f.ledger.GetStats())
	}
	if restored.GetBalance().Cmp(types.NewAmount(2000)) != 0 {
		t.Fatalf("balance = %s", restored.GetBalance())
	}
}

func TestConcurrentStampsOfSameHash(t *testing.T) {
	f := setupTest(t)
	h := hashOf(7)
	var wg sync.WaitGroup
	results := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.ledger.StampHash(context.Background(), pay(1000), h, 1)
		}()
	}
	wg.Wait()
	close(results)

	var ok, dup int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrHashAlreadyExists):
			dup++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 || dup != 15 {
		t.Fatalf("ok=%d dup=%d", ok, dup)
	}
	if f.ledger.GetStats().TotalHashes != 1 {
		t.Fatalf("total hashes = %d", f.ledger.GetStats().TotalHashes)
	}
}

func TestQuote(t *testing.T) {
	f := setupTest(t)
	if got := f.ledger.Quote(1024); got.Cmp(types.NewAmount(1_024_000)) != 0 {
		t.Fatalf("quote = %s", got)
	}
	if got := RequiredPayment(types.MaxAmount(), 3); got.Cmp(types.MaxAmount()) != 0 {
		t.Fatalf("required payment should saturate, got %s", got)
	}
}

func setupFundedTest(t *testing.T) *fixture {
	t.Helper()
	f := setupTest(t)
	f.treasury = host.NewFundedTreasury()
	f.ledger = New(Env{
		Clock:    f.clock,
		Treasury: f.treasury,
		Events:   f.sink,
		Journal:  f.journal,
	}, owner)
	return f
}

func TestFundedStampDebitsCaller(t *testing.T) {
	f := setupFundedTest(t)
	ctx := context.Background()

	// Payment is checked before funds.
	if err := f.ledger.StampHash(ctx, pay(999), hashOf(1), 1); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}
	if err := f.ledger.StampHash(ctx, pay(1000), hashOf(1), 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds without a deposit, got %v", err)
	}
	if len(f.journal.changes) != 0 || f.ledger.VerifyHash(hashOf(1)) {
		t.Fatal("unfunded stamp left a trace")
	}

	if err := f.ledger.Deposit(ctx, alice, alice, types.NewAmount(5000)); !errors.Is(err, ErrOnlyOwner) {
		t.Fatalf("non-owner deposit: expected ErrOnlyOwner, got %v", err)
	}
	if err := f.ledger.Deposit(ctx, owner, alice, types.NewAmount(1500)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := f.ledger.StampHash(ctx, pay(1200), hashOf(1), 1); err != nil {
		t.Fatalf("funded stamp: %v", err)
	}

	funds, enforced := f.ledger.GetFunds(alice)
	if !enforced || funds.Cmp(types.NewAmount(300)) != 0 {
		t.Fatalf("alice funds = %s enforced %v, want 300", funds, enforced)
	}
	if f.ledger.GetBalance().Cmp(types.NewAmount(1200)) != 0 {
		t.Fatalf("held balance = %s, want 1200", f.ledger.GetBalance())
	}

	last := f.journal.changes[len(f.journal.changes)-1]
	if len(last.Accounts) != 1 || last.Accounts[0].Account != alice || last.Accounts[0].Balance.Cmp(types.NewAmount(300)) != 0 {
		t.Fatalf("stamp change carries accounts %+v", last.Accounts)
	}

	if err := f.ledger.StampHash(ctx, pay(1000), hashOf(2), 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds after spending, got %v", err)
	}

	want := []types.EventKind{types.EventDeposited, types.EventHashStamped, types.EventPaymentReceived}
	got := f.sink.kinds()
	if len(got) != len(want) {
		t.Fatalf("events %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events %v, want %v", got, want)
		}
	}
}

func TestDepositJournalFailureLeavesFundsUntouched(t *testing.T) {
	f := setupFundedTest(t)
	f.journal.fail = errors.New("disk full")

	err := f.ledger.Deposit(context.Background(), owner, alice, types.NewAmount(10))
	if CodeOf(err) != CodeStorage {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if funds, _ := f.ledger.GetFunds(alice); !funds.IsZero() {
		t.Fatalf("failed deposit credited %s", funds)
	}
}
