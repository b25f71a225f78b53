package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"timelock.mini/tlm/internal/config"
	"timelock.mini/tlm/internal/events"
	"timelock.mini/tlm/internal/ledger"
	"timelock.mini/tlm/internal/store"
	"timelock.mini/tlm/internal/types"
)

func TestOpenLedgerCreatesThenRestores(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	cfg := config.Defaults()
	cfg.InitialPrice = "3"

	st, err := store.NewStore(dbPath)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	l, err := openLedger(ctx, st, events.NewBus(4), "owner", cfg)
	if err != nil {
		t.Fatalf("openLedger: %v", err)
	}
	if l.GetPricePerByte().String() != "3" {
		t.Fatalf("price %s", l.GetPricePerByte())
	}

	var h types.Hash
	h[0] = 9
	if err := l.StampHash(ctx, ledger.Call{Caller: "alice", Value: types.NewAmount(50)}, h, 10); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("stamp without deposit: expected ErrInsufficientFunds, got %v", err)
	}
	if err := l.Deposit(ctx, "owner", "alice", types.NewAmount(80)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := l.StampHash(ctx, ledger.Call{Caller: "alice", Value: types.NewAmount(50)}, h, 10); err != nil {
		t.Fatalf("StampHash: %v", err)
	}
	ts, _ := l.GetTimestamp(h)
	st.Close()

	st, err = store.NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	cfg.InitialPrice = "999"
	restored, err := openLedger(ctx, st, events.NewBus(4), "someone-else", cfg)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.GetOwner() != "owner" || restored.GetPricePerByte().String() != "3" {
		t.Fatalf("restore lost meta: owner %s price %s", restored.GetOwner(), restored.GetPricePerByte())
	}
	if got, ok := restored.GetTimestamp(h); !ok || got != ts {
		t.Fatalf("restored timestamp %d, want %d", got, ts)
	}
	if restored.GetBalance().String() != "50" {
		t.Fatalf("restored balance %s", restored.GetBalance())
	}
	if funds, enforced := restored.GetFunds("alice"); !enforced || funds.String() != "30" {
		t.Fatalf("restored alice funds %s enforced %v", funds, enforced)
	}

	var h2 types.Hash
	h2[0] = 10
	if err := restored.StampHash(ctx, ledger.Call{Caller: "alice", Value: types.NewAmount(3)}, h2, 1); err != nil {
		t.Fatalf("StampHash after restore: %v", err)
	}
	if ts2, _ := restored.GetTimestamp(h2); ts2 < ts {
		t.Fatalf("clock went backwards after restore: %d < %d", ts2, ts)
	}
}

func TestNewAnchorerWithoutHedera(t *testing.T) {
	st, err := store.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()

	anc, closeFn, err := newAnchorer(st, "owner", config.Defaults())
	if err != nil || anc == nil {
		t.Fatalf("newAnchorer: %v", err)
	}
	closeFn()

	cfg := config.Defaults()
	cfg.HederaTopicID = "not-a-topic"
	cfg.HederaAccountID = "0.0.2"
	cfg.HederaPrivateKey = "bad"
	if _, _, err := newAnchorer(st, "owner", cfg); err == nil {
		t.Fatal("expected invalid hedera config to fail")
	}
}

func TestOpenLedgerTrustingDeclaredValue(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()

	cfg := config.Defaults()
	cfg.TrustDeclaredValue = true
	l, err := openLedger(ctx, st, events.NewBus(4), "owner", cfg)
	if err != nil {
		t.Fatalf("openLedger: %v", err)
	}
	var h types.Hash
	h[0] = 1
	if err := l.StampHash(ctx, ledger.Call{Caller: "alice", Value: types.NewAmount(1000)}, h, 1); err != nil {
		t.Fatalf("declared-value stamp: %v", err)
	}
}

// A database that stops opening must not be swapped for an older backup or
// a fresh ledger, or stamps made since that backup could be made again.
func TestCorruptDatabaseKeepsLaterStamps(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	cfg := config.Defaults()

	st, err := store.NewStore(dbPath)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	l, err := openLedger(ctx, st, events.NewBus(4), "owner", cfg)
	if err != nil {
		t.Fatalf("openLedger: %v", err)
	}
	if err := l.Deposit(ctx, "owner", "alice", types.NewAmount(10_000)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	var h1, h2 types.Hash
	h1[0], h2[0] = 1, 2
	if err := l.StampHash(ctx, ledger.Call{Caller: "alice", Value: types.NewAmount(1000)}, h1, 1); err != nil {
		t.Fatalf("stamp H1: %v", err)
	}
	if _, err := st.BackupCurrent(5); err != nil {
		t.Fatalf("BackupCurrent: %v", err)
	}
	if err := l.StampHash(ctx, ledger.Call{Caller: "alice", Value: types.NewAmount(1000)}, h2, 1); err != nil {
		t.Fatalf("stamp H2: %v", err)
	}
	st.Close()

	if err := os.WriteFile(dbPath, []byte("corrupted"), 0o600); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, err := store.NewStore(dbPath); !errors.Is(err, store.ErrUnusable) {
		t.Fatalf("expected the node to refuse the corrupt database, got %v", err)
	}
	backups, err := os.ReadDir(filepath.Join(filepath.Dir(dbPath), "backups"))
	if err != nil || len(backups) != 1 {
		t.Fatalf("backups changed: %v %d", err, len(backups))
	}
}
