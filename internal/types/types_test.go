// Package types tests exercise the value types shared by the ledger:
// saturating Amount arithmetic, hash parsing and signed transaction
// round trips.
package types

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"timelock.mini/tlm/internal/identity"
)

func TestTransactionSigning(t *testing.T) {
	id, err := identity.LoadOrCreateIdentity(filepath.Join(t.TempDir(), "test_key.pem"))
	if err != nil {
		t.Fatalf("Failed to create test identity: %v", err)
	}

	hash := mustHash(t, strings.Repeat("ab", 32))
	tx, err := NewTransaction(TxStampHash, StampPayload{Hash: hash, FileSize: 100, Value: NewAmount(100_000)})
	if err != nil {
		t.Fatalf("Failed to build transaction: %v", err)
	}

	signedTx, err := tx.Sign(id)
	if err != nil {
		t.Fatalf("Failed to sign transaction: %v", err)
	}
	if !signedTx.Verify() {
		t.Error("Failed to verify transaction signature")
	}
	if signedTx.Signer() != AccountID(id.PublicKeyHex()) {
		t.Errorf("signer mismatch: got %s want %s", signedTx.Signer(), id.PublicKeyHex())
	}

	extractedTx, err := signedTx.GetTransaction()
	if err != nil {
		t.Fatalf("Failed to extract transaction: %v", err)
	}
	if extractedTx.Type != TxStampHash || extractedTx.ID != tx.ID {
		t.Errorf("Transaction mismatch. Got %s/%s, want %s/%s",
			extractedTx.Type, extractedTx.ID, tx.Type, tx.ID)
	}

	var payload StampPayload
	if err := extractedTx.DecodePayload(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Hash != hash || payload.FileSize != 100 || payload.Value.Cmp(NewAmount(100_000)) != 0 {
		t.Errorf("payload mismatch: %+v", payload)
	}
}

func TestTamperedTransactionFailsVerification(t *testing.T) {
	id, err := identity.LoadOrCreateIdentityScheme(filepath.Join(t.TempDir(), "wallet.pem"), identity.SchemeSecp256k1)
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	tx, err := NewTransaction(TxSetPrice, SetPricePayload{NewPrice: NewAmount(2000)})
	if err != nil {
		t.Fatalf("build transaction: %v", err)
	}
	signedTx, err := tx.Sign(id)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signedTx.Tx = []byte(strings.Replace(string(signedTx.Tx), "2000", "1", 1))
	if signedTx.Verify() {
		t.Fatal("expected tampered body to fail verification")
	}
}

func TestParseHash(t *testing.T) {
	hex := strings.Repeat("0f", 32)
	h, err := ParseHash("0x" + strings.ToUpper(hex))
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if h.String() != hex {
		t.Errorf("got %s want %s", h.String(), hex)
	}

	for _, bad := range []string{"", "abc", strings.Repeat("zz", 32), strings.Repeat("00", 33)} {
		if _, err := ParseHash(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}

	var decoded struct {
		H Hash `json:"h"`
	}
	if err := json.Unmarshal([]byte(`{"h":"`+hex+`"}`), &decoded); err != nil {
		t.Fatalf("unmarshal hash: %v", err)
	}
	if decoded.H != h {
		t.Errorf("json hash mismatch")
	}
}

func TestAmountSaturation(t *testing.T) {
	max := MaxAmount()
	if max.String() != "340282366920938463463374607431768211455" {
		t.Fatalf("unexpected max: %s", max)
	}
	if got := max.SaturatingMul(2); got.Cmp(max) != 0 {
		t.Errorf("mul should saturate, got %s", got)
	}
	if got := max.SaturatingAdd(NewAmount(1)); got.Cmp(max) != 0 {
		t.Errorf("add should saturate, got %s", got)
	}
	if got := NewAmount(1000).SaturatingMul(100); got.Cmp(NewAmount(100_000)) != 0 {
		t.Errorf("1000*100 = %s", got)
	}
	// 2^64 * 2^64 is just past the ceiling.
	big := MustParseAmount("18446744073709551616")
	if got := big.SaturatingMul(^uint64(0)); got.Cmp(max) == 0 {
		t.Errorf("2^64*(2^64-1) fits in 128 bits, got saturated")
	}
	if got := big.SaturatingMul(^uint64(0)).SaturatingAdd(big); got.Cmp(max) != 0 {
		t.Errorf("expected saturation at 2^128, got %s", got)
	}
	if got := NewAmount(0).SaturatingMul(^uint64(0)); !got.IsZero() {
		t.Errorf("zero price should yield zero fee, got %s", got)
	}
}

func TestAmountCheckedSub(t *testing.T) {
	if _, ok := NewAmount(5).CheckedSub(NewAmount(6)); ok {
		t.Error("expected underflow to be reported")
	}
	got, ok := NewAmount(6).CheckedSub(NewAmount(5))
	if !ok || got.Cmp(NewAmount(1)) != 0 {
		t.Errorf("6-5 = %s ok=%v", got, ok)
	}
}

func TestParseAmountRejectsOversize(t *testing.T) {
	if _, err := ParseAmount("340282366920938463463374607431768211456"); err == nil {
		t.Error("expected 2^128 to be rejected")
	}
	if _, err := ParseAmount("-1"); err == nil {
		t.Error("expected negative amount to be rejected")
	}
}

func TestAmountJSON(t *testing.T) {
	raw, err := json.Marshal(MaxAmount())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `"340282366920938463463374607431768211455"` {
		t.Errorf("unexpected encoding %s", raw)
	}

	var fromNumber Amount
	if err := json.Unmarshal([]byte(`1500`), &fromNumber); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	if fromNumber.Cmp(NewAmount(1500)) != 0 {
		t.Errorf("got %s", fromNumber)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := TimestampFromTime(now)
	if !ts.Time().Equal(now) {
		t.Errorf("got %v want %v", ts.Time(), now)
	}
	if TimestampFromTime(time.Unix(-10, 0)) != 0 {
		t.Error("pre-epoch times should clamp to zero")
	}
}

func mustHash(t *testing.T, s string) Hash {
	t.Helper()
	h, err := ParseHash(s)
	if err != nil {
		t.Fatalf("ParseHash(%q): %v", s, err)
	}
	return h
}
