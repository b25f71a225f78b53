package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"timelock.mini/tlm/internal/anchor"
	"timelock.mini/tlm/internal/events"
	"timelock.mini/tlm/internal/executor"
	"timelock.mini/tlm/internal/host"
	"timelock.mini/tlm/internal/identity"
	"timelock.mini/tlm/internal/ledger"
	"timelock.mini/tlm/internal/logger"
	"timelock.mini/tlm/internal/store"
	"timelock.mini/tlm/internal/types"
)

type testEnv struct {
	svc      *Service
	router   chi.Router
	store    *store.Store
	ledger   *ledger.Ledger
	anchorer *anchor.Anchorer
	owner    *identity.Identity
	user     *identity.Identity
}

// setupTest wires a ledger, executor and store in a temp dir behind a chi
// router. Attached value is trusted as declared.
func setupTest(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnv(t, host.NewTreasury())
}

func newTestEnv(t *testing.T, treasury *host.Treasury) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewStore(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	owner, err := identity.LoadOrCreateIdentity(filepath.Join(dir, "owner.pem"))
	if err != nil {
		t.Fatalf("owner identity: %v", err)
	}
	user, err := identity.LoadOrCreateIdentity(filepath.Join(dir, "user.pem"))
	if err != nil {
		t.Fatalf("user identity: %v", err)
	}

	ownerID := types.AccountID(owner.PublicKeyHex())
	l := ledger.New(ledger.Env{
		Clock:    host.NewManualClock(1_700_000_000_000),
		Treasury: treasury,
		Events:   events.NewBus(16),
		Journal:  st,
	}, ownerID)
	if err := st.Initialize(context.Background(), l.Snapshot()); err != nil {
		t.Fatalf("initialize store: %v", err)
	}

	anc := anchor.New(st, nil, ownerID)
	svc := NewService(l, executor.New(l), st, anc, logger.New(100).Quiet())
	r := chi.NewRouter()
	svc.Mount(r)

	return &testEnv{svc: svc, router: r, store: st, ledger: l, anchorer: anc, owner: owner, user: user}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// doSigned sends a request carrying id's request signature.
func (e *testEnv) doSigned(t *testing.T, id *identity.Identity, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	types.SignRequest(req, id, time.Now())
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func signTx(t *testing.T, id *identity.Identity, txType types.TxType, payload any) []byte {
	t.Helper()
	tx, err := types.NewTransaction(txType, payload)
	if err != nil {
		t.Fatalf("build tx: %v", err)
	}
	stx, err := tx.Sign(id)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	raw, err := json.Marshal(stx)
	if err != nil {
		t.Fatalf("marshal tx: %v", err)
	}
	return raw
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func hashOf(b byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func (e *testEnv) stamp(t *testing.T, h types.Hash, size, value uint64) *httptest.ResponseRecorder {
	t.Helper()
	raw := signTx(t, e.user, types.TxStampHash, types.StampPayload{Hash: h, FileSize: size, Value: types.NewAmount(value)})
	return e.do(t, http.MethodPost, "/api/tx", raw)
}
