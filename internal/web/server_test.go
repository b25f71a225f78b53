package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"timelock.mini/tlm/internal/api"
	"timelock.mini/tlm/internal/docs"
	"timelock.mini/tlm/internal/events"
	"timelock.mini/tlm/internal/executor"
	"timelock.mini/tlm/internal/host"
	"timelock.mini/tlm/internal/ledger"
	"timelock.mini/tlm/internal/logger"
	"timelock.mini/tlm/internal/store"
	"timelock.mini/tlm/internal/types"
)

type fixture struct {
	srv    *httptest.Server
	ledger *ledger.Ledger
	bus    *events.Bus
	logger *logger.Logger
}

func setupTest(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus(16)
	l := ledger.New(ledger.Env{
		Clock:    host.NewManualClock(1_700_000_000_000),
		Treasury: host.NewTreasury(),
		Events:   bus,
		Journal:  st,
	}, "owner")
	if err := st.Initialize(context.Background(), l.Snapshot()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	lg := logger.New(50).Quiet()
	svc := api.NewService(l, executor.New(l), st, nil, lg)
	s, err := NewServer(l, svc, docs.NewService(), bus, lg, 0)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, ledger: l, bus: bus, logger: lg}
}

func (f *fixture) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestIndexAndDocs(t *testing.T) {
	f := setupTest(t)

	code, body := f.get(t, "/")
	if code != http.StatusOK || !strings.Contains(body, "Price per byte") || !strings.Contains(body, "1000") {
		t.Fatalf("index: %d %s", code, body)
	}

	code, body = f.get(t, "/docs/ledger")
	if code != http.StatusOK || !strings.Contains(body, "stamp_hash") {
		t.Fatalf("docs: %d", code)
	}
	if code, _ := f.get(t, "/docs/missing"); code != http.StatusNotFound {
		t.Fatalf("missing doc: expected 404, got %d", code)
	}
	if code, _ := f.get(t, "/api/health"); code != http.StatusOK {
		t.Fatalf("api not mounted: %d", code)
	}
}

func TestEventsStream(t *testing.T) {
	f := setupTest(t)
	conn := f.dial(t, "/ws/events")

	deadline := time.Now().Add(2 * time.Second)
	for f.bus.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	var h types.Hash
	h[0] = 0x42
	if err := f.ledger.StampHash(context.Background(), ledger.Call{Caller: "alice", Value: types.NewAmount(1000)}, h, 1); err != nil {
		t.Fatalf("StampHash: %v", err)
	}

	var ev types.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Kind != types.EventHashStamped {
		t.Fatalf("expected hash_stamped first, got %s", ev.Kind)
	}
	if err := conn.ReadJSON(&ev); err != nil || ev.Kind != types.EventPaymentReceived {
		t.Fatalf("expected payment_received, got %s (%v)", ev.Kind, err)
	}
}

func TestStatusStream(t *testing.T) {
	f := setupTest(t)
	f.logger.Info("before connect")
	conn := f.dial(t, "/ws/status")

	var msg logger.Message
	if err := conn.ReadJSON(&msg); err != nil || msg.Text != "before connect" {
		t.Fatalf("history: %+v %v", msg, err)
	}

	f.logger.Warning("after connect")
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Text != "after connect" || msg.Level != logger.LevelWarning {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestDiagnosticsStream(t *testing.T) {
	f := setupTest(t)
	conn := f.dial(t, "/ws/diagnostics")

	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg["price_per_byte"] != "1000" {
		t.Fatalf("unexpected diagnostics %+v", msg)
	}
}
