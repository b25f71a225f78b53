// Package web implements the HTTP server for the timelock node. It mounts
// the JSON API, streams ledger events and status lines over websockets and
// renders the bundled documentation.
package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"timelock.mini/tlm/internal/api"
	"timelock.mini/tlm/internal/docs"
	"timelock.mini/tlm/internal/events"
	"timelock.mini/tlm/internal/ledger"
	"timelock.mini/tlm/internal/logger"
	"timelock.mini/tlm/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TemplateData holds the data passed to the page templates.
type TemplateData struct {
	CurrentVersion string
	BuildTime      string
	Owner          types.AccountID
	Price          types.Amount
	Stats          types.Stats
	DocList        []string
	DocContent     template.HTML
	CurrentDoc     string
}

// Server wires the API, docs and streams behind one router.
type Server struct {
	port       int
	ledger     *ledger.Ledger
	bus        *events.Bus
	logger     *logger.Logger
	templates  *template.Template
	apiService *api.Service
	docService *docs.Service
}

// NewServer creates a new web server.
func NewServer(l *ledger.Ledger, apiService *api.Service, docService *docs.Service, bus *events.Bus, lg *logger.Logger, port int) (*Server, error) {
	templates, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Server{
		port:       port,
		ledger:     l,
		bus:        bus,
		logger:     lg,
		templates:  templates,
		apiService: apiService,
		docService: docService,
	}, nil
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/docs", s.handleDocs)
	r.Get("/docs/{name}", s.handleDocs)

	s.apiService.Mount(r)

	r.Get("/ws/events", s.handleEventsWS)
	r.Get("/ws/status", s.handleStatusWS)
	r.Get("/ws/diagnostics", s.handleDiagnosticsWS)
	return r
}

// Start serves until ctx is cancelled. The returned channel receives the
// server error, or nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) <-chan error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("INFO: Web: serving API and docs on http://localhost:%d", s.port)

	errCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
		close(errCh)
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("WARN: Web: shutdown: %v", err)
		}
	}()
	return errCh
}

func (s *Server) pageData() TemplateData {
	docList, _ := s.docService.ListDocs()
	return TemplateData{
		CurrentVersion: types.Version,
		BuildTime:      types.BuildTime,
		Owner:          s.ledger.GetOwner(),
		Price:          s.ledger.GetPricePerByte(),
		Stats:          s.ledger.GetStats(),
		DocList:        docList,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, "index", s.pageData())
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	data := s.pageData()
	name := chi.URLParam(r, "name")
	if name == "" && len(data.DocList) > 0 {
		name = data.DocList[0]
	}
	if name != "" {
		content, err := s.docService.GetDoc(r.Context(), name)
		if errors.Is(err, docs.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			s.logger.Error(fmt.Sprintf("Failed to load doc %s: %v", name, err))
			http.Error(w, "Failed to render document", http.StatusInternalServerError)
			return
		}
		data.DocContent = template.HTML(content)
		data.CurrentDoc = name
	}
	s.render(w, "docs", data)
}

func (s *Server) render(w http.ResponseWriter, name string, data TemplateData) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.Printf("ERROR: executing %s template: %s", name, err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	setCacheHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// watchClose drains reads so close frames and pongs are processed. The
// returned channel closes when the peer goes away.
func watchClose(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}

func writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func ping(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleEventsWS streams ledger events as they are emitted.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WARN: WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch, cancel := s.bus.Subscribe()
	defer cancel()
	closed := watchClose(conn)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeJSON(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := ping(conn); err != nil {
				return
			}
		}
	}
}

// handleStatusWS sends the recent status history, then every new line.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WARN: WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	closed := watchClose(conn)

	// GetRecent returns newest first.
	var last uint64
	initial := s.logger.GetRecent(50)
	for i := len(initial) - 1; i >= 0; i-- {
		if err := writeJSON(conn, initial[i]); err != nil {
			return
		}
		last = initial[i].Seq
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		wake := s.logger.Wait()
		for _, msg := range s.logger.Since(last) {
			if err := writeJSON(conn, msg); err != nil {
				return
			}
			last = msg.Seq
		}
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-wake:
		case <-ticker.C:
			if err := ping(conn); err != nil {
				return
			}
		}
	}
}

// handleDiagnosticsWS pushes a ledger summary every two seconds.
func (s *Server) handleDiagnosticsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WARN: WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	closed := watchClose(conn)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		stats := s.ledger.GetStats()
		msg := map[string]any{
			"time":           time.Now().Format("2006-01-02 15:04:05"),
			"total_hashes":   stats.TotalHashes,
			"total_volume":   stats.TotalVolume,
			"last_updated":   stats.LastUpdated,
			"price_per_byte": s.ledger.GetPricePerByte(),
			"balance":        s.ledger.GetBalance(),
			"subscribers":    s.bus.Subscribers(),
			"dropped_events": s.bus.Dropped(),
		}
		if err := writeJSON(conn, msg); err != nil {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}

// setCacheHeaders sets cache-busting headers to prevent browser caching.
func setCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
