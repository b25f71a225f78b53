package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"timelock.mini/tlm/internal/anchor"
	"timelock.mini/tlm/internal/executor"
	"timelock.mini/tlm/internal/ledger"
	"timelock.mini/tlm/internal/logger"
	"timelock.mini/tlm/internal/store"
)

// maxTxBytes bounds the body of a submitted transaction.
const maxTxBytes = 64 << 10

// Service handles API requests
type Service struct {
	ledger     *ledger.Ledger
	executor   *executor.Executor
	store      *store.Store
	anchorer   *anchor.Anchorer
	logger     *logger.Logger
	maxBackups int
}

// NewService creates a new API service. anchorer may be nil when anchoring
// is disabled.
func NewService(l *ledger.Ledger, exec *executor.Executor, st *store.Store, anchorer *anchor.Anchorer, lg *logger.Logger) *Service {
	return &Service{
		ledger:     l,
		executor:   exec,
		store:      st,
		anchorer:   anchorer,
		logger:     lg,
		maxBackups: 20,
	}
}

// SetMaxBackups sets how many backups POST /api/backups keeps.
func (s *Service) SetMaxBackups(n int) {
	if n > 0 {
		s.maxBackups = n
	}
}

// writeJSON writes a JSON response
func (s *Service) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// StatusForCode maps an executor result code to an HTTP status.
func StatusForCode(code uint32) int {
	switch code {
	case executor.CodeTypeOK:
		return http.StatusOK
	case executor.CodeTypeEncodingError, executor.CodeTypeInvalidTx, executor.CodeTypeInvalidFileSize:
		return http.StatusBadRequest
	case executor.CodeTypeAuthError:
		return http.StatusUnauthorized
	case executor.CodeTypeInsufficientPayment, executor.CodeTypeInsufficientFunds:
		return http.StatusPaymentRequired
	case executor.CodeTypeHashAlreadyExists:
		return http.StatusConflict
	case executor.CodeTypeOnlyOwner:
		return http.StatusForbidden
	case executor.CodeTypeTransferFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// statusForError maps a ledger or store error to an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, anchor.ErrNotAnchored):
		return http.StatusConflict
	}
	return StatusForCode(executor.CodeForError(err))
}
