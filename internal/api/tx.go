package api

import (
	"fmt"
	"io"
	"net/http"
)

// @Title: Submit Transaction
// @Route: POST /api/tx
// @Description: Validates and applies a signed transaction (stamp_hash, set_price_per_byte, withdraw)
// @Response: {"code": 0, "tx_id": "...", "type": "stamp_hash", "signer": "...", "hash": "...", "timestamp": 1700000000000}
func (s *Service) HandleSubmitTx(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.readTx(w, r)
	if !ok {
		return
	}
	res := s.executor.DeliverTx(r.Context(), raw)
	if res.IsOK() {
		s.logger.Info(fmt.Sprintf("API: %s by %s accepted", res.Type, res.Signer.Short()))
	} else {
		s.logger.Warning(fmt.Sprintf("API: transaction rejected (code %d): %s", res.Code, res.Log))
	}
	s.writeJSON(w, StatusForCode(res.Code), res)
}

// @Title: Check Transaction
// @Route: POST /api/tx/check
// @Description: Validates a signed transaction without applying it
// @Response: {"code": 0, "tx_id": "...", "type": "...", "signer": "..."}
func (s *Service) HandleCheckTx(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.readTx(w, r)
	if !ok {
		return
	}
	res := s.executor.CheckTx(raw)
	s.writeJSON(w, StatusForCode(res.Code), res)
}

func (s *Service) readTx(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTxBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "Transaction too large")
		return nil, false
	}
	if len(raw) == 0 {
		s.writeError(w, http.StatusBadRequest, "Empty transaction")
		return nil, false
	}
	return raw, true
}
