package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"timelock.mini/tlm/internal/ledger"
	"timelock.mini/tlm/internal/store"
	"timelock.mini/tlm/internal/types"
)

// HashInfo is the response for a hash lookup. Timestamp is zero when the
// hash has not been stamped.
type HashInfo struct {
	Hash      types.Hash      `json:"hash"`
	Exists    bool            `json:"exists"`
	Timestamp types.Timestamp `json:"timestamp"`
	Seq       uint64          `json:"seq,omitempty"`
	Submitter types.AccountID `json:"submitter,omitempty"`
	FileSize  uint64          `json:"file_size,omitempty"`
	Payment   *types.Amount   `json:"payment,omitempty"`
}

func (s *Service) hashParam(w http.ResponseWriter, r *http.Request) (types.Hash, bool) {
	h, err := types.ParseHash(chi.URLParam(r, "hash"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid hash: expected 64 hex characters")
		return types.Hash{}, false
	}
	return h, true
}

// @Title: Get Hash Timestamp
// @Route: GET /api/hashes/{hash}
// @Description: Returns the registration time of a hash, or 0 when it was never stamped
// @Response: {"hash": "...", "exists": true, "timestamp": 1700000000000, "submitter": "...", "file_size": 2048, "payment": "2048000"}
func (s *Service) HandleGetHash(w http.ResponseWriter, r *http.Request) {
	h, ok := s.hashParam(w, r)
	if !ok {
		return
	}
	info := HashInfo{Hash: h}
	info.Timestamp, info.Exists = s.ledger.GetTimestamp(h)
	if info.Exists && s.store != nil {
		rec, err := s.store.Record(r.Context(), h)
		switch {
		case err == nil:
			info.Seq = rec.Seq
			info.Submitter = rec.Submitter
			info.FileSize = rec.FileSize
			info.Payment = &rec.Payment
		case !errors.Is(err, store.ErrNotFound):
			s.logger.Error("API: record lookup failed: " + err.Error())
		}
	}
	s.writeJSON(w, http.StatusOK, info)
}

// @Title: Verify Hash
// @Route: GET /api/hashes/{hash}/verify
// @Description: Reports whether a hash has been stamped
// @Response: {"hash": "...", "verified": true}
func (s *Service) HandleVerifyHash(w http.ResponseWriter, r *http.Request) {
	h, ok := s.hashParam(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"hash":     h,
		"verified": s.ledger.VerifyHash(h),
	})
}

// @Title: Get Inclusion Proof
// @Route: GET /api/hashes/{hash}/proof
// @Description: Returns the merkle inclusion proof of a stamped hash in its anchor checkpoint
// @Response: {"hash": "...", "seq": 1, "leaf_index": 0, "tree_size": 4, "path": ["..."], "checkpoint": {...}}
func (s *Service) HandleProof(w http.ResponseWriter, r *http.Request) {
	h, ok := s.hashParam(w, r)
	if !ok {
		return
	}
	if s.anchorer == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Anchoring is disabled")
		return
	}
	proof, err := s.anchorer.Proof(r.Context(), h)
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, proof)
}

// @Title: Get Price
// @Route: GET /api/price
// @Description: Returns the current fee per byte
// @Response: {"price_per_byte": "1000"}
func (s *Service) HandlePrice(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]types.Amount{"price_per_byte": s.ledger.GetPricePerByte()})
}

// Quote is the fee required to stamp a file of FileSize bytes.
type Quote struct {
	FileSize     uint64       `json:"file_size"`
	PricePerByte types.Amount `json:"price_per_byte"`
	Required     types.Amount `json:"required"`
}

// @Title: Quote Fee
// @Route: GET /api/quote?size={bytes}
// @Description: Returns price_per_byte * size, saturating at 2^128-1
// @Response: {"file_size": 2048, "price_per_byte": "1000", "required": "2048000"}
func (s *Service) HandleQuote(w http.ResponseWriter, r *http.Request) {
	size, err := strconv.ParseUint(r.URL.Query().Get("size"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "size must be an unsigned integer")
		return
	}
	price := s.ledger.GetPricePerByte()
	s.writeJSON(w, http.StatusOK, Quote{
		FileSize:     size,
		PricePerByte: price,
		Required:     ledger.RequiredPayment(price, size),
	})
}

// @Title: Get Stats
// @Route: GET /api/stats
// @Description: Returns total hashes, total volume received and last update time
// @Response: {"total_hashes": 3, "total_volume": "9000", "last_updated": 1700000000000}
func (s *Service) HandleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ledger.GetStats())
}

// @Title: Get Owner
// @Route: GET /api/owner
// @Description: Returns the ledger owner account
// @Response: {"owner": "..."}
func (s *Service) HandleOwner(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]types.AccountID{"owner": s.ledger.GetOwner()})
}

// @Title: Get Balance
// @Route: GET /api/balance
// @Description: Returns the value currently held by the ledger
// @Response: {"balance": "9000"}
func (s *Service) HandleBalance(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]types.Amount{"balance": s.ledger.GetBalance()})
}

// AccountFunds is the spendable balance of one account.
type AccountFunds struct {
	Account  types.AccountID `json:"account"`
	Funds    types.Amount    `json:"funds"`
	Enforced bool            `json:"enforced"`
}

// @Title: Get Account Funds
// @Route: GET /api/accounts/{account}
// @Description: Returns the deposited funds an account can attach to stamps, and whether stamps must be paid from them
// @Response: {"account": "ab12...", "funds": "3000", "enforced": true}
func (s *Service) HandleAccount(w http.ResponseWriter, r *http.Request) {
	account := types.AccountID(chi.URLParam(r, "account"))
	if account == "" {
		s.writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	funds, enforced := s.ledger.GetFunds(account)
	s.writeJSON(w, http.StatusOK, AccountFunds{Account: account, Funds: funds, Enforced: enforced})
}

// @Title: List Events
// @Route: GET /api/events?after={seq}&limit={n}
// @Description: Returns journaled events with seq greater than after, oldest first
// @Response: [{"id": "...", "seq": 1, "kind": "hash_stamped", ...}]
func (s *Service) HandleEvents(w http.ResponseWriter, r *http.Request) {
	after, limit, ok := s.paging(w, r)
	if !ok {
		return
	}
	events, err := s.store.Events(r.Context(), after, limit)
	if err != nil {
		s.logger.Error("API: failed to read events: " + err.Error())
		s.writeError(w, http.StatusInternalServerError, "Failed to read events")
		return
	}
	if events == nil {
		events = []types.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

// @Title: List Checkpoints
// @Route: GET /api/checkpoints?limit={n}
// @Description: Returns anchor checkpoints, newest first
// @Response: [{"id": 1, "root": "...", "from_seq": 1, "to_seq": 4, "leaf_count": 4, ...}]
func (s *Service) HandleCheckpoints(w http.ResponseWriter, r *http.Request) {
	_, limit, ok := s.paging(w, r)
	if !ok {
		return
	}
	cps, err := s.store.Checkpoints(r.Context(), limit)
	if err != nil {
		s.logger.Error("API: failed to read checkpoints: " + err.Error())
		s.writeError(w, http.StatusInternalServerError, "Failed to read checkpoints")
		return
	}
	if cps == nil {
		cps = []store.Checkpoint{}
	}
	s.writeJSON(w, http.StatusOK, cps)
}

func (s *Service) paging(w http.ResponseWriter, r *http.Request) (after uint64, limit int, ok bool) {
	q := r.URL.Query()
	var err error
	if v := q.Get("after"); v != "" {
		if after, err = strconv.ParseUint(v, 10, 64); err != nil {
			s.writeError(w, http.StatusBadRequest, "after must be an unsigned integer")
			return 0, 0, false
		}
	}
	limit = 100
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 || limit > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return 0, 0, false
		}
	}
	return after, limit, true
}
