package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"timelock.mini/tlm/internal/executor"
	"timelock.mini/tlm/internal/types"
)

// requireOwner admits only requests signed by the ledger owner.
func (s *Service) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signer, err := types.VerifyRequest(r, time.Now(), executor.DefaultMaxSkew)
		if err != nil {
			if !errors.Is(err, types.ErrUnsigned) {
				s.logger.Warning(fmt.Sprintf("API: rejected signed %s %s: %v", r.Method, r.URL.Path, err))
			}
			s.writeError(w, http.StatusUnauthorized, "Owner-signed request required")
			return
		}
		if signer != s.ledger.GetOwner() {
			s.logger.Warning(fmt.Sprintf("API: %s %s refused for non-owner %s", r.Method, r.URL.Path, signer.Short()))
			s.writeError(w, http.StatusForbidden, "Only the ledger owner may do this")
			return
		}
		next.ServeHTTP(w, r)
	})
}
