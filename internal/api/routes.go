package api

import "github.com/go-chi/chi/v5"

// Mount registers the JSON API on r.
func (s *Service) Mount(r chi.Router) {
	r.Get("/api/health", s.HandleHealth)
	r.Get("/api/version", s.HandleVersion)

	r.Post("/api/tx", s.HandleSubmitTx)
	r.Post("/api/tx/check", s.HandleCheckTx)

	r.Route("/api/hashes/{hash}", func(r chi.Router) {
		r.Get("/", s.HandleGetHash)
		r.Get("/verify", s.HandleVerifyHash)
		r.Get("/proof", s.HandleProof)
	})

	r.Get("/api/price", s.HandlePrice)
	r.Get("/api/quote", s.HandleQuote)
	r.Get("/api/stats", s.HandleStats)
	r.Get("/api/owner", s.HandleOwner)
	r.Get("/api/balance", s.HandleBalance)
	r.Get("/api/accounts/{account}", s.HandleAccount)
	r.Get("/api/events", s.HandleEvents)
	r.Get("/api/checkpoints", s.HandleCheckpoints)

	r.Group(func(r chi.Router) {
		r.Use(s.requireOwner)
		r.Post("/api/backups", s.HandleCreateBackup)
		r.Get("/api/backups", s.HandleListBackups)
		r.Get("/api/backups/download", s.HandleDownloadBackup)
	})
}
