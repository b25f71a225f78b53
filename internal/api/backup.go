package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/andybalholm/brotli"

	"timelock.mini/tlm/internal/store"
)

// @Title: Create Backup
// @Route: POST /api/backups
// @Description: Writes a timestamped backup of the ledger database and prunes old ones. Owner-signed request required
// @Response: {"status": "ok", "name": "ledger-1700000000.db"}
func (s *Service) HandleCreateBackup(w http.ResponseWriter, r *http.Request) {
	backupPath, err := s.store.BackupCurrent(s.maxBackups)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to create backup: %v", err))
		s.writeError(w, http.StatusInternalServerError, "Failed to create backup")
		return
	}
	if backupPath == "" {
		s.writeError(w, http.StatusNotFound, "No ledger database to back up")
		return
	}

	name := filepath.Base(backupPath)
	s.logger.Info(fmt.Sprintf("API: Created backup %s", name))
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"name":   name,
	})
}

// @Title: List Backups
// @Route: GET /api/backups
// @Description: Lists ledger backups, newest first. Owner-signed request required
// @Response: [{"name": "ledger-1700000000.db", "size": 32768, "created_at": "..."}]
func (s *Service) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.store.ListBackups()
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to list backups: %v", err))
		s.writeError(w, http.StatusInternalServerError, "Failed to list backups")
		return
	}
	if backups == nil {
		backups = []store.BackupFile{}
	}
	s.writeJSON(w, http.StatusOK, backups)
}

// @Title: Download Backup
// @Route: GET /api/backups/download?name={backup}
// @Description: Streams a brotli-compressed backup; without name, a fresh snapshot of the live database. Owner-signed request required
// @Response: application/x-brotli file download
func (s *Service) HandleDownloadBackup(w http.ResponseWriter, r *http.Request) {
	var (
		src      io.Reader
		filename string
	)

	if name := r.URL.Query().Get("name"); name != "" {
		f, err := s.store.OpenBackup(name)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.writeError(w, http.StatusNotFound, "Backup not found")
				return
			}
			s.logger.Error(fmt.Sprintf("Failed to open backup %s: %v", name, err))
			s.writeError(w, http.StatusInternalServerError, "Failed to open backup")
			return
		}
		defer f.Close()
		src = f
		filename = name + ".br"
	} else {
		snapshot, err := s.store.ExportSnapshot()
		if err != nil {
			s.logger.Error(fmt.Sprintf("Failed to export snapshot: %v", err))
			s.writeError(w, http.StatusInternalServerError, "Failed to export snapshot")
			return
		}
		src = bytes.NewReader(snapshot)
		filename = fmt.Sprintf("tlm-ledger-%s.db.br", time.Now().Format("2006-01-02"))
	}

	w.Header().Set("Content-Type", "application/x-brotli")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))

	bw := brotli.NewWriterLevel(w, brotli.DefaultCompression)
	if _, err := io.Copy(bw, src); err != nil {
		s.logger.Error(fmt.Sprintf("Backup download %s interrupted: %v", filename, err))
		return
	}
	if err := bw.Close(); err != nil {
		s.logger.Error(fmt.Sprintf("Backup download %s interrupted: %v", filename, err))
		return
	}
	s.logger.Info(fmt.Sprintf("API: Served backup download: %s", filename))
}
