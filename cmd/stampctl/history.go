package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"timelock.mini/tlm/internal/anchor"
	"timelock.mini/tlm/internal/api"
	"timelock.mini/tlm/internal/types"
)

// maxHistory bounds the local history file; older entries fall off.
const maxHistory = 100

// HistoryItem is one successful stamp made from this machine.
type HistoryItem struct {
	Hash      types.Hash      `json:"hash"`
	FileName  string          `json:"file_name"`
	FileSize  uint64          `json:"file_size"`
	Paid      types.Amount    `json:"paid"`
	Timestamp types.Timestamp `json:"timestamp"`
	TxID      string          `json:"tx_id"`
	Node      string          `json:"node"`
}

// loadHistory reads the history file, newest first. A missing file is an
// empty history.
func loadHistory(path string) ([]HistoryItem, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var items []HistoryItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", path, err)
	}
	return items, nil
}

// appendHistory puts item at the front of the history file.
func appendHistory(path string, item HistoryItem) error {
	items, err := loadHistory(path)
	if err != nil {
		return err
	}
	items = append([]HistoryItem{item}, items...)
	if len(items) > maxHistory {
		items = items[:maxHistory]
	}
	return saveHistory(path, items)
}

func saveHistory(path string, items []HistoryItem) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".stampctl-history-*")
	if err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// Report is the exportable proof document for a set of stamps.
type Report struct {
	ExportTime    time.Time    `json:"export_time"`
	Node          string       `json:"node"`
	TotalItems    int          `json:"total_items"`
	VerifiedItems int          `json:"verified_items"`
	AnchoredItems int          `json:"anchored_items"`
	Items         []ReportItem `json:"items"`
}

// ReportItem joins the node's record of one hash with its anchor proof.
type ReportItem struct {
	Hash       types.Hash    `json:"hash"`
	FileName   string        `json:"file_name,omitempty"`
	FileSize   uint64        `json:"file_size,omitempty"`
	Record     api.HashInfo  `json:"record"`
	Proof      *anchor.Proof `json:"proof,omitempty"`
	ProofValid bool          `json:"proof_valid"`
	Note       string        `json:"note,omitempty"`
}
