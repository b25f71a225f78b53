// Package store persists the stamping ledger in SQLite. It journals every
// successful ledger call in one transaction, keeps the event log and anchor
// checkpoints, and maintains timestamped backups. A database that no longer
// opens is never replaced automatically; RestoreBackup is an operator action.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"timelock.mini/tlm/internal/store/sqlitemigrate"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	defaultDBFile        = "ledger.db"
	defaultBackupDirName = "backups"
	maxBusyTimeoutMs     = 5000
	defaultMaxBackups    = 20
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("not found")
	// ErrNotInitialized means the database has no ledger yet.
	ErrNotInitialized = errors.New("ledger not initialized")
	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("ledger already initialized")
	// ErrUnusable wraps any failure to open or migrate an existing database.
	ErrUnusable = errors.New("ledger database unusable")
)

// Store is the SQLite-backed ledger journal.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	file      string
	backupDir string
	updates   chan struct{}
}

type backupInfo struct {
	path      string
	timestamp int64
}

// NewStore opens (or creates) the ledger database at filePath. An existing
// file that fails to open or migrate is left untouched and ErrUnusable is
// returned.
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		filePath = defaultDBFile
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}

	s := &Store{
		file:      absPath,
		backupDir: filepath.Join(filepath.Dir(absPath), defaultBackupDirName),
		updates:   make(chan struct{}, 1),
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	if err := s.openAndMigrate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnusable, filepath.Base(s.file), err)
	}
	return s, nil
}

// Path returns the absolute database path.
func (s *Store) Path() string {
	return s.file
}

// Updates returns a channel that receives a value whenever a commit lands.
func (s *Store) Updates() <-chan struct{} {
	return s.updates
}

func (s *Store) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeDB()
}

func (s *Store) openAndMigrate() error {
	if err := s.openDB(); err != nil {
		return err
	}
	if err := s.ensureSchema(); err != nil {
		_ = s.closeDB()
		return err
	}
	return nil
}

func (s *Store) openDB() error {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		filepath.Clean(s.file), maxBusyTimeoutMs)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}

	s.db = db
	return nil
}

func (s *Store) ensureSchema() error {
	applied, err := sqlitemigrate.Apply(context.Background(), s.db, migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, name := range applied {
		log.Printf("INFO: applied migration %s", name)
	}
	return nil
}

func (s *Store) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) backupNameParts() (prefix, ext string) {
	base := filepath.Base(s.file)
	ext = filepath.Ext(base)
	prefix = strings.TrimSuffix(base, ext)
	if prefix == "" {
		prefix = base
	}
	return prefix, ext
}

func listBackupFiles(dir, prefix, ext string) ([]backupInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var backups []backupInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix+"-") || (ext != "" && !strings.HasSuffix(name, ext)) {
			continue
		}

		tsPart := strings.TrimPrefix(strings.TrimSuffix(name, ext), prefix+"-")
		ts, parseErr := strconv.ParseInt(tsPart, 10, 64)
		if parseErr != nil {
			info, statErr := entry.Info()
			if statErr != nil {
				continue
			}
			ts = info.ModTime().Unix()
		}
		backups = append(backups, backupInfo{
			path:      filepath.Join(dir, name),
			timestamp: ts,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].timestamp == backups[j].timestamp {
			return backups[i].path < backups[j].path
		}
		return backups[i].timestamp < backups[j].timestamp
	})
	return backups, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// RestoreBackup replaces the database at filePath with the named backup from
// its backups directory. The backup is checked before anything is touched,
// and the current database files are renamed aside, never deleted. It
// returns the paths they were moved to. The store must not be open.
func RestoreBackup(filePath, name string) ([]string, error) {
	if filePath == "" {
		filePath = defaultDBFile
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, ErrNotFound
	}
	backupPath := filepath.Join(filepath.Dir(absPath), defaultBackupDirName, name)
	if _, err := os.Stat(backupPath); errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err := checkBackup(backupPath); err != nil {
		return nil, fmt.Errorf("backup %s: %w", name, err)
	}

	suffix := fmt.Sprintf(".replaced-%d", time.Now().Unix())
	var moved []string
	for _, path := range []string{absPath, absPath + "-wal", absPath + "-shm"} {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		aside := path + suffix
		if err := os.Rename(path, aside); err != nil {
			return moved, fmt.Errorf("move %s aside: %w", filepath.Base(path), err)
		}
		moved = append(moved, aside)
	}

	if err := copyFile(backupPath, absPath); err != nil {
		return moved, fmt.Errorf("copy backup %s: %w", name, err)
	}
	log.Printf("INFO: restored ledger database from %s", name)
	return moved, nil
}

// checkBackup opens path read-only and confirms it holds an initialized
// ledger.
func checkBackup(path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", filepath.Clean(path)))
	if err != nil {
		return err
	}
	defer db.Close()

	var owner string
	if err := db.QueryRow(`SELECT owner FROM ledger_meta WHERE id = 1`).Scan(&owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotInitialized
		}
		return err
	}
	return nil
}
