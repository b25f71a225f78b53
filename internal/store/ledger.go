package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"timelock.mini/tlm/internal/ledger"
	"timelock.mini/tlm/internal/types"
)

var _ ledger.Journal = (*Store)(nil)

// Initialize writes the genesis state of a new ledger. Records in snap are
// ignored; a new ledger has none.
func (s *Store) Initialize(ctx context.Context, snap ledger.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO ledger_meta (
		id, owner, price_per_byte, total_hashes, total_volume, last_updated, balance, created_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(snap.Meta.Owner),
		snap.Meta.PricePerByte.String(),
		int64(snap.Meta.TotalHashes),
		snap.Meta.TotalVolume.String(),
		int64(snap.Meta.LastUpdated),
		snap.Balance.String(),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("insert ledger meta: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyInitialized
	}
	s.notify()
	return nil
}

// Load reads the persisted ledger state.
func (s *Store) Load(ctx context.Context) (ledger.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		snap                          ledger.Snapshot
		owner, price, volume, balance string
		totalHashes, lastUpdated      int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT owner, price_per_byte, total_hashes, total_volume, last_updated, balance
		FROM ledger_meta WHERE id = 1`).Scan(&owner, &price, &totalHashes, &volume, &lastUpdated, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, ErrNotInitialized
	}
	if err != nil {
		return snap, fmt.Errorf("read ledger meta: %w", err)
	}

	snap.Meta.Owner = types.AccountID(owner)
	snap.Meta.TotalHashes = uint32(totalHashes)
	snap.Meta.LastUpdated = types.Timestamp(lastUpdated)
	if snap.Meta.PricePerByte, err = types.ParseAmount(price); err != nil {
		return snap, fmt.Errorf("decode price: %w", err)
	}
	if snap.Meta.TotalVolume, err = types.ParseAmount(volume); err != nil {
		return snap, fmt.Errorf("decode total volume: %w", err)
	}
	if snap.Balance, err = types.ParseAmount(balance); err != nil {
		return snap, fmt.Errorf("decode balance: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT hash, timestamp FROM records`)
	if err != nil {
		return snap, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	snap.Records = make(map[types.Hash]types.Timestamp)
	for rows.Next() {
		var (
			hexHash string
			ts      int64
		)
		if err := rows.Scan(&hexHash, &ts); err != nil {
			return snap, fmt.Errorf("scan record: %w", err)
		}
		h, err := types.ParseHash(hexHash)
		if err != nil {
			return snap, fmt.Errorf("decode record hash: %w", err)
		}
		snap.Records[h] = types.Timestamp(ts)
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}

	snap.Accounts, err = s.loadAccounts(ctx)
	return snap, err
}

// Commit journals one ledger call in a single transaction and assigns
// sequence numbers to its record and events.
func (s *Store) Commit(ctx context.Context, change *ledger.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().UnixMilli()
	res, err := tx.ExecContext(ctx, `UPDATE ledger_meta SET
		price_per_byte = ?, total_hashes = ?, total_volume = ?, last_updated = ?, balance = ?, updated_at = ?
		WHERE id = 1 AND owner = ?`,
		change.Meta.PricePerByte.String(),
		int64(change.Meta.TotalHashes),
		change.Meta.TotalVolume.String(),
		int64(change.Meta.LastUpdated),
		change.Balance.String(),
		now,
		string(change.Meta.Owner),
	)
	if err != nil {
		return fmt.Errorf("update ledger meta: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotInitialized
	}

	for _, a := range change.Accounts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO accounts (account, balance, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(account) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at`,
			string(a.Account), a.Balance.String(), now); err != nil {
			return fmt.Errorf("update account %s: %w", a.Account.Short(), err)
		}
	}

	var recordSeq uint64
	if r := change.Record; r != nil {
		// file_size is stored as the two's complement int64 of the uint64.
		res, err := tx.ExecContext(ctx, `INSERT INTO records (hash, timestamp, submitter, file_size, payment)
			VALUES (?, ?, ?, ?, ?)`,
			r.Hash.String(), int64(r.Timestamp), string(r.Submitter), int64(r.FileSize), r.Payment.String())
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("record seq: %w", err)
		}
		recordSeq = uint64(id)
	}

	if w := change.Withdrawal; w != nil {
		if _, err := tx.ExecContext(ctx, `INSERT INTO withdrawals (recipient, amount, at) VALUES (?, ?, ?)`,
			string(w.To), w.Amount.String(), int64(w.At)); err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}
	}

	seqs := make([]uint64, len(change.Events))
	for i, ev := range change.Events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", ev.Kind, err)
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO events (event_id, kind, payload, created_at) VALUES (?, ?, ?, ?)`,
			ev.ID, string(ev.Kind), string(payload), int64(ev.Time))
		if err != nil {
			return fmt.Errorf("insert event %s: %w", ev.Kind, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("event seq: %w", err)
		}
		seqs[i] = uint64(id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", change.Op, err)
	}

	if change.Record != nil {
		change.Record.Seq = recordSeq
	}
	for i := range change.Events {
		change.Events[i].Seq = seqs[i]
	}
	s.notify()
	return nil
}

// Record returns the stored registration detail for hash.
func (s *Store) Record(ctx context.Context, hash types.Hash) (ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT seq, hash, timestamp, submitter, file_size, payment
		FROM records WHERE hash = ?`, hash.String())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Record{}, ErrNotFound
	}
	return rec, err
}

// RecordsRange returns up to limit records with seq greater than afterSeq.
func (s *Store) RecordsRange(ctx context.Context, afterSeq uint64, limit int) ([]ledger.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT seq, hash, timestamp, submitter, file_size, payment
		FROM records WHERE seq > ? ORDER BY seq LIMIT ?`, int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []ledger.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordHashes returns the hashes with seq in [fromSeq, toSeq] in seq order.
func (s *Store) RecordHashes(ctx context.Context, fromSeq, toSeq uint64) ([]types.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT hash FROM records WHERE seq BETWEEN ? AND ? ORDER BY seq`,
		int64(fromSeq), int64(toSeq))
	if err != nil {
		return nil, fmt.Errorf("query record hashes: %w", err)
	}
	defer rows.Close()

	var out []types.Hash
	for rows.Next() {
		var hexHash string
		if err := rows.Scan(&hexHash); err != nil {
			return nil, fmt.Errorf("scan record hash: %w", err)
		}
		h, err := types.ParseHash(hexHash)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Events returns up to limit events with seq greater than afterSeq.
func (s *Store) Events(ctx context.Context, afterSeq uint64, limit int) ([]types.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT seq, payload FROM events WHERE seq > ? ORDER BY seq LIMIT ?`,
		int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var (
			seq     int64
			payload string
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev types.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", seq, err)
		}
		ev.Seq = uint64(seq)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Withdrawals lists every journaled withdrawal, oldest first.
func (s *Store) Withdrawals(ctx context.Context) ([]ledger.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT recipient, amount, at FROM withdrawals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query withdrawals: %w", err)
	}
	defer rows.Close()

	var out []ledger.Withdrawal
	for rows.Next() {
		var (
			to, amount string
			at         int64
		)
		if err := rows.Scan(&to, &amount, &at); err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		amt, err := types.ParseAmount(amount)
		if err != nil {
			return nil, err
		}
		out = append(out, ledger.Withdrawal{To: types.AccountID(to), Amount: amt, At: types.Timestamp(at)})
	}
	return out, rows.Err()
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (ledger.Record, error) {
	var (
		seq, ts, size             int64
		hexHash, submitter, price string
	)
	if err := scanner.Scan(&seq, &hexHash, &ts, &submitter, &size, &price); err != nil {
		return ledger.Record{}, err
	}
	h, err := types.ParseHash(hexHash)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("decode record hash: %w", err)
	}
	payment, err := types.ParseAmount(price)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("decode record payment: %w", err)
	}
	return ledger.Record{
		Seq:       uint64(seq),
		Hash:      h,
		Timestamp: types.Timestamp(ts),
		Submitter: types.AccountID(submitter),
		FileSize:  uint64(size),
		Payment:   payment,
	}, nil
}
