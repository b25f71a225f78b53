package store

import (
	"context"
	"fmt"
	"time"

	"timelock.mini/tlm/internal/types"
)

func (s *Store) loadAccounts(ctx context.Context) (map[types.AccountID]types.Amount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT account, balance FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make(map[types.AccountID]types.Amount)
	for rows.Next() {
		var account, balance string
		if err := rows.Scan(&account, &balance); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		amt, err := types.ParseAmount(balance)
		if err != nil {
			return nil, fmt.Errorf("decode funds of %s: %w", account, err)
		}
		accounts[types.AccountID(account)] = amt
	}
	return accounts, rows.Err()
}

// TxDelivered reports whether a transaction ID has been claimed.
func (s *Store) TxDelivered(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivered_txs WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("query delivered tx: %w", err)
	}
	return n > 0, nil
}

// ClaimTx records id as delivered at at and forgets claims older than
// expireBefore. It returns false when id was already claimed.
func (s *Store) ClaimTx(ctx context.Context, id string, at, expireBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM delivered_txs WHERE delivered_at < ?`, expireBefore.UnixMilli()); err != nil {
		return false, fmt.Errorf("expire delivered txs: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO delivered_txs (id, delivered_at) VALUES (?, ?)`, id, at.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("claim tx %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim tx %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit claim: %w", err)
	}
	return n == 1, nil
}

// ReleaseTx drops the claim on id so the transaction can be retried.
func (s *Store) ReleaseTx(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM delivered_txs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("release tx %s: %w", id, err)
	}
	return nil
}
