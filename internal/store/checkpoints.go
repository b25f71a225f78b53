package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"timelock.mini/tlm/internal/types"
)

// Checkpoint is a merkle root over the records with seq in [FromSeq, ToSeq].
// TopicID, TopicSeq and TxID are set when the root was published externally.
type Checkpoint struct {
	ID        uint64          `json:"id"`
	Root      types.Hash      `json:"root"`
	FromSeq   uint64          `json:"from_seq"`
	ToSeq     uint64          `json:"to_seq"`
	LeafCount int             `json:"leaf_count"`
	CreatedAt types.Timestamp `json:"created_at"`
	TopicID   string          `json:"topic_id,omitempty"`
	TopicSeq  uint64          `json:"topic_seq,omitempty"`
	TxID      string          `json:"tx_id,omitempty"`
}

const checkpointColumns = `id, root, from_seq, to_seq, leaf_count, created_at, topic_id, topic_seq, tx_id`

// InsertCheckpoint stores cp and sets its ID.
func (s *Store) InsertCheckpoint(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `INSERT INTO checkpoints
		(root, from_seq, to_seq, leaf_count, created_at, topic_id, topic_seq, tx_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.Root.String(), int64(cp.FromSeq), int64(cp.ToSeq), cp.LeafCount,
		int64(cp.CreatedAt), cp.TopicID, int64(cp.TopicSeq), cp.TxID)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("checkpoint id: %w", err)
	}
	cp.ID = uint64(id)
	return nil
}

// LatestCheckpoint returns the checkpoint covering the highest seq.
func (s *Store) LatestCheckpoint(ctx context.Context) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryCheckpoint(ctx, `SELECT `+checkpointColumns+` FROM checkpoints ORDER BY to_seq DESC LIMIT 1`)
}

// CheckpointForSeq returns the checkpoint whose range contains seq.
func (s *Store) CheckpointForSeq(ctx context.Context, seq uint64) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryCheckpoint(ctx, `SELECT `+checkpointColumns+` FROM checkpoints
		WHERE from_seq <= ? AND to_seq >= ? ORDER BY id LIMIT 1`, int64(seq), int64(seq))
}

// Checkpoints lists the most recent checkpoints, newest first.
func (s *Store) Checkpoints(ctx context.Context, limit int) ([]Checkpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+checkpointColumns+` FROM checkpoints ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *Store) queryCheckpoint(ctx context.Context, query string, args ...any) (Checkpoint, error) {
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	return cp, err
}

func scanCheckpoint(scanner interface{ Scan(dest ...any) error }) (Checkpoint, error) {
	var (
		cp                              Checkpoint
		id, from, to, created, topicSeq int64
		root                            string
	)
	if err := scanner.Scan(&id, &root, &from, &to, &cp.LeafCount, &created, &cp.TopicID, &topicSeq, &cp.TxID); err != nil {
		return Checkpoint{}, err
	}
	h, err := types.ParseHash(root)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint root: %w", err)
	}
	cp.ID = uint64(id)
	cp.Root = h
	cp.FromSeq = uint64(from)
	cp.ToSeq = uint64(to)
	cp.CreatedAt = types.Timestamp(created)
	cp.TopicSeq = uint64(topicSeq)
	return cp, nil
}
