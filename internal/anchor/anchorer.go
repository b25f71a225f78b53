// Package anchor periodically commits batches of stamped hashes to a
// merkle root, stores the root as a checkpoint, and optionally publishes it
// to an external append-only log. Inclusion proofs let anyone check that a
// stamp was part of an anchored batch.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"timelock.mini/tlm/internal/ledger"
	"timelock.mini/tlm/internal/store"
	"timelock.mini/tlm/internal/types"
)

// DefaultMaxLeaves caps the records covered by one checkpoint.
const DefaultMaxLeaves = 4096

// ErrNotAnchored is returned by Proof for a hash not yet in a checkpoint.
var ErrNotAnchored = errors.New("hash not anchored yet")

// Source is the storage the anchorer reads records from and writes
// checkpoints to.
type Source interface {
	LatestCheckpoint(ctx context.Context) (store.Checkpoint, error)
	CheckpointForSeq(ctx context.Context, seq uint64) (store.Checkpoint, error)
	InsertCheckpoint(ctx context.Context, cp *store.Checkpoint) error
	RecordsRange(ctx context.Context, afterSeq uint64, limit int) ([]ledger.Record, error)
	RecordHashes(ctx context.Context, fromSeq, toSeq uint64) ([]types.Hash, error)
	Record(ctx context.Context, hash types.Hash) (ledger.Record, error)
}

// Anchorer builds checkpoints over newly stamped records.
type Anchorer struct {
	source    Source
	publisher Publisher
	owner     types.AccountID
	now       func() types.Timestamp
	MaxLeaves int
}

// New creates an anchorer. A nil publisher keeps checkpoints local.
func New(source Source, publisher Publisher, owner types.AccountID) *Anchorer {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &Anchorer{
		source:    source,
		publisher: publisher,
		owner:     owner,
		now:       func() types.Timestamp { return types.TimestampFromTime(time.Now()) },
		MaxLeaves: DefaultMaxLeaves,
	}
}

// Run anchors on every tick until ctx is done.
func (a *Anchorer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cp, err := a.AnchorOnce(ctx)
			if err != nil {
				log.Printf("WARN: anchoring failed: %v", err)
				continue
			}
			if cp != nil {
				log.Printf("INFO: anchored records %d-%d root %s", cp.FromSeq, cp.ToSeq, cp.Root)
			}
		}
	}
}

// AnchorOnce checkpoints the records after the latest checkpoint. It
// returns nil when there is nothing new.
func (a *Anchorer) AnchorOnce(ctx context.Context) (*store.Checkpoint, error) {
	var after uint64
	latest, err := a.source.LatestCheckpoint(ctx)
	switch {
	case err == nil:
		after = latest.ToSeq
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("read latest checkpoint: %w", err)
	}

	records, err := a.source.RecordsRange(ctx, after, a.MaxLeaves)
	if err != nil {
		return nil, fmt.Errorf("read records after %d: %w", after, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	hashes := make([]types.Hash, len(records))
	for i, r := range records {
		hashes[i] = r.Hash
	}

	cp := &store.Checkpoint{
		Root:      Root(hashes),
		FromSeq:   records[0].Seq,
		ToSeq:     records[len(records)-1].Seq,
		LeafCount: len(records),
		CreatedAt: a.now(),
	}

	receipt, err := a.publisher.Publish(ctx, Message{
		Owner:     a.owner,
		Root:      cp.Root,
		FromSeq:   cp.FromSeq,
		ToSeq:     cp.ToSeq,
		LeafCount: cp.LeafCount,
		CreatedAt: cp.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("publish checkpoint: %w", err)
	}
	cp.TopicID = receipt.TopicID
	cp.TopicSeq = receipt.Sequence
	cp.TxID = receipt.TxID

	if err := a.source.InsertCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Proof is an inclusion proof of a stamped hash in a checkpoint.
type Proof struct {
	Hash       types.Hash       `json:"hash"`
	Seq        uint64           `json:"seq"`
	LeafIndex  uint64           `json:"leaf_index"`
	TreeSize   uint64           `json:"tree_size"`
	Path       []types.Hash     `json:"path"`
	Checkpoint store.Checkpoint `json:"checkpoint"`
}

// Verify recomputes the root from the proof.
func (p Proof) Verify() bool {
	return VerifyInclusion(p.LeafIndex, p.TreeSize, LeafHash(p.Hash), p.Path, p.Checkpoint.Root)
}

// Proof builds the inclusion proof for hash.
func (a *Anchorer) Proof(ctx context.Context, hash types.Hash) (Proof, error) {
	rec, err := a.source.Record(ctx, hash)
	if err != nil {
		return Proof{}, err
	}
	cp, err := a.source.CheckpointForSeq(ctx, rec.Seq)
	if errors.Is(err, store.ErrNotFound) {
		return Proof{}, ErrNotAnchored
	}
	if err != nil {
		return Proof{}, err
	}

	hashes, err := a.source.RecordHashes(ctx, cp.FromSeq, cp.ToSeq)
	if err != nil {
		return Proof{}, err
	}
	index := int(rec.Seq - cp.FromSeq)
	if len(hashes) != cp.LeafCount || index >= len(hashes) || hashes[index] != hash {
		return Proof{}, fmt.Errorf("checkpoint %d does not match stored records", cp.ID)
	}
	path, err := InclusionPath(hashes, index)
	if err != nil {
		return Proof{}, err
	}

	return Proof{
		Hash:       hash,
		Seq:        rec.Seq,
		LeafIndex:  uint64(index),
		TreeSize:   uint64(len(hashes)),
		Path:       path,
		Checkpoint: cp,
	}, nil
}
