package es

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codewandler/esk-go/ports/kv"
)

// CommitRecord is what the ledger remembers about an appended commit.
type CommitRecord struct {
	CommitID    string    `json:"commit_id"`
	Version     Version   `json:"version"`
	LastSeq     uint64    `json:"last_seq"`
	CommittedAt time.Time `json:"committed_at"`
}

// CommitLedger records commit ids per stream on top of a kv.Store so stores
// can reject a retried commit with ErrDuplicateCommit.
type CommitLedger struct {
	kv  kv.Store
	ttl time.Duration
}

// NewCommitLedger creates a ledger. A positive ttl bounds the de-duplication
// window; zero remembers commits forever.
func NewCommitLedger(store kv.Store, ttl time.Duration) *CommitLedger {
	return &CommitLedger{kv: store, ttl: ttl}
}

func (l *CommitLedger) key(bucket, streamID, commitID string) string {
	return StreamKey(bucket, streamID) + "/" + commitID
}

// Lookup returns the record of commitID, or nil if the stream has not seen it.
func (l *CommitLedger) Lookup(ctx context.Context, bucket, streamID, commitID string) (*CommitRecord, error) {
	rec, err := kv.Get[CommitRecord](ctx, l.kv, l.key(bucket, streamID, commitID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("commit ledger lookup: %w", err)
	}
	return &rec, nil
}

// Check fails with ErrDuplicateCommit if commitID was already recorded.
func (l *CommitLedger) Check(ctx context.Context, bucket, streamID, commitID string) error {
	rec, err := l.Lookup(ctx, bucket, streamID, commitID)
	if err != nil {
		return err
	}
	if rec != nil {
		return fmt.Errorf(
			"%w: commit %q already appended to %s at version %d",
			ErrDuplicateCommit,
			commitID,
			StreamKey(bucket, streamID),
			rec.Version,
		)
	}
	return nil
}

func (l *CommitLedger) Record(ctx context.Context, bucket, streamID string, rec CommitRecord) error {
	err := kv.Put(ctx, l.kv, l.key(bucket, streamID, rec.CommitID), rec, kv.PutOptions{TTL: l.ttl})
	if err != nil {
		return fmt.Errorf("commit ledger record: %w", err)
	}
	return nil
}
