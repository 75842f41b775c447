package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codewandler/esk-go/ports/kv"
)

type (
	memStoreOpts struct {
		log    *slog.Logger
		ledger *CommitLedger
	}
	MemoryStoreOption  interface{ applyToMemoryStore(*memStoreOpts) }
	CommitLedgerOption valueOption[*CommitLedger]
)

// WithCommitLedger replaces the in-process commit ledger.
func WithCommitLedger(l *CommitLedger) CommitLedgerOption { return CommitLedgerOption{v: l} }

func (o CommitLedgerOption) applyToMemoryStore(opts *memStoreOpts) { opts.ledger = o.v }
func (o LogOption) applyToMemoryStore(opts *memStoreOpts)          { opts.log = o.v }

// InMemoryStore is a simple, correct (optimistic) store for tests and dev.
type InMemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	seq     uint64
	ledger  *CommitLedger
	streams map[string][]Envelope
}

func NewInMemoryStore(opts ...MemoryStoreOption) *InMemoryStore {
	options := memStoreOpts{}
	for _, opt := range opts {
		opt.applyToMemoryStore(&options)
	}
	if options.ledger == nil {
		options.ledger = NewCommitLedger(kv.NewMemStore(), 0)
	}
	return &InMemoryStore{
		log:     logOrDefault(options.log).With(slog.String("store", "memory")),
		ledger:  options.ledger,
		streams: map[string][]Envelope{},
	}
}

func (s *InMemoryStore) Load(
	_ context.Context,
	bucket string,
	streamID string,
	opts ...StoreLoadOption,
) ([]Envelope, error) {
	if err := ValidateStream(bucket, streamID); err != nil {
		return nil, err
	}
	loadOpts := NewStoreLoadOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	events, ok := s.streams[StreamKey(bucket, streamID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, StreamKey(bucket, streamID))
	}

	out := make([]Envelope, 0, len(events))
	for _, e := range events {
		if loadOpts.Beyond(e.Version) {
			break
		}
		if loadOpts.Includes(e.Version) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Append(
	ctx context.Context,
	bucket string,
	streamID string,
	expected Version,
	commit Commit,
) (*StoreAppendResult, error) {
	bucket = normalizeBucket(bucket)
	if err := commit.Validate(bucket, streamID, expected); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.Check(ctx, bucket, streamID, commit.ID); err != nil {
		return nil, err
	}

	var (
		sk         = StreamKey(bucket, streamID)
		curStream  = s.streams[sk]
		curVersion Version
	)
	if len(curStream) > 0 {
		curVersion = curStream[len(curStream)-1].Version
	}
	if curVersion != expected {
		return nil, fmt.Errorf(
			"%w: expected version %d, got %d (stream=%s)",
			ErrConcurrencyConflict,
			expected,
			curVersion,
			sk,
		)
	}

	appended := make([]Envelope, 0, len(commit.Events))
	for _, e := range commit.Events {
		s.seq++
		e.Seq = s.seq
		appended = append(appended, e)
	}
	last := appended[len(appended)-1]

	if err := s.ledger.Record(ctx, bucket, streamID, CommitRecord{
		CommitID:    commit.ID,
		Version:     last.Version,
		LastSeq:     last.Seq,
		CommittedAt: time.Now(),
	}); err != nil {
		s.seq -= uint64(len(appended))
		return nil, err
	}
	s.streams[sk] = append(curStream, appended...)

	s.log.Debug(
		"append",
		slog.String("stream", sk),
		slog.String("commit", commit.ID),
		slog.Uint64("last_seq", last.Seq),
		last.Version.SlogAttr(),
		slog.Int("num_events", len(appended)),
	)

	return &StoreAppendResult{LastSeq: last.Seq, Version: last.Version}, nil
}

var _ EventStore = (*InMemoryStore)(nil)
