package es

import (
	"context"
	"fmt"
	"maps"
	"time"
)

type (
	startVersionOption valueOption[Version]
	maxVersionOption   valueOption[Version]

	// StoreLoadOptions is the resolved form of StoreLoadOption values, for
	// EventStore implementations.
	StoreLoadOptions struct {
		StartVersion Version
		MaxVersion   Version // 0 means no upper bound
	}

	StoreLoadOption interface {
		ApplyToStoreLoadOptions(*StoreLoadOptions)
	}
)

// WithStartAtVersion skips events below v.
func WithStartAtVersion(v Version) StoreLoadOption { return startVersionOption{v} }

// WithMaxVersion skips events above v. Zero loads up to the head.
func WithMaxVersion(v Version) StoreLoadOption { return maxVersionOption{v} }

func (o startVersionOption) ApplyToStoreLoadOptions(l *StoreLoadOptions) { l.StartVersion = o.v }
func (o maxVersionOption) ApplyToStoreLoadOptions(l *StoreLoadOptions)   { l.MaxVersion = o.v }

func NewStoreLoadOptions(opts ...StoreLoadOption) StoreLoadOptions {
	options := StoreLoadOptions{}
	for _, opt := range opts {
		opt.ApplyToStoreLoadOptions(&options)
	}
	return options
}

// Includes reports whether v is within the requested range.
func (o StoreLoadOptions) Includes(v Version) bool {
	if v < o.StartVersion {
		return false
	}
	return o.MaxVersion == 0 || v <= o.MaxVersion
}

// Beyond reports whether v and everything after it is past the requested range.
func (o StoreLoadOptions) Beyond(v Version) bool {
	return o.MaxVersion != 0 && v > o.MaxVersion
}

// Commit is a batch of envelopes appended atomically to one stream.
type Commit struct {
	ID      string
	Headers map[string]string
	Events  []Envelope
}

// Validate checks that c is a well formed commit for the stream, continuing
// at expected.
func (c Commit) Validate(bucket, streamID string, expected Version) error {
	if err := ValidateStream(bucket, streamID); err != nil {
		return err
	}
	if c.ID == "" {
		return fmt.Errorf("%w: commit id is empty", ErrInvalidArgument)
	}
	if len(c.Events) == 0 {
		return ErrStoreNoEvents
	}
	for i, e := range c.Events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("%w: event %d: %w", ErrInvalidArgument, i, err)
		}
		if e.Bucket != bucket || e.StreamID != streamID {
			return fmt.Errorf("%w: event %d belongs to stream %s", ErrInvalidArgument, i, StreamKey(e.Bucket, e.StreamID))
		}
		if e.CommitID != c.ID {
			return fmt.Errorf("%w: event %d belongs to commit %q", ErrInvalidArgument, i, e.CommitID)
		}
		if want := expected + Version(i+1); e.Version != want {
			return fmt.Errorf("%w: event %d has version %d, want %d", ErrInvalidArgument, i, e.Version, want)
		}
	}
	return nil
}

type (
	StoreAppendResult struct {
		LastSeq uint64
		Version Version
	}

	// EventStore loads and appends envelopes per stream with optimistic
	// concurrency. Append fails with ErrConcurrencyConflict when the stream
	// head is not at expected, and with ErrDuplicateCommit when the commit id
	// was already appended to the stream.
	EventStore interface {
		Load(ctx context.Context, bucket, streamID string, opts ...StoreLoadOption) ([]Envelope, error)
		Append(ctx context.Context, bucket, streamID string, expected Version, commit Commit) (*StoreAppendResult, error)
	}
)

// AppendEvents encodes events with registry and appends them as one commit.
// It is meant for seeding stores in tests and tools.
func AppendEvents(
	ctx context.Context,
	store EventStore,
	registry *EventRegistry,
	bucket string,
	streamID string,
	expect Version,
	commitID string,
	events ...any,
) (*StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}
	commit, err := NewCommit(registry, bucket, streamID, "", expect, commitID, nil, events...)
	if err != nil {
		return nil, err
	}
	return store.Append(ctx, normalizeBucket(bucket), streamID, expect, commit)
}

// NewCommit encodes events into envelopes following expect.
func NewCommit(
	registry *EventRegistry,
	bucket string,
	streamID string,
	aggType string,
	expect Version,
	commitID string,
	headers map[string]string,
	events ...any,
) (Commit, error) {
	bucket = normalizeBucket(bucket)
	now := time.Now()
	commit := Commit{
		ID:      commitID,
		Headers: headers,
		Events:  make([]Envelope, 0, len(events)),
	}
	for i, ev := range events {
		eventType, data, err := registry.Encode(ev)
		if err != nil {
			return Commit{}, err
		}
		commit.Events = append(commit.Events, Envelope{
			ID:            EnvelopeID(bucket, streamID, commitID, i),
			Bucket:        bucket,
			StreamID:      streamID,
			AggregateType: aggType,
			Version:       expect + Version(i+1),
			Type:          eventType,
			CommitID:      commitID,
			Headers:       maps.Clone(headers),
			OccurredAt:    now,
			Data:          data,
		})
	}
	return commit, nil
}
