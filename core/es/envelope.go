package es

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// DefaultBucket is used when no bucket is given.
const DefaultBucket = "default"

// Well-known commit headers.
const (
	HeaderAggregateType = "aggregate-type"
	HeaderCommitID      = "commit-id"
)

// Envelope wraps an event with metadata for persistence. It is the unit of
// storage in an EventStore.
type Envelope struct {
	// ID is the unique identifier of this envelope. Envelopes built by the
	// Repository derive it from the commit, so retried commits carry the same IDs.
	ID string `json:"id"`
	// Seq is the store-wide sequence number assigned on append.
	Seq uint64 `json:"seq"`
	// Bucket partitions streams, e.g. per tenant.
	Bucket string `json:"bucket"`
	// StreamID is the aggregate id.
	StreamID string `json:"stream_id"`
	// AggregateType names the aggregate the stream belongs to.
	AggregateType string `json:"aggregate,omitempty"`
	// Version is the per-stream version (1, 2, 3, ...).
	Version Version `json:"version"`
	// Type is the event type name used for decoding.
	Type string `json:"type"`
	// CommitID groups the envelopes appended together.
	CommitID string `json:"commit_id"`
	// Headers are the commit headers.
	Headers    map[string]string `json:"headers,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	// Data contains the JSON-encoded event payload.
	Data json.RawMessage `json:"data"`
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is empty")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("envelope occurred at is zero")
	}
	if e.Bucket == "" {
		return fmt.Errorf("envelope bucket is empty")
	}
	if e.StreamID == "" {
		return fmt.Errorf("envelope stream id is empty")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope type is empty")
	}
	if e.Version == 0 {
		return fmt.Errorf("envelope version is zero")
	}
	return nil
}

// EnvelopeID derives a stable envelope id from its commit and position.
func EnvelopeID(bucket, streamID, commitID string, index int) string {
	h, _ := blake2b.New(16, nil)
	for _, part := range []string{bucket, streamID, commitID, strconv.Itoa(index)} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeBucket(bucket string) string {
	if bucket == "" {
		return DefaultBucket
	}
	return bucket
}

// StreamKey is the canonical key of a stream within a store. It is only
// unique for pairs accepted by ValidateStream.
func StreamKey(bucket, streamID string) string {
	return normalizeBucket(bucket) + "/" + streamID
}

// ValidateStream rejects bucket and stream id pairs whose StreamKey could
// collide with another pair: the stream id must be set and neither part may
// contain the "/" separator.
func ValidateStream(bucket, streamID string) error {
	if streamID == "" {
		return fmt.Errorf("%w: stream id is empty", ErrInvalidArgument)
	}
	if strings.Contains(bucket, "/") {
		return fmt.Errorf("%w: bucket %q contains '/'", ErrInvalidArgument, bucket)
	}
	if strings.Contains(streamID, "/") {
		return fmt.Errorf("%w: stream id %q contains '/'", ErrInvalidArgument, streamID)
	}
	return nil
}

type Decoder interface{ Decode(e Envelope) (any, error) }
