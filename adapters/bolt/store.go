// Package bolt provides an es.EventStore on a local BoltDB file, for single
// process deployments and tools.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.etcd.io/bbolt"

	"github.com/codewandler/esk-go/core/es"
)

var (
	// streamsBucketKey holds one child bucket per stream, keyed by es.StreamKey.
	// Envelopes are keyed by version as 8-byte big-endian values.
	streamsBucketKey = []byte("streams")

	// commitsBucketKey holds one child bucket per stream, keyed by commit id.
	// Values are JSON encoded es.CommitRecord values.
	commitsBucketKey = []byte("commits")

	// seqBucketKey only exists to hand out store wide sequence numbers.
	seqBucketKey = []byte("seq")
)

type Config struct {
	Path    string        `env:"ESK_BOLT_PATH" envDefault:"esk.db"`
	Timeout time.Duration `env:"ESK_BOLT_TIMEOUT" envDefault:"1s"`
	NoSync  bool          `env:"ESK_BOLT_NO_SYNC"`
	Log     *slog.Logger  `env:"-"`
}

// ConfigFromEnv reads Config from the process environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// EventStore keeps streams in a BoltDB file. The commit ledger lives in the
// same file and is written in the append transaction.
type EventStore struct {
	db  *bbolt.DB
	log *slog.Logger
}

// Open opens or creates the database at cfg.Path.
func Open(cfg Config) (*EventStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("%w: storage path is required", es.ErrInvalidConfiguration)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	cleanPath := filepath.Clean(cfg.Path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: timeout, NoSync: cfg.NoSync})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	s := &EventStore{
		db:  db,
		log: log.With(slog.String("store", "bolt"), slog.String("path", cleanPath)),
	}
	if err := s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *EventStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *EventStore) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, key := range [][]byte{streamsBucketKey, commitsBucketKey, seqBucketKey} {
			if _, err := tx.CreateBucketIfNotExists(key); err != nil {
				return fmt.Errorf("create %s bucket: %w", key, err)
			}
		}
		return nil
	})
}

func (s *EventStore) Load(
	ctx context.Context,
	bucket string,
	streamID string,
	opts ...es.StoreLoadOption,
) ([]es.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := es.ValidateStream(bucket, streamID); err != nil {
		return nil, err
	}
	var (
		sk       = es.StreamKey(bucket, streamID)
		loadOpts = es.NewStoreLoadOptions(opts...)
		out      []es.Envelope
	)

	err := s.db.View(func(tx *bbolt.Tx) error {
		stream := tx.Bucket(streamsBucketKey).Bucket([]byte(sk))
		if stream == nil {
			return fmt.Errorf("%w: %s", es.ErrStreamNotFound, sk)
		}

		out = []es.Envelope{}
		c := stream.Cursor()
		for k, v := c.Seek(versionKey(max(loadOpts.StartVersion, 1))); k != nil; k, v = c.Next() {
			version := es.Version(binary.BigEndian.Uint64(k))
			if loadOpts.Beyond(version) {
				break
			}
			var e es.Envelope
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal envelope %s@%d: %w", sk, version, err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *EventStore) Append(
	ctx context.Context,
	bucket string,
	streamID string,
	expected es.Version,
	commit es.Commit,
) (*es.StoreAppendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if bucket == "" {
		bucket = es.DefaultBucket
	}
	if err := commit.Validate(bucket, streamID, expected); err != nil {
		return nil, err
	}

	var (
		sk  = es.StreamKey(bucket, streamID)
		res es.StoreAppendResult
	)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		commits, err := tx.Bucket(commitsBucketKey).CreateBucketIfNotExists([]byte(sk))
		if err != nil {
			return err
		}
		if v := commits.Get([]byte(commit.ID)); v != nil {
			var rec es.CommitRecord
			_ = json.Unmarshal(v, &rec)
			return fmt.Errorf(
				"%w: commit %q already appended to %s at version %d",
				es.ErrDuplicateCommit,
				commit.ID,
				sk,
				rec.Version,
			)
		}

		stream, err := tx.Bucket(streamsBucketKey).CreateBucketIfNotExists([]byte(sk))
		if err != nil {
			return err
		}
		var head es.Version
		if k, _ := stream.Cursor().Last(); k != nil {
			head = es.Version(binary.BigEndian.Uint64(k))
		}
		if head != expected {
			return fmt.Errorf(
				"%w: expected version %d, got %d (stream=%s)",
				es.ErrConcurrencyConflict,
				expected,
				head,
				sk,
			)
		}

		seq := tx.Bucket(seqBucketKey)
		for _, e := range commit.Events {
			if e.Seq, err = seq.NextSequence(); err != nil {
				return err
			}
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal envelope: %w", err)
			}
			if err := stream.Put(versionKey(e.Version), data); err != nil {
				return err
			}
			res = es.StoreAppendResult{LastSeq: e.Seq, Version: e.Version}
		}

		rec, err := json.Marshal(es.CommitRecord{
			CommitID:    commit.ID,
			Version:     res.Version,
			LastSeq:     res.LastSeq,
			CommittedAt: time.Now(),
		})
		if err != nil {
			return err
		}
		return commits.Put([]byte(commit.ID), rec)
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug(
		"append",
		slog.String("stream", sk),
		slog.String("commit", commit.ID),
		slog.Uint64("last_seq", res.LastSeq),
		res.Version.SlogAttr(),
		slog.Int("num_events", len(commit.Events)),
	)
	return &res, nil
}

func versionKey(v es.Version) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}

var _ es.EventStore = (*EventStore)(nil)
