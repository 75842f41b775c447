package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/esk-go/ports/kv"
)

type KvConfig struct {
	Connect Connector
	Bucket  string
	// MaxAge bounds the lifetime of every key in the bucket. Per-entry TTLs
	// are enforced on read on top of it.
	MaxAge time.Duration
}

// kvRecord is the stored form of a kv.Entry.
type kvRecord struct {
	Data      []byte         `json:"data"`
	Meta      map[string]any `json:"meta,omitempty"`
	ExpiresAt time.Time      `json:"expires_at,omitzero"`
}

// KvStore implements kv.Store on a JetStream key/value bucket.
type KvStore struct {
	kv      jetstream.KeyValue
	closeNc closeFunc
	now     func() time.Time
}

func NewKvStore(cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  cfg.Bucket,
		Storage: jetstream.FileStorage,
		TTL:     cfg.MaxAge,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("create kv bucket %s: %w", cfg.Bucket, err)
	}

	return &KvStore{kv: bucket, closeNc: closeNc, now: time.Now}, nil
}

func (k *KvStore) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	rec := kvRecord{Data: entry.Data, Meta: entry.Meta}
	if opts.TTL > 0 {
		rec.ExpiresAt = k.now().Add(opts.TTL)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := k.kv.Put(ctx, kvKey(key), data); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Get(ctx context.Context, key string) (entry kv.Entry, err error) {
	v, err := k.kv.Get(ctx, kvKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return entry, kv.ErrNotFound
	}
	if err != nil {
		return entry, fmt.Errorf("kv get %s: %w", key, err)
	}

	var rec kvRecord
	if err := json.Unmarshal(v.Value(), &rec); err != nil {
		return entry, fmt.Errorf("kv decode %s: %w", key, err)
	}
	if !rec.ExpiresAt.IsZero() && k.now().After(rec.ExpiresAt) {
		return entry, kv.ErrNotFound
	}
	return kv.Entry{Data: rec.Data, Meta: rec.Meta}, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	err := k.kv.Delete(ctx, kvKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Close() { k.closeNc() }

// kvKey maps arbitrary keys onto the JetStream key alphabet: path separators
// become token separators and everything outside [-_a-zA-Z0-9] is escaped as =hex=.
func kvKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r == '/':
			b.WriteByte('.')
		case r == '-' || r == '_',
			r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			fmt.Fprintf(&b, "=%x=", r)
		}
	}
	return b.String()
}

var _ kv.Store = (*KvStore)(nil)
