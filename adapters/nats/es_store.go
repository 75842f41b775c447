package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/esk-go/core/es"
)

const (
	defaultSubjectPrefix = "esk.es"
	defaultStreamName    = "ESK_ES"
	defaultLedgerBucket  = "esk_es_commits"
	fetchBatchSize       = 256
)

// message headers, for consumers that do not decode the envelope
const (
	headerEventType = "x-event-type"
	headerBucket    = "x-bucket"
	headerStreamID  = "x-stream-id"
	headerCommitID  = "x-commit-id"
)

type EventStoreConfig struct {
	Connect        Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log            *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix  string       // SubjectPrefix is the prefix used to store events
	StreamSubjects []string     // StreamSubjects feed the stream; defaults to SubjectPrefix.>
	StreamName     string
	MemoryStorage  bool
	// DuplicateWindow is the JetStream message id de-duplication window.
	DuplicateWindow time.Duration
	// Ledger records commit ids. Defaults to a ledger on the KV bucket LedgerBucket.
	Ledger       *es.CommitLedger
	LedgerBucket string
	LedgerTTL    time.Duration
}

// EventStore is an es.EventStore on a JetStream stream. Every aggregate stream
// maps to the subject <prefix>.<bucket>.<stream id>. Optimistic concurrency is
// enforced by the server through the expected last sequence per subject.
type EventStore struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	ledger        *es.CommitLedger
	ledgerKV      *KvStore
	subjectPrefix string
	streamName    string
}

func NewEventStore(cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	streamSubjects := cfg.StreamSubjects
	if len(streamSubjects) == 0 {
		streamSubjects = []string{subjectPrefix + ".>"}
	}

	storage := jetstream.FileStorage
	if cfg.MemoryStorage {
		storage = jetstream.MemoryStorage
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subjectPrefix", subjectPrefix),
	)

	log.Debug("ensuring stream")

	stream, streamInfo, err := ensureStream(js, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   streamSubjects,
		Storage:    storage,
		FirstSeq:   1,
		Duplicates: cfg.DuplicateWindow,
		DenyDelete: true,
	})
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log.Debug("ensured", slog.Any("stream", streamInfo.Config.Name), slog.Uint64("msgs", streamInfo.State.Msgs))

	s := &EventStore{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		log:           log,
		stream:        stream,
		ledger:        cfg.Ledger,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
	}

	if s.ledger == nil {
		ledgerBucket := cfg.LedgerBucket
		if ledgerBucket == "" {
			ledgerBucket = defaultLedgerBucket
		}
		s.ledgerKV, err = NewKvStore(KvConfig{
			Connect: func() (*natsgo.Conn, closeFunc, error) { return nc, func() {}, nil },
			Bucket:  ledgerBucket,
			MaxAge:  cfg.LedgerTTL,
		})
		if err != nil {
			closeNatsCon()
			return nil, err
		}
		s.ledger = es.NewCommitLedger(s.ledgerKV, cfg.LedgerTTL)
	}

	return s, nil
}

func (e *EventStore) Close() error {
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) Load(
	ctx context.Context,
	bucket string,
	streamID string,
	opts ...es.StoreLoadOption,
) (loadedEvents []es.Envelope, err error) {
	subj, err := e.subject(bucket, streamID)
	if err != nil {
		return nil, err
	}

	var (
		startAt  = time.Now()
		loadOpts = es.NewStoreLoadOptions(opts...)
	)

	defer func() {
		if err == nil {
			e.log.Debug(
				"loaded events",
				slog.String("subject", subj),
				slog.Group(
					"opts",
					loadOpts.StartVersion.SlogAttrWithKey("start_version"),
					loadOpts.MaxVersion.SlogAttrWithKey("max_version"),
				),
				slog.Int("num_events", len(loadedEvents)),
				slog.Duration("duration", time.Since(startAt)),
			)
		}
	}()

	mre, err := e.lastEnvelope(ctx, subj)
	if err != nil {
		return nil, err
	}
	if mre == nil {
		return nil, fmt.Errorf("%w: %s", es.ErrStreamNotFound, subj)
	}
	loadedEvents = []es.Envelope{}
	if loadOpts.StartVersion > mre.Version {
		return loadedEvents, nil
	}

	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{subj},
	})
	if err != nil {
		return nil, err
	}
	return e.consumeEvents(ctx, cc, mre.Seq, loadOpts, loadedEvents)
}

func (e *EventStore) consumeEvents(
	ctx context.Context,
	cc jetstream.Consumer,
	endSeq uint64,
	loadOpts es.StoreLoadOptions,
	loadedEvents []es.Envelope,
) ([]es.Envelope, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		mb, err := cc.FetchNoWait(fetchBatchSize)
		if err != nil {
			return nil, err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			ev, err := e.decodeMsg(msg)
			if err != nil {
				return nil, fmt.Errorf("failed to decode message: %w", err)
			}

			if loadOpts.Beyond(ev.Version) {
				return loadedEvents, nil
			}
			if loadOpts.Includes(ev.Version) {
				loadedEvents = append(loadedEvents, *ev)
			}
			if ev.Seq >= endSeq {
				return loadedEvents, nil
			}
		}
		if err := mb.Error(); err != nil {
			return nil, err
		}
		if empty {
			return loadedEvents, nil
		}
	}
}

// Append publishes the commit one message at a time. A commit interrupted
// half way is completed when it is retried with the same commit id.
func (e *EventStore) Append(
	ctx context.Context,
	bucket string,
	streamID string,
	expected es.Version,
	commit es.Commit,
) (*es.StoreAppendResult, error) {
	if bucket == "" {
		bucket = es.DefaultBucket
	}
	if err := commit.Validate(bucket, streamID, expected); err != nil {
		return nil, err
	}
	subj, err := e.subject(bucket, streamID)
	if err != nil {
		return nil, err
	}

	if err := e.ledger.Check(ctx, bucket, streamID, commit.ID); err != nil {
		return nil, err
	}

	last, err := e.lastEnvelope(ctx, subj)
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	var (
		head    es.Version
		lastSeq uint64
	)
	if last != nil {
		head, lastSeq = last.Version, last.Seq
	}

	start := 0
	if head != expected {
		if !resumable(last, expected, commit) {
			return nil, conflictError(subj, expected, head)
		}
		start = int(head - expected)
		e.log.Debug("resuming commit", slog.String("subject", subj), slog.String("commit", commit.ID), slog.Int("from", start))
	}

	for _, ev := range commit.Events[start:] {
		ack, err := e.publish(ctx, subj, ev, lastSeq)
		if isWrongLastSequence(err) {
			return nil, conflictError(subj, ev.Version-1, head)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to append to subject %s %s: %w", subj, ev.Type, err)
		}
		lastSeq = ack.Sequence
	}

	lastVersion := commit.Events[len(commit.Events)-1].Version
	if err := e.ledger.Record(ctx, bucket, streamID, es.CommitRecord{
		CommitID:    commit.ID,
		Version:     lastVersion,
		LastSeq:     lastSeq,
		CommittedAt: time.Now(),
	}); err != nil {
		return nil, err
	}

	if start == len(commit.Events) {
		return nil, fmt.Errorf("%w: commit %q already appended to %s", es.ErrDuplicateCommit, commit.ID, subj)
	}

	return &es.StoreAppendResult{LastSeq: lastSeq, Version: lastVersion}, nil
}

func (e *EventStore) publish(ctx context.Context, subj string, ev es.Envelope, lastSeq uint64) (*jetstream.PubAck, error) {
	msg := natsgo.NewMsg(subj)
	msg.Header.Set(headerEventType, ev.Type)
	msg.Header.Set(headerBucket, ev.Bucket)
	msg.Header.Set(headerStreamID, ev.StreamID)
	msg.Header.Set(headerCommitID, ev.CommitID)

	var err error
	msg.Data, err = json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	return e.js.PublishMsg(
		ctx,
		msg,
		jetstream.WithMsgID(ev.ID),
		jetstream.WithExpectLastSequencePerSubject(lastSeq),
	)
}

// resumable reports whether the stream head consists of a prefix of commit.
func resumable(last *es.Envelope, expected es.Version, commit es.Commit) bool {
	if last == nil || last.CommitID != commit.ID {
		return false
	}
	return last.Version > expected && last.Version <= expected+es.Version(len(commit.Events))
}

func conflictError(subj string, expected, got es.Version) error {
	return fmt.Errorf(
		"%w: expected version %d, got %d (subject=%s)",
		es.ErrConcurrencyConflict,
		expected,
		got,
		subj,
	)
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (s jetstream.Stream, si *jetstream.StreamInfo, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err = js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err = s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

func (e *EventStore) decodeMsg(msg jetstream.Msg) (env *es.Envelope, err error) {
	var md *jetstream.MsgMetadata
	md, err = msg.Metadata()
	if err != nil {
		return nil, err
	}

	env = &es.Envelope{}
	err = json.Unmarshal(msg.Data(), env)
	if err != nil {
		return nil, err
	}
	env.Seq = md.Sequence.Stream
	return env, nil
}

func (e *EventStore) lastEnvelope(ctx context.Context, subject string) (lastMsg *es.Envelope, err error) {
	lm, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lastMsg = &es.Envelope{}
	if err := json.Unmarshal(lm.Data, lastMsg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal last message for subject %q: %w", subject, err)
	}
	lastMsg.Seq = lm.Sequence
	return lastMsg, nil
}

// subject returns <prefix>.<bucket>.<stream id>. Both parts must be single
// subject tokens.
func (e *EventStore) subject(bucket, streamID string) (string, error) {
	if bucket == "" {
		bucket = es.DefaultBucket
	}
	if err := es.ValidateStream(bucket, streamID); err != nil {
		return "", err
	}
	for _, token := range []string{bucket, streamID} {
		if token == "" || strings.ContainsAny(token, ".*> \t\r\n") {
			return "", fmt.Errorf("%w: %q is not a valid subject token", es.ErrInvalidArgument, token)
		}
	}
	return e.subjectPrefix + "." + bucket + "." + streamID, nil
}

var _ es.EventStore = (*EventStore)(nil)
