package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	evterrors "cimchain/errors"
	"cimchain/cid"
	"cimchain/eventing"
	"cimchain/eventing/subject"
	"cimchain/logging"
)

// NATS message header names carrying the envelope's identity fields,
// mirrored from the original Rust JetStreamEventStore so any
// out-of-band NATS consumer can dedupe/correlate without touching the
// JSON body (spec §6). X-Aggregate-Seq additionally carries the
// per-aggregate sequence counter — JetStream's own stream sequence is
// global across every aggregate's interleaved subjects and cannot
// stand in for the contiguous per-aggregate position spec §3 requires.
const (
	headerMessageID     = "X-Message-ID"
	headerCorrelationID = "X-Correlation-ID"
	headerCausationID   = "X-Causation-ID"
	headerCID           = "X-CID"
	headerParentCID     = "X-Parent-CID"
	headerAggregateSeq  = "X-Aggregate-Seq"
)

// NATSConfig configures a JetStream-backed EventStore. Defaults mirror
// the stream parameters in event_store.rs (retention=limits,
// storage=file, max-age=365d, duplicate-window=120s).
type NATSConfig struct {
	URL           string
	Stream        string
	SubjectRoot   string
	MaxAge        time.Duration
	DuplicateWindow time.Duration
	Conn          *nats.Conn
	Logger        logging.ILogger
}

// NATSEventStore is a JetStream-backed EventStore: one ordered stream
// with subjects "<root>.<aggregateID>.<eventType>", CID-chained per
// aggregate. Connection/stream bootstrap style grounded in the
// teacher's messaging/transport/natsjetstream/nats_jetstream.go
// ensureConnection/ensureStream; append/replay/subscribe semantics
// grounded in original_source's cim-events/src/event_store.rs.
type NATSEventStore struct {
	cfg    NATSConfig
	router subject.Router
	logger logging.ILogger

	conn     *nats.Conn
	js       nats.JetStreamContext
	ownsConn bool

	aggMu    sync.Map // aggregateID -> *sync.Mutex
	provider cid.Provider
}

// NewNATSEventStore connects (or reuses cfg.Conn), ensures the stream
// exists, and returns a ready-to-use EventStore.
func NewNATSEventStore(cfg NATSConfig) (*NATSEventStore, error) {
	if cfg.Stream == "" {
		cfg.Stream = "CIMCHAIN"
	}
	if cfg.SubjectRoot == "" {
		cfg.SubjectRoot = "R"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 365 * 24 * time.Hour
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger().WithField("component", "store.nats")
	}

	s := &NATSEventStore{
		cfg:    cfg,
		router: subject.NewRouter(cfg.SubjectRoot),
		logger: cfg.Logger,
	}

	if err := s.ensureConnection(); err != nil {
		return nil, evterrors.NewSubstrateError("failed to connect to nats", err)
	}
	if err := s.ensureStream(); err != nil {
		return nil, evterrors.NewSubstrateError("failed to ensure jetstream stream", err)
	}
	return s, nil
}

func (s *NATSEventStore) ensureConnection() error {
	if s.cfg.Conn != nil {
		s.conn = s.cfg.Conn
	} else {
		url := s.cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url)
		if err != nil {
			return err
		}
		s.conn = conn
		s.ownsConn = true
	}
	js, err := s.conn.JetStream()
	if err != nil {
		return err
	}
	s.js = js
	return nil
}

func (s *NATSEventStore) ensureStream() error {
	_, err := s.js.StreamInfo(s.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(err.Error(), "stream not found") {
		return err
	}
	_, err = s.js.AddStream(&nats.StreamConfig{
		Name:              s.cfg.Stream,
		Subjects:          []string{s.router.RootWildcard()},
		Retention:         nats.LimitsPolicy,
		Storage:           nats.FileStorage,
		MaxAge:            s.cfg.MaxAge,
		Duplicates:        s.cfg.DuplicateWindow,
		MaxMsgsPerSubject: -1,
	})
	return err
}

// WithCIDProvider configures an external CID provider (local computation
// remains the fallback).
func (s *NATSEventStore) WithCIDProvider(p cid.Provider) *NATSEventStore {
	s.provider = p
	return s
}

// Close closes the owned connection, if any.
func (s *NATSEventStore) Close() {
	if s.ownsConn && s.conn != nil {
		s.conn.Close()
	}
}

func (s *NATSEventStore) aggregateLock(aggregateID string) *sync.Mutex {
	lockAny, _ := s.aggMu.LoadOrStore(aggregateID, &sync.Mutex{})
	return lockAny.(*sync.Mutex)
}

// lastEvent returns the most recently appended event for aggregateID,
// or nil if the aggregate has none, reading the aggregate's events in
// batches of maxChainValidationEvents. Batches are advanced by the
// per-aggregate Sequence carried in the decoded payload — not
// JetStream's stream-wide sequence, which interleaves every aggregate
// sharing the stream's subjects and so cannot serve as the
// contiguous-from-1 counter spec §3 requires.
func (s *NATSEventStore) lastEvent(ctx context.Context, aggregateID string) (*StoredEvent, error) {
	var last *StoredEvent
	from := uint64(1)
	for {
		events, err := s.GetEvents(ctx, aggregateID, from, maxChainValidationEvents)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			return last, nil
		}
		tail := events[len(events)-1]
		last = &tail
		if len(events) < maxChainValidationEvents {
			return last, nil
		}
		from = tail.Sequence + 1
	}
}

func (s *NATSEventStore) Append(ctx context.Context, aggregateID, eventType string, data map[string]any, parentCID *string) (AppendResult, error) {
	return s.AppendWithHeader(ctx, aggregateID, eventType, data, eventing.NewHeader(), parentCID)
}

func (s *NATSEventStore) AppendWithHeader(ctx context.Context, aggregateID, eventType string, data map[string]any, header eventing.Header, parentCID *string) (AppendResult, error) {
	lock := s.aggregateLock(aggregateID)
	lock.Lock()
	defer lock.Unlock()

	last, err := s.lastEvent(ctx, aggregateID)
	if err != nil {
		return AppendResult{}, err
	}
	var lastCID *string
	if last != nil {
		lastCID = last.CID
	}
	if err := checkParentCID(lastCID, parentCID); err != nil {
		return AppendResult{}, err
	}

	env := eventing.Envelope{
		AggregateID: aggregateID,
		EventType:   eventType,
		EventData:   data,
		Header:      header,
		ParentCID:   parentCID,
	}
	preBytes, err := env.PreCIDBytes()
	if err != nil {
		return AppendResult{}, evterrors.NewSerializationError("failed to serialize envelope pre-cid form", err)
	}
	cidStr, err := cid.Of(ctx, preBytes, s.provider, s.logger)
	if err != nil {
		return AppendResult{}, evterrors.NewContentAddressError("failed to compute cid", err)
	}

	seq := uint64(1)
	if last != nil {
		seq = last.Sequence + 1
	}
	now := time.Now().UTC()
	stored := StoredEvent{
		Sequence:    seq,
		AggregateID: aggregateID,
		EventType:   eventType,
		EventData:   data,
		Header:      header,
		CID:         &cidStr,
		ParentCID:   parentCID,
		Timestamp:   now,
	}
	payload, err := encodeStoredEvent(stored)
	if err != nil {
		return AppendResult{}, evterrors.NewSerializationError("failed to encode stored event", err)
	}

	msg := &nats.Msg{
		Subject: s.router.Subject(aggregateID, eventType),
		Data:    payload,
		Header:  natsHeaders(header, cidStr, parentCID, seq),
	}
	_, err = s.js.PublishMsg(msg, nats.Context(ctx), nats.MsgId(header.MessageID))
	if err != nil {
		return AppendResult{}, evterrors.NewSubstrateError("failed to publish event", err)
	}

	return AppendResult{Sequence: seq, CID: cidStr, Timestamp: now}, nil
}

func natsHeaders(header eventing.Header, cidStr string, parentCID *string, seq uint64) nats.Header {
	h := nats.Header{}
	h.Set(headerMessageID, header.MessageID)
	h.Set(headerCorrelationID, header.CorrelationID)
	if header.CausationID != nil {
		h.Set(headerCausationID, *header.CausationID)
	}
	h.Set(headerCID, cidStr)
	if parentCID != nil {
		h.Set(headerParentCID, *parentCID)
	}
	h.Set(headerAggregateSeq, strconv.FormatUint(seq, 10))
	return h
}

// GetEvents replays via an ephemeral pull consumer bound to the
// aggregate's subject, starting at fromSequence (ByStartSequence when
// fromSequence > 1, All otherwise) — mirrors event_store.rs's
// get_events.
func (s *NATSEventStore) GetEvents(ctx context.Context, aggregateID string, fromSequence uint64, limit int) ([]StoredEvent, error) {
	if limit == 0 {
		return []StoredEvent{}, nil
	}
	start := fromSequence
	if start < 1 {
		start = 1
	}

	opts := []nats.SubOpt{
		nats.ReplayInstant(),
	}
	if start > 1 {
		opts = append(opts, nats.DeliverByStartSequence(), nats.StartSequence(start))
	} else {
		opts = append(opts, nats.DeliverAll())
	}

	subSubject := s.router.AggregateWildcard(aggregateID)
	sub, err := s.js.PullSubscribe(subSubject, "", opts...)
	if err != nil {
		return nil, evterrors.NewSubstrateError("failed to create pull subscription", err)
	}
	defer sub.Unsubscribe()

	result := make([]StoredEvent, 0, limit)
	for len(result) < limit {
		msgs, err := sub.Fetch(1, nats.MaxWait(200*time.Millisecond))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, evterrors.NewSubstrateError("failed to fetch events", err)
		}
		for _, m := range msgs {
			ev, err := decodeStoredEvent(m.Data)
			if err != nil {
				_ = m.Ack()
				return nil, evterrors.NewSerializationError("failed to decode stored event", err)
			}
			_ = m.Ack()
			if ev.Sequence < start {
				continue
			}
			result = append(result, ev)
		}
	}
	return result, nil
}

// SubscribeToEvents opens a push consumer with DeliverNew, matching
// the "new events only" delivery policy from event_store.rs's
// subscribe_to_events. The returned channel is closed silently when ctx
// is cancelled; losing the NATS connection does not close it.
func (s *NATSEventStore) SubscribeToEvents(ctx context.Context, aggregateID string) (<-chan StoredEvent, error) {
	ch := make(chan StoredEvent, 16)
	subSubject := s.router.AggregateWildcard(aggregateID)

	sub, err := s.js.Subscribe(subSubject, func(m *nats.Msg) {
		ev, err := decodeStoredEvent(m.Data)
		if err != nil {
			s.logger.Warn(ctx, "failed to decode subscribed event", logging.Error(err))
			_ = m.Ack()
			return
		}
		_ = m.Ack()
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}, nats.DeliverNew(), nats.AckExplicit())
	if err != nil {
		close(ch)
		return nil, evterrors.NewSubstrateError("failed to create push subscription", err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		close(ch)
	}()

	return ch, nil
}

func (s *NATSEventStore) ValidateCIDChain(ctx context.Context, aggregateID string) (bool, error) {
	events, err := s.GetEvents(ctx, aggregateID, 0, maxChainValidationEvents)
	if err != nil {
		return false, err
	}
	return ValidateChain(events), nil
}

var _ EventStore = (*NATSEventStore)(nil)
