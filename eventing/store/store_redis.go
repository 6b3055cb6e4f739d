package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"cimchain/cid"
	evterrors "cimchain/errors"
	"cimchain/eventing"
	"cimchain/logging"
)

// RedisConfig configures a Redis Streams-backed EventStore.
type RedisConfig struct {
	Client       redis.UniversalClient
	Addr         string
	Username     string
	Password     string
	DB           int
	StreamPrefix string
	BlockTimeout time.Duration
	Logger       logging.ILogger
}

// RedisEventStore is a Redis Streams-backed EventStore: one stream per
// aggregate ("<prefix><aggregateID>"), CID-chained via the last entry.
// Connection bootstrap grounded in the teacher's
// messaging/transport/redisstreams/redis_streams.go; append/replay
// semantics grounded in event_store.rs's get_events/append_event.
type RedisEventStore struct {
	cfg       RedisConfig
	client    redis.UniversalClient
	ownClient bool
	logger    logging.ILogger

	aggMu    sync.Map // aggregateID -> *sync.Mutex
	provider cid.Provider
}

// NewRedisEventStore builds (or reuses cfg.Client) a Redis-backed store.
func NewRedisEventStore(cfg RedisConfig) *RedisEventStore {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "cimchain:events:"
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger().WithField("component", "store.redis")
	}

	var cl redis.UniversalClient
	var own bool
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		cl = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		own = true
	}

	return &RedisEventStore{cfg: cfg, client: cl, ownClient: own, logger: cfg.Logger}
}

// WithCIDProvider configures an external CID provider.
func (s *RedisEventStore) WithCIDProvider(p cid.Provider) *RedisEventStore {
	s.provider = p
	return s
}

// Close closes the owned client, if any.
func (s *RedisEventStore) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

func (s *RedisEventStore) streamName(aggregateID string) string {
	return s.cfg.StreamPrefix + aggregateID
}

func (s *RedisEventStore) aggregateLock(aggregateID string) *sync.Mutex {
	lockAny, _ := s.aggMu.LoadOrStore(aggregateID, &sync.Mutex{})
	return lockAny.(*sync.Mutex)
}

func (s *RedisEventStore) lastEvent(ctx context.Context, aggregateID string) (*StoredEvent, error) {
	entries, err := s.client.XRevRangeN(ctx, s.streamName(aggregateID), "+", "-", 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, evterrors.NewSubstrateError("failed to read last event", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	ev, err := decodeRedisEntry(entries[0])
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *RedisEventStore) Append(ctx context.Context, aggregateID, eventType string, data map[string]any, parentCID *string) (AppendResult, error) {
	return s.AppendWithHeader(ctx, aggregateID, eventType, data, eventing.NewHeader(), parentCID)
}

func (s *RedisEventStore) AppendWithHeader(ctx context.Context, aggregateID, eventType string, data map[string]any, header eventing.Header, parentCID *string) (AppendResult, error) {
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

	if _, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamName(aggregateID),
		Values: map[string]interface{}{"event": string(payload)},
	}).Result(); err != nil {
		return AppendResult{}, evterrors.NewSubstrateError("failed to append to redis stream", err)
	}

	return AppendResult{Sequence: seq, CID: cidStr, Timestamp: now}, nil
}

func decodeRedisEntry(entry redis.XMessage) (StoredEvent, error) {
	raw, _ := entry.Values["event"].(string)
	return decodeStoredEvent([]byte(raw))
}

func (s *RedisEventStore) GetEvents(ctx context.Context, aggregateID string, fromSequence uint64, limit int) ([]StoredEvent, error) {
	if limit == 0 {
		return []StoredEvent{}, nil
	}
	start := fromSequence
	if start < 1 {
		start = 1
	}

	entries, err := s.client.XRange(ctx, s.streamName(aggregateID), "-", "+").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []StoredEvent{}, nil
		}
		return nil, evterrors.NewSubstrateError("failed to read event range", err)
	}

	result := make([]StoredEvent, 0, limit)
	for _, entry := range entries {
		ev, err := decodeRedisEntry(entry)
		if err != nil {
			return nil, evterrors.NewSerializationError("failed to decode stored event", err)
		}
		if ev.Sequence < start {
			continue
		}
		result = append(result, ev)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// SubscribeToEvents polls with XRead from "$" (new entries only),
// matching the "new" delivery policy used by the other substrates. The
// returned channel is closed when ctx is cancelled or an XRead call
// fails with anything other than an empty (timed-out) read.
func (s *RedisEventStore) SubscribeToEvents(ctx context.Context, aggregateID string) (<-chan StoredEvent, error) {
	ch := make(chan StoredEvent, 16)
	stream := s.streamName(aggregateID)

	go func() {
		defer close(ch)
		lastID := "$"
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			res, err := s.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Block:   s.cfg.BlockTimeout,
				Count:   16,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				s.logger.Warn(ctx, "xread failed", logging.Error(err))
				return
			}
			for _, streamRes := range res {
				for _, entry := range streamRes.Messages {
					ev, decodeErr := decodeRedisEntry(entry)
					if decodeErr != nil {
						s.logger.Warn(ctx, "failed to decode subscribed event", logging.Error(decodeErr))
						lastID = entry.ID
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
					lastID = entry.ID
				}
			}
		}
	}()

	return ch, nil
}

func (s *RedisEventStore) ValidateCIDChain(ctx context.Context, aggregateID string) (bool, error) {
	events, err := s.GetEvents(ctx, aggregateID, 0, maxChainValidationEvents)
	if err != nil {
		return false, err
	}
	return ValidateChain(events), nil
}

var _ EventStore = (*RedisEventStore)(nil)
