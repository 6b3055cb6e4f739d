package store

import (
	"context"
	"sync"
	"time"

	"cimchain/cid"
	"cimchain/eventing"
	evterrors "cimchain/errors"
	"cimchain/logging"
)

// MemoryEventStore is an in-memory EventStore, used in unit tests for
// both the event store's own invariants and the projection runner's
// dispatch logic. Generalized from the teacher's int64-keyed
// memory_store.go to spec's string aggregate IDs.
type MemoryEventStore struct {
	mu          sync.RWMutex
	aggMu       sync.Map // aggregateID -> *sync.Mutex, held across the parent-CID check + append
	events      map[string][]StoredEvent
	subscribers map[string][]chan StoredEvent
	provider    cid.Provider
	logger      logging.ILogger
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		events:      make(map[string][]StoredEvent),
		subscribers: make(map[string][]chan StoredEvent),
		logger:      logging.GetLogger().WithField("component", "store.memory"),
	}
}

// WithCIDProvider configures an external CID provider (local computation
// remains the fallback).
func (m *MemoryEventStore) WithCIDProvider(p cid.Provider) *MemoryEventStore {
	m.provider = p
	return m
}

func (m *MemoryEventStore) aggregateLock(aggregateID string) *sync.Mutex {
	lockAny, _ := m.aggMu.LoadOrStore(aggregateID, &sync.Mutex{})
	return lockAny.(*sync.Mutex)
}

func (m *MemoryEventStore) Append(ctx context.Context, aggregateID, eventType string, data map[string]any, parentCID *string) (AppendResult, error) {
	return m.AppendWithHeader(ctx, aggregateID, eventType, data, eventing.NewHeader(), parentCID)
}

func (m *MemoryEventStore) AppendWithHeader(ctx context.Context, aggregateID, eventType string, data map[string]any, header eventing.Header, parentCID *string) (AppendResult, error) {
	lock := m.aggregateLock(aggregateID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	existing := m.events[aggregateID]
	m.mu.RUnlock()

	var lastCID *string
	if len(existing) > 0 {
		lastCID = existing[len(existing)-1].CID
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
	cidStr, err := cid.Of(ctx, preBytes, m.provider, m.logger)
	if err != nil {
		return AppendResult{}, evterrors.NewContentAddressError("failed to compute cid", err)
	}

	stored := StoredEvent{
		AggregateID: aggregateID,
		EventType:   eventType,
		EventData:   data,
		Header:      header,
		CID:         &cidStr,
		ParentCID:   parentCID,
		Timestamp:   time.Now().UTC(),
	}

	m.mu.Lock()
	stored.Sequence = uint64(len(m.events[aggregateID])) + 1
	m.events[aggregateID] = append(m.events[aggregateID], stored)
	subs := append([]chan StoredEvent(nil), m.subscribers[aggregateID]...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- stored:
		case <-ctx.Done():
		}
	}

	return AppendResult{Sequence: stored.Sequence, CID: cidStr, Timestamp: stored.Timestamp}, nil
}

func checkParentCID(lastCID, parentCID *string) error {
	if parentCID == nil {
		if lastCID != nil {
			return evterrors.NewInvalidCidChainError("parent_cid is required once an aggregate has events")
		}
		return nil
	}
	if lastCID == nil || *lastCID != *parentCID {
		return evterrors.NewInvalidCidChainError("parent_cid does not match the aggregate's last event cid")
	}
	return nil
}

func (m *MemoryEventStore) GetEvents(_ context.Context, aggregateID string, fromSequence uint64, limit int) ([]StoredEvent, error) {
	if limit == 0 {
		return []StoredEvent{}, nil
	}
	start := fromSequence
	if start < 1 {
		start = 1
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.events[aggregateID]
	result := make([]StoredEvent, 0, limit)
	for _, e := range all {
		if e.Sequence < start {
			continue
		}
		result = append(result, e)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryEventStore) SubscribeToEvents(ctx context.Context, aggregateID string) (<-chan StoredEvent, error) {
	ch := make(chan StoredEvent, 16)

	m.mu.Lock()
	m.subscribers[aggregateID] = append(m.subscribers[aggregateID], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subscribers[aggregateID]
		for i, s := range subs {
			if s == ch {
				m.subscribers[aggregateID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

func (m *MemoryEventStore) ValidateCIDChain(_ context.Context, aggregateID string) (bool, error) {
	m.mu.RLock()
	all := m.events[aggregateID]
	bound := len(all)
	if bound > maxChainValidationEvents {
		bound = maxChainValidationEvents
	}
	slice := make([]StoredEvent, bound)
	copy(slice, all[:bound])
	m.mu.RUnlock()

	return ValidateChain(slice), nil
}

var _ EventStore = (*MemoryEventStore)(nil)
