// Package store implements the event store: append-only per-aggregate
// logs with CID chain validation, optimistic concurrency, real-time
// subscription and range replay, over a pluggable durable-log substrate.
package store

import (
	"context"
	"time"

	"cimchain/eventing"
)

// StoredEvent is what the log persists and what callers read back.
//
// Sequence is a per-aggregate counter assigned at append time (the last
// event's sequence plus one), so it stays contiguous from 1 regardless
// of how many other aggregates interleave on the same substrate-level
// log (spec §4.4).
type StoredEvent struct {
	Sequence    uint64         `json:"sequence"`
	AggregateID string         `json:"aggregate_id"`
	EventType   string         `json:"event_type"`
	EventData   map[string]any `json:"event_data"`
	Header      eventing.Header `json:"header"`
	CID         *string        `json:"cid"`
	ParentCID   *string        `json:"parent_cid"`
	Timestamp   time.Time      `json:"timestamp"`
}

// AppendResult is returned by Append/AppendWithHeader once the log
// substrate has acknowledged the publish.
type AppendResult struct {
	Sequence  uint64
	CID       string
	Timestamp time.Time
}

// EventStore is the append/read/subscribe/validate contract shared by
// every substrate-backed implementation (spec §4.4).
type EventStore interface {
	// Append appends a fresh-header event. parentCID is checked against
	// the aggregate's current last event CID before the publish: a nil
	// parentCID is accepted only while the aggregate has no events, and a
	// non-nil one must equal the last event's CID. A mismatch returns
	// ErrInvalidCidChain.
	Append(ctx context.Context, aggregateID, eventType string, data map[string]any, parentCID *string) (AppendResult, error)

	// AppendWithHeader is the same contract but accepts a caller-supplied
	// header, for correlation/causation propagation across a saga.
	AppendWithHeader(ctx context.Context, aggregateID, eventType string, data map[string]any, header eventing.Header, parentCID *string) (AppendResult, error)

	// GetEvents reads at most limit events starting at
	// max(fromSequence, 1), in strictly ascending sequence order.
	GetEvents(ctx context.Context, aggregateID string, fromSequence uint64, limit int) ([]StoredEvent, error)

	// SubscribeToEvents returns a channel of events appended after the
	// subscription starts (delivery policy "new"). The channel is closed
	// silently when ctx is cancelled; callers must re-subscribe.
	// RedisEventStore also closes it on a read error; NATSEventStore does
	// not close it when its connection is lost.
	SubscribeToEvents(ctx context.Context, aggregateID string) (<-chan StoredEvent, error)

	// ValidateCIDChain reads up to an internal bound of events and
	// verifies genesis nullity and parent-CID linkage.
	ValidateCIDChain(ctx context.Context, aggregateID string) (bool, error)
}

// maxChainValidationEvents bounds ValidateCIDChain's read, per spec §4.4
// ("N >= expected chain length; spec uses 1000 as default upper bound").
const maxChainValidationEvents = 1000
