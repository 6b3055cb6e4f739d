package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cimchain/errors"
	"cimchain/eventing"
	"cimchain/eventing/store"
)

// S1 — Saga: three correlated, causally-chained events append cleanly and
// validate as one hash chain.
func TestMemoryEventStoreSagaChain(t *testing.T) {
	s := store.NewMemoryEventStore()
	ctx := context.Background()

	h1 := eventing.NewHeaderWithCorrelation("K1")
	r1, err := s.AppendWithHeader(ctx, "O1", "OrderCreated",
		map[string]any{"order": "O1", "customer": "C1", "total": 99.99}, h1, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r1.Sequence)

	h2 := eventing.NewHeaderWithCausation("K1", h1.MessageID)
	cid1 := r1.CID
	r2, err := s.AppendWithHeader(ctx, "O1", "OrderShipped",
		map[string]any{"order": "O1", "tracking": "T-123"}, h2, &cid1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r2.Sequence)

	h3 := eventing.NewHeaderWithCausation("K1", h2.MessageID)
	cid2 := r2.CID
	r3, err := s.AppendWithHeader(ctx, "O1", "OrderDelivered",
		map[string]any{"order": "O1", "at": "2024-01-01T00:00:00Z"}, h3, &cid2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), r3.Sequence)

	ok, err := s.ValidateCIDChain(ctx, "O1")
	require.NoError(t, err)
	assert.True(t, ok)

	events, err := s.GetEvents(ctx, "O1", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{events[0].Sequence, events[1].Sequence, events[2].Sequence})
	assert.Nil(t, events[0].ParentCID)
	require.NotNil(t, events[1].ParentCID)
	assert.Equal(t, cid1, *events[1].ParentCID)
	require.NotNil(t, events[2].ParentCID)
	assert.Equal(t, cid2, *events[2].ParentCID)
}

// S2 — Concurrency conflict: a second producer appending with a stale
// (nil) parent_cid against a non-empty aggregate gets InvalidCidChain.
func TestMemoryEventStoreConcurrencyConflict(t *testing.T) {
	s := store.NewMemoryEventStore()
	ctx := context.Background()

	_, err := s.Append(ctx, "O1", "OrderCreated", map[string]any{"order": "O1"}, nil)
	require.NoError(t, err)

	_, err = s.Append(ctx, "O1", "OrderCreated", map[string]any{"order": "O1"}, nil)
	require.Error(t, err)
	var ierr errors.IError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, errors.ErrCodeInvalidCidChain, ierr.Code())
}

func TestMemoryEventStoreGenesisMustHaveNilParent(t *testing.T) {
	s := store.NewMemoryEventStore()
	ctx := context.Background()
	wrong := "not-a-real-cid"
	_, err := s.Append(ctx, "O1", "OrderCreated", map[string]any{}, &wrong)
	require.Error(t, err)
}

func TestMemoryEventStoreEmptyStreamBoundaries(t *testing.T) {
	s := store.NewMemoryEventStore()
	ctx := context.Background()

	ok, err := s.ValidateCIDChain(ctx, "missing")
	require.NoError(t, err)
	assert.True(t, ok)

	events, err := s.GetEvents(ctx, "missing", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = s.Append(ctx, "O1", "A", map[string]any{}, nil)
	require.NoError(t, err)

	zero, err := s.GetEvents(ctx, "O1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, zero)

	fromZero, err := s.GetEvents(ctx, "O1", 0, 10)
	require.NoError(t, err)
	fromOne, err := s.GetEvents(ctx, "O1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, fromZero, fromOne)
}

// S5 — Subscription ordering: a subscriber observes appended events in
// append order.
func TestMemoryEventStoreSubscriptionOrdering(t *testing.T) {
	s := store.NewMemoryEventStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.SubscribeToEvents(ctx, "A")
	require.NoError(t, err)

	var parent *string
	for i := 0; i < 3; i++ {
		res, err := s.Append(context.Background(), "A", "E", map[string]any{"i": i}, parent)
		require.NoError(t, err)
		cidCopy := res.CID
		parent = &cidCopy
	}

	var got []uint64
	timeout := time.After(time.Second)
	for len(got) < 3 {
		select {
		case ev := <-ch:
			got = append(got, ev.Sequence)
		case <-timeout:
			t.Fatal("timed out waiting for subscribed events")
		}
	}
	assert.Equal(t, []uint64{1, 2, 3}, got)
}
