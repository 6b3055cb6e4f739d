package projection_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cimchain/eventing/projection"
	"cimchain/eventing/store"
)

func appendChain(t *testing.T, s *store.MemoryEventStore, aggregateID string, eventTypes ...string) {
	t.Helper()
	var parent *string
	for _, et := range eventTypes {
		res, err := s.Append(context.Background(), aggregateID, et, map[string]any{}, parent)
		require.NoError(t, err)
		cidCopy := res.CID
		parent = &cidCopy
	}
}

// S3 — Projection catch-up: a runner started after events were already
// appended replays them all via RunCatchUp, in order, exactly once.
func TestRunnerRunCatchUpReplaysHistoryInOrder(t *testing.T) {
	es := store.NewMemoryEventStore()
	appendChain(t, es, "O1", "OrderCreated", "OrderShipped", "OrderDelivered")

	readStore := projection.NewMemoryStore[orderView]()
	positions := projection.NewMemoryPositionStore()
	m := projection.NewManager[orderView](readStore, positions)
	h := newCountingHandler("orders-view", []string{"OrderCreated", "OrderShipped", "OrderDelivered"})
	m.Register(h)

	runner := projection.NewRunner[orderView](m, es)
	require.NoError(t, runner.RunCatchUp(context.Background(), []string{"O1"}))

	assert.Equal(t, 3, h.calls)
	view, found, err := readStore.Get(context.Background(), "O1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "OrderDelivered", view.Status)

	pos, err := positions.GetPosition(context.Background(), "orders-view")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), pos)
}

// S6 — Rebuild: clearing the read model and re-running catch-up from
// scratch reproduces the same final state idempotently.
func TestRunnerRunCatchUpRebuildIsIdempotent(t *testing.T) {
	es := store.NewMemoryEventStore()
	appendChain(t, es, "O1", "OrderCreated", "OrderShipped")

	readStore := projection.NewMemoryStore[orderView]()
	m := projection.NewManager[orderView](readStore, nil)
	h := newCountingHandler("orders-view", []string{"OrderCreated", "OrderShipped"})
	m.Register(h)
	runner := projection.NewRunner[orderView](m, es)

	require.NoError(t, runner.RunCatchUp(context.Background(), []string{"O1"}))
	require.NoError(t, readStore.Clear(context.Background()))

	h2 := newCountingHandler("orders-view", []string{"OrderCreated", "OrderShipped"})
	m2 := projection.NewManager[orderView](readStore, nil)
	m2.Register(h2)
	runner2 := projection.NewRunner[orderView](m2, es)
	require.NoError(t, runner2.RunCatchUp(context.Background(), []string{"O1"}))

	view, found, err := readStore.Get(context.Background(), "O1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "OrderShipped", view.Status)
	assert.Equal(t, 2, h2.calls)
}

// RunForAggregate only sees events appended after the subscription
// opens; it does not re-deliver history already covered by catch-up.
func TestRunnerRunForAggregateOnlySeesLiveEvents(t *testing.T) {
	es := store.NewMemoryEventStore()
	appendChain(t, es, "O1", "OrderCreated")

	readStore := projection.NewMemoryStore[orderView]()
	m := projection.NewManager[orderView](readStore, nil)
	h := newCountingHandler("orders-view", []string{"OrderCreated", "OrderShipped"})
	m.Register(h)
	runner := projection.NewRunner[orderView](m, es)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = runner.RunForAggregate(ctx, "O1")
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := es.Append(context.Background(), "O1", "OrderShipped", map[string]any{}, nil)
	assert.Error(t, err, "nil parent against a non-empty aggregate must conflict")

	events, err := es.GetEvents(context.Background(), "O1", 0, 10)
	require.NoError(t, err)
	last := events[len(events)-1]
	_, err = es.Append(context.Background(), "O1", "OrderShipped", map[string]any{}, last.CID)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 1, h.calls)
}
