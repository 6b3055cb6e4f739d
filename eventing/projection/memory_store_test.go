package projection_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cimchain/eventing/projection"
)

type orderView struct {
	ID     string
	Status string
}

func TestMemoryStoreSaveGetDelete(t *testing.T) {
	s := projection.NewMemoryStore[orderView]()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "O1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, "O1", orderView{ID: "O1", Status: "created"}))
	v, ok, err := s.Get(ctx, "O1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "created", v.Status)

	require.NoError(t, s.Save(ctx, "O1", orderView{ID: "O1", Status: "shipped"}))
	v, _, _ = s.Get(ctx, "O1")
	assert.Equal(t, "shipped", v.Status)

	require.NoError(t, s.Delete(ctx, "O1"))
	_, ok, _ = s.Get(ctx, "O1")
	assert.False(t, ok)
}

func TestMemoryStoreListQueryClear(t *testing.T) {
	s := projection.NewMemoryStore[orderView]()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "O1", orderView{ID: "O1", Status: "created"}))
	require.NoError(t, s.Save(ctx, "O2", orderView{ID: "O2", Status: "shipped"}))

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	shipped, err := s.Query(ctx, func(v orderView) bool { return v.Status == "shipped" })
	require.NoError(t, err)
	require.Len(t, shipped, 1)
	assert.Equal(t, "O2", shipped[0].ID)

	require.NoError(t, s.Clear(ctx))
	all, _ = s.List(ctx)
	assert.Empty(t, all)
}

func TestMemoryPositionStoreDefaultsToZero(t *testing.T) {
	p := projection.NewMemoryPositionStore()
	ctx := context.Background()

	pos, err := p.GetPosition(ctx, "orders-view")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pos)

	require.NoError(t, p.SetPosition(ctx, "orders-view", 42))
	pos, err = p.GetPosition(ctx, "orders-view")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), pos)
}
