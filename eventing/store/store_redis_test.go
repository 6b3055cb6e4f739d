package store

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cimchain/eventing"
)

func TestDecodeRedisEntryRoundTrip(t *testing.T) {
	cidVal := "bafy-abc"
	stored := StoredEvent{
		Sequence:    3,
		AggregateID: "O1",
		EventType:   "OrderShipped",
		EventData:   map[string]any{"tracking": "T-1"},
		Header:      eventing.Header{MessageID: "msg-1", CorrelationID: "corr-1"},
		CID:         &cidVal,
		Timestamp:   time.Now().UTC().Truncate(time.Millisecond),
	}
	payload, err := encodeStoredEvent(stored)
	require.NoError(t, err)

	entry := redis.XMessage{ID: "1700000000000-0", Values: map[string]interface{}{"event": string(payload)}}
	decoded, err := decodeRedisEntry(entry)
	require.NoError(t, err)

	assert.Equal(t, stored.AggregateID, decoded.AggregateID)
	assert.Equal(t, stored.Sequence, decoded.Sequence)
	assert.Equal(t, *stored.CID, *decoded.CID)
}
