package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cimchain/eventing"
)

func TestEncodeDecodeStoredEventRoundTrip(t *testing.T) {
	causation := "msg-parent"
	cidVal := "bafy-abc"
	parentVal := "bafy-parent"
	original := StoredEvent{
		Sequence:    7,
		AggregateID: "O1",
		EventType:   "OrderShipped",
		EventData:   map[string]any{"tracking": "T-123"},
		Header: eventing.Header{
			MessageID:     "msg-1",
			CorrelationID: "corr-1",
			CausationID:   &causation,
			Timestamp:     time.Now().UTC().Truncate(time.Millisecond),
		},
		CID:       &cidVal,
		ParentCID: &parentVal,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}

	raw, err := encodeStoredEvent(original)
	require.NoError(t, err)

	decoded, err := decodeStoredEvent(raw)
	require.NoError(t, err)

	assert.Equal(t, original.AggregateID, decoded.AggregateID)
	assert.Equal(t, original.EventType, decoded.EventType)
	assert.Equal(t, original.EventData["tracking"], decoded.EventData["tracking"])
	assert.Equal(t, original.Header.MessageID, decoded.Header.MessageID)
	require.NotNil(t, decoded.Header.CausationID)
	assert.Equal(t, *original.Header.CausationID, *decoded.Header.CausationID)
	assert.Equal(t, *original.CID, *decoded.CID)
	assert.Equal(t, *original.ParentCID, *decoded.ParentCID)
	assert.True(t, original.Header.Timestamp.Equal(decoded.Header.Timestamp))
}
