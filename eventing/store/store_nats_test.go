package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cimchain/eventing"
)

func TestNATSHeadersCarryIdentityFields(t *testing.T) {
	causation := "msg-0"
	header := eventing.Header{MessageID: "msg-1", CorrelationID: "corr-1", CausationID: &causation}
	parent := "bafy-parent"

	h := natsHeaders(header, "bafy-current", &parent, 2)

	assert.Equal(t, "msg-1", h.Get(headerMessageID))
	assert.Equal(t, "corr-1", h.Get(headerCorrelationID))
	assert.Equal(t, "msg-0", h.Get(headerCausationID))
	assert.Equal(t, "bafy-current", h.Get(headerCID))
	assert.Equal(t, "bafy-parent", h.Get(headerParentCID))
	assert.Equal(t, "2", h.Get(headerAggregateSeq))
}

func TestNATSHeadersOmitNilFields(t *testing.T) {
	header := eventing.Header{MessageID: "msg-1", CorrelationID: "corr-1"}
	h := natsHeaders(header, "bafy-current", nil, 1)

	assert.Equal(t, "", h.Get(headerCausationID))
	assert.Equal(t, "", h.Get(headerParentCID))
	assert.Equal(t, "1", h.Get(headerAggregateSeq))
}
