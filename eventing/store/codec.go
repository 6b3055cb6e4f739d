package store

import (
	"encoding/json"
	"time"

	"cimchain/eventing"
)

// wireEvent mirrors the on-the-wire envelope from spec §6 exactly, so
// any out-of-band consumer (not just this module) can decode the
// payload without understanding Go-specific types.
type wireEvent struct {
	Sequence    uint64          `json:"sequence"`
	AggregateID string          `json:"aggregate_id"`
	EventType   string          `json:"event_type"`
	EventData   map[string]any  `json:"event_data"`
	Header      wireHeader      `json:"header"`
	CID         *string         `json:"cid"`
	ParentCID   *string         `json:"parent_cid"`
	Timestamp   string          `json:"timestamp"`
}

type wireHeader struct {
	MessageID     string  `json:"message_id"`
	CorrelationID string  `json:"correlation_id"`
	CausationID   *string `json:"causation_id"`
	Timestamp     string  `json:"timestamp"`
}

const rfc3339 = "2006-01-02T15:04:05.999999999Z07:00"

func encodeStoredEvent(e StoredEvent) ([]byte, error) {
	w := wireEvent{
		Sequence:    e.Sequence,
		AggregateID: e.AggregateID,
		EventType:   e.EventType,
		EventData:   e.EventData,
		Header: wireHeader{
			MessageID:     e.Header.MessageID,
			CorrelationID: e.Header.CorrelationID,
			CausationID:   e.Header.CausationID,
			Timestamp:     e.Header.Timestamp.Format(rfc3339),
		},
		CID:       e.CID,
		ParentCID: e.ParentCID,
		Timestamp: e.Timestamp.Format(rfc3339),
	}
	return json.Marshal(w)
}

func decodeStoredEvent(data []byte) (StoredEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return StoredEvent{}, err
	}
	headerTS, err := parseTimestamp(w.Header.Timestamp)
	if err != nil {
		return StoredEvent{}, err
	}
	eventTS, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return StoredEvent{}, err
	}
	return StoredEvent{
		Sequence:    w.Sequence,
		AggregateID: w.AggregateID,
		EventType:   w.EventType,
		EventData:   w.EventData,
		Header: eventing.Header{
			MessageID:     w.Header.MessageID,
			CorrelationID: w.Header.CorrelationID,
			CausationID:   w.Header.CausationID,
			Timestamp:     headerTS,
		},
		CID:       w.CID,
		ParentCID: w.ParentCID,
		Timestamp: eventTS,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(rfc3339, s)
}
