package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope used when domain events leave the process.
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
}

// NewEvent wraps data in an envelope with a fresh id.
func NewEvent(aggregateID, aggregateType, eventType string, data any, now time.Time) (Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}

	return Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Timestamp:     now,
		Version:       1,
	}, nil
}
