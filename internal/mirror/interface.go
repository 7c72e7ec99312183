package mirror

import (
	"context"
	"encoding/json"
	"time"
)

// Event is the envelope published to the mirror bus. Payload carries
// the same message JSON websocket clients receive, so the mirror tier
// can fan out without reshaping anything.
type Event struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(eventType, channel string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Channel:   channel,
		Payload:   data,
		Timestamp: time.Now(),
	}, nil
}

// UnmarshalPayload unmarshals the event payload into the given struct.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher pushes events at the mirror bus. The disabled driver
// swallows everything, so callers never branch on configuration.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
	Enabled() bool
	Close() error
}
