// Package eventing frames outbound domain events for the message bus.
package eventing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultSource        = "home-manager"
	currentSchemaVersion = 1
)

// Event is a domain event that can be framed in an Envelope.
type Event interface {
	EventType() string
}

// DeviceEvent is an event about one device.
type DeviceEvent interface {
	Event
	EventDeviceCode() string
}

// TimedEvent carries its own occurrence time.
type TimedEvent interface {
	Event
	EventTime() time.Time
}

// Envelope is the wire frame for events published on the bus.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	DeviceCode    string          `json:"device_code,omitempty"`
	Source        string          `json:"source"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Meta overrides envelope fields. Zero values fall back to the event or defaults.
type Meta struct {
	EventID       string
	OccurredAt    time.Time
	CorrelationID string
	DeviceCode    string
	Source        string
	SchemaVersion int
}

// NewEventID generates a random event identifier.
func NewEventID() string {
	return uuid.NewString()
}

// BuildEnvelope frames event. The correlation id defaults to the event id so
// an uncorrelated event still threads with its own replies.
func BuildEnvelope(event Event, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, errors.New("eventing: nil event")
	}
	eventType := event.EventType()
	if eventType == "" {
		return Envelope{}, errors.New("eventing: empty event type")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("eventing: encode %s: %w", eventType, err)
	}

	env := Envelope{
		EventID:       firstNonEmpty(meta.EventID, NewEventID()),
		EventType:     eventType,
		OccurredAt:    meta.OccurredAt,
		DeviceCode:    meta.DeviceCode,
		Source:        firstNonEmpty(meta.Source, defaultSource),
		SchemaVersion: meta.SchemaVersion,
		Payload:       payload,
	}
	env.CorrelationID = firstNonEmpty(meta.CorrelationID, env.EventID)
	if env.DeviceCode == "" {
		if scoped, ok := event.(DeviceEvent); ok {
			env.DeviceCode = scoped.EventDeviceCode()
		}
	}
	if env.OccurredAt.IsZero() {
		if timed, ok := event.(TimedEvent); ok {
			env.OccurredAt = timed.EventTime()
		}
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now()
	}
	env.OccurredAt = env.OccurredAt.UTC()
	if env.SchemaVersion == 0 {
		env.SchemaVersion = currentSchemaVersion
	}
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return errors.New("eventing: empty payload")
	}
	return json.Unmarshal(e.Payload, v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
