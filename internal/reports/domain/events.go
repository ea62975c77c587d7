package reports

import "time"

// RejectedEventType names Rejected on the bus.
const RejectedEventType = "reports.Rejected"

// Rejected is emitted for every report refused by validation.
type Rejected struct {
	DeviceCode string       `json:"deviceCode,omitempty"`
	MessageID  string       `json:"messageId,omitempty"`
	Errors     []FieldError `json:"errors"`
	Payload    string       `json:"payload"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// EventType implements eventing.Event.
func (Rejected) EventType() string { return RejectedEventType }

// EventDeviceCode implements eventing.DeviceEvent.
func (e Rejected) EventDeviceCode() string { return e.DeviceCode }

// EventTime implements eventing.TimedEvent.
func (e Rejected) EventTime() time.Time { return e.OccurredAt }
