package ubic

import (
	"errors"
	"fmt"
)

// Priority orders control-plane messages
type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityNormal    Priority = "normal"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

// Valid reports whether the priority is a known level
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityEmergency:
		return true
	}
	return false
}

// ErrInvalidMessage is returned when an envelope fails validation
var ErrInvalidMessage = errors.New("invalid ubic message")

// Message is the uniform inter-service control envelope. The idempotency key
// uniquely determines whether a target has already processed the message;
// redelivery with a processed key must not duplicate side effects.
type Message struct {
	IdempotencyKey string                 `json:"idempotency_key"`
	Priority       Priority               `json:"priority"`
	Source         string                 `json:"source"`
	Target         string                 `json:"target"`
	Type           string                 `json:"message_type"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	TraceID        string                 `json:"trace_id,omitempty"`
}

// Validate checks required envelope fields and defaults the priority
func (m *Message) Validate() error {
	if m.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency_key is required", ErrInvalidMessage)
	}
	if m.Type == "" {
		return fmt.Errorf("%w: message_type is required", ErrInvalidMessage)
	}
	if m.Priority == "" {
		m.Priority = PriorityNormal
	}
	if !m.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidMessage, m.Priority)
	}
	return nil
}

// Ack acknowledges a received control message
type Ack struct {
	Status    string `json:"status"` // ok, error, rejected
	Service   string `json:"service"`
	Type      string `json:"message_type,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// DispatchConfirmation confirms a message was accepted by the local bus
type DispatchConfirmation struct {
	Accepted bool   `json:"accepted"`
	Service  string `json:"service"`
	Target   string `json:"target,omitempty"`
	Detail   string `json:"detail,omitempty"`
}
