package model

import (
	"encoding/json"
	"time"
)

// EventKind identifies what an Event carries.
type EventKind string

const (
	EventState       EventKind = "state"
	EventSignal      EventKind = "signal"
	EventOrderOpened EventKind = "order_opened"
	EventOrderClosed EventKind = "order_closed"
	EventOrderFailed EventKind = "order_failed"
)

// Event is published on the engine bus. Key names the state entry for
// EventState; Payload is any JSON-encodable value.
type Event struct {
	Kind    EventKind `json:"kind"`
	Key     string    `json:"key,omitempty"`
	Payload any       `json:"payload"`
	TS      time.Time `json:"ts"`
}

// JSON encodes the event, ignoring errors on the hot path.
func (e Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// OrderEvent is the payload of order lifecycle events.
type OrderEvent struct {
	Order  ActiveOrder `json:"order"`
	Reason string      `json:"reason,omitempty"`
	Price  float64     `json:"price,omitempty"`
	PL     float64     `json:"pl,omitempty"`
	Error  string      `json:"error,omitempty"`
}
