package types

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventConnected             EventType = "connected"
	EventDisconnected          EventType = "disconnected"
	EventError                 EventType = "error"
	EventParseError            EventType = "parse_error"
	EventConnectionEstablished EventType = "connection_established"
	EventPrediction            EventType = "prediction"
	EventMarketData            EventType = "market_data"
	EventAlert                 EventType = "alert"
	EventSystemHealth          EventType = "system_health"
	EventServerError           EventType = "server_error"
	EventPong                  EventType = "pong"
	EventMessage               EventType = "message"
	EventReconnecting          EventType = "reconnecting"
	EventMaxReconnectsReached  EventType = "max_reconnects_reached"
)

var messageEvents = map[string]EventType{
	MessageConnectionEstablished: EventConnectionEstablished,
	MessagePrediction:            EventPrediction,
	MessageMarketData:            EventMarketData,
	MessageAlert:                 EventAlert,
	MessageSystemHealth:          EventSystemHealth,
	MessageError:                 EventServerError,
	MessagePong:                  EventPong,
}

// EventForMessage maps an inbound envelope type to the event it is emitted as.
// Unknown types map to EventMessage.
func EventForMessage(msgType string) EventType {
	if ev, ok := messageEvents[msgType]; ok {
		return ev
	}
	return EventMessage
}

// Event is delivered to listeners. Which fields are set depends on Type:
// Payload carries the typed inbound payload, Code the close status for
// disconnected, Attempt and Delay the reconnect schedule.
type Event struct {
	Type         EventType
	MessageType  string
	ConnectionID string
	Payload      any
	Raw          json.RawMessage
	Err          error
	Code         int
	Attempt      int
	Delay        time.Duration
}

func (e Event) Prediction() (*Prediction, bool) {
	p, ok := e.Payload.(*Prediction)
	return p, ok
}

func (e Event) MarketData() (*MarketData, bool) {
	m, ok := e.Payload.(*MarketData)
	return m, ok
}

func (e Event) Alert() (*Alert, bool) {
	a, ok := e.Payload.(*Alert)
	return a, ok
}

func (e Event) SystemHealth() (*SystemHealth, bool) {
	h, ok := e.Payload.(*SystemHealth)
	return h, ok
}

type Handler func(Event)

type ListenerID uint64

type ConnectionInfo struct {
	Connected         bool     `json:"connected"`
	ConnectionID      string   `json:"connection_id"`
	Subscriptions     []string `json:"subscriptions"`
	ReconnectAttempts int      `json:"reconnect_attempts"`
}
