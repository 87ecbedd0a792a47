package types

import (
	"encoding/json"
	"time"
)

// ISO8601Milli is the timestamp layout used on outbound messages.
const ISO8601Milli = "2006-01-02T15:04:05.000Z07:00"

const (
	MessageSubscribe         = "subscribe"
	MessageUnsubscribe       = "unsubscribe"
	MessageRequestPrediction = "request_prediction"
	MessagePing              = "ping"

	MessageConnectionEstablished = "connection_established"
	MessagePrediction            = "prediction"
	MessageMarketData            = "market_data"
	MessageAlert                 = "alert"
	MessageSystemHealth          = "system_health"
	MessageError                 = "error"
	MessagePong                  = "pong"
)

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(ISO8601Milli)
}

// ControlMessage is the subscribe/unsubscribe request sent to the server.
type ControlMessage struct {
	Type      string   `json:"type"`
	Channel   string   `json:"channel"`
	Symbol    string   `json:"symbol,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
	Timestamp string   `json:"timestamp"`
}

func NewSubscribeMessage(sub Subscription, now time.Time) ControlMessage {
	return newControlMessage(MessageSubscribe, sub, now)
}

func NewUnsubscribeMessage(sub Subscription, now time.Time) ControlMessage {
	return newControlMessage(MessageUnsubscribe, sub, now)
}

func newControlMessage(kind string, sub Subscription, now time.Time) ControlMessage {
	msg := ControlMessage{
		Type:      kind,
		Channel:   sub.Channel,
		Symbol:    sub.Symbol,
		Timestamp: FormatTimestamp(now),
	}
	if len(sub.Symbols) > 0 {
		msg.Symbols = append([]string(nil), sub.Symbols...)
	}
	return msg
}

type PredictionOptions struct {
	Horizon    string  `json:"horizon"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
}

const (
	DefaultPredictionHorizon    = "1d"
	DefaultPredictionConfidence = 0.95
	DefaultPredictionModel      = "ensemble"
)

// WithDefaults fills zero fields with the server's default request parameters.
func (o PredictionOptions) WithDefaults() PredictionOptions {
	if o.Horizon == "" {
		o.Horizon = DefaultPredictionHorizon
	}
	if o.Confidence == 0 {
		o.Confidence = DefaultPredictionConfidence
	}
	if o.Model == "" {
		o.Model = DefaultPredictionModel
	}
	return o
}

type PredictionRequest struct {
	Type      string            `json:"type"`
	Symbol    string            `json:"symbol"`
	Options   PredictionOptions `json:"options"`
	Timestamp string            `json:"timestamp"`
}

func NewPredictionRequest(symbol string, opts PredictionOptions, now time.Time) PredictionRequest {
	return PredictionRequest{
		Type:      MessageRequestPrediction,
		Symbol:    symbol,
		Options:   opts.WithDefaults(),
		Timestamp: FormatTimestamp(now),
	}
}

type PingMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

func NewPingMessage(now time.Time) PingMessage {
	return PingMessage{Type: MessagePing, Timestamp: FormatTimestamp(now)}
}

// InboundMessage is the envelope of every server message. Only the fields
// relevant to Type are populated.
type InboundMessage struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connection_id,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Error        json.RawMessage `json:"error,omitempty"`
}
