package types

import (
	"encoding/json"
	"fmt"
	"time"
)

type Prediction struct {
	Symbol         string  `json:"symbol"`
	PredictedPrice float64 `json:"predicted_price"`
	CurrentPrice   float64 `json:"current_price"`
	Confidence     float64 `json:"confidence"`
	Horizon        string  `json:"horizon"`
	Model          string  `json:"model"`
	Direction      string  `json:"direction,omitempty"`
	Timestamp      string  `json:"timestamp"`
}

// ExpectedChangePercent is the predicted move relative to the current price.
func (p *Prediction) ExpectedChangePercent() float64 {
	if p.CurrentPrice == 0 {
		return 0
	}
	return (p.PredictedPrice - p.CurrentPrice) / p.CurrentPrice * 100
}

func (p *Prediction) GetSymbol() string { return p.Symbol }

func (p *Prediction) Time() time.Time { return parseTimestamp(p.Timestamp) }

type MarketData struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume"`
	Timestamp     string  `json:"timestamp"`
}

func (m *MarketData) GetSymbol() string { return m.Symbol }

func (m *MarketData) Time() time.Time { return parseTimestamp(m.Timestamp) }

type Alert struct {
	ID        string `json:"id"`
	Symbol    string `json:"symbol,omitempty"`
	Type      string `json:"type"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (a *Alert) GetSymbol() string { return a.Symbol }

type SystemHealth struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services,omitempty"`
	LatencyMs float64           `json:"latency_ms,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (h *SystemHealth) Healthy() bool {
	return h.Status == "healthy" || h.Status == "ok"
}

// DecodePayload decodes the data field of a known inbound message type into
// its typed payload. Unknown types return the raw data unchanged.
func DecodePayload(msgType string, data json.RawMessage) (any, error) {
	var target any
	switch msgType {
	case MessagePrediction:
		target = &Prediction{}
	case MessageMarketData:
		target = &MarketData{}
	case MessageAlert:
		target = &Alert{}
	case MessageSystemHealth:
		target = &SystemHealth{}
	default:
		return data, nil
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%s message has no data", msgType)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", msgType, err)
	}
	return target, nil
}

func parseTimestamp(ts string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}
