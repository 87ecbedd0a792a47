package types

import (
	"encoding/json"
	"testing"
	"time"
)

var fixedNow = time.Date(2024, 3, 1, 14, 30, 5, 123_000_000, time.UTC)

func TestSubscriptionKey(t *testing.T) {
	tests := []struct {
		name     string
		sub      Subscription
		expected string
	}{
		{"single symbol", PredictionsFor("aapl"), "predictions:AAPL"},
		{"symbol list", MarketDataFor("AAPL", "msft"), "market_data:AAPL,MSFT"},
		{"channel wide", SystemHealthStatus(), "system_health"},
		{"alerts", Alerts(), "alerts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.Key(); got != tt.expected {
				t.Errorf("Key() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestSubscriptionCovers(t *testing.T) {
	md := MarketDataFor("AAPL", "MSFT")
	if !md.Covers("msft") {
		t.Error("market data subscription should cover MSFT")
	}
	if md.Covers("TSLA") {
		t.Error("market data subscription should not cover TSLA")
	}
	if !Alerts().Covers("TSLA") {
		t.Error("channel-wide subscription should cover any symbol")
	}
}

func TestControlMessageJSON(t *testing.T) {
	data, err := json.Marshal(NewSubscribeMessage(MarketDataFor("AAPL", "MSFT"), fixedNow))
	if err != nil {
		t.Fatal(err)
	}
	expected := `{"type":"subscribe","channel":"market_data","symbols":["AAPL","MSFT"],"timestamp":"2024-03-01T14:30:05.123Z"}`
	if string(data) != expected {
		t.Errorf("subscribe message = %s, expected %s", data, expected)
	}

	data, err = json.Marshal(NewUnsubscribeMessage(PredictionsFor("AAPL"), fixedNow))
	if err != nil {
		t.Fatal(err)
	}
	expected = `{"type":"unsubscribe","channel":"predictions","symbol":"AAPL","timestamp":"2024-03-01T14:30:05.123Z"}`
	if string(data) != expected {
		t.Errorf("unsubscribe message = %s, expected %s", data, expected)
	}
}

func TestPredictionRequestDefaults(t *testing.T) {
	req := NewPredictionRequest("AAPL", PredictionOptions{Model: "lstm"}, fixedNow)
	if req.Type != MessageRequestPrediction {
		t.Errorf("Type = %q", req.Type)
	}
	if req.Options.Model != "lstm" {
		t.Errorf("Model = %q, expected lstm", req.Options.Model)
	}
	if req.Options.Horizon != DefaultPredictionHorizon || req.Options.Confidence != DefaultPredictionConfidence {
		t.Errorf("defaults not applied: %+v", req.Options)
	}
}

func TestFormatTimestamp_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	got := FormatTimestamp(time.Date(2024, 3, 1, 9, 30, 0, 0, loc))
	if got != "2024-03-01T14:30:00.000Z" {
		t.Errorf("FormatTimestamp() = %q", got)
	}
}
