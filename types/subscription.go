package types

import "strings"

const (
	ChannelPredictions  = "predictions"
	ChannelMarketData   = "market_data"
	ChannelAlerts       = "alerts"
	ChannelSystemHealth = "system_health"
)

// Subscription is a (channel, key) pair. The key is either a single Symbol,
// a Symbols list, or empty for channel-wide topics such as system_health.
type Subscription struct {
	Channel string
	Symbol  string
	Symbols []string
}

func PredictionsFor(symbol string) Subscription {
	return Subscription{Channel: ChannelPredictions, Symbol: strings.ToUpper(symbol)}
}

func MarketDataFor(symbols ...string) Subscription {
	upper := make([]string, 0, len(symbols))
	for _, s := range symbols {
		upper = append(upper, strings.ToUpper(s))
	}
	return Subscription{Channel: ChannelMarketData, Symbols: upper}
}

func Alerts() Subscription {
	return Subscription{Channel: ChannelAlerts}
}

func SystemHealthStatus() Subscription {
	return Subscription{Channel: ChannelSystemHealth}
}

// Key identifies the subscription in the desired set, e.g. "predictions:AAPL"
// or "market_data:AAPL,MSFT".
func (s Subscription) Key() string {
	switch {
	case s.Symbol != "":
		return s.Channel + ":" + s.Symbol
	case len(s.Symbols) > 0:
		return s.Channel + ":" + strings.Join(s.Symbols, ",")
	default:
		return s.Channel
	}
}

// Covers reports whether symbol is part of the subscription's key. Channel-wide
// subscriptions cover every symbol.
func (s Subscription) Covers(symbol string) bool {
	if s.Symbol == "" && len(s.Symbols) == 0 {
		return true
	}
	if strings.EqualFold(s.Symbol, symbol) {
		return true
	}
	for _, sym := range s.Symbols {
		if strings.EqualFold(sym, symbol) {
			return true
		}
	}
	return false
}

func (s Subscription) String() string {
	return s.Key()
}
