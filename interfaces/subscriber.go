package interfaces

import "github.com/tradingiq/prediction-client/types"

// PredictionSubscriber receives prediction updates for a single symbol.
type PredictionSubscriber interface {
	OnPrediction(*types.Prediction)

	SubscribeSymbol() string
}

// MarketDataSubscriber receives market data for a set of symbols.
type MarketDataSubscriber interface {
	OnMarketData(*types.MarketData)

	SubscribeSymbols() []string
}
