package interfaces

import (
	"context"

	"github.com/tradingiq/prediction-client/types"
)

type RealtimeClient interface {
	Connect(ctx context.Context) error

	Disconnect()

	// Subscribe and Unsubscribe always update the desired set; the control
	// message is only sent while connected.
	Subscribe(sub types.Subscription) error

	Unsubscribe(sub types.Subscription) error

	RequestPrediction(symbol string, opts types.PredictionOptions) error

	On(event types.EventType, handler types.Handler) types.ListenerID

	Off(event types.EventType, id types.ListenerID) bool

	ConnectionInfo() types.ConnectionInfo

	// AddPredictionSubscriber and AddMarketDataSubscriber subscribe on behalf
	// of a callback object that only receives payloads for its own symbols.
	AddPredictionSubscriber(subscriber PredictionSubscriber) (types.ListenerID, error)

	AddMarketDataSubscriber(subscriber MarketDataSubscriber) (types.ListenerID, error)

	RemoveSubscriber(id types.ListenerID) error
}
