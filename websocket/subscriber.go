package websocket

import (
	"fmt"

	"github.com/tradingiq/prediction-client/interfaces"
	"github.com/tradingiq/prediction-client/types"
)

type subscriberEntry struct {
	event types.EventType
	sub   types.Subscription
}

func (c *Client) AddPredictionSubscriber(subscriber interfaces.PredictionSubscriber) (types.ListenerID, error) {
	sub := types.PredictionsFor(subscriber.SubscribeSymbol())
	id := c.On(types.EventPrediction, func(ev types.Event) {
		if p, ok := ev.Prediction(); ok && sub.Covers(p.Symbol) {
			subscriber.OnPrediction(p)
		}
	})
	return id, c.addSubscriber(id, types.EventPrediction, sub)
}

func (c *Client) AddMarketDataSubscriber(subscriber interfaces.MarketDataSubscriber) (types.ListenerID, error) {
	sub := types.MarketDataFor(subscriber.SubscribeSymbols()...)
	id := c.On(types.EventMarketData, func(ev types.Event) {
		if m, ok := ev.MarketData(); ok && sub.Covers(m.Symbol) {
			subscriber.OnMarketData(m)
		}
	})
	return id, c.addSubscriber(id, types.EventMarketData, sub)
}

// RemoveSubscriber drops the listener and unsubscribes once no other
// subscriber uses the same subscription and the caller did not subscribe to
// it directly.
func (c *Client) RemoveSubscriber(id types.ListenerID) error {
	c.subscriberMu.Lock()
	entry, ok := c.subscribers[id]
	if !ok {
		c.subscriberMu.Unlock()
		return fmt.Errorf("unknown subscriber %d", id)
	}
	delete(c.subscribers, id)

	key := entry.sub.Key()
	c.subscriberRefs[key]--
	last := c.subscriberRefs[key] <= 0
	if last {
		delete(c.subscriberRefs, key)
	}
	_, direct := c.direct[key]
	c.subscriberMu.Unlock()

	c.Off(entry.event, id)
	if last && !direct {
		return c.unsubscribe(entry.sub)
	}
	return nil
}

func (c *Client) addSubscriber(id types.ListenerID, event types.EventType, sub types.Subscription) error {
	c.subscriberMu.Lock()
	c.subscribers[id] = subscriberEntry{event: event, sub: sub}
	c.subscriberRefs[sub.Key()]++
	c.subscriberMu.Unlock()

	return c.subscribe(sub)
}
