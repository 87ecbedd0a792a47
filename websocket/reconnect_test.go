package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/tradingiq/prediction-client/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectDelay(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1000 * time.Millisecond},
		{1, 1000 * time.Millisecond},
		{2, 2000 * time.Millisecond},
		{3, 4000 * time.Millisecond},
		{4, 8000 * time.Millisecond},
		{5, 16000 * time.Millisecond},
		{6, 30000 * time.Millisecond},
		{12, 30000 * time.Millisecond},
	}

	for _, tt := range tests {
		got := ReconnectDelay(DefaultReconnectBaseDelay, DefaultReconnectMaxDelay, tt.attempt)
		assert.Equal(t, tt.expected, got, "attempt %d", tt.attempt)
	}

	assert.Equal(t, 64*time.Second, ReconnectDelay(time.Second, 0, 7), "zero max disables the cap")
}

func TestAbnormalClose_ReconnectsAndReplaysSubscriptions(t *testing.T) {
	srv := newTestServer(t)
	c, _ := newTestClient(t, srv.URL())
	events := recordEvents(c, types.EventConnected, types.EventDisconnected, types.EventReconnecting)

	require.NoError(t, c.SubscribeToPredictions("AAPL"))
	require.NoError(t, c.SubscribeToMarketData("AAPL", "MSFT"))
	require.NoError(t, c.Connect(context.Background()))
	first := events.waitFor(t, types.EventConnected)

	_, err := srv.NextOfType(types.MessageSubscribe, waitTimeout)
	require.NoError(t, err)
	_, err = srv.NextOfType(types.MessageSubscribe, waitTimeout)
	require.NoError(t, err)

	srv.DropConnections()

	ev := events.waitFor(t, types.EventDisconnected)
	assert.NotEqual(t, 1000, ev.Code)
	ev = events.waitFor(t, types.EventReconnecting)
	assert.Equal(t, 1, ev.Attempt)
	assert.Equal(t, 10*time.Millisecond, ev.Delay)

	second := events.waitFor(t, types.EventConnected)
	assert.NotEqual(t, first.ConnectionID, second.ConnectionID)

	var replayed []string
	for i := 0; i < 2; i++ {
		msg, err := srv.NextOfType(types.MessageSubscribe, waitTimeout)
		require.NoError(t, err)
		var ctrl types.ControlMessage
		require.NoError(t, msg.Decode(&ctrl))
		assert.Equal(t, second.ConnectionID, msg.ConnectionID)
		replayed = append(replayed, types.Subscription{Channel: ctrl.Channel, Symbol: ctrl.Symbol, Symbols: ctrl.Symbols}.Key())
	}
	assert.Equal(t, []string{"predictions:AAPL", "market_data:AAPL,MSFT"}, replayed)

	info := c.ConnectionInfo()
	assert.True(t, info.Connected)
	assert.Equal(t, 0, info.ReconnectAttempts)
	assert.Equal(t, second.ConnectionID, info.ConnectionID)
}

func TestMaxReconnectsReached_StopsRetrying(t *testing.T) {
	srv := newTestServer(t)
	c, logs := newTestClient(t, srv.URL(), WithReconnectDelay(5*time.Millisecond, time.Second))
	events := recordEvents(c, types.EventReconnecting, types.EventMaxReconnectsReached)
	require.NoError(t, c.Connect(context.Background()))

	srv.Reject(true)
	srv.DropConnections()

	scheduled := events.collect(t, types.EventReconnecting, DefaultMaxReconnectAttempts)
	var delays []time.Duration
	for i, ev := range scheduled {
		assert.Equal(t, i+1, ev.Attempt)
		delays = append(delays, ev.Delay)
	}
	assert.Equal(t, []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		80 * time.Millisecond,
	}, delays)

	ev := events.waitFor(t, types.EventMaxReconnectsReached)
	assert.Equal(t, DefaultMaxReconnectAttempts, ev.Attempt)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1+DefaultMaxReconnectAttempts, srv.Dials())
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, logs.FilterMessage("Giving up on reconnecting").Len())

	// Connect resumes after exhaustion.
	srv.Reject(false)
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 0, c.ConnectionInfo().ReconnectAttempts)
}

func TestUnlimitedReconnectAttempts(t *testing.T) {
	srv := newTestServer(t)
	c, _ := newTestClient(t, srv.URL(),
		WithMaxReconnectAttempts(0),
		WithReconnectDelay(time.Millisecond, 2*time.Millisecond),
	)
	events := recordEvents(c, types.EventReconnecting, types.EventMaxReconnectsReached, types.EventConnected)
	require.NoError(t, c.Connect(context.Background()))
	events.waitFor(t, types.EventConnected)

	srv.Reject(true)
	srv.DropConnections()
	events.collect(t, types.EventReconnecting, DefaultMaxReconnectAttempts+3)

	srv.Reject(false)
	events.waitFor(t, types.EventConnected)
	events.expectNone(t, types.EventMaxReconnectsReached, 50*time.Millisecond)
}
