package websocket

import (
	"testing"
	"time"

	"github.com/tradingiq/prediction-client/internal/testserver"
	"github.com/tradingiq/prediction-client/types"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const waitTimeout = 3 * time.Second

func newTestServer(t *testing.T, opts ...testserver.Option) *testserver.Server {
	t.Helper()
	srv := testserver.New(opts...)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url string, opts ...ClientOption) (*Client, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)

	base := []ClientOption{
		WithReconnectDelay(10*time.Millisecond, 200*time.Millisecond),
		WithHeartbeatInterval(time.Hour),
		WithHandshakeTimeout(2 * time.Second),
	}
	c := NewClient(url, zap.New(core), append(base, opts...)...)
	t.Cleanup(c.Disconnect)
	return c, logs
}

type eventRecorder struct {
	events chan types.Event
}

func recordEvents(c *Client, eventTypes ...types.EventType) *eventRecorder {
	r := &eventRecorder{events: make(chan types.Event, 256)}
	for _, et := range eventTypes {
		c.On(et, func(ev types.Event) {
			select {
			case r.events <- ev:
			default:
			}
		})
	}
	return r
}

func (r *eventRecorder) waitFor(t *testing.T, eventType types.EventType) types.Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-r.events:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
			return types.Event{}
		}
	}
}

// collect waits for n events of eventType, skipping others.
func (r *eventRecorder) collect(t *testing.T, eventType types.EventType, n int) []types.Event {
	t.Helper()
	out := make([]types.Event, 0, n)
	for len(out) < n {
		out = append(out, r.waitFor(t, eventType))
	}
	return out
}

func (r *eventRecorder) expectNone(t *testing.T, eventType types.EventType, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev := <-r.events:
			if ev.Type == eventType {
				t.Fatalf("unexpected %s event: %+v", eventType, ev)
			}
		case <-deadline:
			return
		}
	}
}
