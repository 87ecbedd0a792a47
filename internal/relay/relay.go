// Package relay forwards realtime data events to NATS.
package relay

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tradingiq/prediction-client/types"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	HeaderConnectionID = "Realtime-Connection-Id"
	HeaderMessageType  = "Realtime-Message-Type"
)

var relayedEvents = []types.EventType{
	types.EventPrediction,
	types.EventMarketData,
	types.EventAlert,
	types.EventSystemHealth,
}

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

type EventSource interface {
	On(event types.EventType, handler types.Handler) types.ListenerID
	Off(event types.EventType, id types.ListenerID) bool
}

type Relay struct {
	publisher Publisher
	prefix    string
	logger    *zap.Logger

	published atomic.Uint64
	failed    atomic.Uint64

	mu       sync.Mutex
	source   EventSource
	handlers map[types.EventType]types.ListenerID
}

func New(publisher Publisher, prefix string, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		publisher: publisher,
		prefix:    strings.TrimSuffix(prefix, "."),
		logger:    logger.With(zap.String("component", "relay")),
	}
}

// Attach starts forwarding data events from source. A relay serves one
// source at a time.
func (r *Relay) Attach(source EventSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.source != nil {
		return errors.New("relay already attached")
	}

	r.source = source
	r.handlers = make(map[types.EventType]types.ListenerID, len(relayedEvents))
	for _, et := range relayedEvents {
		r.handlers[et] = source.On(et, r.forward)
	}
	return nil
}

func (r *Relay) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.source == nil {
		return
	}
	for et, id := range r.handlers {
		r.source.Off(et, id)
	}
	r.source = nil
	r.handlers = nil
}

func (r *Relay) Published() uint64 { return r.published.Load() }

func (r *Relay) Failed() uint64 { return r.failed.Load() }

func (r *Relay) forward(ev types.Event) {
	if len(ev.Raw) == 0 {
		return
	}

	subject := Subject(r.prefix, ev)
	msg := nats.NewMsg(subject)
	msg.Data = ev.Raw
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	msg.Header.Set(HeaderMessageType, ev.MessageType)
	if ev.ConnectionID != "" {
		msg.Header.Set(HeaderConnectionID, ev.ConnectionID)
	}

	if err := r.publisher.PublishMsg(msg); err != nil {
		r.failed.Add(1)
		r.logger.Error("Failed to publish event", zap.String("subject", subject), zap.Error(err))
		return
	}
	r.published.Add(1)
	r.logger.Debug("Published event", zap.String("subject", subject), zap.Int("bytes", len(ev.Raw)))
}

type symbolPayload interface {
	GetSymbol() string
}

// Subject returns <prefix>.<type>[.<symbol>] for ev. Symbols are
// sanitized so they form a single subject token.
func Subject(prefix string, ev types.Event) string {
	subject := fmt.Sprintf("%s.%s", prefix, ev.Type)
	if p, ok := ev.Payload.(symbolPayload); ok {
		if symbol := sanitizeToken(p.GetSymbol()); symbol != "" {
			subject += "." + symbol
		}
	}
	return subject
}

func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
}
