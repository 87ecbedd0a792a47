package main

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/tradingiq/prediction-client/types"
)

var printedEvents = []types.EventType{
	types.EventConnected,
	types.EventDisconnected,
	types.EventError,
	types.EventParseError,
	types.EventPrediction,
	types.EventMarketData,
	types.EventAlert,
	types.EventSystemHealth,
	types.EventServerError,
	types.EventMessage,
	types.EventReconnecting,
	types.EventMaxReconnectsReached,
}

type eventLine struct {
	Time         string          `json:"time"`
	Event        types.EventType `json:"event"`
	ConnectionID string          `json:"connection_id,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Error        string          `json:"error,omitempty"`
	Code         int             `json:"code,omitempty"`
	Attempt      int             `json:"attempt,omitempty"`
	DelayMs      int64           `json:"delay_ms,omitempty"`
}

type eventPrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

func newEventPrinter(w io.Writer) *eventPrinter {
	return &eventPrinter{enc: json.NewEncoder(w), now: time.Now}
}

func (p *eventPrinter) attach(c interface {
	On(types.EventType, types.Handler) types.ListenerID
}) {
	for _, et := range printedEvents {
		c.On(et, p.print)
	}
}

func (p *eventPrinter) print(ev types.Event) {
	line := eventLine{
		Time:         types.FormatTimestamp(p.now()),
		Event:        ev.Type,
		ConnectionID: ev.ConnectionID,
		Code:         ev.Code,
		Attempt:      ev.Attempt,
		DelayMs:      ev.Delay.Milliseconds(),
	}
	if json.Valid(ev.Raw) {
		line.Data = ev.Raw
	}
	if ev.Err != nil {
		line.Error = ev.Err.Error()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.enc.Encode(line)
}
