package websocket

import "time"

// Metrics receives client instrumentation. internal/metrics provides a
// Prometheus implementation.
type Metrics interface {
	MessageReceived(msgType string)
	MessageSent(msgType string)
	ParseError()
	ReconnectScheduled(attempt int, delay time.Duration)
	StateChanged(state string)
}

type nopMetrics struct{}

func (nopMetrics) MessageReceived(string)                {}
func (nopMetrics) MessageSent(string)                    {}
func (nopMetrics) ParseError()                           {}
func (nopMetrics) ReconnectScheduled(int, time.Duration) {}
func (nopMetrics) StateChanged(string)                   {}
