package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tradingiq/prediction-client/types"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// session is one transport connection. A new session is created for every
// dial; the client only acts on events from its current session.
type session struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	done     chan struct{}
	stopOnce sync.Once

	handshake chan error
	// lastPing is when the oldest unanswered ping went out.
	lastPing atomic.Int64
	lastPong atomic.Int64
}

func (s *session) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// resolve reports the handshake outcome to a waiting open. Only the first
// outcome is kept.
func (s *session) resolve(err error) {
	select {
	case s.handshake <- err:
	default:
	}
}

func (c *Client) open(ctx context.Context, epoch uint64) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, endpoint, c.dialOptions)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	if c.readLimit > 0 {
		conn.SetReadLimit(c.readLimit)
	}

	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	s := &session{
		conn:      conn,
		ctx:       sessionCtx,
		cancel:    sessionCancel,
		done:      make(chan struct{}),
		handshake: make(chan error, 1),
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		sessionCancel()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return &TransportError{Op: "dial", Err: errConnectSuperseded}
	}
	c.session = s
	c.mu.Unlock()

	c.logger.Info("Connected to realtime server, awaiting handshake", zap.String("url", c.url))
	go c.readLoop(s)

	select {
	case err := <-s.handshake:
		if err != nil {
			return &TransportError{Op: "handshake", Err: err}
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		if c.session == s && c.state == StateOpen {
			c.mu.Unlock()
			return nil
		}
		if c.session == s {
			c.session = nil
		}
		c.mu.Unlock()

		s.stop()
		conn.CloseNow()
		sessionCancel()
		return &TransportError{Op: "handshake", Err: ctx.Err()}
	}
}

func (c *Client) readLoop(s *session) {
	for {
		_, message, err := s.conn.Read(s.ctx)
		if err != nil {
			c.handleClose(s, err)
			return
		}
		c.handleMessage(s, message)
	}
}

func (c *Client) handleMessage(s *session, message []byte) {
	if !gjson.ValidBytes(message) {
		c.reportParseError(message, errors.New("payload is not valid JSON"))
		return
	}

	msgType := gjson.GetBytes(message, "type")
	if msgType.Type != gjson.String || msgType.Str == "" {
		c.reportParseError(message, errors.New("missing message type"))
		return
	}

	var envelope types.InboundMessage
	if err := json.Unmarshal(message, &envelope); err != nil {
		c.reportParseError(message, fmt.Errorf("failed to unmarshal envelope: %w", err))
		return
	}
	c.metrics.MessageReceived(envelope.Type)

	switch envelope.Type {
	case types.MessageConnectionEstablished:
		c.establish(s, envelope.ConnectionID)
		return
	case types.MessageError:
		serverErr := &ServerError{Payload: envelope.Error}
		c.logger.Warn("Received server error", zap.Error(serverErr))
		c.emit(types.Event{
			Type:         types.EventServerError,
			MessageType:  envelope.Type,
			ConnectionID: c.currentConnectionID(),
			Raw:          envelope.Error,
			Err:          serverErr,
		})
		return
	case types.MessagePong:
		s.lastPong.Store(c.now().UnixNano())
	}

	payload, err := types.DecodePayload(envelope.Type, envelope.Data)
	if err != nil {
		c.reportParseError(message, err)
		return
	}

	ev := types.Event{
		Type:         types.EventForMessage(envelope.Type),
		MessageType:  envelope.Type,
		ConnectionID: c.currentConnectionID(),
		Payload:      payload,
		Raw:          envelope.Data,
	}
	if ev.Type == types.EventMessage {
		c.logger.Debug("Received unknown message type", zap.String("type", envelope.Type))
		ev.Raw = message
	}
	c.emit(ev)
}

func (c *Client) reportParseError(message []byte, err error) {
	c.metrics.ParseError()
	protoErr := &ProtocolError{Raw: message, Err: err}
	c.logger.Warn("Failed to parse message", zap.Error(protoErr), zap.ByteString("message", truncate(message, 256)))
	c.emit(types.Event{Type: types.EventParseError, Raw: message, Err: protoErr})
}

// establish handles connection_established. The first one on a session opens
// it: attempts reset, the desired set is replayed in insertion order, the
// heartbeat starts, and the waiting Connect is released.
func (c *Client) establish(s *session, connectionID string) {
	c.writeMu.Lock()
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		c.writeMu.Unlock()
		return
	}
	first := c.state != StateOpen
	c.connectionID = connectionID
	var replay []types.Subscription
	if first {
		c.setStateLocked(StateOpen)
		c.attempts = 0
		replay = slices.Clone(c.subscriptions)
		s.lastPong.Store(c.now().UnixNano())
	}
	c.mu.Unlock()

	for _, sub := range replay {
		if err := c.writeJSON(s, types.MessageSubscribe, types.NewSubscribeMessage(sub, c.now())); err != nil {
			c.logger.Error("Failed to replay subscription", zap.String("subscription", sub.Key()), zap.Error(err))
		}
	}
	c.writeMu.Unlock()

	if first {
		c.logger.Info("Realtime connection established",
			zap.String("connectionID", connectionID),
			zap.Int("subscriptions", len(replay)),
		)
		go c.heartbeat(s)
	}

	c.emit(types.Event{Type: types.EventConnectionEstablished, MessageType: types.MessageConnectionEstablished, ConnectionID: connectionID})
	if first {
		c.emit(types.Event{Type: types.EventConnected, ConnectionID: connectionID})
		s.resolve(nil)
	}
}

func (c *Client) handleClose(s *session, err error) {
	s.stop()
	s.resolve(err)

	code := int(websocket.CloseStatus(err))

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		s.cancel()
		return
	}
	c.session = nil
	wasOpen := c.state == StateOpen
	c.connectionID = ""
	if !wasOpen {
		// Handshake never completed: the pending open reports the failure.
		c.mu.Unlock()
		s.cancel()
		return
	}

	graceful := websocket.CloseStatus(err) == websocket.StatusNormalClosure
	var (
		attempt   int
		delay     time.Duration
		scheduled bool
	)
	if graceful {
		c.setStateLocked(StateIdle)
	} else {
		attempt, delay, scheduled = c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	s.conn.CloseNow()
	s.cancel()

	if graceful {
		c.logger.Info("Server closed the connection", zap.Int("code", code))
	} else {
		c.logger.Warn("Connection lost", zap.Int("code", code), zap.Error(err))
	}
	c.emit(types.Event{Type: types.EventDisconnected, Code: code, Err: err})

	if !graceful {
		c.reportSchedule(attempt, delay, scheduled)
	}
}

func (c *Client) heartbeat(s *session) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := c.now()
			lastPing, lastPong := s.lastPing.Load(), s.lastPong.Load()
			outstanding := lastPing > 0 && lastPong < lastPing
			if c.heartbeatTimeout > 0 && outstanding {
				since := now.Sub(time.Unix(0, lastPing))
				if since > c.heartbeatTimeout {
					c.logger.Warn("Heartbeat timed out", zap.Duration("sinceLastPing", since))
					s.conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
					return
				}
			}
			if !outstanding {
				s.lastPing.Store(now.UnixNano())
			}

			if err := c.send(s, types.MessagePing, types.NewPingMessage(now)); err != nil {
				c.logger.Error("Failed to send heartbeat", zap.Error(err))
				c.emit(types.Event{Type: types.EventError, Err: err})
			}
		}
	}
}

func (c *Client) send(s *session, msgType string, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeJSON(s, msgType, v)
}

// writeJSON must be called with writeMu held.
func (c *Client) writeJSON(s *session, msgType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msgType, err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(s.ctx); err != nil {
			return &TransportError{Op: "send", Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, c.writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &TransportError{Op: "send", Err: err}
	}

	c.metrics.MessageSent(msgType)
	return nil
}

func (c *Client) currentConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
