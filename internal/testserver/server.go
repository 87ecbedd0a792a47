// Package testserver runs an in-process realtime prediction server that speaks
// the client's wire protocol. Tests use it to script handshakes, pushes,
// abnormal drops and refused dials.
package testserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/tradingiq/prediction-client/types"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Message is an inbound client message as seen by the server.
type Message struct {
	ConnectionID string
	Type         string
	Raw          []byte
}

func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Raw, v)
}

type Server struct {
	srv    *httptest.Server
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	connectionID string
	autoPong     bool

	mu            sync.Mutex
	conns         map[*websocket.Conn]string
	rejecting     bool
	skipHandshake bool
	dials         int
	dialTimes     []time.Time
	tokens        []string

	received chan Message
}

type Option func(*Server)

// WithConnectionID makes every handshake use id instead of a random UUID.
func WithConnectionID(id string) Option {
	return func(s *Server) {
		s.connectionID = id
	}
}

func WithoutAutoPong() Option {
	return func(s *Server) {
		s.autoPong = false
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func New(opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:   zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
		autoPong: true,
		conns:    make(map[*websocket.Conn]string),
		received: make(chan Message, 1024),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the ws:// endpoint of the server.
func (s *Server) URL() string {
	return "ws://" + strings.TrimPrefix(s.srv.URL, "http://")
}

func (s *Server) Close() {
	s.cancel()
	s.DropConnections()
	s.srv.Close()
}

// Reject makes new upgrade requests fail with 503 while enabled.
func (s *Server) Reject(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejecting = reject
}

// SkipHandshake stops the server from sending connection_established on new
// connections.
func (s *Server) SkipHandshake(skip bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipHandshake = skip
}

// Dials returns how many upgrade requests were received, rejected ones included.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *Server) DialTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.dialTimes...)
}

func (s *Server) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Send writes v as JSON to every open connection.
func (s *Server) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.SendRaw(data)
}

func (s *Server) SendRaw(data []byte) error {
	var errs []error
	for _, conn := range s.snapshot() {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	return errors.Join(errs...)
}

// Publish pushes a typed data message such as a prediction.
func (s *Server) Publish(msgType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return s.Send(types.InboundMessage{Type: msgType, Data: payload})
}

// DropConnections closes every connection without a close frame, which the
// client sees as an abnormal closure.
func (s *Server) DropConnections() {
	for _, conn := range s.snapshot() {
		conn.CloseNow()
	}
}

// CloseConnections performs a close handshake with the given status.
func (s *Server) CloseConnections(code websocket.StatusCode, reason string) {
	for _, conn := range s.snapshot() {
		conn.Close(code, reason)
	}
}

// Next waits for the next message received from any client.
func (s *Server) Next(timeout time.Duration) (Message, error) {
	select {
	case msg := <-s.received:
		return msg, nil
	case <-time.After(timeout):
		return Message{}, errors.New("timed out waiting for client message")
	}
}

// NextOfType skips messages until one of msgType arrives.
func (s *Server) NextOfType(msgType string, timeout time.Duration) (Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Message{}, fmt.Errorf("timed out waiting for %s message", msgType)
		}
		msg, err := s.Next(remaining)
		if err != nil {
			return Message{}, fmt.Errorf("timed out waiting for %s message", msgType)
		}
		if msg.Type == msgType {
			return msg, nil
		}
	}
}

// Drain returns the messages received so far without waiting.
func (s *Server) Drain() []Message {
	var out []Message
	for {
		select {
		case msg := <-s.received:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func (s *Server) snapshot() []*websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	return conns
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.dials++
	s.dialTimes = append(s.dialTimes, time.Now())
	s.tokens = append(s.tokens, r.URL.Query().Get("token"))
	rejecting := s.rejecting
	skipHandshake := s.skipHandshake
	s.mu.Unlock()

	if rejecting {
		http.Error(w, "server unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to accept websocket", zap.Error(err))
		return
	}

	id := s.connectionID
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	s.conns[conn] = id
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.CloseNow()
	}()

	if !skipHandshake {
		hello, _ := json.Marshal(types.InboundMessage{Type: types.MessageConnectionEstablished, ConnectionID: id})
		if err := conn.Write(s.ctx, websocket.MessageText, hello); err != nil {
			s.logger.Error("Failed to send handshake", zap.Error(err))
			return
		}
	}

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			s.logger.Debug("Client connection ended", zap.String("connectionID", id), zap.Error(err))
			return
		}

		msgType := gjson.GetBytes(data, "type").String()
		if msgType == types.MessagePing && s.autoPong {
			if err := conn.Write(s.ctx, websocket.MessageText, []byte(`{"type":"pong"}`)); err != nil {
				s.logger.Error("Failed to send pong", zap.Error(err))
			}
		}

		select {
		case s.received <- Message{ConnectionID: id, Type: msgType, Raw: data}:
		default:
			s.logger.Warn("Dropping client message, buffer full", zap.String("type", msgType))
		}
	}
}
