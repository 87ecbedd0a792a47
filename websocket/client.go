package websocket

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tradingiq/prediction-client/interfaces"
	"github.com/tradingiq/prediction-client/types"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBaseDelay   = time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultReadLimit            = 1 << 20
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var _ interfaces.RealtimeClient = (*Client)(nil)

// Client is a realtime channel to a single prediction server endpoint. It
// keeps a desired subscription set that is replayed after every handshake and
// reconnects with exponential backoff after abnormal closures.
type Client struct {
	url    string
	token  string
	logger *zap.Logger

	maxReconnectAttempts int
	reconnectBaseDelay   time.Duration
	reconnectMaxDelay    time.Duration
	heartbeatInterval    time.Duration
	heartbeatTimeout     time.Duration
	handshakeTimeout     time.Duration
	writeTimeout         time.Duration
	readLimit            int64
	dialOptions          *websocket.DialOptions
	limiter              *rate.Limiter
	metrics              Metrics
	now                  func() time.Time

	mu             sync.Mutex
	state          State
	session        *session
	connectionID   string
	attempts       int
	epoch          uint64
	reconnectTimer *time.Timer
	subscriptions  []types.Subscription

	// writeMu keeps outbound messages in call order and lets the handshake
	// replay finish before any concurrent subscribe is written.
	writeMu sync.Mutex

	listeners *listenerRegistry

	subscriberMu   sync.Mutex
	subscribers    map[types.ListenerID]subscriberEntry
	subscriberRefs map[string]int
	// direct holds keys the caller subscribed through Subscribe. Removing
	// subscriber objects never unsubscribes them.
	direct map[string]struct{}
}

type ClientOption func(*Client)

func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithMaxReconnectAttempts sets how many reconnects are tried after an
// abnormal closure. Zero retries forever.
func WithMaxReconnectAttempts(attempts int) ClientOption {
	return func(c *Client) {
		c.maxReconnectAttempts = attempts
	}
}

func WithReconnectDelay(base, max time.Duration) ClientOption {
	return func(c *Client) {
		c.reconnectBaseDelay = base
		c.reconnectMaxDelay = max
	}
}

func WithHeartbeatInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		c.heartbeatInterval = interval
	}
}

// WithHeartbeatTimeout closes the connection when a heartbeat ping is still
// unanswered after timeout, which triggers a reconnect. The check runs on
// each heartbeat tick. Disabled by default.
func WithHeartbeatTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.heartbeatTimeout = timeout
	}
}

func WithHandshakeTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.handshakeTimeout = timeout
	}
}

func WithWriteTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.writeTimeout = timeout
	}
}

func WithReadLimit(limit int64) ClientOption {
	return func(c *Client) {
		c.readLimit = limit
	}
}

func WithDialOptions(opts *websocket.DialOptions) ClientOption {
	return func(c *Client) {
		c.dialOptions = opts
	}
}

// WithSendRateLimit throttles outbound messages with a token bucket.
func WithSendRateLimit(limit rate.Limit, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

func WithMetrics(metrics Metrics) ClientOption {
	return func(c *Client) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(endpoint string, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		url:                  endpoint,
		logger:               logger.With(zap.String("component", "realtime")),
		maxReconnectAttempts: DefaultMaxReconnectAttempts,
		reconnectBaseDelay:   DefaultReconnectBaseDelay,
		reconnectMaxDelay:    DefaultReconnectMaxDelay,
		heartbeatInterval:    DefaultHeartbeatInterval,
		handshakeTimeout:     DefaultHandshakeTimeout,
		writeTimeout:         DefaultWriteTimeout,
		readLimit:            DefaultReadLimit,
		metrics:              nopMetrics{},
		now:                  time.Now,
		listeners:            newListenerRegistry(),
		subscribers:          make(map[types.ListenerID]subscriberEntry),
		subscriberRefs:       make(map[string]int),
		direct:               make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", c.url, err)
	}

	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect opens the connection and returns once the server has sent its
// connection_established handshake and the desired subscriptions have been
// replayed. It returns nil when already open and ErrConnectInProgress while
// another dial is running.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	}

	c.epoch++
	c.stopReconnectTimerLocked()
	c.attempts = 0
	c.setStateLocked(StateConnecting)
	epoch := c.epoch
	c.mu.Unlock()

	if err := c.open(ctx, epoch); err != nil {
		c.mu.Lock()
		if c.epoch == epoch && c.state == StateConnecting {
			c.setStateLocked(StateIdle)
		}
		c.mu.Unlock()

		c.logger.Error("Failed to connect to realtime server", zap.String("url", c.url), zap.Error(err))
		return err
	}
	return nil
}

// Disconnect cancels the heartbeat and any pending reconnect, then closes the
// connection with a normal closure. The client stays idle until Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.epoch++
	c.stopReconnectTimerLocked()
	s := c.session
	c.session = nil
	prev := c.state
	c.connectionID = ""
	c.attempts = 0
	if s != nil {
		c.setStateLocked(StateClosing)
	} else {
		c.setStateLocked(StateIdle)
	}
	epoch := c.epoch
	c.mu.Unlock()

	if s != nil {
		s.stop()
		s.resolve(errClientDisconnected)
		if err := s.conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			c.logger.Debug("Close handshake did not complete", zap.Error(err))
		}
		s.cancel()

		c.mu.Lock()
		if c.epoch == epoch {
			c.setStateLocked(StateIdle)
		}
		c.mu.Unlock()
	}

	if prev != StateIdle {
		c.logger.Info("Disconnected from realtime server")
		c.emit(types.Event{Type: types.EventDisconnected, Code: int(websocket.StatusNormalClosure)})
	}
}

// Subscribe adds sub to the desired set. It is sent now when open and
// replayed after every handshake.
func (c *Client) Subscribe(sub types.Subscription) error {
	c.subscriberMu.Lock()
	c.direct[sub.Key()] = struct{}{}
	c.subscriberMu.Unlock()

	return c.subscribe(sub)
}

// Unsubscribe removes sub from the desired set, including when subscriber
// objects still use it.
func (c *Client) Unsubscribe(sub types.Subscription) error {
	c.subscriberMu.Lock()
	delete(c.direct, sub.Key())
	c.subscriberMu.Unlock()

	return c.unsubscribe(sub)
}

func (c *Client) subscribe(sub types.Subscription) error {
	key := sub.Key()

	c.mu.Lock()
	if c.indexOfLocked(key) >= 0 {
		c.mu.Unlock()
		return nil
	}
	c.subscriptions = append(c.subscriptions, sub)
	s := c.openSessionLocked()
	c.mu.Unlock()

	c.logger.Info("Subscribed", zap.String("subscription", key), zap.Bool("sent", s != nil))
	if s == nil {
		return nil
	}

	if err := c.send(s, types.MessageSubscribe, types.NewSubscribeMessage(sub, c.now())); err != nil {
		return fmt.Errorf("failed to send subscribe for %s: %w", key, err)
	}
	return nil
}

func (c *Client) unsubscribe(sub types.Subscription) error {
	key := sub.Key()

	c.mu.Lock()
	idx := c.indexOfLocked(key)
	if idx < 0 {
		c.mu.Unlock()
		return nil
	}
	c.subscriptions = append(c.subscriptions[:idx:idx], c.subscriptions[idx+1:]...)
	s := c.openSessionLocked()
	c.mu.Unlock()

	c.logger.Info("Unsubscribed", zap.String("subscription", key), zap.Bool("sent", s != nil))
	if s == nil {
		return nil
	}

	if err := c.send(s, types.MessageUnsubscribe, types.NewUnsubscribeMessage(sub, c.now())); err != nil {
		return fmt.Errorf("failed to send unsubscribe for %s: %w", key, err)
	}
	return nil
}

func (c *Client) SubscribeToPredictions(symbol string) error {
	return c.Subscribe(types.PredictionsFor(symbol))
}

func (c *Client) SubscribeToMarketData(symbols ...string) error {
	return c.Subscribe(types.MarketDataFor(symbols...))
}

func (c *Client) SubscribeToAlerts() error {
	return c.Subscribe(types.Alerts())
}

func (c *Client) SubscribeToSystemHealth() error {
	return c.Subscribe(types.SystemHealthStatus())
}

// RequestPrediction asks the server for an immediate prediction. Unlike
// Subscribe it is not queued while disconnected.
func (c *Client) RequestPrediction(symbol string, opts types.PredictionOptions) error {
	s := c.openSession()
	if s == nil {
		return ErrNotConnected
	}

	req := types.NewPredictionRequest(strings.ToUpper(symbol), opts, c.now())
	if err := c.send(s, types.MessageRequestPrediction, req); err != nil {
		return err
	}

	c.logger.Debug("Requested prediction", zap.String("symbol", req.Symbol), zap.String("model", req.Options.Model))
	return nil
}

func (c *Client) SendHeartbeat() error {
	s := c.openSession()
	if s == nil {
		return ErrNotConnected
	}
	return c.send(s, types.MessagePing, types.NewPingMessage(c.now()))
}

func (c *Client) On(event types.EventType, handler types.Handler) types.ListenerID {
	return c.listeners.add(event, handler)
}

func (c *Client) Off(event types.EventType, id types.ListenerID) bool {
	return c.listeners.remove(event, id)
}

func (c *Client) ConnectionInfo() types.ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		keys = append(keys, sub.Key())
	}

	return types.ConnectionInfo{
		Connected:         c.state == StateOpen,
		ConnectionID:      c.connectionID,
		Subscriptions:     keys,
		ReconnectAttempts: c.attempts,
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) emit(ev types.Event) {
	for _, l := range c.listeners.snapshot(ev.Type) {
		c.invoke(l, ev)
	}
}

func (c *Client) invoke(l listener, ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Event handler panicked", zap.String("event", string(ev.Type)), zap.Any("panic", r))
		}
	}()
	l.fn(ev)
}

func (c *Client) openSession() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openSessionLocked()
}

func (c *Client) openSessionLocked() *session {
	if c.state != StateOpen {
		return nil
	}
	return c.session
}

func (c *Client) indexOfLocked(key string) int {
	for i, sub := range c.subscriptions {
		if sub.Key() == key {
			return i
		}
	}
	return -1
}

func (c *Client) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.state = state
	c.metrics.StateChanged(state.String())
}

func (c *Client) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}
