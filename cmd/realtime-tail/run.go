package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tradingiq/prediction-client/internal/config"
	"github.com/tradingiq/prediction-client/internal/logging"
	"github.com/tradingiq/prediction-client/internal/metrics"
	"github.com/tradingiq/prediction-client/internal/relay"
	"github.com/tradingiq/prediction-client/types"
	"github.com/tradingiq/prediction-client/websocket"

	coderws "github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	if f.url != "" {
		cfg.Server.URL = f.url
	}
	if f.token != "" {
		cfg.Server.Token = f.token
	}
	cfg.Subscriptions.Predictions = append(cfg.Subscriptions.Predictions, f.predictions...)
	cfg.Subscriptions.MarketData = append(cfg.Subscriptions.MarketData, f.marketData...)
	cfg.Subscriptions.Alerts = cfg.Subscriptions.Alerts || f.alerts
	cfg.Subscriptions.SystemHealth = cfg.Subscriptions.SystemHealth || f.systemHealth
	cfg.Relay.Enabled = cfg.Relay.Enabled || f.relay
	cfg.Metrics.Enabled = cfg.Metrics.Enabled || f.metrics

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func clientOptions(cfg *config.Config) []websocket.ClientOption {
	opts := []websocket.ClientOption{
		websocket.WithMaxReconnectAttempts(cfg.Reconnect.MaxAttempts),
		websocket.WithReconnectDelay(cfg.Reconnect.BaseDelay, cfg.Reconnect.MaxDelay),
		websocket.WithHeartbeatInterval(cfg.Heartbeat.Interval),
		websocket.WithHeartbeatTimeout(cfg.Heartbeat.Timeout),
	}
	if cfg.Server.Token != "" {
		opts = append(opts, websocket.WithToken(cfg.Server.Token))
	}
	if cfg.Server.SendRate > 0 {
		burst := cfg.Server.SendBurst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, websocket.WithSendRateLimit(rate.Limit(cfg.Server.SendRate), burst))
	}
	return opts
}

func subscriptions(cfg config.SubscriptionConfig) []types.Subscription {
	var subs []types.Subscription
	for _, symbol := range cfg.Predictions {
		subs = append(subs, types.PredictionsFor(symbol))
	}
	if len(cfg.MarketData) > 0 {
		subs = append(subs, types.MarketDataFor(cfg.MarketData...))
	}
	if cfg.Alerts {
		subs = append(subs, types.Alerts())
	}
	if cfg.SystemHealth {
		subs = append(subs, types.SystemHealthStatus())
	}
	return subs
}

func run(ctx context.Context, f *flags, out io.Writer) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := clientOptions(cfg)

	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		collector, err := metrics.NewCollector(metrics.Config{Registerer: registry})
		if err != nil {
			return err
		}
		opts = append(opts, websocket.WithMetrics(collector))

		shutdown := serveMetrics(cfg.Metrics, registry, logger)
		defer shutdown()
	}

	client := websocket.NewClient(cfg.Server.URL, logger, opts...)
	defer client.Disconnect()

	if cfg.Relay.Enabled {
		nc, err := relay.Connect(cfg.Relay.NATSURL, logger)
		if err != nil {
			return err
		}
		defer nc.Drain()

		r := relay.New(nc, cfg.Relay.SubjectPrefix, logger)
		if err := r.Attach(client); err != nil {
			return err
		}
		defer r.Detach()
	}

	printer := newEventPrinter(out)
	printer.attach(client)

	for _, sub := range subscriptions(cfg.Subscriptions) {
		if err := client.Subscribe(sub); err != nil {
			return err
		}
	}

	giveUp := make(chan struct{}, 1)
	client.On(types.EventMaxReconnectsReached, func(types.Event) {
		notify(giveUp)
	})
	// A normal closure from the server leaves the client idle for good.
	serverClosed := make(chan struct{}, 1)
	client.On(types.EventDisconnected, func(ev types.Event) {
		if ev.Code == int(coderws.StatusNormalClosure) {
			notify(serverClosed)
		}
	})

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
		return nil
	case <-giveUp:
		return errors.New("gave up reconnecting to realtime server")
	case <-serverClosed:
		logger.Info("Server closed the connection")
		return nil
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func serveMetrics(cfg config.MetricsConfig, registry *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", zap.String("addr", cfg.Listen), zap.String("path", cfg.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
