package relay

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Connect dials a NATS server that retries forever and logs connection
// state changes.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "nats"))

	nc, err := nats.Connect(url,
		nats.Name("realtime-relay"),
		nats.MaxReconnects(-1),
		nats.ConnectHandler(func(conn *nats.Conn) {
			logger.Info("Connected to NATS", zap.String("url", conn.ConnectedUrl()))
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", conn.ConnectedUrl()))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("Disconnected from NATS", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}
