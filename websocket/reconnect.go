package websocket

import (
	"context"
	"time"

	"github.com/tradingiq/prediction-client/types"

	"go.uber.org/zap"
)

// scheduleReconnectLocked arms the reconnect timer for the next attempt, or
// reports exhaustion by returning scheduled == false.
func (c *Client) scheduleReconnectLocked() (attempt int, delay time.Duration, scheduled bool) {
	if c.maxReconnectAttempts > 0 && c.attempts >= c.maxReconnectAttempts {
		c.setStateLocked(StateIdle)
		return c.attempts, 0, false
	}

	c.attempts++
	delay = ReconnectDelay(c.reconnectBaseDelay, c.reconnectMaxDelay, c.attempts)
	epoch := c.epoch
	c.setStateLocked(StateReconnecting)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.reconnect(epoch)
	})
	c.metrics.ReconnectScheduled(c.attempts, delay)

	return c.attempts, delay, true
}

func (c *Client) reportSchedule(attempt int, delay time.Duration, scheduled bool) {
	if !scheduled {
		c.logger.Error("Giving up on reconnecting", zap.Int("attempts", attempt), zap.Int("maxAttempts", c.maxReconnectAttempts))
		c.emit(types.Event{Type: types.EventMaxReconnectsReached, Attempt: attempt})
		return
	}

	c.logger.Info("Waiting before next reconnect attempt",
		zap.Int("attempt", attempt),
		zap.Int("maxAttempts", c.maxReconnectAttempts),
		zap.Duration("delay", delay),
	)
	c.emit(types.Event{Type: types.EventReconnecting, Attempt: attempt, Delay: delay})
}

// reconnect runs on the timer goroutine. A changed epoch means Connect or
// Disconnect was called after the timer was armed.
func (c *Client) reconnect(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.setStateLocked(StateConnecting)
	attempt := c.attempts
	c.mu.Unlock()

	c.logger.Info("Attempting to reconnect", zap.Int("attempt", attempt), zap.Int("maxAttempts", c.maxReconnectAttempts))

	err := c.open(context.Background(), epoch)
	if err == nil {
		c.logger.Info("Successfully reconnected", zap.Int("attempt", attempt))
		return
	}
	c.logger.Error("Reconnection attempt failed", zap.Int("attempt", attempt), zap.Error(err))

	c.mu.Lock()
	if c.epoch != epoch || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	next, delay, scheduled := c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.reportSchedule(next, delay, scheduled)
}
