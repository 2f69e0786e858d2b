// Package push maintains the persistent event channel to the server.
// The channel is an invalidation signal carrier only: payloads embedded in
// events are never trusted as state, consumers re-read from the source of
// truth. Delivery guarantees are the transport's business.
package push

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	baseReconnectDelay = 2 * time.Second
	maxReconnectDelay  = 2 * time.Minute
	reconnectJitter    = 0.1

	wsPingInterval  = 25 * time.Second
	wsPongWait      = 70 * time.Second
	wsWriteWait     = 10 * time.Second
	wsHandshakeWait = 15 * time.Second
)

// Reconnecter counts reconnect attempts for observability.
type Reconnecter interface {
	IncrPushReconnect()
}

// Channel is a reconnecting websocket client for the push event stream.
// One Channel serves one authenticated session; Close releases the
// connection and stops dispatching.
type Channel struct {
	url            string
	organizationID string
	token          func() string
	logger         *zap.Logger
	metrics        Reconnecter

	mu       sync.Mutex
	handlers map[int]func(domain.PushEvent)
	nextID   int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewChannel creates a push channel client for one organization scope.
func NewChannel(url, organizationID string, token func() string, metrics Reconnecter, logger *zap.Logger) *Channel {
	return &Channel{
		url:            url,
		organizationID: organizationID,
		token:          token,
		logger:         logger,
		metrics:        metrics,
		handlers:       make(map[int]func(domain.PushEvent)),
		done:           make(chan struct{}),
	}
}

// Subscribe registers a handler for inbound events. Handlers run on the
// read goroutine and must not block. The returned function unsubscribes.
func (c *Channel) Subscribe(handler func(domain.PushEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.handlers[id] = handler

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	}
}

// Run starts the reconnect loop. Blocks until ctx is cancelled or Close
// is called.
func (c *Channel) Run(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	defer close(c.done)

	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.connectAndListen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			consecutiveFailures++
			if c.metrics != nil {
				c.metrics.IncrPushReconnect()
			}
			delay := c.backoffDelay(consecutiveFailures)

			if consecutiveFailures >= 3 {
				c.logger.Warn("push channel failed repeatedly",
					zap.Int("failures", consecutiveFailures),
					zap.Duration("retry_in", delay),
					zap.Error(err),
				)
			} else {
				c.logger.Debug("push channel interrupted, reconnecting",
					zap.Duration("retry_in", delay),
					zap.Error(err),
				)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		} else {
			consecutiveFailures = 0
		}
	}
}

// Close stops the channel and waits briefly for the loop to exit.
// A channel that never ran closes immediately.
func (c *Channel) Close() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
	}
}

func (c *Channel) connectAndListen(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeWait}

	headers := map[string][]string{}
	if c.token != nil {
		if t := c.token(); t != "" {
			headers["Authorization"] = []string{"Bearer " + t}
		}
	}

	conn, _, err := dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Scope the subscription to this session's organization; events for
	// other organizations may still arrive on shared channels and are
	// filtered again by the consumer.
	sub := map[string]string{"action": "subscribe", "organization_id": c.organizationID}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	c.logger.Info("push channel connected",
		zap.String("url", c.url),
		zap.String("organization_id", c.organizationID),
	)

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Per-connection context tears down the ping loop with the read loop.
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()
	go c.pingLoop(connCtx, conn)

	for {
		select {
		case <-connCtx.Done():
			return connCtx.Err()
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var event domain.PushEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			c.logger.Warn("undecodable push message, skipping", zap.Error(err))
			continue
		}
		if event.Type == "" {
			continue
		}

		c.dispatch(event)
	}
}

func (c *Channel) dispatch(event domain.PushEvent) {
	c.mu.Lock()
	handlers := make([]func(domain.PushEvent), 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

func (c *Channel) pingLoop(ctx context.Context, conn *websocket.Conn) {
	// Close the socket on exit so a blocked reader unblocks and reconnects.
	defer conn.Close()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("push channel ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Channel) backoffDelay(failures int) time.Duration {
	delay := baseReconnectDelay * time.Duration(math.Pow(2, float64(failures-1)))
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	jitter := time.Duration(float64(delay) * reconnectJitter * (rand.Float64()*2 - 1))
	return delay + jitter
}
