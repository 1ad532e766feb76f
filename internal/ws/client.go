package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/lattice/relay/internal/metrics"
	"github.com/manpreetbhatti/lattice/relay/internal/ratelimit"
	"github.com/manpreetbhatti/lattice/relay/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is one browser tab's websocket. It implements room.Peer.
type Client struct {
	id   string
	conn *websocket.Conn
	log  *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	rateLimiter *ratelimit.Limiter
	dispatcher  *relay.Dispatcher
}

func (c *Client) ID() string { return c.id }

// Send queues a frame without blocking. It refuses when the client is
// closing or its queue is full.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// shutdown stops the write pump; safe to call more than once
func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump(maxMessageSize int64, onExit func()) {
	defer func() {
		c.dispatcher.Close()
		c.shutdown()
		c.conn.Close()
		onExit()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Info("ws.read.error", zap.Error(err))
			}
			return
		}

		if !c.rateLimiter.Allow() {
			metrics.RateLimited()
			denied := c.rateLimiter.Denied()
			if denied%100 == 1 {
				c.log.Warn("ws.rate_limited", zap.Int("warning", denied))
			}
			if c.rateLimiter.Exceeded() {
				c.log.Warn("ws.rate_limited.disconnect", zap.Int("violations", denied))
				return
			}
			continue
		}

		if messageType != websocket.TextMessage {
			metrics.MalformedMessage("binary")
			c.log.Warn("relay.malformed", zap.String("reason", "binary"))
			continue
		}

		c.dispatcher.Handle(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("ws.write.error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
