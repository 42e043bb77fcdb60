package signaling

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamcast/signal-relay/internal/metrics"
	"github.com/streamcast/signal-relay/internal/ratelimit"
)

// client is one websocket connection. A single reader goroutine parses and
// dispatches inbound frames in order; a single writer goroutine drains the
// send channel, so per-peer delivery order matches enqueue order and no two
// goroutines ever write the socket concurrently.
type client struct {
	id  string
	srv *Server

	conn    *websocket.Conn
	limiter *ratelimit.TokenBucket

	send chan Message

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(id string, conn *websocket.Conn, srv *Server) *client {
	return &client{
		id:   id,
		srv:  srv,
		conn: conn,
		limiter: ratelimit.NewTokenBucket(
			ratelimit.RealClock{},
			int64(srv.maxMessagesPerSecond()),
			int64(srv.maxMessagesPerSecond()),
		),
		send: make(chan Message, srv.sendBufferMessages()),
		done: make(chan struct{}),
	}
}

// Send enqueues msg for the writer goroutine. It reports false when the
// connection is closing, or when the buffer is full: a peer that cannot keep
// up with signaling volume is disconnected rather than allowed to stall the
// relay or grow its backlog without bound.
func (c *client) Send(msg Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		c.srv.metrics.Inc(metrics.SlowClientClosed)
		c.srv.log.Warn("closing slow client", "client_id", c.id)
		c.close()
		return false
	}
}

// run services the connection until the peer disconnects, then completes
// disconnect cleanup before returning. Lifecycle fan-outs for a departed
// broadcaster are therefore finished before the HTTP handler exits.
func (c *client) run() {
	go c.writeLoop()
	c.readLoop()
	c.srv.lifecycle.Disconnect(c.id)
	c.close()
}

func (c *client) readLoop() {
	idle := c.srv.wsIdleTimeout()
	c.conn.SetReadLimit(c.srv.maxMessageBytes())
	_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		frameType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !isExpectedCloseError(err) {
				c.srv.log.Debug("websocket read failed", "client_id", c.id, "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))
		if frameType != websocket.TextMessage {
			continue
		}
		if !c.limiter.Allow(1) {
			c.srv.metrics.Inc(metrics.DropRateLimited)
			c.srv.log.Warn("closing client exceeding message rate", "client_id", c.id)
			return
		}
		msg, err := ParseMessage(data)
		if err != nil {
			if IsUnknownType(err) {
				c.srv.log.Debug("ignoring unknown message type", "client_id", c.id, "err", err)
				continue
			}
			c.srv.metrics.Inc(metrics.ProtocolError)
			c.srv.log.Debug("malformed signaling message", "client_id", c.id, "err", err)
			c.Send(errorMessage("Failed to process message"))
			continue
		}
		if err := c.srv.router.Dispatch(c.id, c, msg); err != nil {
			c.srv.log.Warn("closing client after dispatch failure", "client_id", c.id, "err", err)
			return
		}
	}
}

func (c *client) writeLoop() {
	pingTicker := time.NewTicker(c.srv.wsPingInterval())
	defer pingTicker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.close()
				return
			}
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.close()
				return
			}
		case <-c.done:
			deadline := time.Now().Add(writeTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

// close makes the connection tear down: the writer exits via done, its
// deferred Close unblocks the reader, and run finishes cleanup. Idempotent.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

const writeTimeout = 10 * time.Second

func isExpectedCloseError(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
