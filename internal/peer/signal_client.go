package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/streamcast/signal-relay/internal/signaling"
)

// signalClient is a typed websocket connection to the relay's /signal
// endpoint. Send is safe for concurrent use; Receive must be called from a
// single goroutine.
type signalClient struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
}

func dialSignal(ctx context.Context, url string) (*signalClient, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial signaling endpoint %s: %w", url, err)
	}
	return &signalClient{conn: conn}, nil
}

func (c *signalClient) Send(msg signaling.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *signalClient) Receive() (signaling.Message, error) {
	var msg signaling.Message
	if err := c.conn.ReadJSON(&msg); err != nil {
		return signaling.Message{}, err
	}
	return msg, nil
}

// Close unblocks a pending Receive.
func (c *signalClient) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// register performs the registration handshake and returns the
// server-assigned identity plus, for viewers, the broadcast state.
func (c *signalClient) register(kind signaling.MessageType) (signaling.Message, error) {
	if err := c.Send(signaling.Message{Type: kind}); err != nil {
		return signaling.Message{}, err
	}
	for {
		msg, err := c.Receive()
		if err != nil {
			return signaling.Message{}, err
		}
		switch msg.Type {
		case signaling.MessageTypeRegistered:
			return msg, nil
		case signaling.MessageTypeError:
			return signaling.Message{}, fmt.Errorf("registration rejected: %s", msg.Message)
		default:
			// Fan-outs may interleave with the acknowledgement for
			// other roles' transitions; skip them.
			continue
		}
	}
}
