package hub

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/weiawesome/wes-match-chat/internal/config"
	"github.com/weiawesome/wes-match-chat/internal/domain"
	"github.com/weiawesome/wes-match-chat/pkg/log"
)

var (
	ErrClientClosed   = fmt.Errorf("client is closed: %w", net.ErrClosed)
	ErrSendBufferFull = errors.New("client send buffer is full")
)

// Client is one websocket connection of an authenticated user. Writes go
// through a buffered channel drained by WritePump, so Send never blocks.
type Client struct {
	UserID string

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	flushed   chan struct{}
	closeOnce sync.Once
	writeWait time.Duration

	mu      sync.Mutex
	pumping bool
	closing bool
}

func NewClient(userID string, conn *websocket.Conn, cfg config.ChatConfig) *Client {
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}
	writeWait := cfg.WriteWait
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	return &Client{
		UserID:    userID,
		conn:      conn,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
		flushed:   make(chan struct{}),
		writeWait: writeWait,
	}
}

// Receive blocks until the next data frame arrives. A close frame from the
// peer is reported as domain.ErrConnectionClosed.
func (c *Client) Receive() ([]byte, error) {
	_, message, err := c.conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, fmt.Errorf("%w: %d %s", domain.ErrConnectionClosed, closeErr.Code, closeErr.Text)
		}
		return nil, err
	}
	return message, nil
}

// Send queues data for the writer.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// Close sends a close frame with code and reason, then drops the connection.
// Frames queued before Close are written first, waiting at most writeWait.
// Calls after the first return ErrClientClosed.
func (c *Client) Close(code int, reason string) error {
	err := ErrClientClosed
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		pumping := c.pumping
		c.mu.Unlock()

		close(c.done)
		if pumping {
			select {
			case <-c.flushed:
			case <-time.After(c.writeWait):
			}
		}

		msg := websocket.FormatCloseMessage(code, reason)
		err = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
		if cerr := c.conn.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// WritePump writes queued frames until the client is closed or a write fails.
// On close it drains what is left in the buffer. A failed write drops the
// connection so the reader observes it.
func (c *Client) WritePump() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.pumping = true
	c.mu.Unlock()
	defer close(c.flushed)

	for {
		select {
		case message := <-c.send:
			if !c.write(message) {
				return
			}

		case <-c.done:
			for {
				select {
				case message := <-c.send:
					if !c.write(message) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Client) write(message []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		l := log.L()
		l.Debug().Err(err).Str(log.FieldUserID, c.UserID).Msg("websocket write failed")
		c.conn.Close()
		return false
	}
	return true
}
