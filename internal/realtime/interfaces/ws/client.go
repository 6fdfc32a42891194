package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	realtime "energy-dashboard/internal/realtime/domain"
)

// client is the outbound side of one WebSocket connection. Send never
// blocks: a full queue drops the message, like the SSE broker does.
type client struct {
	conn         *websocket.Conn
	send         chan realtime.Message
	done         chan struct{}
	once         sync.Once
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       logrus.FieldLogger
}

func newClient(conn *websocket.Conn, buffer int, pingInterval, writeTimeout time.Duration, logger logrus.FieldLogger) *client {
	return &client{
		conn:         conn,
		send:         make(chan realtime.Message, buffer),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Send implements realtime.Sink.
func (c *client) Send(msg realtime.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close implements realtime.Sink. The write pump sends a close frame and
// releases the connection.
func (c *client) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.WithError(err).Debug("websocket write failed")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.WithError(err).Debug("websocket ping failed")
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.writeTimeout),
			)
			return
		}
	}
}

// flush writes whatever is already queued, without waiting for more.
func (c *client) flush() {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
