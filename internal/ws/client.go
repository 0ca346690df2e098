// Package ws is the realtime transport: one WebSocket per online user,
// registered in the presence directory, carrying pushed messages down and
// "send" frames up.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10

	defaultSendBuffer    = 256
	defaultMaxFrameBytes = 64 << 10
	ingestTimeout        = 15 * time.Second

	// CloseSuperseded is sent to a connection replaced by a newer login.
	CloseSuperseded = 4001
)

var (
	// ErrClosed is returned by Push after the client stopped.
	ErrClosed = errors.New("ws: connection closed")
	// ErrBufferFull is returned by Push when the client cannot keep up.
	ErrBufferFull = errors.New("ws: send buffer full")
)

// Client is one live connection. It satisfies presence.Conn.
type Client struct {
	conn     *websocket.Conn
	username string
	log      zerolog.Logger
	handler  *Handler

	send chan []byte
	stop chan struct{}

	closeOnce sync.Once
	closeMsg  []byte
}

func newClient(h *Handler, conn *websocket.Conn, username string, buffer int) *Client {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Client{
		conn:     conn,
		username: username,
		log:      h.logger().With().Str("user_id", username).Logger(),
		handler:  h,
		send:     make(chan []byte, buffer),
		stop:     make(chan struct{}),
		closeMsg: websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	}
}

// Push enqueues payload for the writer without blocking.
func (c *Client) Push(payload []byte) error {
	select {
	case <-c.stop:
		return ErrClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops the client. Frames already queued are flushed before the close
// frame is written. Only the first call takes effect.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeMsg = websocket.FormatCloseMessage(code, reason)
		close(c.stop)
	})
}

// supersede tells the client a newer connection took over, then closes it.
func (c *Client) supersede() {
	if b, err := json.Marshal(NoticeFrame{Type: FrameSuperseded}); err == nil {
		_ = c.Push(b)
	}
	c.Close(CloseSuperseded, "superseded")
}

// writePump owns every write to the socket.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.write(websocket.TextMessage, msg) {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.stop:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage, c.closeMsg, time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			if !c.write(websocket.TextMessage, msg) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(msgType int, payload []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(msgType, payload); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("ws write failed")
		}
		return false
	}
	return true
}

// readPump reads frames until the socket fails or the client is stopped.
func (c *Client) readPump(maxFrame int64) {
	if maxFrame <= 0 {
		maxFrame = defaultMaxFrameBytes
	}
	c.conn.SetReadLimit(maxFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure, CloseSuperseded) {
				c.log.Debug().Err(err).Msg("ws read ended")
			}
			return
		}

		var f ClientFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.reply(ErrorFrame{Type: FrameError, Code: codeBadRequest, Message: "malformed frame"})
			continue
		}
		switch f.Type {
		case FrameSend:
			c.handleSend(f)
		default:
			c.reply(ErrorFrame{Type: FrameError, ID: f.ID, Code: codeBadRequest, Message: "unknown frame type " + quote(f.Type)})
		}
	}
}

func (c *Client) handleSend(f ClientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	ack, errFrame := c.handler.ingest(ctx, c.username, f)
	if errFrame != nil {
		c.reply(*errFrame)
		return
	}
	c.reply(ack)
}

func (c *Client) reply(frame any) {
	b, err := json.Marshal(frame)
	if err != nil {
		c.log.Error().Err(err).Msg("ws encode frame")
		return
	}
	if err := c.Push(b); err != nil {
		c.log.Warn().Err(err).Msg("ws reply dropped")
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
