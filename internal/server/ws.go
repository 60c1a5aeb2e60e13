package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/dispatcher"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Drivers connect from extension pages and test harnesses with arbitrary
	// origins; the listener is expected to be bound to loopback.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Largest inbound frame; scripts travel inline.
	maxMessageSize  = maxBodySize
	sendChannelSize = 256
)

// InboundFrame carries one request over the command stream.
type InboundFrame struct {
	RequestID string          `json:"request_id,omitempty"`
	Request   schemas.Request `json:"request"`
}

// OutboundFrame carries the response to the InboundFrame with the same
// RequestID. Timestamp is RFC 3339.
type OutboundFrame struct {
	RequestID string           `json:"request_id"`
	Response  schemas.Response `json:"response"`
	Timestamp string           `json:"timestamp"`
}

// wsClient is a single command stream connection.
type wsClient struct {
	server *Server
	conn   *websocket.Conn
	logger *zap.Logger

	send chan OutboundFrame
	// closed when the read side is gone; dispatches still in flight drop
	// their replies.
	done     chan struct{}
	inflight sync.WaitGroup
}

// handleCommandStream upgrades the connection and serves frames until the
// peer goes away. Each frame is dispatched on its own goroutine, so replies
// may arrive out of order.
func (s *Server) handleCommandStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Error("Failed to upgrade connection to WebSocket", zap.Error(err))
		return
	}

	c := &wsClient{
		server: s,
		conn:   conn,
		logger: s.logger.With(zap.String("remote_addr", r.RemoteAddr)),
		send:   make(chan OutboundFrame, sendChannelSize),
		done:   make(chan struct{}),
	}
	c.logger.Info("Command stream opened.")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readPump(r.Context())
	close(c.done)
	c.inflight.Wait()
	<-writerDone
	c.logger.Debug("Command stream handler finished.")
}

// readPump reads frames until the peer goes away or stops answering pings.
// The write pump owns closing the connection.
func (c *wsClient) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("Failed to set initial read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Command stream closed unexpectedly", zap.Error(err))
			} else {
				c.logger.Info("Command stream closed.")
			}
			return
		}
		c.handleFrame(ctx, data)
	}
}

func (c *wsClient) handleFrame(ctx context.Context, data []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn("Rejecting malformed frame.", zap.Error(err))
		c.reply(uuid.NewString(), schemas.Fail(fmt.Errorf("invalid frame: %w", err)))
		return
	}
	if frame.RequestID == "" {
		frame.RequestID = uuid.NewString()
	}
	if !c.server.allow() {
		c.logger.Warn("Rejecting frame over rate limit.", zap.String("request_id", frame.RequestID))
		c.reply(frame.RequestID, schemas.Fail(ErrRateLimited))
		return
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		for resp := range c.server.dispatcher.DispatchAsync(dispatcher.WithRequestID(ctx, frame.RequestID), frame.Request) {
			c.reply(frame.RequestID, resp)
		}
	}()
}

// reply queues a frame for the write pump. It never blocks: a full buffer or
// a closed stream drops the frame.
func (c *wsClient) reply(requestID string, resp schemas.Response) {
	frame := OutboundFrame{
		RequestID: requestID,
		Response:  resp,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	select {
	case <-c.done:
		c.logger.Debug("Command stream gone, dropping reply.", zap.String("request_id", requestID))
		return
	default:
	}
	select {
	case c.send <- frame:
	default:
		c.logger.Error("Send buffer full, dropping reply. Client may be unresponsive.",
			zap.String("request_id", requestID))
	}
}

// writePump serializes all writes to the connection and keeps it alive with
// pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("Failed to set write deadline", zap.Error(err))
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				c.logger.Error("Failed to encode frame", zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("Error writing frame to WebSocket", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("Failed to set write deadline for PING", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error("Error sending PING", zap.Error(err))
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
