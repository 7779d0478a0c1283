package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	match "github.com/0x5487/exchange-core"
	"github.com/0x5487/exchange-core/protocol"
	"github.com/0x5487/exchange-core/stream"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn is one upgraded connection. Reads are handled on the caller's
// goroutine, writes drain the broker client's queue.
type wsConn struct {
	server *Server
	conn   *websocket.Conn
	client *stream.Client
	userID uint64 // zero for anonymous connections
	logger *zap.Logger
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.auth.Authenticate(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client, err := s.broker.Register(xid.New().String())
	if err != nil {
		s.logger.Error("register websocket client failed", zap.Error(err))
		_ = conn.Close()
		return
	}

	c := &wsConn{
		server: s,
		conn:   conn,
		client: client,
		userID: userID,
		logger: s.logger.With(zap.String("conn_id", client.ID())),
	}
	c.logger.Debug("websocket connected", zap.Uint64("user_id", userID))

	go c.writePump()
	c.readPump()
}

func (c *wsConn) readPump() {
	defer func() {
		c.server.broker.Unregister(c.client.ID())
		_ = c.conn.Close()
		c.logger.Debug("websocket disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.client.Messages():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) handleMessage(data []byte) {
	var msg protocol.InboundMessage
	if err := c.server.serializer.Unmarshal(data, &msg); err != nil {
		c.replyError("", fmt.Errorf("%w: %v", match.ErrValidation, err))
		return
	}

	switch msg.Action {
	case protocol.ActionSubscribe, protocol.ActionUnsubscribe:
		c.handleSubscription(&msg)
	case protocol.ActionOrder:
		c.handleOrder(&msg)
	case protocol.ActionCancel:
		c.handleCancel(&msg)
	default:
		c.replyError(msg.ID, fmt.Errorf("%w: unknown action %q", match.ErrValidation, msg.Action))
	}
}

func (c *wsConn) handleSubscription(msg *protocol.InboundMessage) {
	if msg.Path == "" {
		c.replyError(msg.ID, fmt.Errorf("%w: path is required", match.ErrValidation))
		return
	}
	filter := stream.Filter{}
	if len(msg.Payload) > 0 {
		if err := c.server.serializer.Unmarshal(msg.Payload, &filter); err != nil {
			c.replyError(msg.ID, fmt.Errorf("%w: %v", match.ErrValidation, err))
			return
		}
	}

	broker := c.server.broker
	if msg.Action == protocol.ActionSubscribe {
		if err := broker.Subscribe(c.client.ID(), msg.Path, filter); err != nil {
			c.replyError(msg.ID, fmt.Errorf("%w: %v", match.ErrValidation, err))
			return
		}
		c.reply(protocol.StreamSubscribed, msg.ID, subscriptionAck{Path: msg.Path, Stream: stream.StreamName(msg.Path, filter)})
		return
	}

	removed, err := broker.Unsubscribe(c.client.ID(), msg.Path, filter)
	if err != nil {
		c.replyError(msg.ID, fmt.Errorf("%w: %v", match.ErrValidation, err))
		return
	}
	c.reply(protocol.StreamUnsubscribed, msg.ID, subscriptionAck{Path: msg.Path, Stream: stream.StreamName(msg.Path, filter), Removed: removed})
}

type subscriptionAck struct {
	Path    string `json:"path"`
	Stream  string `json:"stream"`
	Removed bool   `json:"removed,omitempty"`
}

func (c *wsConn) handleOrder(msg *protocol.InboundMessage) {
	if c.userID == 0 {
		c.replyError(msg.ID, match.ErrUnauthorized)
		return
	}
	var req protocol.OrderPayload
	if err := c.server.serializer.Unmarshal(msg.Payload, &req); err != nil {
		c.replyError(msg.ID, fmt.Errorf("%w: %v", match.ErrValidation, err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	result, err := c.server.engine.PlaceOrder(ctx, req.MarketID, orderCommand(&req, c.userID))
	if err != nil {
		c.replyError(msg.ID, err)
		return
	}
	c.reply(protocol.StreamOrder, msg.ID, result)
}

func (c *wsConn) handleCancel(msg *protocol.InboundMessage) {
	if c.userID == 0 {
		c.replyError(msg.ID, match.ErrUnauthorized)
		return
	}
	var req protocol.CancelPayload
	if err := c.server.serializer.Unmarshal(msg.Payload, &req); err != nil {
		c.replyError(msg.ID, fmt.Errorf("%w: %v", match.ErrValidation, err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	err := c.server.engine.CancelOrder(ctx, req.MarketID, &protocol.CancelOrderCommand{
		OrderID: req.OrderID,
		UserID:  c.userID,
	})
	if err != nil {
		c.replyError(msg.ID, err)
		return
	}
	c.reply(protocol.StreamCancel, msg.ID, req)
}

func (c *wsConn) reply(streamName, id string, data any) {
	err := c.server.broker.SendTo(c.client.ID(), protocol.StreamMessage{Stream: streamName, ID: id, Data: data})
	if err != nil {
		c.logger.Debug("websocket reply dropped", zap.String("stream", streamName), zap.Error(err))
	}
}

func (c *wsConn) replyError(id string, err error) {
	_, code := errorStatus(err)
	c.reply(protocol.StreamError, id, protocol.ErrorPayload{Code: code, Message: err.Error()})
}
