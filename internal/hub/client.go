package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collaborative-scene/internal/dto"
	"collaborative-scene/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client 是一条 WebSocket 连接。读写各占一个 goroutine，
// 写入只走 send 通道，保证对 conn 的写是串行的。
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	sess   *service.Session
	roomID string // 由 hub 在持锁时维护
}

// NewClient 创建 Client 实例。
func NewClient(h *Hub, conn *websocket.Conn, sess *service.Session) *Client {
	return &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		sess: sess,
	}
}

// trySend 非阻塞投递。发送缓冲满说明该连接已经跟不上，丢弃这条消息。
func (c *Client) trySend(message []byte) {
	select {
	case c.send <- message:
	default:
		logrus.WithField("socket_id", c.sess.SocketID).Warn("Client send buffer full, dropping message")
	}
}

// readPump 读取入站消息并按类型分发到会话服务。
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).WithField("socket_id", c.sess.SocketID).Warn("Unexpected connection close")
			}
			return
		}
		c.dispatch(raw)
	}
}

// writePump 串行写出消息，并按周期发送 ping 保活。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch 解码信封并路由到对应的会话处理器。
// 坏消息只回错误通知，不断开连接。
func (c *Client) dispatch(raw []byte) {
	ctx := context.Background()

	var env dto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendProtocolError("bad_envelope", err)
		return
	}

	switch env.Type {
	case dto.TypeJoinRoom:
		var p dto.JoinRoomPayload
		if err := dto.DecodeStrict(env.Payload, &p); err != nil {
			c.sendProtocolError("bad_payload", err)
			return
		}
		c.hub.session.HandleJoinRoom(ctx, c.sess, p)

	case dto.TypeLeaveRoom:
		c.hub.session.HandleLeaveRoom(ctx, c.sess)

	case dto.TypeUserTransform:
		var p dto.UserTransformPayload
		if err := dto.DecodeStrict(env.Payload, &p); err != nil {
			c.sendProtocolError("bad_payload", err)
			return
		}
		c.hub.session.HandleUserTransform(ctx, c.sess, p)

	case dto.TypeObjectCreate:
		var p dto.ObjectCreatePayload
		if err := dto.DecodeStrict(env.Payload, &p); err != nil {
			c.sendProtocolError("bad_payload", err)
			return
		}
		c.hub.session.HandleObjectCreate(ctx, c.sess, p)

	case dto.TypeObjectUpdate:
		var p dto.ObjectUpdatePayload
		if err := dto.DecodeStrict(env.Payload, &p); err != nil {
			c.sendProtocolError("bad_payload", err)
			return
		}
		c.hub.session.HandleObjectUpdate(ctx, c.sess, p)

	case dto.TypeObjectMove:
		var p dto.ObjectMovePayload
		if err := dto.DecodeStrict(env.Payload, &p); err != nil {
			c.sendProtocolError("bad_payload", err)
			return
		}
		c.hub.session.HandleObjectMove(ctx, c.sess, p)

	case dto.TypeObjectDelete:
		var p dto.ObjectDeletePayload
		if err := dto.DecodeStrict(env.Payload, &p); err != nil {
			c.sendProtocolError("bad_payload", err)
			return
		}
		c.hub.session.HandleObjectDelete(ctx, c.sess, p)

	case dto.TypeObjectsClear:
		c.hub.session.HandleClearObjects(ctx, c.sess)

	case dto.TypeUndo:
		c.hub.session.HandleUndo(ctx, c.sess)

	case dto.TypeRedo:
		c.hub.session.HandleRedo(ctx, c.sess)

	case dto.TypeHistoryRequest:
		c.hub.session.HandleHistoryRequest(ctx, c.sess)

	case dto.TypeTimelineRequest:
		var p dto.TimelineRequestPayload
		if len(env.Payload) > 0 {
			if err := dto.DecodeStrict(env.Payload, &p); err != nil {
				c.sendProtocolError("bad_payload", err)
				return
			}
		}
		c.hub.session.HandleTimelineRequest(ctx, c.sess, p)

	case dto.TypeWhiteboardCreate:
		var p dto.WhiteboardCreatePayload
		if err := dto.DecodeStrict(env.Payload, &p); err != nil {
			c.sendProtocolError("bad_payload", err)
			return
		}
		c.hub.session.HandleWhiteboardCreate(ctx, c.sess, p)

	case dto.TypeWhiteboardDelete:
		var p dto.WhiteboardRefPayload
		if err := dto.DecodeStrict(env.Payload, &p); err != nil {
			c.sendProtocolError("bad_payload", err)
			return
		}
		c.hub.session.HandleWhiteboardDelete(ctx, c.sess, p)

	case dto.TypeWhiteboardTransform:
		var p dto.WhiteboardTransformPayload
		if err := dto.DecodeStrict(env.Payload, &p); err != nil {
			c.sendProtocolError("bad_payload", err)
			return
		}
		c.hub.session.HandleWhiteboardTransform(ctx, c.sess, p)

	case dto.TypeWhiteboardDraw:
		var p dto.WhiteboardDrawPayload
		if err := dto.DecodeStrict(env.Payload, &p); err != nil {
			c.sendProtocolError("bad_payload", err)
			return
		}
		c.hub.session.HandleWhiteboardDraw(ctx, c.sess, p)

	case dto.TypeWhiteboardUndo:
		var p dto.WhiteboardRefPayload
		if err := dto.DecodeStrict(env.Payload, &p); err != nil {
			c.sendProtocolError("bad_payload", err)
			return
		}
		c.hub.session.HandleWhiteboardUndo(ctx, c.sess, p)

	case dto.TypeWhiteboardRedo:
		var p dto.WhiteboardRefPayload
		if err := dto.DecodeStrict(env.Payload, &p); err != nil {
			c.sendProtocolError("bad_payload", err)
			return
		}
		c.hub.session.HandleWhiteboardRedo(ctx, c.sess, p)

	case dto.TypeLockAcquire:
		var p dto.WhiteboardRefPayload
		if err := dto.DecodeStrict(env.Payload, &p); err != nil {
			c.sendProtocolError("bad_payload", err)
			return
		}
		c.hub.session.HandleLockAcquire(ctx, c.sess, p)

	case dto.TypeLockExtend:
		var p dto.WhiteboardRefPayload
		if err := dto.DecodeStrict(env.Payload, &p); err != nil {
			c.sendProtocolError("bad_payload", err)
			return
		}
		c.hub.session.HandleLockExtend(ctx, c.sess, p)

	case dto.TypeLockRelease:
		var p dto.WhiteboardRefPayload
		if err := dto.DecodeStrict(env.Payload, &p); err != nil {
			c.sendProtocolError("bad_payload", err)
			return
		}
		c.hub.session.HandleLockRelease(ctx, c.sess, p)

	case dto.TypeChat:
		var p dto.ChatPayload
		if err := dto.DecodeStrict(env.Payload, &p); err != nil {
			c.sendProtocolError("bad_payload", err)
			return
		}
		c.hub.session.HandleChat(ctx, c.sess, p)

	default:
		c.sendProtocolError("unknown_type", nil)
	}
}

func (c *Client) sendProtocolError(code string, err error) {
	detail := "unsupported message type"
	if err != nil {
		detail = err.Error()
	}
	logrus.WithField("socket_id", c.sess.SocketID).WithField("code", code).Debug("Rejected inbound message")
	raw, encErr := dto.Message{Type: dto.EventError, Payload: dto.ErrorDTO{Code: code, Message: detail}}.Encode()
	if encErr != nil {
		return
	}
	c.trySend(raw)
}
