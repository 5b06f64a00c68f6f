// Package hub 管理 WebSocket 连接的注册、分组与消息分发。
package hub

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"collaborative-scene/internal/service"
)

// Hub 维护活动连接并实现 service.Broadcaster。
// 分发是同步的：在调用方 goroutine 中遍历连接表，单个连接的慢消费
// 由其发送缓冲兜底（见 Client.trySend），不会阻塞分发方。
type Hub struct {
	session *service.SessionService

	mu       sync.RWMutex
	clients  map[*Client]bool
	bySocket map[string]*Client
	rooms    map[string]map[*Client]bool
	closed   bool
}

// NewHub 创建 Hub 实例并与会话服务互相接线。
func NewHub(session *service.SessionService) *Hub {
	if session == nil {
		panic("session service cannot be nil for Hub")
	}
	h := &Hub{
		session:  session,
		clients:  make(map[*Client]bool),
		bySocket: make(map[string]*Client),
		rooms:    make(map[string]map[*Client]bool),
	}
	session.SetBroadcaster(h)
	return h
}

// Register 登记一条新连接并启动其读写泵。
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		client.conn.Close()
		return
	}
	h.clients[client] = true
	h.bySocket[client.sess.SocketID] = client
	h.mu.Unlock()

	logrus.WithField("socket_id", client.sess.SocketID).Info("Client connected")
	go client.writePump()
	go client.readPump()
}

// unregister 摘除连接并触发离房清理。readPump 退出时调用。
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	delete(h.bySocket, client.sess.SocketID)
	h.removeFromRoomLocked(client)
	h.mu.Unlock()

	close(client.send)
	h.session.HandleLeaveRoom(context.Background(), client.sess)
	logrus.WithField("socket_id", client.sess.SocketID).Info("Client disconnected")
}

// Shutdown 关闭全部连接并拒绝新注册。
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.conn.Close()
	}
}

// ToRoom 把消息发给房间内所有连接。
func (h *Hub) ToRoom(roomID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[roomID] {
		client.trySend(message)
	}
}

// ToUser 把消息发给单个用户的全部连接。roomID 为空时按用户全局查找。
func (h *Hub) ToUser(roomID, userID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	candidates := h.clients
	if roomID != "" {
		if members, ok := h.rooms[roomID]; ok {
			candidates = members
		}
	}
	for client := range candidates {
		if client.sess.UserID == userID {
			client.trySend(message)
		}
	}
}

// ToAll 把消息发给全部连接。
func (h *Hub) ToAll(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.trySend(message)
	}
}

// Subscribe 把连接登记进房间分组；换房时先退出旧分组。
// 由会话服务在成功入房后、广播之前调用，保证加入者能收到自己触发的广播。
func (h *Hub) Subscribe(roomID, socketID string) {
	if roomID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.bySocket[socketID]
	if !ok || client.roomID == roomID {
		return
	}
	h.removeFromRoomLocked(client)
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[roomID] = members
	}
	members[client] = true
	client.roomID = roomID
}

// Unsubscribe 把连接移出房间分组。
func (h *Hub) Unsubscribe(roomID, socketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.bySocket[socketID]
	if !ok || client.roomID != roomID {
		return
	}
	h.removeFromRoomLocked(client)
}

func (h *Hub) removeFromRoomLocked(client *Client) {
	if client.roomID == "" {
		return
	}
	if members, ok := h.rooms[client.roomID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, client.roomID)
		}
	}
	client.roomID = ""
}
