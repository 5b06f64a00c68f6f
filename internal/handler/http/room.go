// Package httphandler 提供 REST 接口：房间列表与创建。
// 实时交互都走 WebSocket，这里只覆盖进房前的发现与准备。
package httphandler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"collaborative-scene/internal/service"
)

// RoomHandler 处理房间相关的 HTTP 请求。
type RoomHandler struct {
	rooms *service.RoomService
}

// NewRoomHandler 创建 RoomHandler 实例。
func NewRoomHandler(rooms *service.RoomService) *RoomHandler {
	if rooms == nil {
		panic("room service cannot be nil for RoomHandler")
	}
	return &RoomHandler{rooms: rooms}
}

// List 返回公开房间摘要列表。
// GET /api/rooms
func (h *RoomHandler) List(c *gin.Context) {
	summaries := h.rooms.GetRoomList(false)
	c.JSON(http.StatusOK, gin.H{"rooms": summaries})
}

// createRoomRequest 是创建房间的请求体。
type createRoomRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsPublic   bool   `json:"isPublic"`
	Password   string `json:"password"`
	MaxUsers   int    `json:"maxUsers"`
	Persistent bool   `json:"persistent"`
}

// Create 创建房间并返回摘要。
// POST /api/rooms
func (h *RoomHandler) Create(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), service.CreateRoomOptions{
		ID:         req.ID,
		Name:       req.Name,
		IsPublic:   req.IsPublic,
		Password:   req.Password,
		MaxUsers:   req.MaxUsers,
		Persistent: req.Persistent,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room.Summary()})
}

// GetRoom 返回单个房间摘要。
// GET /api/rooms/:roomId
func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.rooms.GetRoom(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room.Summary()})
}
