// Package wshandler 处理 WebSocket 升级并把连接交给 hub。
package wshandler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collaborative-scene/internal/hub"
	"collaborative-scene/internal/ident"
	"collaborative-scene/internal/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 跨域由部署层（反向代理）收口
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler 处理 WebSocket 握手。
type Handler struct {
	hub *hub.Hub
}

// NewHandler 创建 Handler 实例。
func NewHandler(h *hub.Hub) *Handler {
	if h == nil {
		panic("hub cannot be nil for websocket Handler")
	}
	return &Handler{hub: h}
}

// Serve 升级连接并注册客户端。身份来自认证中间件写入的上下文。
// GET /ws
func (h *Handler) Serve(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	sess := &service.Session{
		UserID:   userID,
		Username: c.GetString("username"),
		SocketID: ident.NewID(),
	}
	h.hub.Register(hub.NewClient(h.hub, conn, sess))
}
