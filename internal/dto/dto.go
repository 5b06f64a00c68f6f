// Package dto 定义 WebSocket 与 HTTP 的线上数据结构。
package dto

import (
	"bytes"
	"encoding/json"
	"fmt"

	"collaborative-scene/internal/domain"
)

// Envelope 是入站消息的外层结构：type 决定 payload 的解码方式。
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Message 是出站消息的外层结构。
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Encode 序列化出站消息。
func (m Message) Encode() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("dto: failed to encode message %q: %w", m.Type, err)
	}
	return raw, nil
}

// DecodeStrict 严格解码 payload：未知字段直接报错，防止客户端
// 夹带 _version 等服务端维护字段。
func DecodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("dto: invalid payload: %w", err)
	}
	return nil
}

// 入站消息类型。
const (
	TypeJoinRoom            = "join-room"
	TypeLeaveRoom           = "leave-room"
	TypeUserTransform       = "user-transform"
	TypeObjectCreate        = "object-create"
	TypeObjectUpdate        = "object-update"
	TypeObjectMove          = "object-move"
	TypeObjectDelete        = "object-delete"
	TypeObjectsClear        = "objects-clear"
	TypeUndo                = "undo"
	TypeRedo                = "redo"
	TypeHistoryRequest      = "history-request"
	TypeTimelineRequest     = "timeline-request"
	TypeWhiteboardCreate    = "whiteboard-create"
	TypeWhiteboardDelete    = "whiteboard-delete"
	TypeWhiteboardTransform = "whiteboard-transform"
	TypeWhiteboardDraw      = "whiteboard-draw"
	TypeWhiteboardUndo      = "whiteboard-undo"
	TypeWhiteboardRedo      = "whiteboard-redo"
	TypeLockAcquire         = "whiteboard-lock-acquire"
	TypeLockExtend          = "whiteboard-lock-extend"
	TypeLockRelease         = "whiteboard-lock-release"
	TypeChat                = "chat"
)

// 出站消息类型。
const (
	EventRoomJoined        = "room-joined"
	EventRoomUsers         = "room-users"
	EventRoomList          = "room-list"
	EventUserJoined        = "user-joined"
	EventUserLeft          = "user-left"
	EventHostChanged       = "host-changed"
	EventUserTransform     = "user-transform"
	EventObjectCreated     = "object-created"
	EventObjectUpdated     = "object-updated"
	EventObjectDeleted     = "object-deleted"
	EventObjectRestored    = "object-restored"
	EventObjectsCleared    = "objects-cleared"
	EventObjectsRestored   = "objects-restored"
	EventWhiteboardCreated = "whiteboard-created"
	EventWhiteboardUpdated = "whiteboard-updated"
	EventWhiteboardDeleted = "whiteboard-deleted"
	EventWhiteboardDraw    = "whiteboard-draw"
	EventLockAcquired      = "whiteboard-lock-acquired"
	EventLockExtended      = "whiteboard-lock-extended"
	EventLockReleased      = "whiteboard-lock-released"
	EventLockDenied        = "whiteboard-lock-denied"
	EventHistory           = "operation-history"
	EventTimeline          = "operation-timeline"
	EventConflict          = "operation-conflict"
	EventChat              = "chat-message"
	EventError             = "error"
)

// JoinRoomPayload 加入房间；房间不存在时按这些字段即席创建。
type JoinRoomPayload struct {
	RoomID     string      `json:"roomId"`
	Username   string      `json:"username"`
	Password   string      `json:"password,omitempty"`
	Position   domain.Vec3 `json:"position"`
	Rotation   domain.Vec3 `json:"rotation"`
	RoomName   string      `json:"roomName,omitempty"`
	IsPublic   bool        `json:"isPublic,omitempty"`
	MaxUsers   int         `json:"maxUsers,omitempty"`
	Persistent bool        `json:"persistent,omitempty"`
}

// UserTransformPayload 成员位姿更新（高频，不进操作日志）。
type UserTransformPayload struct {
	Position domain.Vec3 `json:"position"`
	Rotation domain.Vec3 `json:"rotation"`
}

// ObjectCreatePayload 创建场景对象。
type ObjectCreatePayload struct {
	Object ObjectSpec `json:"object"`
}

// ObjectSpec 是客户端可提交的对象字段子集，服务端维护的字段不在其中。
type ObjectSpec struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Position domain.Vec3      `json:"position"`
	Rotation domain.Vec3      `json:"rotation"`
	Scale    domain.Vec3      `json:"scale"`
	Color    string           `json:"color,omitempty"`
	Material *domain.Material `json:"material,omitempty"`
}

// ObjectUpdatePayload 对象部分更新。MergeKey 非空时允许与相邻更新合并为一步撤销。
type ObjectUpdatePayload struct {
	ObjectID string             `json:"objectId"`
	Patch    domain.ObjectPatch `json:"patch"`
	MergeKey string             `json:"mergeKey,omitempty"`
}

// ObjectMovePayload 只移动位置的便捷形式。
type ObjectMovePayload struct {
	ObjectID string      `json:"objectId"`
	Position domain.Vec3 `json:"position"`
}

// ObjectDeletePayload 删除对象。
type ObjectDeletePayload struct {
	ObjectID string `json:"objectId"`
}

// TimelineRequestPayload 拉取房间时间线。
type TimelineRequestPayload struct {
	Limit int `json:"limit,omitempty"`
}

// WhiteboardCreatePayload 创建白板（仅房主）。
type WhiteboardCreatePayload struct {
	ID          string      `json:"id,omitempty"`
	Position    domain.Vec3 `json:"position"`
	Rotation    domain.Vec3 `json:"rotation"`
	Scale       domain.Vec3 `json:"scale"`
	Width       int         `json:"width,omitempty"`
	Height      int         `json:"height,omitempty"`
	WorldWidth  float64     `json:"worldWidth,omitempty"`
	WorldHeight float64     `json:"worldHeight,omitempty"`
}

// WhiteboardRefPayload 只携带白板 ID 的操作（删除、撤销、重做、锁）。
type WhiteboardRefPayload struct {
	WhiteboardID string `json:"whiteboardId"`
}

// WhiteboardTransformPayload 白板位姿调整（仅房主）。
type WhiteboardTransformPayload struct {
	WhiteboardID string       `json:"whiteboardId"`
	Position     *domain.Vec3 `json:"position,omitempty"`
	Rotation     *domain.Vec3 `json:"rotation,omitempty"`
	Scale        *domain.Vec3 `json:"scale,omitempty"`
}

// WhiteboardDrawPayload 白板绘制动作。
type WhiteboardDrawPayload struct {
	WhiteboardID string            `json:"whiteboardId"`
	Action       domain.DrawAction `json:"action"`
}

// ChatPayload 房间内聊天。
type ChatPayload struct {
	Message string `json:"message"`
}

// RoomStateDTO 是 room-joined 时下发的完整房间快照。
// History 是加入者自己的撤销/重做视图（service.HistoryView，这里不引入依赖环）。
type RoomStateDTO struct {
	Room        domain.RoomSummary      `json:"room"`
	Users       []domain.User           `json:"users"`
	Objects     []domain.SceneObject    `json:"objects"`
	Whiteboards []domain.Whiteboard     `json:"whiteboards"`
	Locks       []domain.WhiteboardLock `json:"locks"`
	Role        string                  `json:"role"`
	History     any                     `json:"history"`
}

// ChatMessageDTO 是广播的聊天消息。
type ChatMessageDTO struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorDTO 是下发给单个用户的错误通知。
type ErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
