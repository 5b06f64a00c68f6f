package service

import "errors"

// 业务错误。冲突通告（domain.Conflict）不是错误：操作照常完成，随结果一并返回。
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomExists         = errors.New("room already exists")
	ErrInvalidPassword    = errors.New("invalid room password")
	ErrRoomFull           = errors.New("room is full")
	ErrObjectNotFound     = errors.New("object not found")
	ErrWhiteboardNotFound = errors.New("whiteboard not found")
	ErrPermissionDenied   = errors.New("permission denied: host role required")
	ErrLockConflict       = errors.New("whiteboard is locked by another user")
	ErrEmptyUndo          = errors.New("nothing to undo")
	ErrEmptyRedo          = errors.New("nothing to redo")
	ErrInvalidAction      = errors.New("invalid action data")
	ErrInternalServer     = errors.New("internal server error")
)
