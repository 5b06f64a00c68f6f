package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-scene/internal/domain"
	"collaborative-scene/internal/dto"
	"collaborative-scene/internal/ident"
)

// 白板编辑锁的时间参数。
const (
	DefaultLockTTL   = 4 * time.Second
	MaxLockExtension = 15 * time.Second
)

// Broadcaster 抽象消息分发与房间分组，由连接层（hub）实现。
// 发送方法都不阻塞业务路径：慢消费者由连接层自行处理。
// Subscribe/Unsubscribe 由会话服务在成员变更落定后、相关广播发出前调用，
// 保证触发变更的连接也在广播的接收范围内。
type Broadcaster interface {
	Subscribe(roomID, socketID string)
	Unsubscribe(roomID, socketID string)
	ToRoom(roomID string, message []byte)
	ToUser(roomID, userID string, message []byte)
	ToAll(message []byte)
}

// Session 是一条活动连接的身份。RoomID 在成功加入房间后由服务填入。
type Session struct {
	UserID   string
	Username string
	SocketID string
	RoomID   string
}

// SessionService 把连接事件编排为房间操作：调用实体存储、记录操作日志、
// 管理白板编辑锁，并把结果翻译成广播消息。
type SessionService struct {
	rooms       *RoomService
	oplog       *OpLogService
	broadcaster Broadcaster
	now         func() time.Time // 可注入，便于锁过期测试

	lockMu sync.Mutex
	locks  map[string]map[string]*domain.WhiteboardLock // roomID -> whiteboardID -> lock
}

// NewSessionService 创建 SessionService 实例。
func NewSessionService(rooms *RoomService, oplog *OpLogService) *SessionService {
	if rooms == nil {
		panic("room service cannot be nil for SessionService")
	}
	if oplog == nil {
		panic("oplog service cannot be nil for SessionService")
	}
	return &SessionService{
		rooms: rooms,
		oplog: oplog,
		now:   time.Now,
		locks: make(map[string]map[string]*domain.WhiteboardLock),
	}
}

// SetBroadcaster 注入连接层。必须在接收连接前完成。
func (s *SessionService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// HandleJoinRoom 加入房间；房间不存在时按请求字段即席创建再加入。
// 已在其他房间的会话先走完整退房流程，避免旧房间残留幽灵成员。
func (s *SessionService) HandleJoinRoom(ctx context.Context, sess *Session, p dto.JoinRoomPayload) error {
	roomID := NormalizeRoomID(p.RoomID)
	if sess.RoomID != "" && sess.RoomID != roomID {
		s.HandleLeaveRoom(ctx, sess)
	}
	info := UserInfo{Username: p.Username, Position: p.Position, Rotation: p.Rotation}

	created := false
	room, err := s.rooms.JoinRoom(ctx, roomID, sess.UserID, sess.SocketID, info, p.Password)
	if errors.Is(err, ErrRoomNotFound) {
		created = true
		made, cerr := s.rooms.CreateRoom(ctx, CreateRoomOptions{
			ID:         roomID,
			Name:       p.RoomName,
			IsPublic:   p.IsPublic,
			Password:   p.Password,
			MaxUsers:   p.MaxUsers,
			Persistent: p.Persistent,
		})
		if cerr != nil && !errors.Is(cerr, ErrRoomExists) {
			s.sendError(sess, "join_failed", cerr)
			return cerr
		}
		if cerr == nil {
			roomID = made.ID
		}
		room, err = s.rooms.JoinRoom(ctx, roomID, sess.UserID, sess.SocketID, info, p.Password)
	}
	if err != nil {
		s.sendError(sess, "join_failed", err)
		return err
	}

	sess.RoomID = room.ID
	if sess.Username == "" {
		sess.Username = p.Username
	}
	// 先把连接挂进房间分组再广播，加入者才能收到 user-joined / room-users。
	if s.broadcaster != nil {
		s.broadcaster.Subscribe(room.ID, sess.SocketID)
	}

	s.toUser(sess, dto.EventRoomJoined, dto.RoomStateDTO{
		Room:        room.Summary(),
		Users:       room.UserList(),
		Objects:     room.Objects,
		Whiteboards: room.Whiteboards,
		Locks:       s.activeLocks(room.ID),
		Role:        room.RoleOf(sess.UserID),
		History:     s.oplog.GetHistory(room.ID, sess.UserID),
	})
	s.toRoom(room.ID, dto.EventUserJoined, room.Users[sess.UserID])
	s.toRoom(room.ID, dto.EventRoomUsers, room.UserList())
	if created {
		s.broadcastRoomList()
	}
	return nil
}

// HandleLeaveRoom 退出房间：释放该用户持有的锁，房间销毁时级联清理操作日志。
func (s *SessionService) HandleLeaveRoom(ctx context.Context, sess *Session) {
	if sess.RoomID == "" {
		return
	}
	roomID := sess.RoomID
	sess.RoomID = ""
	if s.broadcaster != nil {
		s.broadcaster.Unsubscribe(roomID, sess.SocketID)
	}

	released := s.releaseUserLocks(roomID, sess.UserID)
	result, err := s.rooms.LeaveRoom(ctx, roomID, sess.UserID)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "user_id": sess.UserID}).Warn("Leave room failed")
		return
	}
	if result.Destroyed {
		s.oplog.ClearRoom(roomID)
		s.clearRoomLocks(roomID)
		s.broadcastRoomList()
		return
	}
	for _, boardID := range released {
		s.toRoom(roomID, dto.EventLockReleased, dto.WhiteboardRefPayload{WhiteboardID: boardID})
	}
	if result.Removed {
		s.toRoom(roomID, dto.EventUserLeft, map[string]string{"userId": sess.UserID})
		if room, err := s.rooms.GetRoom(ctx, roomID); err == nil {
			s.toRoom(roomID, dto.EventRoomUsers, room.UserList())
		}
	}
	if result.OwnerChanged && result.NewOwnerID != "" {
		s.toRoom(roomID, dto.EventHostChanged, map[string]string{"ownerId": result.NewOwnerID})
	}
}

// broadcastRoomList 在房间增减后向所有连接推送公开房间列表。
func (s *SessionService) broadcastRoomList() {
	if s.broadcaster == nil {
		return
	}
	raw, err := dto.Message{Type: dto.EventRoomList, Payload: s.rooms.GetRoomList(false)}.Encode()
	if err != nil {
		logrus.WithError(err).Error("Failed to encode room list broadcast")
		return
	}
	s.broadcaster.ToAll(raw)
}

// HandleUserTransform 转发成员位姿（不进操作日志）。
func (s *SessionService) HandleUserTransform(ctx context.Context, sess *Session, p dto.UserTransformPayload) {
	if sess.RoomID == "" {
		return
	}
	if err := s.rooms.UpdateUserTransform(ctx, sess.RoomID, sess.UserID, p.Position, p.Rotation); err != nil {
		return
	}
	s.toRoom(sess.RoomID, dto.EventUserTransform, map[string]any{
		"userId":   sess.UserID,
		"position": p.Position,
		"rotation": p.Rotation,
	})
}

// --- 场景对象操作 ---

// HandleObjectCreate 创建对象并记录撤销命令。
func (s *SessionService) HandleObjectCreate(ctx context.Context, sess *Session, p dto.ObjectCreatePayload) {
	if sess.RoomID == "" {
		return
	}
	obj := objectFromSpec(p.Object, sess.UserID)
	stored, err := s.rooms.UpsertObject(ctx, sess.RoomID, obj, sess.UserID)
	if err != nil {
		s.sendError(sess, "object_create_failed", err)
		return
	}

	cmd := s.newCommand(domain.CmdCreateObject, sess, stored.ID)
	cmd.After = stored.Clone()
	view := s.oplog.Record(ctx, sess.RoomID, sess.UserID, cmd)

	s.toRoom(sess.RoomID, dto.EventObjectCreated, stored)
	s.afterCommand(sess, view, nil)
}

// HandleObjectUpdate 应用部分更新：先留存逆向补丁，再落权威变更。
func (s *SessionService) HandleObjectUpdate(ctx context.Context, sess *Session, p dto.ObjectUpdatePayload) {
	if sess.RoomID == "" {
		return
	}
	if p.Patch.IsEmpty() {
		s.sendError(sess, "object_update_failed", ErrInvalidAction)
		return
	}
	current := s.rooms.GetObject(ctx, sess.RoomID, p.ObjectID)
	if current == nil {
		s.sendError(sess, "object_update_failed", ErrObjectNotFound)
		return
	}
	before := p.Patch.ExtractFrom(current)

	stored, err := s.rooms.UpdateObject(ctx, sess.RoomID, p.ObjectID, p.Patch, sess.UserID)
	if err != nil {
		s.sendError(sess, "object_update_failed", err)
		return
	}
	if stored == nil {
		s.sendError(sess, "object_update_failed", ErrObjectNotFound)
		return
	}

	cmd := s.newCommand(domain.CmdUpdateObject, sess, p.ObjectID)
	cmd.BeforePatch = &before
	cmd.AfterPatch = &p.Patch
	cmd.Meta.MergeKey = p.MergeKey
	view := s.oplog.Record(ctx, sess.RoomID, sess.UserID, cmd)

	s.toRoom(sess.RoomID, dto.EventObjectUpdated, stored)
	s.afterCommand(sess, view, nil)
}

// HandleObjectMove 是只改位置的更新，自动带拖拽合并键。
func (s *SessionService) HandleObjectMove(ctx context.Context, sess *Session, p dto.ObjectMovePayload) {
	pos := p.Position
	s.HandleObjectUpdate(ctx, sess, dto.ObjectUpdatePayload{
		ObjectID: p.ObjectID,
		Patch:    domain.ObjectPatch{Position: &pos},
		MergeKey: "move:" + p.ObjectID,
	})
}

// HandleObjectDelete 删除对象并留存完整快照以备撤销。
func (s *SessionService) HandleObjectDelete(ctx context.Context, sess *Session, p dto.ObjectDeletePayload) {
	if sess.RoomID == "" {
		return
	}
	removed, err := s.rooms.RemoveObject(ctx, sess.RoomID, p.ObjectID)
	if err != nil {
		s.sendError(sess, "object_delete_failed", err)
		return
	}
	if removed == nil {
		s.sendError(sess, "object_delete_failed", ErrObjectNotFound)
		return
	}

	cmd := s.newCommand(domain.CmdDeleteObject, sess, p.ObjectID)
	cmd.Before = removed
	view := s.oplog.Record(ctx, sess.RoomID, sess.UserID, cmd)

	s.toRoom(sess.RoomID, dto.EventObjectDeleted, dto.ObjectDeletePayload{ObjectID: p.ObjectID})
	s.afterCommand(sess, view, nil)
}

// HandleClearObjects 清空场景对象（仅房主），全部对象留档以备撤销。
func (s *SessionService) HandleClearObjects(ctx context.Context, sess *Session) {
	if sess.RoomID == "" {
		return
	}
	if !s.isHost(ctx, sess) {
		s.sendError(sess, "objects_clear_failed", ErrPermissionDenied)
		return
	}
	removed, err := s.rooms.ClearObjects(ctx, sess.RoomID)
	if err != nil {
		s.sendError(sess, "objects_clear_failed", err)
		return
	}

	cmd := s.newCommand(domain.CmdClearObjects, sess, "")
	cmd.BeforeAll = removed
	view := s.oplog.Record(ctx, sess.RoomID, sess.UserID, cmd)

	s.toRoom(sess.RoomID, dto.EventObjectsCleared, nil)
	s.afterCommand(sess, view, nil)
}

// --- 撤销 / 重做 ---

// HandleUndo 撤销该用户最近的命令，并按命令类型翻译成对应的场景广播。
func (s *SessionService) HandleUndo(ctx context.Context, sess *Session) {
	if sess.RoomID == "" {
		return
	}
	scope := s.rooms.Scope(ctx, sess.RoomID, sess.UserID)
	res, err := s.oplog.Undo(ctx, sess.RoomID, sess.UserID, scope)
	if err != nil {
		s.sendError(sess, "undo_failed", err)
		return
	}
	s.broadcastUndone(ctx, sess, res.Command, scope)
	s.afterCommand(sess, res.History, res.Conflict)
}

// HandleRedo 重做该用户最近撤销的命令。
func (s *SessionService) HandleRedo(ctx context.Context, sess *Session) {
	if sess.RoomID == "" {
		return
	}
	scope := s.rooms.Scope(ctx, sess.RoomID, sess.UserID)
	res, err := s.oplog.Redo(ctx, sess.RoomID, sess.UserID, scope)
	if err != nil {
		s.sendError(sess, "redo_failed", err)
		return
	}
	s.broadcastRedone(ctx, sess, res.Command, scope)
	s.afterCommand(sess, res.History, res.Conflict)
}

// broadcastUndone 把一次撤销翻译成场景事件：撤销创建等于删除，反之亦然。
func (s *SessionService) broadcastUndone(ctx context.Context, sess *Session, cmd *domain.Command, scope domain.CommandContext) {
	switch cmd.Type {
	case domain.CmdCreateObject:
		s.toRoom(sess.RoomID, dto.EventObjectDeleted, dto.ObjectDeletePayload{ObjectID: cmd.ObjectID})
	case domain.CmdDeleteObject:
		if obj := scope.GetObject(cmd.ObjectID); obj != nil {
			s.toRoom(sess.RoomID, dto.EventObjectRestored, obj)
		}
	case domain.CmdUpdateObject:
		if obj := scope.GetObject(cmd.ObjectID); obj != nil {
			s.toRoom(sess.RoomID, dto.EventObjectUpdated, obj)
		}
	case domain.CmdClearObjects:
		if room, err := s.rooms.GetRoom(ctx, sess.RoomID); err == nil {
			s.toRoom(sess.RoomID, dto.EventObjectsRestored, room.Objects)
		}
	}
}

func (s *SessionService) broadcastRedone(ctx context.Context, sess *Session, cmd *domain.Command, scope domain.CommandContext) {
	switch cmd.Type {
	case domain.CmdCreateObject:
		if obj := scope.GetObject(cmd.ObjectID); obj != nil {
			s.toRoom(sess.RoomID, dto.EventObjectCreated, obj)
		}
	case domain.CmdDeleteObject:
		s.toRoom(sess.RoomID, dto.EventObjectDeleted, dto.ObjectDeletePayload{ObjectID: cmd.ObjectID})
	case domain.CmdUpdateObject:
		if obj := scope.GetObject(cmd.ObjectID); obj != nil {
			s.toRoom(sess.RoomID, dto.EventObjectUpdated, obj)
		}
	case domain.CmdClearObjects:
		s.toRoom(sess.RoomID, dto.EventObjectsCleared, nil)
	}
}

// HandleHistoryRequest 下发该用户的撤销/重做视图。
func (s *SessionService) HandleHistoryRequest(ctx context.Context, sess *Session) {
	if sess.RoomID == "" {
		return
	}
	s.toUser(sess, dto.EventHistory, s.oplog.GetHistory(sess.RoomID, sess.UserID))
}

// HandleTimelineRequest 下发房间时间线。
func (s *SessionService) HandleTimelineRequest(ctx context.Context, sess *Session, p dto.TimelineRequestPayload) {
	if sess.RoomID == "" {
		return
	}
	s.toUser(sess, dto.EventTimeline, s.oplog.GetRoomTimeline(sess.RoomID, p.Limit))
}

// --- 白板操作 ---

// HandleWhiteboardCreate 创建白板，仅房主可用。
func (s *SessionService) HandleWhiteboardCreate(ctx context.Context, sess *Session, p dto.WhiteboardCreatePayload) {
	if sess.RoomID == "" {
		return
	}
	if !s.isHost(ctx, sess) {
		s.sendError(sess, "whiteboard_create_failed", ErrPermissionDenied)
		return
	}
	board := domain.Whiteboard{
		ID:          p.ID,
		Position:    p.Position,
		Rotation:    p.Rotation,
		Scale:       p.Scale,
		Width:       p.Width,
		Height:      p.Height,
		WorldWidth:  p.WorldWidth,
		WorldHeight: p.WorldHeight,
	}
	if board.ID == "" {
		board.ID = ident.NewID()
	}
	if board.Scale == (domain.Vec3{}) {
		board.Scale = domain.Vec3{X: 1, Y: 1, Z: 1}
	}
	stored, err := s.rooms.UpsertWhiteboard(ctx, sess.RoomID, board, sess.UserID)
	if err != nil {
		s.sendError(sess, "whiteboard_create_failed", err)
		return
	}
	s.toRoom(sess.RoomID, dto.EventWhiteboardCreated, stored)
}

// HandleWhiteboardDelete 删除白板，仅房主可用；同时丢弃其编辑锁。
func (s *SessionService) HandleWhiteboardDelete(ctx context.Context, sess *Session, p dto.WhiteboardRefPayload) {
	if sess.RoomID == "" {
		return
	}
	if !s.isHost(ctx, sess) {
		s.sendError(sess, "whiteboard_delete_failed", ErrPermissionDenied)
		return
	}
	removed, err := s.rooms.RemoveWhiteboard(ctx, sess.RoomID, p.WhiteboardID)
	if err != nil {
		s.sendError(sess, "whiteboard_delete_failed", err)
		return
	}
	if !removed {
		s.sendError(sess, "whiteboard_delete_failed", ErrWhiteboardNotFound)
		return
	}
	s.dropLock(sess.RoomID, p.WhiteboardID)
	s.toRoom(sess.RoomID, dto.EventWhiteboardDeleted, p)
}

// HandleWhiteboardTransform 调整白板位姿，仅房主可用。
func (s *SessionService) HandleWhiteboardTransform(ctx context.Context, sess *Session, p dto.WhiteboardTransformPayload) {
	if sess.RoomID == "" {
		return
	}
	if !s.isHost(ctx, sess) {
		s.sendError(sess, "whiteboard_transform_failed", ErrPermissionDenied)
		return
	}
	board := s.rooms.GetWhiteboard(ctx, sess.RoomID, p.WhiteboardID)
	if board == nil {
		s.sendError(sess, "whiteboard_transform_failed", ErrWhiteboardNotFound)
		return
	}
	if p.Position != nil {
		board.Position = *p.Position
	}
	if p.Rotation != nil {
		board.Rotation = *p.Rotation
	}
	if p.Scale != nil {
		board.Scale = *p.Scale
	}
	stored, err := s.rooms.UpsertWhiteboard(ctx, sess.RoomID, *board, sess.UserID)
	if err != nil {
		s.sendError(sess, "whiteboard_transform_failed", err)
		return
	}
	s.toRoom(sess.RoomID, dto.EventWhiteboardUpdated, stored)
}

// HandleWhiteboardDraw 追加绘制动作。他人持有未过期编辑锁时拒绝。
func (s *SessionService) HandleWhiteboardDraw(ctx context.Context, sess *Session, p dto.WhiteboardDrawPayload) {
	if sess.RoomID == "" {
		return
	}
	if !s.mayEdit(sess.RoomID, p.WhiteboardID, sess.UserID) {
		s.sendError(sess, "whiteboard_draw_failed", ErrLockConflict)
		return
	}
	action := p.Action
	if action.Type == "" {
		s.sendError(sess, "whiteboard_draw_failed", ErrInvalidAction)
		return
	}
	// 整板清空是管理动作，仅房主可为
	if action.Type == domain.DrawClear && !s.isHost(ctx, sess) {
		s.sendError(sess, "whiteboard_draw_failed", ErrPermissionDenied)
		return
	}
	if action.ID == "" {
		action.ID = ident.NewID()
	}
	action.CreatedBy = sess.UserID
	action.CreatedAt = s.now().UTC()

	board, err := s.rooms.AppendWhiteboardAction(ctx, sess.RoomID, p.WhiteboardID, action, sess.UserID)
	if err != nil {
		s.sendError(sess, "whiteboard_draw_failed", err)
		return
	}
	s.toRoom(sess.RoomID, dto.EventWhiteboardDraw, map[string]any{
		"whiteboardId": board.ID,
		"action":       action,
	})
}

// HandleWhiteboardUndo 撤销白板最近的绘制动作，锁规则与绘制一致。
func (s *SessionService) HandleWhiteboardUndo(ctx context.Context, sess *Session, p dto.WhiteboardRefPayload) {
	if sess.RoomID == "" {
		return
	}
	if !s.mayEdit(sess.RoomID, p.WhiteboardID, sess.UserID) {
		s.sendError(sess, "whiteboard_undo_failed", ErrLockConflict)
		return
	}
	board, err := s.rooms.UndoWhiteboardAction(ctx, sess.RoomID, p.WhiteboardID, sess.UserID)
	if err != nil {
		s.sendError(sess, "whiteboard_undo_failed", err)
		return
	}
	s.toRoom(sess.RoomID, dto.EventWhiteboardUpdated, board)
}

// HandleWhiteboardRedo 重做白板最近撤销的绘制动作。
func (s *SessionService) HandleWhiteboardRedo(ctx context.Context, sess *Session, p dto.WhiteboardRefPayload) {
	if sess.RoomID == "" {
		return
	}
	if !s.mayEdit(sess.RoomID, p.WhiteboardID, sess.UserID) {
		s.sendError(sess, "whiteboard_redo_failed", ErrLockConflict)
		return
	}
	board, err := s.rooms.RedoWhiteboardAction(ctx, sess.RoomID, p.WhiteboardID, sess.UserID)
	if err != nil {
		s.sendError(sess, "whiteboard_redo_failed", err)
		return
	}
	s.toRoom(sess.RoomID, dto.EventWhiteboardUpdated, board)
}

// --- 白板编辑锁 ---

// HandleLockAcquire 申请白板编辑锁。他人持有未过期锁时下发 lock-denied。
func (s *SessionService) HandleLockAcquire(ctx context.Context, sess *Session, p dto.WhiteboardRefPayload) {
	if sess.RoomID == "" {
		return
	}
	if s.rooms.GetWhiteboard(ctx, sess.RoomID, p.WhiteboardID) == nil {
		s.sendError(sess, "lock_acquire_failed", ErrWhiteboardNotFound)
		return
	}
	lock, err := s.acquireLock(sess.RoomID, p.WhiteboardID, sess.UserID)
	if err != nil {
		s.toUser(sess, dto.EventLockDenied, map[string]string{
			"whiteboardId": p.WhiteboardID,
			"heldBy":       lock.UserID,
		})
		return
	}
	s.toRoom(sess.RoomID, dto.EventLockAcquired, lock)
}

// HandleLockExtend 续期自己持有的锁。总时长不超过 MaxLockExtension。
func (s *SessionService) HandleLockExtend(ctx context.Context, sess *Session, p dto.WhiteboardRefPayload) {
	if sess.RoomID == "" {
		return
	}
	lock, err := s.extendLock(sess.RoomID, p.WhiteboardID, sess.UserID)
	if err != nil {
		s.sendError(sess, "lock_extend_failed", err)
		return
	}
	s.toRoom(sess.RoomID, dto.EventLockExtended, lock)
}

// HandleLockRelease 释放自己持有的锁。释放他人的锁是 no-op。
func (s *SessionService) HandleLockRelease(ctx context.Context, sess *Session, p dto.WhiteboardRefPayload) {
	if sess.RoomID == "" {
		return
	}
	if s.releaseLock(sess.RoomID, p.WhiteboardID, sess.UserID) {
		s.toRoom(sess.RoomID, dto.EventLockReleased, p)
	}
}

// acquireLock 授予编辑锁。已被他人持有且未过期时返回现有锁和 ErrLockConflict。
// 同一用户重复申请视为续期。
func (s *SessionService) acquireLock(roomID, whiteboardID, userID string) (*domain.WhiteboardLock, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	now := s.now().UTC()
	boards, ok := s.locks[roomID]
	if !ok {
		boards = make(map[string]*domain.WhiteboardLock)
		s.locks[roomID] = boards
	}
	if existing := boards[whiteboardID]; !existing.Expired(now) && existing.UserID != userID {
		return existing, ErrLockConflict
	}
	lock := &domain.WhiteboardLock{
		WhiteboardID: whiteboardID,
		UserID:       userID,
		AcquiredAt:   now,
		ExpiresAt:    now.Add(DefaultLockTTL),
	}
	boards[whiteboardID] = lock
	return lock, nil
}

// extendLock 为持有者续期。过期或不持有按冲突处理；续期后的过期时刻
// 不超过首次获取时刻加 MaxLockExtension。
func (s *SessionService) extendLock(roomID, whiteboardID, userID string) (*domain.WhiteboardLock, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	now := s.now().UTC()
	lock := s.locks[roomID][whiteboardID]
	if lock.Expired(now) || lock.UserID != userID {
		return nil, ErrLockConflict
	}
	expires := now.Add(DefaultLockTTL)
	if limit := lock.AcquiredAt.Add(MaxLockExtension); expires.After(limit) {
		expires = limit
	}
	lock.ExpiresAt = expires
	return lock, nil
}

func (s *SessionService) releaseLock(roomID, whiteboardID, userID string) bool {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock := s.locks[roomID][whiteboardID]
	if lock == nil || lock.UserID != userID {
		return false
	}
	delete(s.locks[roomID], whiteboardID)
	return true
}

// mayEdit 判断用户当前能否编辑白板：无锁、锁已过期或锁属于本人都放行。
func (s *SessionService) mayEdit(roomID, whiteboardID, userID string) bool {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock := s.locks[roomID][whiteboardID]
	if lock.Expired(s.now().UTC()) {
		return true
	}
	return lock.UserID == userID
}

// activeLocks 返回房间内未过期的锁快照。
func (s *SessionService) activeLocks(roomID string) []domain.WhiteboardLock {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	now := s.now().UTC()
	out := make([]domain.WhiteboardLock, 0)
	for _, lock := range s.locks[roomID] {
		if !lock.Expired(now) {
			out = append(out, *lock)
		}
	}
	return out
}

// releaseUserLocks 释放该用户在房间内的全部锁，返回涉及的白板 ID。
func (s *SessionService) releaseUserLocks(roomID, userID string) []string {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	var released []string
	for boardID, lock := range s.locks[roomID] {
		if lock.UserID == userID {
			delete(s.locks[roomID], boardID)
			released = append(released, boardID)
		}
	}
	return released
}

func (s *SessionService) dropLock(roomID, whiteboardID string) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	delete(s.locks[roomID], whiteboardID)
}

func (s *SessionService) clearRoomLocks(roomID string) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	delete(s.locks, roomID)
}

// --- 聊天 ---

// HandleChat 把聊天消息转发给房间内所有人。
func (s *SessionService) HandleChat(ctx context.Context, sess *Session, p dto.ChatPayload) {
	if sess.RoomID == "" || p.Message == "" {
		return
	}
	s.toRoom(sess.RoomID, dto.EventChat, dto.ChatMessageDTO{
		UserID:    sess.UserID,
		Username:  sess.Username,
		Message:   p.Message,
		Timestamp: s.now().UTC().UnixMilli(),
	})
}

// --- 内部辅助 ---

func (s *SessionService) newCommand(t domain.CommandType, sess *Session, objectID string) *domain.Command {
	return &domain.Command{
		ID:        ident.NewID(),
		Type:      t,
		RoomID:    sess.RoomID,
		UserID:    sess.UserID,
		ObjectID:  objectID,
		Timestamp: s.now().UTC(),
	}
}

// afterCommand 在命令完成后下发历史视图、广播时间线，并把冲突通告给操作者。
func (s *SessionService) afterCommand(sess *Session, view HistoryView, conflict *domain.Conflict) {
	s.toUser(sess, dto.EventHistory, view)
	s.toRoom(sess.RoomID, dto.EventTimeline, s.oplog.GetRoomTimeline(sess.RoomID, 1))
	if conflict != nil {
		s.toUser(sess, dto.EventConflict, conflict)
	}
}

func (s *SessionService) isHost(ctx context.Context, sess *Session) bool {
	room, err := s.rooms.GetRoom(ctx, sess.RoomID)
	if err != nil {
		return false
	}
	return room.RoleOf(sess.UserID) == domain.RoleHost
}

func objectFromSpec(spec dto.ObjectSpec, creatorID string) domain.SceneObject {
	obj := domain.SceneObject{
		ID:        spec.ID,
		Type:      spec.Type,
		Position:  spec.Position,
		Rotation:  spec.Rotation,
		Scale:     spec.Scale,
		Color:     spec.Color,
		CreatedBy: creatorID,
	}
	if spec.Material != nil {
		obj.Material = *spec.Material
	}
	return obj
}

func (s *SessionService) toRoom(roomID string, msgType string, payload any) {
	if s.broadcaster == nil {
		return
	}
	raw, err := dto.Message{Type: msgType, Payload: payload}.Encode()
	if err != nil {
		logrus.WithError(err).WithField("type", msgType).Error("Failed to encode broadcast message")
		return
	}
	s.broadcaster.ToRoom(roomID, raw)
}

func (s *SessionService) toUser(sess *Session, msgType string, payload any) {
	if s.broadcaster == nil {
		return
	}
	raw, err := dto.Message{Type: msgType, Payload: payload}.Encode()
	if err != nil {
		logrus.WithError(err).WithField("type", msgType).Error("Failed to encode user message")
		return
	}
	s.broadcaster.ToUser(sess.RoomID, sess.UserID, raw)
}

// sendError 把业务失败作为通知下发给操作者，不中断连接。
func (s *SessionService) sendError(sess *Session, code string, err error) {
	logrus.WithError(err).WithFields(logrus.Fields{
		"room_id": sess.RoomID,
		"user_id": sess.UserID,
		"code":    code,
	}).Debug("Operation rejected")
	s.toUser(sess, dto.EventError, dto.ErrorDTO{Code: code, Message: err.Error()})
}
