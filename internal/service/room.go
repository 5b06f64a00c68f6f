package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-scene/internal/domain"
	"collaborative-scene/internal/ident"
	"collaborative-scene/internal/repository"
)

// RoomService 是房间/对象/白板的权威内存存储。
// 同一房间的所有变更经由该房间的互斥锁串行执行；不同房间互不影响。
// 持久化是写穿且尽力而为的：失败只记日志，内存态始终权威。
type RoomService struct {
	stateRepo repository.StateRepository // 可为 nil：纯内存模式

	mu    sync.RWMutex
	rooms map[string]*roomEntry
}

// roomEntry 给每个房间配一把锁，保证房内变更一次一个。
type roomEntry struct {
	mu   sync.Mutex
	room *domain.Room
}

// NewRoomService 创建 RoomService 实例。stateRepo 传 nil 表示不持久化。
func NewRoomService(stateRepo repository.StateRepository) *RoomService {
	return &RoomService{
		stateRepo: stateRepo,
		rooms:     make(map[string]*roomEntry),
	}
}

// DefaultMaxUsers 是未指定容量时的房间人数上限。
const DefaultMaxUsers = 16

// NormalizeRoomID 规范化房间 ID：去空白并统一大写。
func NormalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func roomKey(id string) string { return "room:" + id }

// CreateRoomOptions 是创建房间的选项集合。
type CreateRoomOptions struct {
	ID         string // 为空时由服务端生成房间码
	Name       string
	IsPublic   bool
	Password   string // 明文，存储前哈希
	MaxUsers   int
	Persistent bool
}

// CreateRoom 创建一个新房间。ID 与内存中的活动房间冲突时返回 ErrRoomExists。
func (s *RoomService) CreateRoom(ctx context.Context, opts CreateRoomOptions) (*domain.Room, error) {
	id := NormalizeRoomID(opts.ID)
	if id == "" {
		code, err := ident.NewRoomCode()
		if err != nil {
			logrus.WithError(err).Error("Failed to generate room code")
			return nil, ErrInternalServer
		}
		id = code
	}
	logCtx := logrus.WithField("room_id", id)

	var passwordHash string
	if opts.Password != "" {
		hash, err := ident.HashPassword(opts.Password)
		if err != nil {
			logCtx.WithError(err).Error("Failed to hash room password")
			return nil, ErrInternalServer
		}
		passwordHash = hash
	}

	maxUsers := opts.MaxUsers
	if maxUsers <= 0 {
		maxUsers = DefaultMaxUsers
	}
	name := opts.Name
	if name == "" {
		name = "Room " + id
	}

	room := &domain.Room{
		ID:           id,
		Name:         name,
		IsPublic:     opts.IsPublic,
		PasswordHash: passwordHash,
		Users:        make(map[string]domain.User),
		Objects:      make([]domain.SceneObject, 0),
		Whiteboards:  make([]domain.Whiteboard, 0),
		MaxUsers:     maxUsers,
		Persistent:   opts.Persistent,
		Created:      time.Now().UTC(),
	}

	entry := &roomEntry{room: room}
	s.mu.Lock()
	if _, exists := s.rooms[id]; exists {
		s.mu.Unlock()
		return nil, ErrRoomExists
	}
	s.rooms[id] = entry
	s.mu.Unlock()

	entry.mu.Lock()
	s.persistRoomLocked(ctx, room)
	snapshot := room.Clone()
	entry.mu.Unlock()

	logCtx.Info("Room created")
	return snapshot, nil
}

// GetRoom 返回房间的深拷贝。不在内存时尝试从持久化存储惰性恢复。
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	entry, err := s.entry(ctx, roomID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.room.Clone(), nil
}

// UserInfo 是加入房间时携带的成员信息。
type UserInfo struct {
	Username string
	Position domain.Vec3
	Rotation domain.Vec3
}

// JoinRoom 添加或更新成员。首个加入者成为房主。
// 已是成员的用户重入（重连）不受容量限制，且保留原 JoinedAt。
func (s *RoomService) JoinRoom(ctx context.Context, roomID, userID, socketID string, info UserInfo, password string) (*domain.Room, error) {
	entry, err := s.entry(ctx, roomID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	room := entry.room

	if room.PasswordHash != "" && !ident.CheckPassword(password, room.PasswordHash) {
		return nil, ErrInvalidPassword
	}

	existing, isMember := room.Users[userID]
	if !isMember && len(room.Users) >= room.MaxUsers {
		return nil, ErrRoomFull
	}

	user := domain.User{
		UserID:   userID,
		Username: info.Username,
		SocketID: socketID,
		Position: info.Position,
		Rotation: info.Rotation,
		JoinedAt: time.Now().UTC(),
	}
	if isMember {
		// 重连：替换 socket，保留加入时间
		user.JoinedAt = existing.JoinedAt
		if user.Username == "" {
			user.Username = existing.Username
		}
	}
	room.Users[userID] = user

	if room.OwnerID == "" {
		room.OwnerID = userID
	}

	s.persistRoomLocked(ctx, room)
	logrus.WithFields(logrus.Fields{"room_id": room.ID, "user_id": userID}).Info("User joined room")
	return room.Clone(), nil
}

// LeaveResult 描述一次离开房间的后果。
type LeaveResult struct {
	Removed      bool
	OwnerChanged bool
	NewOwnerID   string
	Destroyed    bool
}

// LeaveRoom 移除成员；房主离开时移交给任一剩余成员。
// 非持久化房间清空后立即销毁。
func (s *RoomService) LeaveRoom(ctx context.Context, roomID, userID string) (LeaveResult, error) {
	entry, err := s.entry(ctx, roomID)
	if err != nil {
		return LeaveResult{}, err
	}

	entry.mu.Lock()
	room := entry.room
	result := LeaveResult{}

	if _, ok := room.Users[userID]; !ok {
		entry.mu.Unlock()
		return result, nil
	}
	delete(room.Users, userID)
	result.Removed = true

	if room.OwnerID == userID {
		room.OwnerID = ""
		for id := range room.Users { // 任取一个剩余成员，迭代顺序即平局规则
			room.OwnerID = id
			break
		}
		result.OwnerChanged = true
		result.NewOwnerID = room.OwnerID
	}

	if len(room.Users) == 0 && !room.Persistent {
		result.Destroyed = true
	} else {
		s.persistRoomLocked(ctx, room)
	}
	entry.mu.Unlock()

	if result.Destroyed {
		s.destroyRoom(ctx, room.ID)
	}
	logrus.WithFields(logrus.Fields{"room_id": room.ID, "user_id": userID, "destroyed": result.Destroyed}).Info("User left room")
	return result, nil
}

// UpdateUserTransform 更新成员的位姿（不触发持久化，也不计入操作日志）。
func (s *RoomService) UpdateUserTransform(ctx context.Context, roomID, userID string, position, rotation domain.Vec3) error {
	entry, err := s.entry(ctx, roomID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	user, ok := entry.room.Users[userID]
	if !ok {
		return nil
	}
	user.Position = position
	user.Rotation = rotation
	entry.room.Users[userID] = user
	return nil
}

// GetRoomList 返回房间摘要列表，按创建时间倒序。
func (s *RoomService) GetRoomList(includePrivate bool) []domain.RoomSummary {
	s.mu.RLock()
	entries := make([]*roomEntry, 0, len(s.rooms))
	for _, e := range s.rooms {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	summaries := make([]domain.RoomSummary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.room.IsPublic || includePrivate {
			summaries = append(summaries, e.room.Summary())
		}
		e.mu.Unlock()
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Created.After(summaries[j].Created)
	})
	return summaries
}

// --- 场景对象操作 ---

// GetObject 返回对象的副本，不存在时返回 nil。
func (s *RoomService) GetObject(ctx context.Context, roomID, objectID string) *domain.SceneObject {
	entry, err := s.entry(ctx, roomID)
	if err != nil {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if idx := findObject(entry.room.Objects, objectID); idx >= 0 {
		return entry.room.Objects[idx].Clone()
	}
	return nil
}

// UpsertObject 插入或整体替换对象，返回存储后的副本。
// actorID 非空时视为一次权威变更：版本号递增、更新时间与修改者被刷新。
func (s *RoomService) UpsertObject(ctx context.Context, roomID string, obj domain.SceneObject, actorID string) (*domain.SceneObject, error) {
	entry, err := s.entry(ctx, roomID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	normalizeObject(&obj)
	if actorID != "" {
		touchObject(&obj, actorID)
	}
	room := entry.room
	if idx := findObject(room.Objects, obj.ID); idx >= 0 {
		room.Objects[idx] = obj
	} else {
		room.Objects = append(room.Objects, obj)
	}
	s.persistRoomLocked(ctx, room)
	return obj.Clone(), nil
}

// UpdateObject 将补丁按字段合并到既有对象上并重新规范化。
// 对象不存在时返回 (nil, nil)：调用方应视为无事可做，不广播也不记录撤销。
func (s *RoomService) UpdateObject(ctx context.Context, roomID, objectID string, patch domain.ObjectPatch, actorID string) (*domain.SceneObject, error) {
	entry, err := s.entry(ctx, roomID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	room := entry.room
	idx := findObject(room.Objects, objectID)
	if idx < 0 {
		return nil, nil
	}
	obj := &room.Objects[idx]
	patch.Apply(obj)
	normalizeObject(obj)
	if actorID != "" {
		touchObject(obj, actorID)
	}
	s.persistRoomLocked(ctx, room)
	return obj.Clone(), nil
}

// MoveObject 是只更新位置的 UpdateObject 便捷形式。
func (s *RoomService) MoveObject(ctx context.Context, roomID, objectID string, position domain.Vec3, actorID string) (*domain.SceneObject, error) {
	return s.UpdateObject(ctx, roomID, objectID, domain.ObjectPatch{Position: &position}, actorID)
}

// RemoveObject 删除对象并返回被删对象的副本；不存在时返回 nil。
func (s *RoomService) RemoveObject(ctx context.Context, roomID, objectID string) (*domain.SceneObject, error) {
	entry, err := s.entry(ctx, roomID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	room := entry.room
	idx := findObject(room.Objects, objectID)
	if idx < 0 {
		return nil, nil
	}
	removed := room.Objects[idx].Clone()
	room.Objects = append(room.Objects[:idx], room.Objects[idx+1:]...)
	s.persistRoomLocked(ctx, room)
	return removed, nil
}

// ClearObjects 清空房间内全部对象并返回被清对象（撤销时需要）。
func (s *RoomService) ClearObjects(ctx context.Context, roomID string) ([]domain.SceneObject, error) {
	entry, err := s.entry(ctx, roomID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	room := entry.room
	removed := make([]domain.SceneObject, len(room.Objects))
	for i := range room.Objects {
		removed[i] = *room.Objects[i].Clone()
	}
	room.Objects = room.Objects[:0]
	s.persistRoomLocked(ctx, room)
	return removed, nil
}

// RestoreObjects 批量重新插入对象（按 ID 覆盖既有项），用于撤销 CLEAR_OBJECTS。
func (s *RoomService) RestoreObjects(ctx context.Context, roomID string, objs []domain.SceneObject) error {
	entry, err := s.entry(ctx, roomID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	room := entry.room
	for _, obj := range objs {
		normalizeObject(&obj)
		if idx := findObject(room.Objects, obj.ID); idx >= 0 {
			room.Objects[idx] = obj
		} else {
			room.Objects = append(room.Objects, obj)
		}
	}
	s.persistRoomLocked(ctx, room)
	return nil
}

// --- 白板操作 ---

// UpsertWhiteboard 插入或整体替换白板，返回存储后的副本。
func (s *RoomService) UpsertWhiteboard(ctx context.Context, roomID string, board domain.Whiteboard, actorID string) (*domain.Whiteboard, error) {
	entry, err := s.entry(ctx, roomID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if board.History == nil {
		board.History = make([]domain.DrawAction, 0)
	}
	if board.RedoStack == nil {
		board.RedoStack = make([]domain.DrawAction, 0)
	}
	board.UpdatedAt = time.Now().UTC()
	board.UpdatedBy = actorID

	room := entry.room
	if idx := findWhiteboard(room.Whiteboards, board.ID); idx >= 0 {
		room.Whiteboards[idx] = board
	} else {
		room.Whiteboards = append(room.Whiteboards, board)
	}
	s.persistRoomLocked(ctx, room)
	return board.Clone(), nil
}

// GetWhiteboard 返回白板副本，不存在时返回 nil。
func (s *RoomService) GetWhiteboard(ctx context.Context, roomID, whiteboardID string) *domain.Whiteboard {
	entry, err := s.entry(ctx, roomID)
	if err != nil {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if idx := findWhiteboard(entry.room.Whiteboards, whiteboardID); idx >= 0 {
		return entry.room.Whiteboards[idx].Clone()
	}
	return nil
}

// AppendWhiteboardAction 追加绘制动作：清空重做栈，历史超出上限时丢弃最旧。
func (s *RoomService) AppendWhiteboardAction(ctx context.Context, roomID, whiteboardID string, action domain.DrawAction, actorID string) (*domain.Whiteboard, error) {
	entry, err := s.entry(ctx, roomID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	room := entry.room
	idx := findWhiteboard(room.Whiteboards, whiteboardID)
	if idx < 0 {
		return nil, ErrWhiteboardNotFound
	}
	board := &room.Whiteboards[idx]
	board.History = append(board.History, action)
	if len(board.History) > domain.HistoryCap {
		board.History = board.History[len(board.History)-domain.HistoryCap:]
	}
	board.RedoStack = board.RedoStack[:0]
	board.UpdatedAt = time.Now().UTC()
	board.UpdatedBy = actorID

	s.persistRoomLocked(ctx, room)
	return board.Clone(), nil
}

// UndoWhiteboardAction 将历史栈顶动作弹到重做栈。历史为空时返回 ErrEmptyUndo。
func (s *RoomService) UndoWhiteboardAction(ctx context.Context, roomID, whiteboardID, actorID string) (*domain.Whiteboard, error) {
	entry, err := s.entry(ctx, roomID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	room := entry.room
	idx := findWhiteboard(room.Whiteboards, whiteboardID)
	if idx < 0 {
		return nil, ErrWhiteboardNotFound
	}
	board := &room.Whiteboards[idx]
	if len(board.History) == 0 {
		return nil, ErrEmptyUndo
	}
	last := board.History[len(board.History)-1]
	board.History = board.History[:len(board.History)-1]
	board.RedoStack = append(board.RedoStack, last)
	if len(board.RedoStack) > domain.HistoryCap {
		board.RedoStack = board.RedoStack[len(board.RedoStack)-domain.HistoryCap:]
	}
	board.UpdatedAt = time.Now().UTC()
	board.UpdatedBy = actorID

	s.persistRoomLocked(ctx, room)
	return board.Clone(), nil
}

// RedoWhiteboardAction 将重做栈顶动作弹回历史栈。重做栈为空时返回 ErrEmptyRedo。
func (s *RoomService) RedoWhiteboardAction(ctx context.Context, roomID, whiteboardID, actorID string) (*domain.Whiteboard, error) {
	entry, err := s.entry(ctx, roomID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	room := entry.room
	idx := findWhiteboard(room.Whiteboards, whiteboardID)
	if idx < 0 {
		return nil, ErrWhiteboardNotFound
	}
	board := &room.Whiteboards[idx]
	if len(board.RedoStack) == 0 {
		return nil, ErrEmptyRedo
	}
	last := board.RedoStack[len(board.RedoStack)-1]
	board.RedoStack = board.RedoStack[:len(board.RedoStack)-1]
	board.History = append(board.History, last)
	board.UpdatedAt = time.Now().UTC()
	board.UpdatedBy = actorID

	s.persistRoomLocked(ctx, room)
	return board.Clone(), nil
}

// RemoveWhiteboard 删除白板，返回是否确有删除。
func (s *RoomService) RemoveWhiteboard(ctx context.Context, roomID, whiteboardID string) (bool, error) {
	entry, err := s.entry(ctx, roomID)
	if err != nil {
		return false, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	room := entry.room
	idx := findWhiteboard(room.Whiteboards, whiteboardID)
	if idx < 0 {
		return false, nil
	}
	room.Whiteboards = append(room.Whiteboards[:idx], room.Whiteboards[idx+1:]...)
	s.persistRoomLocked(ctx, room)
	return true, nil
}

// Scope 返回绑定到某个房间和操作者的命令执行上下文。
func (s *RoomService) Scope(ctx context.Context, roomID, actorID string) domain.CommandContext {
	return &commandScope{svc: s, ctx: ctx, roomID: roomID, actorID: actorID}
}

// commandScope 把 CommandContext 的调用转发到 RoomService 的房间级操作上。
// 命令执行的错误在这里收敛为 no-op（变更路径对缺失实体宽容）。
type commandScope struct {
	svc     *RoomService
	ctx     context.Context
	roomID  string
	actorID string
}

func (cs *commandScope) GetObject(id string) *domain.SceneObject {
	return cs.svc.GetObject(cs.ctx, cs.roomID, id)
}

func (cs *commandScope) UpsertObject(obj domain.SceneObject) *domain.SceneObject {
	stored, err := cs.svc.UpsertObject(cs.ctx, cs.roomID, obj, cs.actorID)
	if err != nil {
		return nil
	}
	return stored
}

func (cs *commandScope) UpdateObject(id string, patch domain.ObjectPatch) *domain.SceneObject {
	stored, err := cs.svc.UpdateObject(cs.ctx, cs.roomID, id, patch, cs.actorID)
	if err != nil {
		return nil
	}
	return stored
}

func (cs *commandScope) RemoveObject(id string) *domain.SceneObject {
	removed, err := cs.svc.RemoveObject(cs.ctx, cs.roomID, id)
	if err != nil {
		return nil
	}
	return removed
}

func (cs *commandScope) ClearObjects() []domain.SceneObject {
	removed, err := cs.svc.ClearObjects(cs.ctx, cs.roomID)
	if err != nil {
		return nil
	}
	return removed
}

func (cs *commandScope) RestoreObjects(objs []domain.SceneObject) {
	_ = cs.svc.RestoreObjects(cs.ctx, cs.roomID, objs)
}

// --- 内部辅助 ---

// entry 取出房间条目；不在内存时尝试从持久化存储恢复。
func (s *RoomService) entry(ctx context.Context, roomID string) (*roomEntry, error) {
	id := NormalizeRoomID(roomID)
	s.mu.RLock()
	entry, ok := s.rooms[id]
	s.mu.RUnlock()
	if ok {
		return entry, nil
	}
	return s.rehydrate(ctx, id)
}

// rehydrate 从 KV 存储加载房间快照并装入内存（load-on-miss）。
func (s *RoomService) rehydrate(ctx context.Context, id string) (*roomEntry, error) {
	if s.stateRepo == nil || id == "" {
		return nil, ErrRoomNotFound
	}
	raw, err := s.stateRepo.Get(ctx, roomKey(id))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logrus.WithError(err).WithField("room_id", id).Warn("Failed to load room from state store")
		}
		return nil, ErrRoomNotFound
	}
	room, err := decodeRoom(raw)
	if err != nil {
		logrus.WithError(err).WithField("room_id", id).Error("Failed to decode persisted room")
		return nil, ErrRoomNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 并发恢复时以先装入者为准
	if existing, ok := s.rooms[id]; ok {
		return existing, nil
	}
	entry := &roomEntry{room: room}
	s.rooms[id] = entry
	logrus.WithField("room_id", id).Info("Room rehydrated from state store")
	return entry, nil
}

// destroyRoom 将房间从内存移除并清理持久化快照。
func (s *RoomService) destroyRoom(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.rooms, id)
	s.mu.Unlock()
	if s.stateRepo != nil {
		if err := s.stateRepo.Del(ctx, roomKey(id)); err != nil {
			logrus.WithError(err).WithField("room_id", id).Warn("Failed to delete room snapshot from state store")
		}
	}
	logrus.WithField("room_id", id).Info("Room destroyed")
}

// persistRoomLocked 序列化房间并写入 KV 存储。仅持久化房间落盘；
// 失败只记日志，可用性优先于持久性。
func (s *RoomService) persistRoomLocked(ctx context.Context, room *domain.Room) {
	if s.stateRepo == nil || !room.Persistent {
		return
	}
	raw, err := encodeRoom(room)
	if err != nil {
		logrus.WithError(err).WithField("room_id", room.ID).Error("Failed to encode room for persistence")
		return
	}
	if err := s.stateRepo.Set(ctx, roomKey(room.ID), raw); err != nil {
		logrus.WithError(err).WithField("room_id", room.ID).Warn("Write-through persistence skipped")
	}
}

// persistedRoom 是房间的落盘形态：map 字段转为列表。
type persistedRoom struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	IsPublic     bool                 `json:"isPublic"`
	PasswordHash string               `json:"passwordHash,omitempty"`
	Users        []domain.User        `json:"users"`
	Objects      []domain.SceneObject `json:"objects"`
	Whiteboards  []domain.Whiteboard  `json:"whiteboards"`
	MaxUsers     int                  `json:"maxUsers"`
	Persistent   bool                 `json:"persistent"`
	OwnerID      string               `json:"ownerId,omitempty"`
	Created      time.Time            `json:"created"`
}

func encodeRoom(room *domain.Room) (string, error) {
	p := persistedRoom{
		ID:           room.ID,
		Name:         room.Name,
		IsPublic:     room.IsPublic,
		PasswordHash: room.PasswordHash,
		Users:        room.UserList(),
		Objects:      room.Objects,
		Whiteboards:  room.Whiteboards,
		MaxUsers:     room.MaxUsers,
		Persistent:   room.Persistent,
		OwnerID:      room.OwnerID,
		Created:      room.Created,
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeRoom(raw string) (*domain.Room, error) {
	var p persistedRoom
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	room := &domain.Room{
		ID:           p.ID,
		Name:         p.Name,
		IsPublic:     p.IsPublic,
		PasswordHash: p.PasswordHash,
		Users:        make(map[string]domain.User, len(p.Users)),
		Objects:      p.Objects,
		Whiteboards:  p.Whiteboards,
		MaxUsers:     p.MaxUsers,
		Persistent:   p.Persistent,
		OwnerID:      p.OwnerID,
		Created:      p.Created,
	}
	for _, u := range p.Users {
		room.Users[u.UserID] = u
	}
	if room.Objects == nil {
		room.Objects = make([]domain.SceneObject, 0)
	}
	if room.Whiteboards == nil {
		room.Whiteboards = make([]domain.Whiteboard, 0)
	}
	return room, nil
}

func findObject(objs []domain.SceneObject, id string) int {
	for i := range objs {
		if objs[i].ID == id {
			return i
		}
	}
	return -1
}

func findWhiteboard(boards []domain.Whiteboard, id string) int {
	for i := range boards {
		if boards[i].ID == id {
			return i
		}
	}
	return -1
}

// normalizeObject 补全对象的默认值。
func normalizeObject(obj *domain.SceneObject) {
	if obj.ID == "" {
		obj.ID = ident.NewID()
	}
	if obj.Type == "" {
		obj.Type = "cube"
	}
	if obj.Scale == (domain.Vec3{}) {
		obj.Scale = domain.Vec3{X: 1, Y: 1, Z: 1}
	}
	if obj.Color == "" {
		obj.Color = "#ffffff"
	}
	if obj.Material.Type == "" {
		obj.Material.Type = domain.DefaultMaterialType
	}
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = time.Now().UTC()
	}
}

// touchObject 记录一次权威变更：版本严格递增，时间取服务器时钟。
func touchObject(obj *domain.SceneObject, actorID string) {
	obj.Version++
	obj.UpdatedAt = time.Now().UTC()
	obj.LastModifiedBy = actorID
}
