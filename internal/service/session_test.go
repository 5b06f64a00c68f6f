package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collaborative-scene/internal/domain"
	"collaborative-scene/internal/dto"
)

// fakeBroadcaster 记录所有下发的消息，供断言用。
type fakeBroadcaster struct {
	mu      sync.Mutex
	events  []fakeEvent
	members map[string]string // socketID -> roomID
}

type fakeEvent struct {
	RoomID  string
	UserID  string // 空表示房间广播
	Type    string
	Payload json.RawMessage
}

func (f *fakeBroadcaster) record(roomID, userID string, message []byte) {
	var m struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(message, &m); err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fakeEvent{RoomID: roomID, UserID: userID, Type: m.Type, Payload: m.Payload})
}

func (f *fakeBroadcaster) ToRoom(roomID string, message []byte)         { f.record(roomID, "", message) }
func (f *fakeBroadcaster) ToUser(roomID, userID string, message []byte) { f.record(roomID, userID, message) }
func (f *fakeBroadcaster) ToAll(message []byte)                         { f.record("", "", message) }

func (f *fakeBroadcaster) Subscribe(roomID, socketID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members == nil {
		f.members = make(map[string]string)
	}
	f.members[socketID] = roomID
}

func (f *fakeBroadcaster) Unsubscribe(roomID, socketID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[socketID] == roomID {
		delete(f.members, socketID)
	}
}

// memberOf 返回连接当前挂在哪个房间分组。
func (f *fakeBroadcaster) memberOf(socketID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[socketID]
}

// last 返回指定类型的最后一条消息，不存在时返回 nil。
func (f *fakeBroadcaster) last(msgType string) *fakeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Type == msgType {
			ev := f.events[i]
			return &ev
		}
	}
	return nil
}

func (f *fakeBroadcaster) count(msgType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Type == msgType {
			n++
		}
	}
	return n
}

func (f *fakeBroadcaster) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

func newSessionFixture(t *testing.T) (*SessionService, *RoomService, *fakeBroadcaster) {
	t.Helper()
	rooms := NewRoomService(nil)
	oplog := NewOpLogService(OpLogOptions{})
	svc := NewSessionService(rooms, oplog)
	fb := &fakeBroadcaster{}
	svc.SetBroadcaster(fb)
	return svc, rooms, fb
}

func joinedSession(t *testing.T, svc *SessionService, roomID, userID, username string) *Session {
	t.Helper()
	sess := &Session{UserID: userID, Username: username, SocketID: "sock-" + userID}
	require.NoError(t, svc.HandleJoinRoom(context.Background(), sess, dto.JoinRoomPayload{
		RoomID:   roomID,
		Username: username,
	}))
	return sess
}

func TestHandleJoinRoomAutoCreates(t *testing.T) {
	svc, rooms, fb := newSessionFixture(t)
	sess := joinedSession(t, svc, "FRESH1", "u1", "alice")

	assert.Equal(t, "FRESH1", sess.RoomID)
	room, err := rooms.GetRoom(context.Background(), "FRESH1")
	require.NoError(t, err, "加入未知房间应即席创建")
	assert.Equal(t, "u1", room.OwnerID)

	joined := fb.last(dto.EventRoomJoined)
	require.NotNil(t, joined, "加入者应收到房间快照")
	assert.Equal(t, "u1", joined.UserID)

	var state dto.RoomStateDTO
	require.NoError(t, json.Unmarshal(joined.Payload, &state))
	assert.Equal(t, domain.RoleHost, state.Role, "首个加入者的角色应是 host")
	assert.Len(t, state.Users, 1)

	assert.NotNil(t, fb.last(dto.EventUserJoined), "房间应收到 user-joined 广播")
}

func TestHandleJoinRoomWrongPassword(t *testing.T) {
	svc, rooms, fb := newSessionFixture(t)
	_, err := rooms.CreateRoom(context.Background(), CreateRoomOptions{ID: "LOCKED", Password: "pw"})
	require.NoError(t, err)

	sess := &Session{UserID: "u1", SocketID: "s1"}
	err = svc.HandleJoinRoom(context.Background(), sess, dto.JoinRoomPayload{RoomID: "LOCKED", Password: "bad"})
	assert.ErrorIs(t, err, ErrInvalidPassword)
	assert.Empty(t, sess.RoomID)
	assert.NotNil(t, fb.last(dto.EventError), "加入失败应下发错误通知")
}

func TestObjectCreateUpdateDeleteFlow(t *testing.T) {
	svc, rooms, fb := newSessionFixture(t)
	sess := joinedSession(t, svc, "FLOW01", "u1", "alice")
	ctx := context.Background()

	svc.HandleObjectCreate(ctx, sess, dto.ObjectCreatePayload{Object: dto.ObjectSpec{ID: "o1", Type: "cube"}})
	created := fb.last(dto.EventObjectCreated)
	require.NotNil(t, created)
	assert.NotNil(t, fb.last(dto.EventHistory), "每次命令后应下发历史视图")
	assert.NotNil(t, fb.last(dto.EventTimeline), "每次命令后应广播时间线增量")

	color := "#123456"
	svc.HandleObjectUpdate(ctx, sess, dto.ObjectUpdatePayload{ObjectID: "o1", Patch: domain.ObjectPatch{Color: &color}})
	updated := fb.last(dto.EventObjectUpdated)
	require.NotNil(t, updated)
	var obj domain.SceneObject
	require.NoError(t, json.Unmarshal(updated.Payload, &obj))
	assert.Equal(t, "#123456", obj.Color)
	assert.Equal(t, uint64(2), obj.Version)

	svc.HandleObjectDelete(ctx, sess, dto.ObjectDeletePayload{ObjectID: "o1"})
	assert.NotNil(t, fb.last(dto.EventObjectDeleted))
	assert.Nil(t, rooms.GetObject(ctx, "FLOW01", "o1"))
}

func TestUndoRedoBroadcastTranslation(t *testing.T) {
	svc, rooms, fb := newSessionFixture(t)
	sess := joinedSession(t, svc, "TRANS1", "u1", "alice")
	ctx := context.Background()

	svc.HandleObjectCreate(ctx, sess, dto.ObjectCreatePayload{Object: dto.ObjectSpec{ID: "o1"}})
	fb.reset()

	// 撤销创建应广播为删除
	svc.HandleUndo(ctx, sess)
	assert.NotNil(t, fb.last(dto.EventObjectDeleted), "撤销创建应广播 object-deleted")
	assert.Nil(t, rooms.GetObject(ctx, "TRANS1", "o1"))

	// 重做创建应广播为创建
	fb.reset()
	svc.HandleRedo(ctx, sess)
	assert.NotNil(t, fb.last(dto.EventObjectCreated), "重做创建应广播 object-created")
	assert.NotNil(t, rooms.GetObject(ctx, "TRANS1", "o1"))

	// 撤销删除应广播为恢复
	svc.HandleObjectDelete(ctx, sess, dto.ObjectDeletePayload{ObjectID: "o1"})
	fb.reset()
	svc.HandleUndo(ctx, sess)
	assert.NotNil(t, fb.last(dto.EventObjectRestored), "撤销删除应广播 object-restored")
	assert.NotNil(t, rooms.GetObject(ctx, "TRANS1", "o1"))
}

func TestUndoEmptyStackNotifiesUser(t *testing.T) {
	svc, _, fb := newSessionFixture(t)
	sess := joinedSession(t, svc, "EMPTY1", "u1", "alice")

	svc.HandleUndo(context.Background(), sess)
	errEv := fb.last(dto.EventError)
	require.NotNil(t, errEv, "空栈撤销应下发错误通知")
	assert.Equal(t, "u1", errEv.UserID)
}

func TestClearObjectsRequiresHost(t *testing.T) {
	svc, rooms, fb := newSessionFixture(t)
	host := joinedSession(t, svc, "GATED1", "u1", "alice")
	member := joinedSession(t, svc, "GATED1", "u2", "bob")
	ctx := context.Background()

	svc.HandleObjectCreate(ctx, host, dto.ObjectCreatePayload{Object: dto.ObjectSpec{ID: "o1"}})
	fb.reset()

	svc.HandleClearObjects(ctx, member)
	require.NotNil(t, fb.last(dto.EventError), "非房主清空应被拒绝")
	room, err := rooms.GetRoom(ctx, "GATED1")
	require.NoError(t, err)
	assert.Len(t, room.Objects, 1, "被拒绝的清空不应生效")

	svc.HandleClearObjects(ctx, host)
	assert.NotNil(t, fb.last(dto.EventObjectsCleared))
	room, err = rooms.GetRoom(ctx, "GATED1")
	require.NoError(t, err)
	assert.Empty(t, room.Objects)
}

func TestWhiteboardHostGating(t *testing.T) {
	svc, _, fb := newSessionFixture(t)
	host := joinedSession(t, svc, "WBGATE", "u1", "alice")
	member := joinedSession(t, svc, "WBGATE", "u2", "bob")
	ctx := context.Background()

	fb.reset()
	svc.HandleWhiteboardCreate(ctx, member, dto.WhiteboardCreatePayload{})
	assert.NotNil(t, fb.last(dto.EventError), "非房主创建白板应被拒绝")
	assert.Nil(t, fb.last(dto.EventWhiteboardCreated))

	svc.HandleWhiteboardCreate(ctx, host, dto.WhiteboardCreatePayload{ID: "wb1"})
	assert.NotNil(t, fb.last(dto.EventWhiteboardCreated))
}

func TestWhiteboardLockLifecycle(t *testing.T) {
	svc, _, fb := newSessionFixture(t)
	u1 := joinedSession(t, svc, "LOCKS1", "u1", "alice")
	u2 := joinedSession(t, svc, "LOCKS1", "u2", "bob")
	ctx := context.Background()

	current := time.Now()
	svc.now = func() time.Time { return current }

	svc.HandleWhiteboardCreate(ctx, u1, dto.WhiteboardCreatePayload{ID: "wb1"})
	ref := dto.WhiteboardRefPayload{WhiteboardID: "wb1"}

	svc.HandleLockAcquire(ctx, u1, ref)
	require.NotNil(t, fb.last(dto.EventLockAcquired))

	// 他人申请同一块白板的锁应被拒
	fb.reset()
	svc.HandleLockAcquire(ctx, u2, ref)
	denied := fb.last(dto.EventLockDenied)
	require.NotNil(t, denied, "已被持有的锁应拒绝他人")
	assert.Equal(t, "u2", denied.UserID)

	// 他人绘制被锁拦下，持有者绘制放行
	svc.HandleWhiteboardDraw(ctx, u2, dto.WhiteboardDrawPayload{WhiteboardID: "wb1", Action: domain.DrawAction{Type: domain.DrawStroke}})
	assert.NotNil(t, fb.last(dto.EventError), "他人持锁时绘制应被拒绝")
	fb.reset()
	svc.HandleWhiteboardDraw(ctx, u1, dto.WhiteboardDrawPayload{WhiteboardID: "wb1", Action: domain.DrawAction{Type: domain.DrawStroke}})
	assert.NotNil(t, fb.last(dto.EventWhiteboardDraw), "持有者绘制应放行")

	// TTL 过后锁自动失效，他人可以接管
	current = current.Add(DefaultLockTTL + time.Second)
	fb.reset()
	svc.HandleLockAcquire(ctx, u2, ref)
	acquired := fb.last(dto.EventLockAcquired)
	require.NotNil(t, acquired, "过期的锁应可被接管")
	var lock domain.WhiteboardLock
	require.NoError(t, json.Unmarshal(acquired.Payload, &lock))
	assert.Equal(t, "u2", lock.UserID)
}

func TestWhiteboardLockExtensionCap(t *testing.T) {
	svc, _, _ := newSessionFixture(t)
	u1 := joinedSession(t, svc, "LOCKS2", "u1", "alice")
	ctx := context.Background()

	start := time.Now()
	current := start
	svc.now = func() time.Time { return current }

	svc.HandleWhiteboardCreate(ctx, u1, dto.WhiteboardCreatePayload{ID: "wb1"})
	ref := dto.WhiteboardRefPayload{WhiteboardID: "wb1"}
	svc.HandleLockAcquire(ctx, u1, ref)

	// 不断续期，过期时刻不能超过首次获取后的最大总时长
	var lock *domain.WhiteboardLock
	for i := 0; i < 10; i++ {
		current = current.Add(2 * time.Second)
		extended, err := svc.extendLock("LOCKS2", "wb1", "u1")
		if err != nil {
			break
		}
		lock = extended
	}
	require.NotNil(t, lock)
	assert.False(t, lock.ExpiresAt.After(start.UTC().Add(MaxLockExtension)), "续期后的过期时刻不应超过总时长上限")
}

func TestLeaveRoomReleasesLocksAndBroadcasts(t *testing.T) {
	svc, _, fb := newSessionFixture(t)
	u1 := joinedSession(t, svc, "BYE001", "u1", "alice")
	joinedSession(t, svc, "BYE001", "u2", "bob")
	ctx := context.Background()

	svc.HandleWhiteboardCreate(ctx, u1, dto.WhiteboardCreatePayload{ID: "wb1"})
	svc.HandleLockAcquire(ctx, u1, dto.WhiteboardRefPayload{WhiteboardID: "wb1"})
	fb.reset()

	svc.HandleLeaveRoom(ctx, u1)
	assert.Empty(t, u1.RoomID)
	assert.NotNil(t, fb.last(dto.EventLockReleased), "离开房间应释放并广播其持有的锁")
	assert.NotNil(t, fb.last(dto.EventUserLeft))
	hostChanged := fb.last(dto.EventHostChanged)
	require.NotNil(t, hostChanged, "房主离开应广播移交")

	var payload map[string]string
	require.NoError(t, json.Unmarshal(hostChanged.Payload, &payload))
	assert.Equal(t, "u2", payload["ownerId"])

	// 剩余成员继续可用：u2 现在是房主
	u2sess := &Session{UserID: "u2", SocketID: "sock-u2b"}
	require.NoError(t, svc.HandleJoinRoom(ctx, u2sess, dto.JoinRoomPayload{RoomID: "BYE001"}))
	svc.HandleClearObjects(ctx, u2sess)
	assert.NotNil(t, fb.last(dto.EventObjectsCleared), "移交后的房主应有 host 权限")
}

func TestMembershipFanOut(t *testing.T) {
	svc, _, fb := newSessionFixture(t)
	u1 := joinedSession(t, svc, "FANOUT", "u1", "alice")
	assert.NotNil(t, fb.last(dto.EventRoomUsers), "加入后应广播成员列表")
	assert.NotNil(t, fb.last(dto.EventRoomList), "新建房间应向所有连接推送房间列表")

	joinedSession(t, svc, "FANOUT", "u2", "bob")
	fb.reset()
	svc.HandleLeaveRoom(context.Background(), u1)
	users := fb.last(dto.EventRoomUsers)
	require.NotNil(t, users, "离开后应广播成员列表")
	var list []domain.User
	require.NoError(t, json.Unmarshal(users.Payload, &list))
	assert.Len(t, list, 1)
}

func TestWhiteboardClearRequiresHost(t *testing.T) {
	svc, rooms, fb := newSessionFixture(t)
	host := joinedSession(t, svc, "WBCLR1", "u1", "alice")
	member := joinedSession(t, svc, "WBCLR1", "u2", "bob")
	ctx := context.Background()

	svc.HandleWhiteboardCreate(ctx, host, dto.WhiteboardCreatePayload{ID: "wb1"})
	fb.reset()

	clear := dto.WhiteboardDrawPayload{WhiteboardID: "wb1", Action: domain.DrawAction{Type: domain.DrawClear}}
	svc.HandleWhiteboardDraw(ctx, member, clear)
	assert.NotNil(t, fb.last(dto.EventError), "非房主的整板清空应被拒绝")
	board := rooms.GetWhiteboard(ctx, "WBCLR1", "wb1")
	require.NotNil(t, board)
	assert.Empty(t, board.History)

	svc.HandleWhiteboardDraw(ctx, host, clear)
	board = rooms.GetWhiteboard(ctx, "WBCLR1", "wb1")
	require.NotNil(t, board)
	assert.Len(t, board.History, 1, "房主的整板清空应被记录")
}

func TestChatRelay(t *testing.T) {
	svc, _, fb := newSessionFixture(t)
	sess := joinedSession(t, svc, "CHAT01", "u1", "alice")

	svc.HandleChat(context.Background(), sess, dto.ChatPayload{Message: "hello"})
	ev := fb.last(dto.EventChat)
	require.NotNil(t, ev)

	var msg dto.ChatMessageDTO
	require.NoError(t, json.Unmarshal(ev.Payload, &msg))
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, "hello", msg.Message)

	fb.reset()
	svc.HandleChat(context.Background(), sess, dto.ChatPayload{Message: ""})
	assert.Nil(t, fb.last(dto.EventChat), "空消息不应转发")
}

func TestObjectMoveMergesIntoSingleUndoStep(t *testing.T) {
	svc, rooms, fb := newSessionFixture(t)
	sess := joinedSession(t, svc, "MERGE1", "u1", "alice")
	ctx := context.Background()

	svc.HandleObjectCreate(ctx, sess, dto.ObjectCreatePayload{Object: dto.ObjectSpec{ID: "o1"}})
	svc.HandleObjectMove(ctx, sess, dto.ObjectMovePayload{ObjectID: "o1", Position: domain.Vec3{X: 1}})
	svc.HandleObjectMove(ctx, sess, dto.ObjectMovePayload{ObjectID: "o1", Position: domain.Vec3{X: 2}})
	svc.HandleObjectMove(ctx, sess, dto.ObjectMovePayload{ObjectID: "o1", Position: domain.Vec3{X: 3}})

	hist := fb.last(dto.EventHistory)
	require.NotNil(t, hist)
	var view HistoryView
	require.NoError(t, json.Unmarshal(hist.Payload, &view))
	assert.Equal(t, 2, view.UndoCount, "连续拖拽应折叠为创建加一步移动")

	// 一步撤销应回到移动前的位置
	svc.HandleUndo(ctx, sess)
	obj := rooms.GetObject(ctx, "MERGE1", "o1")
	require.NotNil(t, obj)
	assert.Equal(t, float64(0), obj.Position.X, "合并后的撤销应一次回到初始位置")
}

func TestJoinSecondRoomLeavesFirst(t *testing.T) {
	svc, rooms, fb := newSessionFixture(t)
	ctx := context.Background()
	sess := joinedSession(t, svc, "ROOMAA", "u1", "alice")
	peer := joinedSession(t, svc, "ROOMAA", "u2", "bob")
	fb.reset()

	// 换房应先走完整退房流程，旧房间不能残留该成员
	require.NoError(t, svc.HandleJoinRoom(ctx, sess, dto.JoinRoomPayload{RoomID: "ROOMBB", Username: "alice"}))
	assert.Equal(t, "ROOMBB", sess.RoomID)
	assert.Equal(t, "ROOMBB", fb.memberOf(sess.SocketID), "换房后连接应只在新房间的分组里")

	old, err := rooms.GetRoom(ctx, "ROOMAA")
	require.NoError(t, err)
	assert.NotContains(t, old.Users, "u1", "换房后旧房间不应再有该成员")
	assert.NotNil(t, fb.last(dto.EventUserLeft), "旧房间应收到 user-left 广播")
	hostChanged := fb.last(dto.EventHostChanged)
	require.NotNil(t, hostChanged, "房主换房应在旧房间触发移交")
	var payload map[string]string
	require.NoError(t, json.Unmarshal(hostChanged.Payload, &payload))
	assert.Equal(t, "u2", payload["ownerId"])

	// 最后一个成员换房后，非持久化的旧房间应被销毁
	require.NoError(t, svc.HandleJoinRoom(ctx, peer, dto.JoinRoomPayload{RoomID: "ROOMBB", Username: "bob"}))
	_, err = rooms.GetRoom(ctx, "ROOMAA")
	assert.ErrorIs(t, err, ErrRoomNotFound, "空置的非持久化房间应被销毁")

	room, err := rooms.GetRoom(ctx, "ROOMBB")
	require.NoError(t, err)
	assert.Len(t, room.Users, 2)
}

func TestRejoinSameRoomKeepsMembership(t *testing.T) {
	svc, rooms, _ := newSessionFixture(t)
	ctx := context.Background()
	sess := joinedSession(t, svc, "SAME01", "u1", "alice")

	require.NoError(t, svc.HandleJoinRoom(ctx, sess, dto.JoinRoomPayload{RoomID: "SAME01", Username: "alice"}))
	room, err := rooms.GetRoom(ctx, "SAME01")
	require.NoError(t, err)
	assert.Equal(t, "u1", room.OwnerID, "重复加入同一房间不应触发退房移交")
	assert.Len(t, room.Users, 1)
}
