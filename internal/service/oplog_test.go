package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collaborative-scene/internal/domain"
	"collaborative-scene/internal/repository/mocks"
)

// newSceneFixture 准备一个房间和绑定 actor 的命令上下文。
func newSceneFixture(t *testing.T, roomID string) (*RoomService, domain.CommandContext) {
	t.Helper()
	rooms := NewRoomService(nil)
	_, err := rooms.CreateRoom(context.Background(), CreateRoomOptions{ID: roomID})
	require.NoError(t, err)
	return rooms, rooms.Scope(context.Background(), roomID, "u1")
}

func createCmd(id, user, objectID string) *domain.Command {
	return &domain.Command{
		ID:        id,
		Type:      domain.CmdCreateObject,
		RoomID:    "OPLOG1",
		UserID:    user,
		ObjectID:  objectID,
		Timestamp: time.Now().UTC(),
		After:     &domain.SceneObject{ID: objectID, Type: "cube"},
	}
}

func TestOpLogUndoRedoRoundTrip(t *testing.T) {
	rooms, scope := newSceneFixture(t, "OPLOG1")
	oplog := NewOpLogService(OpLogOptions{})
	ctx := context.Background()

	cmd := createCmd("c1", "u1", "o1")
	require.NoError(t, cmd.Execute(scope))
	view := oplog.Record(ctx, "OPLOG1", "u1", cmd)
	assert.Equal(t, 1, view.UndoCount)
	assert.NotNil(t, rooms.GetObject(ctx, "OPLOG1", "o1"))

	res, err := oplog.Undo(ctx, "OPLOG1", "u1", scope)
	require.NoError(t, err)
	assert.Nil(t, rooms.GetObject(ctx, "OPLOG1", "o1"), "撤销创建后对象应消失")
	assert.Equal(t, 0, res.History.UndoCount)
	assert.Equal(t, 1, res.History.RedoCount)
	assert.Nil(t, res.Conflict)

	res, err = oplog.Redo(ctx, "OPLOG1", "u1", scope)
	require.NoError(t, err)
	assert.NotNil(t, rooms.GetObject(ctx, "OPLOG1", "o1"), "重做后对象应恢复")
	assert.Equal(t, 1, res.History.UndoCount)
	assert.Equal(t, 0, res.History.RedoCount)
}

func TestOpLogEmptyStacks(t *testing.T) {
	_, scope := newSceneFixture(t, "OPLOG1")
	oplog := NewOpLogService(OpLogOptions{})
	ctx := context.Background()

	_, err := oplog.Undo(ctx, "OPLOG1", "u1", scope)
	assert.ErrorIs(t, err, ErrEmptyUndo)
	_, err = oplog.Redo(ctx, "OPLOG1", "u1", scope)
	assert.ErrorIs(t, err, ErrEmptyRedo)
}

func TestOpLogRecordClearsRedo(t *testing.T) {
	_, scope := newSceneFixture(t, "OPLOG1")
	oplog := NewOpLogService(OpLogOptions{})
	ctx := context.Background()

	oplog.Record(ctx, "OPLOG1", "u1", createCmd("c1", "u1", "o1"))
	_, err := oplog.Undo(ctx, "OPLOG1", "u1", scope)
	require.NoError(t, err)
	require.Equal(t, 1, oplog.GetHistory("OPLOG1", "u1").RedoCount)

	view := oplog.Record(ctx, "OPLOG1", "u1", createCmd("c2", "u1", "o2"))
	assert.Equal(t, 0, view.RedoCount, "新命令应使重做栈失效")
}

func TestOpLogEviction(t *testing.T) {
	oplog := NewOpLogService(OpLogOptions{MaxSteps: 3})
	ctx := context.Background()

	for i, id := range []string{"c1", "c2", "c3", "c4"} {
		cmd := createCmd(id, "u1", "o1")
		cmd.Timestamp = time.Now().UTC().Add(time.Duration(i) * time.Second)
		oplog.Record(ctx, "OPLOG1", "u1", cmd)
	}

	view := oplog.GetHistory("OPLOG1", "u1")
	assert.Equal(t, 3, view.UndoCount, "超出步数上限应淘汰最旧命令")
	assert.Equal(t, "c4", view.UndoStack[0].CommandID, "栈顶应是最新命令")
	assert.Equal(t, "c2", view.UndoStack[2].CommandID, "最旧保留的应是 c2")
}

func TestOpLogStacksPerUser(t *testing.T) {
	_, scope := newSceneFixture(t, "OPLOG1")
	oplog := NewOpLogService(OpLogOptions{})
	ctx := context.Background()

	oplog.Record(ctx, "OPLOG1", "u1", createCmd("c1", "u1", "o1"))
	oplog.Record(ctx, "OPLOG1", "u2", createCmd("c2", "u2", "o2"))

	assert.Equal(t, 1, oplog.GetHistory("OPLOG1", "u1").UndoCount)
	assert.Equal(t, 1, oplog.GetHistory("OPLOG1", "u2").UndoCount)

	_, err := oplog.Undo(ctx, "OPLOG1", "u1", scope)
	require.NoError(t, err)
	assert.Equal(t, 0, oplog.GetHistory("OPLOG1", "u1").UndoCount)
	assert.Equal(t, 1, oplog.GetHistory("OPLOG1", "u2").UndoCount, "撤销只影响本人栈")
}

func TestOpLogMergeOnRecord(t *testing.T) {
	oplog := NewOpLogService(OpLogOptions{MergeWindow: 500 * time.Millisecond})
	ctx := context.Background()
	base := time.Now().UTC()

	p1, p2 := domain.Vec3{X: 1}, domain.Vec3{X: 2}
	mk := func(id string, ts time.Time, pos *domain.Vec3) *domain.Command {
		return &domain.Command{
			ID: id, Type: domain.CmdUpdateObject, RoomID: "OPLOG1", UserID: "u1", ObjectID: "o1",
			Timestamp:   ts,
			BeforePatch: &domain.ObjectPatch{},
			AfterPatch:  &domain.ObjectPatch{Position: pos},
			Meta:        domain.CommandMeta{MergeKey: "move:o1"},
		}
	}

	oplog.Record(ctx, "OPLOG1", "u1", mk("c1", base, &p1))
	view := oplog.Record(ctx, "OPLOG1", "u1", mk("c2", base.Add(100*time.Millisecond), &p2))
	assert.Equal(t, 1, view.UndoCount, "窗口内的连续移动应折叠为一步")
	assert.Equal(t, 1, view.UndoStack[0].Merged)

	view = oplog.Record(ctx, "OPLOG1", "u1", mk("c3", base.Add(2*time.Second), &p1))
	assert.Equal(t, 2, view.UndoCount, "超出窗口的更新应独立成步")
}

func TestOpLogConflictDetection(t *testing.T) {
	rooms, scope := newSceneFixture(t, "OPLOG1")
	oplog := NewOpLogService(OpLogOptions{})
	ctx := context.Background()

	cmd := createCmd("c1", "u1", "o1")
	require.NoError(t, cmd.Execute(scope))
	oplog.Record(ctx, "OPLOG1", "u1", cmd)

	// 他人在命令记录之后修改了同一对象
	time.Sleep(5 * time.Millisecond)
	color := "#ff0000"
	_, err := rooms.UpdateObject(ctx, "OPLOG1", "o1", domain.ObjectPatch{Color: &color}, "u2")
	require.NoError(t, err)

	res, err := oplog.Undo(ctx, "OPLOG1", "u1", scope)
	require.NoError(t, err, "冲突不应阻止撤销执行")
	require.NotNil(t, res.Conflict, "他人后续修改应产生冲突通告")
	assert.Equal(t, "o1", res.Conflict.ObjectID)
	assert.Equal(t, "u2", res.Conflict.LastModifiedBy)
	assert.Equal(t, domain.ConflictStrategyLWW, res.Conflict.Strategy)
	assert.Nil(t, rooms.GetObject(ctx, "OPLOG1", "o1"), "last-write-wins：撤销照常生效")
}

func TestOpLogNoConflictOnOwnEdit(t *testing.T) {
	rooms, scope := newSceneFixture(t, "OPLOG1")
	oplog := NewOpLogService(OpLogOptions{})
	ctx := context.Background()

	cmd := createCmd("c1", "u1", "o1")
	require.NoError(t, cmd.Execute(scope))
	oplog.Record(ctx, "OPLOG1", "u1", cmd)

	color := "#00ff00"
	_, err := rooms.UpdateObject(ctx, "OPLOG1", "o1", domain.ObjectPatch{Color: &color}, "u1")
	require.NoError(t, err)

	res, err := oplog.Undo(ctx, "OPLOG1", "u1", scope)
	require.NoError(t, err)
	assert.Nil(t, res.Conflict, "本人的后续修改不构成冲突")
}

func TestOpLogTimelineRingAndOrder(t *testing.T) {
	oplog := NewOpLogService(OpLogOptions{TimelineCap: 5})
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7"} {
		oplog.Record(ctx, "OPLOG1", "u1", createCmd(id, "u1", "o-"+id))
	}

	entries := oplog.GetRoomTimeline("OPLOG1", 0)
	require.Len(t, entries, 5, "时间线应被裁剪到上限")
	assert.Equal(t, "c7", entries[0].CommandID, "最新条目应在前")
	assert.Equal(t, "c3", entries[4].CommandID, "最旧保留的条目应是 c3")

	limited := oplog.GetRoomTimeline("OPLOG1", 2)
	require.Len(t, limited, 2)
	assert.Equal(t, "c7", limited[0].CommandID)

	assert.Nil(t, oplog.GetRoomTimeline("UNKNOWN", 10), "未知房间的时间线应为空")
}

func TestOpLogClearRoom(t *testing.T) {
	oplog := NewOpLogService(OpLogOptions{})
	ctx := context.Background()
	oplog.Record(ctx, "OPLOG1", "u1", createCmd("c1", "u1", "o1"))

	oplog.ClearRoom("OPLOG1")
	assert.Equal(t, 0, oplog.GetHistory("OPLOG1", "u1").UndoCount)
	assert.Empty(t, oplog.GetRoomTimeline("OPLOG1", 0))
}

func TestOpLogArchiverReceivesEntries(t *testing.T) {
	archiver := new(mocks.TimelineArchiver)
	archiver.On("Archive", mock.Anything, mock.AnythingOfType("domain.TimelineEntry")).Return(nil)

	_, scope := newSceneFixture(t, "OPLOG1")
	oplog := NewOpLogService(OpLogOptions{Archiver: archiver})
	ctx := context.Background()

	cmd := createCmd("c1", "u1", "o1")
	require.NoError(t, cmd.Execute(scope))
	oplog.Record(ctx, "OPLOG1", "u1", cmd)
	_, err := oplog.Undo(ctx, "OPLOG1", "u1", scope)
	require.NoError(t, err)

	archiver.AssertNumberOfCalls(t, "Archive", 2)
}
