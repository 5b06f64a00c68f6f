package domain

import (
	"fmt"
	"time"
)

// CommandType 标识一条可撤销命令的种类。
type CommandType string

const (
	CmdCreateObject CommandType = "CREATE_OBJECT"
	CmdDeleteObject CommandType = "DELETE_OBJECT"
	CmdUpdateObject CommandType = "UPDATE_OBJECT"
	CmdClearObjects CommandType = "CLEAR_OBJECTS"
)

// CommandMeta 携带命令的附加信息。MergeKey 非空时允许相邻同类命令合并。
type CommandMeta struct {
	MergeKey string `json:"mergeKey,omitempty"`
	Merged   int    `json:"merged,omitempty"`
}

// Command 是操作日志的基本单元：一次已接受的用户编辑，自带正反两个方向的执行逻辑。
// 按 Type 取用快照字段：
//   - CREATE_OBJECT: After 为创建后的完整对象
//   - DELETE_OBJECT: Before 为删除前的完整对象
//   - UPDATE_OBJECT: BeforePatch/AfterPatch 为变更字段的前后值
//   - CLEAR_OBJECTS: BeforeAll 为清空前的全部对象
type Command struct {
	ID          string       `json:"id"`
	Type        CommandType  `json:"type"`
	RoomID      string       `json:"roomId"`
	UserID      string       `json:"userId"`
	ObjectID    string       `json:"objectId,omitempty"` // CLEAR_OBJECTS 时为空
	Timestamp   time.Time    `json:"timestamp"`
	Before      *SceneObject `json:"before,omitempty"`
	After       *SceneObject `json:"after,omitempty"`
	BeforePatch *ObjectPatch `json:"beforePatch,omitempty"`
	AfterPatch  *ObjectPatch `json:"afterPatch,omitempty"`
	BeforeAll   []SceneObject `json:"beforeAll,omitempty"`
	Meta        CommandMeta  `json:"meta"`
}

// CommandContext 是命令执行所依赖的抽象存储视图，由实体存储按房间提供。
// 变更方法对缺失对象一律按 no-op 处理，命令层不因此报错。
type CommandContext interface {
	GetObject(id string) *SceneObject
	UpsertObject(obj SceneObject) *SceneObject
	UpdateObject(id string, patch ObjectPatch) *SceneObject
	RemoveObject(id string) *SceneObject
	ClearObjects() []SceneObject
	RestoreObjects(objs []SceneObject)
}

// Execute 正向执行命令。
func (c *Command) Execute(ctx CommandContext) error {
	switch c.Type {
	case CmdCreateObject:
		if c.After == nil {
			return fmt.Errorf("command %s: create without after snapshot", c.ID)
		}
		ctx.UpsertObject(*c.After)
	case CmdDeleteObject:
		ctx.RemoveObject(c.ObjectID)
	case CmdUpdateObject:
		if c.AfterPatch == nil {
			return fmt.Errorf("command %s: update without after patch", c.ID)
		}
		ctx.UpdateObject(c.ObjectID, *c.AfterPatch)
	case CmdClearObjects:
		ctx.ClearObjects()
	default:
		return fmt.Errorf("command %s: unknown type %q", c.ID, c.Type)
	}
	return nil
}

// Undo 反向执行命令，恢复 Before 侧状态。
func (c *Command) Undo(ctx CommandContext) error {
	switch c.Type {
	case CmdCreateObject:
		ctx.RemoveObject(c.ObjectID)
	case CmdDeleteObject:
		if c.Before == nil {
			return fmt.Errorf("command %s: delete without before snapshot", c.ID)
		}
		ctx.UpsertObject(*c.Before)
	case CmdUpdateObject:
		if c.BeforePatch == nil {
			return fmt.Errorf("command %s: update without before patch", c.ID)
		}
		ctx.UpdateObject(c.ObjectID, *c.BeforePatch)
	case CmdClearObjects:
		ctx.RestoreObjects(c.BeforeAll)
	default:
		return fmt.Errorf("command %s: unknown type %q", c.ID, c.Type)
	}
	return nil
}

// TryMerge 尝试把紧随其后的 next 合并进 c（拖拽等连续编辑折叠为一步撤销）。
// 仅当两条都是 UPDATE_OBJECT、同一用户、同一对象、MergeKey 非空且相同、
// 且 next 落在合并时间窗内时才合并。合并后 c 的 AfterPatch 取 next 的，
// 时间戳前移到 next，Merged 计数加一。
func (c *Command) TryMerge(next *Command, window time.Duration) bool {
	if c.Type != CmdUpdateObject || next.Type != CmdUpdateObject {
		return false
	}
	if c.UserID != next.UserID || c.ObjectID != next.ObjectID {
		return false
	}
	if c.Meta.MergeKey == "" || c.Meta.MergeKey != next.Meta.MergeKey {
		return false
	}
	if next.Timestamp.Sub(c.Timestamp) > window {
		return false
	}
	c.AfterPatch = next.AfterPatch
	c.Timestamp = next.Timestamp
	c.Meta.Merged++
	return true
}

// Label 返回命令的展示名，用于历史视图。
func (c *Command) Label() string {
	switch c.Type {
	case CmdCreateObject:
		if c.After != nil && c.After.Type != "" {
			return "Create " + c.After.Type
		}
		return "Create object"
	case CmdDeleteObject:
		if c.Before != nil && c.Before.Type != "" {
			return "Delete " + c.Before.Type
		}
		return "Delete object"
	case CmdUpdateObject:
		return "Update object"
	case CmdClearObjects:
		return "Clear objects"
	}
	return string(c.Type)
}
