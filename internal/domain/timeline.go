package domain

import "time"

// 时间线条目的模式。
const (
	TimelineExecute = "execute"
	TimelineUndo    = "undo"
	TimelineRedo    = "redo"
)

// Conflict 是撤销/重做时检测到的并发冲突通告。
// 策略固定为 last-write-wins：操作照常执行，冲突只作提示。
type Conflict struct {
	ObjectID       string    `json:"objectId"`
	LastModifiedBy string    `json:"lastModifiedBy"`
	UpdatedAt      time.Time `json:"updatedAt"`
	Strategy       string    `json:"strategy"`
}

// ConflictStrategyLWW 是当前唯一的冲突处理策略。
const ConflictStrategyLWW = "last-write-wins"

// TimelineEntry 是房间级时间线上的一条记录：任何用户的 execute/undo/redo
// 都会追加一条，用于审计与可视化，独立于各用户自己的撤销栈。
type TimelineEntry struct {
	ID          string      `json:"id"`
	RoomID      string      `json:"roomId"`
	UserID      string      `json:"userId"`
	Mode        string      `json:"mode"`
	CommandID   string      `json:"commandId"`
	CommandType CommandType `json:"commandType"`
	ObjectID    string      `json:"objectId,omitempty"`
	Label       string      `json:"label"`
	Timestamp   time.Time   `json:"timestamp"`
	Conflict    *Conflict   `json:"conflict,omitempty"`
}

// TimelineRecord 是时间线条目的落库形态，由后台任务批量写入。
type TimelineRecord struct {
	ID           uint      `gorm:"primaryKey"`
	EntryID      string    `gorm:"size:64;uniqueIndex"`
	RoomID       string    `gorm:"size:16;index;not null"`
	UserID       string    `gorm:"size:64;index;not null"`
	Mode         string    `gorm:"size:16;not null"`
	CommandType  string    `gorm:"size:32;not null"`
	ObjectID     string    `gorm:"size:64"`
	Label        string    `gorm:"size:128"`
	Conflict     bool      `gorm:"not null"`
	ConflictWith string    `gorm:"size:64"`
	Timestamp    time.Time `gorm:"index;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// Record 将时间线条目转换为落库记录。
func (e TimelineEntry) Record() TimelineRecord {
	rec := TimelineRecord{
		EntryID:     e.ID,
		RoomID:      e.RoomID,
		UserID:      e.UserID,
		Mode:        e.Mode,
		CommandType: string(e.CommandType),
		ObjectID:    e.ObjectID,
		Label:       e.Label,
		Timestamp:   e.Timestamp,
	}
	if e.Conflict != nil {
		rec.Conflict = true
		rec.ConflictWith = e.Conflict.LastModifiedBy
	}
	return rec
}
