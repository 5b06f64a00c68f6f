package domain

import "time"

// HistoryCap 是单块白板保留的最大绘制动作数，超出时丢弃最旧的。
const HistoryCap = 500

// Whiteboard 表示场景中的一块白板。
// History 是已应用的绘制动作（最旧在前）；RedoStack 保存被撤销的动作。
type Whiteboard struct {
	ID          string       `json:"id"`
	Position    Vec3         `json:"position"`
	Rotation    Vec3         `json:"rotation"`
	Scale       Vec3         `json:"scale"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	WorldWidth  float64      `json:"worldWidth"`
	WorldHeight float64      `json:"worldHeight"`
	History     []DrawAction `json:"history"`
	RedoStack   []DrawAction `json:"redoStack"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	UpdatedBy   string       `json:"updatedBy,omitempty"`
}

// 绘制动作类型。
const (
	DrawStroke = "DRAW_STROKE"
	DrawText   = "DRAW_TEXT"
	DrawArrow  = "DRAW_ARROW"
	DrawClear  = "CLEAR"
)

// Point2 白板 UV 坐标（0..1 归一化）。
type Point2 struct {
	U float64 `json:"u"`
	V float64 `json:"v"`
}

// DrawAction 是白板上的一次绘制动作。
// 字段按 Type 取用：DRAW_STROKE 用 Tool/Points/Color/Width，
// DRAW_TEXT 用 Position/Text/FontSize，DRAW_ARROW 用 Start/End，CLEAR 无数据。
type DrawAction struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Tool      string    `json:"tool,omitempty"`
	Points    []Point2  `json:"points,omitempty"`
	Color     string    `json:"color,omitempty"`
	Width     float64   `json:"width,omitempty"`
	Position  *Point2   `json:"position,omitempty"`
	Text      string    `json:"text,omitempty"`
	FontSize  float64   `json:"fontSize,omitempty"`
	Start     *Point2   `json:"start,omitempty"`
	End       *Point2   `json:"end,omitempty"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// WhiteboardLock 是白板的短时编辑锁，TTL 到期后自动失效（惰性检查）。
type WhiteboardLock struct {
	WhiteboardID string    `json:"whiteboardId"`
	UserID       string    `json:"userId"`
	AcquiredAt   time.Time `json:"acquiredAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired 判断锁在给定时刻是否已过期。
func (l *WhiteboardLock) Expired(now time.Time) bool {
	return l == nil || !l.ExpiresAt.After(now)
}

// Clone 返回白板的深拷贝。
func (w *Whiteboard) Clone() *Whiteboard {
	if w == nil {
		return nil
	}
	cp := *w
	cp.History = cloneActions(w.History)
	cp.RedoStack = cloneActions(w.RedoStack)
	return &cp
}

func cloneActions(src []DrawAction) []DrawAction {
	out := make([]DrawAction, len(src))
	for i, a := range src {
		cp := a
		cp.Points = append([]Point2(nil), a.Points...)
		if a.Position != nil {
			v := *a.Position
			cp.Position = &v
		}
		if a.Start != nil {
			v := *a.Start
			cp.Start = &v
		}
		if a.End != nil {
			v := *a.End
			cp.End = &v
		}
		out[i] = cp
	}
	return out
}
