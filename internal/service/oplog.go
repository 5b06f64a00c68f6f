package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-scene/internal/domain"
	"collaborative-scene/internal/ident"
)

// 操作日志的默认参数。
const (
	DefaultMaxSteps    = 100
	DefaultMergeWindow = 500 * time.Millisecond
	DefaultTimelineCap = 300
)

// TimelineArchiver 把时间线条目交给后台归档（尽力而为，失败不影响内存态）。
type TimelineArchiver interface {
	Archive(ctx context.Context, entry domain.TimelineEntry) error
}

// OpLogService 管理每个 (房间, 用户) 的撤销/重做栈和房间级时间线。
// 栈和时间线都是有界的：撤销栈超出 maxSteps 淘汰最旧，时间线是环形缓冲。
type OpLogService struct {
	maxSteps    int
	mergeWindow time.Duration
	timelineCap int
	archiver    TimelineArchiver // 可为 nil

	mu    sync.Mutex
	rooms map[string]*roomLog
}

type roomLog struct {
	users    map[string]*userLog
	timeline []domain.TimelineEntry // 环形：超出上限丢最旧
}

type userLog struct {
	undo []*domain.Command // 栈顶在末尾
	redo []*domain.Command
}

// OpLogOptions 覆盖 OpLogService 的默认参数；零值字段取默认。
type OpLogOptions struct {
	MaxSteps    int
	MergeWindow time.Duration
	TimelineCap int
	Archiver    TimelineArchiver
}

// NewOpLogService 创建 OpLogService 实例。
func NewOpLogService(opts OpLogOptions) *OpLogService {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.MergeWindow <= 0 {
		opts.MergeWindow = DefaultMergeWindow
	}
	if opts.TimelineCap <= 0 {
		opts.TimelineCap = DefaultTimelineCap
	}
	return &OpLogService{
		maxSteps:    opts.MaxSteps,
		mergeWindow: opts.MergeWindow,
		timelineCap: opts.TimelineCap,
		archiver:    opts.Archiver,
		rooms:       make(map[string]*roomLog),
	}
}

// HistoryItem 是历史视图中的一条命令摘要。
type HistoryItem struct {
	CommandID string             `json:"commandId"`
	Type      domain.CommandType `json:"type"`
	ObjectID  string             `json:"objectId,omitempty"`
	Label     string             `json:"label"`
	Status    string             `json:"status"` // applied / undone
	Merged    int                `json:"merged,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// HistoryView 是面向展示的单用户历史视图，不暴露原始命令。
type HistoryView struct {
	MaxSteps  int           `json:"maxSteps"`
	UndoCount int           `json:"undoCount"`
	RedoCount int           `json:"redoCount"`
	UndoStack []HistoryItem `json:"undoStack"` // 新的在前
	RedoStack []HistoryItem `json:"redoStack"`
}

// Record 记录一条新命令：优先尝试与该用户撤销栈顶合并，否则入栈。
// 任何新命令（含合并）都会清空该用户的重做栈，并在时间线追加 execute 条目。
func (s *OpLogService) Record(ctx context.Context, roomID, userID string, cmd *domain.Command) HistoryView {
	s.mu.Lock()
	ul := s.userLog(roomID, userID)

	merged := false
	if len(ul.undo) > 0 {
		merged = ul.undo[len(ul.undo)-1].TryMerge(cmd, s.mergeWindow)
	}
	if !merged {
		ul.undo = append(ul.undo, cmd)
		if len(ul.undo) > s.maxSteps {
			ul.undo = ul.undo[len(ul.undo)-s.maxSteps:]
		}
	}
	ul.redo = ul.redo[:0]

	recorded := cmd
	if merged {
		recorded = ul.undo[len(ul.undo)-1]
	}
	entry := s.appendTimeline(roomID, userID, domain.TimelineExecute, recorded, nil)
	view := s.historyView(roomID, userID)
	s.mu.Unlock()

	s.archive(ctx, entry)
	return view
}

// UndoResult 是一次撤销/重做的结果。
type UndoResult struct {
	Command  *domain.Command
	Conflict *domain.Conflict
	History  HistoryView
}

// Undo 撤销该用户最近的命令。冲突只是通告：检测到也照常执行（last-write-wins）。
func (s *OpLogService) Undo(ctx context.Context, roomID, userID string, cctx domain.CommandContext) (UndoResult, error) {
	s.mu.Lock()
	ul := s.userLog(roomID, userID)
	if len(ul.undo) == 0 {
		s.mu.Unlock()
		return UndoResult{}, ErrEmptyUndo
	}
	cmd := ul.undo[len(ul.undo)-1]
	ul.undo = ul.undo[:len(ul.undo)-1]
	s.mu.Unlock()

	conflict := detectConflict(cmd, userID, cctx)
	if err := cmd.Undo(cctx); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "command_id": cmd.ID}).Error("Undo execution failed")
		// 命令自洽性被破坏属于内部错误；命令不回栈
		return UndoResult{}, ErrInternalServer
	}

	s.mu.Lock()
	ul = s.userLog(roomID, userID)
	ul.redo = append(ul.redo, cmd)
	entry := s.appendTimeline(roomID, userID, domain.TimelineUndo, cmd, conflict)
	view := s.historyView(roomID, userID)
	s.mu.Unlock()

	s.archive(ctx, entry)
	return UndoResult{Command: cmd, Conflict: conflict, History: view}, nil
}

// Redo 重做该用户最近撤销的命令，语义与 Undo 对称。
func (s *OpLogService) Redo(ctx context.Context, roomID, userID string, cctx domain.CommandContext) (UndoResult, error) {
	s.mu.Lock()
	ul := s.userLog(roomID, userID)
	if len(ul.redo) == 0 {
		s.mu.Unlock()
		return UndoResult{}, ErrEmptyRedo
	}
	cmd := ul.redo[len(ul.redo)-1]
	ul.redo = ul.redo[:len(ul.redo)-1]
	s.mu.Unlock()

	conflict := detectConflict(cmd, userID, cctx)
	if err := cmd.Execute(cctx); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "command_id": cmd.ID}).Error("Redo execution failed")
		return UndoResult{}, ErrInternalServer
	}

	s.mu.Lock()
	ul = s.userLog(roomID, userID)
	ul.undo = append(ul.undo, cmd)
	if len(ul.undo) > s.maxSteps {
		ul.undo = ul.undo[len(ul.undo)-s.maxSteps:]
	}
	entry := s.appendTimeline(roomID, userID, domain.TimelineRedo, cmd, conflict)
	view := s.historyView(roomID, userID)
	s.mu.Unlock()

	s.archive(ctx, entry)
	return UndoResult{Command: cmd, Conflict: conflict, History: view}, nil
}

// GetHistory 返回该用户的历史视图。
func (s *OpLogService) GetHistory(roomID, userID string) HistoryView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyView(roomID, userID)
}

// GetRoomTimeline 返回房间时间线最近的 limit 条，新的在前。
func (s *OpLogService) GetRoomTimeline(roomID string, limit int) []domain.TimelineEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	rl, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	if limit <= 0 || limit > len(rl.timeline) {
		limit = len(rl.timeline)
	}
	out := make([]domain.TimelineEntry, 0, limit)
	for i := len(rl.timeline) - 1; i >= len(rl.timeline)-limit; i-- {
		out = append(out, rl.timeline[i])
	}
	return out
}

// ClearRoom 丢弃房间的全部用户栈和时间线（房间销毁时级联调用）。
func (s *OpLogService) ClearRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// --- 内部辅助（调用方需持有 s.mu，除 detectConflict/archive 外） ---

func (s *OpLogService) userLog(roomID, userID string) *userLog {
	rl, ok := s.rooms[roomID]
	if !ok {
		rl = &roomLog{users: make(map[string]*userLog)}
		s.rooms[roomID] = rl
	}
	ul, ok := rl.users[userID]
	if !ok {
		ul = &userLog{}
		rl.users[userID] = ul
	}
	return ul
}

func (s *OpLogService) appendTimeline(roomID, userID, mode string, cmd *domain.Command, conflict *domain.Conflict) domain.TimelineEntry {
	rl := s.rooms[roomID]
	entry := domain.TimelineEntry{
		ID:          ident.NewID(),
		RoomID:      roomID,
		UserID:      userID,
		Mode:        mode,
		CommandID:   cmd.ID,
		CommandType: cmd.Type,
		ObjectID:    cmd.ObjectID,
		Label:       cmd.Label(),
		Timestamp:   time.Now().UTC(),
		Conflict:    conflict,
	}
	rl.timeline = append(rl.timeline, entry)
	if len(rl.timeline) > s.timelineCap {
		rl.timeline = rl.timeline[len(rl.timeline)-s.timelineCap:]
	}
	return entry
}

func (s *OpLogService) historyView(roomID, userID string) HistoryView {
	ul := s.userLog(roomID, userID)
	view := HistoryView{
		MaxSteps:  s.maxSteps,
		UndoCount: len(ul.undo),
		RedoCount: len(ul.redo),
		UndoStack: make([]HistoryItem, 0, len(ul.undo)),
		RedoStack: make([]HistoryItem, 0, len(ul.redo)),
	}
	for i := len(ul.undo) - 1; i >= 0; i-- {
		view.UndoStack = append(view.UndoStack, historyItem(ul.undo[i], "applied"))
	}
	for i := len(ul.redo) - 1; i >= 0; i-- {
		view.RedoStack = append(view.RedoStack, historyItem(ul.redo[i], "undone"))
	}
	return view
}

func historyItem(cmd *domain.Command, status string) HistoryItem {
	return HistoryItem{
		CommandID: cmd.ID,
		Type:      cmd.Type,
		ObjectID:  cmd.ObjectID,
		Label:     cmd.Label(),
		Status:    status,
		Merged:    cmd.Meta.Merged,
		Timestamp: cmd.Timestamp,
	}
}

// detectConflict 检查命令目标对象是否在命令记录之后被他人改过。
// 对象缺失或无他人后续修改都不算冲突。
func detectConflict(cmd *domain.Command, actingUser string, cctx domain.CommandContext) *domain.Conflict {
	if cmd.ObjectID == "" {
		return nil
	}
	obj := cctx.GetObject(cmd.ObjectID)
	if obj == nil {
		return nil
	}
	if obj.LastModifiedBy == "" || obj.LastModifiedBy == actingUser {
		return nil
	}
	if !obj.UpdatedAt.After(cmd.Timestamp) {
		return nil
	}
	return &domain.Conflict{
		ObjectID:       cmd.ObjectID,
		LastModifiedBy: obj.LastModifiedBy,
		UpdatedAt:      obj.UpdatedAt,
		Strategy:       domain.ConflictStrategyLWW,
	}
}

func (s *OpLogService) archive(ctx context.Context, entry domain.TimelineEntry) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.Archive(ctx, entry); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"room_id": entry.RoomID, "entry_id": entry.ID}).Warn("Timeline archive enqueue failed")
	}
}
