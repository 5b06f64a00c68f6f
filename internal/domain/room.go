package domain

import "time"

// Room 表示一个协作场景房间，是进程内的权威状态。
// Users 以 userId 为键；持久化时会转换为列表（见 service 层的序列化）。
type Room struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	IsPublic     bool            `json:"isPublic"`
	PasswordHash string          `json:"-"` // bcrypt 哈希，空串表示无密码
	Users        map[string]User `json:"-"`
	Objects      []SceneObject   `json:"objects"`
	Whiteboards  []Whiteboard    `json:"whiteboards"`
	MaxUsers     int             `json:"maxUsers"`
	Persistent   bool            `json:"persistent"`
	OwnerID      string          `json:"ownerId,omitempty"`
	Created      time.Time       `json:"created"`
}

// User 表示房间内的一条成员记录。
// UserID 在一次会话内跨重连保持稳定；SocketID 每次重连都会被替换。
type User struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	SocketID string    `json:"socketId"`
	Position Vec3      `json:"position"`
	Rotation Vec3      `json:"rotation"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Vec3 三维向量，用于位置/旋转/缩放。
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// 派生角色，不落盘：userId == OwnerID 即为 host。
const (
	RoleHost   = "host"
	RoleMember = "member"
)

// RoleOf 返回用户在该房间内的派生角色。
func (r *Room) RoleOf(userID string) string {
	if userID != "" && userID == r.OwnerID {
		return RoleHost
	}
	return RoleMember
}

// RoomSummary 是对外的房间摘要：不含密码哈希和完整成员列表。
type RoomSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	IsPublic    bool      `json:"isPublic"`
	HasPassword bool      `json:"hasPassword"`
	UserCount   int       `json:"userCount"`
	MaxUsers    int       `json:"maxUsers"`
	Created     time.Time `json:"created"`
	OwnerID     string    `json:"ownerId,omitempty"`
}

// Summary 生成房间摘要。
func (r *Room) Summary() RoomSummary {
	return RoomSummary{
		ID:          r.ID,
		Name:        r.Name,
		IsPublic:    r.IsPublic,
		HasPassword: r.PasswordHash != "",
		UserCount:   len(r.Users),
		MaxUsers:    r.MaxUsers,
		Created:     r.Created,
		OwnerID:     r.OwnerID,
	}
}

// UserList 返回成员列表的副本（顺序不保证）。
func (r *Room) UserList() []User {
	users := make([]User, 0, len(r.Users))
	for _, u := range r.Users {
		users = append(users, u)
	}
	return users
}

// Clone 返回房间的深拷贝，调用方持有的副本不会影响权威状态。
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Users = make(map[string]User, len(r.Users))
	for id, u := range r.Users {
		cp.Users[id] = u
	}
	cp.Objects = make([]SceneObject, len(r.Objects))
	for i := range r.Objects {
		cp.Objects[i] = *r.Objects[i].Clone()
	}
	cp.Whiteboards = make([]Whiteboard, len(r.Whiteboards))
	for i := range r.Whiteboards {
		cp.Whiteboards[i] = *r.Whiteboards[i].Clone()
	}
	return &cp
}
