package domain

import "time"

// SceneObject 表示场景中的一个可编辑对象。
// Version / UpdatedAt / LastModifiedBy 由服务端在每次权威变更时维护，
// 客户端提交的值一律忽略。
type SceneObject struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Position       Vec3      `json:"position"`
	Rotation       Vec3      `json:"rotation"`
	Scale          Vec3      `json:"scale"`
	Color          string    `json:"color"`
	Material       Material  `json:"material"`
	CreatedAt      time.Time `json:"createdAt"`
	CreatedBy      string    `json:"createdBy"`
	Version        uint64    `json:"_version"`
	UpdatedAt      time.Time `json:"_updatedAt"`
	LastModifiedBy string    `json:"_lastModifiedBy,omitempty"`
}

// Material 描述对象的材质。
type Material struct {
	Type      string  `json:"type"`
	Metalness float64 `json:"metalness,omitempty"`
	Roughness float64 `json:"roughness,omitempty"`
	Opacity   float64 `json:"opacity,omitempty"`
}

// DefaultMaterialType 是未指定材质时的默认类型。
const DefaultMaterialType = "standard"

// Clone 返回对象的副本。
func (o *SceneObject) Clone() *SceneObject {
	if o == nil {
		return nil
	}
	cp := *o
	return &cp
}

// ObjectPatch 是对象的部分更新：只有非 nil 字段会被应用。
// 显式字段集合，未知字段在解码阶段即被拒绝。
type ObjectPatch struct {
	Position *Vec3     `json:"position,omitempty"`
	Rotation *Vec3     `json:"rotation,omitempty"`
	Scale    *Vec3     `json:"scale,omitempty"`
	Color    *string   `json:"color,omitempty"`
	Material *Material `json:"material,omitempty"`
}

// IsEmpty 判断补丁是否没有任何字段。
func (p ObjectPatch) IsEmpty() bool {
	return p.Position == nil && p.Rotation == nil && p.Scale == nil &&
		p.Color == nil && p.Material == nil
}

// Apply 将补丁逐字段覆盖到对象上（浅合并：嵌套结构整体替换）。
func (p ObjectPatch) Apply(o *SceneObject) {
	if p.Position != nil {
		o.Position = *p.Position
	}
	if p.Rotation != nil {
		o.Rotation = *p.Rotation
	}
	if p.Scale != nil {
		o.Scale = *p.Scale
	}
	if p.Color != nil {
		o.Color = *p.Color
	}
	if p.Material != nil {
		o.Material = *p.Material
	}
}

// ExtractFrom 以 p 中已设置的字段为模板，从 o 取出当前值构成逆向补丁。
// 用于在应用更新前记录可回滚的前置状态。
func (p ObjectPatch) ExtractFrom(o *SceneObject) ObjectPatch {
	var before ObjectPatch
	if p.Position != nil {
		v := o.Position
		before.Position = &v
	}
	if p.Rotation != nil {
		v := o.Rotation
		before.Rotation = &v
	}
	if p.Scale != nil {
		v := o.Scale
		before.Scale = &v
	}
	if p.Color != nil {
		v := o.Color
		before.Color = &v
	}
	if p.Material != nil {
		v := o.Material
		before.Material = &v
	}
	return before
}
