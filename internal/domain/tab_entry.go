package domain

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Scope 配置条目的特异性层级（四层覆盖模型）
// 解析顺序：system → organization → role → user（后者覆盖前者）
type Scope string

const (
	ScopeSystem       Scope = "system"
	ScopeOrganization Scope = "organization"
	ScopeRole         Scope = "role"
	ScopeUser         Scope = "user"
)

// Valid 校验scope取值
func (s Scope) Valid() bool {
	switch s {
	case ScopeSystem, ScopeOrganization, ScopeRole, ScopeUser:
		return true
	}
	return false
}

// Rank 层级优先级（数字越大越具体，覆盖低层）
func (s Scope) Rank() int {
	switch s {
	case ScopeSystem:
		return 0
	case ScopeOrganization:
		return 1
	case ScopeRole:
		return 2
	case ScopeUser:
		return 3
	}
	return -1
}

// ContentType 取值
const (
	ContentTypeBuiltin  = "builtin"
	ContentTypeMarkdown = "markdown"
)

// MarkdownMaxBytes markdown settings 载荷上限
const MarkdownMaxBytes = 65536

// TabConfigEntry Tab配置条目领域模型（对应 tab_config_entries 表）
// 非system层的条目是部分补丁（partial patch）：
// sql.Null* / nil 表示"该字段未在本层显式设置，从低层继承"
// system层的条目必须所有字段齐全（解析的种子层）
type TabConfigEntry struct {
	// 主键
	EntryID string `db:"entry_id"` // UUID, PRIMARY KEY

	// 层级定位：(scope, scope_id, tab_key) 唯一
	Scope   Scope          `db:"scope"`
	ScopeID sql.NullString `db:"scope_id"` // nullable: system层为NULL，其他层为organization/role/user的ID
	Key     string         `db:"tab_key"`  // NOT NULL: 稳定标识，[a-z0-9_-]{1,64}

	// 展示字段（均为可缺省补丁字段）
	Label        sql.NullString  `db:"label"`
	Icon         sql.NullString  `db:"icon"`         // 图标白名单成员
	ContentType  sql.NullString  `db:"content_type"` // 'builtin' | 'markdown'
	Settings     json.RawMessage `db:"settings"`     // JSONB: markdown -> {"markdown": "..."}；builtin -> {"rendererId": "..."}
	IsVisible    sql.NullBool    `db:"is_visible"`
	DisplayOrder sql.NullInt64   `db:"display_order"`

	// 仅system层有意义：强制显示，任何层不得隐藏
	IsMandatory bool `db:"is_mandatory"`

	// 乐观并发版本号，每次更新+1
	Version int `db:"version"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	CreatedBy string    `db:"created_by"`
}

// EntryPatch 条目更新补丁（nil = 不修改该字段）
type EntryPatch struct {
	Label        *string
	Icon         *string
	ContentType  *string
	Settings     json.RawMessage
	IsVisible    *bool
	DisplayOrder *int64
}

// Empty 补丁是否为空
func (p EntryPatch) Empty() bool {
	return p.Label == nil && p.Icon == nil && p.ContentType == nil &&
		p.Settings == nil && p.IsVisible == nil && p.DisplayOrder == nil
}

// KeyOrder reorder批量操作的 (key, displayOrder) 对
type KeyOrder struct {
	Key          string `json:"key"`
	DisplayOrder int64  `json:"display_order"`
}

// ViewerContext 观察者上下文（来自已认证会话，本核心不做校验直接信任）
type ViewerContext struct {
	OrganizationID string `json:"organization_id"`
	RoleID         string `json:"role_id"`
	UserID         string `json:"user_id"`
}

// EffectiveTab 某个key按层级合并后的最终投影（只读，永不持久化）
type EffectiveTab struct {
	Key          string          `json:"key"`
	Label        string          `json:"label"`
	Icon         string          `json:"icon"`
	ContentType  string          `json:"content_type"`
	Settings     json.RawMessage `json:"settings"`
	DisplayOrder int64           `json:"display_order"`
}

// MarkdownSettings markdown类型settings载荷
type MarkdownSettings struct {
	Markdown string `json:"markdown"`
}

// BuiltinSettings builtin类型settings载荷
type BuiltinSettings struct {
	RendererID string `json:"rendererId"`
}
