package domain

import "encoding/json"

// EntrySeed preset中的条目种子：user层条目去掉身份字段后的形状
type EntrySeed struct {
	Key          string          `json:"key"`
	Label        string          `json:"label"`
	Icon         string          `json:"icon"`
	ContentType  string          `json:"content_type"`
	Settings     json.RawMessage `json:"settings,omitempty"`
	IsVisible    *bool           `json:"is_visible,omitempty"`
	DisplayOrder int64           `json:"display_order"`
}

// Preset 命名的不可变条目包（对应 tab_presets 表，按name唯一，发布后不再修改）
// 应用到用户时整体原子替换该用户的user层条目
type Preset struct {
	Name       string      `json:"name"`
	TargetRole string      `json:"target_role"`
	Entries    []EntrySeed `json:"entries"`
}

// HasKey preset是否包含指定key
func (p *Preset) HasKey(key string) bool {
	for _, e := range p.Entries {
		if e.Key == key {
			return true
		}
	}
	return false
}
