package seed

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"wisefido-tabs/internal/domain"
	"wisefido-tabs/internal/repository"
)

// system层条目在初始化时一次性播种，此后key与display_order不可变
// 运行时调用方无法创建system层条目（Service层拦截），只有本工具直接走Repository

func builtinSettings(rendererID string) json.RawMessage {
	raw, _ := json.Marshal(domain.BuiltinSettings{RendererID: rendererID})
	return raw
}

func str(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }
func boolVal(b bool) sql.NullBool { return sql.NullBool{Bool: b, Valid: true} }
func order(n int64) sql.NullInt64 { return sql.NullInt64{Int64: n, Valid: true} }

// DefaultSystemEntries owlFront resident面板的缺省system tab集
// system条目必须所有字段齐全（解析种子层不允许缺省字段）
func DefaultSystemEntries() []*domain.TabConfigEntry {
	entries := []*domain.TabConfigEntry{
		{
			Key: "overview", Label: str("Overview"), Icon: str("overview"),
			ContentType: str(domain.ContentTypeBuiltin), Settings: builtinSettings("resident-overview"),
			IsVisible: boolVal(true), IsMandatory: true, DisplayOrder: order(0),
		},
		{
			Key: "vitals", Label: str("Vitals"), Icon: str("heart"),
			ContentType: str(domain.ContentTypeBuiltin), Settings: builtinSettings("vital-trends"),
			IsVisible: boolVal(true), DisplayOrder: order(10),
		},
		{
			Key: "labs", Label: str("Labs"), Icon: str("flask"),
			ContentType: str(domain.ContentTypeBuiltin), Settings: builtinSettings("lab-results"),
			IsVisible: boolVal(true), DisplayOrder: order(20),
		},
		{
			Key: "medications", Label: str("Medications"), Icon: str("pill"),
			ContentType: str(domain.ContentTypeBuiltin), Settings: builtinSettings("medication-list"),
			IsVisible: boolVal(true), DisplayOrder: order(30),
		},
		{
			Key: "billing", Label: str("Billing"), Icon: str("billing"),
			ContentType: str(domain.ContentTypeBuiltin), Settings: builtinSettings("billing-summary"),
			IsVisible: boolVal(true), DisplayOrder: order(40),
		},
	}
	for _, e := range entries {
		e.Scope = domain.ScopeSystem
		e.CreatedBy = "system-init"
	}
	return entries
}

// DefaultPresets 初始preset目录
func DefaultPresets() []*domain.Preset {
	visible := true
	return []*domain.Preset{
		{
			Name:       "Doctor's View",
			TargetRole: "Doctor",
			Entries: []domain.EntrySeed{
				{Key: "labs", DisplayOrder: 5, IsVisible: &visible},
				{Key: "vitals", DisplayOrder: 8},
				{Key: "medications", DisplayOrder: 12},
			},
		},
		{
			Name:       "Nurse's View",
			TargetRole: "Caregiver",
			Entries: []domain.EntrySeed{
				{Key: "vitals", DisplayOrder: 5},
				{Key: "medications", DisplayOrder: 8},
			},
		},
	}
}

// Apply 幂等播种：已存在的条目/preset跳过
func Apply(ctx context.Context, entries repository.EntriesRepository, presets repository.PresetsRepository) error {
	for _, e := range DefaultSystemEntries() {
		if _, err := entries.CreateEntry(ctx, e); err != nil {
			if errors.Is(err, domain.ErrDuplicateKey) {
				continue
			}
			return fmt.Errorf("failed to seed system entry %s: %w", e.Key, err)
		}
	}
	for _, p := range DefaultPresets() {
		if err := presets.CreatePreset(ctx, p); err != nil {
			if errors.Is(err, domain.ErrDuplicateKey) {
				continue
			}
			return fmt.Errorf("failed to seed preset %s: %w", p.Name, err)
		}
	}
	return nil
}
