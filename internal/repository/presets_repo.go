package repository

import (
	"context"

	"wisefido-tabs/internal/domain"
)

// PresetsRepository Preset目录Repository接口
// preset按name唯一，发布后不可变；CreatePreset仅供初始化工具使用
type PresetsRepository interface {
	ListPresets(ctx context.Context) ([]*domain.Preset, error)
	GetPreset(ctx context.Context, name string) (*domain.Preset, error)
	CreatePreset(ctx context.Context, preset *domain.Preset) error
}
