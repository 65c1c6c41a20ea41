package service

import (
	"context"
	"fmt"

	"wisefido-tabs/internal/domain"
	"wisefido-tabs/internal/repository"

	"go.uber.org/zap"
)

// PresetService Preset目录服务
// 命名的不可变条目包 + 原子的"应用到用户"操作（建立在Entry Store的事务原语上）
type PresetService struct {
	presets   repository.PresetsRepository
	entries   repository.EntriesRepository
	icons     IconRegistry
	renderers RendererRegistry
	authz     AuthzDecider
	cache     *ResolveCache
	logger    *zap.Logger
}

// NewPresetService 创建Preset服务
func NewPresetService(presets repository.PresetsRepository, entries repository.EntriesRepository, icons IconRegistry, renderers RendererRegistry, authz AuthzDecider, cache *ResolveCache, logger *zap.Logger) *PresetService {
	return &PresetService{
		presets:   presets,
		entries:   entries,
		icons:     icons,
		renderers: renderers,
		authz:     authz,
		cache:     cache,
		logger:    logger,
	}
}

// ListPresets 查询全部preset
func (s *PresetService) ListPresets(ctx context.Context) ([]*domain.Preset, error) {
	return s.presets.ListPresets(ctx)
}

// ApplyPresetRequest 应用preset请求
type ApplyPresetRequest struct {
	Actor      string
	UserID     string
	PresetName string
}

// ApplyPreset 原子地把preset应用到用户的user层：
// 删除不在preset中的既有条目 + 按seeds逐条upsert（version重置为1）
// 全部验证在任何写入之前完成；任何失败都不产生可观测的部分替换
func (s *PresetService) ApplyPreset(ctx context.Context, req ApplyPresetRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	if req.PresetName == "" {
		return fmt.Errorf("%w: preset_name is required", domain.ErrValidation)
	}

	allowed, err := s.authz.CanMutate(ctx, req.Actor, domain.ScopeUser, req.UserID)
	if err != nil {
		return fmt.Errorf("authz decision failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w: actor=%s user=%s", domain.ErrPermissionDenied, req.Actor, req.UserID)
	}

	preset, err := s.presets.GetPreset(ctx, req.PresetName)
	if err != nil {
		return err
	}

	// 写前验证：icon白名单、key格式、settings形状、mandatory隐藏
	systemEntries, err := s.entries.ListEntries(ctx, domain.ScopeSystem, "")
	if err != nil {
		return fmt.Errorf("failed to load system entries: %w", err)
	}
	mandatory := map[string]bool{}
	for _, e := range systemEntries {
		if e.IsMandatory {
			mandatory[e.Key] = true
		}
	}

	seen := map[string]bool{}
	for _, seed := range preset.Entries {
		if !keyPattern.MatchString(seed.Key) {
			return fmt.Errorf("%w: preset %s: key %q must match [a-z0-9_-]{1,64}", domain.ErrValidation, preset.Name, seed.Key)
		}
		if seen[seed.Key] {
			return fmt.Errorf("%w: preset %s: duplicate key %q", domain.ErrValidation, preset.Name, seed.Key)
		}
		seen[seed.Key] = true
		if seed.Icon != "" && !s.icons.Contains(seed.Icon) {
			return fmt.Errorf("%w: preset %s: unknown icon %q", domain.ErrValidation, preset.Name, seed.Icon)
		}
		if err := validateContent(s.renderers, seed.ContentType, seed.Settings); err != nil {
			return fmt.Errorf("preset %s: %w", preset.Name, err)
		}
		if seed.IsVisible != nil && !*seed.IsVisible && mandatory[seed.Key] {
			return fmt.Errorf("%w: preset %s: %s is a mandatory tab and cannot be hidden", domain.ErrProtected, preset.Name, seed.Key)
		}
	}

	if err := s.entries.ReplaceUserEntries(ctx, req.UserID, preset.Entries, req.Actor); err != nil {
		return err
	}

	s.logger.Info("preset applied",
		zap.String("preset", preset.Name),
		zap.String("user_id", req.UserID))
	s.cache.InvalidateScope(ctx, domain.ScopeUser, req.UserID)
	return nil
}
