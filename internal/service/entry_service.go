package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"wisefido-tabs/internal/domain"
	"wisefido-tabs/internal/repository"

	"go.uber.org/zap"
)

// IconRegistry 图标注册表（外部协作方：固定枚举的合法icon集合）
type IconRegistry interface {
	Contains(icon string) bool
}

// RendererRegistry 内容渲染器注册表（外部协作方：本核心只验证成员资格，不渲染）
type RendererRegistry interface {
	Contains(rendererID string) bool
}

// AuthzDecider 授权决策提供方（外部协作方）
// 本核心信任其yes/no决策，不自行计算权限
type AuthzDecider interface {
	CanMutate(ctx context.Context, actor string, scope domain.Scope, scopeID string) (bool, error)
}

// StaticRegistry 基于固定集合的注册表实现（icon白名单和renderer目录都用它）
type StaticRegistry map[string]struct{}

func NewStaticRegistry(members ...string) StaticRegistry {
	reg := make(StaticRegistry, len(members))
	for _, m := range members {
		reg[m] = struct{}{}
	}
	return reg
}

func (r StaticRegistry) Contains(member string) bool {
	_, ok := r[member]
	return ok
}

// DefaultIcons owlFront tab栏图标白名单
var DefaultIcons = []string{
	"overview", "heart", "flask", "pill", "chart", "calendar",
	"document", "bed", "alert", "notes", "billing", "star",
}

// DefaultRenderers 内置tab渲染器目录（与owlFront的renderer注册对齐）
var DefaultRenderers = []string{
	"resident-overview", "vital-trends", "lab-results",
	"medication-list", "care-calendar", "billing-summary",
}

// AllowAllAuthz 开发/降级模式下的授权决策：全部放行
// 生产环境由网关侧的授权服务替换
type AllowAllAuthz struct{}

func (AllowAllAuthz) CanMutate(context.Context, string, domain.Scope, string) (bool, error) {
	return true, nil
}

// keyPattern tab key格式：[a-z0-9_-]{1,64}
var keyPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// EntryService Tab配置变更服务（Mutation Service）
// Entry Store之上的薄校验门面：跨字段业务规则（icon白名单、key格式、
// contentType/settings一致性、mandatory隐藏拦截、外部授权决策）
type EntryService struct {
	entries   repository.EntriesRepository
	icons     IconRegistry
	renderers RendererRegistry
	authz     AuthzDecider
	cache     *ResolveCache
	logger    *zap.Logger
}

// NewEntryService 创建变更服务（cache可为nil，正确性不依赖缓存）
func NewEntryService(entries repository.EntriesRepository, icons IconRegistry, renderers RendererRegistry, authz AuthzDecider, cache *ResolveCache, logger *zap.Logger) *EntryService {
	return &EntryService{
		entries:   entries,
		icons:     icons,
		renderers: renderers,
		authz:     authz,
		cache:     cache,
		logger:    logger,
	}
}

// CreateEntryRequest 创建条目请求
type CreateEntryRequest struct {
	Actor        string
	Scope        domain.Scope
	ScopeID      string
	Key          string
	Label        string
	Icon         string
	ContentType  string
	Settings     json.RawMessage
	IsVisible    *bool
	DisplayOrder *int64
}

// CreateEntry 创建条目
// system层的创建只允许初始化工具，运行时调用一律拒绝
func (s *EntryService) CreateEntry(ctx context.Context, req CreateEntryRequest) (*domain.TabConfigEntry, error) {
	if !req.Scope.Valid() {
		return nil, fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, req.Scope)
	}
	if req.Scope == domain.ScopeSystem {
		return nil, fmt.Errorf("%w: system entries are seeded at initialization only", domain.ErrProtected)
	}
	if req.ScopeID == "" {
		return nil, fmt.Errorf("%w: scope_id is required for scope %s", domain.ErrValidation, req.Scope)
	}
	if err := s.checkAuthz(ctx, req.Actor, req.Scope, req.ScopeID); err != nil {
		return nil, err
	}
	if !keyPattern.MatchString(req.Key) {
		return nil, fmt.Errorf("%w: key must match [a-z0-9_-]{1,64}", domain.ErrValidation)
	}
	if req.Icon != "" && !s.icons.Contains(req.Icon) {
		return nil, fmt.Errorf("%w: unknown icon %q", domain.ErrValidation, req.Icon)
	}
	if err := validateContent(s.renderers, req.ContentType, req.Settings); err != nil {
		return nil, err
	}

	// mandatory隐藏拦截：任何层对mandatory key设置is_visible=false都拒绝
	if req.IsVisible != nil && !*req.IsVisible {
		if err := s.checkMandatory(ctx, req.Key); err != nil {
			return nil, err
		}
	}

	entry := &domain.TabConfigEntry{
		Scope:     req.Scope,
		ScopeID:   sql.NullString{String: req.ScopeID, Valid: true},
		Key:       req.Key,
		Settings:  req.Settings,
		CreatedBy: req.Actor,
	}
	if req.Label != "" {
		entry.Label = sql.NullString{String: req.Label, Valid: true}
	}
	if req.Icon != "" {
		entry.Icon = sql.NullString{String: req.Icon, Valid: true}
	}
	if req.ContentType != "" {
		entry.ContentType = sql.NullString{String: req.ContentType, Valid: true}
	}
	if req.IsVisible != nil {
		entry.IsVisible = sql.NullBool{Bool: *req.IsVisible, Valid: true}
	}
	if req.DisplayOrder != nil {
		entry.DisplayOrder = sql.NullInt64{Int64: *req.DisplayOrder, Valid: true}
	}

	created, err := s.entries.CreateEntry(ctx, entry)
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateScope(ctx, req.Scope, req.ScopeID)
	return created, nil
}

// UpdateEntryRequest 更新条目请求（乐观并发）
type UpdateEntryRequest struct {
	Actor           string
	Scope           domain.Scope
	ScopeID         string
	Key             string
	Patch           domain.EntryPatch
	ExpectedVersion int
}

// UpdateEntry 更新条目
func (s *EntryService) UpdateEntry(ctx context.Context, req UpdateEntryRequest) (*domain.TabConfigEntry, error) {
	if !req.Scope.Valid() {
		return nil, fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, req.Scope)
	}
	if err := s.checkAuthz(ctx, req.Actor, req.Scope, req.ScopeID); err != nil {
		return nil, err
	}
	if req.Patch.Empty() {
		return nil, fmt.Errorf("%w: empty patch", domain.ErrValidation)
	}
	if req.Patch.Icon != nil && *req.Patch.Icon != "" && !s.icons.Contains(*req.Patch.Icon) {
		return nil, fmt.Errorf("%w: unknown icon %q", domain.ErrValidation, *req.Patch.Icon)
	}

	// contentType/settings一致性要看补丁后的组合，先读现有条目
	if req.Patch.ContentType != nil || req.Patch.Settings != nil {
		current, err := s.entries.GetEntry(ctx, req.Scope, req.ScopeID, req.Key)
		if err != nil {
			return nil, err
		}
		contentType := current.ContentType.String
		if req.Patch.ContentType != nil {
			contentType = *req.Patch.ContentType
		}
		settings := current.Settings
		if req.Patch.Settings != nil {
			settings = req.Patch.Settings
		}
		if err := validateContent(s.renderers, contentType, settings); err != nil {
			return nil, err
		}
	}

	entry, err := s.entries.UpdateEntry(ctx, req.Scope, req.ScopeID, req.Key, req.Patch, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateScope(ctx, req.Scope, req.ScopeID)
	return entry, nil
}

// DeleteEntryRequest 删除条目请求
type DeleteEntryRequest struct {
	Actor   string
	Scope   domain.Scope
	ScopeID string
	Key     string
}

// DeleteEntry 删除条目（system层由Repository层拒绝）
func (s *EntryService) DeleteEntry(ctx context.Context, req DeleteEntryRequest) error {
	if !req.Scope.Valid() {
		return fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, req.Scope)
	}
	if err := s.checkAuthz(ctx, req.Actor, req.Scope, req.ScopeID); err != nil {
		return err
	}
	if err := s.entries.DeleteEntry(ctx, req.Scope, req.ScopeID, req.Key); err != nil {
		return err
	}
	s.cache.InvalidateScope(ctx, req.Scope, req.ScopeID)
	return nil
}

// ReorderRequest 批量重排请求（对应前端拖拽落位后的一次提交）
type ReorderRequest struct {
	Actor   string
	Scope   domain.Scope
	ScopeID string
	Pairs   []domain.KeyOrder
}

// Reorder 批量重排display_order（原子：全有或全无）
func (s *EntryService) Reorder(ctx context.Context, req ReorderRequest) error {
	if !req.Scope.Valid() {
		return fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, req.Scope)
	}
	if req.Scope == domain.ScopeSystem {
		return fmt.Errorf("%w: system entries cannot be reordered", domain.ErrProtected)
	}
	if err := s.checkAuthz(ctx, req.Actor, req.Scope, req.ScopeID); err != nil {
		return err
	}
	if err := s.entries.ReorderEntries(ctx, req.Scope, req.ScopeID, req.Pairs); err != nil {
		return err
	}
	s.cache.InvalidateScope(ctx, req.Scope, req.ScopeID)
	return nil
}

// ListEntries 查询某个(scope, scope_id)下的全部条目（管理页面用）
func (s *EntryService) ListEntries(ctx context.Context, scope domain.Scope, scopeID string) ([]*domain.TabConfigEntry, error) {
	return s.entries.ListEntries(ctx, scope, scopeID)
}

// checkAuthz 外部授权决策（拒绝返回ErrPermissionDenied）
func (s *EntryService) checkAuthz(ctx context.Context, actor string, scope domain.Scope, scopeID string) error {
	allowed, err := s.authz.CanMutate(ctx, actor, scope, scopeID)
	if err != nil {
		return fmt.Errorf("authz decision failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w: actor=%s scope=%s", domain.ErrPermissionDenied, actor, scope)
	}
	return nil
}

// checkMandatory 该key的system条目is_mandatory=true时返回ErrProtected
func (s *EntryService) checkMandatory(ctx context.Context, key string) error {
	sys, err := s.entries.GetEntry(ctx, domain.ScopeSystem, "", key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if sys.IsMandatory {
		return fmt.Errorf("%w: %s is a mandatory tab and cannot be hidden", domain.ErrProtected, key)
	}
	return nil
}

// validateContent contentType与settings形状一致性验证
// markdown -> {"markdown": string}（长度受限）；builtin -> {"rendererId": string}（需在注册表中）
func validateContent(renderers RendererRegistry, contentType string, settings json.RawMessage) error {
	switch contentType {
	case "":
		if len(settings) > 0 {
			return fmt.Errorf("%w: settings require a content_type", domain.ErrValidation)
		}
		return nil
	case domain.ContentTypeMarkdown:
		if len(settings) == 0 {
			return fmt.Errorf("%w: markdown settings are required", domain.ErrValidation)
		}
		var md domain.MarkdownSettings
		if err := json.Unmarshal(settings, &md); err != nil {
			return fmt.Errorf("%w: malformed markdown settings: %v", domain.ErrValidation, err)
		}
		if len(md.Markdown) > domain.MarkdownMaxBytes {
			return fmt.Errorf("%w: markdown exceeds %d bytes", domain.ErrValidation, domain.MarkdownMaxBytes)
		}
		return nil
	case domain.ContentTypeBuiltin:
		if len(settings) == 0 {
			return fmt.Errorf("%w: builtin settings are required", domain.ErrValidation)
		}
		var b domain.BuiltinSettings
		if err := json.Unmarshal(settings, &b); err != nil {
			return fmt.Errorf("%w: malformed builtin settings: %v", domain.ErrValidation, err)
		}
		if b.RendererID == "" {
			return fmt.Errorf("%w: builtin settings require rendererId", domain.ErrValidation)
		}
		if !renderers.Contains(b.RendererID) {
			return fmt.Errorf("%w: unknown renderer %q", domain.ErrValidation, b.RendererID)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown content_type %q", domain.ErrValidation, contentType)
	}
}
