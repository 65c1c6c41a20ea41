package service

import (
	"context"
	"fmt"
	"sort"

	"wisefido-tabs/internal/domain"
	"wisefido-tabs/internal/repository"

	"go.uber.org/zap"
)

// ResolverService Tab解析服务
// resolve(context) -> []EffectiveTab：对一次快照做纯函数合并，无副作用
// 合并算法是覆盖语义的唯一权威（四层补丁叠加，见tierAccumulator）
type ResolverService struct {
	entries repository.EntriesRepository
	cache   *ResolveCache
	logger  *zap.Logger
}

// NewResolverService 创建解析服务（cache可为nil，关闭缓存时正确性不变）
func NewResolverService(entries repository.EntriesRepository, cache *ResolveCache, logger *zap.Logger) *ResolverService {
	return &ResolverService{
		entries: entries,
		cache:   cache,
		logger:  logger,
	}
}

// Resolve 计算观察者上下文的最终tab列表
// 相同输入状态总是产出相同列表：排序按(display_order, key)全序，无迭代序依赖
func (s *ResolverService) Resolve(ctx context.Context, vc domain.ViewerContext) ([]domain.EffectiveTab, error) {
	if tabs, ok := s.cache.Get(ctx, vc); ok {
		return tabs, nil
	}

	entries, err := s.entries.SnapshotForContext(ctx, vc)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tab config snapshot: %w", err)
	}

	tabs := s.merge(entries)
	s.cache.Put(ctx, vc, tabs)
	return tabs, nil
}

// tierAccumulator 单个key按层级叠加的累加器
type tierAccumulator struct {
	label        string
	icon         string
	contentType  string
	settings     []byte
	visible      bool
	mandatory    bool
	displayOrder int64
}

// merge 分组、按层级叠加、丢弃隐藏、排序
// 损坏的存量数据（未知contentType、settings形状不符）按fail-open策略
// 跳过该key并记日志，不让单个损坏的自定义tab拖垮整个tab栏
func (s *ResolverService) merge(entries []*domain.TabConfigEntry) []domain.EffectiveTab {
	byKey := map[string][]*domain.TabConfigEntry{}
	for _, e := range entries {
		byKey[e.Key] = append(byKey[e.Key], e)
	}

	tabs := make([]domain.EffectiveTab, 0, len(byKey))
	for key, tiers := range byKey {
		sort.Slice(tiers, func(i, j int) bool {
			return tiers[i].Scope.Rank() < tiers[j].Scope.Rank()
		})

		acc := tierAccumulator{visible: true}
		corrupted := false
		for _, e := range tiers {
			if e.ContentType.Valid && e.ContentType.String != domain.ContentTypeBuiltin && e.ContentType.String != domain.ContentTypeMarkdown {
				s.logger.Warn("skipping tab key with unrecognized content_type",
					zap.String("key", key),
					zap.String("scope", string(e.Scope)),
					zap.String("content_type", e.ContentType.String))
				corrupted = true
				break
			}
			if e.Scope == domain.ScopeSystem {
				acc.mandatory = e.IsMandatory
			}
			if e.Label.Valid {
				acc.label = e.Label.String
			}
			if e.Icon.Valid {
				acc.icon = e.Icon.String
			}
			if e.ContentType.Valid {
				acc.contentType = e.ContentType.String
			}
			if e.Settings != nil {
				acc.settings = e.Settings
			}
			if e.DisplayOrder.Valid {
				acc.displayOrder = e.DisplayOrder.Int64
			}
			if e.IsVisible.Valid {
				if !e.IsVisible.Bool && acc.mandatory {
					// 写入时已被4.1拒绝；对导入/存量脏数据保持幂等防御
					s.logger.Debug("ignoring hide of mandatory tab",
						zap.String("key", key),
						zap.String("scope", string(e.Scope)))
					continue
				}
				acc.visible = e.IsVisible.Bool
			}
		}
		if corrupted {
			continue
		}
		if !checkResolvedContent(acc.contentType, acc.settings) {
			s.logger.Warn("skipping tab key with malformed settings",
				zap.String("key", key),
				zap.String("content_type", acc.contentType))
			continue
		}
		if !acc.visible {
			continue
		}

		tabs = append(tabs, domain.EffectiveTab{
			Key:          key,
			Label:        acc.label,
			Icon:         acc.icon,
			ContentType:  acc.contentType,
			Settings:     acc.settings,
			DisplayOrder: acc.displayOrder,
		})
	}

	sort.Slice(tabs, func(i, j int) bool {
		if tabs[i].DisplayOrder != tabs[j].DisplayOrder {
			return tabs[i].DisplayOrder < tabs[j].DisplayOrder
		}
		return tabs[i].Key < tabs[j].Key
	})
	return tabs
}

// checkResolvedContent 最终contentType与settings形状是否自洽
func checkResolvedContent(contentType string, settings []byte) bool {
	switch contentType {
	case "":
		return true
	case domain.ContentTypeMarkdown, domain.ContentTypeBuiltin:
		if len(settings) == 0 {
			return false
		}
		return validateContent(permissiveRenderers{}, contentType, settings) == nil
	default:
		return false
	}
}

// permissiveRenderers 解析路径不做renderer成员校验（写入时已验证；
// renderer下线属于渲染层问题，不应让已存条目解析失败）
type permissiveRenderers struct{}

func (permissiveRenderers) Contains(string) bool { return true }
