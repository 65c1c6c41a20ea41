package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wisefido-tabs/internal/domain"
	"wisefido-tabs/internal/store"

	"go.uber.org/zap"
)

// ResolveCache 解析结果的read-through缓存
// 键为 tabs:resolve:<organization>:<role>:<user>，任何触及相应scope的写入都会失效
// 缓存纯属加速：nil receiver安全，关闭缓存时所有方法退化为no-op
type ResolveCache struct {
	kv     store.KV
	ttl    time.Duration
	logger *zap.Logger
}

// NewResolveCache 创建缓存（ttl<=0时使用默认5分钟）
func NewResolveCache(kv store.KV, ttl time.Duration, logger *zap.Logger) *ResolveCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ResolveCache{kv: kv, ttl: ttl, logger: logger}
}

func resolveCacheKey(vc domain.ViewerContext) string {
	return fmt.Sprintf("tabs:resolve:%s:%s:%s", vc.OrganizationID, vc.RoleID, vc.UserID)
}

// Get 命中返回(tabs, true)；未命中或缓存异常返回(nil, false)
func (c *ResolveCache) Get(ctx context.Context, vc domain.ViewerContext) ([]domain.EffectiveTab, bool) {
	if c == nil || c.kv == nil {
		return nil, false
	}
	raw, err := c.kv.Get(ctx, resolveCacheKey(vc))
	if err != nil {
		if !errors.Is(err, store.ErrMiss) {
			c.logger.Warn("resolve cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var tabs []domain.EffectiveTab
	if err := json.Unmarshal([]byte(raw), &tabs); err != nil {
		c.logger.Warn("resolve cache decode failed", zap.Error(err))
		return nil, false
	}
	return tabs, true
}

// Put 写入缓存（失败只记日志）
func (c *ResolveCache) Put(ctx context.Context, vc domain.ViewerContext, tabs []domain.EffectiveTab) {
	if c == nil || c.kv == nil {
		return
	}
	raw, err := json.Marshal(tabs)
	if err != nil {
		return
	}
	if err := c.kv.Set(ctx, resolveCacheKey(vc), string(raw), c.ttl); err != nil {
		c.logger.Warn("resolve cache write failed", zap.Error(err))
	}
}

// InvalidateScope 按写入触及的scope失效相关缓存键
func (c *ResolveCache) InvalidateScope(ctx context.Context, scope domain.Scope, scopeID string) {
	if c == nil || c.kv == nil {
		return
	}

	var pattern string
	switch scope {
	case domain.ScopeSystem:
		pattern = "tabs:resolve:*"
	case domain.ScopeOrganization:
		pattern = fmt.Sprintf("tabs:resolve:%s:*", scopeID)
	case domain.ScopeRole:
		pattern = fmt.Sprintf("tabs:resolve:*:%s:*", scopeID)
	case domain.ScopeUser:
		pattern = fmt.Sprintf("tabs:resolve:*:*:%s", scopeID)
	default:
		return
	}

	keys, err := c.kv.ScanKeys(ctx, pattern)
	if err != nil {
		c.logger.Warn("resolve cache scan failed", zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.kv.Del(ctx, keys...); err != nil {
		c.logger.Warn("resolve cache invalidation failed", zap.Error(err))
	}
}
