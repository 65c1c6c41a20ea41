package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-tabs/internal/domain"

	"github.com/google/uuid"
)

// MemoryEntriesRepository 内存版Tab配置Repository
// DB未就绪时支持联测（与其他wisefido服务一致的降级策略），单元测试也直接使用
// NOTE: 锁粒度为整个map；读取返回深拷贝，调用方修改不会污染存储
type MemoryEntriesRepository struct {
	mu      sync.RWMutex
	entries map[string]*domain.TabConfigEntry // composite key -> entry
}

// NewMemoryEntriesRepository 创建内存Repository
func NewMemoryEntriesRepository() *MemoryEntriesRepository {
	return &MemoryEntriesRepository{
		entries: map[string]*domain.TabConfigEntry{},
	}
}

var _ EntriesRepository = (*MemoryEntriesRepository)(nil)

// compositeKey (scope, scope_id, tab_key) 的map键
func compositeKey(scope domain.Scope, scopeID, key string) string {
	if scope == domain.ScopeSystem {
		scopeID = ""
	}
	return string(scope) + "\x00" + scopeID + "\x00" + key
}

// cloneEntry 深拷贝（Settings为切片，需要单独复制）
func cloneEntry(e *domain.TabConfigEntry) *domain.TabConfigEntry {
	c := *e
	if e.Settings != nil {
		c.Settings = append([]byte(nil), e.Settings...)
	}
	return &c
}

func (r *MemoryEntriesRepository) GetEntry(_ context.Context, scope domain.Scope, scopeID, key string) (*domain.TabConfigEntry, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, scope)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: key is required", domain.ErrValidation)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[compositeKey(scope, scopeID, key)]
	if !ok {
		return nil, fmt.Errorf("%w: scope=%s key=%s", domain.ErrNotFound, scope, key)
	}
	return cloneEntry(e), nil
}

func (r *MemoryEntriesRepository) ListEntries(_ context.Context, scope domain.Scope, scopeID string) ([]*domain.TabConfigEntry, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, scope)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := []*domain.TabConfigEntry{}
	for _, e := range r.entries {
		if e.Scope != scope {
			continue
		}
		if scope != domain.ScopeSystem && e.ScopeID.String != scopeID {
			continue
		}
		entries = append(entries, cloneEntry(e))
	}
	return entries, nil
}

// SnapshotForContext 单次RLock内取出四层条目（与Postgres版的事务快照语义等价）
func (r *MemoryEntriesRepository) SnapshotForContext(_ context.Context, vc domain.ViewerContext) ([]*domain.TabConfigEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := []*domain.TabConfigEntry{}
	for _, e := range r.entries {
		switch e.Scope {
		case domain.ScopeSystem:
			entries = append(entries, cloneEntry(e))
		case domain.ScopeOrganization:
			if e.ScopeID.Valid && e.ScopeID.String == vc.OrganizationID {
				entries = append(entries, cloneEntry(e))
			}
		case domain.ScopeRole:
			if e.ScopeID.Valid && e.ScopeID.String == vc.RoleID {
				entries = append(entries, cloneEntry(e))
			}
		case domain.ScopeUser:
			if e.ScopeID.Valid && e.ScopeID.String == vc.UserID {
				entries = append(entries, cloneEntry(e))
			}
		}
	}
	return entries, nil
}

func (r *MemoryEntriesRepository) CreateEntry(_ context.Context, entry *domain.TabConfigEntry) (*domain.TabConfigEntry, error) {
	if entry == nil {
		return nil, fmt.Errorf("%w: entry is required", domain.ErrValidation)
	}
	if !entry.Scope.Valid() {
		return nil, fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, entry.Scope)
	}
	if entry.Key == "" {
		return nil, fmt.Errorf("%w: key is required", domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ck := compositeKey(entry.Scope, entry.ScopeID.String, entry.Key)
	if existing, ok := r.entries[ck]; ok {
		return nil, fmt.Errorf("%w: scope=%s key=%s (entry_id=%s)", domain.ErrDuplicateKey, entry.Scope, entry.Key, existing.EntryID)
	}

	stored := cloneEntry(entry)
	stored.EntryID = uuid.NewString()
	stored.Version = 1
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.entries[ck] = stored
	return cloneEntry(stored), nil
}

func (r *MemoryEntriesRepository) UpdateEntry(_ context.Context, scope domain.Scope, scopeID, key string, patch domain.EntryPatch, expectedVersion int) (*domain.TabConfigEntry, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, scope)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: key is required", domain.ErrValidation)
	}
	if scope == domain.ScopeSystem && patch.DisplayOrder != nil {
		return nil, fmt.Errorf("%w: display_order of a system entry is immutable", domain.ErrProtected)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[compositeKey(scope, scopeID, key)]
	if !ok {
		return nil, fmt.Errorf("%w: scope=%s key=%s", domain.ErrNotFound, scope, key)
	}
	if e.Version != expectedVersion {
		return nil, fmt.Errorf("%w: stored=%d expected=%d", domain.ErrVersionConflict, e.Version, expectedVersion)
	}

	if patch.IsVisible != nil && !*patch.IsVisible {
		if sys, ok := r.entries[compositeKey(domain.ScopeSystem, "", key)]; ok && sys.IsMandatory {
			return nil, fmt.Errorf("%w: %s is a mandatory tab and cannot be hidden", domain.ErrProtected, key)
		}
	}

	updated := cloneEntry(e)
	if patch.Label != nil {
		updated.Label.String, updated.Label.Valid = *patch.Label, true
	}
	if patch.Icon != nil {
		updated.Icon.String, updated.Icon.Valid = *patch.Icon, true
	}
	if patch.ContentType != nil {
		updated.ContentType.String, updated.ContentType.Valid = *patch.ContentType, true
	}
	if patch.Settings != nil {
		updated.Settings = append([]byte(nil), patch.Settings...)
	}
	if patch.IsVisible != nil {
		updated.IsVisible.Bool, updated.IsVisible.Valid = *patch.IsVisible, true
	}
	if patch.DisplayOrder != nil {
		updated.DisplayOrder.Int64, updated.DisplayOrder.Valid = *patch.DisplayOrder, true
	}
	updated.Version = e.Version + 1
	updated.UpdatedAt = time.Now()

	r.entries[compositeKey(scope, scopeID, key)] = updated
	return cloneEntry(updated), nil
}

func (r *MemoryEntriesRepository) DeleteEntry(_ context.Context, scope domain.Scope, scopeID, key string) error {
	if !scope.Valid() {
		return fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, scope)
	}
	if scope == domain.ScopeSystem {
		return fmt.Errorf("%w: system entries cannot be deleted", domain.ErrProtected)
	}
	if key == "" {
		return fmt.Errorf("%w: key is required", domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ck := compositeKey(scope, scopeID, key)
	if _, ok := r.entries[ck]; !ok {
		return fmt.Errorf("%w: scope=%s key=%s", domain.ErrNotFound, scope, key)
	}
	delete(r.entries, ck)
	return nil
}

// ReorderEntries 先校验全部key存在，再一次性应用（全有或全无）
func (r *MemoryEntriesRepository) ReorderEntries(_ context.Context, scope domain.Scope, scopeID string, pairs []domain.KeyOrder) error {
	if !scope.Valid() {
		return fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, scope)
	}
	if scope == domain.ScopeSystem {
		return fmt.Errorf("%w: system entries cannot be reordered", domain.ErrProtected)
	}
	if len(pairs) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pair := range pairs {
		if _, ok := r.entries[compositeKey(scope, scopeID, pair.Key)]; !ok {
			return fmt.Errorf("%w: scope=%s key=%s", domain.ErrNotFound, scope, pair.Key)
		}
	}

	now := time.Now()
	for _, pair := range pairs {
		ck := compositeKey(scope, scopeID, pair.Key)
		updated := cloneEntry(r.entries[ck])
		updated.DisplayOrder.Int64, updated.DisplayOrder.Valid = pair.DisplayOrder, true
		updated.Version++
		updated.UpdatedAt = now
		r.entries[ck] = updated
	}
	return nil
}

// ReplaceUserEntries 构建完整的新user层状态后一次性换入（全有或全无）
func (r *MemoryEntriesRepository) ReplaceUserEntries(_ context.Context, userID string, seeds []domain.EntrySeed, createdBy string) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	for _, seed := range seeds {
		if seed.Key == "" {
			return fmt.Errorf("%w: seed key is required", domain.ErrValidation)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	keep := map[string]bool{}
	replacement := map[string]*domain.TabConfigEntry{}
	for _, seed := range seeds {
		keep[seed.Key] = true
		entry := seedToEntry(userID, seed, createdBy, now)
		entry.EntryID = uuid.NewString()
		// upsert语义：保留既有entry_id/created_at
		if existing, ok := r.entries[compositeKey(domain.ScopeUser, userID, seed.Key)]; ok {
			entry.EntryID = existing.EntryID
			entry.CreatedAt = existing.CreatedAt
			entry.CreatedBy = existing.CreatedBy
		}
		replacement[compositeKey(domain.ScopeUser, userID, seed.Key)] = entry
	}

	for ck, e := range r.entries {
		if e.Scope == domain.ScopeUser && e.ScopeID.String == userID && !keep[e.Key] {
			delete(r.entries, ck)
		}
	}
	for ck, e := range replacement {
		r.entries[ck] = e
	}
	return nil
}
