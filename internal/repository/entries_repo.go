package repository

import (
	"context"

	"wisefido-tabs/internal/domain"
)

// EntriesRepository Tab配置条目Repository接口
// 使用强类型领域模型，不使用map[string]any
// Repository层负责数据访问和数据完整性约束（唯一性、版本戳、system层锁定字段），
// 跨字段业务规则（icon白名单、settings形状、授权）在Service层验证
type EntriesRepository interface {
	// 查询
	GetEntry(ctx context.Context, scope domain.Scope, scopeID, key string) (*domain.TabConfigEntry, error)
	ListEntries(ctx context.Context, scope domain.Scope, scopeID string) ([]*domain.TabConfigEntry, error)

	// SnapshotForContext 一次性取出解析所需的四层条目：
	// system全部 + organization/role/user各自scope_id匹配的条目
	// 必须是单个一致性快照（事务内读取），并发的preset应用或批量reorder不可被读到半应用状态
	SnapshotForContext(ctx context.Context, vc domain.ViewerContext) ([]*domain.TabConfigEntry, error)

	// 创建（(scope, scope_id, key)冲突返回ErrDuplicateKey），返回存储后的完整条目
	// system层的创建只允许初始化工具调用，运行时调用方由Service层拦截
	CreateEntry(ctx context.Context, entry *domain.TabConfigEntry) (*domain.TabConfigEntry, error)

	// 更新（乐观并发：expectedVersion不匹配返回ErrVersionConflict；
	// system层改display_order返回ErrProtected；隐藏mandatory key返回ErrProtected）
	// 成功后version+1、updated_at刷新，返回更新后的条目
	UpdateEntry(ctx context.Context, scope domain.Scope, scopeID, key string, patch domain.EntryPatch, expectedVersion int) (*domain.TabConfigEntry, error)

	// 删除（system层返回ErrProtected）
	DeleteEntry(ctx context.Context, scope domain.Scope, scopeID, key string) error

	// ReorderEntries 批量改display_order，单事务全有或全无；
	// system层或任一key不存在则整批失败
	ReorderEntries(ctx context.Context, scope domain.Scope, scopeID string, pairs []domain.KeyOrder) error

	// ReplaceUserEntries preset应用的事务原语：单事务内
	// (a) 删除该用户不在seeds中的user层条目 (b) 按seeds逐条upsert，version重置为1
	ReplaceUserEntries(ctx context.Context, userID string, seeds []domain.EntrySeed, createdBy string) error
}
