package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"wisefido-tabs/internal/domain"

	"github.com/lib/pq"
)

// PostgresEntriesRepository Tab配置条目Repository实现（强类型版本）
// 实现EntriesRepository接口，使用domain.TabConfigEntry领域模型
// 遵循"bottom-up"设计原则，Repository层负责数据访问和数据完整性验证
type PostgresEntriesRepository struct {
	db *sql.DB
}

// NewPostgresEntriesRepository 创建Tab配置Repository
func NewPostgresEntriesRepository(db *sql.DB) *PostgresEntriesRepository {
	return &PostgresEntriesRepository{db: db}
}

// 确保实现了接口
var _ EntriesRepository = (*PostgresEntriesRepository)(nil)

const entryColumns = `
	entry_id::text,
	scope,
	scope_id::text,
	tab_key,
	label,
	icon,
	content_type,
	settings,
	is_visible,
	is_mandatory,
	display_order,
	version,
	created_at,
	updated_at,
	created_by
`

// rowScanner 兼容 *sql.Row 和 *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntry 按entryColumns顺序扫描一行
func scanEntry(row rowScanner) (*domain.TabConfigEntry, error) {
	var entry domain.TabConfigEntry
	var settings sql.NullString
	if err := row.Scan(
		&entry.EntryID,
		&entry.Scope,
		&entry.ScopeID,
		&entry.Key,
		&entry.Label,
		&entry.Icon,
		&entry.ContentType,
		&settings,
		&entry.IsVisible,
		&entry.IsMandatory,
		&entry.DisplayOrder,
		&entry.Version,
		&entry.CreatedAt,
		&entry.UpdatedAt,
		&entry.CreatedBy,
	); err != nil {
		return nil, err
	}
	if settings.Valid {
		entry.Settings = []byte(settings.String)
	}
	return &entry, nil
}

// scopeIDValue system层scope_id存NULL，其他层存具体ID
func scopeIDValue(scope domain.Scope, scopeID string) any {
	if scope == domain.ScopeSystem || scopeID == "" {
		return nil
	}
	return scopeID
}

// GetEntry 查询单个条目
func (r *PostgresEntriesRepository) GetEntry(ctx context.Context, scope domain.Scope, scopeID, key string) (*domain.TabConfigEntry, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, scope)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: key is required", domain.ErrValidation)
	}

	query := `
		SELECT ` + entryColumns + `
		FROM tab_config_entries
		WHERE scope = $1 AND scope_id IS NOT DISTINCT FROM $2::uuid AND tab_key = $3
	`

	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, string(scope), scopeIDValue(scope, scopeID), key))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: scope=%s key=%s", domain.ErrNotFound, scope, key)
		}
		return nil, fmt.Errorf("failed to query tab config entry: %w", err)
	}
	return entry, nil
}

// ListEntries 查询某个(scope, scope_id)下的全部条目
func (r *PostgresEntriesRepository) ListEntries(ctx context.Context, scope domain.Scope, scopeID string) ([]*domain.TabConfigEntry, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, scope)
	}

	query := `
		SELECT ` + entryColumns + `
		FROM tab_config_entries
		WHERE scope = $1 AND scope_id IS NOT DISTINCT FROM $2::uuid
		ORDER BY display_order ASC NULLS LAST, tab_key ASC
	`

	rows, err := r.db.QueryContext(ctx, query, string(scope), scopeIDValue(scope, scopeID))
	if err != nil {
		return nil, fmt.Errorf("failed to list tab config entries: %w", err)
	}
	defer rows.Close()

	entries := []*domain.TabConfigEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tab config entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return entries, nil
}

// SnapshotForContext 单事务（REPEATABLE READ, read only）取出四层条目
// 保证并发的preset应用/批量reorder不会被读到半应用状态
func (r *PostgresEntriesRepository) SnapshotForContext(ctx context.Context, vc domain.ViewerContext) ([]*domain.TabConfigEntry, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT ` + entryColumns + `
		FROM tab_config_entries
		WHERE scope = 'system'
		   OR (scope = 'organization' AND scope_id = $1::uuid)
		   OR (scope = 'role' AND scope_id = $2::uuid)
		   OR (scope = 'user' AND scope_id = $3::uuid)
	`

	rows, err := tx.QueryContext(ctx, query, nullIfEmpty(vc.OrganizationID), nullIfEmpty(vc.RoleID), nullIfEmpty(vc.UserID))
	if err != nil {
		return nil, fmt.Errorf("failed to query context snapshot: %w", err)
	}
	defer rows.Close()

	entries := []*domain.TabConfigEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tab config entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot transaction: %w", err)
	}
	return entries, nil
}

// nullIfEmpty 空字符串转NULL（避免uuid cast失败）
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateEntry 创建条目，返回存储后的完整条目
// 验证（Repository层）：
//   - scope/key必填
//   - (scope, scope_id, tab_key)唯一性检查
func (r *PostgresEntriesRepository) CreateEntry(ctx context.Context, entry *domain.TabConfigEntry) (*domain.TabConfigEntry, error) {
	if entry == nil {
		return nil, fmt.Errorf("%w: entry is required", domain.ErrValidation)
	}
	if !entry.Scope.Valid() {
		return nil, fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, entry.Scope)
	}
	if entry.Key == "" {
		return nil, fmt.Errorf("%w: key is required", domain.ErrValidation)
	}

	scopeID := scopeIDValue(entry.Scope, entry.ScopeID.String)

	// 检查(scope, scope_id, tab_key)唯一性（友好报错带existing entry_id；
	// 并发竞争由下方INSERT的唯一索引兜底）
	var existingID string
	checkQuery := `
		SELECT entry_id::text
		FROM tab_config_entries
		WHERE scope = $1 AND scope_id IS NOT DISTINCT FROM $2::uuid AND tab_key = $3
		LIMIT 1
	`
	err := r.db.QueryRowContext(ctx, checkQuery, string(entry.Scope), scopeID, entry.Key).Scan(&existingID)
	if err == nil {
		return nil, fmt.Errorf("%w: scope=%s key=%s (entry_id=%s)", domain.ErrDuplicateKey, entry.Scope, entry.Key, existingID)
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check entry uniqueness: %w", err)
	}

	insertQuery := `
		INSERT INTO tab_config_entries (
			scope, scope_id, tab_key, label, icon, content_type, settings,
			is_visible, is_mandatory, display_order, version, created_by
		) VALUES ($1, $2::uuid, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, 1, $11)
		RETURNING ` + entryColumns

	var settings any
	if len(entry.Settings) > 0 {
		settings = string(entry.Settings)
	}

	created, err := scanEntry(r.db.QueryRowContext(ctx, insertQuery,
		string(entry.Scope),
		scopeID,
		entry.Key,
		entry.Label,
		entry.Icon,
		entry.ContentType,
		settings,
		entry.IsVisible,
		entry.IsMandatory,
		entry.DisplayOrder,
		entry.CreatedBy,
	))
	if err != nil {
		// 并发创建同一(scope, scope_id, tab_key)：两边都通过了上面的SELECT，
		// 输掉的一方在唯一索引上撞23505
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: scope=%s key=%s", domain.ErrDuplicateKey, entry.Scope, entry.Key)
		}
		return nil, fmt.Errorf("failed to create tab config entry: %w", err)
	}
	return created, nil
}

// isUniqueViolation Postgres唯一约束冲突（SQLSTATE 23505）
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// UpdateEntry 更新条目（部分更新 + 乐观并发）
// 验证（Repository层）：
//   - 版本戳：stored version != expectedVersion 返回ErrVersionConflict
//   - system层不允许修改display_order（ErrProtected）
//   - 隐藏is_mandatory解析为true的key返回ErrProtected（防御性，Service层同样拦截）
func (r *PostgresEntriesRepository) UpdateEntry(ctx context.Context, scope domain.Scope, scopeID, key string, patch domain.EntryPatch, expectedVersion int) (*domain.TabConfigEntry, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, scope)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: key is required", domain.ErrValidation)
	}
	if scope == domain.ScopeSystem && patch.DisplayOrder != nil {
		return nil, fmt.Errorf("%w: display_order of a system entry is immutable", domain.ErrProtected)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	scopeIDVal := scopeIDValue(scope, scopeID)

	// 1. 锁定现有条目并检查版本
	var storedVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT version
		FROM tab_config_entries
		WHERE scope = $1 AND scope_id IS NOT DISTINCT FROM $2::uuid AND tab_key = $3
		FOR UPDATE
	`, string(scope), scopeIDVal, key).Scan(&storedVersion)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: scope=%s key=%s", domain.ErrNotFound, scope, key)
		}
		return nil, fmt.Errorf("failed to lock tab config entry: %w", err)
	}
	if storedVersion != expectedVersion {
		return nil, fmt.Errorf("%w: stored=%d expected=%d", domain.ErrVersionConflict, storedVersion, expectedVersion)
	}

	// 2. 隐藏检查：该key的system条目is_mandatory=true时不允许设置is_visible=false
	if patch.IsVisible != nil && !*patch.IsVisible {
		var mandatory bool
		err = tx.QueryRowContext(ctx, `
			SELECT is_mandatory
			FROM tab_config_entries
			WHERE scope = 'system' AND tab_key = $1
		`, key).Scan(&mandatory)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to check mandatory flag: %w", err)
		}
		if err == nil && mandatory {
			return nil, fmt.Errorf("%w: %s is a mandatory tab and cannot be hidden", domain.ErrProtected, key)
		}
	}

	// 3. 构建UPDATE语句（部分更新）
	set := []string{}
	args := []any{string(scope), scopeIDVal, key}
	argN := 4

	if patch.Label != nil {
		set = append(set, fmt.Sprintf("label = $%d", argN))
		args = append(args, *patch.Label)
		argN++
	}
	if patch.Icon != nil {
		set = append(set, fmt.Sprintf("icon = $%d", argN))
		args = append(args, *patch.Icon)
		argN++
	}
	if patch.ContentType != nil {
		set = append(set, fmt.Sprintf("content_type = $%d", argN))
		args = append(args, *patch.ContentType)
		argN++
	}
	if patch.Settings != nil {
		set = append(set, fmt.Sprintf("settings = $%d::jsonb", argN))
		args = append(args, string(patch.Settings))
		argN++
	}
	if patch.IsVisible != nil {
		set = append(set, fmt.Sprintf("is_visible = $%d", argN))
		args = append(args, *patch.IsVisible)
		argN++
	}
	if patch.DisplayOrder != nil {
		set = append(set, fmt.Sprintf("display_order = $%d", argN))
		args = append(args, *patch.DisplayOrder)
		argN++
	}

	set = append(set, "version = version + 1", "updated_at = now()")

	updateQuery := `
		UPDATE tab_config_entries
		SET ` + strings.Join(set, ", ") + `
		WHERE scope = $1 AND scope_id IS NOT DISTINCT FROM $2::uuid AND tab_key = $3
	`
	if _, err := tx.ExecContext(ctx, updateQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to update tab config entry: %w", err)
	}

	// 4. 返回更新后的条目
	entry, err := scanEntry(tx.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM tab_config_entries
		WHERE scope = $1 AND scope_id IS NOT DISTINCT FROM $2::uuid AND tab_key = $3
	`, string(scope), scopeIDVal, key))
	if err != nil {
		return nil, fmt.Errorf("failed to reload tab config entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return entry, nil
}

// DeleteEntry 删除条目（system层受保护）
func (r *PostgresEntriesRepository) DeleteEntry(ctx context.Context, scope domain.Scope, scopeID, key string) error {
	if !scope.Valid() {
		return fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, scope)
	}
	if scope == domain.ScopeSystem {
		return fmt.Errorf("%w: system entries cannot be deleted", domain.ErrProtected)
	}
	if key == "" {
		return fmt.Errorf("%w: key is required", domain.ErrValidation)
	}

	result, err := r.db.ExecContext(ctx, `
		DELETE FROM tab_config_entries
		WHERE scope = $1 AND scope_id IS NOT DISTINCT FROM $2::uuid AND tab_key = $3
	`, string(scope), scopeIDValue(scope, scopeID), key)
	if err != nil {
		return fmt.Errorf("failed to delete tab config entry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: scope=%s key=%s", domain.ErrNotFound, scope, key)
	}
	return nil
}

// ReorderEntries 批量重排display_order（单事务，全有或全无）
func (r *PostgresEntriesRepository) ReorderEntries(ctx context.Context, scope domain.Scope, scopeID string, pairs []domain.KeyOrder) error {
	if !scope.Valid() {
		return fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, scope)
	}
	if scope == domain.ScopeSystem {
		return fmt.Errorf("%w: system entries cannot be reordered", domain.ErrProtected)
	}
	if len(pairs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	scopeIDVal := scopeIDValue(scope, scopeID)
	for _, pair := range pairs {
		result, err := tx.ExecContext(ctx, `
			UPDATE tab_config_entries
			SET display_order = $4, version = version + 1, updated_at = now()
			WHERE scope = $1 AND scope_id IS NOT DISTINCT FROM $2::uuid AND tab_key = $3
		`, string(scope), scopeIDVal, pair.Key, pair.DisplayOrder)
		if err != nil {
			return fmt.Errorf("failed to reorder tab config entry: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("%w: scope=%s key=%s", domain.ErrNotFound, scope, pair.Key)
		}
	}

	return tx.Commit()
}

// ReplaceUserEntries preset应用的事务原语：
// 单事务内删除不在seeds中的user层条目，并按seeds逐条upsert（version重置为1）
func (r *PostgresEntriesRepository) ReplaceUserEntries(ctx context.Context, userID string, seeds []domain.EntrySeed, createdBy string) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	keys := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		keys = append(keys, seed.Key)
	}

	// 1. 删除该用户不在preset中的条目
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM tab_config_entries
		WHERE scope = 'user' AND scope_id = $1::uuid AND NOT (tab_key = ANY($2))
	`, userID, pq.Array(keys)); err != nil {
		return fmt.Errorf("failed to clear user tab config entries: %w", err)
	}

	// 2. 逐条upsert，version重置为1
	upsertQuery := `
		INSERT INTO tab_config_entries (
			scope, scope_id, tab_key, label, icon, content_type, settings,
			is_visible, is_mandatory, display_order, version, created_by
		) VALUES ('user', $1::uuid, $2, $3, $4, $5, $6::jsonb, $7, FALSE, $8, 1, $9)
		ON CONFLICT (scope, COALESCE(scope_id::text, ''), tab_key)
		DO UPDATE SET
			label = EXCLUDED.label,
			icon = EXCLUDED.icon,
			content_type = EXCLUDED.content_type,
			settings = EXCLUDED.settings,
			is_visible = EXCLUDED.is_visible,
			display_order = EXCLUDED.display_order,
			version = 1,
			updated_at = now()
	`
	for _, seed := range seeds {
		entry := seedToEntry(userID, seed, createdBy, time.Now())
		var settings any
		if len(entry.Settings) > 0 {
			settings = string(entry.Settings)
		}
		if _, err := tx.ExecContext(ctx, upsertQuery,
			userID,
			entry.Key,
			entry.Label,
			entry.Icon,
			entry.ContentType,
			settings,
			entry.IsVisible,
			entry.DisplayOrder,
			createdBy,
		); err != nil {
			return fmt.Errorf("failed to upsert preset entry %s: %w", seed.Key, err)
		}
	}

	return tx.Commit()
}

// seedToEntry EntrySeed转user层条目（preset种子字段空字符串视为未设置）
func seedToEntry(userID string, seed domain.EntrySeed, createdBy string, now time.Time) *domain.TabConfigEntry {
	entry := &domain.TabConfigEntry{
		Scope:        domain.ScopeUser,
		ScopeID:      sql.NullString{String: userID, Valid: true},
		Key:          seed.Key,
		Settings:     seed.Settings,
		DisplayOrder: sql.NullInt64{Int64: seed.DisplayOrder, Valid: true},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
		CreatedBy:    createdBy,
	}
	if seed.Label != "" {
		entry.Label = sql.NullString{String: seed.Label, Valid: true}
	}
	if seed.Icon != "" {
		entry.Icon = sql.NullString{String: seed.Icon, Valid: true}
	}
	if seed.ContentType != "" {
		entry.ContentType = sql.NullString{String: seed.ContentType, Valid: true}
	}
	if seed.IsVisible != nil {
		entry.IsVisible = sql.NullBool{Bool: *seed.IsVisible, Valid: true}
	}
	return entry
}
