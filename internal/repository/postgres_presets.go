package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"wisefido-tabs/internal/domain"
)

// PostgresPresetsRepository Preset目录Repository实现
// preset条目包整体存JSONB（发布后不可变，无需逐条目寻址）
type PostgresPresetsRepository struct {
	db *sql.DB
}

// NewPostgresPresetsRepository 创建Preset Repository
func NewPostgresPresetsRepository(db *sql.DB) *PostgresPresetsRepository {
	return &PostgresPresetsRepository{db: db}
}

var _ PresetsRepository = (*PostgresPresetsRepository)(nil)

// ListPresets 查询全部preset（按name排序）
func (r *PostgresPresetsRepository) ListPresets(ctx context.Context) ([]*domain.Preset, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT preset_name, target_role, entries
		FROM tab_presets
		ORDER BY preset_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tab presets: %w", err)
	}
	defer rows.Close()

	presets := []*domain.Preset{}
	for rows.Next() {
		var preset domain.Preset
		var entries []byte
		if err := rows.Scan(&preset.Name, &preset.TargetRole, &entries); err != nil {
			return nil, fmt.Errorf("failed to scan tab preset: %w", err)
		}
		if err := json.Unmarshal(entries, &preset.Entries); err != nil {
			return nil, fmt.Errorf("failed to decode preset entries for %s: %w", preset.Name, err)
		}
		presets = append(presets, &preset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return presets, nil
}

// GetPreset 按name查询preset
func (r *PostgresPresetsRepository) GetPreset(ctx context.Context, name string) (*domain.Preset, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: preset name is required", domain.ErrValidation)
	}

	var preset domain.Preset
	var entries []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT preset_name, target_role, entries
		FROM tab_presets
		WHERE preset_name = $1
	`, name).Scan(&preset.Name, &preset.TargetRole, &entries)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", domain.ErrPresetNotFound, name)
		}
		return nil, fmt.Errorf("failed to query tab preset: %w", err)
	}
	if err := json.Unmarshal(entries, &preset.Entries); err != nil {
		return nil, fmt.Errorf("failed to decode preset entries for %s: %w", name, err)
	}
	return &preset, nil
}

// CreatePreset 发布preset（仅初始化工具使用；重名返回ErrDuplicateKey）
func (r *PostgresPresetsRepository) CreatePreset(ctx context.Context, preset *domain.Preset) error {
	if preset == nil || preset.Name == "" {
		return fmt.Errorf("%w: preset name is required", domain.ErrValidation)
	}

	entries, err := json.Marshal(preset.Entries)
	if err != nil {
		return fmt.Errorf("failed to encode preset entries: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO tab_presets (preset_name, target_role, entries)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (preset_name) DO NOTHING
	`, preset.Name, preset.TargetRole, string(entries))
	if err != nil {
		return fmt.Errorf("failed to create tab preset: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: preset %s already published", domain.ErrDuplicateKey, preset.Name)
	}
	return nil
}
