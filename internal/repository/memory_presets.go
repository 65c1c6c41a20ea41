package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"wisefido-tabs/internal/domain"
)

// MemoryPresetsRepository 内存版Preset目录（DB未就绪降级 + 单元测试）
type MemoryPresetsRepository struct {
	mu      sync.RWMutex
	presets map[string]*domain.Preset
}

func NewMemoryPresetsRepository() *MemoryPresetsRepository {
	return &MemoryPresetsRepository{
		presets: map[string]*domain.Preset{},
	}
}

var _ PresetsRepository = (*MemoryPresetsRepository)(nil)

func clonePreset(p *domain.Preset) *domain.Preset {
	c := &domain.Preset{Name: p.Name, TargetRole: p.TargetRole}
	c.Entries = make([]domain.EntrySeed, len(p.Entries))
	copy(c.Entries, p.Entries)
	for i, e := range p.Entries {
		if e.Settings != nil {
			c.Entries[i].Settings = append([]byte(nil), e.Settings...)
		}
		if e.IsVisible != nil {
			v := *e.IsVisible
			c.Entries[i].IsVisible = &v
		}
	}
	return c
}

func (r *MemoryPresetsRepository) ListPresets(_ context.Context) ([]*domain.Preset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	presets := make([]*domain.Preset, 0, len(r.presets))
	for _, p := range r.presets {
		presets = append(presets, clonePreset(p))
	}
	sort.Slice(presets, func(i, j int) bool {
		return presets[i].Name < presets[j].Name
	})
	return presets, nil
}

func (r *MemoryPresetsRepository) GetPreset(_ context.Context, name string) (*domain.Preset, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: preset name is required", domain.ErrValidation)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPresetNotFound, name)
	}
	return clonePreset(p), nil
}

func (r *MemoryPresetsRepository) CreatePreset(_ context.Context, preset *domain.Preset) error {
	if preset == nil || preset.Name == "" {
		return fmt.Errorf("%w: preset name is required", domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.presets[preset.Name]; ok {
		return fmt.Errorf("%w: preset %s already published", domain.ErrDuplicateKey, preset.Name)
	}
	r.presets[preset.Name] = clonePreset(preset)
	return nil
}
