package service

import (
	"context"
	"database/sql"
	"testing"

	"wisefido-tabs/internal/domain"
	"wisefido-tabs/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nullStr(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }
func nullInt(n int64) sql.NullInt64   { return sql.NullInt64{Int64: n, Valid: true} }

func newPresetFixture(t *testing.T) (*repository.MemoryEntriesRepository, *repository.MemoryPresetsRepository, *PresetService, *ResolverService) {
	t.Helper()
	entries := repository.NewMemoryEntriesRepository()
	presets := repository.NewMemoryPresetsRepository()
	svc := NewPresetService(presets, entries,
		NewStaticRegistry(DefaultIcons...),
		NewStaticRegistry(DefaultRenderers...),
		AllowAllAuthz{}, nil, zap.NewNop())
	resolver := NewResolverService(entries, nil, zap.NewNop())
	return entries, presets, svc, resolver
}

func TestApplyPreset_ReplacesUserTier(t *testing.T) {
	ctx := context.Background()
	entries, presets, svc, resolver := newPresetFixture(t)

	_, err := entries.CreateEntry(ctx, sysTab("overview", 0, true, "resident-overview"))
	require.NoError(t, err)
	_, err = entries.CreateEntry(ctx, sysTab("vitals", 10, false, "vital-trends"))
	require.NoError(t, err)
	_, err = entries.CreateEntry(ctx, sysTab("labs", 20, false, "lab-results"))
	require.NoError(t, err)

	// 用户既有的自定义条目，preset未引用的应被清掉
	_, err = entries.CreateEntry(ctx, &domain.TabConfigEntry{
		Scope:        domain.ScopeUser,
		ScopeID:      nullStr("u1"),
		Key:          "stale",
		DisplayOrder: nullInt(999),
	})
	require.NoError(t, err)

	require.NoError(t, presets.CreatePreset(ctx, &domain.Preset{
		Name:       "Doctor's View",
		TargetRole: "Doctor",
		Entries: []domain.EntrySeed{
			{Key: "labs", DisplayOrder: 5},
			{Key: "vitals", DisplayOrder: 8},
		},
	}))

	require.NoError(t, svc.ApplyPreset(ctx, ApplyPresetRequest{
		Actor: "admin", UserID: "u1", PresetName: "Doctor's View",
	}))

	userEntries, err := entries.ListEntries(ctx, domain.ScopeUser, "u1")
	require.NoError(t, err)
	require.Len(t, userEntries, 2)

	// apply后解析：user层display_order覆盖system层
	tabs, err := resolver.Resolve(ctx, domain.ViewerContext{OrganizationID: "o", RoleID: "r", UserID: "u1"})
	require.NoError(t, err)
	keys := make([]string, 0, len(tabs))
	for _, tab := range tabs {
		keys = append(keys, tab.Key)
	}
	require.Equal(t, []string{"overview", "labs", "vitals"}, keys)
}

func TestApplyPreset_NotFound(t *testing.T) {
	ctx := context.Background()
	_, _, svc, _ := newPresetFixture(t)

	err := svc.ApplyPreset(ctx, ApplyPresetRequest{
		Actor: "admin", UserID: "u1", PresetName: "missing",
	})
	require.ErrorIs(t, err, domain.ErrPresetNotFound)
}

func TestApplyPreset_InvalidSeedLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	entries, presets, svc, _ := newPresetFixture(t)

	_, err := entries.CreateEntry(ctx, &domain.TabConfigEntry{
		Scope:        domain.ScopeUser,
		ScopeID:      nullStr("u1"),
		Key:          "notes",
		DisplayOrder: nullInt(100),
	})
	require.NoError(t, err)

	// CreatePreset不验证seeds，坏preset在apply时才被拦截
	require.NoError(t, presets.CreatePreset(ctx, &domain.Preset{
		Name: "broken",
		Entries: []domain.EntrySeed{
			{Key: "vitals", DisplayOrder: 5},
			{Key: "bad", Icon: "dragon", DisplayOrder: 8},
		},
	}))

	before, err := entries.ListEntries(ctx, domain.ScopeUser, "u1")
	require.NoError(t, err)

	err = svc.ApplyPreset(ctx, ApplyPresetRequest{
		Actor: "admin", UserID: "u1", PresetName: "broken",
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	after, err := entries.ListEntries(ctx, domain.ScopeUser, "u1")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestApplyPreset_MandatoryHideRejected(t *testing.T) {
	ctx := context.Background()
	entries, presets, svc, _ := newPresetFixture(t)

	_, err := entries.CreateEntry(ctx, sysTab("overview", 0, true, "resident-overview"))
	require.NoError(t, err)

	hidden := false
	require.NoError(t, presets.CreatePreset(ctx, &domain.Preset{
		Name: "hide-overview",
		Entries: []domain.EntrySeed{
			{Key: "overview", IsVisible: &hidden, DisplayOrder: 0},
		},
	}))

	err = svc.ApplyPreset(ctx, ApplyPresetRequest{
		Actor: "admin", UserID: "u1", PresetName: "hide-overview",
	})
	require.ErrorIs(t, err, domain.ErrProtected)
}

func TestApplyPreset_DuplicateSeedKeysRejected(t *testing.T) {
	ctx := context.Background()
	_, presets, svc, _ := newPresetFixture(t)

	require.NoError(t, presets.CreatePreset(ctx, &domain.Preset{
		Name: "dup",
		Entries: []domain.EntrySeed{
			{Key: "vitals", DisplayOrder: 5},
			{Key: "vitals", DisplayOrder: 8},
		},
	}))

	err := svc.ApplyPreset(ctx, ApplyPresetRequest{
		Actor: "admin", UserID: "u1", PresetName: "dup",
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestApplyPreset_PermissionDenied(t *testing.T) {
	ctx := context.Background()
	entries := repository.NewMemoryEntriesRepository()
	presets := repository.NewMemoryPresetsRepository()
	svc := NewPresetService(presets, entries,
		NewStaticRegistry(DefaultIcons...),
		NewStaticRegistry(DefaultRenderers...),
		denyAuthz{}, nil, zap.NewNop())

	err := svc.ApplyPreset(ctx, ApplyPresetRequest{
		Actor: "intruder", UserID: "u1", PresetName: "any",
	})
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestCreatePreset_DuplicateName(t *testing.T) {
	ctx := context.Background()
	_, presets, _, _ := newPresetFixture(t)

	p := &domain.Preset{Name: "Doctor's View", Entries: []domain.EntrySeed{{Key: "labs"}}}
	require.NoError(t, presets.CreatePreset(ctx, p))
	require.ErrorIs(t, presets.CreatePreset(ctx, p), domain.ErrDuplicateKey)
}
