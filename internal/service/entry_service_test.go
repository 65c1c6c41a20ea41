package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"wisefido-tabs/internal/domain"
	"wisefido-tabs/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// denyAuthz 全部拒绝的授权决策
type denyAuthz struct{}

func (denyAuthz) CanMutate(context.Context, string, domain.Scope, string) (bool, error) {
	return false, nil
}

func newEntryFixture(t *testing.T) (*repository.MemoryEntriesRepository, *EntryService) {
	t.Helper()
	repo := repository.NewMemoryEntriesRepository()
	svc := NewEntryService(repo,
		NewStaticRegistry(DefaultIcons...),
		NewStaticRegistry(DefaultRenderers...),
		AllowAllAuthz{}, nil, zap.NewNop())
	return repo, svc
}

func TestEntryService_CreateMarkdownTab(t *testing.T) {
	ctx := context.Background()
	_, svc := newEntryFixture(t)

	visible := true
	order := int64(1000)
	entry, err := svc.CreateEntry(ctx, CreateEntryRequest{
		Actor:        "u1",
		Scope:        domain.ScopeUser,
		ScopeID:      "u1",
		Key:          "notes-7f3a",
		Label:        "My Notes",
		Icon:         "notes",
		ContentType:  domain.ContentTypeMarkdown,
		Settings:     json.RawMessage(`{"markdown":"# Shift notes"}`),
		IsVisible:    &visible,
		DisplayOrder: &order,
	})
	require.NoError(t, err)
	require.Equal(t, "notes-7f3a", entry.Key)
	require.Equal(t, 1, entry.Version)
	require.Equal(t, "u1", entry.CreatedBy)
}

func TestEntryService_CreateSystemRejected(t *testing.T) {
	ctx := context.Background()
	_, svc := newEntryFixture(t)

	_, err := svc.CreateEntry(ctx, CreateEntryRequest{
		Actor: "admin",
		Scope: domain.ScopeSystem,
		Key:   "overview",
	})
	require.ErrorIs(t, err, domain.ErrProtected)
}

func TestEntryService_CreateValidation(t *testing.T) {
	ctx := context.Background()
	_, svc := newEntryFixture(t)

	cases := []struct {
		name string
		req  CreateEntryRequest
	}{
		{"missing scope_id", CreateEntryRequest{Actor: "a", Scope: domain.ScopeRole, Key: "ok"}},
		{"bad key uppercase", CreateEntryRequest{Actor: "a", Scope: domain.ScopeUser, ScopeID: "u1", Key: "Bad-Key"}},
		{"bad key empty", CreateEntryRequest{Actor: "a", Scope: domain.ScopeUser, ScopeID: "u1", Key: ""}},
		{"unknown icon", CreateEntryRequest{Actor: "a", Scope: domain.ScopeUser, ScopeID: "u1", Key: "ok", Icon: "dragon"}},
		{"settings without content_type", CreateEntryRequest{
			Actor: "a", Scope: domain.ScopeUser, ScopeID: "u1", Key: "ok",
			Settings: json.RawMessage(`{"markdown":"x"}`),
		}},
		{"unknown content_type", CreateEntryRequest{
			Actor: "a", Scope: domain.ScopeUser, ScopeID: "u1", Key: "ok",
			ContentType: "video", Settings: json.RawMessage(`{}`),
		}},
		{"builtin without rendererId", CreateEntryRequest{
			Actor: "a", Scope: domain.ScopeUser, ScopeID: "u1", Key: "ok",
			ContentType: domain.ContentTypeBuiltin, Settings: json.RawMessage(`{"foo":1}`),
		}},
		{"unknown renderer", CreateEntryRequest{
			Actor: "a", Scope: domain.ScopeUser, ScopeID: "u1", Key: "ok",
			ContentType: domain.ContentTypeBuiltin, Settings: json.RawMessage(`{"rendererId":"nope"}`),
		}},
		{"markdown without settings", CreateEntryRequest{
			Actor: "a", Scope: domain.ScopeUser, ScopeID: "u1", Key: "ok",
			ContentType: domain.ContentTypeMarkdown,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateEntry(ctx, tc.req)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestEntryService_HideMandatoryRejected(t *testing.T) {
	ctx := context.Background()
	repo, svc := newEntryFixture(t)

	// system底座由初始化工具播种，测试直接写Repository
	_, err := repo.CreateEntry(ctx, sysTab("overview", 0, true, "resident-overview"))
	require.NoError(t, err)

	hidden := false
	_, err = svc.CreateEntry(ctx, CreateEntryRequest{
		Actor: "u1", Scope: domain.ScopeUser, ScopeID: "u1",
		Key: "overview", IsVisible: &hidden,
	})
	require.ErrorIs(t, err, domain.ErrProtected)

	// 非mandatory key可以隐藏
	_, err = repo.CreateEntry(ctx, sysTab("billing", 20, false, "billing-summary"))
	require.NoError(t, err)
	_, err = svc.CreateEntry(ctx, CreateEntryRequest{
		Actor: "u1", Scope: domain.ScopeUser, ScopeID: "u1",
		Key: "billing", IsVisible: &hidden,
	})
	require.NoError(t, err)
}

// vanishingRepo 创建后条目立刻被并发删除的Repository
type vanishingRepo struct {
	*repository.MemoryEntriesRepository
}

func (r *vanishingRepo) GetEntry(context.Context, domain.Scope, string, string) (*domain.TabConfigEntry, error) {
	return nil, fmt.Errorf("%w: entry vanished", domain.ErrNotFound)
}

// 创建的返回值来自插入本身，创建后即刻被并发删除不影响成功结果
func TestEntryService_CreateUnaffectedByConcurrentDelete(t *testing.T) {
	ctx := context.Background()
	repo := &vanishingRepo{MemoryEntriesRepository: repository.NewMemoryEntriesRepository()}
	svc := NewEntryService(repo,
		NewStaticRegistry(DefaultIcons...),
		NewStaticRegistry(DefaultRenderers...),
		AllowAllAuthz{}, nil, zap.NewNop())

	entry, err := svc.CreateEntry(ctx, CreateEntryRequest{
		Actor: "u1", Scope: domain.ScopeUser, ScopeID: "u1",
		Key: "notes", ContentType: domain.ContentTypeMarkdown,
		Settings: json.RawMessage(`{"markdown":"# hi"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, entry.EntryID)
	require.Equal(t, 1, entry.Version)
	require.Equal(t, "notes", entry.Key)
}

func TestEntryService_UpdateVersionedFlow(t *testing.T) {
	ctx := context.Background()
	_, svc := newEntryFixture(t)

	visible := true
	entry, err := svc.CreateEntry(ctx, CreateEntryRequest{
		Actor: "u1", Scope: domain.ScopeUser, ScopeID: "u1",
		Key: "notes", ContentType: domain.ContentTypeMarkdown,
		Settings: json.RawMessage(`{"markdown":"v1"}`), IsVisible: &visible,
	})
	require.NoError(t, err)

	label := "Renamed"
	updated, err := svc.UpdateEntry(ctx, UpdateEntryRequest{
		Actor: "u1", Scope: domain.ScopeUser, ScopeID: "u1", Key: "notes",
		Patch:           domain.EntryPatch{Label: &label},
		ExpectedVersion: entry.Version,
	})
	require.NoError(t, err)
	require.Equal(t, entry.Version+1, updated.Version)

	// 过期版本被拒绝
	stale := "Stale"
	_, err = svc.UpdateEntry(ctx, UpdateEntryRequest{
		Actor: "u1", Scope: domain.ScopeUser, ScopeID: "u1", Key: "notes",
		Patch:           domain.EntryPatch{Label: &stale},
		ExpectedVersion: entry.Version,
	})
	require.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestEntryService_UpdateContentCrossCheck(t *testing.T) {
	ctx := context.Background()
	_, svc := newEntryFixture(t)

	entry, err := svc.CreateEntry(ctx, CreateEntryRequest{
		Actor: "u1", Scope: domain.ScopeUser, ScopeID: "u1",
		Key: "notes", ContentType: domain.ContentTypeMarkdown,
		Settings: json.RawMessage(`{"markdown":"v1"}`),
	})
	require.NoError(t, err)

	// 只改contentType不改settings：组合后形状不符
	builtinType := domain.ContentTypeBuiltin
	_, err = svc.UpdateEntry(ctx, UpdateEntryRequest{
		Actor: "u1", Scope: domain.ScopeUser, ScopeID: "u1", Key: "notes",
		Patch:           domain.EntryPatch{ContentType: &builtinType},
		ExpectedVersion: entry.Version,
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	// contentType与settings一起改则通过
	settings := json.RawMessage(`{"rendererId":"lab-results"}`)
	_, err = svc.UpdateEntry(ctx, UpdateEntryRequest{
		Actor: "u1", Scope: domain.ScopeUser, ScopeID: "u1", Key: "notes",
		Patch:           domain.EntryPatch{ContentType: &builtinType, Settings: settings},
		ExpectedVersion: entry.Version,
	})
	require.NoError(t, err)
}

func TestEntryService_EmptyPatchRejected(t *testing.T) {
	ctx := context.Background()
	_, svc := newEntryFixture(t)

	_, err := svc.UpdateEntry(ctx, UpdateEntryRequest{
		Actor: "u1", Scope: domain.ScopeUser, ScopeID: "u1", Key: "notes",
		ExpectedVersion: 1,
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestEntryService_PermissionDenied(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryEntriesRepository()
	svc := NewEntryService(repo,
		NewStaticRegistry(DefaultIcons...),
		NewStaticRegistry(DefaultRenderers...),
		denyAuthz{}, nil, zap.NewNop())

	_, err := svc.CreateEntry(ctx, CreateEntryRequest{
		Actor: "intruder", Scope: domain.ScopeUser, ScopeID: "u1", Key: "notes",
	})
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	label := "x"
	_, err = svc.UpdateEntry(ctx, UpdateEntryRequest{
		Actor: "intruder", Scope: domain.ScopeUser, ScopeID: "u1", Key: "notes",
		Patch: domain.EntryPatch{Label: &label}, ExpectedVersion: 1,
	})
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	err = svc.DeleteEntry(ctx, DeleteEntryRequest{
		Actor: "intruder", Scope: domain.ScopeUser, ScopeID: "u1", Key: "notes",
	})
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	err = svc.Reorder(ctx, ReorderRequest{
		Actor: "intruder", Scope: domain.ScopeUser, ScopeID: "u1",
		Pairs: []domain.KeyOrder{{Key: "notes", DisplayOrder: 1}},
	})
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestEntryService_SystemReorderRejected(t *testing.T) {
	ctx := context.Background()
	_, svc := newEntryFixture(t)

	err := svc.Reorder(ctx, ReorderRequest{
		Actor: "admin", Scope: domain.ScopeSystem,
		Pairs: []domain.KeyOrder{{Key: "overview", DisplayOrder: 5}},
	})
	require.ErrorIs(t, err, domain.ErrProtected)
}

func TestEntryService_MarkdownSizeLimit(t *testing.T) {
	ctx := context.Background()
	_, svc := newEntryFixture(t)

	big := make([]byte, domain.MarkdownMaxBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	raw, err := json.Marshal(map[string]string{"markdown": string(big)})
	require.NoError(t, err)

	_, err = svc.CreateEntry(ctx, CreateEntryRequest{
		Actor: "u1", Scope: domain.ScopeUser, ScopeID: "u1",
		Key: "notes", ContentType: domain.ContentTypeMarkdown, Settings: raw,
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}
